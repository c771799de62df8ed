package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// AssistantFile holds the non-secret assistant settings that may be kept in a
// YAML file instead of the environment.
type AssistantFile struct {
	Instructions    string   `yaml:"instructions"`
	ChatModel       string   `yaml:"chat_model"`
	EmbeddingModel  string   `yaml:"embedding_model"`
	Temperature     float64  `yaml:"temperature"`
	Namespace       string   `yaml:"namespace"`
	TopK            int      `yaml:"top_k"`
	MaxToolRounds   int      `yaml:"max_tool_rounds"`
	SampleQuestions []string `yaml:"sample_questions"`
}

// LoadAssistantFile reads the YAML file at path. An empty path or a missing file
// yields the defaults.
func LoadAssistantFile(path string) (*AssistantFile, error) {
	if path == "" {
		return defaultAssistantFile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultAssistantFile(), nil
		}
		return nil, err
	}
	var f AssistantFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	applyAssistantDefaults(&f)
	return &f, nil
}

func defaultAssistantFile() *AssistantFile {
	f := &AssistantFile{}
	applyAssistantDefaults(f)
	return f
}

// A temperature of 0 in the file counts as unset; LLM_TEMPERATURE=0 forces it.
func applyAssistantDefaults(f *AssistantFile) {
	if f.ChatModel == "" {
		f.ChatModel = "gpt-4o-2024-11-20"
	}
	if f.EmbeddingModel == "" {
		f.EmbeddingModel = "text-embedding-ada-002"
	}
	if f.Temperature == 0 {
		f.Temperature = 0.2
	}
	if f.Namespace == "" {
		f.Namespace = "urdb-data"
	}
	if f.TopK <= 0 {
		f.TopK = 3
	}
	if f.MaxToolRounds <= 0 {
		f.MaxToolRounds = 1
	}
	if len(f.SampleQuestions) == 0 {
		f.SampleQuestions = []string{
			"What are the current renewable energy rates?",
			"Compare residential vs commercial utility rates",
			"What energy efficiency programs are available?",
		}
	}
}
