package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_PORT", "ALLOWED_ORIGINS", "JWT_SECRET", "DEFAULT_THREAD_ID",
		"OPENAI_API_KEY", "OPENAI_API_KEY_PARAM", "OPENAI_BASE_URL", "CHAT_MODEL",
		"EMBEDDING_MODEL", "EMBEDDING_DIMENSION", "LLM_TEMPERATURE", "LLM_TIMEOUT_SECONDS", "VECTOR_STORE",
		"PINECONE_API_KEY", "PINECONE_INDEX_HOST", "QDRANT_URL", "QDRANT_API_KEY",
		"QDRANT_COLLECTION", "DATABASE_URL", "PGVECTOR_TABLE", "VECTOR_NAMESPACE",
		"RETRIEVAL_TOP_K", "MAX_TOOL_ROUNDS", "SESSION_STORE", "DYNAMODB_TABLE", "THREAD_TTL_HOURS", "ENCRYPTION_KEY", "CONFIG_FILE", "SEED_FILE",
	} {
		if v, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { _ = os.Setenv(key, v) })
		}
	}
	// keep a developer's .env out of the test
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "3001", cfg.HTTPPort)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.Equal(t, DefaultThread, cfg.DefaultThreadID)
	require.Empty(t, cfg.SeedFile)
	require.Equal(t, "gpt-4o-2024-11-20", cfg.ChatModel)
	require.Equal(t, "text-embedding-ada-002", cfg.EmbeddingModel)
	require.Equal(t, 1536, cfg.EmbeddingDim)
	require.InDelta(t, 0.2, cfg.Temperature, 1e-9)
	require.Equal(t, 60*time.Second, cfg.LLMTimeout)
	require.Equal(t, VectorStorePinecone, cfg.VectorStore)
	require.Equal(t, SessionStoreMemory, cfg.SessionStore)
	require.Equal(t, "urdb-data", cfg.Namespace)
	require.Equal(t, 3, cfg.TopK)
	require.Equal(t, 1, cfg.MaxToolRounds)
	require.Empty(t, cfg.Instructions)
	require.Nil(t, cfg.EncryptionKey)
	require.Len(t, cfg.SampleQuestions, 3)
	require.False(t, cfg.NeedsAWS())
	require.False(t, cfg.NeedsPostgres())
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "assistant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instructions: Answer in one sentence.
chat_model: file-model
temperature: 0.7
namespace: file-ns
top_k: 5
max_tool_rounds: 2
sample_questions:
  - What is a demand charge?
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CHAT_MODEL", "env-model")
	t.Setenv("RETRIEVAL_TOP_K", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, https://rates.example.org ,")
	t.Setenv("SESSION_STORE", "DynamoDB")
	t.Setenv("SEED_FILE", "rates.jsonl")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "Answer in one sentence.", cfg.Instructions)
	require.Equal(t, "env-model", cfg.ChatModel)
	require.InDelta(t, 0.7, cfg.Temperature, 1e-9)
	require.Equal(t, "file-ns", cfg.Namespace)
	require.Equal(t, 5, cfg.TopK, "invalid env value falls back to the file")
	require.Equal(t, 2, cfg.MaxToolRounds)
	require.Equal(t, []string{"What is a demand charge?"}, cfg.SampleQuestions)
	require.Equal(t, []string{"http://localhost:3000", "https://rates.example.org"}, cfg.AllowedOrigins)
	require.Equal(t, SessionStoreDynamoDB, cfg.SessionStore)
	require.Equal(t, "rates.jsonl", cfg.SeedFile)
	require.True(t, cfg.NeedsAWS())
}

func TestLoadConfig_BadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("top_k: [unclosed"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_EncryptionKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENCRYPTION_KEY", "0102")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("ENCRYPTION_KEY", "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Len(t, cfg.EncryptionKey, 32)
}

func TestLoadAssistantFile_MissingFileUsesDefaults(t *testing.T) {
	f, err := LoadAssistantFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, defaultAssistantFile(), f)
}

func validConfig() *Config {
	return &Config{
		HTTPPort:          "3001",
		OpenAIAPIKey:      "sk-test",
		VectorStore:       VectorStorePinecone,
		PineconeAPIKey:    "pc-key",
		PineconeIndexHost: "rates-abc.svc.pinecone.io",
		Namespace:         "urdb-data",
		TopK:              3,
		MaxToolRounds:     1,
		SessionStore:      SessionStoreMemory,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.OpenAIAPIKey = ""
	cfg.PineconeIndexHost = ""
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrMissingSetting)
	require.ErrorContains(t, err, "OPENAI_API_KEY")
	require.ErrorContains(t, err, "PINECONE_INDEX_HOST")

	cfg = validConfig()
	cfg.VectorStore = VectorStorePgVector
	cfg.SessionStore = SessionStorePostgres
	require.ErrorIs(t, cfg.Validate(), ErrMissingSetting)
	cfg.DatabaseURL = "postgres://localhost/rates"
	cfg.PgVectorTable = "rate_chunks"
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.NeedsPostgres())

	cfg = validConfig()
	cfg.VectorStore = "faiss"
	require.ErrorContains(t, cfg.Validate(), "unknown VECTOR_STORE")

	cfg = validConfig()
	cfg.SessionStore = "redis"
	require.ErrorContains(t, cfg.Validate(), "unknown SESSION_STORE")

	cfg = validConfig()
	cfg.TopK = 0
	require.Error(t, cfg.Validate())
}

type fakeGetter struct {
	value string
	err   error
	asked []string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.asked = append(f.asked, name)
	return f.value, f.err
}

func TestResolveSecrets(t *testing.T) {
	ctx := context.Background()

	cfg := validConfig()
	cfg.OpenAIAPIKeyParam = "/ratechat/openai"
	getter := &fakeGetter{value: "sk-from-ssm"}
	require.NoError(t, cfg.ResolveSecrets(ctx, getter))
	require.Equal(t, "sk-test", cfg.OpenAIAPIKey, "env key wins")
	require.Empty(t, getter.asked)

	cfg.OpenAIAPIKey = ""
	require.True(t, cfg.NeedsAWS())
	require.NoError(t, cfg.ResolveSecrets(ctx, getter))
	require.Equal(t, "sk-from-ssm", cfg.OpenAIAPIKey)
	require.Equal(t, []string{"/ratechat/openai"}, getter.asked)

	cfg.OpenAIAPIKey = ""
	err := cfg.ResolveSecrets(ctx, &fakeGetter{err: errors.New("AccessDenied")})
	require.ErrorContains(t, err, "AccessDenied")

	require.ErrorIs(t, cfg.ResolveSecrets(ctx, nil), ErrMissingSetting)
}
