package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ratechat-backend/internal/crypto"
)

// ErrMissingSetting is returned by Validate when a required setting is empty.
var ErrMissingSetting = errors.New("missing required setting")

// DefaultThread is the thread used when a request names none.
const DefaultThread = "conversation_1"

// Vector index backends.
const (
	VectorStorePinecone = "pinecone"
	VectorStoreQdrant   = "qdrant"
	VectorStorePgVector = "pgvector"
	VectorStoreMemory   = "memory"
)

// Session store backends.
const (
	SessionStoreMemory   = "memory"
	SessionStorePostgres = "postgres"
	SessionStoreDynamoDB = "dynamodb"
)

// Config holds application configuration values loaded from environment variables
// and an optional YAML file.
type Config struct {
	HTTPPort        string
	AllowedOrigins  []string
	JWTSecret       string
	DefaultThreadID string

	OpenAIAPIKey      string
	OpenAIAPIKeyParam string // SSM parameter name, used when OpenAIAPIKey is empty
	OpenAIBaseURL     string
	ChatModel         string
	EmbeddingModel    string
	EmbeddingDim      int // used when creating a Qdrant collection
	Temperature       float64
	LLMTimeout        time.Duration

	VectorStore       string
	PineconeAPIKey    string
	PineconeIndexHost string
	QdrantURL         string
	QdrantAPIKey      string
	QdrantCollection  string
	DatabaseURL       string
	PgVectorTable     string
	Namespace         string
	TopK              int
	SeedFile          string // JSONL documents indexed at startup

	Instructions  string
	MaxToolRounds int

	SessionStore  string
	DynamoDBTable string
	ThreadTTL     time.Duration // DynamoDB only; 0 keeps threads forever
	EncryptionKey []byte        // AES-256 key for stored messages, nil disables encryption

	SampleQuestions []string
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first, then the YAML file named by CONFIG_FILE.
// Environment variables win over the YAML file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Could not load .env file. Using environment variables only.", err)
	}

	file := defaultAssistantFile()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := LoadAssistantFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
		file = loaded
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "3001"),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "*")),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		DefaultThreadID: getEnv("DEFAULT_THREAD_ID", DefaultThread),

		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIAPIKeyParam: os.Getenv("OPENAI_API_KEY_PARAM"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		ChatModel:         getEnv("CHAT_MODEL", file.ChatModel),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", file.EmbeddingModel),
		EmbeddingDim:      getEnvInt("EMBEDDING_DIMENSION", 1536),
		Temperature:       getEnvFloat("LLM_TEMPERATURE", file.Temperature),
		LLMTimeout:        time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,

		VectorStore:       strings.ToLower(getEnv("VECTOR_STORE", VectorStorePinecone)),
		PineconeAPIKey:    os.Getenv("PINECONE_API_KEY"),
		PineconeIndexHost: os.Getenv("PINECONE_INDEX_HOST"),
		QdrantURL:         getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:      os.Getenv("QDRANT_API_KEY"),
		QdrantCollection:  getEnv("QDRANT_COLLECTION", "rates"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		PgVectorTable:     getEnv("PGVECTOR_TABLE", "rate_chunks"),
		Namespace:         getEnv("VECTOR_NAMESPACE", file.Namespace),
		TopK:              getEnvInt("RETRIEVAL_TOP_K", file.TopK),
		SeedFile:          getEnv("SEED_FILE", ""),

		Instructions:  file.Instructions,
		MaxToolRounds: getEnvInt("MAX_TOOL_ROUNDS", file.MaxToolRounds),

		SessionStore:  strings.ToLower(getEnv("SESSION_STORE", SessionStoreMemory)),
		DynamoDBTable: getEnv("DYNAMODB_TABLE", "ratechat-threads"),
		ThreadTTL:     time.Duration(getEnvInt("THREAD_TTL_HOURS", 0)) * time.Hour,

		SampleQuestions: file.SampleQuestions,
	}

	if keyHex := os.Getenv("ENCRYPTION_KEY"); keyHex != "" {
		key, err := crypto.ParseKey(keyHex)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
		cfg.EncryptionKey = key
	}

	log.Printf("Loaded config: Port=%s, VectorStore=%s, SessionStore=%s, ChatModel=%s, Namespace=%s, TopK=%d, Auth=%t, Encryption=%t, OpenAIKey=***",
		cfg.HTTPPort, cfg.VectorStore, cfg.SessionStore, cfg.ChatModel, cfg.Namespace, cfg.TopK, cfg.JWTSecret != "", cfg.EncryptionKey != nil)

	return cfg, nil
}

// Validate checks that every setting required by the selected backends is present.
// Secrets from SSM must be resolved before calling it.
func (c *Config) Validate() error {
	var missing []string
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	require("HTTP_PORT", c.HTTPPort)
	require("OPENAI_API_KEY", c.OpenAIAPIKey)
	require("VECTOR_NAMESPACE", c.Namespace)

	switch c.VectorStore {
	case VectorStorePinecone:
		require("PINECONE_API_KEY", c.PineconeAPIKey)
		require("PINECONE_INDEX_HOST", c.PineconeIndexHost)
	case VectorStoreQdrant:
		require("QDRANT_URL", c.QdrantURL)
		require("QDRANT_COLLECTION", c.QdrantCollection)
	case VectorStorePgVector:
		require("DATABASE_URL", c.DatabaseURL)
		require("PGVECTOR_TABLE", c.PgVectorTable)
	case VectorStoreMemory:
	default:
		return fmt.Errorf("unknown VECTOR_STORE %q", c.VectorStore)
	}

	switch c.SessionStore {
	case SessionStoreMemory:
	case SessionStorePostgres:
		require("DATABASE_URL", c.DatabaseURL)
	case SessionStoreDynamoDB:
		require("DYNAMODB_TABLE", c.DynamoDBTable)
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	if c.TopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.TopK)
	}
	if c.MaxToolRounds <= 0 {
		return fmt.Errorf("MAX_TOOL_ROUNDS must be positive, got %d", c.MaxToolRounds)
	}
	return nil
}

// NeedsAWS reports whether an AWS client configuration has to be loaded.
func (c *Config) NeedsAWS() bool {
	return c.SessionStore == SessionStoreDynamoDB || (c.OpenAIAPIKey == "" && c.OpenAIAPIKeyParam != "")
}

// NeedsPostgres reports whether a database pool has to be opened.
func (c *Config) NeedsPostgres() bool {
	return c.SessionStore == SessionStorePostgres || c.VectorStore == VectorStorePgVector
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Env variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, strconv.Itoa(fallback))
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("Warning: Invalid %s '%s', using default %d. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := getEnv(key, strconv.FormatFloat(fallback, 'f', -1, 64))
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s', using default %g. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return f
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
