package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratechat-backend/internal/api"
	"ratechat-backend/internal/config"
	"ratechat-backend/internal/crypto"
	"ratechat-backend/internal/handlers"
	"ratechat-backend/internal/llm"
	"ratechat-backend/internal/paramstore"
	"ratechat-backend/internal/retrieval"
	"ratechat-backend/internal/services"
	"ratechat-backend/internal/store"
	dynamostore "ratechat-backend/internal/store/dynamodb"
	"ratechat-backend/internal/store/postgres"
	"ratechat-backend/internal/tools"
	"ratechat-backend/internal/vectorstore"
	"ratechat-backend/internal/vectorstore/memory"
	"ratechat-backend/internal/vectorstore/pgvector"
	"ratechat-backend/internal/vectorstore/pinecone"
	"ratechat-backend/internal/vectorstore/qdrant"
)

func main() {
	log.Println("Starting RateChat Backend...")

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	setupCtx, setupCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer setupCancel()

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		awsCfg, err = awsconfig.LoadDefaultConfig(setupCtx)
		if err != nil {
			log.Fatalf("FATAL: Unable to load AWS configuration: %v", err)
		}
		log.Printf("AWS configuration loaded (region %s).", awsCfg.Region)
	}

	if cfg.OpenAIAPIKey == "" && cfg.OpenAIAPIKeyParam != "" {
		params, err := paramstore.New(ssm.NewFromConfig(awsCfg))
		if err != nil {
			log.Fatalf("FATAL: Unable to create parameter store client: %v", err)
		}
		if err := cfg.ResolveSecrets(setupCtx, params); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: Invalid configuration: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	// 2. Initialize Database Connection Pool (only when a postgres backend is selected)
	var dbpool *pgxpool.Pool
	if cfg.NeedsPostgres() {
		dbpool, err = pgxpool.New(setupCtx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("FATAL: Unable to create database connection pool: %v\n", err)
		}
		defer dbpool.Close()

		if err := dbpool.Ping(setupCtx); err != nil {
			log.Fatalf("FATAL: Unable to ping database: %v\n", err)
		}
		log.Println("Database connection pool established and pinged successfully.")
	}

	// 3. Initialize Dependencies (Stores, Clients, Services, Handlers)
	threads, err := newThreadStore(setupCtx, cfg, dbpool, awsCfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize session store: %v", err)
	}
	log.Printf("Session store initialized (%s).", cfg.SessionStore)

	if cfg.EncryptionKey != nil {
		aead, err := crypto.NewAESGCM(cfg.EncryptionKey)
		if err != nil {
			log.Fatalf("FATAL: Failed to create AES-GCM cipher: %v", err)
		}
		threads = store.NewSealedThreadStore(threads, aead)
		log.Println("AES-GCM cipher initialized, stored messages are encrypted.")
	}

	index, err := newVectorIndex(setupCtx, cfg, dbpool)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize vector index: %v", err)
	}
	log.Printf("Vector index initialized (%s).", cfg.VectorStore)

	llmCfg := llm.Config{BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIAPIKey, Timeout: cfg.LLMTimeout}
	chatClient, err := llm.NewChatClient(llmCfg, cfg.ChatModel, cfg.Temperature)
	if err != nil {
		log.Fatalf("FATAL: Failed to create chat client: %v", err)
	}
	embeddings, err := llm.NewEmbeddingsClient(llmCfg, cfg.EmbeddingModel)
	if err != nil {
		log.Fatalf("FATAL: Failed to create embeddings client: %v", err)
	}
	log.Println("Language model clients initialized.")

	if cfg.SeedFile != "" {
		seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Minute)
		n, err := retrieval.NewSeeder(embeddings, index, retrieval.DefaultTextKey).SeedFile(seedCtx, cfg.SeedFile, cfg.Namespace)
		seedCancel()
		if err != nil {
			log.Fatalf("FATAL: Failed to seed vector index from %s: %v", cfg.SeedFile, err)
		}
		log.Printf("Seeded %d documents from %s.", n, cfg.SeedFile)
	} else if cfg.VectorStore == config.VectorStoreMemory {
		log.Println("WARN: In-memory vector index without SEED_FILE; retrieval returns nothing.")
	}

	documents := retrieval.NewVectorDocumentStore(embeddings, index, retrieval.DefaultTextKey)
	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(tools.NewRetrieveTool(documents, cfg.Namespace, cfg.TopK))
	log.Println("ToolRegistry initialized and populated.")

	conversationService := services.NewConversationService(chatClient, toolRegistry, threads, store.NewThreadLocks(), services.ConversationConfig{
		Instructions:  cfg.Instructions,
		MaxToolRounds: cfg.MaxToolRounds,
	})
	log.Println("ConversationService initialized.")

	conversationHandler := handlers.NewConversationHandler(conversationService, cfg.DefaultThreadID)
	log.Println("ConversationHandler initialized.")

	// 4. Setup Router & Inject Dependencies
	router := api.NewRouter(api.RouterDependencies{
		ConversationHandler: conversationHandler,
		Config:              cfg,
	})
	log.Println("HTTP router configured.")

	// 5. Configure and Start HTTP Server.
	// No WriteTimeout: /conversation streams for as long as the model takes.
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting and listening on port %s", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: Could not listen on %s: %v\n", cfg.HTTPPort, err)
		}
		log.Println("Server listener routine stopped.")
	}()

	<-stopChan
	log.Println("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: Server graceful shutdown failed: %v", err)
		log.Fatal("Forcing shutdown due to error.")
	}

	log.Println("Server shutdown complete.")
}

func newThreadStore(ctx context.Context, cfg *config.Config, dbpool *pgxpool.Pool, awsCfg aws.Config) (store.ThreadStore, error) {
	switch cfg.SessionStore {
	case config.SessionStorePostgres:
		threads := postgres.NewPostgresThreadStore(dbpool)
		if err := threads.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return threads, nil
	case config.SessionStoreDynamoDB:
		return dynamostore.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable, cfg.ThreadTTL)
	case config.SessionStoreMemory:
		return store.NewMemoryThreadStore(), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

func newVectorIndex(ctx context.Context, cfg *config.Config, dbpool *pgxpool.Pool) (vectorstore.Index, error) {
	switch cfg.VectorStore {
	case config.VectorStorePinecone:
		return pinecone.NewIndex(pinecone.Config{IndexHost: cfg.PineconeIndexHost, APIKey: cfg.PineconeAPIKey, Timeout: cfg.LLMTimeout})
	case config.VectorStoreQdrant:
		index, err := qdrant.NewIndex(qdrant.Config{URL: cfg.QdrantURL, APIKey: cfg.QdrantAPIKey, Collection: cfg.QdrantCollection, Timeout: cfg.LLMTimeout})
		if err != nil {
			return nil, err
		}
		if err := index.EnsureCollection(ctx, cfg.EmbeddingDim); err != nil {
			return nil, err
		}
		return index, nil
	case config.VectorStorePgVector:
		index, err := pgvector.NewIndex(dbpool, cfg.PgVectorTable)
		if err != nil {
			return nil, err
		}
		if err := index.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return index, nil
	case config.VectorStoreMemory:
		return memory.NewIndex(), nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.VectorStore)
	}
}
