package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratechat-backend/internal/models"
	"ratechat-backend/internal/store"
)

// Compile-time check to ensure PostgresThreadStore implements store.ThreadStore
var _ store.ThreadStore = (*PostgresThreadStore)(nil)

// Schema creates the table used by PostgresThreadStore.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_threads (
    thread_id  TEXT PRIMARY KEY,
    messages   JSONB NOT NULL DEFAULT '[]'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// PostgresThreadStore keeps each thread's messages as a JSONB array in one row.
type PostgresThreadStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgresThreadStore(db *pgxpool.Pool) *PostgresThreadStore {
	return &PostgresThreadStore{db: db, now: time.Now}
}

// EnsureSchema creates the conversation_threads table if it does not exist.
func (s *PostgresThreadStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		logPgError("EnsureSchema", err)
		return fmt.Errorf("database error creating conversation_threads: %w", err)
	}
	return nil
}

const loadThread = `
SELECT messages
FROM conversation_threads
WHERE thread_id = $1;
`

// Load returns the thread's messages, or an empty slice when the thread is unknown.
func (s *PostgresThreadStore) Load(ctx context.Context, threadID string) ([]models.Message, error) {
	if threadID == "" {
		return nil, store.ErrInvalidThreadID
	}
	var raw []byte
	err := s.db.QueryRow(ctx, loadThread, threadID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []models.Message{}, nil
		}
		logPgError("Load", err)
		return nil, fmt.Errorf("database error loading thread %s: %w", threadID, err)
	}
	return decodeMessages(raw)
}

const lockThread = `
SELECT 1
FROM conversation_threads
WHERE thread_id = $1
FOR UPDATE;
`

const insertThread = `
INSERT INTO conversation_threads (thread_id, messages, updated_at)
VALUES ($1, $2::jsonb, NOW());
`

const appendToThread = `
UPDATE conversation_threads
SET messages = messages || $2::jsonb, updated_at = NOW()
WHERE thread_id = $1;
`

// Append adds messages to the thread inside a transaction that holds the row lock.
func (s *PostgresThreadStore) Append(ctx context.Context, threadID string, msgs ...models.Message) error {
	prepared, err := store.PrepareMessages(threadID, msgs, s.now())
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}
	payload, err := json.Marshal(prepared)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		logPgError("Append", err)
		return fmt.Errorf("database error starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = lockExisting(ctx, tx, threadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if _, err := tx.Exec(ctx, insertThread, threadID, payload); err != nil {
			logPgError("Append", err)
			return fmt.Errorf("database error creating thread %s: %w", threadID, err)
		}
	case err != nil:
		return err
	default:
		if _, err := tx.Exec(ctx, appendToThread, threadID, payload); err != nil {
			logPgError("Append", err)
			return fmt.Errorf("database error appending to thread %s: %w", threadID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		logPgError("Append", err)
		return fmt.Errorf("database error committing thread %s: %w", threadID, err)
	}
	log.Printf("[PostgresThreadStore] Append: stored %d messages in thread %s", len(prepared), threadID)
	return nil
}

func lockExisting(ctx context.Context, tx pgx.Tx, threadID string) error {
	var one int
	err := tx.QueryRow(ctx, lockThread, threadID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		logPgError("Append", err)
		return fmt.Errorf("database error locking thread %s: %w", threadID, err)
	}
	return nil
}

func decodeMessages(raw []byte) ([]models.Message, error) {
	msgs := []models.Message{}
	if len(raw) == 0 {
		return msgs, nil
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("failed to parse thread messages: %w", err)
	}
	return msgs, nil
}

func logPgError(op string, err error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		log.Printf("ERROR [PostgresThreadStore] %s: PostgreSQL error: Code=%s, Message=%s, Detail=%s", op, pgErr.Code, pgErr.Message, pgErr.Detail)
		return
	}
	log.Printf("ERROR [PostgresThreadStore] %s: %v", op, err)
}
