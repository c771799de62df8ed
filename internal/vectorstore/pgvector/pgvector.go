package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratechat-backend/internal/vectorstore"
)

var _ vectorstore.Index = (*Index)(nil)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Index stores vectors in a PostgreSQL table using the pgvector extension.
//
//	CREATE TABLE <table> (
//	    namespace TEXT NOT NULL,
//	    id        TEXT NOT NULL,
//	    embedding vector NOT NULL,
//	    metadata  JSONB NOT NULL DEFAULT '{}',
//	    PRIMARY KEY (namespace, id)
//	);
type Index struct {
	db    *pgxpool.Pool
	table string
}

func NewIndex(db *pgxpool.Pool, table string) (*Index, error) {
	if db == nil {
		return nil, errors.New("pgvector: nil pool")
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", table)
	}
	return &Index{db: db, table: table}, nil
}

// EnsureSchema creates the extension and table when missing.
func (s *Index) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			embedding vector NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			PRIMARY KEY (namespace, id))`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			logPgError("EnsureSchema", err)
			return fmt.Errorf("database error creating vector schema: %w", err)
		}
	}
	return nil
}

func (s *Index) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]vectorstore.Match, error) {
	if err := vectorstore.ValidateQuery(namespace, vector, topK); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE namespace = $2
		ORDER BY embedding <=> $1::vector, id
		LIMIT $3`, s.table)

	rows, err := s.db.Query(ctx, query, VectorLiteral(vector), namespace, topK)
	if err != nil {
		logPgError("Query", err)
		return nil, fmt.Errorf("database error querying vectors: %w", err)
	}
	defer rows.Close()

	var matches []vectorstore.Match
	for rows.Next() {
		var (
			m       vectorstore.Match
			rawMeta []byte
		)
		if err := rows.Scan(&m.ID, &rawMeta, &m.Score); err != nil {
			return nil, fmt.Errorf("error scanning vector row: %w", err)
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("error decoding metadata for %s: %w", m.ID, err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vector rows: %w", err)
	}
	return matches, nil
}

func (s *Index) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, id, embedding, metadata)
		VALUES ($1, $2, $3::vector, $4)
		ON CONFLICT (namespace, id) DO UPDATE
		SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`, s.table)

	batch := &pgx.Batch{}
	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", rec.ID, err)
		}
		batch.Queue(query, namespace, rec.ID, VectorLiteral(rec.Vector), meta)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		logPgError("Upsert", err)
		return fmt.Errorf("database error upserting vectors: %w", err)
	}
	log.Printf("[PgVectorIndex] Upsert: stored %d vectors in namespace %s", len(records), namespace)
	return nil
}

// VectorLiteral renders v in pgvector's text input format.
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func logPgError(op string, err error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		log.Printf("ERROR [PgVectorIndex] %s: PostgreSQL error: Code=%s, Message=%s, Detail=%s", op, pgErr.Code, pgErr.Message, pgErr.Detail)
		return
	}
	log.Printf("ERROR [PgVectorIndex] %s: %v", op, err)
}
