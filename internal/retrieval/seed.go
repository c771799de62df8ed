package retrieval

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"ratechat-backend/internal/vectorstore"
)

const seedBatchSize = 64

// ErrInvalidSeed is returned for a seed line that cannot be indexed.
var ErrInvalidSeed = errors.New("invalid seed document")

// BatchEmbedder turns many texts into vectors in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SeedDocument is one line of a seed file.
type SeedDocument struct {
	ID     string `json:"id,omitempty"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	URI    string `json:"uri,omitempty"`
}

// Seeder embeds documents and upserts them into a vector index.
type Seeder struct {
	embedder BatchEmbedder
	index    vectorstore.Index
	textKey  string
}

func NewSeeder(embedder BatchEmbedder, index vectorstore.Index, textKey string) *Seeder {
	if textKey == "" {
		textKey = DefaultTextKey
	}
	return &Seeder{embedder: embedder, index: index, textKey: textKey}
}

// SeedFile indexes every document of a JSONL file into namespace and returns
// how many were written.
func (s *Seeder) SeedFile(ctx context.Context, path, namespace string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return s.Seed(ctx, f, namespace)
}

// Seed reads one JSON document per line from r. Blank lines are skipped.
// Documents without an id get one derived from their text, so seeding the
// same file twice overwrites instead of duplicating.
func (s *Seeder) Seed(ctx context.Context, r io.Reader, namespace string) (int, error) {
	if strings.TrimSpace(namespace) == "" {
		return 0, fmt.Errorf("%w: namespace must not be empty", ErrInvalidSeed)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		batch   []SeedDocument
		written int
		line    int
	)
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var doc SeedDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return written, fmt.Errorf("%w: line %d: %v", ErrInvalidSeed, line, err)
		}
		if strings.TrimSpace(doc.Text) == "" {
			return written, fmt.Errorf("%w: line %d: text is empty", ErrInvalidSeed, line)
		}
		batch = append(batch, doc)
		if len(batch) == seedBatchSize {
			if err := s.flush(ctx, namespace, batch); err != nil {
				return written, err
			}
			written += len(batch)
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return written, fmt.Errorf("read seed file: %w", err)
	}
	if len(batch) > 0 {
		if err := s.flush(ctx, namespace, batch); err != nil {
			return written, err
		}
		written += len(batch)
	}
	log.Printf("[Seeder] indexed %d documents into namespace %s", written, namespace)
	return written, nil
}

func (s *Seeder) flush(ctx context.Context, namespace string, docs []SeedDocument) error {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed seed batch: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embed seed batch: got %d vectors for %d documents", len(vectors), len(docs))
	}

	records := make([]vectorstore.Record, len(docs))
	for i, doc := range docs {
		meta := map[string]any{s.textKey: doc.Text}
		if doc.Source != "" {
			meta["source"] = doc.Source
		}
		if doc.URI != "" {
			meta["uri"] = doc.URI
		}
		records[i] = vectorstore.Record{ID: seedID(doc), Vector: vectors[i], Metadata: meta}
	}
	if err := s.index.Upsert(ctx, namespace, records); err != nil {
		return fmt.Errorf("upsert seed batch: %w", err)
	}
	return nil
}

func seedID(doc SeedDocument) string {
	if id := strings.TrimSpace(doc.ID); id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(doc.Source + "\x00" + doc.Text))
	return hex.EncodeToString(sum[:16])
}
