package retrieval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"ratechat-backend/internal/models"
	"ratechat-backend/internal/vectorstore"
)

// DefaultTextKey is the metadata key holding the chunk text.
const DefaultTextKey = "text"

// ErrRetrievalUnavailable is returned when the embedder or the vector index fails.
// Callers treat it as recoverable.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentStore finds the documents most similar to a query.
type DocumentStore interface {
	Search(ctx context.Context, namespace, query string, k int) ([]models.RetrievedDocument, error)
}

var _ DocumentStore = (*VectorDocumentStore)(nil)

// VectorDocumentStore embeds the query and runs a similarity search on a vector index.
type VectorDocumentStore struct {
	embedder Embedder
	index    vectorstore.Index
	textKey  string
}

func NewVectorDocumentStore(embedder Embedder, index vectorstore.Index, textKey string) *VectorDocumentStore {
	if textKey == "" {
		textKey = DefaultTextKey
	}
	return &VectorDocumentStore{embedder: embedder, index: index, textKey: textKey}
}

// Search returns at most k documents in descending similarity order.
func (s *VectorDocumentStore) Search(ctx context.Context, namespace, query string, k int) ([]models.RetrievedDocument, error) {
	query = strings.TrimSpace(query)
	if namespace == "" || query == "" || k <= 0 {
		return nil, fmt.Errorf("%w: namespace, query and k are required", ErrRetrievalUnavailable)
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("ERROR [DocumentStore] Search: embedding failed: %v", err)
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrievalUnavailable, err)
	}

	matches, err := s.index.Query(ctx, namespace, vector, k)
	if err != nil {
		log.Printf("ERROR [DocumentStore] Search: index query failed for namespace %s: %v", namespace, err)
		return nil, fmt.Errorf("%w: query index: %w", ErrRetrievalUnavailable, err)
	}
	if len(matches) > k {
		matches = matches[:k]
	}

	docs := make([]models.RetrievedDocument, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, s.toDocument(m))
	}
	log.Printf("[DocumentStore] Search: %d documents for namespace %s", len(docs), namespace)
	return docs, nil
}

func (s *VectorDocumentStore) toDocument(m vectorstore.Match) models.RetrievedDocument {
	doc := models.RetrievedDocument{
		Text:     metadataString(m.Metadata, s.textKey),
		SourceID: metadataString(m.Metadata, "source"),
		Score:    m.Score,
	}
	if doc.SourceID == "" {
		doc.SourceID = m.ID
	}
	doc.SourceURI = metadataString(m.Metadata, "uri")
	if doc.SourceURI == "" {
		doc.SourceURI = ExtractURI(doc.Text)
	}
	return doc
}

func metadataString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ExtractURI returns the link of the first "URI:" line in text, if any.
func ExtractURI(text string) string {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "URI:"); ok {
			if uri := strings.TrimSpace(rest); uri != "" {
				return uri
			}
		}
	}
	return ""
}
