package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"ratechat-backend/internal/vectorstore"
)

var _ vectorstore.Index = (*Index)(nil)

// Index is an in-memory vector index using brute-force cosine similarity.
type Index struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]vectorstore.Record
}

func NewIndex() *Index {
	return &Index{namespaces: make(map[string]map[string]vectorstore.Record)}
}

// Upsert stores records, replacing any with the same id in the namespace.
func (s *Index) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	if namespace == "" {
		return errors.Join(vectorstore.ErrInvalidQuery, errors.New("namespace must not be empty"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]vectorstore.Record)
		s.namespaces[namespace] = ns
	}
	for _, rec := range records {
		if rec.ID == "" || len(rec.Vector) == 0 {
			return errors.Join(vectorstore.ErrInvalidQuery, errors.New("record needs an id and a vector"))
		}
		ns[rec.ID] = vectorstore.Record{
			ID:       rec.ID,
			Vector:   append([]float32(nil), rec.Vector...),
			Metadata: copyMetadata(rec.Metadata),
		}
	}
	return nil
}

func (s *Index) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]vectorstore.Match, error) {
	if err := vectorstore.ValidateQuery(namespace, vector, topK); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaces[namespace]
	matches := make([]vectorstore.Match, 0, len(ns))
	for _, rec := range ns {
		matches = append(matches, vectorstore.Match{
			ID:       rec.ID,
			Score:    cosineSimilarity(vector, rec.Vector),
			Metadata: copyMetadata(rec.Metadata),
		})
	}
	// ties broken by id so repeated queries return the same order
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func copyMetadata(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
