package vectorstore

import (
	"context"
	"errors"
)

// ErrInvalidQuery is returned when a query or upsert is rejected before reaching the backend.
var ErrInvalidQuery = errors.New("invalid vector query")

// Record is one vector stored in an index namespace.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Match is one similarity search hit, highest score first.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Index defines the operations every vector index backend supports.
// Query must return at most topK matches in descending score order.
type Index interface {
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	Upsert(ctx context.Context, namespace string, records []Record) error
}

// ValidateQuery checks the arguments shared by every backend's Query.
func ValidateQuery(namespace string, vector []float32, topK int) error {
	switch {
	case namespace == "":
		return errors.Join(ErrInvalidQuery, errors.New("namespace must not be empty"))
	case len(vector) == 0:
		return errors.Join(ErrInvalidQuery, errors.New("vector must not be empty"))
	case topK <= 0:
		return errors.Join(ErrInvalidQuery, errors.New("topK must be positive"))
	}
	return nil
}
