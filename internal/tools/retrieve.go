package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"ratechat-backend/internal/models"
	"ratechat-backend/internal/retrieval"
)

const (
	RetrieveToolName = "retrieve"
	DefaultNamespace = "urdb-data"
	DefaultTopK      = 3
)

var retrieveSchema = json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)

// RetrieveTool searches the utility-rate index for documents matching a query.
type RetrieveTool struct {
	store     retrieval.DocumentStore
	namespace string
	k         int
}

func NewRetrieveTool(store retrieval.DocumentStore, namespace string, k int) *RetrieveTool {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if k <= 0 {
		k = DefaultTopK
	}
	return &RetrieveTool{store: store, namespace: namespace, k: k}
}

func (t *RetrieveTool) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        RetrieveToolName,
		Description: "Retrieve utility rate information based on a query.",
		Parameters:  retrieveSchema,
	}
}

type retrieveArgs struct {
	Query string `json:"query"`
}

// Invoke runs the search. When the store is unavailable it returns empty content
// and an empty artifact together with the error.
func (t *RetrieveTool) Invoke(ctx context.Context, args json.RawMessage) (Result, error) {
	var parsed retrieveArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if strings.TrimSpace(parsed.Query) == "" {
		return Result{}, fmt.Errorf("%w: query is required", ErrInvalidArguments)
	}

	docs, err := t.store.Search(ctx, t.namespace, parsed.Query, t.k)
	if err != nil {
		return Result{Content: "", Artifact: []models.RetrievedDocument{}}, err
	}
	log.Printf("[RetrieveTool] query=%q documents=%d", parsed.Query, len(docs))
	return Result{Content: SerializeDocuments(docs), Artifact: docs}, nil
}

// SerializeDocuments renders documents as the text handed to the model.
func SerializeDocuments(docs []models.RetrievedDocument) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, fmt.Sprintf("Source: %s\nContent: %s", doc.SourceID, doc.Text))
	}
	return strings.Join(parts, "\n")
}

// QueryArgument extracts the "query" field from tool arguments, falling back
// to the raw arguments text.
func QueryArgument(args json.RawMessage) string {
	var parsed retrieveArgs
	if err := json.Unmarshal(args, &parsed); err == nil && parsed.Query != "" {
		return parsed.Query
	}
	return string(args)
}

// QueryArguments builds the arguments of a retrieve call for query.
func QueryArguments(query string) json.RawMessage {
	raw, err := json.Marshal(retrieveArgs{Query: query})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
