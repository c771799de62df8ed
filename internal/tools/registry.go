package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"ratechat-backend/internal/models"
)

var (
	// ErrToolNotFound is returned when the model requests a tool nobody registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments is returned when a tool cannot parse its arguments.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Result is the outcome of one tool invocation. Content is what the model sees;
// Artifact carries the raw data behind it (for example retrieved documents).
type Result struct {
	Content  string
	Artifact any
}

// Tool defines the standard interface for capabilities the model may call.
type Tool interface {
	// Definition describes the tool to the model.
	Definition() models.ToolDefinition

	// Invoke runs the tool with the raw JSON arguments produced by the model.
	Invoke(ctx context.Context, args json.RawMessage) (Result, error)
}

// Registry holds the mapping between tool names and their implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) {
	name := tool.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		log.Printf("WARN [ToolRegistry] Tool '%s' is already registered. Overwriting.", name)
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
	log.Printf("[ToolRegistry] Registered tool: %s", name)
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// MustGet retrieves a tool, panicking if not found.
// Useful during initialization if a tool is expected to be present.
func (r *Registry) MustGet(name string) Tool {
	tool, err := r.Get(name)
	if err != nil {
		panic(fmt.Sprintf("FATAL [ToolRegistry] %v", err))
	}
	return tool
}

// Definitions returns the declarations of all tools in registration order.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Invoke looks up the named tool and runs it.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	tool, err := r.Get(name)
	if err != nil {
		return Result{}, err
	}
	return tool.Invoke(ctx, args)
}
