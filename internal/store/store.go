package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ratechat-backend/internal/models"
)

var (
	// ErrNotFound is returned when a specific record is not found.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidThreadID is returned for blank thread ids.
	ErrInvalidThreadID = errors.New("invalid thread id")
	// ErrInvalidMessage is returned when a message cannot be stored.
	ErrInvalidMessage = errors.New("invalid message")
)

// ThreadStore defines the persistence operations for conversation threads.
// Implementations must keep messages in append order; nothing is ever reordered
// or removed.
type ThreadStore interface {
	// Load returns the thread's messages in order, or an empty slice if the
	// thread does not exist yet.
	Load(ctx context.Context, threadID string) ([]models.Message, error)

	// Append adds messages to the end of the thread, creating it if needed.
	Append(ctx context.Context, threadID string, msgs ...models.Message) error
}

// PrepareMessages validates msgs and fills in ids and timestamps that are
// missing. It returns copies; the input is left untouched.
func PrepareMessages(threadID string, msgs []models.Message, now time.Time) ([]models.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, ErrInvalidThreadID
	}
	out := make([]models.Message, len(msgs))
	for i, msg := range msgs {
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, msg.Role)
		}
		if msg.Role == models.RoleTool && msg.ToolCallID == "" {
			return nil, fmt.Errorf("%w: tool message without tool_call_id", ErrInvalidMessage)
		}
		cloned := msg.Clone()
		if cloned.ID == "" {
			cloned.ID = uuid.NewString()
		}
		if cloned.CreatedAt.IsZero() {
			cloned.CreatedAt = now.UTC()
		}
		out[i] = cloned
	}
	return out, nil
}
