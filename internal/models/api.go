package models

import (
	"encoding/json"
)

// --- Request Structs ---

// IncomingMessage is a single message as sent by the chat client.
type IncomingMessage struct {
	Role    Role   `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // The message text
}

// ConversationRequest defines the expected body for POST /conversation.
// Messages is kept raw so a non-array value can be told apart from a missing one.
type ConversationRequest struct {
	Messages json.RawMessage `json:"messages"`
	ThreadID string          `json:"thread_id,omitempty"` // Optional, defaults to the configured thread
}

// --- Response Structs ---

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Source is a citation attached to a stream event.
type Source struct {
	Content string `json:"content"`          // The query that produced the result
	Result  any    `json:"result,omitempty"` // Retrieved documents, when available
}

// StreamEvent is the JSON payload of one server-sent event.
type StreamEvent struct {
	Content string   `json:"content"`
	Type    string   `json:"type"`
	Sources []Source `json:"sources"`
}

// StreamErrorEvent is the terminal payload written when a run fails.
type StreamErrorEvent struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// ThreadResponse defines the representation of a thread's history.
type ThreadResponse struct {
	ThreadID string    `json:"thread_id"`
	Messages []Message `json:"messages"`
}
