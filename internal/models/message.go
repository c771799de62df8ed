package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who produced a message in a conversation thread.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// ToolCall is a structured request from the model to invoke a named tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON object as produced by the model
}

// Message is a single turn in a conversation thread.
// This is the unit persisted by every ThreadStore implementation.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool only
	Turn       int        `json:"turn"`                   // 1-based user turn that produced this message
	CreatedAt  time.Time  `json:"created_at"`
}

// HasPendingToolCalls reports whether m is an assistant message requesting tools.
func (m Message) HasPendingToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// IsConversational reports whether m is a "real" conversational turn: a user or
// system message, or an assistant message that carries no tool calls.
func (m Message) IsConversational() bool {
	switch m.Role {
	case RoleUser, RoleSystem:
		return true
	case RoleAssistant:
		return len(m.ToolCalls) == 0
	case RoleTool:
		return false
	default:
		return false
	}
}

// EventType returns the message type reported to streaming clients.
func (m Message) EventType() string {
	switch m.Role {
	case RoleUser:
		return "human"
	case RoleAssistant:
		return "ai"
	case RoleSystem:
		return "system"
	case RoleTool:
		return "tool"
	default:
		return "message"
	}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	cloned := m
	if len(m.ToolCalls) > 0 {
		cloned.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, call := range m.ToolCalls {
			cloned.ToolCalls[i] = call
			if call.Arguments != nil {
				cloned.ToolCalls[i].Arguments = append(json.RawMessage(nil), call.Arguments...)
			}
		}
	}
	return cloned
}

// CloneMessages deep-copies a slice of messages. A nil or empty input yields nil.
func CloneMessages(src []Message) []Message {
	if len(src) == 0 {
		return nil
	}
	dst := make([]Message, len(src))
	for i, msg := range src {
		dst[i] = msg.Clone()
	}
	return dst
}

// LastTurn returns the highest turn number present in msgs, or 0.
func LastTurn(msgs []Message) int {
	last := 0
	for _, msg := range msgs {
		if msg.Turn > last {
			last = msg.Turn
		}
	}
	return last
}

// ReconcileToolCalls returns msgs with every tool call paired with its
// response. A tool message survives only inside the block that directly
// follows the assistant message issuing its call; calls without a response
// are removed, and an assistant message left with neither calls nor content
// is dropped. msgs is not modified.
func ReconcileToolCalls(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]
		switch {
		case msg.Role == RoleTool:
			// Orphan: its call block was not seen.
			continue
		case msg.HasPendingToolCalls():
			end := i + 1
			answered := make(map[string]bool)
			for ; end < len(msgs) && msgs[end].Role == RoleTool; end++ {
				answered[msgs[end].ToolCallID] = true
			}

			var calls []ToolCall
			issued := make(map[string]bool)
			for _, call := range msg.ToolCalls {
				if answered[call.ID] && !issued[call.ID] {
					calls = append(calls, call)
					issued[call.ID] = true
				}
			}
			if len(calls) > 0 || strings.TrimSpace(msg.Content) != "" {
				msg.ToolCalls = calls
				out = append(out, msg)
			}
			for k := i + 1; k < end; k++ {
				id := msgs[k].ToolCallID
				if issued[id] {
					out = append(out, msgs[k])
					delete(issued, id)
				}
			}
			i = end - 1
		default:
			out = append(out, msg)
		}
	}
	return out
}
