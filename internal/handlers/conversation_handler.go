package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ratechat-backend/internal/auth"
	"ratechat-backend/internal/config"
	"ratechat-backend/internal/models"
	"ratechat-backend/internal/services"
	"ratechat-backend/internal/sse"
	"ratechat-backend/pkg/httputil"
)

const (
	msgMessagesRequired = `Invalid payload. "messages" is required.`
	msgLastMustBeUser   = "Invalid payload. The last message must be a user message."
	msgProcessingFailed = "Failed to process conversation."
	maxRequestBodyBytes = 1 << 20
)

// ConversationRunner is the orchestrator as seen by the HTTP layer.
type ConversationRunner interface {
	Run(ctx context.Context, threadID string, incoming []models.IncomingMessage) <-chan services.Step
	History(ctx context.Context, threadID string) ([]models.Message, error)
}

// ConversationHandler streams orchestrator runs to HTTP clients.
type ConversationHandler struct {
	conversations   ConversationRunner
	defaultThreadID string
}

// NewConversationHandler creates a new ConversationHandler.
func NewConversationHandler(conversations ConversationRunner, defaultThreadID string) *ConversationHandler {
	if strings.TrimSpace(defaultThreadID) == "" {
		defaultThreadID = config.DefaultThread
	}
	return &ConversationHandler{conversations: conversations, defaultThreadID: defaultThreadID}
}

// HandleConversation handles POST /conversation. Validation failures are
// answered with a JSON 400; everything after that is a server-sent event stream.
func (h *ConversationHandler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	incoming, threadID, errMsg := h.parseRequest(r)
	if errMsg != "" {
		httputil.RespondError(w, http.StatusBadRequest, errMsg)
		return
	}
	threadKey := auth.ThreadKey(r.Context(), threadID)
	log.Printf("[ConversationHandler] run on thread %s with %d incoming messages", threadKey, len(incoming))

	stream := sse.NewWriter(w)
	w.WriteHeader(http.StatusOK)

	writeFailed := false
	for step := range h.conversations.Run(r.Context(), threadKey, incoming) {
		// Keep draining after a failed write so the run can finish.
		if writeFailed {
			continue
		}
		var payload any
		if step.Err != nil {
			payload = models.StreamErrorEvent{Error: msgProcessingFailed, Details: step.Err.Error()}
		} else {
			payload = toStreamEvent(step)
		}
		if err := stream.WriteJSON(payload); err != nil {
			log.Printf("ERROR [ConversationHandler] thread %s: writing event failed: %v", threadKey, err)
			writeFailed = true
		}
	}
}

// HandleGetThreadMessages handles GET /threads/{threadID}/messages.
func (h *ConversationHandler) HandleGetThreadMessages(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimSpace(chi.URLParam(r, "threadID"))
	if threadID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid thread ID")
		return
	}
	msgs, err := h.conversations.History(r.Context(), auth.ThreadKey(r.Context(), threadID))
	if err != nil {
		if errors.Is(err, services.ErrEmptyThread) {
			httputil.RespondError(w, http.StatusNotFound, "Thread not found")
			return
		}
		log.Printf("ERROR [ConversationHandler] HandleGetThreadMessages: %v", err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to load thread")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.ThreadResponse{ThreadID: threadID, Messages: msgs})
}

// parseRequest returns the incoming messages and thread id, or the message of
// the 400 response to send.
func (h *ConversationHandler) parseRequest(r *http.Request) ([]models.IncomingMessage, string, string) {
	body, err := httputil.ReadBody(r, maxRequestBodyBytes)
	if err != nil {
		log.Printf("[ConversationHandler] rejecting request body: %v", err)
		return nil, "", msgMessagesRequired
	}
	var req models.ConversationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", msgMessagesRequired
	}
	raw := bytes.TrimSpace(req.Messages)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, "", msgMessagesRequired
	}
	var incoming []models.IncomingMessage
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return nil, "", msgMessagesRequired
	}
	if err := services.ValidateIncoming(incoming); err != nil {
		return nil, "", msgLastMustBeUser
	}

	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = h.defaultThreadID
	}
	return incoming, threadID, ""
}

func toStreamEvent(step services.Step) models.StreamEvent {
	sources := step.Sources
	if sources == nil {
		sources = []models.Source{}
	}
	return models.StreamEvent{
		Content: step.Message.Content,
		Type:    step.Message.EventType(),
		Sources: sources,
	}
}
