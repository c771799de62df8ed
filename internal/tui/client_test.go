package tui

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"ratechat-backend/internal/models"
)

func TestClient_SendStreamsEvents(t *testing.T) {
	var got struct {
		Messages []models.IncomingMessage `json:"messages"`
		ThreadID string                   `json:"thread_id"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversation", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"content\":\"hi\",\"type\":\"human\",\"sources\":[]}\n\n")
		_, _ = io.WriteString(w, "data: not json\n\n")
		_, _ = io.WriteString(w, "data: {\"content\":\"Source: URDB\\nContent: Rate\",\"type\":\"tool\",\"sources\":[{\"content\":\"rates\",\"result\":[{\"text\":\"Rate\",\"source_id\":\"URDB\",\"score\":0.9}]}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"content\":\"Answer\",\"type\":\"ai\",\"sources\":[]}\n\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "tok", nil)
	var events []Event
	err := client.Send(context.Background(), "t-1", []models.IncomingMessage{{Role: models.RoleUser, Content: "hi"}}, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "t-1", got.ThreadID)
	require.Len(t, got.Messages, 1)

	require.Len(t, events, 3, "malformed frame is skipped")
	require.Equal(t, "tool", events[1].Type)
	require.Equal(t, "URDB", events[1].Sources[0].Result[0].SourceID)
	require.Equal(t, "Answer", events[2].Content)
}

func TestClient_SendReportsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Invalid payload. The last message must be a user message."}`)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", nil).Send(context.Background(), "", nil, func(Event) error { return nil })
	require.ErrorContains(t, err, "400")
	require.ErrorContains(t, err, "last message must be a user message")
}
