package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"ratechat-backend/internal/models"
	"ratechat-backend/internal/sse"
)

// Event is one server-sent event of a conversation stream. Error and Details are
// only set on the terminal error event.
type Event struct {
	Content string   `json:"content"`
	Type    string   `json:"type"`
	Sources []Source `json:"sources"`
	Error   string   `json:"error"`
	Details string   `json:"details"`
}

// Source is a citation attached to a tool event.
type Source struct {
	Content string                     `json:"content"`
	Result  []models.RetrievedDocument `json:"result"`
}

// Client posts conversations to the backend and reads the event stream.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the backend at baseURL. token may be empty
// when the server runs without authentication.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// Send posts the messages and calls fn for every event until the stream ends.
// A non-200 answer is returned as an error carrying the server's message.
func (c *Client) Send(ctx context.Context, threadID string, messages []models.IncomingMessage, fn func(Event) error) error {
	payload := struct {
		Messages []models.IncomingMessage `json:"messages"`
		ThreadID string                   `json:"thread_id,omitempty"`
	}{Messages: messages, ThreadID: threadID}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/conversation", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr models.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return sse.NewReader(resp.Body).Each(func(data json.RawMessage) error {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("WARN [ChatClient] skipping event: %v: %v", sse.ErrMalformedEvent, err)
			return nil
		}
		return fn(ev)
	})
}
