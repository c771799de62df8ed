package pinecone

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndex_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)
		require.Equal(t, "pc-key", r.Header.Get("Api-Key"))
		require.Equal(t, apiVersion, r.Header.Get("X-Pinecone-API-Version"))

		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "urdb-data", req.Namespace)
		require.Equal(t, 3, req.TopK)
		require.True(t, req.IncludeMetadata)

		_, _ = io.WriteString(w, `{"matches":[
			{"id":"r1","score":0.91,"metadata":{"text":"Rate A","source":"URDB"}},
			{"id":"r2","score":0.80,"metadata":{"text":"Rate B"}}]}`)
	}))
	defer srv.Close()

	idx, err := NewIndex(Config{IndexHost: srv.URL, APIKey: "pc-key"})
	require.NoError(t, err)

	matches, err := idx.Query(context.Background(), "urdb-data", []float32{0.1, 0.2}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "r1", matches[0].ID)
	require.InDelta(t, 0.91, matches[0].Score, 1e-9)
	require.Equal(t, "Rate A", matches[0].Metadata["text"])
}

func TestIndex_QueryFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	idx, err := NewIndex(Config{IndexHost: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = idx.Query(context.Background(), "ns", []float32{1}, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestNewIndex_AddsScheme(t *testing.T) {
	idx, err := NewIndex(Config{IndexHost: "my-index.svc.pinecone.io/", APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, "https://my-index.svc.pinecone.io", idx.host)

	_, err = NewIndex(Config{APIKey: "k"})
	require.Error(t, err)
}
