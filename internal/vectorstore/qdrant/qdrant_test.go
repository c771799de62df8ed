package qdrant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"ratechat-backend/internal/vectorstore"
)

func TestIndex_QueryFiltersByNamespace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/collections/rates/points/search", r.URL.Path)
		require.Equal(t, "q-key", r.Header.Get("api-key"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.EqualValues(t, 2, req["limit"])
		must := req["filter"].(map[string]any)["must"].([]any)
		cond := must[0].(map[string]any)
		require.Equal(t, "namespace", cond["key"])
		require.Equal(t, "urdb-data", cond["match"].(map[string]any)["value"])

		_, _ = io.WriteString(w, `{"result":[
			{"id":"7b1f0000-0000-0000-0000-000000000000","score":0.9,"payload":{"text":"Rate A","namespace":"urdb-data","record_id":"label-a"}},
			{"id":42,"score":0.5,"payload":{"text":"Rate B"}}]}`)
	}))
	defer srv.Close()

	idx, err := NewIndex(Config{URL: srv.URL + "/", APIKey: "q-key", Collection: "rates"})
	require.NoError(t, err)

	matches, err := idx.Query(context.Background(), "urdb-data", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "label-a", matches[0].ID)
	require.Equal(t, map[string]any{"text": "Rate A"}, matches[0].Metadata)
	require.Equal(t, "42", matches[1].ID)
}

func TestIndex_UpsertStoresNamespacePayload(t *testing.T) {
	var body struct {
		Points []struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/collections/rates/points", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	idx, err := NewIndex(Config{URL: srv.URL, Collection: "rates"})
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), "urdb-data", []vectorstore.Record{
		{ID: "label-a", Vector: []float32{1, 0}, Metadata: map[string]any{"text": "Rate A"}},
	})
	require.NoError(t, err)
	require.Len(t, body.Points, 1)
	require.Equal(t, PointID("urdb-data", "label-a"), body.Points[0].ID)
	require.Equal(t, "urdb-data", body.Points[0].Payload["namespace"])
	require.Equal(t, "label-a", body.Points[0].Payload["record_id"])
}

func TestPointID_IsStablePerNamespace(t *testing.T) {
	require.Equal(t, PointID("a", "1"), PointID("a", "1"))
	require.NotEqual(t, PointID("a", "1"), PointID("b", "1"))
}

func TestIndex_EnsureCollectionCreatesOnlyWhenMissing(t *testing.T) {
	exists := false
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/rates/exists":
			_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"exists": exists}})
		case r.Method == http.MethodPut && r.URL.Path == "/collections/rates":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			exists = true
			_, _ = io.WriteString(w, `{"result":true}`)
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	idx, err := NewIndex(Config{URL: srv.URL, Collection: "rates"})
	require.NoError(t, err)

	require.NoError(t, idx.EnsureCollection(context.Background(), 1536))
	require.EqualValues(t, 1536, created["vectors"].(map[string]any)["size"])

	created = nil
	require.NoError(t, idx.EnsureCollection(context.Background(), 1536))
	require.Nil(t, created)

	require.Error(t, idx.EnsureCollection(context.Background(), 0))
}
