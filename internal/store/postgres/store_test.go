package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ratechat-backend/internal/models"
)

func TestDecodeMessages(t *testing.T) {
	msgs, err := decodeMessages(nil)
	require.NoError(t, err)
	require.NotNil(t, msgs)
	require.Empty(t, msgs)

	want := []models.Message{
		{ID: "1", Role: models.RoleUser, Content: "hi", Turn: 1, CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "2", Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c", Name: "retrieve", Arguments: json.RawMessage(`{"query":"hi"}`)}}, Turn: 1},
	}
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := decodeMessages(raw)
	require.NoError(t, err)
	require.Equal(t, want[0], got[0])
	require.Equal(t, "retrieve", got[1].ToolCalls[0].Name)

	_, err = decodeMessages([]byte(`{"not":"an array"}`))
	require.Error(t, err)
}
