package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriter_WritesFramesAndHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	require.NoError(t, w.WriteJSON(map[string]string{"content": "hi", "type": "human"}))
	require.NoError(t, w.WriteJSON(map[string]string{"content": "yo", "type": "ai"}))

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.True(t, rec.Flushed)
	require.Equal(t,
		"data: {\"content\":\"hi\",\"type\":\"human\"}\n\ndata: {\"content\":\"yo\",\"type\":\"ai\"}\n\n",
		rec.Body.String())
}

func TestWriter_RejectsUnmarshalable(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	require.Error(t, w.WriteJSON(func() {}))
	require.Zero(t, buf.Len())
}

func TestReader_RoundTripsWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	require.NoError(t, w.WriteJSON(map[string]any{"content": "a\nb"}))
	require.NoError(t, w.WriteJSON(map[string]any{"content": "c"}))

	r := NewReader(&buf)
	first, err := r.Next()
	require.NoError(t, err)
	require.JSONEq(t, `{"content":"a\nb"}`, string(first))

	second, err := r.Next()
	require.NoError(t, err)
	require.JSONEq(t, `{"content":"c"}`, string(second))

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_SkipsCommentsAndJoinsDataLines(t *testing.T) {
	stream := ": ping 1\n\nevent: message\ndata: {\"a\":\ndata: 1}\r\n\r\n"
	r := NewReader(strings.NewReader(stream))

	data, err := r.Next()
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(data))
}

func TestReader_MalformedFrameIsRecoverable(t *testing.T) {
	stream := "data: {not json}\n\ndata: {\"ok\":true}\n\n"
	r := NewReader(strings.NewReader(stream))

	_, err := r.Next()
	require.ErrorIs(t, err, ErrMalformedEvent)

	data, err := r.Next()
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(data))
}

func TestReader_EachSkipsMalformedFrames(t *testing.T) {
	stream := "data: {\"n\":1}\n\ndata: oops\n\ndata: {\"n\":2}"
	var got []int
	err := NewReader(strings.NewReader(stream)).Each(func(raw json.RawMessage) error {
		var v struct{ N int }
		require.NoError(t, json.Unmarshal(raw, &v))
		got = append(got, v.N)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, got)
}

func TestReader_EachStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	err := NewReader(strings.NewReader("data: {}\n\ndata: {}\n\n")).Each(func(json.RawMessage) error { return stop })
	require.ErrorIs(t, err, stop)
}
