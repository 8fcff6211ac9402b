package sse

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEvent_WritesEventAndDataLines(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	require.NoError(t, w.WriteEvent("chunk", map[string]string{"id": "c1"}))

	body := rec.Body.String()
	assert.Contains(t, body, "event: chunk\n")
	assert.Contains(t, body, `data: {"id":"c1"}`)
	assert.Contains(t, body, "\n\n")
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestWriteDone_WritesSentinel(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	require.NoError(t, w.WriteDone())
	assert.Equal(t, "data: [DONE]\n\n", rec.Body.String())
}
