// Package sse writes Server-Sent Events to an HTTP response, flushing
// after every event so a downstream client sees each one as soon as
// it is produced.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Writer writes one SSE stream. It flushes after every write when the
// underlying io.Writer supports http.Flusher.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w, setting the standard SSE response headers when w
// is an http.ResponseWriter.
func NewWriter(w io.Writer) *Writer {
	if rw, ok := w.(http.ResponseWriter); ok {
		h := rw.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
	}
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// WriteEvent writes one named event with a JSON-encoded payload.
func (w *Writer) WriteEvent(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sse: marshal event %q: %w", event, err)
	}
	if event != "" {
		if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.flush()
	return nil
}

// WriteDone writes the sentinel `data: [DONE]` frame that terminates
// the stream.
func (w *Writer) WriteDone() error {
	if _, err := fmt.Fprint(w.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
