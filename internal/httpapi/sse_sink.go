package httpapi

import (
	"context"

	"github.com/openresponses/orchestrator/internal/sse"
)

// sseSink adapts an sse.Writer to the orchestrator.Sink interface the
// streaming loop drives.
type sseSink struct {
	w *sse.Writer
}

func newSSESink(w *sse.Writer) *sseSink {
	return &sseSink{w: w}
}

// Send implements orchestrator.Sink.
func (s *sseSink) Send(ctx context.Context, event string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.w.WriteEvent(event, data)
}

// Done implements orchestrator.Sink.
func (s *sseSink) Done(ctx context.Context) error {
	return s.w.WriteDone()
}
