package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/config/envutil"
	"github.com/openresponses/orchestrator/internal/idgen"
	"github.com/openresponses/orchestrator/internal/itemstore"
	"github.com/openresponses/orchestrator/internal/orcherrors"
	"github.com/openresponses/orchestrator/internal/toolexec"
)

// SSE event names emitted by the streaming loop (§4.10).
const (
	EventChunk = "chunk"
	EventError = "error"
)

// Sink is the downstream consumer of one streaming response. Send
// blocks until the event has been accepted, which is how the
// orchestrator's single-producer loop is backpressured by a slow
// consumer without needing to know the concrete transport.
type Sink interface {
	Send(ctx context.Context, event string, data any) error
	Done(ctx context.Context) error
}

// ErrorPayload is the body of an `error` SSE event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// StreamingChatClient opens an upstream streaming completion. The
// returned channel is closed when the stream ends; a StreamChunk with
// a non-nil Err signals a terminal transport error.
type StreamingChatClient interface {
	StreamCompletion(ctx context.Context, req chatmodel.ResponseCreateRequest) (<-chan chatmodel.StreamChunk, error)
}

// StreamingOrchestrator drives the cooperative, single-producer SSE
// loop described in §4.10.
type StreamingOrchestrator struct {
	Client       StreamingChatClient
	Store        itemstore.Store
	MaxToolCalls int
}

// NewStreaming builds a StreamingOrchestrator, sharing the same
// env-resolved max-tool-calls limit as the blocking orchestrator.
func NewStreaming(client StreamingChatClient, store itemstore.Store) *StreamingOrchestrator {
	return &StreamingOrchestrator{
		Client:       client,
		Store:        store,
		MaxToolCalls: envutil.GetIntEnv(maxToolCallsEnv, defaultMaxToolCalls),
	}
}

// Stream runs the loop to completion, always ending with Done (the
// `[DONE]` sentinel) regardless of how the loop terminates.
func (o *StreamingOrchestrator) Stream(
	ctx context.Context,
	req chatmodel.ResponseCreateRequest,
	executor *toolexec.Executor,
	metadata map[string]string,
	sink Sink,
) error {
	for {
		if err := ctx.Err(); err != nil {
			_ = sink.Done(ctx)
			return err
		}

		chunkCh, err := o.Client.StreamCompletion(ctx, req)
		if err != nil {
			_ = sink.Send(ctx, EventError, ErrorPayload{Message: err.Error()})
			return sink.Done(ctx)
		}

		chunks, streamErr := o.drain(ctx, chunkCh, sink)
		if streamErr != nil {
			_ = sink.Send(ctx, EventError, ErrorPayload{Message: streamErr.Error()})
			return sink.Done(ctx)
		}

		completion, err := reassemble(chunks)
		if err != nil {
			// Reassembly failed: stop with a synthetic minimal completion
			// for telemetry only, per §4.10 step 3.
			synthetic := chatmodel.ModelCompletion{
				ID: idgen.NewResponseID(),
				Choices: []chatmodel.Choice{{
					Message:      chatmodel.Message{Role: chatmodel.RoleAssistant},
					FinishReason: chatmodel.FinishStop,
				}},
			}
			o.maybeStoreSynthetic(ctx, req, synthetic, metadata)
			return sink.Done(ctx)
		}

		if !completion.HasToolCalls() {
			o.maybeStoreSynthetic(ctx, req, completion, metadata)
			return sink.Done(ctx)
		}

		outcome, err := executor.Handle(ctx, completion, req)
		if err != nil {
			_ = sink.Send(ctx, EventError, ErrorPayload{Message: err.Error()})
			return sink.Done(ctx)
		}

		switch out := outcome.(type) {
		case toolexec.TerminateOutcome:
			finalText := ""
			if msg, ok := out.FinalCompletion.LastAssistantMessage(); ok {
				finalText = msg.Content
			}
			finalChunk := chatmodel.StreamChunk{
				ID: out.FinalCompletion.ID,
				Choices: []chatmodel.StreamChoice{{
					Index:        0,
					Delta:        chatmodel.StreamDelta{Content: finalText},
					FinishReason: chatmodel.FinishStop,
				}},
			}
			if err := sink.Send(ctx, EventChunk, finalChunk); err != nil {
				_ = sink.Done(ctx)
				return err
			}
			o.storeIfOptedIn(ctx, req, out.FinalCompletion, out.MessagesForStorage, metadata)
			return sink.Done(ctx)

		case toolexec.ContinueOutcome:
			if out.HasUnresolvedClientTools {
				o.maybeStoreSynthetic(ctx, req, completion, metadata)
				return sink.Done(ctx)
			}
			if exceedsMaxToolCalls(out.UpdatedMessages, o.MaxToolCalls) {
				_ = sink.Send(ctx, EventError, ErrorPayload{Message: orcherrors.ErrMaxToolCallsExceeded.Error()})
				return sink.Done(ctx)
			}
			req.Messages = out.UpdatedMessages
			continue

		default:
			_ = sink.Done(ctx)
			return fmt.Errorf("orchestrator: unrecognized tool outcome %T", outcome)
		}
	}
}

// drain forwards every chunk to the sink as it arrives and collects
// them for reassembly, stopping early on a transport error or
// cancellation.
func (o *StreamingOrchestrator) drain(ctx context.Context, chunkCh <-chan chatmodel.StreamChunk, sink Sink) ([]chatmodel.StreamChunk, error) {
	var chunks []chatmodel.StreamChunk
	for chunk := range chunkCh {
		if chunk.Err != nil {
			return chunks, chunk.Err
		}
		if err := sink.Send(ctx, EventChunk, chunk); err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
		if ctx.Err() != nil {
			return chunks, ctx.Err()
		}
	}
	return chunks, nil
}

func (o *StreamingOrchestrator) maybeStoreSynthetic(ctx context.Context, req chatmodel.ResponseCreateRequest, completion chatmodel.ModelCompletion, metadata map[string]string) {
	o.storeIfOptedIn(ctx, req, completion, req.Messages, metadata)
}

func (o *StreamingOrchestrator) storeIfOptedIn(ctx context.Context, req chatmodel.ResponseCreateRequest, completion chatmodel.ModelCompletion, messages []chatmodel.Message, metadata map[string]string) {
	if o.Store == nil || !req.Store {
		return
	}
	_ = o.Store.StoreResponse(ctx, completion, messages, metadata)
}

// reassemble combines a streamed chunk list into one logical
// ModelCompletion: content deltas are concatenated per choice index,
// and tool_calls are coalesced by (choice.index, tool_call.index) so
// a call's name/arguments streamed across many chunks end up as one
// ToolCall (§4.10 step 3).
func reassemble(chunks []chatmodel.StreamChunk) (chatmodel.ModelCompletion, error) {
	if len(chunks) == 0 {
		return chatmodel.ModelCompletion{}, fmt.Errorf("orchestrator: no chunks to reassemble")
	}

	var id, model string
	var created int64
	var usage *chatmodel.Usage

	var order []int
	seen := make(map[int]bool)
	contents := make(map[int]*strings.Builder)
	finishes := make(map[int]chatmodel.FinishReason)
	toolCalls := make(map[int]map[int]*chatmodel.ToolCall)

	for _, chunk := range chunks {
		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Created != 0 {
			created = chunk.Created
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}

		for _, choice := range chunk.Choices {
			if !seen[choice.Index] {
				seen[choice.Index] = true
				order = append(order, choice.Index)
				contents[choice.Index] = &strings.Builder{}
				toolCalls[choice.Index] = make(map[int]*chatmodel.ToolCall)
			}
			if choice.Delta.Content != "" {
				contents[choice.Index].WriteString(choice.Delta.Content)
			}
			if choice.FinishReason != "" {
				finishes[choice.Index] = choice.FinishReason
			}
			for _, tc := range choice.Delta.ToolCalls {
				existing, ok := toolCalls[choice.Index][tc.Index]
				if !ok {
					copyTC := tc
					toolCalls[choice.Index][tc.Index] = &copyTC
					continue
				}
				existing.Function.Arguments += tc.Function.Arguments
				if tc.ID != "" {
					existing.ID = tc.ID
				}
				if tc.Function.Name != "" {
					existing.Function.Name = tc.Function.Name
				}
				if tc.Type != "" {
					existing.Type = tc.Type
				}
			}
		}
	}

	if id == "" {
		id = idgen.NewResponseID()
	}

	sort.Ints(order)
	choices := make([]chatmodel.Choice, 0, len(order))
	for _, idx := range order {
		tcIndices := make([]int, 0, len(toolCalls[idx]))
		for tcIdx := range toolCalls[idx] {
			tcIndices = append(tcIndices, tcIdx)
		}
		sort.Ints(tcIndices)

		var calls []chatmodel.ToolCall
		for _, tcIdx := range tcIndices {
			calls = append(calls, *toolCalls[idx][tcIdx])
		}

		finish := finishes[idx]
		if finish == "" {
			finish = chatmodel.FinishStop
		}

		choices = append(choices, chatmodel.Choice{
			Index: idx,
			Message: chatmodel.Message{
				Role:      chatmodel.RoleAssistant,
				Content:   contents[idx].String(),
				ToolCalls: calls,
			},
			FinishReason: finish,
		})
	}

	return chatmodel.ModelCompletion{
		ID:      id,
		Created: created,
		Model:   model,
		Choices: choices,
		Usage:   usage,
	}, nil
}
