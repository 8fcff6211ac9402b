// Package orchestrator implements the Completion Orchestrator (C10):
// the blocking single-turn create → detect-tools → recurse loop, with
// the max-tool-call guard from §4.9.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/config/envutil"
	"github.com/openresponses/orchestrator/internal/idgen"
	"github.com/openresponses/orchestrator/internal/itemstore"
	"github.com/openresponses/orchestrator/internal/orcherrors"
	"github.com/openresponses/orchestrator/internal/toolexec"
)

// defaultMaxToolCalls is the per-request loop invariant's default limit
// (§4.9), overridable via maxToolCallsEnv.
const defaultMaxToolCalls = 10

const maxToolCallsEnv = "OPEN_RESPONSES_MAX_TOOL_CALLS"

// ChatClient is the upstream call this orchestrator drives. It speaks
// the Chat-Completions-shaped vocabulary directly; bridging the
// Responses-API-shaped provider.Provider onto this interface is the
// adapter's job, not this package's.
type ChatClient interface {
	CreateCompletion(ctx context.Context, req chatmodel.ResponseCreateRequest) (chatmodel.ModelCompletion, error)
}

// Orchestrator drives one request's create → detect-tools → recurse
// loop to completion.
type Orchestrator struct {
	Client       ChatClient
	Store        itemstore.Store
	MaxToolCalls int
}

// New builds an Orchestrator, resolving the max-tool-calls limit from
// the environment once at construction.
func New(client ChatClient, store itemstore.Store) *Orchestrator {
	return &Orchestrator{
		Client:       client,
		Store:        store,
		MaxToolCalls: envutil.GetIntEnv(maxToolCallsEnv, defaultMaxToolCalls),
	}
}

// Create runs the blocking loop described in §4.9: call upstream,
// detect tool calls, dispatch them through the tool executor, and
// recurse on native-handled tool calls until a terminal or
// client-visible outcome is reached.
func (o *Orchestrator) Create(
	ctx context.Context,
	req chatmodel.ResponseCreateRequest,
	executor *toolexec.Executor,
	metadata map[string]string,
) (chatmodel.ModelCompletion, error) {
	completion, err := o.Client.CreateCompletion(ctx, req)
	if err != nil {
		return chatmodel.ModelCompletion{}, fmt.Errorf("%w: %v", orcherrors.ErrUpstream, err)
	}
	if completion.ID == "" {
		completion.ID = idgen.NewResponseID()
	}

	if !completion.HasToolCalls() {
		o.maybeStore(ctx, req, completion, req.Messages, metadata)
		return completion, nil
	}

	outcome, err := executor.Handle(ctx, completion, req)
	if err != nil {
		return chatmodel.ModelCompletion{}, err
	}

	switch out := outcome.(type) {
	case toolexec.TerminateOutcome:
		o.maybeStore(ctx, req, out.FinalCompletion, out.MessagesForStorage, metadata)
		return out.FinalCompletion, nil

	case toolexec.ContinueOutcome:
		if out.HasUnresolvedClientTools {
			o.maybeStore(ctx, req, completion, req.Messages, metadata)
			return completion, nil
		}
		if exceedsMaxToolCalls(out.UpdatedMessages, o.MaxToolCalls) {
			return chatmodel.ModelCompletion{}, fmt.Errorf("%w", orcherrors.ErrMaxToolCallsExceeded)
		}
		nextReq := req
		nextReq.Messages = out.UpdatedMessages
		return o.Create(ctx, nextReq, executor, metadata)

	default:
		return chatmodel.ModelCompletion{}, fmt.Errorf("orchestrator: unrecognized tool outcome %T", outcome)
	}
}

// maybeStore persists a completed turn when the request opted in via
// Store. Per §4.12 storage is best-effort: a failure is logged, not
// raised, since the response has already been produced for the
// caller.
func (o *Orchestrator) maybeStore(ctx context.Context, req chatmodel.ResponseCreateRequest, completion chatmodel.ModelCompletion, messages []chatmodel.Message, metadata map[string]string) {
	if o.Store == nil || !req.Store {
		return
	}
	if err := o.Store.StoreResponse(ctx, completion, messages, metadata); err != nil {
		slog.Error("orchestrator: failed to persist response", "response_id", completion.ID, "error", err)
	}
}

// exceedsMaxToolCalls counts assistant messages carrying a non-empty
// tool_calls list and reports whether that count exceeds limit (§4.9).
func exceedsMaxToolCalls(messages []chatmodel.Message, limit int) bool {
	count := 0
	for _, m := range messages {
		if m.Role == chatmodel.RoleAssistant && m.HasToolCalls() {
			count++
		}
	}
	return count > limit
}
