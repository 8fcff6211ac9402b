// Package toolexec implements the Tool-Call Executor (C9): resolves
// each tool_call in the last assistant message via the request-scoped
// alias map and either appends tool results (native), hands control
// back to the caller (remote/unknown), or terminates the loop with a
// final answer (terminal).
package toolexec

import (
	"context"
	"fmt"

	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/tools"
)

// Outcome is the sealed result of handling one completion's tool
// calls, mirroring the filter package's own closed-variant style.
type Outcome interface{ isOutcome() }

// ContinueOutcome means the loop should continue: either the caller
// must dispatch unresolved client tools itself, or every tool_call was
// handled natively and updatedMessages is ready for the next upstream
// call.
type ContinueOutcome struct {
	HasUnresolvedClientTools bool
	UpdatedMessages          []chatmodel.Message
}

func (ContinueOutcome) isOutcome() {}

// TerminateOutcome means a terminal tool produced the final
// user-visible answer; the loop must not recurse further.
type TerminateOutcome struct {
	FinalCompletion    chatmodel.ModelCompletion
	MessagesForStorage []chatmodel.Message
}

func (TerminateOutcome) isOutcome() {}

// NativeHandler executes one native tool call and returns the string
// placed into the resulting tool message's content. An error is a
// tool-handler-error (§7): it is not raised, it becomes the tool
// message's content so the model can recover.
type NativeHandler func(ctx context.Context, arguments string, req chatmodel.ResponseCreateRequest, metadata map[string]string) (string, error)

// Executor resolves and runs tool calls for one request.
type Executor struct {
	Aliases  *tools.RequestAliasMap
	Handlers map[string]NativeHandler
	Metadata map[string]string
}

// New builds an Executor over a request-scoped alias map and the set
// of native tool handlers, keyed by canonical tool name.
func New(aliases *tools.RequestAliasMap, handlers map[string]NativeHandler) *Executor {
	return &Executor{Aliases: aliases, Handlers: handlers}
}

// Handle implements handleToolCall per §4.8.
func (e *Executor) Handle(ctx context.Context, completion chatmodel.ModelCompletion, req chatmodel.ResponseCreateRequest) (Outcome, error) {
	assistant, ok := completion.LastAssistantMessage()
	if !ok || !assistant.HasToolCalls() {
		return ContinueOutcome{UpdatedMessages: req.Messages}, nil
	}

	messages := append(append([]chatmodel.Message{}, req.Messages...), assistant)

	for _, call := range assistant.ToolCalls {
		def := e.Aliases.Resolve(call.Function.Name)
		if def == nil || def.Variant == tools.VariantRemote {
			return ContinueOutcome{HasUnresolvedClientTools: true}, nil
		}

		if def.Variant == tools.VariantTerminal {
			output, err := e.invoke(ctx, def.Name, call, req)
			if err != nil {
				output = fmt.Sprintf("tool error: %v", err)
			}
			finalMessage := chatmodel.Message{Role: chatmodel.RoleAssistant, Content: output}
			finalCompletion := chatmodel.ModelCompletion{
				ID:    completion.ID,
				Model: completion.Model,
				Choices: []chatmodel.Choice{{
					Message:      finalMessage,
					FinishReason: chatmodel.FinishStop,
				}},
			}
			return TerminateOutcome{
				FinalCompletion:    finalCompletion,
				MessagesForStorage: append(messages, finalMessage),
			}, nil
		}

		output, err := e.invoke(ctx, def.Name, call, req)
		if err != nil {
			// Tool-handler-error: recorded as the tool message content,
			// not raised, so the model can recover (§7).
			output = fmt.Sprintf("tool error: %v", err)
		}
		messages = append(messages, chatmodel.Message{
			Role:       chatmodel.RoleTool,
			Content:    output,
			ToolCallID: call.ID,
		})
	}

	return ContinueOutcome{UpdatedMessages: messages}, nil
}

func (e *Executor) invoke(ctx context.Context, canonicalName string, call chatmodel.ToolCall, req chatmodel.ResponseCreateRequest) (string, error) {
	handler, ok := e.Handlers[canonicalName]
	if !ok {
		return "", fmt.Errorf("toolexec: no native handler registered for %q", canonicalName)
	}
	return handler(ctx, call.Function.Arguments, req, e.Metadata)
}
