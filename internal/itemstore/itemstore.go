// Package itemstore implements the Input-Item Store Contract (C13):
// an append-only, per-response-id log of input items and output
// items, plus the stored completion itself.
package itemstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/orcherrors"
)

// Store is the contract every backing implementation satisfies.
// Ordering within a response id is preserved exactly as written (§4.12).
type Store interface {
	GetResponse(ctx context.Context, id string) (chatmodel.ModelCompletion, error)
	GetInputItems(ctx context.Context, id string) ([]chatmodel.InputItem, error)
	GetOutputItems(ctx context.Context, id string) ([]chatmodel.InputItem, error)
	StoreResponse(ctx context.Context, completion chatmodel.ModelCompletion, messages []chatmodel.Message, metadata map[string]string) error
}

// ToItems converts a message list into items in §3's tagged-variant
// shape, in message order; it does not separate input from output
// items. A tool-call-bearing
// assistant message becomes one function_call item per call; a tool
// message becomes a function_call_output; anything else becomes a
// plain message item.
func ToItems(messages []chatmodel.Message) []chatmodel.InputItem {
	items := make([]chatmodel.InputItem, 0, len(messages))
	for _, m := range messages {
		items = append(items, messageToItems(m)...)
	}
	return items
}

func messageToItems(m chatmodel.Message) []chatmodel.InputItem {
	if m.Role == chatmodel.RoleTool {
		return []chatmodel.InputItem{{
			Type:   chatmodel.InputItemFunctionCallOutput,
			CallID: m.ToolCallID,
			Output: m.Content,
		}}
	}
	if m.HasToolCalls() {
		items := make([]chatmodel.InputItem, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			items = append(items, chatmodel.InputItem{
				Type:      chatmodel.InputItemFunctionCall,
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return items
	}
	return []chatmodel.InputItem{{
		Type:    chatmodel.InputItemMessage,
		Role:    m.Role,
		Content: []chatmodel.ContentPart{{Type: contentTypeFor(m.Role), Text: m.Content}},
	}}
}

// FromItems is ToItems' inverse: it rebuilds the chat messages a
// replayed item list represents, for handing to the orchestrator loop.
// Consecutive function_call items are grouped back into the one
// assistant message they were split from (ToItems never interleaves
// another item between a burst of calls from the same turn).
// Reasoning items carry no chat-message equivalent and are dropped.
func FromItems(items []chatmodel.InputItem) []chatmodel.Message {
	messages := make([]chatmodel.Message, 0, len(items))
	for i := 0; i < len(items); i++ {
		item := items[i]
		switch item.Type {
		case chatmodel.InputItemFunctionCall:
			calls := []chatmodel.ToolCall{toolCallFromItem(item)}
			for i+1 < len(items) && items[i+1].Type == chatmodel.InputItemFunctionCall {
				i++
				calls = append(calls, toolCallFromItem(items[i]))
			}
			messages = append(messages, chatmodel.Message{Role: chatmodel.RoleAssistant, ToolCalls: calls})

		case chatmodel.InputItemFunctionCallOutput:
			messages = append(messages, chatmodel.Message{
				Role:       chatmodel.RoleTool,
				Content:    item.Output,
				ToolCallID: item.CallID,
			})

		case chatmodel.InputItemReasoning:
			continue

		default:
			messages = append(messages, chatmodel.Message{Role: item.Role, Content: textOf(item.Content)})
		}
	}
	return messages
}

func toolCallFromItem(item chatmodel.InputItem) chatmodel.ToolCall {
	return chatmodel.ToolCall{
		ID:       item.CallID,
		Type:     "function",
		Function: chatmodel.FunctionCall{Name: item.Name, Arguments: item.Arguments},
	}
}

func textOf(parts []chatmodel.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func contentTypeFor(role chatmodel.Role) chatmodel.ContentPartType {
	if role == chatmodel.RoleAssistant {
		return chatmodel.ContentOutputText
	}
	return chatmodel.ContentInputText
}

// outputItemsFromCompletion converts a completion's choices into
// output items, one per choice.
func outputItemsFromCompletion(completion chatmodel.ModelCompletion) []chatmodel.InputItem {
	items := make([]chatmodel.InputItem, 0, len(completion.Choices))
	for _, choice := range completion.Choices {
		items = append(items, messageToItems(choice.Message)...)
	}
	return items
}

// wrapNotFound wraps a not-found condition with the §7 sentinel.
func wrapNotFound(id string) error {
	return fmt.Errorf("%w: %s", orcherrors.ErrPreviousResponseNotFound, id)
}

// wrapStorageFailure wraps any persistence error with the §7
// sentinel.
func wrapStorageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", orcherrors.ErrStorageFailure, op, err)
}
