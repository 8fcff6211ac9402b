package httpapi

import (
	"context"
	"fmt"

	"github.com/openresponses/orchestrator/internal/chatmodel"
	"github.com/openresponses/orchestrator/internal/itemstore"
	"github.com/openresponses/orchestrator/internal/orcherrors"
	"github.com/openresponses/orchestrator/internal/replay"
)

// buildMessages resolves req.Messages per §4.11/§6: a plain string
// Input becomes a single user message, InputItems are converted
// directly, and a non-empty PreviousResponseID triggers the replay
// rewrite (C12) ahead of either.
func buildMessages(ctx context.Context, store itemstore.Store, req *chatmodel.ResponseCreateRequest) error {
	var currentItems []chatmodel.InputItem
	switch {
	case len(req.InputItems) > 0:
		currentItems = req.InputItems
	case req.Input != "":
		currentItems = []chatmodel.InputItem{{
			Type:    chatmodel.InputItemMessage,
			Role:    chatmodel.RoleUser,
			Content: []chatmodel.ContentPart{{Type: chatmodel.ContentInputText, Text: req.Input}},
		}}
	default:
		return fmt.Errorf("%w: one of input or input_items is required", orcherrors.ErrInvalidArgument)
	}

	if req.PreviousResponseID == "" {
		req.Messages = itemstore.FromItems(currentItems)
		return nil
	}
	if store == nil {
		return fmt.Errorf("%w: previous_response_id is not supported without a configured item store", orcherrors.ErrInvalidArgument)
	}

	merged, err := replay.Rewrite(ctx, store, req.PreviousResponseID, currentItems)
	if err != nil {
		return err
	}
	req.Messages = itemstore.FromItems(merged)
	return nil
}
