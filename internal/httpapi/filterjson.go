package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/openresponses/orchestrator/internal/dynjson"
	"github.com/openresponses/orchestrator/internal/filter"
)

// filterWire is the wire shape of one filter.Node: either a comparison
// ({key, op, value}) or a compound ({op, filters}), distinguished by
// which fields are present. The same shape decodes both variants so
// callers don't have to tag the union explicitly.
type filterWire struct {
	Key     string          `json:"key"`
	Op      string          `json:"op"`
	Value   json.RawMessage `json:"value"`
	Filters []filterWire    `json:"filters"`
}

// decodeFilter parses a request body's "filters"/"filter" field into a
// filter.Node, or returns (nil, nil) for an absent/empty filter.
func decodeFilter(raw json.RawMessage) (filter.Node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var wire filterWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return wire.toNode()
}

func (w filterWire) toNode() (filter.Node, error) {
	switch filter.CompoundOp(w.Op) {
	case filter.CompoundAnd, filter.CompoundOr, filter.CompoundNot:
		children := make([]filter.Node, 0, len(w.Filters))
		for _, child := range w.Filters {
			node, err := child.toNode()
			if err != nil {
				return nil, err
			}
			children = append(children, node)
		}
		compound := filter.Compound{Op: filter.CompoundOp(w.Op), Filters: children}
		if err := filter.Validate(compound); err != nil {
			return nil, err
		}
		return compound, nil
	default:
		if w.Key == "" {
			return nil, fmt.Errorf("invalid filter: comparison missing key")
		}
		var value any
		if len(w.Value) > 0 {
			if err := json.Unmarshal(w.Value, &value); err != nil {
				return nil, fmt.Errorf("invalid filter value: %w", err)
			}
		}
		return filter.Comparison{Key: w.Key, Op: filter.Op(w.Op), Value: dynjson.FromAny(value)}, nil
	}
}
