// Package filter implements the structured filter AST shared by the vector
// and lexical search providers (C2): comparison and compound nodes,
// evaluation against a metadata map, and the contract store-native
// compilers are built against.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openresponses/orchestrator/internal/dynjson"
)

// Op is a comparison operator.
type Op string

const (
	OpEq    Op = "eq"
	OpNe    Op = "ne"
	OpGt    Op = "gt"
	OpGe    Op = "ge"
	OpLt    Op = "lt"
	OpLe    Op = "le"
	OpIn    Op = "in"
	OpLike  Op = "like"
	OpILike Op = "ilike"
)

// CompoundOp is a boolean combinator.
type CompoundOp string

const (
	CompoundAnd CompoundOp = "and"
	CompoundOr  CompoundOp = "or"
	CompoundNot CompoundOp = "not"
)

// Node is the sealed filter AST: either a Comparison or a Compound.
type Node interface {
	isFilterNode()
}

// Comparison compares a dotted metadata key against a literal value.
type Comparison struct {
	Key   string
	Op    Op
	Value dynjson.Value
}

func (Comparison) isFilterNode() {}

// Compound combines child filters with and/or/not.
type Compound struct {
	Op      CompoundOp
	Filters []Node
}

func (Compound) isFilterNode() {}

// ErrFilterApplication is the sentinel for filter-application-failure:
// aborting the search rather than silently dropping a filter, per §4.1 —
// a dropped filter would defeat tenancy isolation.
var ErrFilterApplication = errors.New("filter application failed")

// ErrInvalidFilter is returned for structurally invalid filters (e.g. a
// "not" with other than exactly one child).
var ErrInvalidFilter = errors.New("invalid filter")

// Validate checks structural invariants: a "not" node must carry exactly
// one child filter.
func Validate(n Node) error {
	switch f := n.(type) {
	case Comparison:
		return nil
	case Compound:
		if f.Op == CompoundNot && len(f.Filters) != 1 {
			return fmt.Errorf("%w: not must carry exactly one child, got %d", ErrInvalidFilter, len(f.Filters))
		}
		for _, child := range f.Filters {
			if err := Validate(child); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown node type %T", ErrInvalidFilter, n)
	}
}

// Matches evaluates filter f against metadata for one candidate (fileID is
// carried only for diagnostics/tie-breaking by callers). Errors abort the
// search (§4.1) rather than silently matching or excluding.
func Matches(n Node, metadata dynjson.Value, fileID string) (bool, error) {
	if n == nil {
		return true, nil
	}
	if err := Validate(n); err != nil {
		return false, fmt.Errorf("%w: %v", ErrFilterApplication, err)
	}
	return evalNode(n, metadata)
}

func evalNode(n Node, metadata dynjson.Value) (bool, error) {
	switch f := n.(type) {
	case Comparison:
		return evalComparison(f, metadata)
	case Compound:
		switch f.Op {
		case CompoundAnd:
			for _, child := range f.Filters {
				ok, err := evalNode(child, metadata)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		case CompoundOr:
			for _, child := range f.Filters {
				ok, err := evalNode(child, metadata)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		case CompoundNot:
			ok, err := evalNode(f.Filters[0], metadata)
			if err != nil {
				return false, err
			}
			return !ok, nil
		default:
			return false, fmt.Errorf("%w: unknown compound op %q", ErrFilterApplication, f.Op)
		}
	default:
		return false, fmt.Errorf("%w: unknown node type %T", ErrFilterApplication, n)
	}
}

func evalComparison(c Comparison, metadata dynjson.Value) (bool, error) {
	actual, ok := metadata.Get(c.Key)
	if !ok {
		// Missing keys never match any comparison.
		return false, nil
	}

	switch c.Op {
	case OpEq:
		return deepEqual(actual, c.Value), nil
	case OpNe:
		return !deepEqual(actual, c.Value), nil
	case OpGt, OpGe, OpLt, OpLe:
		return compareOrdered(actual, c.Value, c.Op)
	case OpIn:
		items, ok := c.Value.AsList()
		if !ok {
			return false, nil
		}
		for _, item := range items {
			if deepEqual(actual, item) {
				return true, nil
			}
		}
		return false, nil
	case OpLike:
		return wildcardMatch(actual, c.Value, false)
	case OpILike:
		return wildcardMatch(actual, c.Value, true)
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrFilterApplication, c.Op)
	}
}

// deepEqual compares two dynjson.Value with numeric widening: any two
// numbers compare by value regardless of how they were constructed.
func deepEqual(a, b dynjson.Value) bool {
	if an, ok := a.AsNumber(); ok {
		if bn, ok := b.AsNumber(); ok {
			return an == bn
		}
		return false
	}
	if as, ok := a.AsString(); ok {
		bs, ok := b.AsString()
		return ok && as == bs
	}
	if ab, ok := a.AsBool(); ok {
		bb, ok := b.AsBool()
		return ok && ab == bb
	}
	if a.IsNull() {
		return b.IsNull()
	}
	// Lists/maps: not part of the comparable contract; treat as unequal.
	return false
}

// compareOrdered requires both sides to be Comparable (numbers or
// strings, compared consistently); otherwise the filter fails closed
// (does not match) rather than erroring.
func compareOrdered(a, b dynjson.Value, op Op) (bool, error) {
	if an, ok := a.AsNumber(); ok {
		bn, ok := b.AsNumber()
		if !ok {
			return false, nil
		}
		return orderResult(cmpFloat(an, bn), op), nil
	}
	if as, ok := a.AsString(); ok {
		bs, ok := b.AsString()
		if !ok {
			return false, nil
		}
		return orderResult(strings.Compare(as, bs), op), nil
	}
	// Not comparable: fail closed.
	return false, nil
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func orderResult(cmp int, op Op) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	}
	return false
}

// wildcardMatch implements SQL-style LIKE semantics: "%" matches any run
// of characters, "_" matches exactly one character. ilike is the
// case-insensitive form.
func wildcardMatch(actual, pattern dynjson.Value, insensitive bool) (bool, error) {
	as, ok := actual.AsString()
	if !ok {
		return false, nil
	}
	ps, ok := pattern.AsString()
	if !ok {
		return false, nil
	}
	if insensitive {
		as = strings.ToLower(as)
		ps = strings.ToLower(ps)
	}
	return likeMatch(as, ps), nil
}

// likeMatch is a classic dynamic-programming LIKE matcher over "%"/"_".
func likeMatch(s, pattern string) bool {
	sl, pl := len(s), len(pattern)
	dp := make([][]bool, sl+1)
	for i := range dp {
		dp[i] = make([]bool, pl+1)
	}
	dp[0][0] = true
	for j := 1; j <= pl; j++ {
		if pattern[j-1] == '%' {
			dp[0][j] = dp[0][j-1]
		}
	}
	for i := 1; i <= sl; i++ {
		for j := 1; j <= pl; j++ {
			switch pattern[j-1] {
			case '%':
				dp[i][j] = dp[i-1][j] || dp[i][j-1]
			case '_':
				dp[i][j] = dp[i-1][j-1]
			default:
				dp[i][j] = dp[i-1][j-1] && s[i-1] == pattern[j-1]
			}
		}
	}
	return dp[sl][pl]
}

// ScopeFilter builds the vector-store-id scope filter used by hybrid
// search (§4.5 step 1): a single eq comparison for one store, a
// disjunction of eq comparisons for several, or nil for none.
func ScopeFilter(vectorStoreIDs []string) Node {
	switch len(vectorStoreIDs) {
	case 0:
		return nil
	case 1:
		return Comparison{Key: "vector_store_id", Op: OpEq, Value: dynjson.String(vectorStoreIDs[0])}
	default:
		filters := make([]Node, len(vectorStoreIDs))
		for i, id := range vectorStoreIDs {
			filters[i] = Comparison{Key: "vector_store_id", Op: OpEq, Value: dynjson.String(id)}
		}
		return Compound{Op: CompoundOr, Filters: filters}
	}
}

// And combines two filters (either of which may be nil) under "and",
// returning whichever side is non-nil if only one is set.
func And(a, b Node) Node {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return Compound{Op: CompoundAnd, Filters: []Node{a, b}}
}
