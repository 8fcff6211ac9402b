// Package agentic implements the Agentic Search Controller (C8): a
// bounded-iteration, LLM-in-the-loop retrieval loop built on top of
// hybrid search (C6), alternating between issuing queries and asking
// the model whether to refine or terminate.
package agentic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openresponses/orchestrator/internal/dynjson"
	"github.com/openresponses/orchestrator/internal/filter"
	"github.com/openresponses/orchestrator/internal/hybrid"
	"github.com/openresponses/orchestrator/internal/provider"
	"github.com/openresponses/orchestrator/internal/vectorstore"
)

// ErrInvalidArgument is returned for precondition violations on Run's
// Inputs (blank question, non-positive maxResults/maxIterations).
var ErrInvalidArgument = errors.New("agentic: invalid argument")

const (
	reasonNoInitialResults  = "No initial results found."
	reasonInvalidDecision   = "LLM decision invalid"
	reasonRepeatedQueries   = "repeated queries"
	maxConsecutiveInvalid   = 3
	maxCumulativeRepeats    = 3
)

// Iteration records one step of the control loop, matching the
// AgenticSearchIteration glossary entry: iteration number, issued
// query, retrieved count, optional termination reason, optional
// memory fragment, and a final flag.
type Iteration struct {
	IterationNumber   int
	Query             string
	Retrieved         int
	Memory            string
	Warning           string
	IsFinal           bool
	TerminationReason string
	Summary           string
}

// Event is emitted at every step of the loop so a caller can stream
// progress over SSE; Query, Count, and Reason are optional per step.
type Event struct {
	Phase     string
	Iteration int
	Query     *string
	Count     *int
	Reason    *string
}

// Emitter receives progress events from a running controller.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event; used when the caller doesn't need
// progress streaming.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

// Inputs gathers everything one controller run needs.
type Inputs struct {
	Question       string
	VectorStoreIDs []string
	UserFilter     filter.Node
	MaxResults     int
	MaxIterations  int
	// SeedName optionally prefixes the seed query, e.g. a file or
	// collection name the caller wants weighted into the first search.
	SeedName string
	Emitter  Emitter
}

// Result is the controller's output per §4.7 step 8.
type Result struct {
	Data              []vectorstore.SearchResult
	SearchIterations  []Iteration
	KnowledgeAcquired string
}

// Controller runs the bounded LLM-in-the-loop retrieval algorithm. The
// decision call reuses the same upstream provider.Provider the
// orchestrator itself talks to, rather than a bespoke client.
type Controller struct {
	Search        *hybrid.Search
	Model         provider.Provider
	ModelSettings provider.ProviderConfig
	Alpha         float64
	// RepeatCache tracks repeated queries across requests when set
	// (typically Redis-backed); nil falls back to per-call counting.
	RepeatCache RepeatCache
}

// New builds a Controller over a hybrid search and an upstream model.
func New(search *hybrid.Search, model provider.Provider, settings provider.ProviderConfig) *Controller {
	return &Controller{Search: search, Model: model, ModelSettings: settings, Alpha: hybrid.DefaultAlpha}
}

func (c *Controller) alpha() float64 {
	if c.Alpha <= 0 {
		return hybrid.DefaultAlpha
	}
	return c.Alpha
}

// incrRepeatCount increments and returns the repeat count for a
// normalized query, preferring the shared RepeatCache when wired and
// falling back to the per-call local map (and logging a warning) if
// the cache call fails or none is configured.
func (c *Controller) incrRepeatCount(ctx context.Context, local map[string]int, key string) int64 {
	if c.RepeatCache != nil {
		count, err := c.RepeatCache.Incr(ctx, key)
		if err == nil {
			return count
		}
		slog.Warn("agentic: repeat cache unavailable, falling back to per-call counting", "error", err)
	}
	local[key]++
	return int64(local[key])
}

// Run executes the algorithm in §4.7.
func (c *Controller) Run(ctx context.Context, in Inputs) (Result, error) {
	if strings.TrimSpace(in.Question) == "" {
		return Result{}, fmt.Errorf("%w: question must be non-blank", ErrInvalidArgument)
	}
	if in.MaxResults < 1 {
		return Result{}, fmt.Errorf("%w: maxResults must be >= 1", ErrInvalidArgument)
	}
	if in.MaxIterations < 1 {
		return Result{}, fmt.Errorf("%w: maxIterations must be >= 1", ErrInvalidArgument)
	}
	emitter := in.Emitter
	if emitter == nil {
		emitter = NoopEmitter{}
	}

	seedQuery := in.Question
	if strings.TrimSpace(in.SeedName) != "" {
		seedQuery = in.SeedName + " " + in.Question
	}

	seedResults, err := c.Search.Run(ctx, seedQuery, in.MaxResults, in.UserFilter, in.VectorStoreIDs, c.alpha())
	if err != nil {
		return Result{}, fmt.Errorf("agentic: seed search: %w", err)
	}

	if len(seedResults) == 0 {
		iter := Iteration{IterationNumber: 1, Query: seedQuery, IsFinal: true, TerminationReason: reasonNoInitialResults}
		emitFinal(emitter, iter)
		return Result{SearchIterations: []Iteration{iter}}, nil
	}

	buffer := make(map[string]vectorstore.SearchResult)
	var order []string
	mergeBuffer(buffer, &order, seedResults)

	seedCount := len(seedResults)
	emitter.Emit(Event{Phase: "seed", Iteration: 0, Query: &seedQuery, Count: &seedCount})

	var iterations []Iteration
	repeatCounts := make(map[string]int)
	terminationSummary := ""

	iterationNumber := 1
	for {
		if iterationNumber > in.MaxIterations {
			reason := fmt.Sprintf("Reached max iterations (%d).", in.MaxIterations)
			iter := Iteration{IterationNumber: iterationNumber, IsFinal: true, TerminationReason: reason}
			iterations = append(iterations, iter)
			emitFinal(emitter, iter)
			break
		}

		emitter.Emit(Event{Phase: "decision", Iteration: iterationNumber})

		dec, invalid := c.decideWithRetries(ctx, buffer, order, iterations)
		if invalid {
			iter := Iteration{IterationNumber: iterationNumber, IsFinal: true, TerminationReason: reasonInvalidDecision}
			iterations = append(iterations, iter)
			emitFinal(emitter, iter)
			break
		}

		if dec.kind == decisionTerminate {
			terminationSummary = dec.summary
			iter := Iteration{IterationNumber: iterationNumber, IsFinal: true, Summary: dec.summary}
			iterations = append(iterations, iter)
			emitFinal(emitter, iter)
			break
		}

		normalized := strings.ToLower(strings.TrimSpace(dec.query))
		repeats := c.incrRepeatCount(ctx, repeatCounts, normalized)
		if repeats >= maxCumulativeRepeats {
			iter := Iteration{IterationNumber: iterationNumber, Query: dec.query, IsFinal: true, TerminationReason: reasonRepeatedQueries}
			iterations = append(iterations, iter)
			emitFinal(emitter, iter)
			break
		}

		attrFilter, warning := parseAttributeFilter(dec.filterJSON)
		combined := in.UserFilter
		if attrFilter != nil {
			combined = filter.And(in.UserFilter, attrFilter)
		}

		results, err := c.Search.Run(ctx, dec.query, in.MaxResults, combined, in.VectorStoreIDs, c.alpha())
		if err != nil {
			return Result{}, fmt.Errorf("agentic: iteration %d search: %w", iterationNumber, err)
		}
		mergeBuffer(buffer, &order, results)

		count := len(results)
		emitter.Emit(Event{Phase: "search", Iteration: iterationNumber, Query: &dec.query, Count: &count})

		iterations = append(iterations, Iteration{
			IterationNumber: iterationNumber,
			Query:           dec.query,
			Retrieved:       count,
			Memory:          dec.memory,
			Warning:         warning,
		})

		iterationNumber++
	}

	data := sortedBuffer(buffer, order)
	if len(data) > in.MaxResults {
		data = data[:in.MaxResults]
	}

	return Result{
		Data:              data,
		SearchIterations:  iterations,
		KnowledgeAcquired: buildKnowledge(iterations, terminationSummary),
	}, nil
}

func emitFinal(e Emitter, iter Iteration) {
	reason := iter.TerminationReason
	if reason == "" {
		reason = iter.Summary
	}
	e.Emit(Event{Phase: "final", Iteration: iter.IterationNumber, Reason: &reason})
}

func bufferKey(r vectorstore.SearchResult) string {
	return fmt.Sprintf("%s/%d", r.FileID, r.ChunkIndex)
}

// mergeBuffer dedups by (file_id, chunk_index), keeping the
// highest-scoring result per §4.7 step 2/6.
func mergeBuffer(buffer map[string]vectorstore.SearchResult, order *[]string, results []vectorstore.SearchResult) {
	for _, r := range results {
		key := bufferKey(r)
		existing, ok := buffer[key]
		if !ok {
			buffer[key] = r
			*order = append(*order, key)
			continue
		}
		if r.Score > existing.Score {
			buffer[key] = r
		}
	}
}

func sortedBuffer(buffer map[string]vectorstore.SearchResult, order []string) []vectorstore.SearchResult {
	out := make([]vectorstore.SearchResult, 0, len(order))
	for _, key := range order {
		out = append(out, buffer[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// buildKnowledge assembles knowledge_acquired from every iteration's
// ##MEMORY## fragment; if none were recorded, it falls back to the
// LLM's termination summary.
func buildKnowledge(iterations []Iteration, terminationSummary string) string {
	var parts []string
	for _, it := range iterations {
		if it.Memory != "" {
			parts = append(parts, fmt.Sprintf("Iteration %d: %s", it.IterationNumber, it.Memory))
		}
	}
	if len(parts) == 0 {
		return terminationSummary
	}
	return strings.Join(parts, "\n")
}

type decisionKind int

const (
	decisionTerminate decisionKind = iota
	decisionNextQuery
)

type decision struct {
	kind       decisionKind
	summary    string
	query      string
	filterJSON string
	memory     string
}

// decideWithRetries calls the model up to maxConsecutiveInvalid times
// within this iteration, re-prompting on an invalid response. Returns
// invalid=true once the retry budget is exhausted.
func (c *Controller) decideWithRetries(ctx context.Context, buffer map[string]vectorstore.SearchResult, order []string, history []Iteration) (decision, bool) {
	for attempt := 0; attempt < maxConsecutiveInvalid; attempt++ {
		text, err := c.callModel(ctx, buffer, order, history)
		if err != nil {
			continue
		}
		if d, ok := parseDecision(text); ok {
			return d, false
		}
	}
	return decision{}, true
}

func (c *Controller) callModel(ctx context.Context, buffer map[string]vectorstore.SearchResult, order []string, history []Iteration) (string, error) {
	prompt := buildSystemPrompt(buffer, order, history)
	result, err := c.Model.GenerateReply(ctx, provider.GenerateParams{
		Instructions: prompt,
		UserInput:    "Respond with exactly one TERMINATE or NEXT_QUERY line.",
		Config:       c.ModelSettings,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func buildSystemPrompt(buffer map[string]vectorstore.SearchResult, order []string, history []Iteration) string {
	var b strings.Builder
	b.WriteString("You are directing an iterative document search. ")
	b.WriteString("Decide whether the buffer below answers the question, or whether another query is needed.\n")
	b.WriteString("Respond with exactly one line: \"TERMINATE: <summary>\" or ")
	b.WriteString("\"NEXT_QUERY: <query> {<attribute filter JSON>} [##MEMORY## <memory fragment>]\".\n\n")

	b.WriteString("Current buffer:\n")
	for _, key := range order {
		r := buffer[key]
		snippet := ""
		if len(r.Content) > 0 {
			snippet = r.Content[0].Text
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.Filename, truncate(snippet, 200))
	}

	if len(history) > 0 {
		b.WriteString("\nPrior iterations:\n")
		for _, it := range history {
			fmt.Fprintf(&b, "- iteration %d: query=%q retrieved=%d\n", it.IterationNumber, it.Query, it.Retrieved)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// parseDecision parses one line of model output into a decision. Any
// text not starting with "TERMINATE:" or "NEXT_QUERY:" is invalid.
func parseDecision(text string) (decision, bool) {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "TERMINATE:"):
		summary := strings.TrimSpace(strings.TrimPrefix(trimmed, "TERMINATE:"))
		return decision{kind: decisionTerminate, summary: summary}, true
	case strings.HasPrefix(trimmed, "NEXT_QUERY:"):
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "NEXT_QUERY:"))
		return parseNextQuery(rest), true
	default:
		return decision{}, false
	}
}

func parseNextQuery(rest string) decision {
	memory := ""
	if idx := strings.Index(rest, "##MEMORY##"); idx >= 0 {
		memory = strings.TrimSpace(rest[idx+len("##MEMORY##"):])
		rest = strings.TrimSpace(rest[:idx])
	}

	filterJSON := ""
	if start := strings.IndexByte(rest, '{'); start >= 0 {
		if end := matchingBrace(rest, start); end >= 0 {
			filterJSON = rest[start : end+1]
			rest = strings.TrimSpace(rest[:start])
		}
	}

	return decision{kind: decisionNextQuery, query: strings.TrimSpace(rest), filterJSON: filterJSON, memory: memory}
}

// matchingBrace finds the index of the '}' matching the '{' at open,
// respecting nesting. Returns -1 if unmatched.
func matchingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseAttributeFilter parses the inline JSON object into a flat
// equality filter. Any parse failure fails closed: nil filter plus a
// warning, per §4.7 step 6.
func parseAttributeFilter(raw string) (filter.Node, string) {
	if strings.TrimSpace(raw) == "" {
		return nil, ""
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Sprintf("ignored invalid attribute filter: %v", err)
	}
	if len(fields) == 0 {
		return nil, ""
	}
	comparisons := make([]filter.Node, 0, len(fields))
	for k, v := range fields {
		comparisons = append(comparisons, filter.Comparison{
			Key:   "attributes." + k,
			Op:    filter.OpEq,
			Value: dynjson.FromAny(v),
		})
	}
	node := comparisons[0]
	for _, c := range comparisons[1:] {
		node = filter.Compound{Op: filter.CompoundAnd, Filters: []filter.Node{node, c}}
	}
	return node, ""
}
