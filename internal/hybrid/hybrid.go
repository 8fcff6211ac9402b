// Package hybrid implements the Hybrid Search component (C6): a
// parallel fan-out to the vector (C4) and lexical (C5) search
// providers, merged by dedup key and fused by a weighted combination
// of per-source, per-batch normalized scores.
package hybrid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/openresponses/orchestrator/internal/filter"
	"github.com/openresponses/orchestrator/internal/vectorstore"
)

// DefaultAlpha is the default vector/lexical fusion weight: 0.5 means
// vector and lexical scores contribute equally.
const DefaultAlpha = 0.5

// Search fans a query out to a vector store and a lexical store,
// fuses their results, and returns them sorted by fused score
// descending.
type Search struct {
	Vector  vectorstore.Store
	Lexical vectorstore.Store
}

// New builds a Search over the given backing stores.
func New(vector, lexical vectorstore.Store) *Search {
	return &Search{Vector: vector, Lexical: lexical}
}

func scopeAndUserFilter(vectorStoreIDs []string, userFilter filter.Node) filter.Node {
	scope := filter.ScopeFilter(vectorStoreIDs)
	return filter.And(scope, userFilter)
}

// Run executes hybridSearch per §4.5: build the scope filter, fan out
// to both providers in parallel (each capped at maxResults), merge by
// dedup key, fuse scores with weight alpha (vector share; 1-alpha is
// the lexical share), and return the results sorted by fused score
// descending.
func (s *Search) Run(ctx context.Context, query string, maxResults int, userFilter filter.Node, vectorStoreIDs []string, alpha float64) ([]vectorstore.SearchResult, error) {
	if alpha < 0 || alpha > 1 {
		alpha = DefaultAlpha
	}

	combined := scopeAndUserFilter(vectorStoreIDs, userFilter)

	var vectorResults, lexicalResults []vectorstore.SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorResults, err = s.Vector.SearchSimilar(gctx, query, maxResults, vectorstore.RankingOptions{}, combined)
		if err != nil {
			return fmt.Errorf("hybrid: vector search: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		lexicalResults, err = s.Lexical.SearchSimilar(gctx, query, maxResults, vectorstore.RankingOptions{}, combined)
		if err != nil {
			return fmt.Errorf("hybrid: lexical search: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return fuse(vectorResults, lexicalResults, alpha), nil
}

// dedupKey implements the spec's "{file_id}-{chunk_id ?? chunk_index ??
// hash(content)}" key, preferring the most specific identifier
// available on each result.
func dedupKey(r vectorstore.SearchResult) string {
	if r.ChunkID != "" {
		return r.FileID + "-" + r.ChunkID
	}
	if r.HasChunkIndex {
		return fmt.Sprintf("%s-%d", r.FileID, r.ChunkIndex)
	}
	return r.FileID + "-" + hashContent(r)
}

func hashContent(r vectorstore.SearchResult) string {
	h := sha256.New()
	for _, part := range r.Content {
		h.Write([]byte(part.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func maxScore(results []vectorstore.SearchResult) float64 {
	max := 0.0
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	return max
}

type fusedEntry struct {
	result      vectorstore.SearchResult
	vectorNorm  float64
	lexicalNorm float64
	hasVector   bool
	hasLexical  bool
}

// fuse merges vector and lexical result sets by dedup key, normalizing
// each source's scores by that source's max within this batch (0 when
// the batch is empty), then combining with fused = alpha*vector +
// (1-alpha)*lexical. On a dedup collision the vector result's metadata
// wins (it carries richer attributes) but the score is always the
// fused one.
func fuse(vectorResults, lexicalResults []vectorstore.SearchResult, alpha float64) []vectorstore.SearchResult {
	vMax := maxScore(vectorResults)
	lMax := maxScore(lexicalResults)

	byKey := make(map[string]*fusedEntry)
	var order []string

	for _, r := range vectorResults {
		key := dedupKey(r)
		norm := 0.0
		if vMax > 0 {
			norm = r.Score / vMax
		}
		if existing, ok := byKey[key]; ok {
			if norm > existing.vectorNorm {
				existing.result = r
				existing.vectorNorm = norm
			}
			continue
		}
		byKey[key] = &fusedEntry{result: r, vectorNorm: norm, hasVector: true}
		order = append(order, key)
	}

	for _, r := range lexicalResults {
		key := dedupKey(r)
		norm := 0.0
		if lMax > 0 {
			norm = r.Score / lMax
		}
		if existing, ok := byKey[key]; ok {
			existing.lexicalNorm = norm
			existing.hasLexical = true
			continue
		}
		byKey[key] = &fusedEntry{result: r, lexicalNorm: norm, hasLexical: true}
		order = append(order, key)
	}

	out := make([]vectorstore.SearchResult, 0, len(order))
	for _, key := range order {
		e := byKey[key]
		fused := alpha*e.vectorNorm + (1-alpha)*e.lexicalNorm
		e.result.Score = fused
		out = append(out, e.result)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].FileID != out[j].FileID {
			return out[i].FileID < out[j].FileID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out
}
