package agentic

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/orchestrator/internal/chunker"
	"github.com/openresponses/orchestrator/internal/filter"
	"github.com/openresponses/orchestrator/internal/hybrid"
	"github.com/openresponses/orchestrator/internal/provider"
	"github.com/openresponses/orchestrator/internal/vectorstore"
)

// stubStore is a fixed-response vectorstore.Store double.
type stubStore struct {
	results []vectorstore.SearchResult
}

func (s *stubStore) IndexFile(ctx context.Context, fileID string, content io.Reader, filename string, strategy chunker.Strategy, preDeleteIfExists bool, attributes map[string]any, vectorStoreID string) (bool, error) {
	return true, nil
}

func (s *stubStore) SearchSimilar(ctx context.Context, query string, maxResults int, ranking vectorstore.RankingOptions, f filter.Node) ([]vectorstore.SearchResult, error) {
	return s.results, nil
}

func (s *stubStore) DeleteFile(ctx context.Context, fileID string) (bool, error) { return true, nil }

func (s *stubStore) GetFileMetadata(ctx context.Context, fileID string) (map[string]any, error) {
	return nil, nil
}

// stubProvider returns canned decision texts in sequence, repeating
// the last one once exhausted.
type stubProvider struct {
	texts []string
	calls int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) GenerateReply(ctx context.Context, params provider.GenerateParams) (provider.GenerateResult, error) {
	text := p.texts[len(p.texts)-1]
	if p.calls < len(p.texts) {
		text = p.texts[p.calls]
	}
	p.calls++
	return provider.GenerateResult{Text: text}, nil
}

func (p *stubProvider) GenerateReplyStream(ctx context.Context, params provider.GenerateParams) (<-chan provider.StreamChunk, error) {
	return nil, nil
}

func (p *stubProvider) SupportsFileSearch() bool       { return true }
func (p *stubProvider) SupportsWebSearch() bool        { return false }
func (p *stubProvider) SupportsNativeContinuity() bool { return false }
func (p *stubProvider) SupportsStreaming() bool        { return false }

func newController(vectorResults []vectorstore.SearchResult, texts []string) *Controller {
	vector := &stubStore{results: vectorResults}
	lexical := &stubStore{}
	search := hybrid.New(vector, lexical)
	model := &stubProvider{texts: texts}
	return New(search, model, provider.ProviderConfig{})
}

func TestRun_EmptySeedReturnsImmediately(t *testing.T) {
	c := newController(nil, nil)
	result, err := c.Run(context.Background(), Inputs{Question: "what is x", MaxResults: 5, MaxIterations: 3})
	require.NoError(t, err)
	require.Len(t, result.SearchIterations, 1)
	assert.True(t, result.SearchIterations[0].IsFinal)
	assert.Equal(t, reasonNoInitialResults, result.SearchIterations[0].TerminationReason)
	assert.Empty(t, result.Data)
}

func TestRun_TerminatesOnFirstDecision(t *testing.T) {
	c := newController([]vectorstore.SearchResult{
		{FileID: "f1", ChunkIndex: 1, Score: 0.5, Filename: "a.txt"},
	}, []string{"TERMINATE: here is the answer"})

	result, err := c.Run(context.Background(), Inputs{Question: "q", MaxResults: 5, MaxIterations: 3})
	require.NoError(t, err)
	require.Len(t, result.SearchIterations, 1)
	assert.True(t, result.SearchIterations[0].IsFinal)
	assert.Equal(t, "here is the answer", result.SearchIterations[0].Summary)
	require.Len(t, result.Data, 1)
}

func TestRun_DedupKeepsHighestScore(t *testing.T) {
	c := newController([]vectorstore.SearchResult{
		{FileID: "f1", ChunkIndex: 1, Score: 0.2, Filename: "a.txt"},
		{FileID: "f1", ChunkIndex: 1, Score: 0.8, Filename: "a.txt"},
	}, []string{"TERMINATE: done"})

	result, err := c.Run(context.Background(), Inputs{Question: "q", MaxResults: 5, MaxIterations: 3})
	require.NoError(t, err)
	require.Len(t, result.Data, 1)
	assert.InDelta(t, 0.8, result.Data[0].Score, 1e-9)
}

func TestRun_ForceTerminatesOnMaxIterations(t *testing.T) {
	c := newController([]vectorstore.SearchResult{
		{FileID: "f1", ChunkIndex: 1, Score: 0.5, Filename: "a.txt"},
	}, []string{"NEXT_QUERY: x {}"})

	result, err := c.Run(context.Background(), Inputs{Question: "q", MaxResults: 5, MaxIterations: 2})
	require.NoError(t, err)
	last := result.SearchIterations[len(result.SearchIterations)-1]
	assert.True(t, last.IsFinal)
	assert.Equal(t, "Reached max iterations (2).", last.TerminationReason)
}

func TestRun_MemorySummaryBuiltFromFragments(t *testing.T) {
	c := newController([]vectorstore.SearchResult{
		{FileID: "f1", ChunkIndex: 1, Score: 0.5, Filename: "a.txt"},
	}, []string{
		"NEXT_QUERY: x {} ##MEMORY## Key1; Key2",
		"TERMINATE: final",
	})

	result, err := c.Run(context.Background(), Inputs{Question: "q", MaxResults: 5, MaxIterations: 5})
	require.NoError(t, err)
	assert.Contains(t, result.KnowledgeAcquired, "Iteration 1:")
	assert.Contains(t, result.KnowledgeAcquired, "Key1; Key2")
}

func TestRun_RepeatedQueriesForceTerminate(t *testing.T) {
	c := newController([]vectorstore.SearchResult{
		{FileID: "f1", ChunkIndex: 1, Score: 0.5, Filename: "a.txt"},
	}, []string{"NEXT_QUERY: same query {}"})

	result, err := c.Run(context.Background(), Inputs{Question: "q", MaxResults: 5, MaxIterations: 10})
	require.NoError(t, err)
	last := result.SearchIterations[len(result.SearchIterations)-1]
	assert.True(t, last.IsFinal)
	assert.Equal(t, reasonRepeatedQueries, last.TerminationReason)
}

func TestRun_InvalidDecisionForceTerminates(t *testing.T) {
	c := newController([]vectorstore.SearchResult{
		{FileID: "f1", ChunkIndex: 1, Score: 0.5, Filename: "a.txt"},
	}, []string{"garbage response"})

	result, err := c.Run(context.Background(), Inputs{Question: "q", MaxResults: 5, MaxIterations: 3})
	require.NoError(t, err)
	last := result.SearchIterations[len(result.SearchIterations)-1]
	assert.True(t, last.IsFinal)
	assert.Equal(t, reasonInvalidDecision, last.TerminationReason)
}

func TestRun_ValidatesPreconditions(t *testing.T) {
	c := newController(nil, nil)

	_, err := c.Run(context.Background(), Inputs{Question: "  ", MaxResults: 1, MaxIterations: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Run(context.Background(), Inputs{Question: "q", MaxResults: 0, MaxIterations: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Run(context.Background(), Inputs{Question: "q", MaxResults: 1, MaxIterations: 0})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseNextQuery_ExtractsFilterAndMemory(t *testing.T) {
	d := parseNextQuery(`find dogs {"category":"animals"} ##MEMORY## saw a dog`)
	assert.Equal(t, "find dogs", d.query)
	assert.Equal(t, `{"category":"animals"}`, d.filterJSON)
	assert.Equal(t, "saw a dog", d.memory)
}

func TestParseNextQuery_NoFilterOrMemory(t *testing.T) {
	d := parseNextQuery("just a query")
	assert.Equal(t, "just a query", d.query)
	assert.Empty(t, d.filterJSON)
	assert.Empty(t, d.memory)
}

func TestParseAttributeFilter_FailsClosedOnInvalidJSON(t *testing.T) {
	node, warning := parseAttributeFilter("{not json")
	assert.Nil(t, node)
	assert.NotEmpty(t, warning)
}

func TestParseDecision_RejectsUnrecognizedFormat(t *testing.T) {
	_, ok := parseDecision("I am not sure what to do")
	assert.False(t, ok)
}
