package vectorstore

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/orchestrator/internal/chunker"
	"github.com/openresponses/orchestrator/internal/dynjson"
	"github.com/openresponses/orchestrator/internal/filter"
)

// hashEmbedder is a deterministic stand-in for a real embedding model:
// texts that share more words land closer together in cosine space.
type hashEmbedder struct{ dims int }

func (h hashEmbedder) Dimensions() int { return h.dims }

func (h hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(word))
		vec[int(hasher.Sum32())%h.dims] += 1
	}
	return vec, nil
}

func (h hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = h.Embed(ctx, t)
	}
	return out, nil
}

func newTestStore() *MemoryStore {
	return NewMemoryStore(hashEmbedder{dims: 64})
}

func TestIndexFile_ThenSearchFindsChunk(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	ok, err := store.IndexFile(ctx, "file-1", strings.NewReader("the quick brown fox jumps over the lazy dog"), "fox.txt", chunker.DefaultStrategy(), true, map[string]any{"category": "animals"}, "vs-1")
	require.NoError(t, err)
	assert.True(t, ok)

	results, err := store.SearchSimilar(ctx, "quick fox jumps", 5, RankingOptions{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "file-1", results[0].FileID)
	assert.Equal(t, "fox.txt", results[0].Filename)
}

func TestSearchSimilar_EmptyQueryReturnsEmpty(t *testing.T) {
	store := newTestStore()
	results, err := store.SearchSimilar(context.Background(), "", 5, RankingOptions{}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSimilar_RespectsScoreThreshold(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	_, err := store.IndexFile(ctx, "file-1", strings.NewReader("completely unrelated subject matter about rocks"), "rocks.txt", chunker.DefaultStrategy(), true, nil, "vs-1")
	require.NoError(t, err)

	results, err := store.SearchSimilar(ctx, "quantum computing architecture", 5, RankingOptions{ScoreThreshold: 0.99}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSimilar_AppliesMetadataFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	_, err := store.IndexFile(ctx, "file-1", strings.NewReader("shared vocabulary about foxes and dogs"), "a.txt", chunker.DefaultStrategy(), true, map[string]any{"category": "animals"}, "vs-1")
	require.NoError(t, err)
	_, err = store.IndexFile(ctx, "file-2", strings.NewReader("shared vocabulary about foxes and dogs"), "b.txt", chunker.DefaultStrategy(), true, map[string]any{"category": "minerals"}, "vs-1")
	require.NoError(t, err)

	f := filter.Comparison{Key: "attributes.category", Op: filter.OpEq, Value: dynjson.String("animals")}
	results, err := store.SearchSimilar(ctx, "foxes and dogs", 10, RankingOptions{}, f)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "file-1", r.FileID)
	}
	assert.NotEmpty(t, results)
}

func TestDeleteFile_RemovesChunksAndReportsPriorExistence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	_, err := store.IndexFile(ctx, "file-1", strings.NewReader("some content here"), "a.txt", chunker.DefaultStrategy(), true, nil, "vs-1")
	require.NoError(t, err)

	deleted, err := store.DeleteFile(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deletedAgain, err := store.DeleteFile(ctx, "file-1")
	require.NoError(t, err)
	assert.False(t, deletedAgain)
}

func TestGetFileMetadata_ReturnsNilWhenAbsent(t *testing.T) {
	store := newTestStore()
	meta, err := store.GetFileMetadata(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestIndexFile_PreDeleteMakesReingestIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	strategy := chunker.Strategy{MaxChunkSizeTokens: 3, ChunkOverlapTokens: 0}

	_, err := store.IndexFile(ctx, "file-1", strings.NewReader("one two three four five six"), "a.txt", strategy, true, nil, "vs-1")
	require.NoError(t, err)
	firstCount := len(store.chunks["file-1"])

	_, err = store.IndexFile(ctx, "file-1", strings.NewReader("one two three four five six"), "a.txt", strategy, true, nil, "vs-1")
	require.NoError(t, err)
	assert.Equal(t, firstCount, len(store.chunks["file-1"]))
}
