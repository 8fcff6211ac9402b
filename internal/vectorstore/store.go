// Package vectorstore implements the Vector Search Provider (C4): indexing
// chunked, embedded file content and searching it with metadata filters
// and a score threshold.
package vectorstore

import (
	"context"
	"errors"
	"io"

	"github.com/openresponses/orchestrator/internal/chunker"
	"github.com/openresponses/orchestrator/internal/dynjson"
	"github.com/openresponses/orchestrator/internal/filter"
)

// DefaultScoreThreshold is the minimum similarity score a result must
// strictly exceed to be returned (§4.3).
const DefaultScoreThreshold = 0.07

// ContentPart is one piece of a search result's content.
type ContentPart struct {
	Type string
	Text string
}

// RankingOptions configures result filtering/ordering.
type RankingOptions struct {
	// ScoreThreshold defaults to DefaultScoreThreshold when zero.
	ScoreThreshold float64
}

func (r RankingOptions) threshold() float64 {
	if r.ScoreThreshold <= 0 {
		return DefaultScoreThreshold
	}
	return r.ScoreThreshold
}

// SearchResult is one hit from a vector or lexical search.
type SearchResult struct {
	FileID     string
	Filename   string
	Score      float64
	Content    []ContentPart
	Attributes dynjson.Value

	// ChunkID and ChunkIndex identify the specific chunk, carried in
	// Attributes too but surfaced directly for dedup keys (C6/C8).
	// HasChunkIndex distinguishes "chunk_index 0" from "no chunk_index
	// in the payload at all", since the zero value can't: a result's
	// first chunk legitimately carries ChunkIndex 0.
	ChunkID       string
	ChunkIndex    int
	HasChunkIndex bool
}

// ErrChunkWriteFailed signals that indexing a file's chunks failed
// partway through; the caller must have already rolled back any chunks
// already written for that file id (§4.3).
var ErrChunkWriteFailed = errors.New("vectorstore: chunk write failed")

// Store is the Vector Search Provider contract.
type Store interface {
	// IndexFile chunks, embeds, and stores content under fileID. When
	// preDeleteIfExists is true (the default) any existing chunks for
	// fileID are removed first, making re-ingest idempotent. attributes
	// are merged onto every chunk's metadata; filename is always
	// included. On any error partway through, already-written chunks
	// for this fileID are rolled back.
	IndexFile(ctx context.Context, fileID string, content io.Reader, filename string, strategy chunker.Strategy, preDeleteIfExists bool, attributes map[string]any, vectorStoreID string) (bool, error)

	// SearchSimilar returns up to maxResults hits for query, sorted by
	// score descending (stable on ties by file_id, chunk_index), each
	// strictly exceeding ranking.ScoreThreshold. An empty query returns
	// an empty slice and nil error, never an error.
	SearchSimilar(ctx context.Context, query string, maxResults int, ranking RankingOptions, f filter.Node) ([]SearchResult, error)

	// DeleteFile removes all chunks for fileID. Idempotent: returns
	// false only when the implementation can prove nothing was deleted.
	DeleteFile(ctx context.Context, fileID string) (bool, error)

	// GetFileMetadata returns the merged attributes last written for
	// fileID, or nil if the file is not present.
	GetFileMetadata(ctx context.Context, fileID string) (map[string]any, error)
}
