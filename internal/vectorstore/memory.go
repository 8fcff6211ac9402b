package vectorstore

import (
	"bytes"
	"context"
	"io"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/openresponses/orchestrator/internal/chunker"
	"github.com/openresponses/orchestrator/internal/dynjson"
	"github.com/openresponses/orchestrator/internal/embedder"
	"github.com/openresponses/orchestrator/internal/filter"
)

type memoryChunk struct {
	fileID        string
	filename      string
	chunkID       string
	chunkIndex    int
	text          string
	vector        []float32
	attributes    map[string]any
	vectorStoreID string
}

// MemoryStore is an in-process Store, used in tests and as a fallback
// when no Qdrant endpoint is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	embed  embedder.Embedder
	chunks map[string][]memoryChunk // fileID -> chunks
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore(embed embedder.Embedder) *MemoryStore {
	return &MemoryStore{embed: embed, chunks: make(map[string][]memoryChunk)}
}

// IndexFile implements Store.
func (s *MemoryStore) IndexFile(ctx context.Context, fileID string, content io.Reader, filename string, strategy chunker.Strategy, preDeleteIfExists bool, attributes map[string]any, vectorStoreID string) (bool, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return false, err
	}

	chunks := chunker.ChunkText(buf.String(), strategy)
	if len(chunks) == 0 {
		return false, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return false, err
	}

	out := make([]memoryChunk, len(chunks))
	for i, c := range chunks {
		out[i] = memoryChunk{
			fileID:        fileID,
			filename:      filename,
			chunkID:       fileID + ":" + strconv.Itoa(c.Index),
			chunkIndex:    c.Index,
			text:          c.Text,
			vector:        vectors[i],
			attributes:    attributes,
			vectorStoreID: vectorStoreID,
		}
	}

	s.mu.Lock()
	if preDeleteIfExists {
		delete(s.chunks, fileID)
	}
	s.chunks[fileID] = out
	s.mu.Unlock()
	return true, nil
}

// SearchSimilar implements Store.
func (s *MemoryStore) SearchSimilar(ctx context.Context, query string, maxResults int, ranking RankingOptions, f filter.Node) ([]SearchResult, error) {
	if query == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	qvec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	threshold := ranking.threshold()
	var results []SearchResult
	for _, chunks := range s.chunks {
		for _, c := range chunks {
			score := cosineSimilarity(qvec, c.vector)
			if score <= threshold {
				continue
			}

			metadata := chunkMetadata(c)
			if f != nil {
				ok, err := filter.Matches(f, metadata, c.fileID)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}

			results = append(results, SearchResult{
				FileID:     c.fileID,
				Filename:   c.filename,
				Score:      score,
				Content:    []ContentPart{{Type: "text", Text: c.text}},
				Attributes: metadata,
				ChunkID:       c.chunkID,
				ChunkIndex:    c.chunkIndex,
				HasChunkIndex: true,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].FileID != results[j].FileID {
			return results[i].FileID < results[j].FileID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// DeleteFile implements Store.
func (s *MemoryStore) DeleteFile(ctx context.Context, fileID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chunks[fileID]
	delete(s.chunks, fileID)
	return ok, nil
}

// GetFileMetadata implements Store.
func (s *MemoryStore) GetFileMetadata(ctx context.Context, fileID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks, ok := s.chunks[fileID]
	if !ok || len(chunks) == 0 {
		return nil, nil
	}
	return chunks[0].attributes, nil
}

func chunkMetadata(c memoryChunk) dynjson.Value {
	return dynjson.FromAny(map[string]any{
		payloadKeyFileID:     c.fileID,
		payloadKeyFilename:   c.filename,
		payloadKeyChunkID:    c.chunkID,
		payloadKeyChunkIndex: c.chunkIndex,
		payloadKeyVSID:       c.vectorStoreID,
		payloadKeyAttrs:      c.attributes,
	})
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

