// Package lexical implements the Lexical Search Provider (C5): a
// BM25-class full-text index over the same chunks the vector store
// indexes, sharing its Store contract so hybrid search (C6) can fan out
// to both behind one interface.
package lexical

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/openresponses/orchestrator/internal/chunker"
	"github.com/openresponses/orchestrator/internal/dynjson"
	"github.com/openresponses/orchestrator/internal/filter"
	"github.com/openresponses/orchestrator/internal/vectorstore"
)

// doc is the Bleve-indexed document shape: the searchable text plus the
// metadata fields the filter language can address.
type doc struct {
	Text          string `json:"text"`
	FileID        string `json:"file_id"`
	Filename      string `json:"filename"`
	ChunkIndex    int    `json:"chunk_index"`
	Total         int    `json:"total_chunks"`
	VectorStoreID string `json:"vector_store_id"`
}

// Store is a bleve-backed full-text index implementing the same
// vectorstore.Store contract as the vector search provider, so C6 can
// treat both rankers identically.
type Store struct {
	mu    sync.RWMutex
	index bleve.Index

	// attrs holds caller-supplied attributes per chunk id, kept outside
	// Bleve's document since filter evaluation needs the untyped tree
	// dynjson.Value expects, not Bleve's flat mapped fields.
	attrs map[string]map[string]any

	// fileMeta is the last attributes map stored per file id, for
	// GetFileMetadata.
	fileMeta map[string]map[string]any
}

// NewStore builds an in-memory Bleve index. Bleve persists to disk only
// when opened with a path; an in-memory index is sufficient here since
// the durable source of truth for chunk text is the vector store (C4)
// and this index can be rebuilt from it.
func NewStore() (*Store, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("lexical: create index: %w", err)
	}
	return &Store{
		index:    idx,
		attrs:    make(map[string]map[string]any),
		fileMeta: make(map[string]map[string]any),
	}, nil
}

func buildMapping() *mapping.IndexMappingImpl { return bleve.NewIndexMapping() }

// IndexFile implements vectorstore.Store: it re-chunks the same content
// with the same strategy the vector store uses, so both rankers agree
// on chunk boundaries and chunk_index values.
func (s *Store) IndexFile(ctx context.Context, fileID string, content io.Reader, filename string, strategy chunker.Strategy, preDeleteIfExists bool, attributes map[string]any, vectorStoreID string) (bool, error) {
	raw, err := io.ReadAll(content)
	if err != nil {
		return false, fmt.Errorf("lexical: read content for %s: %w", fileID, err)
	}

	chunks := chunker.ChunkText(string(raw), strategy)
	if len(chunks) == 0 {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if preDeleteIfExists {
		if err := s.deleteFileLocked(fileID); err != nil {
			return false, err
		}
	}

	batch := s.index.NewBatch()
	for _, c := range chunks {
		id := chunkDocID(fileID, c.Index)
		d := doc{
			Text:          c.Text,
			FileID:        fileID,
			Filename:      filename,
			ChunkIndex:    c.Index,
			Total:         c.Total,
			VectorStoreID: vectorStoreID,
		}
		if err := batch.Index(id, d); err != nil {
			return false, fmt.Errorf("%w: %v", vectorstore.ErrChunkWriteFailed, err)
		}
		s.attrs[id] = attributes
	}
	if err := s.index.Batch(batch); err != nil {
		for _, c := range chunks {
			delete(s.attrs, chunkDocID(fileID, c.Index))
		}
		return false, fmt.Errorf("%w: batch: %v", vectorstore.ErrChunkWriteFailed, err)
	}

	s.fileMeta[fileID] = attributes
	return true, nil
}

// SearchSimilar implements vectorstore.Store: "similar" here means
// BM25-ranked lexical relevance, not vector distance.
func (s *Store) SearchSimilar(ctx context.Context, query string, maxResults int, ranking vectorstore.RankingOptions, f filter.Node) ([]vectorstore.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	overfetch := maxResults * 4
	if overfetch < 50 {
		overfetch = 50
	}

	mq := bleve.NewMatchQuery(query)
	mq.SetField("text")
	req := bleve.NewSearchRequest(mq)
	req.Size = overfetch
	req.Fields = []string{"text", "file_id", "filename", "chunk_index", "total_chunks", "vector_store_id"}

	s.mu.RLock()
	hits, err := s.index.SearchInContext(ctx, req)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("lexical: search: %w", err)
	}

	results := make([]vectorstore.SearchResult, 0, len(hits.Hits))
	for _, hit := range hits.Hits {
		res, metadata := s.hitToResult(hit)

		if f != nil {
			ok, err := filter.Matches(f, metadata, res.FileID)
			if err != nil {
				return nil, fmt.Errorf("lexical: apply filter: %w", err)
			}
			if !ok {
				continue
			}
		}
		results = append(results, res)
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

func (s *Store) hitToResult(hit *search.DocumentMatch) (vectorstore.SearchResult, dynjson.Value) {
	fileID := fieldString(hit.Fields, "file_id")
	text := fieldString(hit.Fields, "text")
	filename := fieldString(hit.Fields, "filename")
	chunkIndex := fieldInt(hit.Fields, "chunk_index")

	s.mu.RLock()
	attrs := s.attrs[hit.ID]
	s.mu.RUnlock()

	metadata := dynjson.FromAny(map[string]any{
		"file_id":         fileID,
		"filename":        filename,
		"chunk_index":     chunkIndex,
		"vector_store_id": fieldString(hit.Fields, "vector_store_id"),
		"attributes":      attrs,
	})

	return vectorstore.SearchResult{
		FileID:        fileID,
		Filename:      filename,
		Score:         hit.Score,
		Content:       []vectorstore.ContentPart{{Type: "text", Text: text}},
		ChunkID:       hit.ID,
		ChunkIndex:    chunkIndex,
		HasChunkIndex: true,
	}, metadata
}

func fieldString(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func fieldInt(fields map[string]interface{}, key string) int {
	switch v := fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// DeleteFile implements vectorstore.Store.
func (s *Store) DeleteFile(ctx context.Context, fileID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.fileMeta[fileID]
	if err := s.deleteFileLocked(fileID); err != nil {
		return false, err
	}
	return existed, nil
}

func (s *Store) deleteFileLocked(fileID string) error {
	ids, err := s.idsForFile(fileID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
		delete(s.attrs, id)
	}
	delete(s.fileMeta, fileID)
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("lexical: delete %s: %w", fileID, err)
	}
	return nil
}

func (s *Store) idsForFile(fileID string) ([]string, error) {
	mq := bleve.NewTermQuery(fileID)
	mq.SetField("file_id")
	req := bleve.NewSearchRequest(mq)
	req.Size = 10000
	hits, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical: scan %s: %w", fileID, err)
	}
	ids := make([]string, len(hits.Hits))
	for i, h := range hits.Hits {
		ids[i] = h.ID
	}
	return ids, nil
}

// GetFileMetadata implements vectorstore.Store.
func (s *Store) GetFileMetadata(ctx context.Context, fileID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs, ok := s.fileMeta[fileID]
	if !ok {
		return nil, nil
	}
	return attrs, nil
}

func chunkDocID(fileID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", fileID, chunkIndex)
}
