package vectorstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/openresponses/orchestrator/internal/chunker"
	"github.com/openresponses/orchestrator/internal/dynjson"
	"github.com/openresponses/orchestrator/internal/embedder"
	"github.com/openresponses/orchestrator/internal/filter"
)

const (
	payloadKeyFileID     = "file_id"
	payloadKeyFilename   = "filename"
	payloadKeyChunkID    = "chunk_id"
	payloadKeyChunkIndex = "chunk_index"
	payloadKeyTotal      = "total_chunks"
	payloadKeyText       = "text"
	payloadKeyVSID       = "vector_store_id"
	payloadKeyAttrs      = "attributes"
)

// pointNamespace scopes the deterministic point-id derivation so the
// same (fileID, chunkIndex) pair always maps to the same Qdrant point,
// making IndexFile's upsert naturally idempotent.
var pointNamespace = uuid.MustParse("6f6e6465-6e74-4c4c-4d2d-706f696e7473")

func pointID(fileID string, chunkIndex int) *qc.PointId {
	id := uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s/%d", fileID, chunkIndex)))
	return &qc.PointId{PointIdOptions: &qc.PointId_Uuid{Uuid: id.String()}}
}

// QdrantConfig configures the Qdrant-backed Store.
type QdrantConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	CollectionName string
}

// QdrantStore is a Store backed by a Qdrant collection. One collection
// holds chunks for every vector store; vector_store_id is carried as a
// payload field. SearchSimilar sends no payload condition to Qdrant:
// the whole filter tree, vector_store_id scope included, is evaluated
// in-process against the retrieved payload, since Qdrant's condition
// model cannot express arbitrary nested and/or/not trees.
type QdrantStore struct {
	client     *qc.Client
	collection string
	embed      embedder.Embedder

	// fileLocks serializes IndexFile/DeleteFile per file id so a
	// concurrent re-ingest and delete of the same file cannot interleave.
	fileLocks sync.Map
}

// NewQdrantStore dials Qdrant and returns a Store. EnsureCollection must
// be called once before use.
func NewQdrantStore(cfg QdrantConfig, embed embedder.Embedder) (*QdrantStore, error) {
	collection := cfg.CollectionName
	if collection == "" {
		collection = "open_responses_chunks"
	}

	client, err := qc.NewClient(&qc.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect to qdrant: %w", err)
	}

	return &QdrantStore{client: client, collection: collection, embed: embed}, nil
}

// EnsureCollection creates the backing collection if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     uint64(s.embed.Dimensions()),
			Distance: qc.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *QdrantStore) lockFor(fileID string) *sync.Mutex {
	v, _ := s.fileLocks.LoadOrStore(fileID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// IndexFile implements Store.
func (s *QdrantStore) IndexFile(ctx context.Context, fileID string, content io.Reader, filename string, strategy chunker.Strategy, preDeleteIfExists bool, attributes map[string]any, vectorStoreID string) (bool, error) {
	mu := s.lockFor(fileID)
	mu.Lock()
	defer mu.Unlock()

	if preDeleteIfExists {
		if _, err := s.deleteFileLocked(ctx, fileID); err != nil {
			return false, fmt.Errorf("vectorstore: pre-delete %s: %w", fileID, err)
		}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return false, fmt.Errorf("vectorstore: read content for %s: %w", fileID, err)
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
		return false, fmt.Errorf("%w: embed %s: %v", ErrChunkWriteFailed, fileID, err)
	}

	ids := make([]*qc.PointId, len(chunks))
	points := make([]*qc.PointStruct, len(chunks))
	for i, c := range chunks {
		ids[i] = pointID(fileID, c.Index)
		points[i] = &qc.PointStruct{
			Id:      ids[i],
			Vectors: qc.NewVectors(vectors[i]...),
			Payload: qc.NewValueMap(map[string]any{
				payloadKeyFileID:     fileID,
				payloadKeyFilename:   filename,
				payloadKeyChunkID:    fmt.Sprintf("%s:%d", fileID, c.Index),
				payloadKeyChunkIndex: int64(c.Index),
				payloadKeyTotal:      int64(c.Total),
				payloadKeyText:       c.Text,
				payloadKeyVSID:       vectorStoreID,
				payloadKeyAttrs:      attributes,
			}),
		}
	}

	if _, err := s.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	}); err != nil {
		s.rollbackPoints(ctx, ids)
		return false, fmt.Errorf("%w: upsert %s: %v", ErrChunkWriteFailed, fileID, err)
	}

	return true, nil
}

func (s *QdrantStore) rollbackPoints(ctx context.Context, ids []*qc.PointId) {
	_, _ = s.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: s.collection,
		Points: &qc.PointsSelector{
			PointsSelectorOneOf: &qc.PointsSelector_Points{
				Points: &qc.PointsIdsList{Ids: ids},
			},
		},
	})
}

// SearchSimilar implements Store.
func (s *QdrantStore) SearchSimilar(ctx context.Context, query string, maxResults int, ranking RankingOptions, f filter.Node) ([]SearchResult, error) {
	if query == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: embed query: %w", err)
	}

	// Over-fetch since the compound filter is applied after retrieval.
	overfetch := maxResults * 4
	if overfetch < 50 {
		overfetch = 50
	}

	scored, err := s.client.Query(ctx, &qc.QueryPoints{
		CollectionName: s.collection,
		Query:          qc.NewQuery(vec...),
		Limit:          qc.PtrOf(uint64(overfetch)),
		WithPayload:    qc.NewWithPayload(true),
		ScoreThreshold: qc.PtrOf(float32(ranking.threshold())),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}

	results := make([]SearchResult, 0, len(scored))
	for _, p := range scored {
		res, metadata := payloadToResult(p.GetPayload())
		res.Score = float64(p.GetScore())

		if f != nil {
			ok, err := filter.Matches(f, metadata, res.FileID)
			if err != nil {
				return nil, fmt.Errorf("vectorstore: apply filter: %w", err)
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

// DeleteFile implements Store.
func (s *QdrantStore) DeleteFile(ctx context.Context, fileID string) (bool, error) {
	mu := s.lockFor(fileID)
	mu.Lock()
	defer mu.Unlock()
	return s.deleteFileLocked(ctx, fileID)
}

func (s *QdrantStore) deleteFileLocked(ctx context.Context, fileID string) (bool, error) {
	existing, err := s.scrollByFileID(ctx, fileID, 1)
	if err != nil {
		return false, err
	}
	if len(existing) == 0 {
		return false, nil
	}

	_, err = s.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: s.collection,
		Points: &qc.PointsSelector{
			PointsSelectorOneOf: &qc.PointsSelector_Filter{
				Filter: &qc.Filter{Must: []*qc.Condition{matchKeyword(payloadKeyFileID, fileID)}},
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("vectorstore: delete %s: %w", fileID, err)
	}
	return true, nil
}

// GetFileMetadata implements Store.
func (s *QdrantStore) GetFileMetadata(ctx context.Context, fileID string) (map[string]any, error) {
	points, err := s.scrollByFileID(ctx, fileID, 1)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	_, metadata := payloadToResult(points[0].GetPayload())
	attrs, _ := metadata.Get(payloadKeyAttrs)
	out, _ := attrs.ToAny().(map[string]any)
	return out, nil
}

func (s *QdrantStore) scrollByFileID(ctx context.Context, fileID string, limit uint32) ([]*qc.RetrievedPoint, error) {
	points, err := s.client.Scroll(ctx, &qc.ScrollPoints{
		CollectionName: s.collection,
		Filter:         &qc.Filter{Must: []*qc.Condition{matchKeyword(payloadKeyFileID, fileID)}},
		Limit:          qc.PtrOf(limit),
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scroll %s: %w", fileID, err)
	}
	return points, nil
}

func matchKeyword(key, value string) *qc.Condition {
	return &qc.Condition{
		ConditionOneOf: &qc.Condition_Field{
			Field: &qc.FieldCondition{
				Key:   key,
				Match: &qc.Match{MatchValue: &qc.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func payloadToResult(payload map[string]*qc.Value) (SearchResult, dynjson.Value) {
	metadata := qdrantPayloadToDyn(payload)

	res := SearchResult{
		FileID:   stringField(payload, payloadKeyFileID),
		Filename: stringField(payload, payloadKeyFilename),
		ChunkID:  stringField(payload, payloadKeyChunkID),
		Content:  []ContentPart{{Type: "text", Text: stringField(payload, payloadKeyText)}},
	}
	if v, ok := payload[payloadKeyChunkIndex]; ok {
		res.ChunkIndex = int(v.GetIntegerValue())
		res.HasChunkIndex = true
	}
	return res, metadata
}

func stringField(payload map[string]*qc.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// qdrantPayloadToDyn converts a retrieved payload map into a dynjson
// value whose top-level keys mirror the stored fields, with the
// caller-supplied attributes nested under "attributes" exactly as
// IndexFile stored them.
func qdrantPayloadToDyn(payload map[string]*qc.Value) dynjson.Value {
	m := make(map[string]dynjson.Value, len(payload))
	for k, v := range payload {
		m[k] = qdrantValueToDyn(v)
	}
	return dynjson.Map(m)
}

func qdrantValueToDyn(v *qc.Value) dynjson.Value {
	switch kind := v.GetKind().(type) {
	case *qc.Value_NullValue:
		return dynjson.Null()
	case *qc.Value_BoolValue:
		return dynjson.Bool(kind.BoolValue)
	case *qc.Value_IntegerValue:
		return dynjson.Number(float64(kind.IntegerValue))
	case *qc.Value_DoubleValue:
		return dynjson.Number(kind.DoubleValue)
	case *qc.Value_StringValue:
		return dynjson.String(kind.StringValue)
	case *qc.Value_ListValue:
		items := make([]dynjson.Value, len(kind.ListValue.GetValues()))
		for i, lv := range kind.ListValue.GetValues() {
			items[i] = qdrantValueToDyn(lv)
		}
		return dynjson.List(items)
	case *qc.Value_StructValue:
		m := make(map[string]dynjson.Value, len(kind.StructValue.GetFields()))
		for k, sv := range kind.StructValue.GetFields() {
			m[k] = qdrantValueToDyn(sv)
		}
		return dynjson.Map(m)
	default:
		return dynjson.Null()
	}
}
