// Package embedder defines the embedding-generation contract consumed by
// the vector search provider (C4) for ingest and query-time embedding.
// Embedding generation itself is an external collaborator per spec.md
// §1 (out of scope); this package is the thin interface plus one real
// HTTP-backed implementation, grounded on the teacher's
// internal/rag/embedder pattern of interface + single concrete adapter.
package embedder

import "context"

// Embedder turns text into dense vectors.
type Embedder interface {
	// Embed returns the embedding for one piece of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts in one call,
	// preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector length this embedder
	// produces, needed up front to create a vector-store collection.
	Dimensions() int
}
