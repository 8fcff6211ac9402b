// Package idgen generates stable identifiers for responses, conversations,
// and vector-indexed chunks.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewResponseID returns a new monotonic UUID (v7) suitable for response and
// conversation identifiers. UUIDv7 embeds a millisecond timestamp so ids
// sort lexically in creation order, which keeps append-only store scans cheap.
func NewResponseID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system clock/random source is broken;
		// fall back to a random v4 rather than panic in request path.
		return uuid.New().String()
	}
	return id.String()
}

// NewConversationID returns a new monotonic UUID for a conversation/thread.
func NewConversationID() string {
	return NewResponseID()
}

// chunkIDBytes is the number of random bytes backing a chunk id, giving a
// 16-hex-character identifier that is short enough to embed in vector-store
// point ids alongside a file id.
const chunkIDBytes = 8

// NewChunkID returns a short, unique id for one chunk of one file. It is not
// derived from content so that re-chunking the same file with a different
// strategy does not collide with previously indexed chunks still pending
// deletion.
func NewChunkID() string {
	buf := make([]byte, chunkIDBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a supported platform does not fail; keep a
		// fallback so callers never have to handle an error.
		return fmt.Sprintf("chunk-%s", uuid.New().String()[:16])
	}
	return hex.EncodeToString(buf)
}

// PointID builds a stable id for one chunk from its file id and index,
// unchanged across re-indexing passes. QdrantStore does not use it; its
// point ids are UUIDs derived from the same pair.
func PointID(fileID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", fileID, chunkIndex)
}
