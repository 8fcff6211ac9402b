// Package chunker provides token-aware text chunking for the RAG ingest
// pipeline (C3), adapted from the teacher's character-based chunker to
// operate on token counts. ChunkText builds the whole chunk sequence at
// once and returns it as a slice; chunks are not produced lazily.
package chunker

import (
	"strings"
	"unicode"
)

// Chunk is one segment of text with its position in the chunk sequence.
type Chunk struct {
	// Index is the chunk's 0-based position in the sequence.
	Index int

	// Total is the length of the full sequence this chunk belongs to,
	// so callers can stamp total_chunks metadata without a second pass.
	Total int

	// Text is the chunk content.
	Text string
}

// Strategy configures chunking behavior. Sizes are expressed in tokens,
// not characters.
type Strategy struct {
	// MaxChunkSizeTokens is the target chunk size in tokens (default 1000).
	MaxChunkSizeTokens int

	// ChunkOverlapTokens is the overlap between consecutive chunks in
	// tokens (default 200). Must be strictly less than MaxChunkSizeTokens.
	ChunkOverlapTokens int
}

// DefaultStrategy returns the spec's documented defaults.
func DefaultStrategy() Strategy {
	return Strategy{MaxChunkSizeTokens: 1000, ChunkOverlapTokens: 200}
}

func (s Strategy) normalized() Strategy {
	if s.MaxChunkSizeTokens <= 0 {
		s.MaxChunkSizeTokens = 1000
	}
	if s.ChunkOverlapTokens < 0 {
		s.ChunkOverlapTokens = 0
	}
	if s.ChunkOverlapTokens >= s.MaxChunkSizeTokens {
		s.ChunkOverlapTokens = s.MaxChunkSizeTokens / 5
	}
	return s
}

// token is a (start, end) byte span over the original string, used to
// let chunk boundaries fall on token edges instead of splitting mid-word.
type token struct {
	start, end int
}

// tokenize splits text into a rough token stream by runs of non-space
// characters. This approximates the token-granularity the spec assumes
// without pulling in a model-specific BPE tokenizer: one "token" here is
// one whitespace-delimited word-or-punctuation run, which is a stable,
// dependency-free proxy good enough for chunk-size budgeting.
func tokenize(text string) []token {
	var tokens []token
	inToken := false
	start := 0
	runes := []rune(text)
	byteOffsets := make([]int, len(runes)+1)
	offset := 0
	for i, r := range runes {
		byteOffsets[i] = offset
		offset += len(string(r))
	}
	byteOffsets[len(runes)] = offset

	for i, r := range runes {
		if unicode.IsSpace(r) {
			if inToken {
				tokens = append(tokens, token{start: byteOffsets[start], end: byteOffsets[i]})
				inToken = false
			}
			continue
		}
		if !inToken {
			start = i
			inToken = true
		}
	}
	if inToken {
		tokens = append(tokens, token{start: byteOffsets[start], end: byteOffsets[len(runes)]})
	}
	return tokens
}

// ChunkText splits text into overlapping chunks per Strategy. Empty input
// yields an empty sequence. The last chunk may be short.
func ChunkText(text string, strategy Strategy) []Chunk {
	strategy = strategy.normalized()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	step := strategy.MaxChunkSizeTokens - strategy.ChunkOverlapTokens
	if step <= 0 {
		step = strategy.MaxChunkSizeTokens
	}

	var spans [][2]int
	for start := 0; start < len(tokens); start += step {
		end := start + strategy.MaxChunkSizeTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		spans = append(spans, [2]int{start, end})
		if end == len(tokens) {
			break
		}
	}

	chunks := make([]Chunk, 0, len(spans))
	for i, span := range spans {
		startByte := tokens[span[0]].start
		endByte := tokens[span[1]-1].end
		chunkText := strings.TrimSpace(text[startByte:endByte])
		if chunkText == "" {
			continue
		}
		chunks = append(chunks, Chunk{Index: i, Text: chunkText})
	}
	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
	}
	return chunks
}
