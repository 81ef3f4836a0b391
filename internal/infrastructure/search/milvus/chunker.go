package milvus

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// ChunkText splits text into rune-bounded chunks of at most size runes with
// the given overlap between consecutive chunks.  Whitespace-only chunks are
// dropped.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// HashingEmbedder is the default embedder: a term-frequency feature-hashing
// vectorizer with L2 normalization.  Deterministic, dependency-free, and
// replaceable by a model-backed Embedder through the Indexer constructor.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder constructs a HashingEmbedder with the given dimension.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashingEmbedder{dim: dim}
}

// Embed maps the chunk's lowercased terms into a dim-sized vector via the
// hashing trick.
func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, term := range terms {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		// The top bit decides the sign, which keeps hash collisions from
		// systematically inflating buckets.
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
