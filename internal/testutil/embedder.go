package testutil

import (
	"context"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder. Texts sharing the
// same alphanumeric tokens map to identical vectors, so punctuation-only
// differences have similarity 1.
type HashEmbedder struct {
	Dims  int
	calls atomic.Int64
}

func NewHashEmbedder(dims int) *HashEmbedder {
	return &HashEmbedder{Dims: dims}
}

func (h *HashEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	h.calls.Add(1)
	vec := make([]float32, h.Dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		vec[int(f.Sum32())%h.Dims]++
	}
	if len(tokens) == 0 {
		vec[0] = 1
	}
	return vec, nil
}

func (h *HashEmbedder) Model() string {
	return "hash-bow"
}

func (h *HashEmbedder) Dimensions() int {
	return h.Dims
}

// Calls returns how many embeddings were generated.
func (h *HashEmbedder) Calls() int {
	return int(h.calls.Load())
}
