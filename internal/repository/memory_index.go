package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/embedding"
)

// MemoryIndex is an in-process vector index with the same query semantics as
// VectorIndex. It backs the memory vector backend and end-to-end tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	seq     int64
	corpora map[domain.Corpus][]memoryRow
}

type memoryRow struct {
	seq   int64
	chunk domain.Chunk
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		corpora: map[domain.Corpus][]memoryRow{
			domain.CorpusKnowledge:     nil,
			domain.CorpusPatientRecord: nil,
		},
	}
}

func (m *MemoryIndex) Upsert(ctx context.Context, corpus domain.Corpus, chunks []domain.Chunk) (int, error) {
	if !domain.IsValidCorpus(corpus) {
		return 0, fmt.Errorf("unknown corpus: %s", corpus)
	}
	for i := range chunks {
		if err := domain.ValidateChunk(corpus, &chunks[i]); err != nil {
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, domain.IndexUnavailable(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range chunks {
		m.seq++
		stored := cloneChunk(c)
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		m.corpora[corpus] = append(m.corpora[corpus], memoryRow{seq: m.seq, chunk: stored})
	}
	return len(chunks), nil
}

func (m *MemoryIndex) Query(ctx context.Context, corpus domain.Corpus, q domain.VectorQuery) ([]domain.ScoredMatch, error) {
	if !domain.IsValidCorpus(corpus) {
		return nil, fmt.Errorf("unknown corpus: %s", corpus)
	}
	if corpus == domain.CorpusPatientRecord && q.OwnerID == "" {
		return nil, domain.ErrInvalidScope
	}
	if len(q.Vector) == 0 {
		return nil, errors.New("query vector is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.IndexUnavailable(err)
	}
	if q.K <= 0 {
		return []domain.ScoredMatch{}, nil
	}

	m.mu.RLock()
	type candidate struct {
		seq   int64
		match domain.ScoredMatch
	}
	var candidates []candidate
	for _, row := range m.corpora[corpus] {
		if corpus == domain.CorpusPatientRecord && row.chunk.Metadata.OwnerID != q.OwnerID {
			continue
		}
		sim := embedding.Similarity(q.Vector, row.chunk.Embedding)
		if sim < q.ScoreFloor {
			continue
		}
		candidates = append(candidates, candidate{
			seq:   row.seq,
			match: domain.ScoredMatch{Chunk: cloneChunk(row.chunk), Similarity: sim, Corpus: corpus},
		})
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].match.Similarity != candidates[j].match.Similarity {
			return candidates[i].match.Similarity > candidates[j].match.Similarity
		}
		return candidates[i].seq > candidates[j].seq
	})

	if len(candidates) > q.K {
		candidates = candidates[:q.K]
	}
	matches := make([]domain.ScoredMatch, len(candidates))
	for i, c := range candidates {
		matches[i] = c.match
	}
	return matches, nil
}

// Len returns the number of chunks stored in a corpus.
func (m *MemoryIndex) Len(corpus domain.Corpus) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.corpora[corpus])
}

func cloneChunk(c domain.Chunk) domain.Chunk {
	out := c
	out.Embedding = append([]float32(nil), c.Embedding...)
	if c.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]string, len(c.Metadata.Extra))
		for k, v := range c.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return out
}
