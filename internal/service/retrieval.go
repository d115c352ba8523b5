package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/embedding"
	"github.com/cloo-solutions/carecontext/internal/logging"
	"github.com/cloo-solutions/carecontext/internal/telemetry"
)

// RetrievalConfig holds the tuning knobs for both retrieval modes.
type RetrievalConfig struct {
	TopK                int
	ClinicalTopK        int
	ScoreFloor          float32
	RedundancyThreshold float32
	// MaxChunks truncates the merged context after dedup. Zero means no cap.
	MaxChunks int
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:                5,
		ClinicalTopK:        8,
		ScoreFloor:          0.70,
		RedundancyThreshold: 0.95,
	}
}

// RetrievalService answers queries with context drawn from the knowledge base
// and one patient's record.
type RetrievalService struct {
	embedder Embedder
	index    VectorIndex
	cfg      RetrievalConfig
}

func NewRetrievalService(embedder Embedder, index VectorIndex, cfg RetrievalConfig) *RetrievalService {
	return &RetrievalService{embedder: embedder, index: index, cfg: cfg}
}

// Config returns the tuning knobs this service was built with.
func (s *RetrievalService) Config() RetrievalConfig {
	return s.cfg
}

// RetrieveForPatientQuery retrieves context for a patient-facing question.
func (s *RetrievalService) RetrieveForPatientQuery(ctx context.Context, ownerID, query string) (*domain.MergedContext, error) {
	return s.retrieve(ctx, "patient", ownerID, query, s.cfg.TopK)
}

// RetrieveForClinicalQuery retrieves denser context for a physician. A
// non-positive perSourceK uses the configured clinical default.
func (s *RetrievalService) RetrieveForClinicalQuery(ctx context.Context, ownerID, query string, perSourceK int) (*domain.MergedContext, error) {
	if perSourceK <= 0 {
		perSourceK = s.cfg.ClinicalTopK
	}
	return s.retrieve(ctx, "clinical", ownerID, query, perSourceK)
}

func (s *RetrievalService) retrieve(ctx context.Context, mode, ownerID, query string, k int) (*domain.MergedContext, error) {
	if ownerID == "" {
		return nil, domain.ErrInvalidScope
	}

	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Operation: "retrieve_" + mode,
	})
	defer span.End()

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// One fixed slot per corpus so arrival order cannot affect the merge.
	var knowledge, patient []domain.ScoredMatch
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		knowledge, err = s.queryCorpus(gctx, domain.CorpusKnowledge, domain.VectorQuery{
			Vector:     vec,
			K:          k,
			ScoreFloor: s.cfg.ScoreFloor,
		})
		return err
	})
	g.Go(func() error {
		var err error
		patient, err = s.queryCorpus(gctx, domain.CorpusPatientRecord, domain.VectorQuery{
			Vector:     vec,
			K:          k,
			ScoreFloor: s.cfg.ScoreFloor,
			OwnerID:    ownerID,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		span.SetError(err)
		return nil, err
	}
	// An abandoned request never yields a partial context.
	if err := ctx.Err(); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("retrieval abandoned: %w", err)
	}

	merged := MergeMatches(knowledge, patient)
	deduped := Deduplicate(merged, s.cfg.RedundancyThreshold)
	dropped := len(merged) - len(deduped)
	if s.cfg.MaxChunks > 0 && len(deduped) > s.cfg.MaxChunks {
		deduped = deduped[:s.cfg.MaxChunks]
	}

	span.SetData("knowledge_matches", len(knowledge))
	span.SetData("patient_matches", len(patient))
	span.SetData("chunks", len(deduped))

	logging.GetLogger(ctx).Debug("context retrieved",
		zap.String("owner_id", ownerID),
		zap.String("mode", mode),
		zap.Int("knowledge_matches", len(knowledge)),
		zap.Int("patient_matches", len(patient)),
		zap.Int("dropped_duplicates", dropped),
		zap.Int("chunks", len(deduped)))

	return &domain.MergedContext{Matches: deduped}, nil
}

func (s *RetrievalService) queryCorpus(ctx context.Context, corpus domain.Corpus, q domain.VectorQuery) ([]domain.ScoredMatch, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.queryCorpus", telemetry.SpanAttributes{
		OwnerID:   q.OwnerID,
		Corpus:    string(corpus),
		Operation: "query",
	})
	defer span.End()

	matches, err := s.index.Query(ctx, corpus, q)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to query %s: %w", corpus, err)
	}
	for i := range matches {
		matches[i].Corpus = corpus
	}
	return matches, nil
}

// MergeMatches combines ranked lists into one list sorted by similarity
// descending. Ties go to the more recently created chunk; remaining ties keep
// argument order, so each source's internal ranking is preserved.
func MergeMatches(lists ...[]domain.ScoredMatch) []domain.ScoredMatch {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	merged := make([]domain.ScoredMatch, 0, n)
	for _, l := range lists {
		merged = append(merged, l...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.Chunk.CreatedAt.After(b.Chunk.CreatedAt)
	})
	return merged
}

// Deduplicate drops every match whose embedding is more similar than
// threshold to a higher-ranked surviving match. Input order is kept.
func Deduplicate(matches []domain.ScoredMatch, threshold float32) []domain.ScoredMatch {
	kept := make([]domain.ScoredMatch, 0, len(matches))
	for _, m := range matches {
		redundant := false
		for _, k := range kept {
			if embedding.CosineSimilarity(m.Chunk.Embedding, k.Chunk.Embedding) > threshold {
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, m)
		}
	}
	return kept
}
