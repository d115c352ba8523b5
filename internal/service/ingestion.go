package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/extract"
	"github.com/cloo-solutions/carecontext/internal/logging"
	"github.com/cloo-solutions/carecontext/internal/storage"
	"github.com/cloo-solutions/carecontext/internal/telemetry"
)

const (
	inlineSourceLabel = "inline"
	// DefaultEmbedConcurrency bounds parallel embedding calls per ingestion.
	DefaultEmbedConcurrency = 4
)

// Embedder converts text to a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the per-corpus store for chunks
type VectorIndex interface {
	Upsert(ctx context.Context, corpus domain.Corpus, chunks []domain.Chunk) (int, error)
	Query(ctx context.Context, corpus domain.Corpus, q domain.VectorQuery) ([]domain.ScoredMatch, error)
}

// SourceFetcher downloads knowledge sources from object storage
type SourceFetcher interface {
	Fetch(ctx context.Context, uri string) (name string, data []byte, err error)
}

// KnowledgeInput is one knowledge document: exactly one of Text or Path.
// Path is a local file or an s3:// object.
type KnowledgeInput struct {
	Text    string
	Path    string
	Label   string
	DocType domain.DocType
	Date    time.Time
}

// PatientEntry is one patient-generated record: exactly one of Text or Fields.
type PatientEntry struct {
	OwnerID       string
	Text          string
	Fields        map[string]any
	DocType       domain.DocType
	Date          time.Time
	ExtraMetadata map[string]string
}

// IngestionService chunks, embeds, and stores text in either corpus.
type IngestionService struct {
	chunker     *Chunker
	embedder    Embedder
	index       VectorIndex
	fetcher     SourceFetcher
	readFile    func(string) ([]byte, error)
	now         func() time.Time
	concurrency int
}

// IngestionOption configures an IngestionService
type IngestionOption func(*IngestionService)

// WithSourceFetcher enables s3:// knowledge sources.
func WithSourceFetcher(f SourceFetcher) IngestionOption {
	return func(s *IngestionService) { s.fetcher = f }
}

// WithClock overrides the clock used for default dates.
func WithClock(now func() time.Time) IngestionOption {
	return func(s *IngestionService) { s.now = now }
}

// WithEmbedConcurrency bounds parallel embedding calls.
func WithEmbedConcurrency(n int) IngestionOption {
	return func(s *IngestionService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewIngestionService(chunker *Chunker, embedder Embedder, index VectorIndex, opts ...IngestionOption) *IngestionService {
	s := &IngestionService{
		chunker:     chunker,
		embedder:    embedder,
		index:       index,
		readFile:    os.ReadFile,
		now:         time.Now,
		concurrency: DefaultEmbedConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type pendingChunk struct {
	content string
	label   string
}

// IngestKnowledge stores a document in the shared knowledge corpus and returns
// the number of chunks stored.
func (s *IngestionService) IngestKnowledge(ctx context.Context, in KnowledgeInput) (int, error) {
	docType := in.DocType
	if docType == "" {
		docType = domain.DocTypeKnowledge
	}
	if !domain.IsValidDocType(docType) {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid doc type", fmt.Errorf("%q", docType))
	}
	if (in.Text == "") == (in.Path == "") {
		return 0, domain.NewDomainError(domain.ErrCodeValidation, "exactly one of text or path is required")
	}

	ctx, span := telemetry.StartSpan(ctx, "IngestionService.IngestKnowledge", telemetry.SpanAttributes{
		Corpus:    string(domain.CorpusKnowledge),
		DocType:   string(docType),
		Operation: "ingest_knowledge",
	})
	defer span.End()

	docs, err := s.loadKnowledge(ctx, in)
	if err != nil {
		span.SetError(err)
		return 0, err
	}

	var pending []pendingChunk
	for _, d := range docs {
		for _, c := range s.chunker.Split(d.Text) {
			pending = append(pending, pendingChunk{content: c, label: d.Label})
		}
	}

	meta := domain.ChunkMetadata{DocType: docType, Date: s.dateOrToday(in.Date)}
	n, err := s.store(ctx, domain.CorpusKnowledge, pending, meta)
	if err != nil {
		span.SetError(err)
		return 0, err
	}
	span.SetData("chunks", n)

	logging.GetLogger(ctx).Info("knowledge ingested",
		zap.String("doc_type", string(docType)),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", n))
	return n, nil
}

func (s *IngestionService) loadKnowledge(ctx context.Context, in KnowledgeInput) ([]extract.Document, error) {
	if in.Text != "" {
		label := in.Label
		if label == "" {
			label = inlineSourceLabel
		}
		return []extract.Document{{Label: label, Text: in.Text}}, nil
	}

	var (
		name string
		data []byte
		err  error
	)
	if storage.IsS3URI(in.Path) {
		// Check the format before downloading anything.
		if !extract.Supported(in.Path) {
			return nil, domain.UnsupportedSourceFormat(strings.ToLower(filepath.Ext(in.Path)))
		}
		if s.fetcher == nil {
			return nil, fmt.Errorf("object storage is not configured for %s", in.Path)
		}
		name, data, err = s.fetcher.Fetch(ctx, in.Path)
	} else {
		if !extract.Supported(in.Path) {
			return nil, domain.UnsupportedSourceFormat(strings.ToLower(filepath.Ext(in.Path)))
		}
		name = filepath.Base(in.Path)
		data, err = s.readFile(in.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge source: %w", err)
	}

	docs, err := extract.Extract(name, data)
	if err != nil {
		return nil, err
	}
	if in.Label != "" {
		for i := range docs {
			docs[i].Label = strings.Replace(docs[i].Label, name, in.Label, 1)
		}
	}
	return docs, nil
}

// IngestPatientEntry stores one entry in the patient's partition of the
// PatientRecord corpus and returns the number of chunks stored.
func (s *IngestionService) IngestPatientEntry(ctx context.Context, e PatientEntry) (int, error) {
	if e.OwnerID == "" {
		return 0, domain.ErrInvalidScope
	}
	docType := e.DocType
	if docType == "" {
		docType = domain.DocTypeOther
	}
	if !domain.IsValidDocType(docType) || docType == domain.DocTypeKnowledge {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid doc type", fmt.Errorf("%q", docType))
	}
	if e.Text != "" && e.Fields != nil {
		return 0, domain.NewDomainError(domain.ErrCodeValidation, "text and fields are mutually exclusive")
	}

	label := strings.ReplaceAll(string(docType), "_", "-")
	extra := make(map[string]string, len(e.ExtraMetadata))
	for k, v := range e.ExtraMetadata {
		switch k {
		case domain.MetaOwnerID, domain.MetaDocType, domain.MetaDate:
			return 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "reserved metadata key", fmt.Errorf("%q cannot be set through extra metadata", k))
		case domain.MetaSourceLabel:
			if v != "" {
				label = v
			}
		default:
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		extra = nil
	}

	ctx, span := telemetry.StartSpan(ctx, "IngestionService.IngestPatientEntry", telemetry.SpanAttributes{
		OwnerID:   e.OwnerID,
		Corpus:    string(domain.CorpusPatientRecord),
		DocType:   string(docType),
		Operation: "ingest_patient_entry",
	})
	defer span.End()

	text := e.Text
	if e.Fields != nil {
		text = SerializeFields(e.Fields)
	}

	var pending []pendingChunk
	for _, c := range s.chunker.Split(text) {
		pending = append(pending, pendingChunk{content: c, label: label})
	}

	meta := domain.ChunkMetadata{
		DocType: docType,
		Date:    s.dateOrToday(e.Date),
		OwnerID: e.OwnerID,
		Extra:   extra,
	}
	n, err := s.store(ctx, domain.CorpusPatientRecord, pending, meta)
	if err != nil {
		span.SetError(err)
		return 0, err
	}
	span.SetData("chunks", n)

	logging.GetLogger(ctx).Info("patient entry ingested",
		zap.String("owner_id", e.OwnerID),
		zap.String("doc_type", string(docType)),
		zap.Int("chunks", n))
	return n, nil
}

// store embeds every pending chunk and upserts them in one call. Nothing is
// written if any embedding fails.
func (s *IngestionService) store(ctx context.Context, corpus domain.Corpus, pending []pendingChunk, meta domain.ChunkMetadata) (int, error) {
	if len(pending) == 0 {
		return 0, nil
	}

	vectors := make([][]float32, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range pending {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, p.content)
			if err != nil {
				return err
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	now := s.now().UTC()
	chunks := make([]domain.Chunk, len(pending))
	for i, p := range pending {
		m := meta
		m.SourceLabel = p.label
		if meta.Extra != nil {
			m.Extra = make(map[string]string, len(meta.Extra))
			for k, v := range meta.Extra {
				m.Extra[k] = v
			}
		}
		chunks[i] = domain.Chunk{
			ID:          uuid.NewString(),
			Content:     p.content,
			ContentHash: contentHash(p.content),
			Embedding:   vectors[i],
			Metadata:    m,
			CreatedAt:   now,
		}
	}

	return s.index.Upsert(ctx, corpus, chunks)
}

func (s *IngestionService) dateOrToday(d time.Time) time.Time {
	if d.IsZero() {
		d = s.now()
	}
	y, m, day := d.UTC().Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
