package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/carecontext/internal/domain"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestIngestion(t *testing.T, emb Embedder, idx VectorIndex, opts ...IngestionOption) *IngestionService {
	t.Helper()
	chunker, err := NewChunker(DefaultChunkConfig())
	require.NoError(t, err)
	opts = append([]IngestionOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewIngestionService(chunker, emb, idx, opts...)
}

func upsertedChunks(t *testing.T, idx *MockVectorIndex) []domain.Chunk {
	t.Helper()
	for _, call := range idx.Calls {
		if call.Method == "Upsert" {
			return call.Arguments.Get(2).([]domain.Chunk)
		}
	}
	t.Fatal("Upsert was not called")
	return nil
}

func TestIngestKnowledge_InlineText(t *testing.T) {
	emb := new(MockEmbedder)
	idx := new(MockVectorIndex)
	emb.On("Embed", mock.Anything, "Cold weather causes flares in RA").Return([]float32{1, 0, 0}, nil)
	idx.On("Upsert", mock.Anything, domain.CorpusKnowledge, mock.Anything).Return(1, nil)

	svc := newTestIngestion(t, emb, idx)
	n, err := svc.IngestKnowledge(context.Background(), KnowledgeInput{Text: "Cold weather causes flares in RA"})

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	chunks := upsertedChunks(t, idx)
	require.Len(t, chunks, 1)
	c := chunks[0]
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "Cold weather causes flares in RA", c.Content)
	assert.Len(t, c.ContentHash, 64)
	assert.Equal(t, []float32{1, 0, 0}, c.Embedding)
	assert.Equal(t, "inline", c.Metadata.SourceLabel)
	assert.Equal(t, domain.DocTypeKnowledge, c.Metadata.DocType)
	assert.Equal(t, "2026-03-14", c.Metadata.Date.Format(domain.DateLayout))
	assert.Empty(t, c.Metadata.OwnerID)
	emb.AssertExpectations(t)
	idx.AssertExpectations(t)
}

func TestIngestKnowledge_LocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ra-guide.txt")
	require.NoError(t, os.WriteFile(path, []byte("Methotrexate is a first-line DMARD."), 0o600))

	emb := new(MockEmbedder)
	idx := new(MockVectorIndex)
	emb.On("Embed", mock.Anything, "Methotrexate is a first-line DMARD.").Return([]float32{0, 1}, nil)
	idx.On("Upsert", mock.Anything, domain.CorpusKnowledge, mock.Anything).Return(1, nil)

	svc := newTestIngestion(t, emb, idx)
	date := time.Date(2025, 1, 2, 22, 0, 0, 0, time.UTC)
	n, err := svc.IngestKnowledge(context.Background(), KnowledgeInput{Path: path, Date: date})

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	c := upsertedChunks(t, idx)[0]
	assert.Equal(t, "ra-guide.txt", c.Metadata.SourceLabel)
	assert.Equal(t, "2025-01-02", c.Metadata.Date.Format(domain.DateLayout))
}

func TestIngestKnowledge_S3Object(t *testing.T) {
	emb := new(MockEmbedder)
	idx := new(MockVectorIndex)
	fetcher := new(MockSourceFetcher)
	fetcher.On("Fetch", mock.Anything, "s3://kb/guides/lupus.md").
		Return("lupus.md", []byte("# Lupus\n\nSun exposure can trigger flares."), nil)
	emb.On("Embed", mock.Anything, mock.Anything).Return([]float32{1, 1}, nil)
	idx.On("Upsert", mock.Anything, domain.CorpusKnowledge, mock.Anything).Return(1, nil)

	svc := newTestIngestion(t, emb, idx, WithSourceFetcher(fetcher))
	_, err := svc.IngestKnowledge(context.Background(), KnowledgeInput{Path: "s3://kb/guides/lupus.md", Label: "Lupus handbook"})

	require.NoError(t, err)
	c := upsertedChunks(t, idx)[0]
	assert.Equal(t, "Lupus handbook", c.Metadata.SourceLabel)
	assert.Contains(t, c.Content, "Sun exposure can trigger flares.")
	fetcher.AssertExpectations(t)
}

func TestIngestKnowledge_UnsupportedFormat(t *testing.T) {
	emb := new(MockEmbedder)
	idx := new(MockVectorIndex)
	fetcher := new(MockSourceFetcher)
	svc := newTestIngestion(t, emb, idx, WithSourceFetcher(fetcher))

	_, err := svc.IngestKnowledge(context.Background(), KnowledgeInput{Path: "/tmp/scan.tiff"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedSourceFormat)

	_, err = svc.IngestKnowledge(context.Background(), KnowledgeInput{Path: "s3://kb/scan.tiff"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedSourceFormat)

	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	idx.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestKnowledge_InputValidation(t *testing.T) {
	svc := newTestIngestion(t, new(MockEmbedder), new(MockVectorIndex))

	_, err := svc.IngestKnowledge(context.Background(), KnowledgeInput{})
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))

	_, err = svc.IngestKnowledge(context.Background(), KnowledgeInput{Text: "a", Path: "b.txt"})
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))

	_, err = svc.IngestKnowledge(context.Background(), KnowledgeInput{Text: "a", DocType: "recipe"})
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))
}

func TestIngestKnowledge_EmbeddingFailureStoresNothing(t *testing.T) {
	emb := new(MockEmbedder)
	idx := new(MockVectorIndex)
	emb.On("Embed", mock.Anything, mock.Anything).Return(nil, domain.EmbeddingUnavailable(errors.New("connection refused")))

	svc := newTestIngestion(t, emb, idx)
	n, err := svc.IngestKnowledge(context.Background(), KnowledgeInput{Text: "anything"})

	assert.Zero(t, n)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	idx.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestKnowledge_IndexFailure(t *testing.T) {
	emb := new(MockEmbedder)
	idx := new(MockVectorIndex)
	emb.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	idx.On("Upsert", mock.Anything, domain.CorpusKnowledge, mock.Anything).Return(0, domain.IndexUnavailable(errors.New("timeout")))

	svc := newTestIngestion(t, emb, idx)
	_, err := svc.IngestKnowledge(context.Background(), KnowledgeInput{Text: "anything"})

	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestIngestKnowledge_EmptyTextFileStoresNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))
	idx := new(MockVectorIndex)

	svc := newTestIngestion(t, new(MockEmbedder), idx)
	n, err := svc.IngestKnowledge(context.Background(), KnowledgeInput{Path: path})

	require.NoError(t, err)
	assert.Zero(t, n)
	idx.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestPatientEntry_StructuredFields(t *testing.T) {
	emb := new(MockEmbedder)
	idx := new(MockVectorIndex)
	emb.On("Embed", mock.Anything, "location: hands\npain: 7").Return([]float32{0.5, 0.5}, nil)
	idx.On("Upsert", mock.Anything, domain.CorpusPatientRecord, mock.Anything).Return(1, nil)

	svc := newTestIngestion(t, emb, idx)
	n, err := svc.IngestPatientEntry(context.Background(), PatientEntry{
		OwnerID:       "p1",
		Fields:        map[string]any{"pain": 7, "location": "hands"},
		DocType:       domain.DocTypeSymptomLog,
		ExtraMetadata: map[string]string{"device": "phone"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	c := upsertedChunks(t, idx)[0]
	assert.Equal(t, "p1", c.Metadata.OwnerID)
	assert.Equal(t, domain.DocTypeSymptomLog, c.Metadata.DocType)
	assert.Equal(t, "symptom-log", c.Metadata.SourceLabel)
	assert.Equal(t, map[string]string{"device": "phone"}, c.Metadata.Extra)
	assert.Equal(t, "2026-03-14", c.Metadata.Date.Format(domain.DateLayout))
}

func TestIngestPatientEntry_SourceLabelOverride(t *testing.T) {
	emb := new(MockEmbedder)
	idx := new(MockVectorIndex)
	emb.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	idx.On("Upsert", mock.Anything, domain.CorpusPatientRecord, mock.Anything).Return(1, nil)

	svc := newTestIngestion(t, emb, idx)
	_, err := svc.IngestPatientEntry(context.Background(), PatientEntry{
		OwnerID:       "p1",
		Text:          "Slept badly",
		ExtraMetadata: map[string]string{domain.MetaSourceLabel: "night diary"},
	})

	require.NoError(t, err)
	c := upsertedChunks(t, idx)[0]
	assert.Equal(t, "night diary", c.Metadata.SourceLabel)
	assert.Equal(t, domain.DocTypeOther, c.Metadata.DocType)
	assert.Nil(t, c.Metadata.Extra)
}

func TestIngestPatientEntry_Validation(t *testing.T) {
	tests := []struct {
		name  string
		entry PatientEntry
		code  string
	}{
		{
			name:  "missing owner",
			entry: PatientEntry{Text: "note"},
			code:  domain.ErrCodeInvalidScope,
		},
		{
			name:  "reserved owner key",
			entry: PatientEntry{OwnerID: "p1", Text: "note", ExtraMetadata: map[string]string{"owner_id": "p2"}},
			code:  domain.ErrCodeValidation,
		},
		{
			name:  "reserved date key",
			entry: PatientEntry{OwnerID: "p1", Text: "note", ExtraMetadata: map[string]string{"date": "2020-01-01"}},
			code:  domain.ErrCodeValidation,
		},
		{
			name:  "knowledge doc type",
			entry: PatientEntry{OwnerID: "p1", Text: "note", DocType: domain.DocTypeKnowledge},
			code:  domain.ErrCodeValidation,
		},
		{
			name:  "text and fields",
			entry: PatientEntry{OwnerID: "p1", Text: "note", Fields: map[string]any{"pain": 3}},
			code:  domain.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := new(MockVectorIndex)
			svc := newTestIngestion(t, new(MockEmbedder), idx)

			_, err := svc.IngestPatientEntry(context.Background(), tt.entry)

			require.Error(t, err)
			assert.Equal(t, tt.code, domain.ErrorCode(err))
			idx.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestIngestPatientEntry_LongTextEmbedsEveryChunk(t *testing.T) {
	emb := new(MockEmbedder)
	idx := new(MockVectorIndex)
	emb.On("Embed", mock.Anything, mock.Anything).Return([]float32{1, 2}, nil)
	idx.On("Upsert", mock.Anything, domain.CorpusPatientRecord, mock.Anything).Return(3, nil)

	svc := newTestIngestion(t, emb, idx, WithEmbedConcurrency(2))
	_, err := svc.IngestPatientEntry(context.Background(), PatientEntry{OwnerID: "p1", Text: sampleNote() + sampleNote()})

	require.NoError(t, err)
	chunks := upsertedChunks(t, idx)
	require.Greater(t, len(chunks), 1)
	emb.AssertNumberOfCalls(t, "Embed", len(chunks))
	ids := map[string]bool{}
	for _, c := range chunks {
		assert.Equal(t, "p1", c.Metadata.OwnerID)
		ids[c.ID] = true
	}
	assert.Len(t, ids, len(chunks))
}
