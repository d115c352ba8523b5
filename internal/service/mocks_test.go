package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/carecontext/internal/domain"
)

// MockEmbedder is a mock implementation of Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockVectorIndex is a mock implementation of VectorIndex
type MockVectorIndex struct {
	mock.Mock
}

func (m *MockVectorIndex) Upsert(ctx context.Context, corpus domain.Corpus, chunks []domain.Chunk) (int, error) {
	args := m.Called(ctx, corpus, chunks)
	return args.Int(0), args.Error(1)
}

func (m *MockVectorIndex) Query(ctx context.Context, corpus domain.Corpus, q domain.VectorQuery) ([]domain.ScoredMatch, error) {
	args := m.Called(ctx, corpus, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScoredMatch), args.Error(1)
}

// MockSourceFetcher is a mock implementation of SourceFetcher
type MockSourceFetcher struct {
	mock.Mock
}

func (m *MockSourceFetcher) Fetch(ctx context.Context, uri string) (string, []byte, error) {
	args := m.Called(ctx, uri)
	if args.Get(1) == nil {
		return args.String(0), nil, args.Error(2)
	}
	return args.String(0), args.Get(1).([]byte), args.Error(2)
}

// MockPatientRecordReader is a mock implementation of PatientRecordReader
type MockPatientRecordReader struct {
	mock.Mock
}

func (m *MockPatientRecordReader) FetchPatientRecord(ctx context.Context, ownerID string) (*domain.PatientRecord, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PatientRecord), args.Error(1)
}

func (m *MockPatientRecordReader) ListPatientIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
