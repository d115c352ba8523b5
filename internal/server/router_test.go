package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/carecontext/internal/api/handlers"
	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/embedding"
	"github.com/cloo-solutions/carecontext/internal/repository"
	"github.com/cloo-solutions/carecontext/internal/service"
	"github.com/cloo-solutions/carecontext/internal/testutil"
)

type stubRecords struct{}

func (stubRecords) FetchPatientRecord(_ context.Context, ownerID string) (*domain.PatientRecord, error) {
	return &domain.PatientRecord{
		Patient:     &domain.Patient{ID: ownerID, Name: "Ana"},
		Medications: []domain.Medication{{Name: "Methotrexate", Dosage: "15mg", Frequency: "weekly"}},
	}, nil
}

func (stubRecords) ListPatientIDs(context.Context) ([]string, error) {
	return []string{"p1"}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	gw := embedding.NewGateway(testutil.NewHashEmbedder(128), embedding.Options{})
	idx := repository.NewMemoryIndex()
	chunker, err := service.NewChunker(service.DefaultChunkConfig())
	require.NoError(t, err)

	ingestion := service.NewIngestionService(chunker, gw, idx)
	cfg := service.DefaultRetrievalConfig()
	cfg.ScoreFloor = 0
	retrieval := service.NewRetrievalService(gw, idx, cfg)
	summaries := service.NewSummaryService(stubRecords{}, ingestion)

	return NewRouter(RouterConfig{
		KnowledgeHandler: handlers.NewKnowledgeHandler(ingestion),
		PatientHandler:   handlers.NewPatientHandler(ingestion, summaries),
		ContextHandler:   handlers.NewContextHandler(retrieval),
		MaxBodyBytes:     64 * 1024,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	w := do(t, newTestRouter(t), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"data":{"status":"ok"}}`, w.Body.String())
}

func TestRouter_IngestThenRetrieve(t *testing.T) {
	h := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/knowledge", `{"text":"Cold weather causes flares in rheumatoid arthritis"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/patients/p1/entries", `{"fields":{"pain":7,"location":"hands"},"doc_type":"symptom_log"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, h, http.MethodPost, "/patients/p2/entries", `{"text":"p2 private note about flares"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/patients/p1/summary", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/patients/p1/context", `{"question":"what causes flares in my hands?","mode":"clinical"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data handlers.ContextResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Data.Context, "Cold weather causes flares")
	assert.Contains(t, resp.Data.Context, "pain: 7")
	assert.Contains(t, resp.Data.Context, "## Patient: Ana")
	assert.NotContains(t, resp.Data.Context, "p2 private note")
	for _, s := range resp.Data.Sources {
		assert.Contains(t, []string{"knowledge", "patient_record"}, s.Corpus)
		assert.Equal(t, time.Now().UTC().Format(domain.DateLayout), s.Date)
	}
}

func TestRouter_EmptyContextSentinel(t *testing.T) {
	w := do(t, newTestRouter(t), http.MethodPost, "/patients/p9/context", `{"question":"anything"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), service.NoContextSentinel)
}

func TestRouter_BodyLimit(t *testing.T) {
	big := `{"text":"` + strings.Repeat("a", 70*1024) + `"}`
	w := do(t, newTestRouter(t), http.MethodPost, "/knowledge", big)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRouter_UnknownRoute(t *testing.T) {
	w := do(t, newTestRouter(t), http.MethodGet, "/patients/p1/entries", "")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
