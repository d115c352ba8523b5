package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/cloo-solutions/carecontext/internal/api"
	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/service"
)

type ContextRetriever interface {
	RetrieveForPatientQuery(ctx context.Context, ownerID, query string) (*domain.MergedContext, error)
	RetrieveForClinicalQuery(ctx context.Context, ownerID, query string, perSourceK int) (*domain.MergedContext, error)
}

const (
	ModePatient  = "patient"
	ModeClinical = "clinical"

	maxQuestionLength = 4000
	maxPerSourceK     = 50
)

type ContextHandler struct {
	svc ContextRetriever
}

func NewContextHandler(svc ContextRetriever) *ContextHandler {
	return &ContextHandler{svc: svc}
}

type ContextRequest struct {
	Question   string `json:"question"`
	Mode       string `json:"mode,omitempty"`
	PerSourceK int    `json:"per_source_k,omitempty"`
}

type ContextSourceResponse struct {
	Index       int     `json:"index"`
	SourceLabel string  `json:"source_label"`
	Date        string  `json:"date,omitempty"`
	DocType     string  `json:"doc_type"`
	Corpus      string  `json:"corpus"`
	Similarity  float32 `json:"similarity"`
}

type ContextResponse struct {
	Context string                   `json:"context"`
	Sources []*ContextSourceResponse `json:"sources"`
}

// NewContextResponse renders mc and lists its sources in display order.
func NewContextResponse(mc *domain.MergedContext) *ContextResponse {
	resp := &ContextResponse{
		Context: service.FormatContext(mc),
		Sources: make([]*ContextSourceResponse, 0, mc.Len()),
	}
	for i, m := range mc.Matches {
		src := &ContextSourceResponse{
			Index:       i + 1,
			SourceLabel: m.Chunk.Metadata.SourceLabel,
			DocType:     string(m.Chunk.Metadata.DocType),
			Corpus:      string(m.Corpus),
			Similarity:  m.Similarity,
		}
		if !m.Chunk.Metadata.Date.IsZero() {
			src.Date = m.Chunk.Metadata.Date.Format(domain.DateLayout)
		}
		resp.Sources = append(resp.Sources, src)
	}
	return resp
}

func (h *ContextHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerIDParam(r)
	if !ok {
		api.Error(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	var req ContextRequest
	if err := decodeJSON(r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}
	if len(question) > maxQuestionLength {
		api.Error(w, http.StatusBadRequest, "question is too long")
		return
	}
	if req.PerSourceK < 0 || req.PerSourceK > maxPerSourceK {
		api.Error(w, http.StatusBadRequest, "per_source_k must be between 0 and 50 (0 = default)")
		return
	}
	if req.PerSourceK != 0 && req.Mode != ModeClinical {
		api.Error(w, http.StatusBadRequest, "per_source_k is only valid in clinical mode")
		return
	}

	var (
		mc  *domain.MergedContext
		err error
	)
	switch req.Mode {
	case "", ModePatient:
		mc, err = h.svc.RetrieveForPatientQuery(r.Context(), ownerID, question)
	case ModeClinical:
		mc, err = h.svc.RetrieveForClinicalQuery(r.Context(), ownerID, question, req.PerSourceK)
	default:
		api.Error(w, http.StatusBadRequest, "mode must be patient or clinical")
		return
	}
	if err != nil {
		api.HandleError(w, r, err)
		return
	}

	api.Success(w, http.StatusOK, NewContextResponse(mc))
}
