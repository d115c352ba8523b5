package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/cloo-solutions/carecontext/internal/api"
	"github.com/cloo-solutions/carecontext/internal/service"
	"github.com/cloo-solutions/carecontext/internal/storage"
)

type KnowledgeIngester interface {
	IngestKnowledge(ctx context.Context, in service.KnowledgeInput) (int, error)
}

type KnowledgeHandler struct {
	svc KnowledgeIngester
}

func NewKnowledgeHandler(svc KnowledgeIngester) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

// IngestKnowledgeRequest carries either inline text or an s3:// source.
// Local file paths are only accepted from the CLI.
type IngestKnowledgeRequest struct {
	Text      string `json:"text,omitempty"`
	SourceURI string `json:"source_uri,omitempty"`
	Label     string `json:"label,omitempty"`
	DocType   string `json:"doc_type,omitempty"`
	Date      string `json:"date,omitempty"`
}

type IngestResponse struct {
	ChunksStored int `json:"chunks_stored"`
}

func (h *KnowledgeHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestKnowledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	text := strings.TrimSpace(req.Text)
	if (text == "") == (req.SourceURI == "") {
		api.Error(w, http.StatusBadRequest, "exactly one of text or source_uri is required")
		return
	}
	if req.SourceURI != "" {
		if _, _, err := storage.ParseS3URI(req.SourceURI); err != nil {
			api.Error(w, http.StatusBadRequest, "source_uri must be an s3://bucket/key reference")
			return
		}
	}
	docType, err := parseDocType(req.DocType)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid doc_type")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	n, err := h.svc.IngestKnowledge(r.Context(), service.KnowledgeInput{
		Text:    text,
		Path:    req.SourceURI,
		Label:   req.Label,
		DocType: docType,
		Date:    date,
	})
	if err != nil {
		api.HandleError(w, r, err)
		return
	}

	api.Success(w, http.StatusCreated, IngestResponse{ChunksStored: n})
}
