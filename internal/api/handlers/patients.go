package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cloo-solutions/carecontext/internal/api"
	"github.com/cloo-solutions/carecontext/internal/service"
)

type PatientEntryIngester interface {
	IngestPatientEntry(ctx context.Context, e service.PatientEntry) (int, error)
}

type SummaryBuilder interface {
	BuildAndIngestPatientSummary(ctx context.Context, ownerID string, date time.Time) (int, error)
}

type PatientHandler struct {
	entries   PatientEntryIngester
	summaries SummaryBuilder
}

func NewPatientHandler(entries PatientEntryIngester, summaries SummaryBuilder) *PatientHandler {
	return &PatientHandler{entries: entries, summaries: summaries}
}

// PatientEntryRequest carries free text or structured fields, not both.
type PatientEntryRequest struct {
	Text     string            `json:"text,omitempty"`
	Fields   map[string]any    `json:"fields,omitempty"`
	DocType  string            `json:"doc_type,omitempty"`
	Date     string            `json:"date,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type SummaryRequest struct {
	Date string `json:"date,omitempty"`
}

func (h *PatientHandler) IngestEntry(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerIDParam(r)
	if !ok {
		api.Error(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	var req PatientEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if (text == "") == (len(req.Fields) == 0) {
		api.Error(w, http.StatusBadRequest, "exactly one of text or fields is required")
		return
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

	entry := service.PatientEntry{
		OwnerID:       ownerID,
		Text:          text,
		DocType:       docType,
		Date:          date,
		ExtraMetadata: req.Metadata,
	}
	if len(req.Fields) > 0 {
		entry.Fields = req.Fields
	}

	n, err := h.entries.IngestPatientEntry(r.Context(), entry)
	if err != nil {
		api.HandleError(w, r, err)
		return
	}

	api.Success(w, http.StatusCreated, IngestResponse{ChunksStored: n})
}

func (h *PatientHandler) BuildSummary(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerIDParam(r)
	if !ok {
		api.Error(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	var req SummaryRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	n, err := h.summaries.BuildAndIngestPatientSummary(r.Context(), ownerID, date)
	if err != nil {
		api.HandleError(w, r, err)
		return
	}

	api.Success(w, http.StatusCreated, IngestResponse{ChunksStored: n})
}
