package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/logging"
	"github.com/cloo-solutions/carecontext/internal/telemetry"
)

const (
	// NoPatientDataText is the summary of a record with nothing in it.
	NoPatientDataText = "No patient data found."
	// PatientSummaryLabel is the source label of ingested summaries.
	PatientSummaryLabel = "patient-context"

	recentAdherenceDays = 14
	timestampLayout     = "2006-01-02 15:04"
	notAvailable        = "N/A"
)

// PatientRecordReader loads the structured record behind a patient summary.
type PatientRecordReader interface {
	FetchPatientRecord(ctx context.Context, ownerID string) (*domain.PatientRecord, error)
	ListPatientIDs(ctx context.Context) ([]string, error)
}

// SummaryService pre-aggregates a patient's structured record into one
// narrative entry in the patient's corpus partition.
type SummaryService struct {
	records   PatientRecordReader
	ingestion *IngestionService
}

func NewSummaryService(records PatientRecordReader, ingestion *IngestionService) *SummaryService {
	return &SummaryService{records: records, ingestion: ingestion}
}

// BuildPatientSummary renders the narrative for ownerID without storing it.
func (s *SummaryService) BuildPatientSummary(ctx context.Context, ownerID string) (string, *domain.PatientRecord, error) {
	if ownerID == "" {
		return "", nil, domain.ErrInvalidScope
	}
	record, err := s.records.FetchPatientRecord(ctx, ownerID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch patient record: %w", err)
	}
	return FormatPatientSummary(record), record, nil
}

// BuildAndIngestPatientSummary renders the summary and ingests it as a single
// patient_summary entry dated date (today when zero).
func (s *SummaryService) BuildAndIngestPatientSummary(ctx context.Context, ownerID string, date time.Time) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "SummaryService.BuildAndIngestPatientSummary", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Corpus:    string(domain.CorpusPatientRecord),
		DocType:   string(domain.DocTypePatientSummary),
		Operation: "build_patient_summary",
	})
	defer span.End()

	text, record, err := s.BuildPatientSummary(ctx, ownerID)
	if err != nil {
		span.SetError(err)
		return 0, err
	}

	n, err := s.ingestion.IngestPatientEntry(ctx, PatientEntry{
		OwnerID: ownerID,
		Text:    text,
		DocType: domain.DocTypePatientSummary,
		Date:    date,
		ExtraMetadata: map[string]string{
			domain.MetaSourceLabel: PatientSummaryLabel,
			"patient_name":         record.PatientName(),
		},
	})
	if err != nil {
		span.SetError(err)
		return 0, err
	}

	logging.GetLogger(ctx).Info("patient summary ingested",
		zap.String("owner_id", ownerID),
		zap.Int("chunks", n))
	return n, nil
}

// RefreshAll rebuilds the summary of every known patient. A failure for one
// patient is logged and does not stop the others; the count of refreshed
// patients and the first error are returned.
func (s *SummaryService) RefreshAll(ctx context.Context) (int, error) {
	ids, err := s.records.ListPatientIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list patients: %w", err)
	}

	logger := logging.GetLogger(ctx)
	var (
		refreshed int
		firstErr  error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if _, err := s.BuildAndIngestPatientSummary(ctx, id, time.Time{}); err != nil {
			logger.Warn("patient summary refresh failed", zap.String("owner_id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		refreshed++
	}
	return refreshed, firstErr
}

// FormatPatientSummary renders a record as markdown-style sections in a fixed
// order. Empty sections are omitted.
func FormatPatientSummary(r *domain.PatientRecord) string {
	if r.IsEmpty() {
		return NoPatientDataText
	}

	var lines []string

	if r.Patient != nil {
		lines = append(lines, "## Patient: "+orNA(r.Patient.Name))
		if r.Disease != nil {
			lines = append(lines, "Disease: "+orNA(r.Disease.Name))
		}
		lines = append(lines, "")
	}

	if len(r.Medications) > 0 {
		lines = append(lines, "## Current Medications")
		for _, m := range r.Medications {
			lines = append(lines, fmt.Sprintf("- %s %s %s (for %s)", orNA(m.Name), m.Dosage, m.Frequency, orNA(m.Symptom)))
		}
		lines = append(lines, "")
	}

	if len(r.Adherence) > 0 {
		lines = append(lines, "## Medication Adherence (recent)")
		adherence := r.Adherence
		if len(adherence) > recentAdherenceDays {
			adherence = adherence[:recentAdherenceDays]
		}
		for _, a := range adherence {
			status := "missed"
			if a.Taken {
				status = "taken"
			}
			lines = append(lines, fmt.Sprintf("- %s: %s%s", a.LoggedDate.Format(domain.DateLayout), status, noteSuffix(a.Notes)))
		}
		lines = append(lines, "")
	}

	if len(r.Appointments) > 0 {
		lines = append(lines, "## Appointments")
		for _, apt := range r.Appointments {
			lines = append(lines, fmt.Sprintf("- %s | %s | %s | %s", formatTimestamp(apt.ScheduledAt), apt.Physician, apt.VisitType, apt.Notes))
		}
		lines = append(lines, "")
	}

	if len(r.SymptomLogs) > 0 {
		lines = append(lines, "## Symptom Logs (patient-reported, curated by doctor)")
		for _, sl := range r.SymptomLogs {
			severity := notAvailable
			if sl.Severity != nil {
				severity = fmt.Sprintf("%d", *sl.Severity)
			}
			curated := ""
			if sl.CuratedBy != "" {
				curated = " (curated by " + sl.CuratedBy + ")"
			}
			lines = append(lines, fmt.Sprintf("- %s | %s | severity %s%s%s",
				formatTimestamp(sl.LoggedAt), orNA(sl.Symptom), severity, noteSuffix(sl.Notes), curated))
		}
		lines = append(lines, "")
	}

	if len(r.Calendar) > 0 {
		lines = append(lines, "## Calendar / Schedule")
		for _, ev := range r.Calendar {
			lines = append(lines, fmt.Sprintf("- %s | %s | %s | %s", formatTimestamp(ev.EventAt), ev.Title, ev.EventType, ev.Description))
		}
		lines = append(lines, "")
	}

	if len(r.Treatments) > 0 {
		lines = append(lines, "## Evidence-Based Treatments (worked for similar patients)")
		for _, t := range r.Treatments {
			lines = append(lines, fmt.Sprintf("- %s by %s for %s (worked: %t)", t.Treatment, t.Physician, orNA(t.Symptom), t.Worked))
		}
	}

	return strings.Join(lines, "\n")
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

func noteSuffix(notes string) string {
	if notes == "" {
		return ""
	}
	return " - " + notes
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return notAvailable
	}
	return t.UTC().Format(timestampLayout)
}
