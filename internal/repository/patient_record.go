package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/carecontext/internal/domain"
)

const treatmentLimit = 10

// PatientRecordRepository reads the structured clinical record used to build
// patient summaries.
type PatientRecordRepository struct {
	db dbtx
}

func NewPatientRecordRepository(pool *pgxpool.Pool) *PatientRecordRepository {
	return &PatientRecordRepository{db: pool}
}

// ListPatientIDs returns every known patient identifier.
func (r *PatientRecordRepository) ListPatientIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM patients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// FetchPatientRecord loads the full record for ownerID. An unknown patient
// yields ErrInvalidScope.
func (r *PatientRecordRepository) FetchPatientRecord(ctx context.Context, ownerID string) (*domain.PatientRecord, error) {
	if ownerID == "" {
		return nil, domain.ErrInvalidScope
	}

	var (
		patient   domain.Patient
		diseaseID *string
		disease   domain.Disease
		diseaseNm *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT p.id, p.name, d.id, d.name
		 FROM patients p LEFT JOIN diseases d ON d.id = p.disease_id
		 WHERE p.id = $1`, ownerID,
	).Scan(&patient.ID, &patient.Name, &diseaseID, &diseaseNm)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInvalidScope, "unknown patient", fmt.Errorf("patient %q not found", ownerID))
	}
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	rec := &domain.PatientRecord{Patient: &patient}
	if diseaseID != nil {
		disease.ID = *diseaseID
		disease.Name = derefString(diseaseNm)
		rec.Disease = &disease
	}

	if rec.Medications, err = r.medications(ctx, ownerID); err != nil {
		return nil, err
	}
	if rec.Adherence, err = r.adherence(ctx, ownerID); err != nil {
		return nil, err
	}
	if rec.Appointments, err = r.appointments(ctx, ownerID); err != nil {
		return nil, err
	}
	if rec.SymptomLogs, err = r.symptomLogs(ctx, ownerID); err != nil {
		return nil, err
	}
	if rec.Calendar, err = r.calendar(ctx, ownerID); err != nil {
		return nil, err
	}
	if rec.Disease != nil {
		if rec.Treatments, err = r.treatments(ctx, rec.Disease.ID); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (r *PatientRecordRepository) medications(ctx context.Context, ownerID string) ([]domain.Medication, error) {
	rows, err := r.db.Query(ctx,
		`SELECT m.name, m.dosage, m.frequency, s.name
		 FROM medications m LEFT JOIN symptoms s ON s.id = m.symptom_id
		 WHERE m.patient_id = $1
		 ORDER BY m.name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load medications: %w", err)
	}
	defer rows.Close()

	var out []domain.Medication
	for rows.Next() {
		var m domain.Medication
		var symptom *string
		if err := rows.Scan(&m.Name, &m.Dosage, &m.Frequency, &symptom); err != nil {
			return nil, err
		}
		m.Symptom = derefString(symptom)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PatientRecordRepository) adherence(ctx context.Context, ownerID string) ([]domain.AdherenceLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT a.logged_date, a.taken, a.notes
		 FROM medication_adherence_logs a
		 JOIN medications m ON m.id = a.medication_id
		 WHERE m.patient_id = $1
		 ORDER BY a.logged_date DESC, a.id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load adherence: %w", err)
	}
	defer rows.Close()

	var out []domain.AdherenceLog
	for rows.Next() {
		var a domain.AdherenceLog
		var notes *string
		if err := rows.Scan(&a.LoggedDate, &a.Taken, &notes); err != nil {
			return nil, err
		}
		a.Notes = derefString(notes)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PatientRecordRepository) appointments(ctx context.Context, ownerID string) ([]domain.Appointment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT scheduled_at, physician, visit_type, notes
		 FROM appointments WHERE patient_id = $1
		 ORDER BY scheduled_at NULLS LAST, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	defer rows.Close()

	var out []domain.Appointment
	for rows.Next() {
		var a domain.Appointment
		var notes *string
		if err := rows.Scan(&a.ScheduledAt, &a.Physician, &a.VisitType, &notes); err != nil {
			return nil, err
		}
		a.Notes = derefString(notes)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PatientRecordRepository) symptomLogs(ctx context.Context, ownerID string) ([]domain.SymptomLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT l.logged_at, s.name, l.severity, l.notes, l.curated_by
		 FROM symptom_logs l LEFT JOIN symptoms s ON s.id = l.symptom_id
		 WHERE l.patient_id = $1
		 ORDER BY l.logged_at DESC NULLS LAST, l.id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load symptom logs: %w", err)
	}
	defer rows.Close()

	var out []domain.SymptomLog
	for rows.Next() {
		var l domain.SymptomLog
		var symptom, notes, curatedBy *string
		var severity *int32
		if err := rows.Scan(&l.LoggedAt, &symptom, &severity, &notes, &curatedBy); err != nil {
			return nil, err
		}
		l.Symptom = derefString(symptom)
		l.Notes = derefString(notes)
		l.CuratedBy = derefString(curatedBy)
		if severity != nil {
			v := int(*severity)
			l.Severity = &v
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PatientRecordRepository) calendar(ctx context.Context, ownerID string) ([]domain.CalendarEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT event_at, title, event_type, description
		 FROM calendar_events WHERE patient_id = $1
		 ORDER BY event_at NULLS LAST, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load calendar: %w", err)
	}
	defer rows.Close()

	var out []domain.CalendarEvent
	for rows.Next() {
		var e domain.CalendarEvent
		var description *string
		var eventAt *time.Time
		if err := rows.Scan(&eventAt, &e.Title, &e.EventType, &description); err != nil {
			return nil, err
		}
		e.EventAt = eventAt
		e.Description = derefString(description)
		out = append(out, e)
	}
	return out, rows.Err()
}

// treatments returns outcomes that worked for any symptom of the disease.
func (r *PatientRecordRepository) treatments(ctx context.Context, diseaseID string) ([]domain.Treatment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT t.physician, t.treatment, s.name, t.worked
		 FROM treatments t JOIN symptoms s ON s.id = t.symptom_id
		 WHERE s.disease_id = $1 AND t.worked
		 ORDER BY t.id DESC
		 LIMIT $2`, diseaseID, treatmentLimit)
	if err != nil {
		return nil, fmt.Errorf("load treatments: %w", err)
	}
	defer rows.Close()

	var out []domain.Treatment
	for rows.Next() {
		var t domain.Treatment
		if err := rows.Scan(&t.Physician, &t.Treatment, &t.Symptom, &t.Worked); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
