package domain

import "time"

// PatientRecord is the structured clinical record a patient summary is built from.
type PatientRecord struct {
	Patient      *Patient
	Disease      *Disease
	Medications  []Medication
	Adherence    []AdherenceLog
	Appointments []Appointment
	SymptomLogs  []SymptomLog
	Calendar     []CalendarEvent
	Treatments   []Treatment
}

type Patient struct {
	ID   string
	Name string
}

type Disease struct {
	ID   string
	Name string
}

type Medication struct {
	Name      string
	Dosage    string
	Frequency string
	Symptom   string
}

// AdherenceLog records whether a medication was taken on a given day.
type AdherenceLog struct {
	LoggedDate time.Time
	Taken      bool
	Notes      string
}

type Appointment struct {
	ScheduledAt *time.Time
	Physician   string
	VisitType   string
	Notes       string
}

// SymptomLog is a patient-reported symptom, optionally curated by a physician.
type SymptomLog struct {
	LoggedAt  *time.Time
	Symptom   string
	Severity  *int
	Notes     string
	CuratedBy string
}

type CalendarEvent struct {
	EventAt     *time.Time
	Title       string
	EventType   string
	Description string
}

// Treatment is an outcome reported for another patient with the same disease.
type Treatment struct {
	Physician string
	Treatment string
	Symptom   string
	Worked    bool
}

// IsEmpty reports whether the record holds no data at all.
func (r *PatientRecord) IsEmpty() bool {
	if r == nil {
		return true
	}
	return r.Patient == nil && r.Disease == nil &&
		len(r.Medications) == 0 && len(r.Adherence) == 0 &&
		len(r.Appointments) == 0 && len(r.SymptomLogs) == 0 &&
		len(r.Calendar) == 0 && len(r.Treatments) == 0
}

// PatientName returns the patient's display name or "Unknown".
func (r *PatientRecord) PatientName() string {
	if r == nil || r.Patient == nil || r.Patient.Name == "" {
		return "Unknown"
	}
	return r.Patient.Name
}
