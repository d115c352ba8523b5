package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used for chunk dates.
const DateLayout = "2006-01-02"

// Corpus identifies one of the two logical partitions of indexed text
type Corpus string

const (
	CorpusKnowledge     Corpus = "knowledge"
	CorpusPatientRecord Corpus = "patient_record"
)

// DocType is the enumerated category attached to every chunk
type DocType string

const (
	DocTypeSymptomLog      DocType = "symptom_log"
	DocTypeCustomNote      DocType = "custom_note"
	DocTypeMedicationEntry DocType = "medication_entry"
	DocTypeFlareReport     DocType = "flare_report"
	DocTypeAppointmentNote DocType = "appointment_note"
	DocTypeDeviceReading   DocType = "device_reading"
	DocTypePatientSummary  DocType = "patient_summary"
	DocTypeKnowledge       DocType = "knowledge"
	DocTypeOther           DocType = "other"
)

// Metadata keys that callers may not supply through extra metadata.
const (
	MetaOwnerID     = "owner_id"
	MetaDocType     = "doc_type"
	MetaDate        = "date"
	MetaSourceLabel = "source_label"
)

// ChunkMetadata is the provenance attached to a chunk. OwnerID is set only
// for patient-record chunks and is the sole authorization key for them.
type ChunkMetadata struct {
	SourceLabel string
	DocType     DocType
	Date        time.Time
	OwnerID     string
	Extra       map[string]string
}

// Chunk is a bounded-length text segment with its embedding and provenance.
type Chunk struct {
	ID          string
	Content     string
	ContentHash string
	Embedding   []float32
	Metadata    ChunkMetadata
	CreatedAt   time.Time
}

// ScoredMatch is a chunk returned by a single-corpus similarity query.
type ScoredMatch struct {
	Chunk      Chunk
	Similarity float32
	Corpus     Corpus
}

// MergedContext is the deduplicated, cross-corpus ranked chunk sequence
// handed to formatting.
type MergedContext struct {
	Matches []ScoredMatch
}

// Chunks returns the ordered chunks of the context.
func (m *MergedContext) Chunks() []Chunk {
	if m == nil {
		return nil
	}
	chunks := make([]Chunk, 0, len(m.Matches))
	for _, match := range m.Matches {
		chunks = append(chunks, match.Chunk)
	}
	return chunks
}

// Len returns the number of chunks in the context.
func (m *MergedContext) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Matches)
}

// VectorQuery is a single-corpus similarity search request.
type VectorQuery struct {
	Vector     []float32
	K          int
	ScoreFloor float32
	OwnerID    string
}

// ParseDocType converts a raw string into a DocType, rejecting unknown values
func ParseDocType(s string) (DocType, error) {
	t := DocType(s)
	if !IsValidDocType(t) {
		return "", NewDomainErrorWithCause(ErrCodeValidation, "invalid doc type", fmt.Errorf("unknown doc type %q", s))
	}
	return t, nil
}

// IsValidDocType checks if a DocType is one of the enumerated categories
func IsValidDocType(t DocType) bool {
	switch t {
	case DocTypeSymptomLog, DocTypeCustomNote, DocTypeMedicationEntry, DocTypeFlareReport,
		DocTypeAppointmentNote, DocTypeDeviceReading, DocTypePatientSummary,
		DocTypeKnowledge, DocTypeOther:
		return true
	}
	return false
}

// IsValidCorpus checks if a Corpus is one of the two known partitions
func IsValidCorpus(c Corpus) bool {
	return c == CorpusKnowledge || c == CorpusPatientRecord
}

// ValidateChunk checks the invariants a chunk must hold before it is stored
// in the given corpus.
func ValidateChunk(corpus Corpus, c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if c.Content == "" {
		return fmt.Errorf("chunk Content is required")
	}
	if len(c.Embedding) == 0 {
		return fmt.Errorf("chunk Embedding is required")
	}
	if c.Metadata.SourceLabel == "" {
		return fmt.Errorf("chunk SourceLabel is required")
	}
	if !IsValidDocType(c.Metadata.DocType) {
		return fmt.Errorf("chunk DocType is invalid: %s", c.Metadata.DocType)
	}
	if c.Metadata.Date.IsZero() {
		return fmt.Errorf("chunk Date is required")
	}

	switch corpus {
	case CorpusKnowledge:
		if c.Metadata.OwnerID != "" {
			return fmt.Errorf("knowledge chunk must not carry an OwnerID")
		}
	case CorpusPatientRecord:
		if c.Metadata.OwnerID == "" {
			return ErrInvalidScope
		}
	default:
		return fmt.Errorf("unknown corpus: %s", corpus)
	}
	return nil
}
