package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocTypeConstants(t *testing.T) {
	tests := []struct {
		name     string
		docType  DocType
		expected string
	}{
		{"SymptomLog", DocTypeSymptomLog, "symptom_log"},
		{"CustomNote", DocTypeCustomNote, "custom_note"},
		{"MedicationEntry", DocTypeMedicationEntry, "medication_entry"},
		{"FlareReport", DocTypeFlareReport, "flare_report"},
		{"AppointmentNote", DocTypeAppointmentNote, "appointment_note"},
		{"DeviceReading", DocTypeDeviceReading, "device_reading"},
		{"PatientSummary", DocTypePatientSummary, "patient_summary"},
		{"Knowledge", DocTypeKnowledge, "knowledge"},
		{"Other", DocTypeOther, "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.docType))
			assert.True(t, IsValidDocType(tt.docType))
		})
	}
}

func TestParseDocType(t *testing.T) {
	dt, err := ParseDocType("flare_report")
	require.NoError(t, err)
	assert.Equal(t, DocTypeFlareReport, dt)

	_, err = ParseDocType("lab_result")
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))
}

func validChunk() *Chunk {
	return &Chunk{
		Content:   "BP 130/85 today",
		Embedding: []float32{0.1, 0.2},
		Metadata: ChunkMetadata{
			SourceLabel: "custom-note",
			DocType:     DocTypeCustomNote,
			Date:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestValidateChunk(t *testing.T) {
	t.Run("knowledge chunk without owner", func(t *testing.T) {
		assert.NoError(t, ValidateChunk(CorpusKnowledge, validChunk()))
	})

	t.Run("knowledge chunk with owner", func(t *testing.T) {
		c := validChunk()
		c.Metadata.OwnerID = "p1"
		assert.Error(t, ValidateChunk(CorpusKnowledge, c))
	})

	t.Run("patient chunk requires owner", func(t *testing.T) {
		err := ValidateChunk(CorpusPatientRecord, validChunk())
		assert.ErrorIs(t, err, ErrInvalidScope)
	})

	t.Run("patient chunk with owner", func(t *testing.T) {
		c := validChunk()
		c.Metadata.OwnerID = "p1"
		assert.NoError(t, ValidateChunk(CorpusPatientRecord, c))
	})

	t.Run("missing fields", func(t *testing.T) {
		c := validChunk()
		c.Content = ""
		assert.Error(t, ValidateChunk(CorpusKnowledge, c))

		c = validChunk()
		c.Embedding = nil
		assert.Error(t, ValidateChunk(CorpusKnowledge, c))

		c = validChunk()
		c.Metadata.Date = time.Time{}
		assert.Error(t, ValidateChunk(CorpusKnowledge, c))

		assert.Error(t, ValidateChunk(CorpusKnowledge, nil))
	})

	t.Run("unknown corpus", func(t *testing.T) {
		assert.Error(t, ValidateChunk(Corpus("archive"), validChunk()))
	})
}

func TestDomainError_IsMatchesByCode(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("query knowledge: %w", IndexUnavailable(cause))

	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Equal(t, ErrCodeIndexUnavailable, ErrorCode(err))
	assert.Equal(t, "", ErrorCode(cause))
}

func TestDomainError_Error(t *testing.T) {
	err := NewDomainError(ErrCodeInvalidScope, "missing owner")
	assert.Equal(t, "[INVALID_SCOPE] missing owner", err.Error())

	wrapped := UnsupportedSourceFormat(".xlsx")
	assert.Contains(t, wrapped.Error(), "UNSUPPORTED_SOURCE_FORMAT")
	assert.Contains(t, wrapped.Error(), ".xlsx")
}

func TestMergedContext_Chunks(t *testing.T) {
	var empty *MergedContext
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, empty.Chunks())

	mc := &MergedContext{Matches: []ScoredMatch{
		{Chunk: Chunk{Content: "a"}, Similarity: 0.9, Corpus: CorpusKnowledge},
		{Chunk: Chunk{Content: "b"}, Similarity: 0.8, Corpus: CorpusPatientRecord},
	}}
	require.Equal(t, 2, mc.Len())
	assert.Equal(t, "a", mc.Chunks()[0].Content)
	assert.Equal(t, "b", mc.Chunks()[1].Content)
}

func TestPatientRecord_IsEmpty(t *testing.T) {
	var nilRecord *PatientRecord
	assert.True(t, nilRecord.IsEmpty())
	assert.Equal(t, "Unknown", nilRecord.PatientName())

	r := &PatientRecord{}
	assert.True(t, r.IsEmpty())

	r.Patient = &Patient{ID: "p1", Name: "Ana"}
	assert.False(t, r.IsEmpty())
	assert.Equal(t, "Ana", r.PatientName())
}
