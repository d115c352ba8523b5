package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cloo-solutions/carecontext/internal/domain"
)

func TestFormatContext_Empty(t *testing.T) {
	assert.Equal(t, NoContextSentinel, FormatContext(nil))
	assert.Equal(t, NoContextSentinel, FormatContext(&domain.MergedContext{}))
	assert.Equal(t, NoContextSentinel, FormatChunks([]domain.Chunk{}))
}

func TestFormatContext_HeadersAndDivider(t *testing.T) {
	mc := &domain.MergedContext{Matches: []domain.ScoredMatch{
		{Chunk: domain.Chunk{
			Content:  "Cold weather causes flares.",
			Metadata: domain.ChunkMetadata{SourceLabel: "ra-guide.pdf p.3", Date: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		}},
		{Chunk: domain.Chunk{
			Content:  "pain: 7",
			Metadata: domain.ChunkMetadata{SourceLabel: "symptom-log", Date: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)},
		}},
	}}

	got := FormatContext(mc)

	want := "[1] ra-guide.pdf p.3 (2025-06-01)\nCold weather causes flares." +
		"\n\n---\n\n" +
		"[2] symptom-log (2025-06-02)\npain: 7"
	assert.Equal(t, want, got)
}

func TestFormatChunks_OmitsMissingDate(t *testing.T) {
	got := FormatChunks([]domain.Chunk{{Content: "x", Metadata: domain.ChunkMetadata{SourceLabel: "inline"}}})
	assert.Equal(t, "[1] inline\nx", got)
	assert.False(t, strings.Contains(got, "()"))
}
