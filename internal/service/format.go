package service

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/carecontext/internal/domain"
)

const (
	// NoContextSentinel is rendered when retrieval found nothing above the floor.
	NoContextSentinel = "No relevant context found."
	contextDivider    = "\n\n---\n\n"
)

// FormatContext renders a merged context as one citable text block. Each chunk
// gets a "[i] source_label (date)" header; indices start at 1.
func FormatContext(mc *domain.MergedContext) string {
	return FormatChunks(mc.Chunks())
}

// FormatChunks renders chunks in order. It never returns an empty string.
func FormatChunks(chunks []domain.Chunk) string {
	if len(chunks) == 0 {
		return NoContextSentinel
	}

	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		label := c.Metadata.SourceLabel
		if label == "" {
			label = "unknown"
		}
		header := fmt.Sprintf("[%d] %s", i+1, label)
		if !c.Metadata.Date.IsZero() {
			header += " (" + c.Metadata.Date.Format(domain.DateLayout) + ")"
		}
		parts = append(parts, header+"\n"+c.Content)
	}
	return strings.Join(parts, contextDivider)
}
