package service

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// ChunkConfig controls text splitting. Sizes are in characters, not tokens.
type ChunkConfig struct {
	Size    int
	Overlap int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Size:    800,
		Overlap: 150,
	}
}

// Boundaries in priority order: paragraph, line, sentence, word, character.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits text into overlapping segments of at most Size characters,
// cutting at the highest-priority boundary that fits.
type Chunker struct {
	size       int
	overlap    int
	separators []string
}

func NewChunker(cfg ChunkConfig) (*Chunker, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.Size)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", cfg.Size, cfg.Overlap)
	}
	return &Chunker{size: cfg.Size, overlap: cfg.Overlap, separators: defaultSeparators}, nil
}

// Split returns the chunks of text in order. Empty or whitespace-only input
// yields no chunks. The result depends only on text and the configuration.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.split(text, c.separators)
}

func (c *Chunker) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			rest = separators[i+1:]
			break
		}
	}

	var out, pending []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if utf8.RuneCountInString(piece) < c.size {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			out = append(out, c.merge(pending)...)
			pending = nil
		}
		if len(rest) == 0 {
			if s := strings.TrimSpace(piece); s != "" {
				out = append(out, s)
			}
		} else {
			out = append(out, c.split(piece, rest)...)
		}
	}
	if len(pending) > 0 {
		out = append(out, c.merge(pending)...)
	}
	return out
}

// splitKeepingSeparator cuts text at sep, keeping sep at the start of the
// following piece. An empty sep splits into characters.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	if parts[0] != "" {
		pieces = append(pieces, parts[0])
	}
	for _, p := range parts[1:] {
		pieces = append(pieces, sep+p)
	}
	return pieces
}

// merge packs small pieces into chunks of at most size characters, carrying
// up to overlap characters of trailing pieces into the next chunk.
func (c *Chunker) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n > c.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for total > c.overlap || (total+n > c.size && total > 0) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// SerializeFields renders structured input as "key: value" lines, sorted by key.
func SerializeFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, fields[k]))
	}
	return strings.Join(lines, "\n")
}
