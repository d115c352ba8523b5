// Package extract turns knowledge source files into plain text documents.
package extract

import (
	"path"
	"strings"

	"github.com/cloo-solutions/carecontext/internal/domain"
)

// Document is one unit of extracted text with its provenance label.
type Document struct {
	Label string
	Text  string
}

// Extractor converts raw file bytes into documents. name is the file's base
// name and is used to derive labels.
type Extractor func(name string, data []byte) ([]Document, error)

var extractors = map[string]Extractor{
	".pdf":      PDF,
	".docx":     DOCX,
	".md":       Markdown,
	".markdown": Markdown,
	".txt":      Text,
}

// Supported reports whether a file name has a registered extractor.
func Supported(name string) bool {
	_, ok := extractors[strings.ToLower(path.Ext(name))]
	return ok
}

// Extract dispatches on the file extension. Files with no extractor fail
// with UNSUPPORTED_SOURCE_FORMAT.
func Extract(name string, data []byte) ([]Document, error) {
	ext := strings.ToLower(path.Ext(name))
	fn, ok := extractors[ext]
	if !ok {
		return nil, domain.UnsupportedSourceFormat(ext)
	}
	docs, err := fn(name, data)
	if err != nil {
		return nil, err
	}

	out := docs[:0]
	for _, d := range docs {
		if strings.TrimSpace(d.Text) != "" {
			out = append(out, d)
		}
	}
	return out, nil
}

// Text decodes UTF-8 text, dropping a leading byte-order mark.
func Text(name string, data []byte) ([]Document, error) {
	s := strings.TrimPrefix(string(data), "\ufeff")
	return []Document{{Label: name, Text: s}}, nil
}
