package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDF extracts one document per page, labelled "name p.N".
func PDF(name string, data []byte) ([]Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", name, err)
	}

	var docs []Document
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d of %s: %w", i, name, err)
		}
		docs = append(docs, Document{
			Label: fmt.Sprintf("%s p.%d", name, i),
			Text:  text,
		})
	}
	return docs, nil
}
