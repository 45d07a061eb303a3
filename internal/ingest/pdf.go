package ingest

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF reads a PDF page by page so chunk page attribution stays exact.
// Pages that fail text extraction (scanned images, broken encodings) are
// skipped rather than failing the whole document.
func extractPDF(path string) ([]pageText, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var pages []pageText
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, pageText{Page: i, Text: text})
	}
	return pages, nil
}
