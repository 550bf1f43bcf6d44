// Package pdfx extracts plain text from PDF documents attached to quick
// entries (lab reports, training plans).
package pdfx

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extract returns the concatenated plain text of all pages. Pages that fail
// to parse are skipped; an error is returned only when the document itself is
// unreadable or yields no text at all.
func Extract(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("pdfx: document is empty")
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdfx: open document: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errors.New("pdfx: no extractable text")
	}
	return out, nil
}
