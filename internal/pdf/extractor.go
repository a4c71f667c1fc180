// Package pdfutil pulls the text layer out of PDF content.
package pdfutil

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// Extraction is the text layer of a PDF. PageText is indexed from page 1 at
// position 0; pages without content hold an empty string.
type Extraction struct {
	PageText []string
}

// Pages is the page count.
func (e Extraction) Pages() int { return len(e.PageText) }

// Text joins every page, one newline after each.
func (e Extraction) Text() string {
	var b strings.Builder
	for _, t := range e.PageText {
		b.WriteString(t)
		b.WriteString("\n")
	}
	return b.String()
}

// ExtractText reads PDF bytes with ledongthuc/pdf.
func ExtractText(data []byte) (Extraction, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extraction{}, fmt.Errorf("new pdf reader: %w", err)
	}
	out := Extraction{PageText: make([]string, doc.NumPage())}
	for i := range out.PageText {
		p := doc.Page(i + 1)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return Extraction{}, fmt.Errorf("page %d: %w", i+1, err)
		}
		out.PageText[i] = content
	}
	return out, nil
}
