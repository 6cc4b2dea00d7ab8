// Package extract pulls plain text out of uploaded documents so the
// completion prompt has something to work with.
package extract

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// maxPages bounds how much of a document feeds the prompt.
const maxPages = 10

// FromDocument extracts text from an uploaded file. PDFs go through MuPDF
// page by page; plain text passes through. Unsupported types return empty
// text and no error, letting the caller fall back to the metadata draft.
func FromDocument(mimeType string, data []byte) (string, error) {
	switch {
	case mimeType == "application/pdf":
		return fromPDF(data)
	case strings.HasPrefix(mimeType, "text/"):
		return strings.TrimSpace(string(data)), nil
	default:
		return "", nil
	}
}

func fromPDF(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > maxPages {
		pages = maxPages
	}

	var sb strings.Builder
	for i := 0; i < pages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", i+1, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String()), nil
}
