package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/ledongthuc/pdf"

	"github.com/nickcecere/ragchat/internal/chunker"
)

// Extractor returns the text of each page of a document.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]chunker.Page, error)
}

// PDFExtractor reads PDFs with ledongthuc/pdf.
type PDFExtractor struct{}

// Extract returns one entry per page that yields text. Pages that fail to
// decode are skipped; an unreadable file or zero usable pages is
// ErrExtractionFailed.
func (PDFExtractor) Extract(ctx context.Context, path string) (pages []chunker.Page, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: %s: %v", ErrExtractionFailed, path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtractionFailed, path, err)
	}
	defer f.Close()

	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Debug("Skipping unreadable page", "path", path, "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, chunker.Page{Number: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s has no extractable text", ErrExtractionFailed, path)
	}
	return pages, nil
}
