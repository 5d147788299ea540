package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"catflow/internal/models"
	"catflow/internal/util"

	"github.com/ledongthuc/pdf"
)

// Extractor turns a source file into per-page sanitized text.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]models.Page, error)
}

// ForPath picks an extractor by file extension.
func ForPath(path string) (Extractor, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return &PDFExtractor{}, nil
	case ".txt", ".md":
		return &TextExtractor{}, nil
	default:
		return nil, fmt.Errorf("unsupported document type %q", filepath.Ext(path))
	}
}

type PDFExtractor struct{}

func (e *PDFExtractor) Extract(ctx context.Context, path string) ([]models.Page, error) {
	_ = ctx
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages := make([]models.Page, 0, r.NumPage())
	any := false
	for n := 1; n <= r.NumPage(); n++ {
		p := r.Page(n)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// Pages that fail to decode become empty pages so page numbers
			// stay aligned with the source document.
			text = ""
		}
		text = util.SanitizeText(strings.TrimSpace(text))
		if text != "" {
			any = true
		}
		pages = append(pages, models.Page{PageNumber: n, Text: text})
	}
	if !any {
		return nil, util.ErrNoExtractableText
	}
	return pages, nil
}

// TextExtractor reads plain text and markdown, splitting on form feeds when
// present and otherwise treating the whole file as one page.
type TextExtractor struct{}

func (e *TextExtractor) Extract(ctx context.Context, path string) ([]models.Page, error) {
	_ = ctx
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text file: %w", err)
	}
	parts := strings.Split(string(raw), "\f")
	pages := make([]models.Page, 0, len(parts))
	any := false
	for i, part := range parts {
		text := util.SanitizeText(strings.TrimSpace(part))
		if text != "" {
			any = true
		}
		pages = append(pages, models.Page{PageNumber: i + 1, Text: text})
	}
	if !any {
		return nil, util.ErrNoExtractableText
	}
	return pages, nil
}
