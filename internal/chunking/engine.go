package chunking

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"catflow/internal/models"
	"catflow/internal/util"
)

type Config struct {
	// MinChars and MaxChars bound the character budget per chunk.
	MinChars int
	MaxChars int
	// Tolerance is how far back from a forced cut the engine may look for a
	// paragraph or sentence boundary.
	Tolerance int
	// BoundaryConfidence is the minimum confidence at which product
	// boundaries are honored. Below it the engine falls back to default
	// splitting and leaves product IDs unset.
	BoundaryConfidence float64
}

func (c Config) withDefaults() Config {
	if c.MinChars <= 0 {
		c.MinChars = 1000
	}
	if c.MaxChars <= c.MinChars {
		c.MaxChars = 6000
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 400
	}
	if c.BoundaryConfidence <= 0 {
		c.BoundaryConfidence = 0.6
	}
	return c
}

// ProductBoundary is a detected product page range, with optional pages that
// hold structured specification text to exclude from chunking.
type ProductBoundary struct {
	ProductID     string  `json:"product_id"`
	Name          string  `json:"name"`
	PageStart     int     `json:"page_start"`
	PageEnd       int     `json:"page_end"`
	Confidence    float64 `json:"confidence"`
	MetadataPages []int   `json:"metadata_pages,omitempty"`
}

// Piece is one produced chunk before persistence.
type Piece struct {
	Position  int
	Text      string
	PageStart int
	PageEnd   int
	ProductID *string
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Chunk splits page text into pieces. When boundaries are known with enough
// confidence, no piece spans two products. Chunking always produces output:
// any failure in boundary handling falls back to default splitting over the
// original, unfiltered text.
func (e *Engine) Chunk(pages []models.Page, boundaries []ProductBoundary) []Piece {
	if len(pages) == 0 {
		return nil
	}
	confident := confidentBoundaries(boundaries, e.cfg.BoundaryConfidence)
	if len(confident) > 0 {
		pieces, err := e.chunkWithBoundaries(pages, confident)
		if err == nil {
			return pieces
		}
	}
	return e.chunkSegment(pages, nil, 0)
}

func confidentBoundaries(boundaries []ProductBoundary, threshold float64) []ProductBoundary {
	out := make([]ProductBoundary, 0, len(boundaries))
	for _, b := range boundaries {
		if b.Confidence >= threshold {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageStart < out[j].PageStart })
	return out
}

func (e *Engine) chunkWithBoundaries(pages []models.Page, boundaries []ProductBoundary) ([]Piece, error) {
	prevEnd := 0
	for _, b := range boundaries {
		if b.PageStart < 1 || b.PageEnd < b.PageStart {
			return nil, fmt.Errorf("invalid boundary page range %d-%d for %q", b.PageStart, b.PageEnd, b.Name)
		}
		if b.PageStart <= prevEnd {
			return nil, fmt.Errorf("overlapping boundary at page %d for %q", b.PageStart, b.Name)
		}
		prevEnd = b.PageEnd
	}

	type segment struct {
		pages     []models.Page
		productID *string
	}
	segments := make([]segment, 0, len(boundaries)+1)
	for _, p := range pages {
		owner := -1
		excluded := false
		for i, b := range boundaries {
			if p.PageNumber >= b.PageStart && p.PageNumber <= b.PageEnd {
				owner = i
				for _, mp := range b.MetadataPages {
					if mp == p.PageNumber {
						excluded = true
					}
				}
				break
			}
		}
		if excluded {
			continue
		}
		var pid *string
		if owner >= 0 {
			id := boundaries[owner].ProductID
			pid = &id
		}
		if n := len(segments); n > 0 && sameProduct(segments[n-1].productID, pid) {
			segments[n-1].pages = append(segments[n-1].pages, p)
			continue
		}
		segments = append(segments, segment{pages: []models.Page{p}, productID: pid})
	}

	pieces := make([]Piece, 0, len(segments))
	position := 0
	for _, seg := range segments {
		out := e.chunkSegment(seg.pages, seg.productID, position)
		position += len(out)
		pieces = append(pieces, out...)
	}
	return pieces, nil
}

func sameProduct(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// chunkSegment splits one run of pages that belong to at most one product.
func (e *Engine) chunkSegment(pages []models.Page, productID *string, startPosition int) []Piece {
	joined, spans := joinPages(pages)
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	cuts := e.cutPoints(joined)

	pieces := make([]Piece, 0, len(cuts))
	prev := 0
	position := startPosition
	for _, cut := range cuts {
		text := util.SanitizeText(joined[prev:cut])
		if text != "" {
			start, end := pageRange(spans, prev, cut)
			pieces = append(pieces, Piece{
				Position:  position,
				Text:      text,
				PageStart: start,
				PageEnd:   end,
				ProductID: productID,
			})
			position++
		}
		prev = cut
	}
	return pieces
}

// cutPoints returns ascending cut offsets over text, the last always equal to
// len(text). Cuts prefer a paragraph boundary, then a sentence boundary,
// within the tolerance window behind the character budget.
func (e *Engine) cutPoints(text string) []int {
	cuts := make([]int, 0, len(text)/e.cfg.MaxChars+1)
	offset := 0
	for len(text)-offset > e.cfg.MaxChars {
		cut := offset + e.cfg.MaxChars
		winStart := cut - e.cfg.Tolerance
		if winStart < offset {
			winStart = offset
		}
		window := text[winStart:cut]
		if i := strings.LastIndex(window, "\n\n"); i > 0 {
			cut = winStart + i
		} else if j := lastSentenceEnd(window); j > 0 {
			cut = winStart + j
		} else {
			for cut > offset && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		if cut <= offset {
			cut = offset + e.cfg.MaxChars
			for cut > offset+1 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		cuts = append(cuts, cut)
		offset = cut
	}
	cuts = append(cuts, len(text))

	// Fold an undersized tail into the previous chunk when the merged size
	// stays within tolerance of the budget.
	if n := len(cuts); n >= 2 {
		tailStart := 0
		if n >= 2 {
			tailStart = cuts[n-2]
		}
		tail := strings.TrimSpace(text[tailStart:])
		prevStart := 0
		if n >= 3 {
			prevStart = cuts[n-3]
		}
		merged := cuts[n-1] - prevStart
		if len(tail) < e.cfg.MinChars && merged <= e.cfg.MaxChars+e.cfg.Tolerance {
			cuts = append(cuts[:n-2], cuts[n-1])
		}
	}
	return cuts
}

// lastSentenceEnd returns the offset just past the last sentence terminator
// in s that is followed by whitespace, or -1.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i > 0; i-- {
		c := s[i]
		if c != ' ' && c != '\n' && c != '\t' {
			continue
		}
		p := s[i-1]
		if p == '.' || p == '!' || p == '?' {
			return i
		}
	}
	return -1
}

type pageSpan struct {
	start, end int
	page       int
}

func joinPages(pages []models.Page) (string, []pageSpan) {
	var sb strings.Builder
	spans := make([]pageSpan, 0, len(pages))
	for i, p := range pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		start := sb.Len()
		sb.WriteString(p.Text)
		spans = append(spans, pageSpan{start: start, end: sb.Len(), page: p.PageNumber})
	}
	return sb.String(), spans
}

func pageRange(spans []pageSpan, a, b int) (int, int) {
	start, end := 0, 0
	for _, s := range spans {
		if s.end <= a || s.start >= b {
			continue
		}
		if start == 0 {
			start = s.page
		}
		end = s.page
	}
	if start == 0 && len(spans) > 0 {
		start = spans[0].page
		end = spans[0].page
	}
	return start, end
}
