package extract

import (
	"fmt"
	"regexp"
	"strings"

	"catflow/internal/chunking"
	"catflow/internal/models"
	"catflow/internal/util"
)

var (
	reCandidateName = regexp.MustCompile(`(?m)^\s*([A-ZÀ-Þ][A-ZÀ-Þ0-9]{2,}(?:[ -][A-ZÀ-Þ0-9]{2,})?)\s*$`)
	reDimensionHint = regexp.MustCompile(`\d+(?:[.,]\d+)?\s*[×x]\s*\d+(?:[.,]\d+)?`)
	reDesignerHint  = regexp.MustCompile(`(?i)\bdesign(?:ed)?\s+by\b|\bdesigner\b`)
	reSpecLine      = regexp.MustCompile(`(?im)^\s*(?:dimensions|material|colou?rs?|finish|weight|slip resistance|water absorption)\s*:`)
	reCaptionLine   = regexp.MustCompile(`(?im)^\s*(?:figure|fig\.|image|photo|img)\s*\.?\s*(\d+)?\s*[:.]?\s*(.*)$`)

	nonProductWords = map[string]bool{
		"CONTENTS": true, "INDEX": true, "INTRODUCTION": true,
		"COLLECTION": true, "CATALOG": true, "CATALOGUE": true,
		"SUSTAINABILITY": true, "CERTIFICATIONS": true, "WARRANTY": true,
		"TECHNICAL": true, "SPECIFICATIONS": true, "OVERVIEW": true,
	}
)

// DetectBoundaries scans extracted pages for product sections. A page opens
// a new section when it leads with an isolated uppercase name and carries a
// product indicator (dimensions, designer credit, or spec lines). Sections
// run until the next section opens. Pages inside a section that are pure
// spec listings are marked as metadata pages so chunking can skip them.
func DetectBoundaries(documentID string, pages []models.Page) []chunking.ProductBoundary {
	type opening struct {
		name string
		page int
		conf float64
	}
	var openings []opening

	for _, p := range pages {
		name := candidateName(p.Text)
		if name == "" {
			continue
		}
		conf := 0.5
		if reDimensionHint.MatchString(p.Text) {
			conf += 0.2
		}
		if reDesignerHint.MatchString(p.Text) {
			conf += 0.15
		}
		if len(reSpecLine.FindAllString(p.Text, -1)) >= 2 {
			conf += 0.15
		}
		if conf > 1 {
			conf = 1
		}
		openings = append(openings, opening{name: name, page: p.PageNumber, conf: conf})
	}

	boundaries := make([]chunking.ProductBoundary, 0, len(openings))
	for i, o := range openings {
		end := lastPage(pages)
		if i+1 < len(openings) {
			end = openings[i+1].page - 1
		}
		b := chunking.ProductBoundary{
			ProductID:  util.SHA256Hex([]byte(fmt.Sprintf("%s:%s:%d", documentID, o.name, o.page)))[:16],
			Name:       o.name,
			PageStart:  o.page,
			PageEnd:    end,
			Confidence: o.conf,
		}
		for _, p := range pages {
			if p.PageNumber > o.page && p.PageNumber <= end && isMetadataPage(p.Text) {
				b.MetadataPages = append(b.MetadataPages, p.PageNumber)
			}
		}
		boundaries = append(boundaries, b)
	}
	return boundaries
}

// candidateName returns the first isolated uppercase line that looks like a
// product name rather than a section heading.
func candidateName(text string) string {
	for _, m := range reCandidateName.FindAllStringSubmatch(text, 5) {
		name := strings.TrimSpace(m[1])
		first := strings.SplitN(name, " ", 2)[0]
		if nonProductWords[first] || nonProductWords[name] {
			continue
		}
		return name
	}
	return ""
}

// isMetadataPage reports whether a page is dominated by spec listings with
// little running prose.
func isMetadataPage(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return false
	}
	spec, prose := 0, 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if reSpecLine.MatchString(line) || reDimensionHint.MatchString(line) {
			spec++
		} else if len(strings.Fields(line)) >= 6 {
			prose++
		}
	}
	return spec >= 3 && spec > prose
}

// DetectImages finds caption-style lines and records one image per caption.
// Extraction is text-only, so the raw reference points at the page the
// caption sits on.
func DetectImages(documentID string, pages []models.Page) []models.Image {
	var images []models.Image
	for _, p := range pages {
		for _, m := range reCaptionLine.FindAllStringSubmatch(p.Text, -1) {
			caption := strings.TrimSpace(m[2])
			if len(caption) < 10 {
				continue
			}
			images = append(images, models.Image{
				ImageID:    util.SHA256Hex([]byte(fmt.Sprintf("%s:%d:%s", documentID, p.PageNumber, caption)))[:16],
				DocumentID: documentID,
				PageNumber: p.PageNumber,
				RawRef:     fmt.Sprintf("page-%d", p.PageNumber),
				Caption:    caption,
			})
		}
	}
	return images
}

func lastPage(pages []models.Page) int {
	last := 0
	for _, p := range pages {
		if p.PageNumber > last {
			last = p.PageNumber
		}
	}
	return last
}
