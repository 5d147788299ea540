package scope

import (
	"regexp"
	"strings"
)

// Chunk content kinds. Used by quality scoring to discount navigational
// content such as tables of contents.
const (
	KindProductDescription = "product_description"
	KindTechnicalSpecs     = "technical_specs"
	KindVisualShowcase     = "visual_showcase"
	KindDesignerStory      = "designer_story"
	KindCollectionOverview = "collection_overview"
	KindIndexContent       = "index_content"
	KindSustainabilityInfo = "sustainability_info"
	KindCertificationInfo  = "certification_info"
	KindSupportingContent  = "supporting_content"
	KindUnclassified       = "unclassified"
)

var (
	reDottedLeader  = regexp.MustCompile(`\.{4,}\s*\d+`)
	reUppercaseName = regexp.MustCompile(`\b[A-ZÀ-Þ]{3,}\b`)
	reSpecBullet    = regexp.MustCompile(`(?m)^\s*[•\-*]\s*[\w ]+:`)
	reMeasurement   = regexp.MustCompile(`\d+\s*(?:cm|mm|kg|°C|%)`)
)

// ClassifyKind assigns a content kind to chunk text with pattern rules only.
func ClassifyKind(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 30 {
		return KindUnclassified
	}
	lower := strings.ToLower(trimmed)

	if strings.Contains(lower, "table of contents") || reDottedLeader.MatchString(trimmed) {
		return KindIndexContent
	}
	if strings.Contains(lower, "sustainab") || strings.Contains(lower, "recycled") || strings.Contains(lower, "carbon-neutral") || strings.Contains(lower, "eco-friendly") {
		return KindSustainabilityInfo
	}
	if strings.Contains(lower, "quality assurance") || strings.Contains(lower, "iso ") || strings.Contains(lower, "ce mark") || strings.Contains(lower, "compliance") {
		return KindCertificationInfo
	}
	if strings.Contains(lower, "technical specification") || len(reSpecBullet.FindAllString(trimmed, -1)) >= 2 {
		return KindTechnicalSpecs
	}
	if strings.Contains(lower, "designer ") && (strings.Contains(lower, "philosophy") || strings.Contains(lower, "inspired")) {
		return KindDesignerStory
	}
	if strings.Contains(lower, "collection") && (strings.Contains(lower, "presents") || strings.Contains(lower, "includes") || strings.Contains(lower, "comprehensive line")) {
		return KindCollectionOverview
	}
	if strings.Contains(lower, "moodboard") || strings.Contains(lower, "image gallery") || strings.Contains(lower, "photography") {
		return KindVisualShowcase
	}
	if reUppercaseName.MatchString(trimmed) && (reDimensions.MatchString(trimmed) || reMeasurement.MatchString(trimmed) || reMaterial.MatchString(trimmed)) {
		return KindProductDescription
	}
	return KindSupportingContent
}
