package scope

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"catflow/internal/models"
	"catflow/internal/providers"
)

// Result is the outcome of scoping one chunk's metadata mentions.
type Result struct {
	Scope           string            `json:"scope"`
	Confidence      float64           `json:"confidence"`
	Reasoning       string            `json:"reasoning"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
}

// Detector applies deterministic pattern rules first and only asks the
// external classifiers when no rule fires. Transient classifier errors are
// retried with backoff; quota and permanent errors fail over to the next
// configured classifier. When every classifier is exhausted the detector
// answers catalog_general_implicit at confidence 0.5, the lowest-commitment
// scope. It never raises.
type Detector struct {
	classifiers []providers.ScopeClassifier
	timeout     time.Duration
	attempts    int
	backoff     time.Duration
}

func NewDetector(classifiers []providers.ScopeClassifier, timeout time.Duration) *Detector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Detector{
		classifiers: classifiers,
		timeout:     timeout,
		attempts:    3,
		backoff:     200 * time.Millisecond,
	}
}

var catalogQualifiers = []string{
	"all products",
	"available in",
	"throughout the collection",
	"entire collection",
	"across the range",
	"every product",
	"toda la coleccion",
}

var categoryKeywords = []string{
	"seating", "tables", "lighting", "storage",
	"wall tiles", "floor tiles", "outdoor range", "indoor range",
}

func (d *Detector) Detect(ctx context.Context, text string, knownProducts []string) Result {
	fields := ExtractFields(text)

	names := matchProductNames(text, knownProducts)
	if len(names) == 1 {
		return Result{
			Scope:           models.ScopeProductSpecific,
			Confidence:      0.9,
			Reasoning:       fmt.Sprintf("chunk names product %q", names[0]),
			ExtractedFields: fields,
		}
	}

	lower := strings.ToLower(text)
	for _, q := range catalogQualifiers {
		if strings.Contains(lower, q) {
			return Result{
				Scope:           models.ScopeCatalogGeneralExplicit,
				Confidence:      0.85,
				Reasoning:       fmt.Sprintf("explicit catalog qualifier %q", q),
				ExtractedFields: fields,
			}
		}
	}

	if len(names) == 0 {
		for _, kw := range categoryKeywords {
			if strings.Contains(lower, kw) {
				return Result{
					Scope:           models.ScopeCategorySpecific,
					Confidence:      0.7,
					Reasoning:       fmt.Sprintf("chunk names category %q without a product name", kw),
					ExtractedFields: fields,
				}
			}
		}
	}

	if len(d.classifiers) > 0 {
		cls, info, err := d.classify(ctx, text, knownProducts)
		if err == nil {
			return Result{
				Scope:           cls.Scope,
				Confidence:      cls.Confidence,
				Reasoning:       fmt.Sprintf("%s via %s", cls.Reasoning, info.Name),
				ExtractedFields: fields,
			}
		}
	}

	return Result{
		Scope:           models.ScopeCatalogGeneralImplicit,
		Confidence:      0.5,
		Reasoning:       "no pattern rule fired and classifier unavailable; defaulting to implicit catalog scope",
		ExtractedFields: fields,
	}
}

// classify walks the configured classifiers in failover order. Transient and
// rate errors are retried on the same classifier with doubling backoff; quota
// and permanent errors skip straight to the next classifier.
func (d *Detector) classify(ctx context.Context, text string, knownProducts []string) (providers.ScopeClassification, providers.ProviderInfo, error) {
	var lastErr error
	for _, c := range d.classifiers {
		if c == nil {
			continue
		}
		for attempt := 0; attempt < d.attempts; attempt++ {
			cctx, cancel := context.WithTimeout(ctx, d.timeout)
			cls, info, err := c.Classify(cctx, providers.ClassifyRequest{
				Operation:     "scope_detect",
				Text:          text,
				KnownProducts: knownProducts,
			})
			cancel()
			if err == nil {
				return cls, info, nil
			}
			lastErr = err
			kind := providers.ClassifyError(err)
			if kind != providers.ErrorTransient && kind != providers.ErrorRate {
				break
			}
			time.Sleep(d.backoff << attempt)
		}
	}
	return providers.ScopeClassification{}, providers.ProviderInfo{}, lastErr
}

// matchProductNames returns the known product names mentioned as whole words.
func matchProductNames(text string, knownProducts []string) []string {
	upper := strings.ToUpper(text)
	out := make([]string, 0, 2)
	for _, name := range knownProducts {
		n := strings.ToUpper(strings.TrimSpace(name))
		if n == "" {
			continue
		}
		idx := 0
		for {
			i := strings.Index(upper[idx:], n)
			if i < 0 {
				break
			}
			abs := idx + i
			before := abs == 0 || !isWordByte(upper[abs-1])
			afterIdx := abs + len(n)
			after := afterIdx >= len(upper) || !isWordByte(upper[afterIdx])
			if before && after {
				out = append(out, name)
				break
			}
			idx = abs + len(n)
		}
	}
	return out
}

func isWordByte(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

var (
	reDimensions      = regexp.MustCompile(`\d+(?:[.,]\d+)?\s*[×x]\s*\d+(?:[.,]\d+)?(?:\s*(?:cm|mm))?`)
	reSlipResistance  = regexp.MustCompile(`\bR(?:9|1[0-3])\b`)
	reWaterAbsorption = regexp.MustCompile(`(?i)water absorption[:\s]*([<>]?\s*\d+(?:[.,]\d+)?\s*%)`)
	rePEIRating       = regexp.MustCompile(`(?i)\bPEI[-\s]?([1-5])\b`)
	reManufacturer    = regexp.MustCompile(`(?im)^manufacturer[:\s]+(.+)$`)
	reColors          = regexp.MustCompile(`(?im)^colou?rs?[:\s]+(.+)$`)
	reSurfaceFinish   = regexp.MustCompile(`(?i)\b(matte|glossy|polished|satin|textured|rectified)\b`)
	reMaterial        = regexp.MustCompile(`(?i)\b(porcelain stoneware|porcelain|stoneware|ceramic|oak|walnut|aluminum|steel|leather)\b`)
	reSlipPhrase      = regexp.MustCompile(`(?i)slip resistance[:\s]*(R(?:9|1[0-3]))`)
)

// ExtractFields pulls canonical metadata fields out of chunk text with
// deterministic patterns. Keys follow the canonical field set used for
// product completeness scoring.
func ExtractFields(text string) map[string]string {
	fields := map[string]string{}
	if m := reDimensions.FindString(text); m != "" {
		fields["dimensions"] = normalizeSpace(m)
	}
	if m := reSlipPhrase.FindStringSubmatch(text); len(m) > 1 {
		fields["slip_resistance"] = strings.ToUpper(m[1])
	} else if m := reSlipResistance.FindString(text); m != "" {
		fields["slip_resistance"] = strings.ToUpper(m)
	}
	if m := reWaterAbsorption.FindStringSubmatch(text); len(m) > 1 {
		fields["water_absorption"] = normalizeSpace(m[1])
	}
	if m := rePEIRating.FindStringSubmatch(text); len(m) > 1 {
		fields["pei_rating"] = "PEI-" + m[1]
	}
	if m := reManufacturer.FindStringSubmatch(text); len(m) > 1 {
		fields["manufacturer"] = strings.TrimSpace(m[1])
	}
	if m := reColors.FindStringSubmatch(text); len(m) > 1 {
		fields["colors"] = strings.TrimSpace(m[1])
	}
	if m := reSurfaceFinish.FindString(text); m != "" {
		fields["surface_finish"] = strings.ToLower(m)
	}
	if m := reMaterial.FindString(text); m != "" {
		fields["material"] = strings.ToLower(m)
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
