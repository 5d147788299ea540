package metadata

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"catflow/internal/models"

	"github.com/panjf2000/ants/v2"
)

// CriticalFields is the canonical field set used for product completeness
// scoring.
var CriticalFields = []string{
	"manufacturer",
	"material",
	"dimensions",
	"colors",
	"surface_finish",
	"slip_resistance",
	"water_absorption",
	"application_area",
}

// ConflictPolicy decides which value wins when two product-specific chunks
// for the same product disagree on the same key within a pass.
type ConflictPolicy string

const (
	// LaterChunkWins keeps the value from the chunk with the higher position.
	LaterChunkWins ConflictPolicy = "later_chunk_wins"
	// FirstChunkWins keeps the first value applied.
	FirstChunkWins ConflictPolicy = "first_chunk_wins"
)

type Result struct {
	ProductsUpdated  int      `json:"products_updated"`
	OverridesApplied int      `json:"overrides_applied"`
	FieldsApplied    int      `json:"fields_applied"`
	Issues           []string `json:"issues,omitempty"`
}

type Applier struct {
	conflict    ConflictPolicy
	concurrency int
}

func NewApplier(conflict ConflictPolicy, concurrency int) *Applier {
	if conflict == "" {
		conflict = LaterChunkWins
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Applier{conflict: conflict, concurrency: concurrency}
}

// Apply runs the two-pass metadata application over a document's chunks.
//
// Pass 1 seeds catalog-general values onto every product that does not
// already hold the key. Pass 2 applies product- and category-specific values
// onto their matching products, overwriting seeded values and recording each
// overwritten key once in the product's overrides list. Applying the same
// chunk set twice yields identical products: values settle, overrides do not
// duplicate, and catalog-general values never re-seed over an override.
func (a *Applier) Apply(chunks []models.Chunk, products []*models.Product) Result {
	res := Result{}
	if len(products) == 0 || len(chunks) == 0 {
		return res
	}

	ordered := make([]models.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	updated := make(map[string]bool)
	var mu sync.Mutex

	// Pass 1: catalog-general chunks seed every product lacking the key.
	for _, c := range ordered {
		if c.Scope != models.ScopeCatalogGeneralExplicit && c.Scope != models.ScopeCatalogGeneralImplicit {
			continue
		}
		for _, key := range sortedKeys(c.Metadata) {
			val := c.Metadata[key]
			if err := validateValue(key, val.Value); err != nil {
				res.Issues = append(res.Issues, fmt.Sprintf("chunk %s: %v", c.ChunkID, err))
				continue
			}
			for _, p := range products {
				if p.Metadata == nil {
					p.Metadata = map[string]string{}
				}
				if _, ok := p.Metadata[key]; ok {
					continue
				}
				p.Metadata[key] = val.Value
				updated[p.ProductID] = true
				res.FieldsApplied++
			}
		}
	}

	// Pass 2: product- and category-specific chunks, grouped per product so
	// writes to one product stay serialized and in position order while
	// products proceed concurrently.
	groups := map[string][]models.Chunk{}
	for _, c := range ordered {
		if c.Scope != models.ScopeProductSpecific && c.Scope != models.ScopeCategorySpecific {
			continue
		}
		for _, p := range matchProducts(c, products) {
			groups[p.ProductID] = append(groups[p.ProductID], c)
		}
	}

	byID := make(map[string]*models.Product, len(products))
	for _, p := range products {
		byID[p.ProductID] = p
	}

	pool, err := ants.NewPool(a.concurrency)
	if err != nil {
		pool = nil
	} else {
		defer pool.Release()
	}
	var wg sync.WaitGroup
	for productID, group := range groups {
		p := byID[productID]
		group := group
		task := func() {
			defer wg.Done()
			local := a.applyToProduct(p, group)
			mu.Lock()
			res.FieldsApplied += local.FieldsApplied
			res.OverridesApplied += local.OverridesApplied
			res.Issues = append(res.Issues, local.Issues...)
			if local.FieldsApplied > 0 || local.OverridesApplied > 0 {
				updated[productID] = true
			}
			mu.Unlock()
		}
		wg.Add(1)
		if pool != nil {
			if err := pool.Submit(task); err != nil {
				task()
			}
		} else {
			task()
		}
	}
	wg.Wait()

	res.ProductsUpdated = len(updated)
	sort.Strings(res.Issues)
	return res
}

// applyToProduct applies one product's specific chunks in position order.
func (a *Applier) applyToProduct(p *models.Product, group []models.Chunk) Result {
	local := Result{}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	for _, c := range group {
		for _, key := range sortedKeys(c.Metadata) {
			val := c.Metadata[key]
			if err := validateValue(key, val.Value); err != nil {
				local.Issues = append(local.Issues, fmt.Sprintf("chunk %s: %v", c.ChunkID, err))
				continue
			}
			existing, had := p.Metadata[key]
			if had && existing == val.Value {
				continue
			}
			if had && a.conflict == FirstChunkWins && appliedByThisPass(group, c, key) {
				continue
			}
			p.Metadata[key] = val.Value
			local.FieldsApplied++
			if had {
				if appendOnce(&p.Overrides, key) {
					local.OverridesApplied++
				}
			}
		}
	}
	return local
}

// appliedByThisPass reports whether an earlier chunk of the same group
// already supplied the key, which is the only case FirstChunkWins suppresses.
func appliedByThisPass(group []models.Chunk, current models.Chunk, key string) bool {
	for _, c := range group {
		if c.Position >= current.Position {
			return false
		}
		if _, ok := c.Metadata[key]; ok {
			return true
		}
	}
	return false
}

// matchProducts resolves which products a specific-scope chunk targets: the
// chunk's own product when the chunking stage assigned one, otherwise
// products whose name the chunk mentions; category chunks target products
// sharing the chunk's extracted category value.
func matchProducts(c models.Chunk, products []*models.Product) []*models.Product {
	if c.Scope == models.ScopeProductSpecific {
		if c.ProductID != nil {
			for _, p := range products {
				if p.ProductID == *c.ProductID {
					return []*models.Product{p}
				}
			}
		}
		upper := strings.ToUpper(c.Text)
		out := make([]*models.Product, 0, 1)
		for _, p := range products {
			if p.Name != "" && containsWholeWord(upper, strings.ToUpper(p.Name)) {
				out = append(out, p)
			}
		}
		return out
	}

	// category_specific
	cat := ""
	if v, ok := c.Metadata["category"]; ok {
		cat = strings.ToLower(v.Value)
	}
	if cat == "" {
		return nil
	}
	out := make([]*models.Product, 0, 2)
	for _, p := range products {
		if strings.ToLower(p.Metadata["category"]) == cat {
			out = append(out, p)
		}
	}
	return out
}

func containsWholeWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		abs := idx + i
		before := abs == 0 || !isWordByte(s[abs-1])
		afterIdx := abs + len(word)
		after := afterIdx >= len(s) || !isWordByte(s[afterIdx])
		if before && after {
			return true
		}
		idx = abs + len(word)
	}
}

func isWordByte(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func validateValue(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty metadata key")
	}
	v := strings.TrimSpace(value)
	if v == "" {
		return fmt.Errorf("empty value for key %q", key)
	}
	if len(v) > 500 {
		return fmt.Errorf("value for key %q exceeds 500 characters", key)
	}
	for _, r := range v {
		if r < 0x20 && r != '\n' && r != '\t' {
			return fmt.Errorf("value for key %q contains control characters", key)
		}
	}
	return nil
}

func appendOnce(list *[]string, key string) bool {
	for _, k := range *list {
		if k == key {
			return false
		}
	}
	*list = append(*list, key)
	return true
}

func sortedKeys(m map[string]models.MetadataValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Completeness returns the fraction of critical fields populated on a
// product's metadata.
func Completeness(meta map[string]string) float64 {
	if len(CriticalFields) == 0 {
		return 0
	}
	found := 0
	for _, f := range CriticalFields {
		if strings.TrimSpace(meta[f]) != "" {
			found++
		}
	}
	return float64(found) / float64(len(CriticalFields))
}
