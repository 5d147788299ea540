package linking

import (
	"sort"
	"strings"

	"catflow/internal/models"
)

// Config bounds how many chunks one image may link to and where the
// relation bands sit.
type Config struct {
	Threshold   float64 // minimum similarity to link at all
	RelatedBand float64 // similarity at or above this links as related
	MaxLinks    int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 0.65
	}
	if c.RelatedBand <= 0 {
		c.RelatedBand = 0.75
	}
	if c.MaxLinks <= 0 {
		c.MaxLinks = 50
	}
	return c
}

// Candidate is a chunk scored against one image signature.
type Candidate struct {
	ChunkID    string
	Similarity float64
	Metadata   map[string]models.MetadataValue
}

type Linker struct {
	cfg Config
}

func NewLinker(cfg Config) *Linker {
	return &Linker{cfg: cfg.withDefaults()}
}

// Link ranks candidates for one image and assigns relation bands. The best
// match above threshold becomes primary, further matches at or above the
// related band become related, and the remainder above threshold become
// context. Ties on similarity break by chunk ID so repeated runs produce
// the same ranking.
func (l *Linker) Link(imageID string, candidates []Candidate) []models.ChunkImageRelationship {
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity >= l.cfg.Threshold {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Similarity != kept[j].Similarity {
			return kept[i].Similarity > kept[j].Similarity
		}
		return kept[i].ChunkID < kept[j].ChunkID
	})
	if len(kept) > l.cfg.MaxLinks {
		kept = kept[:l.cfg.MaxLinks]
	}

	rels := make([]models.ChunkImageRelationship, 0, len(kept))
	for rank, c := range kept {
		relation := models.RelationContext
		switch {
		case rank == 0:
			relation = models.RelationPrimary
		case c.Similarity >= l.cfg.RelatedBand:
			relation = models.RelationRelated
		}
		rels = append(rels, models.ChunkImageRelationship{
			ImageID:    imageID,
			ChunkID:    c.ChunkID,
			Similarity: c.Similarity,
			Relation:   relation,
			Rank:       rank,
		})
	}
	return rels
}

// Material-property keys derived onto images land in MaterialProperties
// rather than general Metadata.
var materialPropertyKeys = map[string]bool{
	"material":         true,
	"surface_finish":   true,
	"slip_resistance":  true,
	"water_absorption": true,
	"pei_rating":       true,
}

// Derived is the metadata a set of linked chunks implies for an image.
type Derived struct {
	Metadata           map[string]string
	MaterialProperties map[string]string
}

// DeriveMetadata picks, per key, the value whose supporting chunks carry the
// highest summed similarity. A tie between values breaks toward the value
// backed by the single most similar chunk, then lexicographically.
func DeriveMetadata(linked []Candidate) Derived {
	type tally struct {
		weight float64
		best   float64
	}
	perKey := map[string]map[string]*tally{}
	for _, c := range linked {
		for key, mv := range c.Metadata {
			v := strings.TrimSpace(mv.Value)
			if v == "" {
				continue
			}
			if perKey[key] == nil {
				perKey[key] = map[string]*tally{}
			}
			t := perKey[key][v]
			if t == nil {
				t = &tally{}
				perKey[key][v] = t
			}
			t.weight += c.Similarity
			if c.Similarity > t.best {
				t.best = c.Similarity
			}
		}
	}

	out := Derived{Metadata: map[string]string{}, MaterialProperties: map[string]string{}}
	for key, values := range perKey {
		winner := ""
		var winning *tally
		for v, t := range values {
			if winning == nil ||
				t.weight > winning.weight ||
				(t.weight == winning.weight && t.best > winning.best) ||
				(t.weight == winning.weight && t.best == winning.best && v < winner) {
				winner, winning = v, t
			}
		}
		if materialPropertyKeys[key] {
			out.MaterialProperties[key] = winner
		} else {
			out.Metadata[key] = winner
		}
	}
	if len(out.Metadata) == 0 {
		out.Metadata = nil
	}
	if len(out.MaterialProperties) == 0 {
		out.MaterialProperties = nil
	}
	return out
}
