package models

import "time"

// Pipeline job stages, in processing order.
const (
	StageQueued            = "queued"
	StageExtracting        = "extracting"
	StageChunking          = "chunking"
	StageDetectingProducts = "detecting_products"
	StageApplyingMetadata  = "applying_metadata"
	StageLinkingImages     = "linking_images"
	StageScoringQuality    = "scoring_quality"
	StageEmbedding         = "embedding"
	StageCompleted         = "completed"
)

const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Metadata scopes (closed set).
const (
	ScopeProductSpecific        = "product_specific"
	ScopeCatalogGeneralExplicit = "catalog_general_explicit"
	ScopeCatalogGeneralImplicit = "catalog_general_implicit"
	ScopeCategorySpecific       = "category_specific"
)

// Relationship bands between an image and a chunk.
const (
	RelationPrimary = "primary"
	RelationRelated = "related"
	RelationContext = "context"
)

type Document struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	PageCount  int       `json:"page_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Page is immutable once produced by the extractor.
type Page struct {
	DocumentID string   `json:"document_id"`
	PageNumber int      `json:"page_number"`
	Text       string   `json:"text"`
	ImageRefs  []string `json:"image_refs,omitempty"`
}

// MetadataValue is a single extracted metadata value tagged with the scope it
// was detected under and the confidence of that detection.
type MetadataValue struct {
	Value      string  `json:"value"`
	Scope      string  `json:"scope"`
	Confidence float64 `json:"confidence"`
}

type Chunk struct {
	ChunkID         string                   `json:"chunk_id"`
	DocumentID      string                   `json:"document_id"`
	Position        int                      `json:"position"`
	Text            string                   `json:"text"`
	PageStart       int                      `json:"page_start"`
	PageEnd         int                      `json:"page_end"`
	ProductID       *string                  `json:"product_id,omitempty"`
	Kind            string                   `json:"kind,omitempty"`
	Scope           string                   `json:"scope,omitempty"`
	ScopeConfidence float64                  `json:"scope_confidence,omitempty"`
	Metadata        map[string]MetadataValue `json:"metadata,omitempty"`
	QualityScore    float64                  `json:"quality_score"`
	NeedsReview     bool                     `json:"needs_review"`
	CreatedAt       time.Time                `json:"created_at"`
}

type Product struct {
	ProductID    string            `json:"product_id"`
	DocumentID   string            `json:"document_id"`
	Name         string            `json:"name"`
	PageStart    int               `json:"page_start"`
	PageEnd      int               `json:"page_end"`
	Confidence   float64           `json:"confidence"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Overrides    []string          `json:"overrides,omitempty"`
	QualityScore float64           `json:"quality_score"`
	NeedsReview  bool              `json:"needs_review"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type Image struct {
	ImageID            string            `json:"image_id"`
	DocumentID         string            `json:"document_id"`
	PageNumber         int               `json:"page_number"`
	RawRef             string            `json:"raw_ref"`
	Caption            string            `json:"caption,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	MaterialProperties map[string]string `json:"material_properties,omitempty"`
	LinkedChunkCount   int               `json:"linked_chunk_count"`
	QualityScore       float64           `json:"quality_score"`
	NeedsReview        bool              `json:"needs_review"`
	CreatedAt          time.Time         `json:"created_at"`
}

// ChunkImageRelationship rows are immutable; re-linking an image replaces its
// whole set rather than updating rows in place.
type ChunkImageRelationship struct {
	ImageID    string    `json:"image_id"`
	ChunkID    string    `json:"chunk_id"`
	Similarity float64   `json:"similarity"`
	Relation   string    `json:"relation"`
	Rank       int       `json:"rank"`
	CreatedAt  time.Time `json:"created_at"`
}

type Job struct {
	JobID           string         `json:"job_id"`
	DocumentID      string         `json:"document_id"`
	Stage           string         `json:"stage"`
	Status          string         `json:"status"`
	FailReason      string         `json:"fail_reason,omitempty"`
	CancelRequested bool           `json:"cancel_requested"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// JobCheckpoint is the durable record of a completed stage. One row per
// (job, stage); insert-or-replace semantics.
type JobCheckpoint struct {
	JobID     string         `json:"job_id"`
	Stage     string         `json:"stage"`
	Progress  map[string]any `json:"progress"`
	CreatedAt time.Time      `json:"created_at"`
}

// StageOrder returns the pipeline stages a job passes through, first to last.
func StageOrder() []string {
	return []string{
		StageExtracting,
		StageChunking,
		StageDetectingProducts,
		StageApplyingMetadata,
		StageLinkingImages,
		StageScoringQuality,
		StageEmbedding,
	}
}
