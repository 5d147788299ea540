package activities

import (
	"catflow/internal/chunking"
	"catflow/internal/models"
)

type ExtractPagesInput struct {
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
}

type ExtractPagesOutput struct {
	PageCount  int                        `json:"page_count"`
	ImageCount int                        `json:"image_count"`
	Boundaries []chunking.ProductBoundary `json:"boundaries"`
}

type ChunkDocumentInput struct {
	DocumentID string                     `json:"document_id"`
	Boundaries []chunking.ProductBoundary `json:"boundaries"`
}

type ChunkDocumentOutput struct {
	ChunkCount int `json:"chunk_count"`
}

type DetectProductsInput struct {
	DocumentID string                     `json:"document_id"`
	Boundaries []chunking.ProductBoundary `json:"boundaries"`
}

type DetectProductsOutput struct {
	ProductCount int `json:"product_count"`
}

type ApplyMetadataInput struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
}

type ApplyMetadataOutput struct {
	ChunksScoped     int      `json:"chunks_scoped"`
	ProductsUpdated  int      `json:"products_updated"`
	OverridesApplied int      `json:"overrides_applied"`
	FieldsApplied    int      `json:"fields_applied"`
	Issues           []string `json:"issues,omitempty"`
	Cancelled        bool     `json:"cancelled,omitempty"`
}

type LinkImagesInput struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
}

type LinkImagesOutput struct {
	ImagesLinked int  `json:"images_linked"`
	LinksCreated int  `json:"links_created"`
	Cancelled    bool `json:"cancelled,omitempty"`
}

type ScoreQualityInput struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
}

type ScoreQualityOutput struct {
	ChunksScored   int  `json:"chunks_scored"`
	ProductsScored int  `json:"products_scored"`
	ImagesScored   int  `json:"images_scored"`
	NeedsReview    int  `json:"needs_review"`
	Cancelled      bool `json:"cancelled,omitempty"`
}

type EmbedChunksInput struct {
	JobID         string `json:"job_id"`
	DocumentID    string `json:"document_id"`
	ProviderIndex int    `json:"provider_index"`
}

type EmbedChunksOutput struct {
	Embedded  int    `json:"embedded"`
	Provider  string `json:"provider"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

type WriteCheckpointInput struct {
	Checkpoint models.JobCheckpoint `json:"checkpoint"`
}

type GetCheckpointsInput struct {
	JobID string `json:"job_id"`
}

type GetCheckpointsOutput struct {
	Checkpoints []models.JobCheckpoint `json:"checkpoints"`
}

type UpdateJobStageInput struct {
	JobID string `json:"job_id"`
	Stage string `json:"stage"`
}

type UpdateJobStatusInput struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
}

type MergeJobMetadataInput struct {
	JobID string         `json:"job_id"`
	Patch map[string]any `json:"patch"`
}

type IsCancelRequestedInput struct {
	JobID string `json:"job_id"`
}

type WriteDocumentArtifactsInput struct {
	DocumentID string `json:"document_id"`
}

type WriteDocumentArtifactsOutput struct {
	Dir string `json:"dir"`
}
