package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"catflow/internal/models"
)

type ImageRepo struct {
	db *DB
}

func NewImageRepo(db *DB) *ImageRepo {
	return &ImageRepo{db: db}
}

func (r *ImageRepo) UpsertImages(ctx context.Context, images []models.Image) error {
	if len(images) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert images: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, img := range images {
		meta, err := json.Marshal(img.Metadata)
		if err != nil {
			return fmt.Errorf("marshal image metadata: %w", err)
		}
		props, err := json.Marshal(img.MaterialProperties)
		if err != nil {
			return fmt.Errorf("marshal image material properties: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO images (image_id, document_id, page_number, raw_ref, caption,
                    metadata, material_properties, linked_chunk_count, quality_score, needs_review)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (image_id)
DO UPDATE SET
  caption = EXCLUDED.caption,
  metadata = EXCLUDED.metadata,
  material_properties = EXCLUDED.material_properties,
  linked_chunk_count = EXCLUDED.linked_chunk_count,
  quality_score = EXCLUDED.quality_score,
  needs_review = EXCLUDED.needs_review`,
			img.ImageID, img.DocumentID, img.PageNumber, img.RawRef, img.Caption,
			meta, props, img.LinkedChunkCount, img.QualityScore, img.NeedsReview)
		if err != nil {
			return fmt.Errorf("upsert image %s: %w", img.ImageID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit images tx: %w", err)
	}
	return nil
}

func (r *ImageRepo) ListImages(ctx context.Context, documentID string, limit, offset int) ([]models.Image, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT image_id, document_id, page_number, raw_ref, caption,
       metadata, material_properties, linked_chunk_count, quality_score, needs_review, created_at
FROM images WHERE document_id=$1 ORDER BY page_number ASC, image_id ASC LIMIT $2 OFFSET $3`,
		documentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	out := make([]models.Image, 0, limit)
	for rows.Next() {
		var img models.Image
		var meta, props []byte
		if err := rows.Scan(&img.ImageID, &img.DocumentID, &img.PageNumber, &img.RawRef, &img.Caption,
			&meta, &props, &img.LinkedChunkCount, &img.QualityScore, &img.NeedsReview, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &img.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal image metadata: %w", err)
			}
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &img.MaterialProperties); err != nil {
				return nil, fmt.Errorf("unmarshal image material properties: %w", err)
			}
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return out, nil
}

func (r *ImageRepo) ListAllImages(ctx context.Context, documentID string) ([]models.Image, error) {
	return r.ListImages(ctx, documentID, 1_000_000, 0)
}
