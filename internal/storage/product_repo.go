package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"catflow/internal/models"
)

type ProductRepo struct {
	db *DB
}

func NewProductRepo(db *DB) *ProductRepo {
	return &ProductRepo{db: db}
}

func (r *ProductRepo) UpsertProducts(ctx context.Context, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert products: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, p := range products {
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("marshal product metadata: %w", err)
		}
		overrides, err := json.Marshal(p.Overrides)
		if err != nil {
			return fmt.Errorf("marshal product overrides: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO products (product_id, document_id, name, page_start, page_end, confidence,
                      metadata, overrides, quality_score, needs_review)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (product_id)
DO UPDATE SET
  name = EXCLUDED.name,
  page_start = EXCLUDED.page_start,
  page_end = EXCLUDED.page_end,
  confidence = EXCLUDED.confidence,
  metadata = EXCLUDED.metadata,
  overrides = EXCLUDED.overrides,
  quality_score = EXCLUDED.quality_score,
  needs_review = EXCLUDED.needs_review,
  updated_at = NOW()`,
			p.ProductID, p.DocumentID, p.Name, p.PageStart, p.PageEnd, p.Confidence,
			meta, overrides, p.QualityScore, p.NeedsReview)
		if err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ProductID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit products tx: %w", err)
	}
	return nil
}

func (r *ProductRepo) ListProducts(ctx context.Context, documentID string, limit, offset int) ([]models.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT product_id, document_id, name, page_start, page_end, confidence,
       metadata, overrides, quality_score, needs_review, created_at, updated_at
FROM products WHERE document_id=$1 ORDER BY page_start ASC LIMIT $2 OFFSET $3`,
		documentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := make([]models.Product, 0, limit)
	for rows.Next() {
		var p models.Product
		var meta, overrides []byte
		if err := rows.Scan(&p.ProductID, &p.DocumentID, &p.Name, &p.PageStart, &p.PageEnd, &p.Confidence,
			&meta, &overrides, &p.QualityScore, &p.NeedsReview, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &p.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal product metadata: %w", err)
			}
		}
		if len(overrides) > 0 {
			if err := json.Unmarshal(overrides, &p.Overrides); err != nil {
				return nil, fmt.Errorf("unmarshal product overrides: %w", err)
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

func (r *ProductRepo) ListAllProducts(ctx context.Context, documentID string) ([]models.Product, error) {
	return r.ListProducts(ctx, documentID, 1_000_000, 0)
}
