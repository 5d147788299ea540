package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"catflow/internal/models"
)

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ReplaceChunks removes a document's chunks and writes the new set in one
// transaction. Chunking a document again is a full replacement, never a
// merge.
func (r *ChunkRepo) ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx replace chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, document_id, position, text, page_start, page_end,
                    product_id, kind, scope, scope_confidence, metadata, quality_score, needs_review)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			c.ChunkID, c.DocumentID, c.Position, c.Text, c.PageStart, c.PageEnd,
			c.ProductID, c.Kind, c.Scope, c.ScopeConfidence, meta, c.QualityScore, c.NeedsReview)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

func (r *ChunkRepo) UpdateChunkScope(ctx context.Context, c models.Chunk) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal chunk metadata: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
UPDATE chunks SET kind=$2, scope=$3, scope_confidence=$4, metadata=$5 WHERE chunk_id=$1`,
		c.ChunkID, c.Kind, c.Scope, c.ScopeConfidence, meta)
	if err != nil {
		return fmt.Errorf("update chunk scope: %w", err)
	}
	return nil
}

func (r *ChunkRepo) UpdateChunkQuality(ctx context.Context, chunkID string, score float64, needsReview bool) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE chunks SET quality_score=$2, needs_review=$3 WHERE chunk_id=$1`, chunkID, score, needsReview)
	if err != nil {
		return fmt.Errorf("update chunk quality: %w", err)
	}
	return nil
}

func (r *ChunkRepo) UpdateChunkEmbedding(ctx context.Context, chunkID, version string, vector string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE chunks SET embedding_version=$2, embedding=$3::vector WHERE chunk_id=$1`, chunkID, version, vector)
	if err != nil {
		return fmt.Errorf("update chunk embedding: %w", err)
	}
	return nil
}

func (r *ChunkRepo) ListChunks(ctx context.Context, documentID string, limit, offset int) ([]models.Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id, document_id, position, text, page_start, page_end,
       product_id, kind, scope, scope_confidence, metadata, quality_score, needs_review, created_at
FROM chunks WHERE document_id=$1 ORDER BY position ASC LIMIT $2 OFFSET $3`,
		documentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	out := make([]models.Chunk, 0, limit)
	for rows.Next() {
		var c models.Chunk
		var meta []byte
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.Position, &c.Text, &c.PageStart, &c.PageEnd,
			&c.ProductID, &c.Kind, &c.Scope, &c.ScopeConfidence, &meta, &c.QualityScore, &c.NeedsReview, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

func (r *ChunkRepo) ListAllChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	return r.ListChunks(ctx, documentID, 1_000_000, 0)
}
