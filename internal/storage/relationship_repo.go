package storage

import (
	"context"
	"fmt"

	"catflow/internal/models"
)

type RelationshipRepo struct {
	db *DB
}

func NewRelationshipRepo(db *DB) *RelationshipRepo {
	return &RelationshipRepo{db: db}
}

// ReplaceForImage atomically replaces an image's relationship set: delete
// then insert inside one transaction, so re-linking never leaves a partial
// mix of old and new rows.
func (r *RelationshipRepo) ReplaceForImage(ctx context.Context, imageID string, rels []models.ChunkImageRelationship) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx replace relationships: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunk_image_relationships WHERE image_id=$1`, imageID); err != nil {
		return fmt.Errorf("delete relationships: %w", err)
	}
	for _, rel := range rels {
		_, err := tx.Exec(ctx, `
INSERT INTO chunk_image_relationships (image_id, chunk_id, similarity, relation, rank)
VALUES ($1, $2, $3, $4, $5)`,
			rel.ImageID, rel.ChunkID, rel.Similarity, rel.Relation, rel.Rank)
		if err != nil {
			return fmt.Errorf("insert relationship %s->%s: %w", rel.ImageID, rel.ChunkID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit relationships tx: %w", err)
	}
	return nil
}

func (r *RelationshipRepo) ListForImage(ctx context.Context, imageID string) ([]models.ChunkImageRelationship, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT image_id, chunk_id, similarity, relation, rank, created_at
FROM chunk_image_relationships WHERE image_id=$1 ORDER BY rank ASC`, imageID)
	if err != nil {
		return nil, fmt.Errorf("list relationships for image: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func (r *RelationshipRepo) ListForChunk(ctx context.Context, chunkID string) ([]models.ChunkImageRelationship, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT image_id, chunk_id, similarity, relation, rank, created_at
FROM chunk_image_relationships WHERE chunk_id=$1 ORDER BY similarity DESC`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("list relationships for chunk: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

type relRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRelationships(rows relRows) ([]models.ChunkImageRelationship, error) {
	out := make([]models.ChunkImageRelationship, 0, 8)
	for rows.Next() {
		var rel models.ChunkImageRelationship
		if err := rows.Scan(&rel.ImageID, &rel.ChunkID, &rel.Similarity, &rel.Relation, &rel.Rank, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return out, nil
}
