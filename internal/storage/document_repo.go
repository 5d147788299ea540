package storage

import (
	"context"
	"fmt"

	"catflow/internal/models"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) CreateDocument(ctx context.Context, doc models.Document) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO documents (document_id, filename, status, page_count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (document_id)
DO UPDATE SET filename = EXCLUDED.filename, updated_at = NOW()`,
		doc.DocumentID, doc.Filename, doc.Status, doc.PageCount)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetDocument(ctx context.Context, documentID string) (models.Document, error) {
	var d models.Document
	err := r.db.Pool.QueryRow(ctx, `
SELECT document_id, filename, status, page_count, created_at, updated_at
FROM documents WHERE document_id=$1`, documentID).
		Scan(&d.DocumentID, &d.Filename, &d.Status, &d.PageCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) UpdateDocumentStatus(ctx context.Context, documentID, status string, pageCount int) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE documents SET status=$2, page_count=$3, updated_at=NOW() WHERE document_id=$1`,
		documentID, status, pageCount)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

func (r *DocumentRepo) UpsertPages(ctx context.Context, documentID string, pages []models.Page) error {
	if len(pages) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert pages: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, p := range pages {
		_, err := tx.Exec(ctx, `
INSERT INTO pages (document_id, page_number, text)
VALUES ($1, $2, $3)
ON CONFLICT (document_id, page_number)
DO UPDATE SET text = EXCLUDED.text`,
			documentID, p.PageNumber, p.Text)
		if err != nil {
			return fmt.Errorf("upsert page %d: %w", p.PageNumber, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit pages tx: %w", err)
	}
	return nil
}

func (r *DocumentRepo) ListPages(ctx context.Context, documentID string) ([]models.Page, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT document_id, page_number, text
FROM pages WHERE document_id=$1 ORDER BY page_number ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	out := make([]models.Page, 0, 32)
	for rows.Next() {
		var p models.Page
		if err := rows.Scan(&p.DocumentID, &p.PageNumber, &p.Text); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}
