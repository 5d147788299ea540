package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"catflow/internal/models"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("not found")

type JobRepo struct {
	db *DB
}

func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) CreateJob(ctx context.Context, job models.Job) error {
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO jobs (job_id, document_id, stage, status, metadata)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id) DO NOTHING`,
		job.JobID, job.DocumentID, job.Stage, job.Status, meta)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepo) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	var j models.Job
	var meta []byte
	err := r.db.Pool.QueryRow(ctx, `
SELECT job_id, document_id, stage, status, COALESCE(fail_reason, ''), cancel_requested, metadata, created_at, updated_at
FROM jobs WHERE job_id=$1`, jobID).
		Scan(&j.JobID, &j.DocumentID, &j.Stage, &j.Status, &j.FailReason, &j.CancelRequested, &meta, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("get job: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &j.Metadata); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal job metadata: %w", err)
		}
	}
	return j, nil
}

func (r *JobRepo) UpdateJobStage(ctx context.Context, jobID, stage string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE jobs SET stage=$2, updated_at=NOW() WHERE job_id=$1`, jobID, stage)
	if err != nil {
		return fmt.Errorf("update job stage: %w", err)
	}
	return nil
}

func (r *JobRepo) UpdateJobStatus(ctx context.Context, jobID, status, failReason string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE jobs SET status=$2, fail_reason=NULLIF($3, ''), updated_at=NOW() WHERE job_id=$1`,
		jobID, status, failReason)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// MergeJobMetadata folds new keys into the job's metadata document without
// discarding existing keys.
func (r *JobRepo) MergeJobMetadata(ctx context.Context, jobID string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal job metadata patch: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
UPDATE jobs SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb, updated_at=NOW()
WHERE job_id=$1`, jobID, raw)
	if err != nil {
		return fmt.Errorf("merge job metadata: %w", err)
	}
	return nil
}

func (r *JobRepo) RequestCancel(ctx context.Context, jobID string) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE jobs SET cancel_requested=TRUE, updated_at=NOW() WHERE job_id=$1`, jobID)
	if err != nil {
		return fmt.Errorf("request job cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *JobRepo) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := r.db.Pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE job_id=$1`, jobID).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("get job cancel flag: %w", err)
	}
	return requested, nil
}

func (r *JobRepo) ListJobsByDocument(ctx context.Context, documentID string) ([]models.Job, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT job_id, document_id, stage, status, COALESCE(fail_reason, ''), cancel_requested, metadata, created_at, updated_at
FROM jobs WHERE document_id=$1 ORDER BY created_at DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]models.Job, 0, 4)
	for rows.Next() {
		var j models.Job
		var meta []byte
		if err := rows.Scan(&j.JobID, &j.DocumentID, &j.Stage, &j.Status, &j.FailReason, &j.CancelRequested, &meta, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &j.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal job metadata: %w", err)
			}
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}
