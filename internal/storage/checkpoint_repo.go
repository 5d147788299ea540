package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"catflow/internal/models"
)

type CheckpointRepo struct {
	db *DB
}

func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// WriteCheckpoint records stage completion. One row per (job, stage); a
// rerun of the same stage replaces its progress payload.
func (r *CheckpointRepo) WriteCheckpoint(ctx context.Context, cp models.JobCheckpoint) error {
	progress, err := json.Marshal(cp.Progress)
	if err != nil {
		return fmt.Errorf("marshal checkpoint progress: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO job_checkpoints (job_id, stage, progress)
VALUES ($1, $2, $3)
ON CONFLICT (job_id, stage)
DO UPDATE SET progress = EXCLUDED.progress, created_at = NOW()`,
		cp.JobID, cp.Stage, progress)
	if err != nil {
		return fmt.Errorf("upsert checkpoint %s/%s: %w", cp.JobID, cp.Stage, err)
	}
	return nil
}

func (r *CheckpointRepo) ListCheckpoints(ctx context.Context, jobID string) ([]models.JobCheckpoint, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT job_id, stage, progress, created_at
FROM job_checkpoints WHERE job_id=$1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	out := make([]models.JobCheckpoint, 0, 8)
	for rows.Next() {
		var cp models.JobCheckpoint
		var progress []byte
		if err := rows.Scan(&cp.JobID, &cp.Stage, &progress, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if len(progress) > 0 {
			if err := json.Unmarshal(progress, &cp.Progress); err != nil {
				return nil, fmt.Errorf("unmarshal checkpoint progress: %w", err)
			}
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}
