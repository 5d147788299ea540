package workflows

import (
	"encoding/json"
	"strings"
	"time"

	"catflow/internal/activities"
	"catflow/internal/chunking"
	"catflow/internal/models"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetJobProgress = "GetJobProgress"

// DocumentIngestWorkflow drives one document through the ingestion stages.
// A checkpoint is written after every completed stage and before the stage
// transition, so a re-run resumes at the earliest stage without a
// checkpoint. Cancellation is cooperative: the flag is read between stages,
// and the running stage finishes before the job stops.
func DocumentIngestWorkflow(ctx workflow.Context, input DocumentIngestInput) (string, error) {
	progress := JobProgress{
		JobID:        input.JobID,
		DocumentID:   input.DocumentID,
		CurrentStage: models.StageQueued,
		Status:       models.JobStatusRunning,
		Stages:       map[string]string{},
		Counts:       map[string]int{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetJobProgress, func() (JobProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var cpOut activities.GetCheckpointsOutput
	if err := workflow.ExecuteActivity(ctx, "GetCheckpointsActivity", activities.GetCheckpointsInput{JobID: input.JobID}).Get(ctx, &cpOut); err != nil {
		return "", err
	}
	done := map[string]models.JobCheckpoint{}
	for _, cp := range cpOut.Checkpoints {
		done[cp.Stage] = cp
		progress.Stages[cp.Stage] = "done"
	}
	progress.Resumed = len(done) > 0

	var boundaries []chunking.ProductBoundary
	if cp, ok := done[models.StageExtracting]; ok {
		boundaries = decodeBoundaries(cp.Progress)
	}

	fail := func(reason string) (string, error) {
		progress.Status = models.JobStatusFailed
		progress.FailReason = reason
		progress.Stages[progress.CurrentStage] = "failed"
		_ = workflow.ExecuteActivity(ctx, "UpdateJobStatusActivity", activities.UpdateJobStatusInput{
			JobID: input.JobID, Status: models.JobStatusFailed, FailReason: reason,
		}).Get(ctx, nil)
		return progress.Status, nil
	}

	for _, stage := range models.StageOrder() {
		if _, ok := done[stage]; ok {
			continue
		}

		var cancelRequested bool
		if err := workflow.ExecuteActivity(ctx, "IsCancelRequestedActivity", activities.IsCancelRequestedInput{JobID: input.JobID}).Get(ctx, &cancelRequested); err != nil {
			return "", err
		}
		if cancelRequested {
			progress.Status = models.JobStatusCancelled
			_ = workflow.ExecuteActivity(ctx, "UpdateJobStatusActivity", activities.UpdateJobStatusInput{
				JobID: input.JobID, Status: models.JobStatusCancelled,
			}).Get(ctx, nil)
			return progress.Status, nil
		}

		progress.CurrentStage = stage
		progress.Stages[stage] = "processing"
		if err := workflow.ExecuteActivity(ctx, "UpdateJobStageActivity", activities.UpdateJobStageInput{JobID: input.JobID, Stage: stage}).Get(ctx, nil); err != nil {
			return "", err
		}

		cpProgress := map[string]any{}
		stageCancelled := false
		switch stage {
		case models.StageExtracting:
			var out activities.ExtractPagesOutput
			err := workflow.ExecuteActivity(ctx, "ExtractPagesActivity", activities.ExtractPagesInput{
				DocumentID: input.DocumentID, Path: input.Path,
			}).Get(ctx, &out)
			if err != nil {
				if isNoTextError(err) {
					return fail("no extractable text found")
				}
				return "", err
			}
			boundaries = out.Boundaries
			progress.Counts["pages"] = out.PageCount
			progress.Counts["images"] = out.ImageCount
			cpProgress["page_count"] = out.PageCount
			cpProgress["image_count"] = out.ImageCount
			cpProgress["boundaries"] = out.Boundaries

		case models.StageChunking:
			var out activities.ChunkDocumentOutput
			if err := workflow.ExecuteActivity(ctx, "ChunkDocumentActivity", activities.ChunkDocumentInput{
				DocumentID: input.DocumentID, Boundaries: boundaries,
			}).Get(ctx, &out); err != nil {
				return "", err
			}
			progress.Counts["chunks"] = out.ChunkCount
			cpProgress["chunk_count"] = out.ChunkCount

		case models.StageDetectingProducts:
			var out activities.DetectProductsOutput
			if err := workflow.ExecuteActivity(ctx, "DetectProductsActivity", activities.DetectProductsInput{
				DocumentID: input.DocumentID, Boundaries: boundaries,
			}).Get(ctx, &out); err != nil {
				return "", err
			}
			progress.Counts["products"] = out.ProductCount
			cpProgress["product_count"] = out.ProductCount

		case models.StageApplyingMetadata:
			var out activities.ApplyMetadataOutput
			if err := workflow.ExecuteActivity(ctx, "ApplyMetadataActivity", activities.ApplyMetadataInput{
				JobID: input.JobID, DocumentID: input.DocumentID,
			}).Get(ctx, &out); err != nil {
				return "", err
			}
			stageCancelled = out.Cancelled
			progress.Counts["fields_applied"] = out.FieldsApplied
			progress.Counts["overrides"] = out.OverridesApplied
			cpProgress["fields_applied"] = out.FieldsApplied
			cpProgress["overrides_applied"] = out.OverridesApplied
			cpProgress["issues"] = len(out.Issues)

		case models.StageLinkingImages:
			var out activities.LinkImagesOutput
			if err := workflow.ExecuteActivity(ctx, "LinkImagesActivity", activities.LinkImagesInput{
				JobID: input.JobID, DocumentID: input.DocumentID,
			}).Get(ctx, &out); err != nil {
				return "", err
			}
			stageCancelled = out.Cancelled
			progress.Counts["links"] = out.LinksCreated
			cpProgress["images_linked"] = out.ImagesLinked
			cpProgress["links_created"] = out.LinksCreated

		case models.StageScoringQuality:
			var out activities.ScoreQualityOutput
			if err := workflow.ExecuteActivity(ctx, "ScoreQualityActivity", activities.ScoreQualityInput{
				JobID: input.JobID, DocumentID: input.DocumentID,
			}).Get(ctx, &out); err != nil {
				return "", err
			}
			stageCancelled = out.Cancelled
			progress.Counts["needs_review"] = out.NeedsReview
			cpProgress["chunks_scored"] = out.ChunksScored
			cpProgress["needs_review"] = out.NeedsReview

		case models.StageEmbedding:
			var out activities.EmbedChunksOutput
			if err := workflow.ExecuteActivity(ctx, "EmbedChunksActivity", activities.EmbedChunksInput{
				JobID: input.JobID, DocumentID: input.DocumentID,
			}).Get(ctx, &out); err != nil {
				return "", err
			}
			stageCancelled = out.Cancelled
			progress.Counts["embedded"] = out.Embedded
			cpProgress["embedded"] = out.Embedded
			cpProgress["provider"] = out.Provider
		}

		// A stage that observed the cancel flag mid-run stopped between
		// entities and is not complete: no checkpoint, the job ends here.
		if stageCancelled {
			progress.Status = models.JobStatusCancelled
			progress.Stages[stage] = "cancelled"
			_ = workflow.ExecuteActivity(ctx, "UpdateJobStatusActivity", activities.UpdateJobStatusInput{
				JobID: input.JobID, Status: models.JobStatusCancelled,
			}).Get(ctx, nil)
			return progress.Status, nil
		}

		// Checkpoint before moving on; if the worker dies here the stage
		// reruns, which every stage tolerates.
		if err := workflow.ExecuteActivity(ctx, "WriteCheckpointActivity", activities.WriteCheckpointInput{
			Checkpoint: models.JobCheckpoint{JobID: input.JobID, Stage: stage, Progress: cpProgress},
		}).Get(ctx, nil); err != nil {
			return "", err
		}
		_ = workflow.ExecuteActivity(ctx, "MergeJobMetadataActivity", activities.MergeJobMetadataInput{
			JobID: input.JobID, Patch: map[string]any{stage: cpProgress},
		}).Get(ctx, nil)
		progress.Stages[stage] = "done"
	}

	if err := workflow.ExecuteActivity(ctx, "WriteDocumentArtifactsActivity", activities.WriteDocumentArtifactsInput{
		DocumentID: input.DocumentID,
	}).Get(ctx, nil); err != nil {
		return "", err
	}

	if err := workflow.ExecuteActivity(ctx, "UpdateJobStageActivity", activities.UpdateJobStageInput{JobID: input.JobID, Stage: models.StageCompleted}).Get(ctx, nil); err != nil {
		return "", err
	}
	if err := workflow.ExecuteActivity(ctx, "UpdateJobStatusActivity", activities.UpdateJobStatusInput{JobID: input.JobID, Status: models.JobStatusCompleted}).Get(ctx, nil); err != nil {
		return "", err
	}
	progress.CurrentStage = models.StageCompleted
	progress.Status = models.JobStatusCompleted
	return progress.Status, nil
}

// decodeBoundaries recovers the boundary list from a checkpoint's progress
// payload, which round-trips through JSON as generic values.
func decodeBoundaries(progress map[string]any) []chunking.ProductBoundary {
	raw, ok := progress["boundaries"]
	if !ok || raw == nil {
		return nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out []chunking.ProductBoundary
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil
	}
	return out
}

func isNoTextError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no extractable text")
}
