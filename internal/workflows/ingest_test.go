package workflows

import (
	"context"
	"errors"
	"testing"

	"catflow/internal/activities"
	"catflow/internal/chunking"
	"catflow/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func registerIngestActivities(env *testsuite.TestWorkflowEnvironment) {
	registerActivityName(env, "GetCheckpointsActivity", func(context.Context, activities.GetCheckpointsInput) (activities.GetCheckpointsOutput, error) {
		return activities.GetCheckpointsOutput{}, nil
	})
	registerActivityName(env, "IsCancelRequestedActivity", func(context.Context, activities.IsCancelRequestedInput) (bool, error) {
		return false, nil
	})
	registerActivityName(env, "UpdateJobStageActivity", func(context.Context, activities.UpdateJobStageInput) error { return nil })
	registerActivityName(env, "UpdateJobStatusActivity", func(context.Context, activities.UpdateJobStatusInput) error { return nil })
	registerActivityName(env, "MergeJobMetadataActivity", func(context.Context, activities.MergeJobMetadataInput) error { return nil })
	registerActivityName(env, "WriteCheckpointActivity", func(context.Context, activities.WriteCheckpointInput) error { return nil })
	registerActivityName(env, "ExtractPagesActivity", func(context.Context, activities.ExtractPagesInput) (activities.ExtractPagesOutput, error) {
		return activities.ExtractPagesOutput{}, nil
	})
	registerActivityName(env, "ChunkDocumentActivity", func(context.Context, activities.ChunkDocumentInput) (activities.ChunkDocumentOutput, error) {
		return activities.ChunkDocumentOutput{}, nil
	})
	registerActivityName(env, "DetectProductsActivity", func(context.Context, activities.DetectProductsInput) (activities.DetectProductsOutput, error) {
		return activities.DetectProductsOutput{}, nil
	})
	registerActivityName(env, "ApplyMetadataActivity", func(context.Context, activities.ApplyMetadataInput) (activities.ApplyMetadataOutput, error) {
		return activities.ApplyMetadataOutput{}, nil
	})
	registerActivityName(env, "LinkImagesActivity", func(context.Context, activities.LinkImagesInput) (activities.LinkImagesOutput, error) {
		return activities.LinkImagesOutput{}, nil
	})
	registerActivityName(env, "ScoreQualityActivity", func(context.Context, activities.ScoreQualityInput) (activities.ScoreQualityOutput, error) {
		return activities.ScoreQualityOutput{}, nil
	})
	registerActivityName(env, "EmbedChunksActivity", func(context.Context, activities.EmbedChunksInput) (activities.EmbedChunksOutput, error) {
		return activities.EmbedChunksOutput{}, nil
	})
	registerActivityName(env, "WriteDocumentArtifactsActivity", func(context.Context, activities.WriteDocumentArtifactsInput) (activities.WriteDocumentArtifactsOutput, error) {
		return activities.WriteDocumentArtifactsOutput{}, nil
	})
}

func ingestInput() DocumentIngestInput {
	return DocumentIngestInput{JobID: "job1", DocumentID: "doc1", Path: "/tmp/catalog.pdf"}
}

func TestDocumentIngestWorkflowSuccess(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentIngestWorkflow)
	registerIngestActivities(env)

	boundaries := []chunking.ProductBoundary{{ProductID: "p1", Name: "NOVA", PageStart: 1, PageEnd: 2, Confidence: 0.9}}

	env.OnActivity("GetCheckpointsActivity", mock.Anything, mock.Anything).Return(activities.GetCheckpointsOutput{}, nil)
	env.OnActivity("IsCancelRequestedActivity", mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity("UpdateJobStageActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("UpdateJobStatusActivity", mock.Anything, activities.UpdateJobStatusInput{JobID: "job1", Status: models.JobStatusCompleted}).Return(nil)
	env.OnActivity("MergeJobMetadataActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("WriteCheckpointActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExtractPagesActivity", mock.Anything, activities.ExtractPagesInput{DocumentID: "doc1", Path: "/tmp/catalog.pdf"}).
		Return(activities.ExtractPagesOutput{PageCount: 3, ImageCount: 1, Boundaries: boundaries}, nil)
	env.OnActivity("ChunkDocumentActivity", mock.Anything, activities.ChunkDocumentInput{DocumentID: "doc1", Boundaries: boundaries}).
		Return(activities.ChunkDocumentOutput{ChunkCount: 4}, nil)
	env.OnActivity("DetectProductsActivity", mock.Anything, activities.DetectProductsInput{DocumentID: "doc1", Boundaries: boundaries}).
		Return(activities.DetectProductsOutput{ProductCount: 1}, nil)
	env.OnActivity("ApplyMetadataActivity", mock.Anything, mock.Anything).Return(activities.ApplyMetadataOutput{ProductsUpdated: 1}, nil)
	env.OnActivity("LinkImagesActivity", mock.Anything, mock.Anything).Return(activities.LinkImagesOutput{ImagesLinked: 1, LinksCreated: 2}, nil)
	env.OnActivity("ScoreQualityActivity", mock.Anything, mock.Anything).Return(activities.ScoreQualityOutput{ChunksScored: 4}, nil)
	env.OnActivity("EmbedChunksActivity", mock.Anything, mock.Anything).Return(activities.EmbedChunksOutput{Embedded: 4, Provider: "mock"}, nil)
	env.OnActivity("WriteDocumentArtifactsActivity", mock.Anything, mock.Anything).Return(activities.WriteDocumentArtifactsOutput{Dir: "/tmp/out"}, nil)

	env.ExecuteWorkflow(DocumentIngestWorkflow, ingestInput())
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, models.JobStatusCompleted, out)
}

func TestDocumentIngestWorkflowResumesAfterCheckpoint(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentIngestWorkflow)
	registerIngestActivities(env)

	// Extraction and chunking already checkpointed; the run must not repeat
	// them and must recover boundaries from the extract checkpoint.
	checkpoints := []models.JobCheckpoint{
		{JobID: "job1", Stage: models.StageExtracting, Progress: map[string]any{
			"page_count": 3,
			"boundaries": []map[string]any{
				{"product_id": "p1", "name": "NOVA", "page_start": 1, "page_end": 2, "confidence": 0.9},
			},
		}},
		{JobID: "job1", Stage: models.StageChunking, Progress: map[string]any{"chunk_count": 4}},
	}

	env.OnActivity("GetCheckpointsActivity", mock.Anything, mock.Anything).
		Return(activities.GetCheckpointsOutput{Checkpoints: checkpoints}, nil)
	env.OnActivity("IsCancelRequestedActivity", mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity("UpdateJobStageActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("UpdateJobStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("MergeJobMetadataActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("WriteCheckpointActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("DetectProductsActivity", mock.Anything, activities.DetectProductsInput{
		DocumentID: "doc1",
		Boundaries: []chunking.ProductBoundary{{ProductID: "p1", Name: "NOVA", PageStart: 1, PageEnd: 2, Confidence: 0.9}},
	}).Return(activities.DetectProductsOutput{ProductCount: 1}, nil)
	env.OnActivity("ApplyMetadataActivity", mock.Anything, mock.Anything).Return(activities.ApplyMetadataOutput{}, nil)
	env.OnActivity("LinkImagesActivity", mock.Anything, mock.Anything).Return(activities.LinkImagesOutput{}, nil)
	env.OnActivity("ScoreQualityActivity", mock.Anything, mock.Anything).Return(activities.ScoreQualityOutput{}, nil)
	env.OnActivity("EmbedChunksActivity", mock.Anything, mock.Anything).Return(activities.EmbedChunksOutput{}, nil)
	env.OnActivity("WriteDocumentArtifactsActivity", mock.Anything, mock.Anything).Return(activities.WriteDocumentArtifactsOutput{}, nil)

	env.ExecuteWorkflow(DocumentIngestWorkflow, ingestInput())
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, models.JobStatusCompleted, out)
	env.AssertNotCalled(t, "ExtractPagesActivity", mock.Anything, mock.Anything)
	env.AssertNotCalled(t, "ChunkDocumentActivity", mock.Anything, mock.Anything)
}

func TestDocumentIngestWorkflowCancelBetweenStages(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentIngestWorkflow)
	registerIngestActivities(env)

	calls := 0
	env.OnActivity("GetCheckpointsActivity", mock.Anything, mock.Anything).Return(activities.GetCheckpointsOutput{}, nil)
	env.OnActivity("IsCancelRequestedActivity", mock.Anything, mock.Anything).Return(func(context.Context, activities.IsCancelRequestedInput) (bool, error) {
		calls++
		return calls > 1, nil
	})
	env.OnActivity("UpdateJobStageActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("UpdateJobStatusActivity", mock.Anything, activities.UpdateJobStatusInput{JobID: "job1", Status: models.JobStatusCancelled}).Return(nil)
	env.OnActivity("MergeJobMetadataActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("WriteCheckpointActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExtractPagesActivity", mock.Anything, mock.Anything).Return(activities.ExtractPagesOutput{PageCount: 2}, nil)

	env.ExecuteWorkflow(DocumentIngestWorkflow, ingestInput())
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, models.JobStatusCancelled, out)
	env.AssertNotCalled(t, "ChunkDocumentActivity", mock.Anything, mock.Anything)
}

func TestDocumentIngestWorkflowCancelWithinStage(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentIngestWorkflow)
	registerIngestActivities(env)

	env.OnActivity("GetCheckpointsActivity", mock.Anything, mock.Anything).Return(activities.GetCheckpointsOutput{}, nil)
	env.OnActivity("IsCancelRequestedActivity", mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity("UpdateJobStageActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("UpdateJobStatusActivity", mock.Anything, activities.UpdateJobStatusInput{JobID: "job1", Status: models.JobStatusCancelled}).Return(nil)
	env.OnActivity("MergeJobMetadataActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("WriteCheckpointActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExtractPagesActivity", mock.Anything, mock.Anything).Return(activities.ExtractPagesOutput{PageCount: 2}, nil)
	env.OnActivity("ChunkDocumentActivity", mock.Anything, mock.Anything).Return(activities.ChunkDocumentOutput{ChunkCount: 3}, nil)
	env.OnActivity("DetectProductsActivity", mock.Anything, mock.Anything).Return(activities.DetectProductsOutput{}, nil)
	// The stage observes the cancel flag between chunks and stops early.
	env.OnActivity("ApplyMetadataActivity", mock.Anything, activities.ApplyMetadataInput{JobID: "job1", DocumentID: "doc1"}).
		Return(activities.ApplyMetadataOutput{Cancelled: true}, nil)

	env.ExecuteWorkflow(DocumentIngestWorkflow, ingestInput())
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, models.JobStatusCancelled, out)
	// The interrupted stage is not checkpointed; only the three completed
	// stages are, so a later run resumes at applying_metadata.
	env.AssertNumberOfCalls(t, "WriteCheckpointActivity", 3)
	env.AssertNotCalled(t, "LinkImagesActivity", mock.Anything, mock.Anything)
}

func TestDocumentIngestWorkflowNoTextFailsGracefully(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentIngestWorkflow)
	registerIngestActivities(env)

	env.OnActivity("GetCheckpointsActivity", mock.Anything, mock.Anything).Return(activities.GetCheckpointsOutput{}, nil)
	env.OnActivity("IsCancelRequestedActivity", mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity("UpdateJobStageActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("UpdateJobStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExtractPagesActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractPagesOutput{}, errors.New("no extractable text found in document"))

	env.ExecuteWorkflow(DocumentIngestWorkflow, ingestInput())
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, models.JobStatusFailed, out)
}
