package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ExtractPagesActivity)
	w.RegisterActivity(a.ChunkDocumentActivity)
	w.RegisterActivity(a.DetectProductsActivity)
	w.RegisterActivity(a.ApplyMetadataActivity)
	w.RegisterActivity(a.LinkImagesActivity)
	w.RegisterActivity(a.ScoreQualityActivity)
	w.RegisterActivity(a.EmbedChunksActivity)
	w.RegisterActivity(a.WriteCheckpointActivity)
	w.RegisterActivity(a.GetCheckpointsActivity)
	w.RegisterActivity(a.UpdateJobStageActivity)
	w.RegisterActivity(a.UpdateJobStatusActivity)
	w.RegisterActivity(a.MergeJobMetadataActivity)
	w.RegisterActivity(a.IsCancelRequestedActivity)
	w.RegisterActivity(a.WriteDocumentArtifactsActivity)
}
