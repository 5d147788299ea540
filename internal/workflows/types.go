package workflows

type DocumentIngestInput struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
}

type JobProgress struct {
	JobID        string            `json:"job_id"`
	DocumentID   string            `json:"document_id"`
	CurrentStage string            `json:"current_stage"`
	Status       string            `json:"status"`
	FailReason   string            `json:"fail_reason,omitempty"`
	Stages       map[string]string `json:"stages"`
	Counts       map[string]int    `json:"counts"`
	Resumed      bool              `json:"resumed"`
}
