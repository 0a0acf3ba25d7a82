package domain

import "time"

// PipelineInput is the only externally supplied data of a run.
type PipelineInput struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
}

// PipelineResult is the enriched payload returned by a successful run.
type PipelineResult struct {
	UserID     string `json:"user_id"`
	Completion string `json:"completion"`
	AudioRef   string `json:"audio_ref"`
	AudioURL   string `json:"audio_url,omitempty"`
	RunID      string `json:"run_id"`
	Timestamp  string `json:"timestamp"`
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunEvent describes a finished run. Runs are not persisted; the event is the
// only record of a run beyond the conversation turn it created.
type RunEvent struct {
	RunID       string    `json:"run_id"`
	UserID      string    `json:"user_id"`
	Timestamp   string    `json:"timestamp,omitempty"`
	Status      RunStatus `json:"status"`
	FailedStage string    `json:"failed_stage,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	AudioRef    string    `json:"audio_ref,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	FinishedAt  time.Time `json:"finished_at"`
}
