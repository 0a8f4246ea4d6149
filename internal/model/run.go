package model

import "time"

// RunStatus tracks the lifecycle of one full import pass.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// ImportSummary is the pipeline's run-level result: counters accumulated
// across every region processed in one invocation.
type ImportSummary struct {
	TotalProcessed int `json:"total_processed"`
	TotalRemoved   int `json:"total_removed"`
	TotalUpdated   int `json:"total_updated"`
	TotalNew       int `json:"total_new"`
	FailedRegions  int `json:"failed_regions"`
}

// Add accumulates another summary into this one.
func (s *ImportSummary) Add(other ImportSummary) {
	s.TotalProcessed += other.TotalProcessed
	s.TotalRemoved += other.TotalRemoved
	s.TotalUpdated += other.TotalUpdated
	s.TotalNew += other.TotalNew
	s.FailedRegions += other.FailedRegions
}

// ImportRun is the persisted record of one pipeline invocation. It is the
// durable counterpart of the run log: one row per invocation, completed
// with the final summary when the run finishes.
type ImportRun struct {
	ID         string        `json:"id"`
	Regions    []string      `json:"regions"`
	Status     RunStatus     `json:"status"`
	Summary    ImportSummary `json:"summary"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}
