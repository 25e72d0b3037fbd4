package models

import "time"

const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

// RunStatus is one row of the append-only run log. The newest row by
// LastRun is the pipeline's current state.
type RunStatus struct {
	ID              int64     `json:"id"`
	Status          string    `json:"status"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	LastRun         time.Time `json:"last_run"`
}
