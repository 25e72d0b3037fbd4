package models

import "time"

const (
	CheckpointSuccess = "success"
	CheckpointFailed  = "failed"
)

// Checkpoint is the most recent transform attempt for one source.
type Checkpoint struct {
	Source           string         `json:"source"`
	Status           string         `json:"status"`
	RecordsProcessed int            `json:"records_processed"`
	LastRun          time.Time      `json:"last_run"`
	MetaData         map[string]any `json:"meta_data,omitempty"`
}
