// Package events fans run lifecycle notifications out to websocket
// subscribers. It is a notification side channel only: the persisted run
// log stays the source of truth.
package events

import "time"

const (
	TypeRunStarted  = "run.started"
	TypeRunFinished = "run.finished"
	TypeRunSkipped  = "run.skipped"
)

type RunEvent struct {
	Type            string    `json:"type"`
	RunID           string    `json:"run_id,omitempty"`
	Status          string    `json:"status,omitempty"`
	Error           string    `json:"error,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Assets          int       `json:"assets,omitempty"`
	At              time.Time `json:"at"`
}
