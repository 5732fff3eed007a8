package state

import "time"

// Status is the outcome of a destination's most recent delivery attempt.
type Status string

const (
	StatusNone    Status = "none"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Config configures run-state persistence.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": single JSON snapshot, written atomically
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunState is the durable per-destination delivery record. It is mutated by
// the dispatcher only, immediately after each attempt, and read by
// diagnostics collaborators.
type RunState struct {
	DestinationID       string    `json:"destination_id"`
	LastRunAt           time.Time `json:"last_run_at"`
	LastItemPath        string    `json:"last_item_path,omitempty"`
	LastStatus          Status    `json:"last_status"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Healthy reports whether the destination's last attempt succeeded (or it
// has never run).
func (s RunState) Healthy() bool {
	return s.LastStatus != StatusFailure
}
