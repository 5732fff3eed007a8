package dispatch

import (
	"errors"
	"time"
)

// ErrBusy means a dispatch for the destination is already in flight. The
// second caller is rejected immediately, never queued.
var ErrBusy = errors.New("dispatch already in flight for this destination")

// Trigger names what started a batch.
type Trigger string

const (
	TriggerAuto   Trigger = "auto"
	TriggerManual Trigger = "manual"
	TriggerResend Trigger = "resend"
)

type ItemStatus string

const (
	ItemSent   ItemStatus = "sent"
	ItemFailed ItemStatus = "failed"
)

// ItemResult is the outcome of one delivery attempt within a batch.
type ItemResult struct {
	Path   string     `json:"path"`
	Status ItemStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Report is the aggregate outcome of one dispatch batch.
type Report struct {
	BatchID       string        `json:"batch_id"`
	DestinationID string        `json:"destination_id"`
	Trigger       Trigger       `json:"trigger"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Items         []ItemResult  `json:"items"`
	Sent          int           `json:"sent"`
	Failed        int           `json:"failed"`
}
