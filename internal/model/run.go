package model

import "time"

// RunStatus represents the outcome of one reconciliation run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	// RunStatusSuccess: every pairing completed with no artifact errors.
	RunStatusSuccess RunStatus = "success"
	// RunStatusWarning: per-artifact errors occurred but every pairing ran.
	RunStatusWarning RunStatus = "warning"
	// RunStatusError: at least one pairing failed a precondition and was skipped.
	RunStatusError RunStatus = "error"
)

// RunTrigger represents what started a run
type RunTrigger string

const (
	RunTriggerInterval RunTrigger = "interval"
	RunTriggerManual   RunTrigger = "manual"
)

// RunStats counts per-artifact outcomes for one sync direction.
type RunStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (s *RunStats) Add(o RunStats) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// RunResult is what the engine returns from one run across all pairings.
type RunResult struct {
	Status   RunStatus `json:"status"`
	Outbound RunStats  `json:"outbound"`
	Inbound  RunStats  `json:"inbound"`
	// Errors holds pairing-level precondition failures; per-artifact errors
	// are logged and counted in Failed, not collected here.
	Errors []string `json:"errors,omitempty"`
}

// SyncRun is the persisted record of one run.
type SyncRun struct {
	ID         int64      `json:"id"`
	Status     RunStatus  `json:"status"`
	Trigger    RunTrigger `json:"trigger"`
	CutoffDate time.Time  `json:"cutoff_date"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outbound   RunStats   `json:"outbound"`
	Inbound    RunStats   `json:"inbound"`
	Error      *string    `json:"error,omitempty"`
}
