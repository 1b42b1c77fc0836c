package model

import "time"

// RunStatus represents the state of a dedup run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusComplete    RunStatus = "complete"
	RunStatusPartial     RunStatus = "partial" // finished with failed decisions
	RunStatusDryRun      RunStatus = "dry_run"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusDeclined    RunStatus = "declined" // operator refused the archival step
	RunStatusFailed      RunStatus = "failed"
)

// RunSummary holds the counters reported at the end of a run.
type RunSummary struct {
	Fetched     int  `json:"fetched"`
	Groups      int  `json:"groups"`
	Decisions   int  `json:"decisions"`
	Applied     int  `json:"applied"`
	Skipped     int  `json:"skipped"`
	Pending     int  `json:"pending"`
	Failed      int  `json:"failed"`
	DryRun      bool `json:"dry_run"`
	Interrupted bool `json:"interrupted"`
}

// Status derives the terminal run status from the summary.
func (s RunSummary) Status() RunStatus {
	switch {
	case s.Interrupted:
		return RunStatusInterrupted
	case s.DryRun:
		return RunStatusDryRun
	case s.Failed > 0:
		return RunStatusPartial
	default:
		return RunStatusComplete
	}
}

// ArchiveFailure records a decision that could not be applied.
type ArchiveFailure struct {
	RecordID string `json:"record_id"`
	Action   Action `json:"action"`
	Error    string `json:"error"`
}

// Run is one invocation of the dedup pipeline as kept in run history.
type Run struct {
	ID         string           `json:"id"`
	DatabaseID string           `json:"database_id"`
	Status     RunStatus        `json:"status"`
	Summary    *RunSummary      `json:"summary,omitempty"`
	Failures   []ArchiveFailure `json:"failures,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}
