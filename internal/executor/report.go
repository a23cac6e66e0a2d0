// internal/executor/report.go
package executor

import (
	"time"

	"github.com/xkilldash9x/formpilot/internal/checkpoint"
)

// Status is the executor's state machine position.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// RunStatus summarizes a run for the operator.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
	RunPaused  RunStatus = "paused"
	RunAborted RunStatus = "aborted"
)

// Per-row and per-action result statuses.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultPartial = "partial"
	ResultSkipped = "skipped"
)

// ActionResult records one dispatched action.
type ActionResult struct {
	Index    int           `json:"index"`
	Type     string        `json:"type"`
	Target   string        `json:"target,omitempty"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RowResult records one data row (or one loop run).
type RowResult struct {
	RowIndex        int                         `json:"rowIndex"`
	Status          string                      `json:"status"`
	Actions         []ActionResult              `json:"actions"`
	Iterations      int                         `json:"iterations,omitempty"`
	Error           string                      `json:"error,omitempty"`
	Duration        time.Duration               `json:"duration"`
	FailureMetadata *checkpoint.FailureMetadata `json:"failureMetadata,omitempty"`

	started time.Time
	failed  bool
}

// Summary counts rows by status.
type Summary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Partial int `json:"partial"`
}

// Report is the result of a run, updated across pauses and resumes.
type Report struct {
	Status          RunStatus                  `json:"status"`
	StartedAt       time.Time                  `json:"startedAt"`
	FinishedAt      time.Time                  `json:"finishedAt,omitempty"`
	Rows            []RowResult                `json:"rows"`
	Summary         Summary                    `json:"summary"`
	Checkpoint      *checkpoint.ExecutionState `json:"checkpoint,omitempty"`
	CheckpointError string                     `json:"checkpointError,omitempty"`
	Error           string                     `json:"error,omitempty"`
}

func (r *Report) summarize() {
	s := Summary{Total: len(r.Rows)}
	for _, row := range r.Rows {
		switch row.Status {
		case ResultSuccess:
			s.Success++
		case ResultFailed:
			s.Failed++
		case ResultPartial:
			s.Partial++
		}
	}
	r.Summary = s
}

// overall derives the final status from the row results.
func (r *Report) overall() RunStatus {
	r.summarize()
	switch {
	case r.Summary.Total == 0 || r.Summary.Success == r.Summary.Total:
		return RunSuccess
	case r.Summary.Success == 0 && r.Summary.Partial == 0:
		return RunFailed
	}
	return RunPartial
}

// clone returns a copy safe to hand to callers.
func (r *Report) clone() *Report {
	c := *r
	c.Rows = make([]RowResult, len(r.Rows))
	for i, row := range r.Rows {
		row.Actions = append([]ActionResult(nil), row.Actions...)
		c.Rows[i] = row
	}
	return &c
}
