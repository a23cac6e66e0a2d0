// internal/store/store.go
package store

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"

	"github.com/xkilldash9x/formpilot/internal/checkpoint"
	"github.com/xkilldash9x/formpilot/internal/executor"
	"github.com/xkilldash9x/formpilot/internal/plan"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// writeError wraps a failed encode or write so callers can match both
// checkpoint.ErrSerialization and the underlying cause.
func writeError(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, checkpoint.ErrSerialization, err)
}

// PlanSummary identifies the plan a logged run executed.
type PlanSummary struct {
	TargetURL       string `json:"targetUrl"`
	TemplateName    string `json:"templateName,omitempty"`
	TemplateVersion string `json:"templateVersion,omitempty"`
	Summary         string `json:"summary"`
}

// Entry is one finished run in the execution log.
type Entry struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Report    *executor.Report `json:"report"`
	Plan      PlanSummary      `json:"plan"`
}

// Log is an append-only, capped history of runs. List returns the newest
// entries first.
type Log interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
}

// NewEntry builds the log entry for a finished run.
func NewEntry(p *plan.Plan, r *executor.Report) *Entry {
	ts := r.FinishedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &Entry{
		ID:        ulid.Make().String(),
		Timestamp: ts,
		Report:    r,
		Plan: PlanSummary{
			TargetURL:       p.Target.URL,
			TemplateName:    p.Name,
			TemplateVersion: p.Version,
			Summary:         describe(p),
		},
	}
}

func describe(p *plan.Plan) string {
	rows := len(p.RowIndexes())
	s := fmt.Sprintf("%d row(s), %d action(s)", rows, len(p.Actions))
	if p.Execution.Mode == plan.ExecLoop && p.Execution.Loop != nil {
		s += fmt.Sprintf(", loop up to %d", p.Execution.Loop.MaxIterations)
	}
	return s
}
