// internal/checkpoint/state.go
package checkpoint

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/formpilot/internal/plan"
)

// Viewport records the page size at checkpoint time.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FailureMetadata describes why a run paused.
type FailureMetadata struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error"`
	Category  string         `json:"category"`
	Severity  string         `json:"severity"`
	Reason    string         `json:"reason"`
	Context   map[string]any `json:"context"`
}

// ExecutionState is the persisted snapshot of executor progress. It always
// describes an action that is about to run or one that just failed.
type ExecutionState struct {
	Timestamp       time.Time        `json:"timestamp"`
	RowIndex        int              `json:"rowIndex"`
	ActionIndex     int              `json:"actionIndex"`
	TotalRows       int              `json:"totalRows"`
	TotalActions    int              `json:"totalActions"`
	Iteration       int              `json:"iteration,omitempty"`
	CurrentAction   *plan.Action     `json:"currentAction,omitempty"`
	DataRow         plan.Row         `json:"dataRow"`
	PageURL         string           `json:"pageUrl,omitempty"`
	PageTitle       string           `json:"pageTitle,omitempty"`
	FailureMetadata *FailureMetadata `json:"failureMetadata,omitempty"`
	Viewport        Viewport         `json:"viewport"`
}

// Validate checks the position invariants of the state.
func (s *ExecutionState) Validate() error {
	if s.TotalRows < 1 {
		return fmt.Errorf("totalRows must be at least 1, got %d", s.TotalRows)
	}
	if s.RowIndex < 0 || s.RowIndex >= s.TotalRows {
		return fmt.Errorf("rowIndex %d out of range [0, %d)", s.RowIndex, s.TotalRows)
	}
	if s.ActionIndex < 0 || s.ActionIndex > s.TotalActions {
		return fmt.Errorf("actionIndex %d out of range [0, %d]", s.ActionIndex, s.TotalActions)
	}
	return nil
}

// DecisionAction is the operator's choice after a pause.
type DecisionAction string

const (
	DecisionContinue  DecisionAction = "continue"
	DecisionRetry     DecisionAction = "retry"
	DecisionSkipRow   DecisionAction = "skip_row"
	DecisionAbort     DecisionAction = "abort"
	DecisionManualFix DecisionAction = "manual_fix"
)

// ParseDecisionAction validates s as a decision action.
func ParseDecisionAction(s string) (DecisionAction, error) {
	switch a := DecisionAction(s); a {
	case DecisionContinue, DecisionRetry, DecisionSkipRow, DecisionAbort, DecisionManualFix:
		return a, nil
	}
	return "", fmt.Errorf("unknown repair decision %q (want continue, retry, skip_row, abort or manual_fix)", s)
}

// DecisionOptions tune a repair decision.
type DecisionOptions struct {
	RetryCount    int    `json:"retryCount,omitempty"`
	SkipRemaining bool   `json:"skipRemaining,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// RepairDecision is consumed exactly once by a paused executor.
type RepairDecision struct {
	Action    DecisionAction  `json:"action"`
	Timestamp time.Time       `json:"timestamp"`
	Options   DecisionOptions `json:"options"`
}

// NewDecision stamps a decision with the current time.
func NewDecision(action DecisionAction, opts DecisionOptions) RepairDecision {
	return RepairDecision{Action: action, Timestamp: time.Now().UTC(), Options: opts}
}
