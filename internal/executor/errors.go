// internal/executor/errors.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/plan"
)

var (
	// ErrElementNotFound is a recoverable failure: the run pauses.
	ErrElementNotFound = browser.ErrElementNotFound
	// ErrDialogHandling is returned when a dialog could not be armed or answered.
	ErrDialogHandling = browser.ErrDialogHandling
	// ErrLoopExhausted reports a loop that hit maxIterations without its stop condition.
	ErrLoopExhausted = errors.New("loop reached maxIterations without satisfying its stop condition")
	// ErrFailureIndicator is recorded when the plan's failure indicator matches.
	ErrFailureIndicator = errors.New("failure indicator matched")
	// ErrInvalidState is returned for calls that the current status does not allow.
	ErrInvalidState = errors.New("invalid executor state")
	// ErrRequiredValue is returned when a required field has no value for the row.
	ErrRequiredValue = errors.New("required field has no value")
)

// IndicatorTimeoutError reports an indicator that did not match in time.
// It is recoverable: the run pauses.
type IndicatorTimeoutError struct {
	Indicator plan.Indicator
	Timeout   time.Duration
	// Purpose names what was being waited for (page ready, wait for, success).
	Purpose string
}

func (e *IndicatorTimeoutError) Error() string {
	return fmt.Sprintf("%s indicator %s not satisfied within %s", e.Purpose, e.Indicator, e.Timeout)
}

// Outcome classes of a run failure as the operator sees them.
type Outcome string

const (
	// OutcomeBlocked: the plan is invalid and must be fixed before running.
	OutcomeBlocked Outcome = "blocked"
	// OutcomePaused: the run hit a transient problem and awaits a decision.
	OutcomePaused Outcome = "paused"
	// OutcomeAborted: the run cannot continue.
	OutcomeAborted Outcome = "aborted"
)

// ClassifyOutcome maps an error returned by Run or Resume to its outcome
// class. It returns "" for nil.
func ClassifyOutcome(err error) Outcome {
	var verr *plan.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return OutcomeBlocked
	case recoverable(err):
		return OutcomePaused
	}
	return OutcomeAborted
}

// recoverable reports whether err pauses the run instead of aborting it.
func recoverable(err error) bool {
	var timeout *IndicatorTimeoutError
	var nav *browser.NavigationError
	switch {
	case errors.Is(err, browser.ErrSessionNotFound), errors.Is(err, context.Canceled),
		errors.Is(err, errAbortedByOperator):
		return false
	case errors.Is(err, ErrElementNotFound),
		errors.As(err, &timeout),
		errors.As(err, &nav),
		errors.Is(err, ErrDialogHandling),
		errors.Is(err, ErrFailureIndicator),
		errors.Is(err, ErrRequiredValue):
		return true
	}
	// Unknown page errors (script failures, detached nodes) are left to the operator.
	return !errors.Is(err, ErrLoopExhausted)
}
