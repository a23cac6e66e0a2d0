// internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/checkpoint"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/plan"
)

var (
	errPauseRequested    = errors.New("pause requested")
	errAbortedByOperator = errors.New("aborted by operator")
)

type indicatorOutcome int

const (
	outcomeNone indicatorOutcome = iota
	outcomeSuccess
	outcomeFailure
	outcomeUnconfirmed
)

// Executor interprets one plan against one page, a data row and an action at
// a time. Run and Resume must not be called concurrently.
type Executor struct {
	plan   *plan.Plan
	page   Page
	repo   checkpoint.Repository
	key    string
	cfg    config.ExecutorConfig
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	status Status
	report *Report
	state  *checkpoint.ExecutionState

	// rows lists the data row indexes to visit; rowPos points into it.
	rows        []int
	rowPos      int
	actionIndex int
	iteration   int
	prepared    bool
	retries     int

	pauseRequested atomic.Bool
}

// New validates p and binds it to page. repo may be nil, in which case
// checkpoints are kept in memory only. An empty key selects the default slot.
func New(p *plan.Plan, page Page, repo checkpoint.Repository, key string, cfg config.ExecutorConfig, logger *zap.Logger) (*Executor, error) {
	if p == nil {
		return nil, plan.Validate(p)
	}
	if l := p.Execution.Loop; l != nil && l.MaxIterations == 0 {
		l.MaxIterations = cfg.DefaultMaxIterations
	}
	if err := plan.Validate(p); err != nil {
		return nil, err
	}
	if key == "" {
		key = checkpoint.DefaultKey
	}
	return &Executor{
		plan:   p,
		page:   page,
		repo:   repo,
		key:    key,
		cfg:    cfg,
		logger: observability.ForPlan(logger.Named("executor"), p.Name, p.Version, p.Target.URL),
		now:    func() time.Time { return time.Now().UTC() },
		status: StatusIdle,
		rows:   p.RowIndexes(),
	}, nil
}

// Status returns the state machine position.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Checkpoint returns the state recorded by the last pause, if any.
func (e *Executor) Checkpoint() *checkpoint.ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Report returns a snapshot of the current report.
func (e *Executor) Report() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.report == nil {
		return nil
	}
	return e.report.clone()
}

// Pause asks a running executor to stop at the next action boundary and
// record a checkpoint.
func (e *Executor) Pause() {
	e.pauseRequested.Store(true)
}

func (e *Executor) transition(from, to Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != from {
		return fmt.Errorf("%w: executor is %s, not %s", ErrInvalidState, e.status, from)
	}
	e.status = to
	return nil
}

func (e *Executor) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// Run executes the plan from the first row. It returns when the run
// completes, pauses or aborts; the report's status tells which. The error is
// non-nil for aborts, an exhausted loop, and a checkpoint that could not be
// saved.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	if err := e.transition(StatusIdle, StatusRunning); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.report = &Report{StartedAt: e.now(), Status: RunSuccess}
	e.mu.Unlock()
	e.rowPos, e.actionIndex, e.iteration = 0, 0, 0

	e.logger.Info("Run started.", zap.Int("rows", len(e.rows)), zap.Int("actions", len(e.plan.Actions)))
	return e.drive(ctx)
}

// Restore loads the persisted checkpoint into a fresh executor, leaving it
// Paused at the recorded position. It reports false when there is nothing
// (usable) to restore, in which case the executor stays Idle.
func (e *Executor) Restore(ctx context.Context) (bool, error) {
	if e.Status() != StatusIdle {
		return false, fmt.Errorf("%w: restore needs an idle executor", ErrInvalidState)
	}
	if e.repo == nil {
		return false, nil
	}
	st, err := e.repo.Load(ctx, e.key)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, nil
	}
	pos := -1
	for i, r := range e.rows {
		if r == st.RowIndex {
			pos = i
		}
	}
	if pos < 0 || st.TotalActions != len(e.plan.Actions) || st.TotalRows != len(e.plan.DataSource.Rows) {
		e.logger.Warn("Checkpoint does not match this plan; starting fresh.",
			observability.RowIndex(st.RowIndex), zap.Int("total_actions", st.TotalActions))
		return false, nil
	}

	e.rowPos, e.actionIndex, e.iteration = pos, st.ActionIndex, st.Iteration
	e.mu.Lock()
	e.state = st
	e.report = &Report{StartedAt: e.now(), Status: RunPaused, Checkpoint: st}
	e.status = StatusPaused
	e.mu.Unlock()
	e.logger.Info("Restored checkpoint.", observability.Position(st.RowIndex, st.ActionIndex)...)
	return true, nil
}

// Resume applies an operator decision to a paused run and continues it.
func (e *Executor) Resume(ctx context.Context, d checkpoint.RepairDecision) (*Report, error) {
	if err := e.transition(StatusPaused, StatusRunning); err != nil {
		return nil, err
	}
	e.pauseRequested.Store(false)
	e.retries = 0
	// A requested pause stops before the recorded action runs, so continuing
	// resumes at that action instead of past it.
	e.mu.Lock()
	requested := e.state != nil && e.state.FailureMetadata == nil
	e.mu.Unlock()
	log := e.logger.With(observability.Decision(string(d.Action)))
	log.Info("Resuming.", observability.Position(e.rowIndex(), e.actionIndex)...)

	switch d.Action {
	case checkpoint.DecisionContinue:
		if requested {
			break
		}
		if !e.skipPausedAction() {
			return e.complete(ctx, nil)
		}
	case checkpoint.DecisionRetry:
		if d.Options.RetryCount > 1 {
			e.retries = d.Options.RetryCount - 1
		}
	case checkpoint.DecisionSkipRow:
		e.finishRow(outcomeFailure)
		if d.Options.SkipRemaining || !e.advanceRow() {
			return e.complete(ctx, nil)
		}
	case checkpoint.DecisionAbort:
		return e.abort(ctx, errAbortedByOperator)
	case checkpoint.DecisionManualFix:
		if a := e.currentAction(); a != nil && a.WaitFor.IsSet() {
			if err := e.waitIndicator(ctx, *a.WaitFor, e.cfg.IndicatorTimeout, purposeWaitFor); err != nil {
				return e.halt(ctx, err, a)
			}
		}
		if requested {
			break
		}
		if !e.skipPausedAction() {
			return e.complete(ctx, nil)
		}
	default:
		e.setStatus(StatusPaused)
		return e.Report(), fmt.Errorf("unknown repair decision %q", d.Action)
	}
	return e.drive(ctx)
}

func (e *Executor) rowIndex() int {
	if e.rowPos < len(e.rows) {
		return e.rows[e.rowPos]
	}
	return e.rows[len(e.rows)-1]
}

func (e *Executor) row() plan.Row {
	return e.plan.DataSource.Rows[e.rowIndex()]
}

func (e *Executor) currentAction() *plan.Action {
	if e.actionIndex < len(e.plan.Actions) {
		a := e.plan.Actions[e.actionIndex]
		return &a
	}
	return nil
}

// advanceRow moves to the first action of the next row. It reports false when
// no rows remain.
func (e *Executor) advanceRow() bool {
	e.finishRow(outcomeNone)
	e.rowPos++
	e.actionIndex, e.iteration = 0, 0
	return e.rowPos < len(e.rows)
}

// skipPausedAction moves past the action that paused. In once mode the last
// action leads to the next row; in loop mode it ends the iteration.
func (e *Executor) skipPausedAction() bool {
	n := len(e.plan.Actions)
	if e.plan.Execution.Mode == plan.ExecLoop {
		if e.actionIndex >= n {
			e.iteration++
			e.actionIndex = 0
		} else {
			e.actionIndex++
		}
		return true
	}
	if e.actionIndex >= n {
		e.finishRow(outcomeFailure)
	}
	if e.actionIndex+1 >= n {
		return e.advanceRow()
	}
	e.actionIndex++
	return true
}

// currentRow returns the open result for the current row, creating it.
func (e *Executor) currentRow() *RowResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows := e.report.Rows
	if n := len(rows); n > 0 && rows[n-1].RowIndex == e.rowIndex() && rows[n-1].Status == "" {
		return &e.report.Rows[n-1]
	}
	e.report.Rows = append(e.report.Rows, RowResult{RowIndex: e.rowIndex(), started: e.now()})
	return &e.report.Rows[len(e.report.Rows)-1]
}

// finishRow closes the current row's result, if one is open.
func (e *Executor) finishRow(o indicatorOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows := e.report.Rows
	n := len(rows)
	if n == 0 || rows[n-1].RowIndex != e.rowIndex() || rows[n-1].Status != "" {
		return
	}
	r := &e.report.Rows[n-1]
	r.Duration = e.now().Sub(r.started)
	switch {
	case o == outcomeFailure:
		r.Status = ResultFailed
	case r.failed, o == outcomeUnconfirmed:
		r.Status = ResultPartial
	default:
		r.Status = ResultSuccess
	}
}

func (e *Executor) recordAction(res ActionResult) {
	row := e.currentRow()
	e.mu.Lock()
	defer e.mu.Unlock()
	row.Actions = append(row.Actions, res)
	if res.Status == ResultFailed {
		row.failed = true
		row.Error = res.Error
	}
}

// boundary is checked before every action.
func (e *Executor) boundary(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.pauseRequested.CompareAndSwap(true, false) {
		return errPauseRequested
	}
	return nil
}

// runActions executes the current row's actions from actionIndex on.
func (e *Executor) runActions(ctx context.Context) error {
	e.currentRow()
	actions := e.plan.Actions
	for e.actionIndex < len(actions) {
		if err := e.boundary(ctx); err != nil {
			return err
		}
		a := actions[e.actionIndex]
		if a.Disabled {
			e.actionIndex++
			continue
		}

		start := e.now()
		err := e.dispatch(ctx, a, e.row())
		if err == nil && a.WaitFor.IsSet() {
			err = e.waitIndicator(ctx, *a.WaitFor, e.cfg.IndicatorTimeout, purposeWaitFor)
		}
		res := ActionResult{Index: e.actionIndex, Type: string(a.Type), Target: a.Target, Duration: e.now().Sub(start)}

		var skipped errSkipped
		switch {
		case errors.As(err, &skipped):
			res.Status = ResultSkipped
			res.Error = skipped.reason
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.Status = ResultFailed
			res.Error = err.Error()
			e.recordAction(res)
			if e.retries > 0 && recoverable(err) {
				e.retries--
				e.logger.Info("Retrying action.", zap.String("action", a.String()), zap.Int("retries_left", e.retries))
				continue
			}
			return err
		default:
			res.Status = ResultSuccess
		}
		e.recordAction(res)
		e.actionIndex++
	}
	return nil
}

// evaluateIndicators polls the failure and success indicators, failure
// first, for up to timeout. A zero timeout, or a plan without a success
// indicator, checks once.
func (e *Executor) evaluateIndicators(ctx context.Context, timeout time.Duration) (indicatorOutcome, error) {
	fail, succ := e.plan.FailureIndicator, e.plan.SuccessIndicator
	if !fail.IsSet() && !succ.IsSet() {
		return outcomeNone, nil
	}
	if !succ.IsSet() {
		timeout = 0
	}
	deadline := time.Now().Add(timeout)
	for {
		if fail.IsSet() {
			ok, err := e.checkIndicator(ctx, *fail)
			if err != nil && !recoverable(err) {
				return outcomeNone, err
			}
			if ok {
				return outcomeFailure, nil
			}
		}
		if succ.IsSet() {
			ok, err := e.checkIndicator(ctx, *succ)
			if err != nil && !recoverable(err) {
				return outcomeNone, err
			}
			if ok {
				return outcomeSuccess, nil
			}
		}
		if !time.Now().Before(deadline) {
			if succ.IsSet() {
				return outcomeUnconfirmed, nil
			}
			return outcomeNone, nil
		}
		if err := sleep(ctx, e.cfg.PollInterval); err != nil {
			return outcomeNone, err
		}
	}
}

// drive runs from the current position until the run completes, pauses or aborts.
func (e *Executor) drive(ctx context.Context) (*Report, error) {
	if !e.prepared {
		if err := e.prepare(ctx); err != nil {
			return e.halt(ctx, err, nil)
		}
		e.prepared = true
	}
	if e.plan.Execution.Mode == plan.ExecLoop {
		return e.driveLoop(ctx)
	}

	for {
		if err := e.runActions(ctx); err != nil {
			return e.halt(ctx, err, e.currentAction())
		}
		outcome, err := e.evaluateIndicators(ctx, e.cfg.IndicatorTimeout)
		if err != nil {
			return e.halt(ctx, err, nil)
		}
		if outcome == outcomeFailure {
			return e.halt(ctx, ErrFailureIndicator, nil)
		}
		e.finishRow(outcome)
		if !e.advanceRow() {
			return e.complete(ctx, nil)
		}
	}
}

// driveLoop repeats the action sequence on the same row. The success
// indicator is evaluated before the loop's stop condition.
func (e *Executor) driveLoop(ctx context.Context) (*Report, error) {
	loop := e.plan.Execution.Loop
	for {
		if e.actionIndex == 0 {
			stop, err := e.stopSatisfied(ctx, loop)
			if err != nil {
				return e.halt(ctx, err, nil)
			}
			if stop {
				e.logger.Info("Loop stop condition met.", zap.Int("iterations", e.iteration))
				e.finishRow(outcomeSuccess)
				return e.complete(ctx, nil)
			}
			if e.iteration >= loop.MaxIterations {
				e.logger.Warn("Loop exhausted.", zap.Int("max_iterations", loop.MaxIterations))
				row := e.currentRow()
				e.mu.Lock()
				row.Error = ErrLoopExhausted.Error()
				e.mu.Unlock()
				e.finishRow(outcomeFailure)
				return e.complete(ctx, ErrLoopExhausted)
			}
			if e.iteration > 0 {
				if err := sleep(ctx, seconds(loop.DelaySeconds)); err != nil {
					return e.halt(ctx, err, nil)
				}
			}
		}

		if err := e.runActions(ctx); err != nil {
			return e.halt(ctx, err, e.currentAction())
		}
		outcome, err := e.evaluateIndicators(ctx, 0)
		if err != nil {
			return e.halt(ctx, err, nil)
		}
		if outcome == outcomeFailure {
			return e.halt(ctx, ErrFailureIndicator, nil)
		}
		e.iteration++
		e.actionIndex = 0
		row := e.currentRow()
		e.mu.Lock()
		row.Iterations = e.iteration
		e.mu.Unlock()
		if outcome == outcomeSuccess {
			e.logger.Info("Success indicator matched; ending loop.", zap.Int("iterations", e.iteration))
			e.finishRow(outcomeSuccess)
			return e.complete(ctx, nil)
		}
	}
}

func (e *Executor) stopSatisfied(ctx context.Context, loop *plan.Loop) (bool, error) {
	visible, err := e.checkIndicator(ctx, loop.Indicator)
	if err != nil {
		if !recoverable(err) {
			return false, err
		}
		visible = false
	}
	if loop.StopWhen == plan.StopVisible {
		return visible, nil
	}
	return !visible, nil
}

// halt routes a stopping error to pause or abort.
func (e *Executor) halt(ctx context.Context, err error, action *plan.Action) (*Report, error) {
	switch {
	case errors.Is(err, errPauseRequested):
		return e.pause(ctx, nil, e.currentAction())
	case ctx.Err() != nil:
		return e.abort(ctx, ctx.Err())
	case !recoverable(err):
		return e.abort(ctx, err)
	}
	return e.pause(ctx, err, action)
}

// pause records a checkpoint for the current position and waits for a decision.
func (e *Executor) pause(ctx context.Context, cause error, action *plan.Action) (*Report, error) {
	now := e.now()
	st := &checkpoint.ExecutionState{
		Timestamp:     now,
		RowIndex:      e.rowIndex(),
		ActionIndex:   e.actionIndex,
		TotalRows:     len(e.plan.DataSource.Rows),
		TotalActions:  len(e.plan.Actions),
		Iteration:     e.iteration,
		CurrentAction: e.currentAction(),
		DataRow:       e.row(),
		Viewport:      checkpoint.Viewport(e.page.Viewport()),
	}
	locCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.IndicatorCheckTimeout)
	st.PageURL, st.PageTitle, _ = e.page.Location(locCtx)
	cancel()

	if cause != nil {
		st.FailureMetadata = Classify(cause, action, now)
		observability.ExecutorFailures.WithLabelValues(st.FailureMetadata.Category).Inc()
		row := e.currentRow()
		e.mu.Lock()
		row.failed = true
		row.Error = cause.Error()
		row.FailureMetadata = st.FailureMetadata
		e.mu.Unlock()
		e.logger.Warn("Run paused on failure.",
			observability.RowIndex(st.RowIndex), observability.ActionIndex(st.ActionIndex),
			zap.String("category", st.FailureMetadata.Category), zap.Error(cause))
	} else {
		e.logger.Info("Run paused on request.", observability.Position(st.RowIndex, st.ActionIndex)...)
	}

	var saveErr error
	if e.repo != nil {
		if err := e.repo.Save(context.WithoutCancel(ctx), e.key, st); err != nil {
			saveErr = err
			e.logger.Error("Checkpoint could not be saved; the run cannot be resumed after a restart.", zap.Error(err))
		}
	}

	e.mu.Lock()
	e.state = st
	e.status = StatusPaused
	e.report.Status = RunPaused
	e.report.Checkpoint = st
	if cause != nil {
		e.report.Error = cause.Error()
	}
	if saveErr != nil {
		e.report.CheckpointError = saveErr.Error()
	}
	e.report.summarize()
	out := e.report.clone()
	e.mu.Unlock()

	observability.ExecutorRuns.WithLabelValues(string(RunPaused)).Inc()
	return out, saveErr
}

// abort ends the run and releases the page.
func (e *Executor) abort(ctx context.Context, cause error) (*Report, error) {
	e.logger.Warn("Run aborted.", zap.Error(cause))
	e.finishRow(outcomeFailure)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.page.Close(closeCtx); err != nil {
		e.logger.Debug("Page close reported an error.", zap.Error(err))
	}

	e.mu.Lock()
	e.status = StatusAborted
	e.report.Status = RunAborted
	e.report.Error = cause.Error()
	e.report.FinishedAt = e.now()
	e.report.summarize()
	out := e.report.clone()
	e.mu.Unlock()

	observability.ExecutorRuns.WithLabelValues(string(RunAborted)).Inc()
	return out, cause
}

// complete ends the run and clears the checkpoint slot.
func (e *Executor) complete(ctx context.Context, cause error) (*Report, error) {
	e.finishRow(outcomeNone)
	if e.repo != nil {
		if err := e.repo.Clear(context.WithoutCancel(ctx), e.key); err != nil {
			e.logger.Warn("Failed to clear checkpoint.", zap.Error(err))
		}
	}

	e.mu.Lock()
	e.status = StatusCompleted
	e.state = nil
	e.report.Checkpoint = nil
	e.report.FinishedAt = e.now()
	e.report.Status = e.report.overall()
	if cause != nil {
		e.report.Status = RunFailed
		e.report.Error = cause.Error()
	}
	out := e.report.clone()
	e.mu.Unlock()

	e.logger.Info("Run completed.", zap.String("status", string(out.Status)),
		zap.Int("success", out.Summary.Success), zap.Int("failed", out.Summary.Failed), zap.Int("partial", out.Summary.Partial))
	observability.ExecutorRuns.WithLabelValues(string(out.Status)).Inc()
	return out, cause
}
