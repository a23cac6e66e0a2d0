// cmd/run.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/checkpoint"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/executor"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/plan"
	"github.com/xkilldash9x/formpilot/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// runOptions are the flags shared by run and resume.
type runOptions struct {
	output      string
	interactive bool
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "prompt for a repair decision when the run pauses")
	cmd.Flags().Bool("headless", true, "run the browser headless (overrides browser.headless)")
	cmd.Flags().Bool("safe-run", false, "skip submit-like clicks (overrides executor.safe_run)")
	cmd.Flags().Bool("human-typing", true, "type with per-character delays (overrides executor.human_typing)")
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("headless") {
		v, _ := cmd.Flags().GetBool("headless")
		cfg.SetBrowserHeadless(v)
	}
	if cmd.Flags().Changed("safe-run") {
		v, _ := cmd.Flags().GetBool("safe-run")
		cfg.SetExecutorSafeRun(v)
	}
	if cmd.Flags().Changed("human-typing") {
		v, _ := cmd.Flags().GetBool("human-typing")
		cfg.SetExecutorHumanTyping(v)
	}
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <plan.json>",
		Short: "Execute an automation plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			return executePlan(cmd, cfg, args[0], opts, func(ctx context.Context, e *executor.Executor) (*executor.Report, error) {
				return e.Run(ctx)
			})
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func newResumeCmd() *cobra.Command {
	opts := &runOptions{}
	var (
		decision      string
		retryCount    int
		skipRemaining bool
		notes         string
	)
	cmd := &cobra.Command{
		Use:   "resume <plan.json>",
		Short: "Resume a paused run from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := checkpoint.ParseDecisionAction(decision)
			if err != nil {
				return err
			}
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			d := checkpoint.NewDecision(action, checkpoint.DecisionOptions{
				RetryCount:    retryCount,
				SkipRemaining: skipRemaining,
				Notes:         notes,
			})
			return executePlan(cmd, cfg, args[0], opts, func(ctx context.Context, e *executor.Executor) (*executor.Report, error) {
				ok, err := e.Restore(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, errors.New("no checkpoint to resume for this plan")
				}
				return e.Resume(ctx, d)
			})
		},
	}
	addRunFlags(cmd, opts)
	cmd.Flags().StringVarP(&decision, "decision", "d", "retry", "repair decision: continue, retry, skip_row, abort or manual_fix")
	cmd.Flags().IntVar(&retryCount, "retry-count", 1, "attempts for a retry decision")
	cmd.Flags().BoolVar(&skipRemaining, "skip-remaining", false, "with skip_row, end the run instead of moving to the next row")
	cmd.Flags().StringVar(&notes, "notes", "", "operator notes recorded with the decision")
	return cmd
}

type startFunc func(ctx context.Context, e *executor.Executor) (*executor.Report, error)

// executePlan validates the plan before any browser starts, runs it through
// start, and handles pauses, the execution log and the report.
func executePlan(cmd *cobra.Command, cfg *config.Config, path string, opts *runOptions, start startFunc) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	p, err := plan.Load(path)
	if err != nil {
		return err
	}
	if err := plan.Validate(p); err != nil {
		return err
	}

	repo, closeRepo, err := checkpoint.Open(ctx, cfg.Checkpoint(), cfg.Database(), logger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint repository: %w", err)
	}
	defer closeRepo()

	manager := browser.NewManager(cfg.Browser(), logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown reported errors.", zap.Error(err))
		}
	}()
	session, err := manager.Create(ctx)
	if err != nil {
		return err
	}

	e, err := executor.New(p, session, repo, cfg.Checkpoint().Key, cfg.Executor(), logger)
	if err != nil {
		return err
	}

	report, runErr := start(ctx, e)
	if opts.interactive {
		in := bufio.NewScanner(cmd.InOrStdin())
		for report != nil && e.Status() == executor.StatusPaused {
			d, ok := promptDecision(cmd.OutOrStdout(), in, report)
			if !ok {
				break
			}
			report, runErr = e.Resume(ctx, d)
		}
	}
	if report == nil {
		return runErr
	}

	if report.Status != executor.RunPaused {
		logEntry(ctx, cfg, p, report, logger)
	} else {
		cmd.PrintErrf("Run paused; resume with: formpilot resume %s --decision <continue|retry|skip_row|abort|manual_fix>\n", path)
	}
	if err := writeReport(cmd.OutOrStdout(), opts.output, report); err != nil {
		return err
	}
	return runErr
}

func logEntry(ctx context.Context, cfg *config.Config, p *plan.Plan, report *executor.Report, logger *zap.Logger) {
	log, closeLog, err := store.Open(ctx, cfg.Store(), cfg.Database(), logger)
	if err != nil {
		logger.Warn("Execution log unavailable.", zap.Error(err))
		return
	}
	defer closeLog()
	if err := log.Append(context.WithoutCancel(ctx), store.NewEntry(p, report)); err != nil {
		logger.Warn("Failed to record run in the execution log.", zap.Error(err))
	}
}

// promptDecision asks the operator what to do with a paused run. It reports
// false when input ends.
func promptDecision(out io.Writer, in *bufio.Scanner, report *executor.Report) (checkpoint.RepairDecision, bool) {
	if st := report.Checkpoint; st != nil {
		fmt.Fprintf(out, "\nRun paused at row %d, action %d of %d.\n", st.RowIndex, st.ActionIndex, st.TotalActions)
		if fm := st.FailureMetadata; fm != nil {
			fmt.Fprintf(out, "  %s (%s): %s\n  %s\n", fm.Category, fm.Severity, fm.Error, fm.Reason)
		}
	}
	for {
		fmt.Fprint(out, "Decision [continue, retry, skip_row, abort, manual_fix]: ")
		if !in.Scan() {
			return checkpoint.RepairDecision{}, false
		}
		action, err := checkpoint.ParseDecisionAction(strings.TrimSpace(in.Text()))
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		return checkpoint.NewDecision(action, checkpoint.DecisionOptions{}), true
	}
}

func writeReport(stdout io.Writer, path string, report *executor.Report) error {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if path == "" {
		_, err = fmt.Fprintln(stdout, string(b))
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
