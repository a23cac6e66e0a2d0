// cmd/inspect.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/inspector"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/store"
)

func newInspectCmd() *cobra.Command {
	var (
		output string
		draft  bool
		from   string
	)
	cmd := &cobra.Command{
		Use:   "inspect [url]",
		Short: "Open a visible browser and record what the operator does",
		Long: `Opens the target in a visible browser and records navigations, clicks,
field changes and form submissions until the window is closed. Typed values
are never recorded. With --draft the recorded log is printed as plan actions;
--from drafts from an existing log without opening a browser.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from != "" {
				a, err := store.LoadInspectorLog(from)
				if err != nil {
					return err
				}
				return printDraft(cmd.OutOrStdout(), a.Events)
			}
			if len(args) == 0 {
				return fmt.Errorf("a target url is required unless --from is given")
			}

			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			cfg.SetBrowserHeadless(false)
			if cmd.Flags().Changed("headless") {
				v, _ := cmd.Flags().GetBool("headless")
				cfg.SetBrowserHeadless(v)
			}
			icfg := cfg.Inspector()
			if output != "" {
				icfg.Output = output
			}
			logger := observability.GetLogger()

			manager := browser.NewManager(cfg.Browser(), logger)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := manager.Shutdown(ctx); err != nil {
					logger.Warn("Browser shutdown reported errors.", zap.Error(err))
				}
			}()
			session, err := manager.Create(cmd.Context())
			if err != nil {
				return err
			}

			rec := inspector.NewRecorder(session, store.NewInspectorFiles(icfg.Output, logger), icfg, logger)
			cmd.PrintErrln("Recording. Close the browser window or press Ctrl+C to stop.")
			artifact, err := rec.Run(cmd.Context(), args[0])
			if artifact != nil {
				cmd.PrintErrf("Recorded %d events to %s\n", len(artifact.Events), icfg.Output)
				if draft {
					if perr := printDraft(cmd.OutOrStdout(), artifact.Events); perr != nil {
						return perr
					}
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "inspector log path (overrides inspector.output)")
	cmd.Flags().BoolVar(&draft, "draft", false, "print the recording as plan actions")
	cmd.Flags().StringVar(&from, "from", "", "draft actions from an existing inspector log")
	cmd.Flags().Bool("headless", false, "run the browser headless")
	return cmd
}

func printDraft(w io.Writer, events []inspector.Event) error {
	b, err := json.MarshalIndent(inspector.DraftActions(events), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
