// cmd/history.go
package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the execution log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			log, closeLog, err := store.Open(cmd.Context(), cfg.Store(), cfg.Database(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer closeLog()

			entries, err := log.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				b, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}
			if len(entries) == 0 {
				cmd.Println("No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWHEN\tSTATUS\tROWS\tTARGET\tPLAN")
			for _, e := range entries {
				status, rows := "-", "-"
				if e.Report != nil {
					s := e.Report.Summary
					status = string(e.Report.Status)
					rows = fmt.Sprintf("%d/%d ok", s.Success, s.Total)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.Timestamp.Local().Format(time.DateTime), status, rows, e.Plan.TargetURL, e.Plan.Summary)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}
