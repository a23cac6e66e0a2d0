// cmd/checkpoint.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/checkpoint"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

func newCheckpointCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or clear the persisted repair checkpoint",
	}
	cmd.PersistentFlags().StringVar(&key, "key", "", "checkpoint key (overrides checkpoint.key)")

	withRepo := func(run func(cmd *cobra.Command, repo checkpoint.Repository, key string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			k := key
			if k == "" {
				k = cfg.Checkpoint().Key
			}
			repo, closeRepo, err := checkpoint.Open(cmd.Context(), cfg.Checkpoint(), cfg.Database(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer closeRepo()
			return run(cmd, repo, k)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the checkpoint as JSON",
		Args:  cobra.NoArgs,
		RunE: withRepo(func(cmd *cobra.Command, repo checkpoint.Repository, key string) error {
			st, err := repo.Load(cmd.Context(), key)
			if err != nil {
				return err
			}
			if st == nil {
				cmd.Println("No checkpoint.")
				return nil
			}
			b, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode checkpoint: %w", err)
			}
			cmd.Println(string(b))
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the checkpoint",
		Args:  cobra.NoArgs,
		RunE: withRepo(func(cmd *cobra.Command, repo checkpoint.Repository, key string) error {
			if err := repo.Clear(cmd.Context(), key); err != nil {
				return err
			}
			cmd.Println("Checkpoint cleared.")
			return nil
		}),
	})
	return cmd
}
