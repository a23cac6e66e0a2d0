// cmd/selector.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/selector"
)

func newSelectorCmd() *cobra.Command {
	var (
		fragment string
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "selector",
		Short: "Infer a replayable selector for an HTML element",
		Example: `  formpilot selector --html '<input name="email" type="email">'
  formpilot selector --html '<button class="btn primary">Send</button>' -v`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if fragment == "" {
				return fmt.Errorf("--html is required")
			}
			d, err := selector.DescriptorFromHTML(fragment)
			if err != nil {
				return err
			}
			if !verbose {
				cmd.Println(selector.Infer(d))
				return nil
			}
			b, err := json.MarshalIndent(selector.WithSelector(d), "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&fragment, "html", "", "HTML fragment whose first element is described")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the full element descriptor")
	return cmd
}
