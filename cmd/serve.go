// cmd/serve.go
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/server"
	"github.com/xkilldash9x/formpilot/internal/stream"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session control surface and frame streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				listen, _ := cmd.Flags().GetString("listen")
				cfg.SetServerListen(listen)
			}
			if cmd.Flags().Changed("headless") {
				headless, _ := cmd.Flags().GetBool("headless")
				cfg.SetBrowserHeadless(headless)
			}
			logger := observability.GetLogger()

			manager := browser.NewManager(cfg.Browser(), logger)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := manager.Shutdown(ctx); err != nil {
					logger.Warn("Session shutdown reported errors.", zap.Error(err))
				}
			}()

			sessions := server.ManagerSessions{Manager: manager}
			streams := stream.NewHandler(sessions.Acquire, cfg.Stream(), cfg.Server().AllowedOrigins, logger)
			return server.New(cfg.Server(), sessions, streams, logger).Start(cmd.Context())
		},
	}
	cmd.Flags().String("listen", "", "listen address (overrides server.listen)")
	cmd.Flags().Bool("headless", true, "launch session browsers headless (overrides browser.headless)")
	return cmd
}
