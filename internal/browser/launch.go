// internal/browser/launch.go
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// allocatorOptions builds the exec allocator flags for one session's browser process.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	// Extra flags come as "--name" or "--name=value".
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// launchSession starts a dedicated browser process, creates an isolated
// browsing context inside it and opens the session's single page.
func launchSession(ctx context.Context, id string, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	s := newSession(id, cfg, logger)
	var err error

	// The process must outlive the request that created it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	s.allocCancel, s.browserCtx, s.browserCancel = allocCancel, browserCtx, browserCancel

	success := false
	defer func() {
		if !success {
			_ = s.Close(context.Background())
		}
	}()

	startCtx, cancelStart := CombineContext(browserCtx, ctx)
	defer cancelStart()
	if err := chromedp.Run(startCtx); err != nil {
		return nil, fmt.Errorf("failed to start browser process: %w", err)
	}

	browserExec := cdp.WithExecutor(startCtx, chromedp.FromContext(browserCtx).Browser)

	s.browserContextID, err = target.CreateBrowserContext().WithDisposeOnDetach(true).Do(browserExec)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if cfg.GrantGeolocation {
		grant := cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{cdpbrowser.PermissionTypeGeolocation}).
			WithBrowserContextID(s.browserContextID)
		if err := grant.Do(browserExec); err != nil {
			s.logger.Debug("Could not grant geolocation permission.", zap.Error(err))
		}
	}

	s.targetID, err = target.CreateTarget("about:blank").
		WithBrowserContextID(s.browserContextID).
		Do(browserExec)
	if err != nil {
		return nil, fmt.Errorf("failed to create page target: %w", err)
	}

	s.ctx, s.cancel = chromedp.NewContext(browserCtx, chromedp.WithTargetID(s.targetID))

	setupCtx, cancelSetup := CombineContext(s.ctx, ctx)
	defer cancelSetup()
	if err := chromedp.Run(setupCtx,
		page.Enable(),
		emulation.SetDeviceMetricsOverride(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight), 1, false),
	); err != nil {
		return nil, fmt.Errorf("failed to prepare page: %w", err)
	}

	s.watch()
	s.listenDialogs()

	success = true
	s.logger.Debug("Browser session launched.",
		zap.String("browser_context_id", string(s.browserContextID)),
		zap.String("target_id", string(s.targetID)),
		zap.String("viewport", strconv.Itoa(cfg.ViewportWidth)+"x"+strconv.Itoa(cfg.ViewportHeight)))
	return s, nil
}
