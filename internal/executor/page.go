// internal/executor/page.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/plan"
)

// Page is the session surface the executor drives. *browser.Session
// satisfies it.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, field browser.Field, value string, checked bool, typing browser.Typing) error
	Click(ctx context.Context, target string) error
	SelectorVisible(ctx context.Context, selector string) (bool, error)
	TextPresent(ctx context.Context, text string) (bool, error)
	Location(ctx context.Context) (url, title string, err error)
	AutoAcceptDialogs()
	ArmDialog(ctx context.Context, accept bool) error
	Viewport() browser.Viewport
	Close(ctx context.Context) error
}

var _ Page = (*browser.Session)(nil)

const (
	purposePageReady = "page ready"
	purposeWaitFor   = "wait for"
	purposeSuccess   = "success"
)

// checkIndicator evaluates ind once, bounded by the check timeout.
func (e *Executor) checkIndicator(ctx context.Context, ind plan.Indicator) (bool, error) {
	checkCtx, cancel := context.WithTimeout(ctx, e.cfg.IndicatorCheckTimeout)
	defer cancel()

	switch ind.Type {
	case plan.IndicatorSelector:
		return e.page.SelectorVisible(checkCtx, ind.Value)
	case plan.IndicatorText:
		return e.page.TextPresent(checkCtx, ind.Value)
	case plan.IndicatorURL:
		u, _, err := e.page.Location(checkCtx)
		if err != nil {
			return false, err
		}
		return strings.Contains(u, ind.Value), nil
	}
	return false, fmt.Errorf("unknown indicator type %q", ind.Type)
}

// waitIndicator polls ind until it matches or timeout passes. Check errors
// count as not matched; the page may be mid-navigation.
func (e *Executor) waitIndicator(ctx context.Context, ind plan.Indicator, timeout time.Duration, purpose string) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := e.checkIndicator(ctx, ind)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, browser.ErrSessionNotFound) {
				return err
			}
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return &IndicatorTimeoutError{Indicator: ind, Timeout: timeout, Purpose: purpose}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
