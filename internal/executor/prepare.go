// internal/executor/prepare.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/plan"
)

var (
	usernameFallbacks = []string{
		`input[name="username"]`, `input[name="email"]`, `input[type="email"]`,
		`input[type="text"]`, `input#username`, `input#email`,
	}
	passwordFallbacks = []string{
		`input[name="password"]`, `input[type="password"]`, `input#password`,
	}
	loginSubmitTargets = []string{
		`button[type="submit"], input[type="submit"]`, "Login", "Log in", "Sign in",
	}
)

// prepare brings the page to the plan's target: optional login, navigation
// steps, the target URL and its page-ready indicator.
func (e *Executor) prepare(ctx context.Context) error {
	t := e.plan.Target
	if e.plan.HasAction(plan.ActionHandleDialog) {
		e.page.AutoAcceptDialogs()
	}
	if t.Login != nil {
		if err := e.login(ctx, t.Login); err != nil {
			return err
		}
	}
	for i, step := range t.Navigation {
		if err := e.runStep(ctx, step); err != nil {
			return fmt.Errorf("navigation step %d (%s): %w", i, step.Type, err)
		}
	}
	e.logger.Debug("Opening target.", zap.String("url", t.URL))
	actx, cancel := e.actionContext(ctx)
	err := e.page.Navigate(actx, t.URL)
	cancel()
	if err != nil {
		return err
	}
	return e.waitIndicator(ctx, t.PageReadyIndicator, e.cfg.PageReadyTimeout, purposePageReady)
}

func (e *Executor) login(ctx context.Context, l *plan.Login) error {
	e.logger.Info("Logging in.", zap.String("url", l.URL))
	actx, cancel := e.actionContext(ctx)
	defer cancel()
	if err := e.page.Navigate(actx, l.URL); err != nil {
		return err
	}
	user := browser.Field{Name: "username", Labels: withFallbacks(l.UsernameField, usernameFallbacks)}
	if err := e.page.Fill(actx, user, l.Username, false, e.typing()); err != nil {
		return fmt.Errorf("login username: %w", err)
	}
	pass := browser.Field{Name: "password", Type: "password", Labels: withFallbacks(l.PasswordField, passwordFallbacks)}
	if err := e.page.Fill(actx, pass, l.Password, false, e.typing()); err != nil {
		return fmt.Errorf("login password: %w", err)
	}

	var err error
	for _, target := range loginSubmitTargets {
		if err = e.page.Click(actx, target); err == nil || !errors.Is(err, ErrElementNotFound) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("login submit: %w", err)
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, step plan.NavigationStep) error {
	actx, cancel := e.actionContext(ctx)
	defer cancel()
	var err error
	switch step.Type {
	case plan.StepClick:
		err = e.page.Click(actx, step.Target)
	case plan.StepNavigate:
		err = e.page.Navigate(actx, step.Target)
	case plan.StepWait:
		err = sleep(ctx, seconds(step.Duration))
	}
	if err != nil {
		return err
	}
	if step.WaitFor.IsSet() {
		return e.waitIndicator(ctx, *step.WaitFor, e.cfg.IndicatorTimeout, purposeWaitFor)
	}
	return nil
}

func withFallbacks(primary string, fallbacks []string) []string {
	if strings.TrimSpace(primary) == "" {
		return fallbacks
	}
	return append([]string{primary}, fallbacks...)
}
