// internal/executor/actions.go
package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/plan"
)

var submitLike = regexp.MustCompile(`(?i)\b(submit|save|send|simpan|kirim)\b|type\s*=\s*["']?submit`)

// errSkipped marks an action that was intentionally not dispatched.
type errSkipped struct{ reason string }

func (e errSkipped) Error() string { return e.reason }

// actionContext detaches page operations from run cancellation so an abort
// never interrupts an action halfway. The timeout still bounds them.
func (e *Executor) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.PageReadyTimeout)
}

func (e *Executor) typing() browser.Typing {
	return browser.Typing{
		Human:    e.cfg.HumanTyping,
		MinDelay: e.cfg.TypeDelayMin,
		MaxDelay: e.cfg.TypeDelayMax,
	}
}

// fillValue resolves the value a fill action types for row.
func (e *Executor) fillValue(a plan.Action, m plan.FieldMapping, row plan.Row) string {
	if v, ok := a.LiteralValue(); ok {
		return v
	}
	v, _ := row.Lookup(m.DataKey)
	return v
}

// dispatch runs one action against the page. It does not wait for the
// action's waitFor indicator.
func (e *Executor) dispatch(ctx context.Context, a plan.Action, row plan.Row) error {
	log := e.logger.With(zap.String("action", a.String()))

	switch a.Type {
	case plan.ActionWait:
		secs, err := a.Seconds(1)
		if err != nil {
			return err
		}
		log.Debug("Waiting.", zap.Float64("seconds", secs))
		return sleep(ctx, seconds(secs))

	case plan.ActionFill:
		m, ok := e.plan.Mapping(a.Target)
		if !ok {
			return fmt.Errorf("fill target %q has no field mapping", a.Target)
		}
		value := e.fillValue(a, m, row)
		if value == "" && !isToggle(m.Type) {
			if m.Required {
				return fmt.Errorf("%w: %s", ErrRequiredValue, m.Name)
			}
			return errSkipped{reason: "no value for " + m.Name}
		}
		labels := m.Labels
		if len(labels) == 0 {
			labels = []string{m.Name}
		}
		actx, cancel := e.actionContext(ctx)
		defer cancel()
		return e.page.Fill(actx, browser.Field{Name: m.Name, Type: m.Type, Labels: labels}, value, plan.Truthy(value), e.typing())

	case plan.ActionClick:
		if e.cfg.SafeRun && submitLike.MatchString(a.Target) {
			log.Info("Safe run: skipping submit-like click.")
			return errSkipped{reason: "safe run"}
		}
		actx, cancel := e.actionContext(ctx)
		defer cancel()
		return e.page.Click(actx, a.Target)

	case plan.ActionHandleDialog:
		actx, cancel := e.actionContext(ctx)
		defer cancel()
		if err := e.page.ArmDialog(actx, !a.DismissDialog()); err != nil {
			return err
		}
		if strings.TrimSpace(a.Target) == "" {
			return nil
		}
		// The target is what opens the dialog.
		return e.page.Click(actx, a.Target)

	case plan.ActionNavigate:
		url := strings.TrimSpace(a.Target)
		if url == "" {
			url = e.plan.Target.URL
		}
		actx, cancel := e.actionContext(ctx)
		defer cancel()
		return e.page.Navigate(actx, url)
	}
	return fmt.Errorf("unsupported action type %q", a.Type)
}

func isToggle(fieldType string) bool {
	switch strings.ToLower(fieldType) {
	case "checkbox", "radio":
		return true
	}
	return false
}
