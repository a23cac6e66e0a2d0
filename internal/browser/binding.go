// internal/browser/binding.go
package browser

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Bind exposes a page-global function name that forwards its string argument
// to handler. The binding survives navigations.
func (s *Session) Bind(ctx context.Context, name string, handler func(payload string)) error {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == name {
			handler(e.Payload)
		}
	})
	return s.run(ctx, runtime.AddBinding(name))
}

// AddInitScript installs script in every document the page loads from now on
// and evaluates it in the current document.
func (s *Session) AddInitScript(ctx context.Context, script string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}), chromedp.Evaluate(script, nil))
}

// OnNavigate calls fn with the new URL each time the main frame commits a
// navigation.
func (s *Session) OnNavigate(fn func(url string)) {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		e, ok := ev.(*page.EventFrameNavigated)
		if !ok || e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		fn(e.Frame.URL)
	})
}
