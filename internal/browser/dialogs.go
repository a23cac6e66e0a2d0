// internal/browser/dialogs.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// dialogState decides how the next JavaScript dialog is answered.
type dialogState struct {
	mu         sync.Mutex
	autoAccept bool
	armed      bool
	accept     bool
	lastErr    error
}

// take returns the answer for a dialog that just opened, consuming a one-shot arm.
func (d *dialogState) take() (accept bool, handle bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed {
		d.armed = false
		return d.accept, true
	}
	if d.autoAccept {
		return true, true
	}
	return false, false
}

func (s *Session) listenDialogs() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		opening, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		accept, handle := s.dialogs.take()
		if !handle {
			s.logger.Debug("Dialog left for the operator.", zap.String("type", string(opening.Type)))
			return
		}
		// Listeners must not block the event loop; answer from a goroutine.
		go func() {
			c := chromedp.FromContext(s.ctx)
			if c == nil || c.Target == nil {
				return
			}
			err := page.HandleJavaScriptDialog(accept).Do(cdp.WithExecutor(s.ctx, c.Target))
			if err != nil {
				s.logger.Warn("Failed to answer dialog.", zap.Error(err))
				s.dialogs.mu.Lock()
				s.dialogs.lastErr = fmt.Errorf("%w: %v", ErrDialogHandling, err)
				s.dialogs.mu.Unlock()
				return
			}
			s.logger.Debug("Dialog answered.",
				zap.String("type", string(opening.Type)),
				zap.String("message", opening.Message),
				zap.Bool("accepted", accept))
		}()
	})
}

// AutoAcceptDialogs makes the session accept every dialog that is not covered
// by a one-shot arm.
func (s *Session) AutoAcceptDialogs() {
	s.dialogs.mu.Lock()
	s.dialogs.autoAccept = true
	s.dialogs.mu.Unlock()
}

// ArmDialog answers the next dialog once, accepting or dismissing it. A
// failure from a previously armed dialog is reported here.
func (s *Session) ArmDialog(ctx context.Context, accept bool) error {
	if !s.Alive() {
		return ErrSessionNotFound
	}
	s.dialogs.mu.Lock()
	defer s.dialogs.mu.Unlock()
	if err := s.dialogs.lastErr; err != nil {
		s.dialogs.lastErr = nil
		return err
	}
	s.dialogs.armed = true
	s.dialogs.accept = accept
	return nil
}
