// internal/browser/session.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// Viewport is the page's native surface size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Session owns one browser process, one browsing context and one page.
// Every command is serialized through a single-slot semaphore so the page
// never sees concurrent navigation or input.
type Session struct {
	id        string
	createdAt time.Time
	logger    *zap.Logger
	cfg       config.BrowserConfig
	viewport  Viewport

	// Process handle and browser level context.
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	browserContextID cdp.BrowserContextID
	targetID         target.ID

	// ctx is the page target context every command runs under.
	ctx    context.Context
	cancel context.CancelFunc

	sem chan struct{}

	dialogs dialogState

	done     chan struct{}
	doneOnce sync.Once

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

func newSession(id string, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now().UTC(),
		logger:    observability.ForSession(logger, id),
		cfg:       cfg,
		viewport:  Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight},
		sem:       make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Viewport returns the page's native surface size.
func (s *Session) Viewport() Viewport { return s.viewport }

// Done is closed once the page or its browser process is gone.
func (s *Session) Done() <-chan struct{} { return s.done }

// Alive reports whether the page can still accept commands.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	if s.ctx != nil && s.ctx.Err() != nil {
		return false
	}
	return true
}

func (s *Session) markGone(reason string) {
	s.doneOnce.Do(func() {
		s.logger.Info("Session page is gone.", zap.String("reason", reason))
		close(s.done)
	})
}

// watch marks the session gone when its page is destroyed or crashes, or when
// the browser process exits.
func (s *Session) watch() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		if _, ok := ev.(*inspector.EventTargetCrashed); ok {
			s.markGone("target crashed")
		}
	})
	chromedp.ListenBrowser(s.browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *target.EventTargetDestroyed:
			if e.TargetID == s.targetID {
				s.markGone("target destroyed")
			}
		case *target.EventTargetCrashed:
			if e.TargetID == s.targetID {
				s.markGone("target crashed")
			}
		}
	})
	go func() {
		select {
		case <-s.browserCtx.Done():
			s.markGone("browser process exited")
		case <-s.ctx.Done():
			s.markGone("page context closed")
		case <-s.done:
		}
	}()
}

// acquire waits for the command slot. Blocked callers are served in the order
// they arrived; a caller gives up when ctx ends.
func (s *Session) acquire(ctx context.Context) error {
	if !s.Alive() {
		return ErrSessionNotFound
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionNotFound
	}
	if !s.Alive() {
		<-s.sem
		return ErrSessionNotFound
	}
	return nil
}

// tryAcquire takes the command slot only if it is free.
func (s *Session) tryAcquire() error {
	if !s.Alive() {
		return ErrSessionNotFound
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

func (s *Session) release() { <-s.sem }

// run executes chromedp actions under the command slot, bound to both the
// page lifetime and the caller's ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.runLocked(ctx, actions...)
}

// runLocked executes actions when the caller already holds the slot.
func (s *Session) runLocked(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && !s.Alive() {
		return ErrSessionNotFound
	}
	return err
}

// Close terminates the page, its browsing context and the browser process.
// It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	s.markGone("closed")

	if s.cancel != nil {
		s.cancel()
	}

	// chromedp.Cancel on the browser context waits for the process to exit.
	if s.browserCtx != nil {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.browserCtx) }()
		select {
		case err := <-done:
			if err != nil && err != context.Canceled {
				s.logger.Debug("Browser shutdown reported an error.", zap.Error(err))
			}
		case <-ctx.Done():
			s.logger.Warn("Timed out waiting for the browser process to exit.")
		}
	}
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}

	if s.onClose != nil {
		s.onClose()
	}
	return nil
}
