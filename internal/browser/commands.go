// internal/browser/commands.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/selector"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	elementTextLimit         = 120
)

// FrameFormat selects the encoding of captured frames.
type FrameFormat struct {
	// Quality above zero selects JPEG at that quality; otherwise PNG.
	Quality int
}

// MimeType returns the frame's content type.
func (f FrameFormat) MimeType() string {
	if f.Quality > 0 {
		return "image/jpeg"
	}
	return "image/png"
}

func (f FrameFormat) capture() *page.CaptureScreenshotParams {
	if f.Quality > 0 {
		return page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(f.Quality))
	}
	return page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng)
}

func recordCommand(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	observability.SessionCommands.WithLabelValues(op, result).Inc()
}

// Navigate loads url in the session's page and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) (err error) {
	defer func() { recordCommand("navigate", err) }()
	s.logger.Debug("Navigating.", zap.String("url", url))

	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if navCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return &NavigationError{URL: url, Err: err}
	}
	return nil
}

// ClickAt dispatches a mouse click at page coordinates. button is one of
// left, middle or right; empty means left.
func (s *Session) ClickAt(ctx context.Context, x, y float64, button string) (err error) {
	defer func() { recordCommand("click_at", err) }()

	btn, err := parseButton(button)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.MouseClickXY(x, y, chromedp.ButtonType(btn)))
}

func parseButton(button string) (input.MouseButton, error) {
	switch button {
	case "", "left":
		return input.Left, nil
	case "middle":
		return input.Middle, nil
	case "right":
		return input.Right, nil
	}
	return "", fmt.Errorf("unsupported mouse button %q", button)
}

type elementAtResult struct {
	Found   bool                `json:"found"`
	Element selector.Descriptor `json:"element"`
}

// ElementAt describes the element at page coordinates, with its inferred
// selector. It returns nil without error when nothing is there or the page
// could not be queried; only a missing session is an error.
func (s *Session) ElementAt(ctx context.Context, x, y float64) (*selector.Descriptor, error) {
	var res elementAtResult
	script := fmt.Sprintf(elementAtScript, x, y, elementTextLimit)
	err := s.run(ctx, chromedp.Evaluate(script, &res))
	recordCommand("element_at", err)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		s.logger.Debug("elementAt query failed; treating as no element.", zap.Error(err))
		return nil, nil
	}
	if !res.Found {
		return nil, nil
	}
	d := selector.WithSelector(res.Element)
	return &d, nil
}

// Highlight draws the transient overlay around r. Failures are ignored.
func (s *Session) Highlight(ctx context.Context, r selector.Rect) {
	script := selector.HighlightScript(r, selector.DefaultHighlightDuration)
	if err := s.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		s.logger.Debug("Highlight failed.", zap.Error(err))
	}
}

// Screenshot captures the visible page, waiting for the command slot.
// A transient capture failure returns ErrNoFrame.
func (s *Session) Screenshot(ctx context.Context, format FrameFormat) ([]byte, error) {
	if err := s.acquire(ctx); err != nil {
		recordCommand("screenshot", err)
		return nil, err
	}
	defer s.release()
	return s.captureLocked(ctx, format)
}

// Frame captures the page only if no other command is in flight. It returns
// ErrBusy instead of waiting, so frame pushes never delay queued input.
func (s *Session) Frame(ctx context.Context, format FrameFormat) ([]byte, error) {
	if err := s.tryAcquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.captureLocked(ctx, format)
}

func (s *Session) captureLocked(ctx context.Context, format FrameFormat) ([]byte, error) {
	var buf []byte
	err := s.runLocked(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = format.capture().Do(c)
		return err
	}))
	recordCommand("screenshot", err)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	if len(buf) == 0 {
		return nil, ErrNoFrame
	}
	return buf, nil
}
