// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Field identifies a form control by the labels an operator sees next to it.
type Field struct {
	Name   string
	Type   string
	Labels []string
}

// Typing controls how text is entered into fields.
type Typing struct {
	Human    bool
	MinDelay time.Duration
	MaxDelay time.Duration
}

func (t Typing) delay() time.Duration {
	if t.MaxDelay <= t.MinDelay {
		return t.MinDelay
	}
	return t.MinDelay + rand.N(t.MaxDelay-t.MinDelay)
}

var refCounter atomic.Uint64

func nextRef() string {
	return strconv.FormatUint(refCounter.Add(1), 36)
}

func refSelector(ref string) string {
	return fmt.Sprintf(`[%s="%s"]`, refAttribute, ref)
}

// Fill locates a field by its labels and enters value. Checkboxes and radios
// are set from the value's truthiness; selects pick a matching option.
func (s *Session) Fill(ctx context.Context, field Field, value string, checked bool, typing Typing) (err error) {
	defer func() { recordCommand("fill", err) }()
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	ref := nextRef()
	var found string
	script := fmt.Sprintf(locateFieldScript, jsLiteral(field.Labels), jsLiteral(refAttribute), jsLiteral(ref))
	if err := s.runLocked(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return fmt.Errorf("failed to locate field %q: %w", field.Name, err)
	}
	if found == "" {
		return &ElementError{Target: fmt.Sprintf("field %q (labels: %s)", field.Name, strings.Join(field.Labels, ", "))}
	}
	defer s.clearRef(ctx, ref)
	sel := refSelector(ref)

	switch strings.ToLower(field.Type) {
	case "checkbox", "radio":
		var ok bool
		if err := s.runLocked(ctx, chromedp.Evaluate(fmt.Sprintf(setCheckedScript, jsLiteral(sel), jsLiteral(checked)), &ok)); err != nil {
			return err
		}
		if !ok {
			return &ElementError{Target: field.Name}
		}
		return nil
	case "select":
		var ok bool
		if err := s.runLocked(ctx, chromedp.Evaluate(fmt.Sprintf(selectOptionScript, jsLiteral(sel), jsLiteral(value)), &ok)); err != nil {
			return err
		}
		if !ok {
			return &ElementError{Target: fmt.Sprintf("option %q of field %q", value, field.Name)}
		}
		return nil
	}

	if err := s.runLocked(ctx, chromedp.Evaluate(fmt.Sprintf(clearFieldScript, jsLiteral(sel)), nil)); err != nil {
		return err
	}
	if !typing.Human {
		return s.runLocked(ctx, chromedp.SendKeys(sel, value, chromedp.ByQuery))
	}
	for _, r := range value {
		if err := s.runLocked(ctx, chromedp.SendKeys(sel, string(r), chromedp.ByQuery)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(typing.delay()):
		}
	}
	return nil
}

// Click clicks the element matched by target, read first as a CSS selector and
// then as visible text of a button, link or submit input.
func (s *Session) Click(ctx context.Context, target string) (err error) {
	defer func() { recordCommand("click", err) }()
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	ref := nextRef()
	var found string
	script := fmt.Sprintf(locateClickableScript, jsLiteral(target), jsLiteral(refAttribute), jsLiteral(ref))
	if err := s.runLocked(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return fmt.Errorf("failed to locate click target %q: %w", target, err)
	}
	if found == "" {
		return &ElementError{Target: target}
	}
	defer s.clearRef(ctx, ref)
	return s.runLocked(ctx, chromedp.Click(refSelector(ref), chromedp.ByQuery))
}

// clearRef strips the ref attribute once a command is done with the element.
// A click may have navigated away, so failures are only logged.
func (s *Session) clearRef(ctx context.Context, ref string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	script := fmt.Sprintf(clearRefScript, jsLiteral(refAttribute), jsLiteral(ref))
	if err := s.runLocked(cctx, chromedp.Evaluate(script, nil)); err != nil {
		s.logger.Debug("Could not clear element ref.", zap.String("ref", ref), zap.Error(err))
	}
}

// SelectorVisible reports whether sel matches a rendered element.
func (s *Session) SelectorVisible(ctx context.Context, sel string) (bool, error) {
	var ok bool
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(selectorVisibleScript, jsLiteral(sel)), &ok))
	return ok, err
}

// TextPresent reports whether the page's rendered text contains text.
func (s *Session) TextPresent(ctx context.Context, text string) (bool, error) {
	var ok bool
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(textPresentScript, jsLiteral(text)), &ok))
	return ok, err
}

// Location returns the page's current URL and title.
func (s *Session) Location(ctx context.Context) (url, title string, err error) {
	err = s.run(ctx, chromedp.Location(&url), chromedp.Title(&title))
	if err != nil {
		s.logger.Debug("Could not read page location.", zap.Error(err))
	}
	return url, title, err
}
