// internal/browser/errors.go
package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown session ids and for sessions
	// whose browser process or page is gone.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoFrame means a screenshot could not be taken right now (for example
	// mid-navigation). Callers are expected to retry.
	ErrNoFrame = errors.New("frame unavailable")
	// ErrBusy is returned by non-blocking commands when another command is in flight.
	ErrBusy = errors.New("session busy")
	// ErrElementNotFound means a selector, label or text target matched nothing on the page.
	ErrElementNotFound = errors.New("element not found")
	// ErrDialogHandling wraps failures to arm or answer a JavaScript dialog.
	ErrDialogHandling = errors.New("dialog handling failed")
	// ErrManagerClosed is returned by Create after Shutdown.
	ErrManagerClosed = errors.New("session manager is shut down")
)

// NavigationError reports an unreachable or rejected navigation target.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ElementError attaches the unresolved target to ErrElementNotFound.
type ElementError struct {
	Target string
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("element not found: %s", e.Target)
}

func (e *ElementError) Is(target error) bool { return target == ErrElementNotFound }
