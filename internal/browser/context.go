// internal/browser/context.go
package browser

import (
	"context"
)

// CombineContext returns a context derived from primary (which carries the
// chromedp target) that is also canceled when secondary is done.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
