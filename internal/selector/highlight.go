package selector

import (
	"fmt"
	"time"
)

// DefaultHighlightDuration is how long the highlight overlay stays on the page.
const DefaultHighlightDuration = 1500 * time.Millisecond

const highlightTemplate = `(() => {
  const box = document.createElement("div");
  box.setAttribute("data-formpilot-highlight", "");
  Object.assign(box.style, {
    position: "fixed",
    left: "%[1]fpx",
    top: "%[2]fpx",
    width: "%[3]fpx",
    height: "%[4]fpx",
    border: "2px solid #ff3b30",
    background: "rgba(255, 59, 48, 0.12)",
    pointerEvents: "none",
    zIndex: "2147483647",
  });
  (document.body || document.documentElement).appendChild(box);
  setTimeout(() => box.remove(), %[5]d);
  return true;
})()`

// HighlightScript returns a script that outlines r and removes the overlay
// after d. It never touches the element itself.
func HighlightScript(r Rect, d time.Duration) string {
	if d <= 0 {
		d = DefaultHighlightDuration
	}
	return fmt.Sprintf(highlightTemplate, r.X, r.Y, r.Width, r.Height, d.Milliseconds())
}
