// internal/stream/protocol.go
package stream

import (
	"encoding/base64"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/formpilot/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message types exchanged over the channel.
const (
	TypeScreenshot = "screenshot"
	TypeError      = "error"
	TypeClick      = "click"
	TypeNavigate   = "navigate"
	TypeClose      = "close"
)

// CloseSessionNotFound is the close reason sent when the requested session
// does not exist or has died.
const CloseSessionNotFound = "Session not found"

// Frame is pushed from server to observer.
type Frame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ErrorMessage reports a command that could not be carried out.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Command is sent by the observer. Click coordinates are in the observer's
// rendered surface, whose size is given by Width and Height.
type Command struct {
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Button string  `json:"button,omitempty"`
	URL    string  `json:"url,omitempty"`
}

// MapCoordinates rescales an observer-space point onto the page's native
// surface. ok is false when the observer surface has no area.
func MapCoordinates(x, y, observerWidth, observerHeight float64, page browser.Viewport) (px, py float64, ok bool) {
	if observerWidth <= 0 || observerHeight <= 0 {
		return 0, 0, false
	}
	scaleX := float64(page.Width) / observerWidth
	scaleY := float64(page.Height) / observerHeight
	return x * scaleX, y * scaleY, true
}

func encodeFrame(img []byte, mime string) ([]byte, error) {
	return json.Marshal(Frame{
		Type: TypeScreenshot,
		Data: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img),
	})
}
