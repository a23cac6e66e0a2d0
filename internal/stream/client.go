// internal/stream/client.go
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// Session is the part of a browser session the stream drives.
type Session interface {
	ID() string
	Viewport() browser.Viewport
	Done() <-chan struct{}
	Frame(ctx context.Context, format browser.FrameFormat) ([]byte, error)
	ClickAt(ctx context.Context, x, y float64, button string) error
	Navigate(ctx context.Context, url string) error
}

// Client pumps frames to one observer and executes its commands against one
// session.
type Client struct {
	conn    *websocket.Conn
	session Session
	cfg     config.StreamConfig
	format  browser.FrameFormat
	logger  *zap.Logger

	// Buffered channel of outbound messages.
	send chan []byte
}

func newClient(conn *websocket.Conn, s Session, cfg config.StreamConfig, logger *zap.Logger) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 1
	}
	return &Client{
		conn:    conn,
		session: s,
		cfg:     cfg,
		format:  browser.FrameFormat{Quality: cfg.FrameQuality},
		logger:  observability.ForSession(logger, s.ID()),
		send:    make(chan []byte, buf),
	}
}

func (c *Client) pingPeriod() time.Duration { return (c.cfg.PongWait * 9) / 10 }

// run serves the connection until the observer leaves, asks to close, or the
// session dies.
func (c *Client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pumps errgroup.Group
	pumps.Go(func() error {
		defer cancel()
		c.framePump(ctx)
		return nil
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump(ctx)

	cancel()
	_ = pumps.Wait()
	close(c.send)
	<-writerDone
}

// readPump executes observer commands in arrival order. It returns when the
// connection fails or the observer sends close.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	// Unblock ReadMessage when the frame pump sees the session die.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				c.logger.Warn("Stream read error.", zap.Error(err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.logger.Debug("Ignoring malformed stream message.", zap.ByteString("message", message), zap.Error(err))
			continue
		}
		if cmd.Type == TypeClose {
			c.logger.Debug("Observer requested close.")
			return
		}
		if err := c.execute(ctx, cmd); err != nil {
			if errors.Is(err, browser.ErrSessionNotFound) {
				c.closeWith(websocket.ClosePolicyViolation, CloseSessionNotFound)
				return
			}
			c.logger.Info("Stream command failed.", zap.String("type", cmd.Type), zap.Error(err))
			c.enqueueError(err)
		}
	}
}

func (c *Client) execute(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case TypeClick:
		x, y, ok := MapCoordinates(cmd.X, cmd.Y, cmd.Width, cmd.Height, c.session.Viewport())
		if !ok {
			c.logger.Debug("Dropping click from a zero-sized observer surface.")
			return nil
		}
		return c.session.ClickAt(ctx, x, y, cmd.Button)
	case TypeNavigate:
		return c.session.Navigate(ctx, cmd.URL)
	default:
		c.logger.Debug("Ignoring unknown stream command.", zap.String("type", cmd.Type))
		return nil
	}
}

// framePump pushes frames at a bounded rate. A frame that does not fit in the
// send buffer is dropped; commands are never delayed by it.
func (c *Client) framePump(ctx context.Context) {
	burst := c.cfg.FrameBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Every(c.cfg.FrameInterval), burst)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-c.session.Done():
			c.closeWith(websocket.ClosePolicyViolation, CloseSessionNotFound)
			return
		default:
		}

		img, err := c.session.Frame(ctx, c.format)
		switch {
		case err == nil:
		case errors.Is(err, browser.ErrSessionNotFound):
			c.closeWith(websocket.ClosePolicyViolation, CloseSessionNotFound)
			return
		default:
			// Busy or mid-navigation; try again on the next tick.
			observability.StreamFrames.WithLabelValues("skipped").Inc()
			continue
		}

		msg, err := encodeFrame(img, c.format.MimeType())
		if err != nil {
			c.logger.Error("Failed to encode frame.", zap.Error(err))
			continue
		}
		select {
		case c.send <- msg:
			observability.StreamFrames.WithLabelValues("sent").Inc()
		default:
			observability.StreamFrames.WithLabelValues("dropped").Inc()
		}
	}
}

// writePump drains the send buffer to the connection and keeps it alive
// with pings. It returns once send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod())
	defer ticker.Stop()
	broken := false
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			if broken {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("Stream write failed.", zap.Error(err))
				broken = true
				_ = c.conn.SetReadDeadline(time.Now())
			}
		case <-ticker.C:
			if broken {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				broken = true
				_ = c.conn.SetReadDeadline(time.Now())
			}
		}
	}
}

func (c *Client) enqueueError(err error) {
	msg, mErr := json.Marshal(ErrorMessage{Type: TypeError, Message: err.Error()})
	if mErr != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// closeWith sends a close frame. WriteControl is safe to call concurrently
// with the write pump.
func (c *Client) closeWith(code int, reason string) {
	deadline := time.Now().Add(c.cfg.WriteWait)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
