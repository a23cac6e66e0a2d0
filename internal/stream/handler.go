// internal/stream/handler.go
package stream

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// AcquireFunc leases a session to a stream. release must be called exactly
// once when the stream ends.
type AcquireFunc func(sessionID string) (s Session, release func(), err error)

// Handler upgrades HTTP requests into per-session streams.
type Handler struct {
	acquire  AcquireFunc
	cfg      config.StreamConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds a stream handler. An empty origins list accepts any origin.
func NewHandler(acquire AcquireFunc, cfg config.StreamConfig, origins []string, logger *zap.Logger) *Handler {
	h := &Handler{
		acquire: acquire,
		cfg:     cfg,
		logger:  logger.Named("stream"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// Serve streams the session named sessionID over the upgraded connection.
// When the stream ends the session's lease is released.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Stream upgrade failed.", zap.Error(err))
		return
	}
	defer conn.Close()

	s, release, err := h.acquire(sessionID)
	if err != nil {
		h.logger.Info("Stream requested for unknown session.", observability.SessionID(sessionID), zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, CloseSessionNotFound)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
		return
	}
	defer release()

	observability.StreamObservers.Inc()
	defer observability.StreamObservers.Dec()

	h.logger.Info("Observer connected.", observability.SessionID(sessionID))
	newClient(conn, s, h.cfg, h.logger).run(r.Context())
	h.logger.Info("Observer disconnected.", observability.SessionID(sessionID))
}
