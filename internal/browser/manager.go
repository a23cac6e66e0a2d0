// internal/browser/manager.go
package browser

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/selector"
)

type launchFunc func(ctx context.Context, id string) (*Session, error)

type entry struct {
	session *Session
	// refs counts stream consumers holding the session. When the last one
	// releases, the session is closed.
	refs int
}

// Manager is the registry of live sessions. It is created at process start
// and torn down with Shutdown; every lookup is keyed by session id.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
	closed   bool

	launch launchFunc
}

// NewManager creates an empty session registry.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("session_manager"),
		sessions: make(map[string]*entry),
	}
	m.launch = func(ctx context.Context, id string) (*Session, error) {
		return launchSession(ctx, id, m.cfg, m.logger)
	}
	return m
}

// Create launches a new session and returns it. The session stays registered
// until Close, Shutdown, or its browser process dies.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}

	id := uuid.NewString()
	s, err := m.launch(ctx, id)
	if err != nil {
		m.logger.Error("Failed to create browser session.", zap.Error(err))
		return nil, err
	}
	s.onClose = func() { m.forget(id) }

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.Close(context.Background())
		return nil, ErrManagerClosed
	}
	m.sessions[id] = &entry{session: s}
	m.mu.Unlock()

	observability.ActiveSessions.Inc()
	m.logger.Info("Browser session created.", observability.SessionID(id))
	return s, nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		observability.ActiveSessions.Dec()
	}
}

// Get returns the live session registered under id. Sessions whose page or
// process is gone are dropped from the registry and reported as not found.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !e.session.Alive() {
		m.logger.Debug("Dropping dead session.", observability.SessionID(id))
		_ = e.session.Close(context.Background())
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Navigate loads url in the session's page.
func (m *Manager) Navigate(ctx context.Context, id, url string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Navigate(ctx, url)
}

// ClickAt clicks at page coordinates in the session's page.
func (m *Manager) ClickAt(ctx context.Context, id string, x, y float64, button string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.ClickAt(ctx, x, y, button)
}

// ElementAt describes the element under the point and highlights it. A nil
// descriptor with a nil error means nothing was there.
func (m *Manager) ElementAt(ctx context.Context, id string, x, y float64) (*selector.Descriptor, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	d, err := s.ElementAt(ctx, x, y)
	if err != nil || d == nil {
		return d, err
	}
	if d.Rect != nil {
		s.Highlight(ctx, *d.Rect)
	}
	return d, nil
}

// Screenshot captures the session's page as PNG.
func (m *Manager) Screenshot(ctx context.Context, id string) ([]byte, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Screenshot(ctx, FrameFormat{})
}

// Close terminates the session. Unknown ids are not an error.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	m.logger.Info("Closing browser session.", observability.SessionID(id))
	return e.session.Close(ctx)
}

// Acquire leases the session to a stream consumer. Calling release drops the
// lease; the session is closed when its last lease is released.
func (m *Manager) Acquire(id string) (*Session, func(), error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, nil, ErrSessionNotFound
	}
	e.refs++
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			e.refs--
			last := e.refs <= 0
			m.mu.Unlock()
			if last {
				m.logger.Debug("Last stream consumer left; closing session.", observability.SessionID(id))
				_ = s.Close(context.Background())
			}
		})
	}
	return s, release, nil
}

// Shutdown closes every session and rejects further Create calls.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down session manager.", zap.Int("sessions", len(sessions)))
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error { return s.Close(gctx) })
	}
	return g.Wait()
}
