// internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/selector"
)

type click struct {
	id     string
	x, y   float64
	button string
}

type fakeSessions struct {
	mu      sync.Mutex
	live    map[string]bool
	clicks  []click
	navs    []string
	shotErr error
	element *selector.Descriptor
}

func newFakeSessions(ids ...string) *fakeSessions {
	f := &fakeSessions{live: map[string]bool{}}
	for _, id := range ids {
		f.live[id] = true
	}
	return f
}

func (f *fakeSessions) check(id string) error {
	if !f.live[id] {
		return browser.ErrSessionNotFound
	}
	return nil
}

func (f *fakeSessions) Open(ctx context.Context) (string, browser.Viewport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live["s-new"] = true
	return "s-new", browser.Viewport{Width: 1280, Height: 720}, nil
}

func (f *fakeSessions) Close(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, id)
	return nil
}

func (f *fakeSessions) Navigate(ctx context.Context, id, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(id); err != nil {
		return err
	}
	f.navs = append(f.navs, url)
	return nil
}

func (f *fakeSessions) ClickAt(ctx context.Context, id string, x, y float64, button string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(id); err != nil {
		return err
	}
	f.clicks = append(f.clicks, click{id, x, y, button})
	return nil
}

func (f *fakeSessions) ElementAt(ctx context.Context, id string, x, y float64) (*selector.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(id); err != nil {
		return nil, err
	}
	return f.element, nil
}

func (f *fakeSessions) Screenshot(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(id); err != nil {
		return nil, err
	}
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return []byte("\x89PNG"), nil
}

func newTestServer(t *testing.T, cfg config.ServerConfig, sessions Sessions) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(cfg, sessions, nil, zaptest.NewLogger(t)).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, header http.Header) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSessionLifecycle(t *testing.T) {
	fake := newFakeSessions()
	srv := newTestServer(t, config.ServerConfig{}, fake)

	resp := do(t, http.MethodPost, srv.URL+"/sessions", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created createResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, createResponse{SessionID: "s-new", Width: 1280, Height: 720}, created)

	resp = do(t, http.MethodPost, srv.URL+"/sessions/s-new/navigate", `{"url":"https://example.com/form"}`, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"https://example.com/form"}, fake.navs)

	resp = do(t, http.MethodPost, srv.URL+"/sessions/s-new/click", `{"x":10.5,"y":20}`, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []click{{"s-new", 10.5, 20, ""}}, fake.clicks)

	resp = do(t, http.MethodDelete, srv.URL+"/sessions/s-new", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodDelete, srv.URL+"/sessions/s-new", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "closing twice is not an error")

	resp = do(t, http.MethodPost, srv.URL+"/sessions/s-new/click", `{"x":1,"y":1}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{}, newFakeSessions("s1"))

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/sessions/s1/navigate", `{}`, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/sessions/s1/navigate", "", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/sessions/s1/click", `{"x":`, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/sessions/s1/element?x=a&y=1", "", nil).StatusCode)
}

func TestElementAt(t *testing.T) {
	fake := newFakeSessions("s1")
	srv := newTestServer(t, config.ServerConfig{}, fake)

	resp := do(t, http.MethodGet, srv.URL+"/sessions/s1/element?x=5&y=5", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "no element under the point")

	fake.element = &selector.Descriptor{Selector: "#email", Tag: "input", ID: "email", Type: "email"}
	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/element?x=5&y=5", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var d selector.Descriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	assert.Equal(t, "#email", d.Selector)

	resp = do(t, http.MethodGet, srv.URL+"/sessions/nope/element?x=5&y=5", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScreenshot(t *testing.T) {
	fake := newFakeSessions("s1")
	srv := newTestServer(t, config.ServerConfig{}, fake)

	resp := do(t, http.MethodGet, srv.URL+"/sessions/s1/screenshot", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	fake.shotErr = browser.ErrNoFrame
	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/screenshot", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/sessions/missing/screenshot", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func sign(t *testing.T, method jwt.SigningMethod, secret string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestBearerAuth(t *testing.T) {
	const secret = "s3cret"
	srv := newTestServer(t, config.ServerConfig{JWTSecret: secret}, newFakeSessions("s1"))
	url := srv.URL + "/sessions/s1/screenshot"
	bearer := func(tok string) http.Header { return http.Header{"Authorization": {"Bearer " + tok}} }

	resp := do(t, http.MethodGet, url, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("WWW-Authenticate"), "Bearer"))

	valid := sign(t, jwt.SigningMethodHS256, secret, time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, url, "", bearer(valid)).StatusCode)

	expired := sign(t, jwt.SigningMethodHS256, secret, time.Now().Add(-time.Hour))
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, url, "", bearer(expired)).StatusCode)

	wrongKey := sign(t, jwt.SigningMethodHS256, "other", time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, url, "", bearer(wrongKey)).StatusCode)

	wrongAlg := sign(t, jwt.SigningMethodHS512, secret, time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, url, "", bearer(wrongAlg)).StatusCode)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/healthz", "", nil).StatusCode, "health is public")
}

func TestBearerTokenSources(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/sessions/s1/stream?access_token=abc", nil)
	assert.Empty(t, bearerToken(r), "query tokens are only read for websocket upgrades")

	r.Header.Set("Upgrade", "websocket")
	assert.Equal(t, "abc", bearerToken(r))

	r.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", bearerToken(r))

	r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	assert.Empty(t, bearerToken(r))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{}, newFakeSessions())
	resp := do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "formpilot_")
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(config.ServerConfig{Listen: "127.0.0.1:0", ShutdownTimeout: time.Second}, newFakeSessions(), nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
