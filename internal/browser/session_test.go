// internal/browser/session_test.go
package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
)

const testTimeout = 45 * time.Second

const formPage = `<html><body style="margin:0">
<form>
  <label for="email">Email address</label>
  <input id="email" name="user_email" type="email" style="position:absolute;left:10px;top:40px;width:200px;height:30px">
  <label>Remember me <input type="checkbox" name="remember"></label>
  <select name="country"><option value="id">Indonesia</option><option value="nl">Netherlands</option></select>
  <button type="button" class="btn primary" onclick="document.getElementById('out').textContent='Saved!'"
    style="position:absolute;left:10px;top:100px;width:120px;height:30px">Save</button>
</form>
<div id="out"></div>
</body></html>`

// requireChrome skips the test when no Chrome binary is installed.
func requireChrome(t *testing.T) {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("chrome not installed")
}

type fixture struct {
	Manager *browser.Manager
	Session *browser.Session
	Server  *httptest.Server
	Ctx     context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	requireChrome(t)

	cfg := config.NewDefaultConfig()
	cfg.SetBrowserHeadless(true)
	m := browser.NewManager(cfg.Browser(), zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)

	s, err := m.Create(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, formPage)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Shutdown(shutdownCtx)
	})

	require.NoError(t, s.Navigate(ctx, srv.URL))
	return &fixture{Manager: m, Session: s, Server: srv, Ctx: ctx}
}

func TestSession_ElementAt(t *testing.T) {
	f := newFixture(t)

	d, err := f.Manager.ElementAt(f.Ctx, f.Session.ID(), 50, 55)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "#email", d.Selector)
	assert.Equal(t, "input", d.Tag)
	assert.Equal(t, "Email address", d.Label)
	require.NotNil(t, d.Rect)
	assert.InDelta(t, 200, d.Rect.Width, 1)

	d, err = f.Manager.ElementAt(f.Ctx, f.Session.ID(), 60, 110)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, ".btn.primary", d.Selector)
	assert.Equal(t, "Save", d.Text)

	d, err = f.Manager.ElementAt(f.Ctx, f.Session.ID(), -10, -10)
	assert.NoError(t, err)
	assert.Nil(t, d, "no element outside the viewport")
}

func TestSession_Screenshot(t *testing.T) {
	f := newFixture(t)

	img, err := f.Manager.Screenshot(f.Ctx, f.Session.ID())
	require.NoError(t, err)
	require.True(t, len(img) > 8)
	assert.Equal(t, []byte("\x89PNG"), img[:4])
}

func TestSession_FillAndClick(t *testing.T) {
	f := newFixture(t)
	s := f.Session

	require.NoError(t, s.Fill(f.Ctx, browser.Field{Name: "email", Labels: []string{"Email address"}}, "a@b.c", false, browser.Typing{}))
	require.NoError(t, s.Fill(f.Ctx, browser.Field{Name: "remember", Type: "checkbox", Labels: []string{"Remember me"}}, "", true, browser.Typing{}))
	require.NoError(t, s.Fill(f.Ctx, browser.Field{Name: "country", Type: "select", Labels: []string{"country"}}, "Netherlands", false, browser.Typing{}))

	visible, err := s.SelectorVisible(f.Ctx, "#email")
	require.NoError(t, err)
	assert.True(t, visible)

	require.NoError(t, s.Click(f.Ctx, "Save"))
	present, err := s.TextPresent(f.Ctx, "Saved!")
	require.NoError(t, err)
	assert.True(t, present)

	tagged, err := s.SelectorVisible(f.Ctx, "[data-formpilot-ref]")
	require.NoError(t, err)
	assert.False(t, tagged, "located elements are untagged after each command")

	err = s.Click(f.Ctx, "Does not exist")
	assert.ErrorIs(t, err, browser.ErrElementNotFound)

	err = s.Fill(f.Ctx, browser.Field{Name: "ghost", Labels: []string{"No such label"}}, "x", false, browser.Typing{})
	assert.ErrorIs(t, err, browser.ErrElementNotFound)

	url, _, err := s.Location(f.Ctx)
	require.NoError(t, err)
	assert.Contains(t, url, f.Server.URL)
}

func TestSession_ClickAtAndClose(t *testing.T) {
	f := newFixture(t)
	id := f.Session.ID()

	require.NoError(t, f.Manager.ClickAt(f.Ctx, id, 60, 110, "left"))
	present, err := f.Session.TextPresent(f.Ctx, "Saved!")
	require.NoError(t, err)
	assert.True(t, present)

	assert.Error(t, f.Manager.ClickAt(f.Ctx, id, 1, 1, "thumb"))

	require.NoError(t, f.Manager.Close(f.Ctx, id))
	require.NoError(t, f.Manager.Close(f.Ctx, id))
	assert.ErrorIs(t, f.Manager.Navigate(f.Ctx, id, f.Server.URL), browser.ErrSessionNotFound)
	assert.ErrorIs(t, f.Session.Navigate(f.Ctx, f.Server.URL), browser.ErrSessionNotFound)
}

func TestSession_NavigationError(t *testing.T) {
	f := newFixture(t)

	err := f.Session.Navigate(f.Ctx, "http://127.0.0.1:1/")
	var navErr *browser.NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, "http://127.0.0.1:1/", navErr.URL)
}
