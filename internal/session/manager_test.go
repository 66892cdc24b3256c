package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousuf/failfast/internal/config"
	"github.com/yousuf/failfast/internal/events"
	"github.com/yousuf/failfast/internal/jserror"
	"github.com/yousuf/failfast/internal/stackframe"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sandbox.WorkspaceDir = t.TempDir()
	cfg.Overlay.Styles.Overlay = map[string]string{"background-color": "rgb(0, 0, 120)"}
	return cfg
}

func TestGetOrCreateSessionReuses(t *testing.T) {
	m := NewManager(testConfig(t), nil)
	ctx := context.Background()

	a, err := m.GetOrCreateSession(ctx, "s1")
	require.NoError(t, err)
	b, err := m.GetOrCreateSession(ctx, "s1")
	require.NoError(t, err)
	c, err := m.GetOrCreateSession(ctx, "s2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, m.Count())
	assert.Same(t, a, m.GetSession("s1"))
	assert.Nil(t, m.GetSession("missing"))

	require.NoError(t, m.CloseAll())
	assert.Equal(t, 0, m.Count())
}

func TestSessionCrashMountsStyledOverlay(t *testing.T) {
	m := NewManager(testConfig(t), nil)
	s, err := m.GetOrCreateSession(context.Background(), "s1")
	require.NoError(t, err)

	s.Window.DispatchRejection(&events.RejectionEvent{Reason: "boom"})
	s.Controller.Wait()

	report, ok := s.View.Active()
	require.True(t, ok)
	assert.Equal(t, "Unhandled Rejection (Error)", report.Title)

	html, err := s.View.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, "rgb(0, 0, 120)")
	assert.NotContains(t, html, "rgb(200, 0, 0)")
}

func TestSessionReload(t *testing.T) {
	m := NewManager(testConfig(t), nil)
	s, err := m.GetOrCreateSession(context.Background(), "s1")
	require.NoError(t, err)
	first := s.Bindings()

	s.Window.DispatchError(events.ErrorEvent{Message: "Uncaught", Error: jserror.New("x")})
	s.Reload()

	_, ok := s.View.Active()
	assert.False(t, ok, "reload removes the overlay")
	assert.False(t, first.Installed())
	assert.True(t, s.Bindings().Installed())
	assert.Equal(t, 3, s.Window.ListenerCount())

	s.Window.DispatchError(events.ErrorEvent{Message: "Uncaught", Error: jserror.New("again")})
	s.Controller.Wait()
	report, ok := s.View.Active()
	require.True(t, ok)
	assert.Equal(t, "again", report.Message)
}

func TestDeleteSessionRemovesWorkspace(t *testing.T) {
	m := NewManager(testConfig(t), nil)
	s, err := m.GetOrCreateSession(context.Background(), "s1")
	require.NoError(t, err)

	_, err = os.Stat(s.WorkspaceDir)
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession("s1"))
	_, err = os.Stat(s.WorkspaceDir)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, s.Window.ListenerCount())

	assert.Error(t, m.DeleteSession("s1"))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Overlay.Title = "app"
	cfg.Overlay.Styles.Header = map[string]string{"font-size": "2rem"}
	cfg.Resolver.Concurrency = 4

	opts := OptionsFromConfig(cfg, nil)
	assert.Equal(t, "app", opts.Title)
	assert.Equal(t, 4, opts.Resolver.Concurrency)
	assert.Nil(t, opts.Resolver.Filter)
	assert.Contains(t, opts.Styles.Overlay.String(), "background-color: rgb(0, 0, 120)")
	assert.Equal(t, "font-size: 2rem; font-weight: bold;", opts.Styles.Header.String())
	assert.Empty(t, opts.WorkspaceDir)

	cfg.Resolver.HideNative = true
	opts = OptionsFromConfig(cfg, nil)
	require.NotNil(t, opts.Resolver.Filter)
	assert.False(t, opts.Resolver.Filter(stackframe.Frame{FileName: "native", IsNative: true}))
	assert.True(t, opts.Resolver.Filter(stackframe.Frame{FileName: "app.js", LineNumber: 1}))
}

func TestSessionRemoteFetchHonorsHTTPTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.SourceMaps.Remote = true
	cfg.SourceMaps.HTTPTimeout = 50 * time.Millisecond

	m := NewManager(cfg, nil)
	s, err := m.GetOrCreateSession(context.Background(), "s1")
	require.NoError(t, err)
	defer m.CloseAll()

	fileName := srv.URL + "/static/app.js"
	thrown := &jserror.Error{
		Name:    "Error",
		Message: "slow",
		Stack:   "Error: slow\n    at run (" + fileName + ":3:7)",
	}
	s.Window.DispatchError(events.ErrorEvent{Message: "Uncaught " + thrown.Error(), Error: thrown})
	s.Controller.Wait()

	report, ok := s.View.Active()
	require.True(t, ok)
	require.Len(t, report.Frames, 1)
	assert.Equal(t, fileName, report.Frames[0].FileName)
	assert.Equal(t, 3, report.Frames[0].LineNumber)
}
