package server

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousuf/failfast/internal/config"
	"github.com/yousuf/failfast/internal/logger"
	"github.com/yousuf/failfast/internal/session"
)

const testMap = `{"version":3,"file":"bundle.js","sources":["src/app.ts"],"names":["render"],"mappings":"AAAAA;AACA"}`

// connect starts an in-process server and returns a connected client session
func connect(t *testing.T) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Sandbox.WorkspaceDir = t.TempDir()
	mgr := session.NewManager(cfg, logger.Discard())
	t.Cleanup(func() { _ = mgr.CloseAll() })

	server := NewMcpServer(mgr, Options{Logger: logger.Discard().Logger})
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "failfast-test-client",
		Version: "1.0.0",
	}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestListTools(t *testing.T) {
	cs := connect(t)

	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"execute_code",
		"report_error",
		"register_source_map",
		"press_key",
		"get_overlay",
		"reload",
	}, names)
}

func TestReportErrorResolvesFrames(t *testing.T) {
	cs := connect(t)

	res := call(t, cs, "register_source_map", map[string]any{"fileName": "bundle.js", "sourceMap": testMap})
	require.False(t, res.IsError, text(t, res))

	res = call(t, cs, "report_error", map[string]any{
		"name":    "TypeError",
		"message": "x is undefined",
		"stack":   "TypeError: x is undefined\n    at t (bundle.js:1:1)\n    at u (other.js:5:2)",
	})
	require.False(t, res.IsError, text(t, res))

	out := text(t, res)
	assert.Contains(t, out, "TypeError: x is undefined")
	assert.Contains(t, out, "at render (src/app.ts:1)")
	assert.Contains(t, out, "at u (other.js:5:2)")
	assert.Less(t, strings.Index(out, "src/app.ts"), strings.Index(out, "other.js"))
}

func TestRejectionThenEscape(t *testing.T) {
	cs := connect(t)

	res := call(t, cs, "report_error", map[string]any{"rejection": true, "value": "boom"})
	assert.Contains(t, text(t, res), "Unhandled Rejection (Error): boom")

	res = call(t, cs, "press_key", map[string]any{"key": "Enter"})
	assert.Contains(t, text(t, res), "boom")

	res = call(t, cs, "press_key", map[string]any{"key": "Escape"})
	assert.Equal(t, noOverlay, text(t, res))

	res = call(t, cs, "get_overlay", map[string]any{})
	assert.Equal(t, noOverlay, text(t, res))
}

func TestGetOverlayHTML(t *testing.T) {
	cs := connect(t)

	call(t, cs, "report_error", map[string]any{"name": "RangeError", "message": "bad"})

	res := call(t, cs, "get_overlay", map[string]any{"format": "html"})
	page := text(t, res)
	assert.Contains(t, page, `id="failfast-overlay"`)
	assert.Contains(t, page, "RangeError: bad")

	res = call(t, cs, "get_overlay", map[string]any{"format": "terminal"})
	assert.Contains(t, text(t, res), "RangeError: bad")
}

func TestReloadRemovesOverlay(t *testing.T) {
	cs := connect(t)

	call(t, cs, "report_error", map[string]any{"name": "Error", "message": "first"})
	call(t, cs, "reload", map[string]any{})

	res := call(t, cs, "get_overlay", map[string]any{})
	assert.Equal(t, noOverlay, text(t, res))

	res = call(t, cs, "report_error", map[string]any{"name": "Error", "message": "second"})
	assert.Contains(t, text(t, res), "Error: second")
}

func TestRegisterSourceMapRejectsInvalid(t *testing.T) {
	cs := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "register_source_map",
		Arguments: map[string]any{"fileName": "bundle.js", "sourceMap": "not a map"},
	})
	if err == nil {
		assert.True(t, res.IsError)
	}
}

func TestRegisterSourceMapEmptyRemoves(t *testing.T) {
	cs := connect(t)

	res := call(t, cs, "register_source_map", map[string]any{"fileName": "bundle.js", "sourceMap": testMap})
	require.False(t, res.IsError, text(t, res))

	res = call(t, cs, "register_source_map", map[string]any{"fileName": "bundle.js"})
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "Source map removed for bundle.js", text(t, res))

	res = call(t, cs, "report_error", map[string]any{
		"name":    "TypeError",
		"message": "x is undefined",
		"stack":   "TypeError: x is undefined\n    at t (bundle.js:1:1)",
	})
	out := text(t, res)
	assert.Contains(t, out, "at t (bundle.js:1:1)")
	assert.NotContains(t, out, "src/app.ts")
}
