package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yousuf/failfast/internal/bundler"
	"github.com/yousuf/failfast/internal/events"
	"github.com/yousuf/failfast/internal/jserror"
	"github.com/yousuf/failfast/internal/overlay"
	"github.com/yousuf/failfast/internal/sandbox"
	"github.com/yousuf/failfast/internal/session"
)

const noOverlay = "No crash overlay is mounted."

// ExecuteCodeArgs represents the arguments for the execute_code tool
type ExecuteCodeArgs struct {
	Code string `json:"code" jsonschema:"TypeScript code to execute in sandbox. Must define an exec() function."`
}

// ReportErrorArgs represents the arguments for the report_error tool
type ReportErrorArgs struct {
	Rejection bool   `json:"rejection,omitempty" jsonschema:"Report as an unhandled promise rejection instead of an uncaught error"`
	Name      string `json:"name,omitempty" jsonschema:"Error name, e.g. TypeError. Omit together with message and stack to report a non-Error value."`
	Message   string `json:"message,omitempty" jsonschema:"Error message"`
	Stack     string `json:"stack,omitempty" jsonschema:"Error stack as produced by the JavaScript engine"`
	Value     any    `json:"value,omitempty" jsonschema:"A thrown or rejected value that is not an Error (string, number, object)"`
}

// RegisterSourceMapArgs represents the arguments for the register_source_map tool
type RegisterSourceMapArgs struct {
	FileName  string `json:"fileName" jsonschema:"Generated script file name or URL the map belongs to"`
	SourceMap string `json:"sourceMap,omitempty" jsonschema:"Source map JSON (version 3). Empty removes the registered map."`
}

// PressKeyArgs represents the arguments for the press_key tool
type PressKeyArgs struct {
	Key     string `json:"key,omitempty" jsonschema:"Key name, e.g. Escape"`
	KeyCode int    `json:"keyCode,omitempty" jsonschema:"Legacy numeric key code, e.g. 27"`
}

// GetOverlayArgs represents the arguments for the get_overlay tool
type GetOverlayArgs struct {
	Format string `json:"format,omitempty" jsonschema:"text (default), html or terminal"`
}

// ReloadArgs represents the arguments for the reload tool
type ReloadArgs struct{}

// Options configures the MCP server
type Options struct {
	WasmPath string
	Logger   *slog.Logger
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// overlayText waits for pending crashes and returns the visible overlay
func overlayText(s *session.Context) string {
	s.Controller.Wait()
	if _, ok := s.View.Active(); !ok {
		return noOverlay
	}
	return s.View.Text()
}

// NewMcpServer creates and configures the MCP server
func NewMcpServer(sessionMgr *session.Manager, opts Options) *mcp.Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "failfast",
		Version: "1.0.0",
	}, &mcp.ServerOptions{
		Instructions: `
Crash Overlay for Sandboxed JavaScript

Each session is a simulated page. Uncaught errors and unhandled promise
rejections raised on the page are resolved against source maps and shown
as a full-screen crash overlay. Only one overlay is shown at a time; a
newer crash replaces an older one.

Available Tools:
1. "execute_code" - Bundle and run TypeScript; a throw crashes the page
2. "report_error" - Report an error or rejection captured elsewhere
3. "register_source_map" - Provide the source map for a generated file
4. "press_key" - Send a key press; Escape dismisses the overlay
5. "get_overlay" - Read the overlay as text, as the page HTML or as a terminal screen
6. "reload" - Hot reload the page: removes the overlay and re-installs the handlers
`,
	})

	server.AddReceivingMiddleware(createSessionInjectionMiddleware(sessionMgr))
	server.AddReceivingMiddleware(createLoggingMiddleware(logger))

	mcp.AddTool(server, &mcp.Tool{
		Name: "execute_code",
		Description: `Execute TypeScript code in a sandboxed page.

REQUIRED: Your code must define a function named "exec()" as the entry point.

    async function exec() {
        return { ok: true };
    }

If exec() throws or its promise rejects, the page crashes and the tool
returns the crash overlay with source-mapped frames.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ExecuteCodeArgs) (*mcp.CallToolResult, any, error) {
		sessionCtx, err := getSessionFromContext(ctx)
		if err != nil {
			return nil, nil, err
		}

		b, err := bundler.New()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create bundler: %w", err)
		}

		codeWithCaller := fmt.Sprintf(`%s
exec();
`, args.Code)
		bundledCode, sourceMap, err := b.Bundle(sessionCtx.WorkspaceDir, codeWithCaller)
		if err != nil {
			return nil, nil, fmt.Errorf("bundling failed: %w", err)
		}

		sb, err := sandbox.NewSandbox(ctx, opts.WasmPath, sessionCtx.Window, sessionCtx.Store, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sandbox: %w", err)
		}
		defer sb.Close()

		result, err := sb.ExecuteCode(bundledCode, sourceMap)
		if err != nil {
			return nil, nil, fmt.Errorf("execution failed: %w", err)
		}

		if result.Crashed {
			res := textResult(overlayText(sessionCtx))
			res.IsError = true
			return res, nil, nil
		}
		return textResult(result.Output), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "report_error",
		Description: "Report an uncaught error or unhandled rejection to the session's page. Returns the resulting crash overlay.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ReportErrorArgs) (*mcp.CallToolResult, any, error) {
		sessionCtx, err := getSessionFromContext(ctx)
		if err != nil {
			return nil, nil, err
		}

		ev := sandbox.GuestEvent{Type: sandbox.EventError}
		if args.Rejection {
			ev.Type = sandbox.EventRejection
		}
		if args.Value != nil {
			raw, err := json.Marshal(args.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid value: %w", err)
			}
			ev.Value = raw
		}
		if args.Name != "" || args.Message != "" || args.Stack != "" {
			ev.Error = &sandbox.GuestError{Name: args.Name, Message: args.Message, Stack: args.Stack}
			ev.Message = "Uncaught " + (&jserror.Error{Name: args.Name, Message: args.Message}).Error()
		}

		if err := sandbox.DispatchGuestEvent(sessionCtx.Window, ev); err != nil {
			return nil, nil, err
		}
		return textResult(overlayText(sessionCtx)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "register_source_map",
		Description: "Register the source map for a generated script so its stack frames resolve to original sources.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args RegisterSourceMapArgs) (*mcp.CallToolResult, any, error) {
		sessionCtx, err := getSessionFromContext(ctx)
		if err != nil {
			return nil, nil, err
		}
		if args.FileName == "" {
			return nil, nil, fmt.Errorf("fileName is required")
		}
		if args.SourceMap == "" {
			sessionCtx.Store.Forget(args.FileName)
			return textResult(fmt.Sprintf("Source map removed for %s", args.FileName)), nil, nil
		}
		if err := sessionCtx.Store.Register(args.FileName, []byte(args.SourceMap)); err != nil {
			return nil, nil, err
		}
		return textResult(fmt.Sprintf("Source map registered for %s", args.FileName)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "press_key",
		Description: "Send a key press to the page. Escape (or keyCode 27) dismisses the crash overlay.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args PressKeyArgs) (*mcp.CallToolResult, any, error) {
		sessionCtx, err := getSessionFromContext(ctx)
		if err != nil {
			return nil, nil, err
		}
		sessionCtx.Controller.Wait()
		sessionCtx.Window.DispatchKeyDown(events.KeyEvent{
			Key:     args.Key,
			KeyCode: args.KeyCode,
			Which:   args.KeyCode,
		})
		return textResult(overlayText(sessionCtx)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_overlay",
		Description: "Return the current crash overlay as plain text, or the whole page as HTML.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args GetOverlayArgs) (*mcp.CallToolResult, any, error) {
		sessionCtx, err := getSessionFromContext(ctx)
		if err != nil {
			return nil, nil, err
		}

		switch args.Format {
		case "", "text":
			return textResult(overlayText(sessionCtx)), nil, nil
		case "html":
			sessionCtx.Controller.Wait()
			page, err := sessionCtx.View.HTML()
			if err != nil {
				return nil, nil, err
			}
			return textResult(page), nil, nil
		case "terminal":
			sessionCtx.Controller.Wait()
			report, ok := sessionCtx.View.Active()
			if !ok {
				return textResult(noOverlay), nil, nil
			}
			return textResult(overlay.RenderTerminal(report, 100)), nil, nil
		default:
			return nil, nil, fmt.Errorf("unknown format %q (use text, html or terminal)", args.Format)
		}
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reload",
		Description: "Hot reload the page. The overlay is removed and the crash handlers are installed again.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ReloadArgs) (*mcp.CallToolResult, any, error) {
		sessionCtx, err := getSessionFromContext(ctx)
		if err != nil {
			return nil, nil, err
		}
		sessionCtx.Reload()
		return textResult("Page reloaded"), nil, nil
	})

	return server
}
