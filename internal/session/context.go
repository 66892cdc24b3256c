package session

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/yousuf/failfast/internal/crash"
	"github.com/yousuf/failfast/internal/events"
	"github.com/yousuf/failfast/internal/logger"
	"github.com/yousuf/failfast/internal/overlay"
	"github.com/yousuf/failfast/internal/resolver"
	"github.com/yousuf/failfast/internal/sourcemap"
	"github.com/yousuf/failfast/internal/stackframe"
)

// Options configures the crash pipeline built for each session
type Options struct {
	Title        string
	Styles       overlay.Styles
	WorkspaceDir string
	StoreOptions []sourcemap.Option
	Resolver     resolver.Options
	Logger       *logger.Logger
}

// Context represents a session context with its associated resources: one
// simulated page with its own crash pipeline.
type Context struct {
	SessionID    string
	WorkspaceDir string

	Window     *events.Window
	Hot        *events.HotModule
	Document   *overlay.Document
	View       *overlay.View
	Store      *sourcemap.Store
	Controller *crash.Controller

	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	bindings *events.Bindings
}

// NewContext creates a new session context and installs its event bindings
func NewContext(sessionID string, opts Options) *Context {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	logger := log.WithSessionID(sessionID).Logger

	storeOpts := append([]sourcemap.Option{sourcemap.WithLogger(logger)}, opts.StoreOptions...)
	store := sourcemap.NewStore(storeOpts...)

	resolverOpts := opts.Resolver
	resolverOpts.Logger = logger
	r := resolver.New(stackframe.NewParser(), sourcemap.NewLocator(store), resolverOpts)

	doc := overlay.NewDocument(opts.Title)
	view := overlay.NewView(doc, opts.Styles)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Context{
		SessionID:    sessionID,
		WorkspaceDir: opts.WorkspaceDir,
		Window:       events.NewWindow(),
		Hot:          events.NewHotModule(),
		Document:     doc,
		View:         view,
		Store:        store,
		Controller:   crash.NewController(r, view, logger),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
	c.install()
	return c
}

func (c *Context) install() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = events.Install(c.ctx, c.Window, c.Controller, c.View, c.Hot, c.logger)
}

// Bindings returns the currently installed event bindings
func (c *Context) Bindings() *events.Bindings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindings
}

// Reload simulates a hot module replacement: pending crashes settle, the
// disposal hooks unmount the overlay and remove the listeners, then fresh
// bindings are installed.
func (c *Context) Reload() {
	c.Controller.Wait()
	c.Hot.Reload()
	c.install()
	c.logger.Info("session reloaded")
}

// Close releases the session. In-flight crashes are waited for.
func (c *Context) Close() error {
	c.cancel()
	c.Controller.Wait()

	if b := c.Bindings(); b != nil {
		b.Uninstall()
	}
	c.View.Unmount()

	if c.WorkspaceDir != "" {
		return os.RemoveAll(c.WorkspaceDir)
	}
	return nil
}
