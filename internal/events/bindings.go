// Package events connects a host environment's error, rejection and key
// notifications to the crash pipeline.
package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/yousuf/failfast/internal/jserror"
)

const escapeKeyCode = 27

// Host delivers environment notifications. Each registration returns a disposer.
type Host interface {
	OnError(fn func(ErrorEvent)) func()
	OnUnhandledRejection(fn func(*RejectionEvent)) func()
	OnKeyDown(fn func(KeyEvent)) func()
}

// Crasher receives normalized crashes
type Crasher interface {
	Crash(ctx context.Context, err *jserror.Error, rejection bool)
}

// Dismisser removes the active overlay
type Dismisser interface {
	Unmount()
}

// Disposer accepts a teardown callback run before a hot reload
type Disposer interface {
	Dispose(fn func())
}

// Bindings owns the three listeners installed on a Host
type Bindings struct {
	ctx     context.Context
	crasher Crasher
	dismiss Dismisser
	logger  *slog.Logger

	mu       sync.Mutex
	removers []func()
}

// Install registers the error, rejection and escape-key listeners on host.
// When hot is non-nil, a reload unmounts any overlay and removes the listeners.
func Install(ctx context.Context, host Host, crasher Crasher, dismiss Dismisser, hot Disposer, logger *slog.Logger) *Bindings {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bindings{
		ctx:     ctx,
		crasher: crasher,
		dismiss: dismiss,
		logger:  logger,
	}
	b.removers = []func(){
		host.OnError(b.handleError),
		host.OnUnhandledRejection(b.handleRejection),
		host.OnKeyDown(b.handleKeyDown),
	}

	if hot != nil {
		hot.Dispose(func() {
			dismiss.Unmount()
			b.Uninstall()
		})
	}
	return b
}

// Uninstall removes all listeners. Calling it again does nothing.
func (b *Bindings) Uninstall() {
	b.mu.Lock()
	removers := b.removers
	b.removers = nil
	b.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}

// Installed reports whether the listeners are still registered
func (b *Bindings) Installed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removers != nil
}

func (b *Bindings) handleError(ev ErrorEvent) {
	jsErr, ok := jserror.As(ev.Error)
	if !ok || strings.Contains(ev.Message, "Script error") {
		// Opaque or non-Error throw: build an Error from whatever text is available
		message := jserror.Stringify(ev.Error)
		if message == "" {
			message = ev.Message
		}
		b.logger.Debug("synthesizing error for uncaught value",
			"message", message,
			"source", ev.Source,
			"line", ev.Line,
			"column", ev.Column,
		)
		b.crasher.Crash(b.ctx, jserror.New(message), false)
		return
	}
	b.crasher.Crash(b.ctx, jsErr, false)
}

func (b *Bindings) handleRejection(ev *RejectionEvent) {
	if ev == nil || ev.Reason == nil {
		b.crasher.Crash(b.ctx, jserror.New("Unknown event"), true)
		return
	}

	if kind := jserror.Classify(ev.Reason); kind != jserror.KindError {
		b.logger.Debug("synthesizing error for rejected value", "kind", kind)
		b.crasher.Crash(b.ctx, jserror.New(jserror.Stringify(ev.Reason)), true)
		return
	}
	jsErr, _ := jserror.As(ev.Reason)
	b.crasher.Crash(b.ctx, jsErr, true)
}

func (b *Bindings) handleKeyDown(ev KeyEvent) {
	if ev.Key == "Escape" || ev.KeyCode == escapeKeyCode || ev.Which == escapeKeyCode {
		b.dismiss.Unmount()
	}
}
