package events

import (
	"sort"
	"sync"
)

// ErrorEvent is a synchronous uncaught-error notification
// (message, source, line, column, error).
type ErrorEvent struct {
	Message string
	Source  string
	Line    int
	Column  int
	// Error is whatever value was thrown; nil when the host did not provide one
	Error any
}

// RejectionEvent is an unhandled promise rejection notification
type RejectionEvent struct {
	Reason any
}

// KeyEvent is a key-press notification
type KeyEvent struct {
	Key     string
	KeyCode int
	Which   int
}

// listeners is an ordered registry of callbacks for one event type
type listeners[T any] struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners[T]) dispatch(ev T) {
	l.mu.RLock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (l *listeners[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

// Window is the host environment a guest runs in: it delivers uncaught
// errors, unhandled rejections and key presses to registered listeners.
type Window struct {
	errors     listeners[ErrorEvent]
	rejections listeners[*RejectionEvent]
	keys       listeners[KeyEvent]
}

// NewWindow creates a window with no listeners
func NewWindow() *Window {
	return &Window{}
}

// OnError registers fn for uncaught errors and returns its disposer
func (w *Window) OnError(fn func(ErrorEvent)) func() {
	return w.errors.add(fn)
}

// OnUnhandledRejection registers fn for unhandled rejections and returns its disposer
func (w *Window) OnUnhandledRejection(fn func(*RejectionEvent)) func() {
	return w.rejections.add(fn)
}

// OnKeyDown registers fn for key presses and returns its disposer
func (w *Window) OnKeyDown(fn func(KeyEvent)) func() {
	return w.keys.add(fn)
}

// DispatchError delivers ev to every error listener in registration order
func (w *Window) DispatchError(ev ErrorEvent) {
	w.errors.dispatch(ev)
}

// DispatchRejection delivers ev to every rejection listener; ev may be nil
func (w *Window) DispatchRejection(ev *RejectionEvent) {
	w.rejections.dispatch(ev)
}

// DispatchKeyDown delivers ev to every key listener
func (w *Window) DispatchKeyDown(ev KeyEvent) {
	w.keys.dispatch(ev)
}

// ListenerCount reports how many listeners are registered across all event types
func (w *Window) ListenerCount() int {
	return w.errors.len() + w.rejections.len() + w.keys.len()
}
