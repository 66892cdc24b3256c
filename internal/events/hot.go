package events

import "sync"

// HotModule collects teardown callbacks that must run before a module is
// reloaded, so a reload never leaves duplicate bindings behind.
type HotModule struct {
	mu        sync.Mutex
	disposers []func()
}

// NewHotModule creates a module with no disposers
func NewHotModule() *HotModule {
	return &HotModule{}
}

// Dispose registers fn to run on the next Reload
func (h *HotModule) Dispose(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disposers = append(h.disposers, fn)
}

// Reload runs and clears every registered disposer, in registration order
func (h *HotModule) Reload() {
	h.mu.Lock()
	disposers := h.disposers
	h.disposers = nil
	h.mu.Unlock()

	for _, fn := range disposers {
		fn()
	}
}
