package session

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/yousuf/failfast/internal/config"
	"github.com/yousuf/failfast/internal/logger"
)

// Manager manages session contexts
type Manager struct {
	sessions map[string]*Context
	mu       sync.RWMutex
	config   *config.Config
	logger   *logger.Logger
}

// NewManager creates a new session manager
func NewManager(cfg *config.Config, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		sessions: make(map[string]*Context),
		config:   cfg,
		logger:   log.WithComponent("session"),
	}
}

// GetOrCreateSession gets an existing session or creates a new one
func (m *Manager) GetOrCreateSession(ctx context.Context, sessionID string) (*Context, error) {
	// Try to get existing session
	m.mu.RLock()
	session, exists := m.sessions[sessionID]
	m.mu.RUnlock()

	if exists {
		return session, nil
	}

	// Create new session
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if session, exists := m.sessions[sessionID]; exists {
		return session, nil
	}

	opts, err := m.options()
	if err != nil {
		return nil, err
	}

	session = NewContext(sessionID, opts)
	m.sessions[sessionID] = session
	m.logger.InfoContext(ctx, "session created", "session_id", sessionID, "workspace", opts.WorkspaceDir)

	return session, nil
}

// options derives the per-session pipeline settings from the config
func (m *Manager) options() (Options, error) {
	workspace, err := os.MkdirTemp(m.config.Sandbox.WorkspaceDir, "failfast-session-*")
	if err != nil {
		return Options{}, fmt.Errorf("failed to create session workspace: %w", err)
	}

	opts := OptionsFromConfig(m.config, m.logger)
	opts.WorkspaceDir = workspace
	return opts, nil
}

// GetSession retrieves an existing session
func (m *Manager) GetSession(sessionID string) *Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// DeleteSession removes a session and cleans up its resources
func (m *Manager) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session %q not found", sessionID)
	}

	delete(m.sessions, sessionID)

	if err := session.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// CloseAll closes all sessions
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for sessionID, session := range m.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %q: %w", sessionID, err))
		}
	}

	m.sessions = make(map[string]*Context)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing sessions: %v", errs)
	}

	return nil
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
