package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/adamavenir/frayline/internal/types"
)

// Manager is the arena of open sessions, keyed by conversation id. A
// conversation has at most one session at a time.
type Manager struct {
	backend   Backend
	transport Transport
	markers   ReadMarkers
	opts      Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns an empty arena.
func NewManager(backend Backend, transport Transport, markers ReadMarkers, opts Options) *Manager {
	return &Manager{
		backend:   backend,
		transport: transport,
		markers:   markers,
		opts:      opts,
		sessions:  make(map[string]*Session),
	}
}

// Open starts a session for channelID. A second Open for a conversation that
// is already open fails with types.ErrConversationOpen.
func (m *Manager) Open(ctx context.Context, channelID string) (*Session, error) {
	m.mu.Lock()
	if _, ok := m.sessions[channelID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("open %s: %w", channelID, types.ErrConversationOpen)
	}
	// reserve the slot while the first page loads
	m.sessions[channelID] = nil
	m.mu.Unlock()

	s, err := Open(ctx, channelID, m.backend, m.transport, m.markers, m.opts)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.sessions, channelID)
		return nil, err
	}
	s.onClose = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.sessions[channelID] == s {
			delete(m.sessions, channelID)
		}
	}
	m.sessions[channelID] = s
	return s, nil
}

// Get returns the open session for channelID.
func (m *Manager) Get(channelID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[channelID]
	return s, s != nil
}

// Close tears down the session for channelID.
func (m *Manager) Close(channelID string) error {
	s, ok := m.Get(channelID)
	if !ok {
		return fmt.Errorf("close %s: %w", channelID, types.ErrClosed)
	}
	return s.Close()
}

// CloseAll tears down every open session.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil {
			open = append(open, s)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
