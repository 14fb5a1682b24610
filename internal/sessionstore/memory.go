package sessionstore

import (
	"context"
	"sort"
	"sync"

	"voice-intake/internal/domain"
)

// Memory is a process-local Backend. It stores the session pointers it is
// given, so callers must not mutate a session outside Manager.Update.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*domain.Session)}
}

func (m *Memory) Load(_ context.Context, callID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Memory) Save(_ context.Context, callID string, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[callID] = s
	return nil
}

func (m *Memory) Delete(_ context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, callID)
	return nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
