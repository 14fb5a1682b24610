// Package sessionstore keeps live intake sessions keyed by call id and
// serializes the turns of each call.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"voice-intake/internal/domain"
	"voice-intake/internal/logging"
)

// ErrNotFound is returned by a Backend when no session is stored for a call.
var ErrNotFound = errors.New("sessionstore: session not found")

// Backend holds session snapshots between turns.
type Backend interface {
	Load(ctx context.Context, callID string) (*domain.Session, error)
	Save(ctx context.Context, callID string, s *domain.Session) error
	Delete(ctx context.Context, callID string) error
	List(ctx context.Context) ([]string, error)
}

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// Locker coordinates access to a call across processes.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

const defaultLockTTL = 30 * time.Second

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// ActiveObserver is told how many live sessions a Manager has started.
// *metrics.Metrics satisfies this interface.
type ActiveObserver interface {
	ActiveSessions(n int)
}

// Manager serializes access to each call's session. Lock entries are
// reference counted and dropped once no goroutine holds or waits on them.
//
// A Manager also remembers which sessions it started. With a shared backend
// other processes hold sessions too, and those are never listed by Calls.
type Manager struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]*lockEntry
	owned map[string]string // call id -> session id
	obs   ActiveObserver

	locker  Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

type Option func(*Manager)

// WithLocker adds a distributed lock taken after the in-process one.
func WithLocker(l Locker) Option {
	return func(m *Manager) {
		m.locker = l
	}
}

func WithLockTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lockTTL = d
		}
	}
}

func WithObserver(o ActiveObserver) Option {
	return func(m *Manager) {
		m.obs = o
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns a Manager over backend, or over a fresh in-memory
// backend when backend is nil.
func NewManager(backend Backend, opts ...Option) *Manager {
	if backend == nil {
		backend = NewMemory()
	}
	m := &Manager{
		backend: backend,
		locks:   make(map[string]*lockEntry),
		owned:   make(map[string]string),
		lockTTL: defaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) acquire(callID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[callID]
	if !ok {
		entry = &lockEntry{}
		m.locks[callID] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) release(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[callID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, callID)
	}
}

// WithLock runs fn while holding the call's lock.
func (m *Manager) WithLock(ctx context.Context, callID string, fn func(context.Context) error) error {
	entry := m.acquire(callID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(callID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, callID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("sessionstore: acquire lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("release distributed lock failed, it will expire",
					"call_id", callID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Update runs fn with exclusive access to the call's session. fn receives
// nil when no session is stored; a non-nil result is saved and a nil result
// deletes the entry.
func (m *Manager) Update(ctx context.Context, callID string, fn func(*domain.Session) (*domain.Session, error)) error {
	return m.WithLock(ctx, callID, func(ctx context.Context) error {
		cur, err := m.backend.Load(ctx, callID)
		switch {
		case errors.Is(err, ErrNotFound):
			cur = nil
		case err != nil:
			return fmt.Errorf("sessionstore: load %s: %w", callID, err)
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			if cur == nil {
				return nil
			}
			if err := m.backend.Delete(ctx, callID); err != nil {
				return fmt.Errorf("sessionstore: delete %s: %w", callID, err)
			}
			m.disown(callID)
			return nil
		}
		if err := m.backend.Save(ctx, callID, next); err != nil {
			return fmt.Errorf("sessionstore: save %s: %w", callID, err)
		}
		if cur == nil || cur.ID != next.ID {
			m.own(callID, next.ID)
		}
		return nil
	})
}

// Calls lists the live call ids whose current session this Manager
// started. Sessions that expired, were ended or were replaced by another
// process are forgotten.
func (m *Manager) Calls(ctx context.Context) ([]string, error) {
	// snapshot before listing: a session is saved before it is owned
	m.mu.Lock()
	owned := make(map[string]string, len(m.owned))
	for callID, sessionID := range m.owned {
		owned[callID] = sessionID
	}
	m.mu.Unlock()

	stored, err := m.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(stored))
	for _, id := range stored {
		live[id] = true
	}

	var calls []string
	for callID, sessionID := range owned {
		var cur *domain.Session
		if live[callID] {
			cur, err = m.backend.Load(ctx, callID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("sessionstore: load %s: %w", callID, err)
			}
		}
		if cur != nil && cur.ID == sessionID {
			calls = append(calls, callID)
			continue
		}
		m.forget(callID, sessionID)
	}
	sort.Strings(calls)
	return calls, nil
}

func (m *Manager) own(callID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owned[callID] = sessionID
	m.notifyLocked()
}

// forget drops callID unless it was re-owned with a newer session meanwhile.
func (m *Manager) forget(callID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owned[callID] == sessionID {
		delete(m.owned, callID)
		m.notifyLocked()
	}
}

func (m *Manager) disown(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owned, callID)
	m.notifyLocked()
}

func (m *Manager) notifyLocked() {
	if m.obs != nil {
		m.obs.ActiveSessions(len(m.owned))
	}
}
