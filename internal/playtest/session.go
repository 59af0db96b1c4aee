package playtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"hatbot/internal/fault"
	"hatbot/internal/storage"
	logx "hatbot/pkg/logx"
)

// SessionManager owns the current session. Every change is persisted before
// it becomes visible.
type SessionManager struct {
	log   logx.Logger
	store storage.SessionStore

	mu  sync.Mutex
	cur *storage.PlaytestSession
}

func NewSessionManager(store storage.SessionStore, log logx.Logger) *SessionManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SessionManager{store: store, log: log}
}

// Load restores the persisted session. No remote command is sent.
func (m *SessionManager) Load(ctx context.Context) (storage.PlaytestSession, bool, error) {
	s, ok, err := m.store.GetSession(ctx)
	if err != nil {
		return storage.PlaytestSession{}, false, fault.Wrap(fault.Persistence, fmt.Errorf("load session: %w", err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		m.cur = nil
		return storage.PlaytestSession{}, false, nil
	}
	if s.Phase == "" {
		s.Phase = string(PhaseIdle)
	}
	m.cur = &s
	return s, true, nil
}

// Current returns the session unless there is none or it has ended.
func (m *SessionManager) Current() (storage.PlaytestSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || Phase(m.cur.Phase) == PhaseIdle {
		return storage.PlaytestSession{}, false
	}
	return *m.cur, true
}

// Phase reports the lifecycle phase; Idle when there is no session.
func (m *SessionManager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return PhaseIdle
	}
	return Phase(m.cur.Phase)
}

// ActiveServerAddress is the server of the current session.
func (m *SessionManager) ActiveServerAddress() (string, bool) {
	s, ok := m.Current()
	if !ok || s.ServerAddress == "" {
		return "", false
	}
	return s.ServerAddress, true
}

// Stage replaces the session.
func (m *SessionManager) Stage(ctx context.Context, s storage.PlaytestSession) error {
	s.ID = storage.SessionID
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.PutSession(ctx, s); err != nil {
		return fault.Wrap(fault.Persistence, fmt.Errorf("store session: %w", err))
	}
	m.cur = &s
	return nil
}

// Transition checks that the session is in one of allowed and moves it to
// next. An empty next only checks.
func (m *SessionManager) Transition(ctx context.Context, allowed []Phase, next Phase) (storage.PlaytestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || Phase(m.cur.Phase) == PhaseIdle {
		return storage.PlaytestSession{}, fault.Wrap(fault.Precondition, ErrNoActiveSession)
	}
	from := Phase(m.cur.Phase)
	if !slices.Contains(allowed, from) {
		return storage.PlaytestSession{}, fault.Wrap(fault.Precondition, fmt.Errorf("%w: playtest is %s", ErrInvalidState, from))
	}
	if next == "" || next == from {
		return *m.cur, nil
	}
	s := *m.cur
	s.Phase = string(next)
	if err := m.store.PutSession(ctx, s); err != nil {
		return storage.PlaytestSession{}, fault.Wrap(fault.Persistence, fmt.Errorf("store session: %w", err))
	}
	m.cur = &s
	m.log.Debug("playtest phase changed", logx.String("from", string(from)), logx.String("to", string(next)))
	return s, nil
}
