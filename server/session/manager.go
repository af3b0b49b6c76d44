package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrTooManySessions = errors.New("session limit reached")

type ManagerConfig struct {
	FPS         int
	IdleTTL     time.Duration
	MaxSessions int
	SweepEvery  time.Duration
}

// Manager owns every live session and evicts the ones left idle.
type Manager struct {
	cfg      ManagerConfig
	logger   *zap.Logger
	sessions map[string]*Session
	mutex    sync.RWMutex
	cleanup  *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	onEvict  func(id string)
}

type ManagerStats struct {
	Active      int           `json:"active"`
	MaxSessions int           `json:"max_sessions"`
	IdleTTL     time.Duration `json:"idle_ttl"`
}

func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}

	if cfg.IdleTTL > 0 {
		m.cleanup = time.NewTicker(cfg.SweepEvery)
		go m.evictIdle()
	}
	return m
}

// OnEvict registers fn to be called with the id of every session removed,
// whether deleted or expired.
func (m *Manager) OnEvict(fn func(id string)) {
	m.mutex.Lock()
	m.onEvict = fn
	m.mutex.Unlock()
}

func (m *Manager) Create() (*Session, error) {
	m.mutex.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mutex.Unlock()
		return nil, fmt.Errorf("create session (max %d): %w", m.cfg.MaxSessions, ErrTooManySessions)
	}
	s := New(m.cfg.FPS, m.logger)
	m.sessions[s.ID()] = s
	count := len(m.sessions)
	m.mutex.Unlock()

	m.logger.Info("Session created",
		zap.String("session_id", s.ID()),
		zap.Int("active_sessions", count))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mutex.RLock()
	s, ok := m.sessions[id]
	m.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *Manager) Delete(id string) error {
	m.mutex.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	onEvict := m.onEvict
	m.mutex.Unlock()

	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	s.Close()
	if onEvict != nil {
		onEvict(id)
	}
	m.logger.Info("Session deleted", zap.String("session_id", id))
	return nil
}

func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// List returns the views of all sessions, oldest first.
func (m *Manager) List() []View {
	m.mutex.RLock()
	views := make([]View, 0, len(m.sessions))
	for _, s := range m.sessions {
		views = append(views, s.View())
	}
	m.mutex.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].UpdatedAt.Before(views[j].UpdatedAt)
	})
	return views
}

func (m *Manager) Stats() ManagerStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return ManagerStats{
		Active:      len(m.sessions),
		MaxSessions: m.cfg.MaxSessions,
		IdleTTL:     m.cfg.IdleTTL,
	}
}

// Sweep removes sessions idle since before now minus the idle TTL and
// returns how many went.
func (m *Manager) Sweep(now time.Time) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.IdleTTL)

	m.mutex.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	onEvict := m.onEvict
	m.mutex.Unlock()

	for _, s := range expired {
		s.Close()
		if onEvict != nil {
			onEvict(s.ID())
		}
		m.logger.Info("Session expired", zap.String("session_id", s.ID()))
	}
	return len(expired)
}

func (m *Manager) evictIdle() {
	for {
		select {
		case now := <-m.cleanup.C:
			m.Sweep(now)
		case <-m.stopCh:
			return
		}
	}
}

// Shutdown stops the sweeper and closes every session.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		if m.cleanup != nil {
			m.cleanup.Stop()
		}
		close(m.stopCh)

		m.mutex.Lock()
		sessions := m.sessions
		m.sessions = make(map[string]*Session)
		m.mutex.Unlock()

		for _, s := range sessions {
			s.Close()
		}
		m.logger.Info("Session manager stopped", zap.Int("closed", len(sessions)))
	})
}
