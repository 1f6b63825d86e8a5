package room

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/interview-room/internal/metrics"
)

// Manager tracks the active room of every user and browser tab.
type Manager struct {
	mu      sync.RWMutex
	active  map[string]map[string]*Room
	metrics *metrics.Metrics
}

// NewManager creates a room manager.
func NewManager(m *metrics.Metrics) *Manager {
	return &Manager{
		active:  make(map[string]map[string]*Room),
		metrics: m,
	}
}

// Get returns the active room for a user and tab.
func (m *Manager) Get(userID, tabID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tabs, ok := m.active[userID]; ok {
		return tabs[tabID]
	}
	return nil
}

// Register adds a room, closing any previous room for the same tab.
func (m *Manager) Register(r *Room) {
	m.mu.Lock()
	existing := m.active[r.userID][r.tabID]
	if _, ok := m.active[r.userID]; !ok {
		m.active[r.userID] = make(map[string]*Room)
	}
	m.active[r.userID][r.tabID] = r
	m.mu.Unlock()

	if existing != nil && existing != r {
		existing.Close(ReasonReplaced)
	}
	m.metrics.RecordRoomOpen()
	slog.Info("Interview room registered", "user_id", r.userID, "tab_id", r.tabID)
}

// Unregister removes r if it is still the tab's active room.
func (m *Manager) Unregister(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tabs, ok := m.active[r.userID]
	if !ok || tabs[r.tabID] != r {
		return
	}
	delete(tabs, r.tabID)
	if len(tabs) == 0 {
		delete(m.active, r.userID)
	}
	slog.Info("Interview room unregistered", "user_id", r.userID, "tab_id", r.tabID)
}

// CloseUser terminates every room of a user.
func (m *Manager) CloseUser(userID string) {
	m.mu.Lock()
	tabs := m.active[userID]
	delete(m.active, userID)
	m.mu.Unlock()

	for _, r := range tabs {
		r.Close(ReasonShutdown)
	}
}

// CloseAll terminates every room.
func (m *Manager) CloseAll(reason string) {
	for _, r := range m.detach(func(*Room) bool { return true }) {
		r.Close(reason)
	}
}

// SweepIdle closes rooms whose browser has been silent for longer than
// ttl and returns how many were closed.
func (m *Manager) SweepIdle(now time.Time, ttl time.Duration) int {
	idle := m.detach(func(r *Room) bool { return now.Sub(r.LastActive()) > ttl })
	for _, r := range idle {
		slog.Info("Closing idle interview room",
			"user_id", r.userID,
			"tab_id", r.tabID,
			"idle_for", now.Sub(r.LastActive()).Round(time.Second))
		r.Close(ReasonIdle)
	}
	return len(idle)
}

// Count returns the number of active rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, tabs := range m.active {
		n += len(tabs)
	}
	return n
}

// detach removes and returns the rooms matching pred. Rooms are closed by
// the caller outside the lock.
func (m *Manager) detach(pred func(*Room) bool) []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Room
	for userID, tabs := range m.active {
		for tabID, r := range tabs {
			if pred(r) {
				out = append(out, r)
				delete(tabs, tabID)
			}
		}
		if len(tabs) == 0 {
			delete(m.active, userID)
		}
	}
	return out
}
