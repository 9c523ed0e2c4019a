package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IdleTimeout is how long a session may go without traffic before the
// cleanup pass reaps it.
const IdleTimeout = 300 * time.Second

// CleanupInterval is the period of the background reaper.
const CleanupInterval = 30 * time.Second

// Session is a relay binding between one device and its controllers.
// The manager owns these records; callers receive copies.
type Session struct {
	SessionID     string    `json:"session_id"`
	DeviceID      string    `json:"device_id"`
	ControllerIDs []string  `json:"controller_ids"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	IsActive      bool      `json:"is_active"`
}

type record struct {
	sessionID    string
	deviceID     string
	controllers  map[string]struct{}
	createdAt    time.Time
	lastActivity time.Time
	active       bool
}

// Manager tracks active sessions and reaps idle ones.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*record
	idle     time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*record),
		idle:     IdleTimeout,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Create returns the session id for deviceID, minting a new session if
// the device has no active one. Idempotent per device.
func (m *Manager) Create(deviceID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range m.sessions {
		if rec.deviceID == deviceID && rec.active {
			return id
		}
	}

	sessionID := uuid.New().String()
	now := m.now()
	m.sessions[sessionID] = &record{
		sessionID:    sessionID,
		deviceID:     deviceID,
		controllers:  make(map[string]struct{}),
		createdAt:    now,
		lastActivity: now,
		active:       true,
	}

	log.Printf("[SESSION] Created %s for device %s", sessionID, deviceID)
	return sessionID
}

// Join attaches a controller to an active session.
func (m *Manager) Join(sessionID, controllerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok || !rec.active {
		return false
	}
	rec.controllers[controllerID] = struct{}{}
	rec.lastActivity = m.now()
	return true
}

// Leave detaches a controller without closing the session.
func (m *Manager) Leave(sessionID, controllerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.sessions[sessionID]; ok {
		delete(rec.controllers, controllerID)
	}
}

// Get returns a snapshot of an active session.
func (m *Manager) Get(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok || !rec.active {
		return Session{}, false
	}
	return rec.snapshot(), true
}

// Touch advances the session's activity clock.
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.sessions[sessionID]; ok {
		rec.lastActivity = m.now()
	}
}

// Close marks the session inactive and removes it. Closed sessions are
// invisible to every lookup.
func (m *Manager) Close(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	rec.active = false
	delete(m.sessions, sessionID)
	log.Printf("[SESSION] Closed %s", sessionID)
	return true
}

// ByDevice returns the device's active session, if any.
func (m *Manager) ByDevice(deviceID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.sessions {
		if rec.deviceID == deviceID && rec.active {
			return rec.snapshot(), true
		}
	}
	return Session{}, false
}

// ByController returns the session a controller is attached to, if any.
func (m *Manager) ByController(controllerID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.sessions {
		if !rec.active {
			continue
		}
		if _, ok := rec.controllers[controllerID]; ok {
			return rec.snapshot(), true
		}
	}
	return Session{}, false
}

// List snapshots every active session, for the management API.
func (m *Manager) List() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		if rec.active {
			out = append(out, rec.snapshot())
		}
	}
	return out
}

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CleanupExpired removes sessions idle longer than the timeout and
// returns their ids so callers can cascade teardown.
func (m *Manager) CleanupExpired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []string
	now := m.now()
	for id, rec := range m.sessions {
		if now.Sub(rec.lastActivity) > m.idle {
			rec.active = false
			delete(m.sessions, id)
			reaped = append(reaped, id)
		}
	}
	if len(reaped) > 0 {
		log.Printf("[SESSION] Reaped %d idle sessions", len(reaped))
	}
	return reaped
}

// StartReaper runs periodic cleanup until Stop is called. onReap, if
// non-nil, receives the reaped session ids outside the registry lock.
func (m *Manager) StartReaper(onReap func(sessionIDs []string)) {
	go func() {
		ticker := time.NewTicker(CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if reaped := m.CleanupExpired(); len(reaped) > 0 && onReap != nil {
					onReap(reaped)
				}
			}
		}
	}()
}

// Stop halts the background reaper.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (r *record) snapshot() Session {
	controllers := make([]string, 0, len(r.controllers))
	for id := range r.controllers {
		controllers = append(controllers, id)
	}
	return Session{
		SessionID:     r.sessionID,
		DeviceID:      r.deviceID,
		ControllerIDs: controllers,
		CreatedAt:     r.createdAt,
		LastActivity:  r.lastActivity,
		IsActive:      r.active,
	}
}
