package scan

import (
	"sync"
	"time"

	"rollcall/internal/roster"
)

// Manager keeps one live Intake per scanner device. A device scans for a
// single course at a time; activating a different course tears down the old
// intake first. Intakes share the store but no mutable state, so courses
// never interfere with each other.
type Manager struct {
	store    roster.Store
	recorder *roster.Recorder
	cooldown time.Duration
	feedback Feedback
	onLogged func(courseID, studentID string)

	mu      sync.Mutex
	intakes map[string]*Intake // keyed by device ID
}

// NewManager builds a manager. onLogged, when non-nil, fires after every
// recorded attendance.
func NewManager(store roster.Store, recorder *roster.Recorder, cooldown time.Duration, feedback Feedback, onLogged func(courseID, studentID string)) *Manager {
	return &Manager{
		store:    store,
		recorder: recorder,
		cooldown: cooldown,
		feedback: feedback,
		onLogged: onLogged,
		intakes:  make(map[string]*Intake),
	}
}

// Activate returns the device's intake for courseID, creating it if needed.
func (m *Manager) Activate(deviceID, courseID string) *Intake {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.intakes[deviceID]; ok {
		if in.CourseID() == courseID {
			in.Activate()
			return in
		}
		in.Deactivate()
	}
	in := NewIntake(courseID, m.store, m.recorder, m.cooldown, m.feedback)
	if m.onLogged != nil {
		cb := m.onLogged
		in.OnLogged = func(studentID string) { cb(courseID, studentID) }
	}
	in.Activate()
	m.intakes[deviceID] = in
	return in
}

// Get returns the device's live intake, or nil when none is active.
func (m *Manager) Get(deviceID string) *Intake {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intakes[deviceID]
}

// Deactivate idles and forgets the device's intake.
func (m *Manager) Deactivate(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.intakes[deviceID]; ok {
		in.Deactivate()
		delete(m.intakes, deviceID)
	}
}
