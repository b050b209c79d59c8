package scan

import "time"

// Gate debounces the raw decode stream. A camera decoder re-fires for the
// same physical code while it stays in frame; the gate collapses that burst
// into one event per cooldown window. It knows nothing about scan phases.
type Gate struct {
	window         time.Duration
	lastAcceptedAt time.Time
}

// NewGate creates a gate with the given cooldown window.
func NewGate(window time.Duration) *Gate {
	if window <= 0 {
		window = 1200 * time.Millisecond
	}
	return &Gate{window: window}
}

// Accept reports whether an event decoded at t passes the cooldown, and on
// acceptance moves the window forward to t. Rejected events leave no trace.
// Callers serialize access; Gate carries no lock of its own.
func (g *Gate) Accept(t time.Time) bool {
	if !g.lastAcceptedAt.IsZero() && t.Sub(g.lastAcceptedAt) < g.window {
		return false
	}
	g.lastAcceptedAt = t
	return true
}

// Reset clears the window so the next event is accepted regardless of time.
func (g *Gate) Reset() {
	g.lastAcceptedAt = time.Time{}
}
