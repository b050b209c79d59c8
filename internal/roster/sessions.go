package roster

import (
	"context"
	"time"
)

// Resolver owns session creation and the derived "active session" property.
// Active is recomputed from stored sessions plus the clock rather than kept
// as a flag, so it expires on its own when the window rolls over.
type Resolver struct {
	store  Store
	window time.Duration
}

// NewResolver builds a resolver with the given session window. The observed
// business rule is one session per calendar hour; the window stays a
// parameter because nothing technical pins it to an hour.
func NewResolver(store Store, window time.Duration) *Resolver {
	if window <= 0 {
		window = time.Hour
	}
	return &Resolver{store: store, window: window}
}

// Window reports the configured session window.
func (r *Resolver) Window() time.Duration { return r.window }

// BucketStart truncates t to the start of its window bucket in t's location.
// For the default one-hour window this is the top of the hour.
func BucketStart(t time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = time.Hour
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return midnight.Add(t.Sub(midnight) / window * window)
}

// StartSession creates a session for the bucket containing now. A second
// session in the same bucket for the same course is rejected with
// ErrDuplicateSession and nothing is written.
func (r *Resolver) StartSession(ctx context.Context, courseID string, now time.Time) (Session, error) {
	bucket := BucketStart(now, r.window)
	existing, err := r.store.SessionInWindow(ctx, courseID, bucket, bucket.Add(r.window))
	if err != nil {
		return Session{}, err
	}
	if existing != nil {
		return Session{}, ErrDuplicateSession
	}
	return r.store.InsertSession(ctx, courseID, bucket)
}

// ActiveSession returns the course's session accepting scans at now, or nil.
// It reads the full newest-first listing and applies IsActive; no stored
// state is consulted beyond the rows themselves.
func (r *Resolver) ActiveSession(ctx context.Context, courseID string, now time.Time) (*Session, error) {
	sessions, err := r.store.ListSessions(ctx, courseID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if IsActive(sessions[i], now, r.window) {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

// IsActive reports whether s accepts scans at now: same calendar day and now
// inside [StartedAt, StartedAt+window). Pure so tests can sweep the clock
// without touching stored state.
func IsActive(s Session, now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = time.Hour
	}
	sy, sm, sd := s.StartedAt.Date()
	ny, nm, nd := now.Date()
	if sy != ny || sm != nm || sd != nd {
		return false
	}
	return !now.Before(s.StartedAt) && now.Sub(s.StartedAt) < window
}
