package roster

import (
	"context"
	"time"
)

// PendingStudent is the identify-phase result carried into the verify phase.
// For an unseen external ID it is provisional: no student row exists until
// the signature phase completes, so an abandoned scan leaves no trace.
type PendingStudent struct {
	ExternalID string
	IsNew      bool
	Student    Student // populated when IsNew is false
}

// Recorder performs the at-most-once attendance write for a completed
// two-phase scan: resolve or create the student, resolve the active session,
// insert the row.
type Recorder struct {
	store    Store
	resolver *Resolver
}

// NewRecorder builds a recorder sharing the resolver's store.
func NewRecorder(store Store, resolver *Resolver) *Recorder {
	return &Recorder{store: store, resolver: resolver}
}

// Record finishes a scan attempt for a valid-format signature payload.
// Every rejection comes back as one of the sentinel errors; the student row
// for a new student is written before session resolution, matching the rule
// that a verified student exists even when no session is open.
func (rec *Recorder) Record(ctx context.Context, courseID string, pending PendingStudent, signature string, now time.Time) (Attendance, error) {
	var student Student
	if pending.IsNew {
		created, err := rec.store.CreateStudent(ctx, pending.ExternalID, signature)
		if err != nil {
			return Attendance{}, err
		}
		student = created
	} else {
		if pending.Student.Signature != signature {
			return Attendance{}, ErrSignatureMismatch
		}
		student = pending.Student
	}

	session, err := rec.resolver.ActiveSession(ctx, courseID, now)
	if err != nil {
		return Attendance{}, err
	}
	if session == nil {
		return Attendance{}, ErrNoActiveSession
	}

	// The store's (student, session) compound key is the idempotence
	// barrier; a double-scan lands here as ErrDuplicateAttendance.
	return rec.store.InsertAttendance(ctx, student.ID, session.ID, now)
}
