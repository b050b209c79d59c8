package roster

import (
	"errors"
	"time"
)

// Leader is the person running scanning sessions for their courses.
type Leader struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Course groups sessions under a unique code owned by a leader.
type Course struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	LeaderID     string     `json:"leader_id"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Session is one attendance-taking window for a course. StartedAt is
// normalized to the start of the window bucket it was created in and never
// changes afterwards.
type Session struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	StartedAt time.Time `json:"started_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is a session plus its attendance count, for listings.
type SessionSummary struct {
	Session
	AttendanceCount int `json:"attendance_count"`
}

// Student is created lazily on the first completed scan of an unseen
// external ID. Signature is the credential captured at creation and compared
// against every later scan; there is no update path in the scan loop.
type Student struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Signature  string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Attendance is one (student, session) row. The compound key makes repeat
// inserts duplicates rather than extra rows.
type Attendance struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	SessionID string    `json:"session_id"`
	TakenAt   time.Time `json:"taken_at"`
}

// AttendanceRecord is a joined row for course history and session rosters.
type AttendanceRecord struct {
	StudentExternalID string    `json:"student_id"`
	SessionID         string    `json:"session_id"`
	SessionStartedAt  time.Time `json:"session_started_at"`
	TakenAt           time.Time `json:"taken_at"`
}

// Rejection kinds surfaced to the scanning operator. The messages are the
// operator-facing text; callers match with errors.Is.
var (
	ErrDuplicateCourse     = errors.New("Course code already exists")
	ErrDuplicateSession    = errors.New("Session already in progress")
	ErrNoActiveSession     = errors.New("No sessions in progress")
	ErrSignatureMismatch   = errors.New("Signature does not match")
	ErrDuplicateAttendance = errors.New("Attendance already taken")
	ErrDuplicateStudent    = errors.New("student already exists")
	ErrNotFound            = errors.New("not found")
)
