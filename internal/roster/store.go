package roster

import (
	"context"
	"time"
)

// Store is the persistence surface the scan core and the API consume.
// Lookups that miss return (nil, nil); uniqueness violations come back as the
// sentinel errors in models.go so callers can branch with errors.Is.
type Store interface {
	// Leaders and courses.
	CreateLeader(ctx context.Context, name string) (Leader, error)
	GetLeader(ctx context.Context, id string) (*Leader, error)
	CreateCourse(ctx context.Context, code, leaderID string) (Course, error)
	GetCourse(ctx context.Context, id string) (*Course, error)
	ListCourses(ctx context.Context, leaderID string) ([]Course, error)
	RenameCourse(ctx context.Context, id, code string) (Course, error)
	DeleteCourse(ctx context.Context, id string) error
	TouchCourse(ctx context.Context, id string, at time.Time) error

	// Students.
	FindStudentByExternalID(ctx context.Context, externalID string) (*Student, error)
	CreateStudent(ctx context.Context, externalID, signature string) (Student, error)

	// Sessions.
	InsertSession(ctx context.Context, courseID string, startedAt time.Time) (Session, error)
	SessionInWindow(ctx context.Context, courseID string, from, to time.Time) (*Session, error)
	ListSessions(ctx context.Context, courseID string) ([]Session, error)
	ListSessionSummaries(ctx context.Context, courseID string) ([]SessionSummary, error)

	// Attendance. InsertAttendance returns ErrDuplicateAttendance when a row
	// for (studentID, sessionID) already exists; it never writes a second one.
	InsertAttendance(ctx context.Context, studentID, sessionID string, at time.Time) (Attendance, error)
	ListAttendanceForSession(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
	ListAttendanceForCourse(ctx context.Context, courseID string) ([]AttendanceRecord, error)
}
