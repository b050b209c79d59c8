package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// CreateLeader inserts a leader.
func (r *Repository) CreateLeader(ctx context.Context, name string) (Leader, error) {
	l := Leader{ID: uuid.NewString(), Name: name}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO leaders (id, name)
		VALUES ($1, $2)
		RETURNING created_at
	`, l.ID, l.Name)
	if err := row.Scan(&l.CreatedAt); err != nil {
		return Leader{}, err
	}
	return l, nil
}

// GetLeader returns a leader or nil.
func (r *Repository) GetLeader(ctx context.Context, id string) (*Leader, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM leaders WHERE id = $1
	`, id)
	var l Leader
	if err := row.Scan(&l.ID, &l.Name, &l.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// CreateCourse inserts a course; the unique index on code surfaces as
// ErrDuplicateCourse.
func (r *Repository) CreateCourse(ctx context.Context, code, leaderID string) (Course, error) {
	c := Course{ID: uuid.NewString(), Code: code, LeaderID: leaderID}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO courses (id, code, leader_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO NOTHING
		RETURNING created_at
	`, c.ID, c.Code, c.LeaderID)
	if err := row.Scan(&c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, ErrDuplicateCourse
		}
		return Course{}, err
	}
	return c, nil
}

// GetCourse returns a course or nil.
func (r *Repository) GetCourse(ctx context.Context, id string) (*Course, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, leader_id, last_accessed, created_at
		FROM courses WHERE id = $1
	`, id)
	var c Course
	if err := row.Scan(&c.ID, &c.Code, &c.LeaderID, &c.LastAccessed, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListCourses returns a leader's courses, most recently accessed first.
func (r *Repository) ListCourses(ctx context.Context, leaderID string) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, leader_id, last_accessed, created_at
		FROM courses
		WHERE leader_id = $1
		ORDER BY last_accessed DESC NULLS LAST, created_at
	`, leaderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Code, &c.LeaderID, &c.LastAccessed, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// RenameCourse changes a course code, keeping codes globally unique.
func (r *Repository) RenameCourse(ctx context.Context, id, code string) (Course, error) {
	var taken bool
	if err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM courses WHERE code = $1 AND id != $2)
	`, code, id).Scan(&taken); err != nil {
		return Course{}, err
	}
	if taken {
		return Course{}, ErrDuplicateCourse
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE courses SET code = $2 WHERE id = $1
		RETURNING id, code, leader_id, last_accessed, created_at
	`, id, code)
	var c Course
	if err := row.Scan(&c.ID, &c.Code, &c.LeaderID, &c.LastAccessed, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, ErrNotFound
		}
		return Course{}, err
	}
	return c, nil
}

// DeleteCourse removes a course; sessions and attendance cascade via FKs.
func (r *Repository) DeleteCourse(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	return err
}

// TouchCourse stamps last_accessed.
func (r *Repository) TouchCourse(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE courses SET last_accessed = $2 WHERE id = $1
	`, id, at)
	return err
}

// FindStudentByExternalID looks a student up by scanned ID.
func (r *Repository) FindStudentByExternalID(ctx context.Context, externalID string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, external_id, signature, created_at
		FROM students WHERE external_id = $1
	`, externalID)
	var s Student
	if err := row.Scan(&s.ID, &s.ExternalID, &s.Signature, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// CreateStudent writes the row for a first-ever completed scan.
func (r *Repository) CreateStudent(ctx context.Context, externalID, signature string) (Student, error) {
	s := Student{ID: uuid.NewString(), ExternalID: externalID, Signature: signature}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, external_id, signature)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, s.ID, s.ExternalID, s.Signature)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Student{}, err
	}
	return s, nil
}

// InsertSession writes a session at its bucket start.
func (r *Repository) InsertSession(ctx context.Context, courseID string, startedAt time.Time) (Session, error) {
	s := Session{ID: uuid.NewString(), CourseID: courseID, StartedAt: startedAt}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, course_id, started_at)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, s.ID, s.CourseID, s.StartedAt)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

// SessionInWindow returns a session with started_at in [from, to), or nil.
func (r *Repository) SessionInWindow(ctx context.Context, courseID string, from, to time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, course_id, started_at, created_at
		FROM sessions
		WHERE course_id = $1 AND started_at >= $2 AND started_at < $3
		LIMIT 1
	`, courseID, from, to)
	var s Session
	if err := row.Scan(&s.ID, &s.CourseID, &s.StartedAt, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListSessions returns a course's sessions newest first.
func (r *Repository) ListSessions(ctx context.Context, courseID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, started_at, created_at
		FROM sessions
		WHERE course_id = $1
		ORDER BY started_at DESC
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.CourseID, &s.StartedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListSessionSummaries returns sessions with attendance counts, newest first.
func (r *Repository) ListSessionSummaries(ctx context.Context, courseID string) ([]SessionSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.course_id, s.started_at, s.created_at, COUNT(a.student_id)
		FROM sessions s
		LEFT JOIN attendance a ON a.session_id = s.id
		WHERE s.course_id = $1
		GROUP BY s.id, s.course_id, s.started_at, s.created_at
		ORDER BY s.started_at DESC
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.ID, &s.CourseID, &s.StartedAt, &s.CreatedAt, &s.AttendanceCount); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// InsertAttendance writes the (student, session) row once. The compound
// primary key turns a repeat into ErrDuplicateAttendance without a second
// round trip.
func (r *Repository) InsertAttendance(ctx context.Context, studentID, sessionID string, at time.Time) (Attendance, error) {
	a := Attendance{ID: uuid.NewString(), StudentID: studentID, SessionID: sessionID}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, student_id, session_id, taken_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id, session_id) DO NOTHING
		RETURNING taken_at
	`, a.ID, a.StudentID, a.SessionID, at)
	if err := row.Scan(&a.TakenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attendance{}, ErrDuplicateAttendance
		}
		return Attendance{}, err
	}
	return a, nil
}

// ListAttendanceForSession returns a session's roster ordered by student ID.
func (r *Repository) ListAttendanceForSession(ctx context.Context, sessionID string) ([]AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT st.external_id, a.session_id, s.started_at, a.taken_at
		FROM attendance a
		JOIN students st ON st.id = a.student_id
		JOIN sessions s ON s.id = a.session_id
		WHERE a.session_id = $1
		ORDER BY st.external_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListAttendanceForCourse returns the course's full history, oldest session
// first, for report building.
func (r *Repository) ListAttendanceForCourse(ctx context.Context, courseID string) ([]AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT st.external_id, a.session_id, s.started_at, a.taken_at
		FROM attendance a
		JOIN students st ON st.id = a.student_id
		JOIN sessions s ON s.id = a.session_id
		WHERE s.course_id = $1
		ORDER BY s.started_at, st.external_id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]AttendanceRecord, error) {
	var res []AttendanceRecord
	for rows.Next() {
		var rec AttendanceRecord
		if err := rows.Scan(&rec.StudentExternalID, &rec.SessionID, &rec.SessionStartedAt, &rec.TakenAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
