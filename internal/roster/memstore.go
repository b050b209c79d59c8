package roster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a mutex-guarded in-memory Store for dev mode and tests. It
// enforces the same uniqueness rules as the Postgres schema.
type MemStore struct {
	mu         sync.Mutex
	leaders    map[string]Leader
	courses    map[string]Course
	students   map[string]Student
	sessions   map[string]Session
	attendance map[string]Attendance // keyed studentID|sessionID
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		leaders:    make(map[string]Leader),
		courses:    make(map[string]Course),
		students:   make(map[string]Student),
		sessions:   make(map[string]Session),
		attendance: make(map[string]Attendance),
	}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) CreateLeader(ctx context.Context, name string) (Leader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := Leader{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	m.leaders[l.ID] = l
	return l, nil
}

func (m *MemStore) GetLeader(ctx context.Context, id string) (*Leader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leaders[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (m *MemStore) CreateCourse(ctx context.Context, code, leaderID string) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.courses {
		if c.Code == code {
			return Course{}, ErrDuplicateCourse
		}
	}
	c := Course{ID: uuid.NewString(), Code: code, LeaderID: leaderID, CreatedAt: time.Now().UTC()}
	m.courses[c.ID] = c
	return c, nil
}

func (m *MemStore) GetCourse(ctx context.Context, id string) (*Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *MemStore) ListCourses(ctx context.Context, leaderID string) ([]Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Course
	for _, c := range m.courses {
		if c.LeaderID == leaderID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i].LastAccessed, res[j].LastAccessed
		switch {
		case a != nil && b != nil:
			return a.After(*b)
		case a != nil:
			return true
		case b != nil:
			return false
		default:
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
	})
	return res, nil
}

func (m *MemStore) RenameCourse(ctx context.Context, id, code string) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.courses {
		if c.Code == code && c.ID != id {
			return Course{}, ErrDuplicateCourse
		}
	}
	c, ok := m.courses[id]
	if !ok {
		return Course{}, ErrNotFound
	}
	c.Code = code
	m.courses[id] = c
	return c, nil
}

func (m *MemStore) DeleteCourse(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.courses, id)
	for sid, s := range m.sessions {
		if s.CourseID != id {
			continue
		}
		delete(m.sessions, sid)
		for k, a := range m.attendance {
			if a.SessionID == sid {
				delete(m.attendance, k)
			}
		}
	}
	return nil
}

func (m *MemStore) TouchCourse(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return ErrNotFound
	}
	c.LastAccessed = &at
	m.courses[id] = c
	return nil
}

func (m *MemStore) FindStudentByExternalID(ctx context.Context, externalID string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.ExternalID == externalID {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *MemStore) CreateStudent(ctx context.Context, externalID, signature string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.ExternalID == externalID || s.Signature == signature {
			return Student{}, ErrDuplicateStudent
		}
	}
	s := Student{ID: uuid.NewString(), ExternalID: externalID, Signature: signature, CreatedAt: time.Now().UTC()}
	m.students[s.ID] = s
	return s, nil
}

func (m *MemStore) InsertSession(ctx context.Context, courseID string, startedAt time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Session{ID: uuid.NewString(), CourseID: courseID, StartedAt: startedAt, CreatedAt: time.Now().UTC()}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemStore) SessionInWindow(ctx context.Context, courseID string, from, to time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.CourseID == courseID && !s.StartedAt.Before(from) && s.StartedAt.Before(to) {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *MemStore) ListSessions(ctx context.Context, courseID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.CourseID == courseID {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartedAt.After(res[j].StartedAt) })
	return res, nil
}

func (m *MemStore) ListSessionSummaries(ctx context.Context, courseID string) ([]SessionSummary, error) {
	sessions, err := m.ListSessions(ctx, courseID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		sum := SessionSummary{Session: s}
		for _, a := range m.attendance {
			if a.SessionID == s.ID {
				sum.AttendanceCount++
			}
		}
		res = append(res, sum)
	}
	return res, nil
}

func (m *MemStore) InsertAttendance(ctx context.Context, studentID, sessionID string, at time.Time) (Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := studentID + "|" + sessionID
	if _, ok := m.attendance[key]; ok {
		return Attendance{}, ErrDuplicateAttendance
	}
	a := Attendance{ID: uuid.NewString(), StudentID: studentID, SessionID: sessionID, TakenAt: at}
	m.attendance[key] = a
	return a, nil
}

func (m *MemStore) ListAttendanceForSession(ctx context.Context, sessionID string) ([]AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []AttendanceRecord
	for _, a := range m.attendance {
		if a.SessionID != sessionID {
			continue
		}
		res = append(res, m.recordLocked(a))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StudentExternalID < res[j].StudentExternalID })
	return res, nil
}

func (m *MemStore) ListAttendanceForCourse(ctx context.Context, courseID string) ([]AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []AttendanceRecord
	for _, a := range m.attendance {
		s, ok := m.sessions[a.SessionID]
		if !ok || s.CourseID != courseID {
			continue
		}
		res = append(res, m.recordLocked(a))
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].SessionStartedAt.Equal(res[j].SessionStartedAt) {
			return res[i].SessionStartedAt.Before(res[j].SessionStartedAt)
		}
		return res[i].StudentExternalID < res[j].StudentExternalID
	})
	return res, nil
}

func (m *MemStore) recordLocked(a Attendance) AttendanceRecord {
	rec := AttendanceRecord{SessionID: a.SessionID, TakenAt: a.TakenAt}
	if st, ok := m.students[a.StudentID]; ok {
		rec.StudentExternalID = st.ExternalID
	}
	if s, ok := m.sessions[a.SessionID]; ok {
		rec.SessionStartedAt = s.StartedAt
	}
	return rec
}
