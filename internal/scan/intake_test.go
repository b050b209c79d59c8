package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rollcall/internal/roster"
)

var testBase = time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)

// countingStore counts every store call the intake path can make, so tests
// can assert that ignored payloads never touch the store.
type countingStore struct {
	roster.Store
	calls int
}

func (c *countingStore) FindStudentByExternalID(ctx context.Context, id string) (*roster.Student, error) {
	c.calls++
	return c.Store.FindStudentByExternalID(ctx, id)
}

func (c *countingStore) CreateStudent(ctx context.Context, externalID, signature string) (roster.Student, error) {
	c.calls++
	return c.Store.CreateStudent(ctx, externalID, signature)
}

func (c *countingStore) InsertSession(ctx context.Context, courseID string, startedAt time.Time) (roster.Session, error) {
	c.calls++
	return c.Store.InsertSession(ctx, courseID, startedAt)
}

func (c *countingStore) SessionInWindow(ctx context.Context, courseID string, from, to time.Time) (*roster.Session, error) {
	c.calls++
	return c.Store.SessionInWindow(ctx, courseID, from, to)
}

func (c *countingStore) ListSessions(ctx context.Context, courseID string) ([]roster.Session, error) {
	c.calls++
	return c.Store.ListSessions(ctx, courseID)
}

func (c *countingStore) InsertAttendance(ctx context.Context, studentID, sessionID string, at time.Time) (roster.Attendance, error) {
	c.calls++
	return c.Store.InsertAttendance(ctx, studentID, sessionID, at)
}

// recordingFeedback captures the emitted pulse sequence.
type recordingFeedback struct {
	mu    sync.Mutex
	kinds []FeedbackKind
}

func (f *recordingFeedback) Emit(kind FeedbackKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
}

func (f *recordingFeedback) sequence() []FeedbackKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FeedbackKind(nil), f.kinds...)
}

type fixture struct {
	store    *countingStore
	mem      *roster.MemStore
	intake   *Intake
	feedback *recordingFeedback
	courseID string
}

// newFixture builds an activated intake over a fresh memory store with a
// course and, optionally, a session open for testBase's hour.
func newFixture(t *testing.T, withSession bool) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := roster.NewMemStore()
	leader, err := mem.CreateLeader(ctx, "lead")
	if err != nil {
		t.Fatalf("create leader: %v", err)
	}
	course, err := mem.CreateCourse(ctx, "CS101", leader.ID)
	if err != nil {
		t.Fatalf("create course: %v", err)
	}

	cs := &countingStore{Store: mem}
	resolver := roster.NewResolver(cs, time.Hour)
	if withSession {
		if _, err := resolver.StartSession(ctx, course.ID, testBase); err != nil {
			t.Fatalf("start session: %v", err)
		}
	}
	recorder := roster.NewRecorder(cs, resolver)

	fb := &recordingFeedback{}
	in := NewIntake(course.ID, cs, recorder, time.Second, fb)
	in.Activate()

	cs.calls = 0
	return &fixture{store: cs, mem: mem, intake: in, feedback: fb, courseID: course.ID}
}

// scanAt feeds one payload, spacing events two seconds apart so the cooldown
// gate never interferes.
func (f *fixture) scanAt(offset time.Duration, payload string) Outcome {
	return f.intake.HandleDecode(context.Background(), DecodeEvent{Payload: payload, DecodedAt: testBase.Add(offset)})
}

func TestMalformedStudentIDIgnored(t *testing.T) {
	f := newFixture(t, true)

	bad := []string{"S1234567", "S123456789", "X12345678", "US123456P", "hello", ""}
	for i, payload := range bad {
		out := f.scanAt(time.Duration(i)*2*time.Second, payload)
		if out.Kind != DroppedMalformed {
			t.Errorf("payload %q: outcome %v, want DroppedMalformed", payload, out.Kind)
		}
	}
	if got := f.intake.Phase(); got != PhaseAwaitingStudentID {
		t.Errorf("phase = %v, want AwaitingStudentID", got)
	}
	if f.store.calls != 0 {
		t.Errorf("store calls = %d, want 0", f.store.calls)
	}
}

func TestMalformedSignatureIgnored(t *testing.T) {
	f := newFixture(t, true)

	if out := f.scanAt(0, "S12345678"); out.Kind != Identified {
		t.Fatalf("student ID scan: outcome %v, want Identified", out.Kind)
	}
	f.store.calls = 0

	// A student-ID shaped payload is malformed for the signature phase.
	bad := []string{"US12345P", "US1234567P", "S12345678", "nonsense", ""}
	for i, payload := range bad {
		out := f.scanAt(time.Duration(i+1)*2*time.Second, payload)
		if out.Kind != DroppedMalformed {
			t.Errorf("payload %q: outcome %v, want DroppedMalformed", payload, out.Kind)
		}
	}
	if got := f.intake.Phase(); got != PhaseAwaitingSignature {
		t.Errorf("phase = %v, want AwaitingSignature", got)
	}
	if f.store.calls != 0 {
		t.Errorf("store calls = %d, want 0", f.store.calls)
	}
}

func TestCooldownDropsRapidRepeat(t *testing.T) {
	f := newFixture(t, true)

	if out := f.scanAt(0, "S12345678"); out.Kind != Identified {
		t.Fatalf("first scan: outcome %v, want Identified", out.Kind)
	}
	if out := f.scanAt(400*time.Millisecond, "S12345678"); out.Kind != DroppedCooldown {
		t.Errorf("rapid repeat: outcome %v, want DroppedCooldown", out.Kind)
	}
	if got := f.intake.Phase(); got != PhaseAwaitingSignature {
		t.Errorf("phase = %v, want AwaitingSignature", got)
	}
}

func TestNewStudentSuccess(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	var loggedID string
	f.intake.OnLogged = func(studentID string) { loggedID = studentID }

	if out := f.scanAt(0, "S12345678"); out.Kind != Identified || out.StudentID != "S12345678" {
		t.Fatalf("identify: got %+v", out)
	}
	out := f.scanAt(2*time.Second, "US123456P")
	if out.Kind != Logged {
		t.Fatalf("verify: outcome %v (err %v), want Logged", out.Kind, out.Err)
	}
	if out.Attendance.ID == "" || out.Attendance.SessionID == "" {
		t.Errorf("logged outcome missing attendance row: %+v", out.Attendance)
	}
	if loggedID != "S12345678" {
		t.Errorf("OnLogged got %q, want S12345678", loggedID)
	}
	if got := f.intake.Phase(); got != PhaseAwaitingStudentID {
		t.Errorf("phase = %v, want AwaitingStudentID", got)
	}

	student, err := f.mem.FindStudentByExternalID(ctx, "S12345678")
	if err != nil || student == nil {
		t.Fatalf("student row missing after success: %v", err)
	}
	if student.Signature != "US123456P" {
		t.Errorf("stored signature = %q", student.Signature)
	}
	records, _ := f.mem.ListAttendanceForSession(ctx, out.Attendance.SessionID)
	if len(records) != 1 {
		t.Errorf("attendance rows = %d, want 1", len(records))
	}

	want := []FeedbackKind{FeedbackIdentify, FeedbackSuccess}
	got := f.feedback.sequence()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("feedback sequence = %v, want %v", got, want)
	}
}

func TestRepeatScanRejectedAsDuplicate(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.scanAt(0, "S12345678")
	first := f.scanAt(2*time.Second, "US123456P")
	if first.Kind != Logged {
		t.Fatalf("first attempt: outcome %v (err %v)", first.Kind, first.Err)
	}

	// Same badge, same session: found by external ID, rejected on insert.
	f.scanAt(4*time.Second, "S12345678")
	second := f.scanAt(6*time.Second, "US123456P")
	if second.Kind != Rejected || !errors.Is(second.Err, roster.ErrDuplicateAttendance) {
		t.Fatalf("second attempt: got %v (err %v), want Rejected/ErrDuplicateAttendance", second.Kind, second.Err)
	}
	records, _ := f.mem.ListAttendanceForSession(ctx, first.Attendance.SessionID)
	if len(records) != 1 {
		t.Errorf("attendance rows = %d, want 1", len(records))
	}
	if got := f.intake.Phase(); got != PhaseAwaitingStudentID {
		t.Errorf("phase = %v, want AwaitingStudentID", got)
	}
}

func TestSignatureMismatchRejected(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if _, err := f.mem.CreateStudent(ctx, "S12345678", "US123456P"); err != nil {
		t.Fatalf("seed student: %v", err)
	}

	f.scanAt(0, "S12345678")
	out := f.scanAt(2*time.Second, "US999999P")
	if out.Kind != Rejected || !errors.Is(out.Err, roster.ErrSignatureMismatch) {
		t.Fatalf("got %v (err %v), want Rejected/ErrSignatureMismatch", out.Kind, out.Err)
	}
	sessions, _ := f.mem.ListSessions(ctx, f.courseID)
	records, _ := f.mem.ListAttendanceForSession(ctx, sessions[0].ID)
	if len(records) != 0 {
		t.Errorf("attendance rows = %d, want 0", len(records))
	}
	if got := f.intake.Phase(); got != PhaseAwaitingStudentID {
		t.Errorf("phase = %v, want AwaitingStudentID", got)
	}

	got := f.feedback.sequence()
	if len(got) != 2 || got[1] != FeedbackFailure {
		t.Errorf("feedback sequence = %v, want failure pulse last", got)
	}
}

func TestNoActiveSessionRejected(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.scanAt(0, "S12345678")
	out := f.scanAt(2*time.Second, "US123456P")
	if out.Kind != Rejected || !errors.Is(out.Err, roster.ErrNoActiveSession) {
		t.Fatalf("got %v (err %v), want Rejected/ErrNoActiveSession", out.Kind, out.Err)
	}

	// The verified student still exists; only the attendance write was
	// skipped.
	student, _ := f.mem.FindStudentByExternalID(ctx, "S12345678")
	if student == nil {
		t.Error("student row should exist after a verified scan")
	}
	if got := f.intake.Phase(); got != PhaseAwaitingStudentID {
		t.Errorf("phase = %v, want AwaitingStudentID", got)
	}
}

func TestIdleIntakeDropsEverything(t *testing.T) {
	f := newFixture(t, true)
	f.intake.Deactivate()

	if out := f.scanAt(0, "S12345678"); out.Kind != DroppedInactive {
		t.Errorf("outcome %v, want DroppedInactive", out.Kind)
	}
	if f.store.calls != 0 {
		t.Errorf("store calls = %d, want 0", f.store.calls)
	}
}

func TestAbandonedIdentifyLeavesNoStudentRow(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if out := f.scanAt(0, "S12345678"); out.Kind != Identified {
		t.Fatalf("identify: outcome %v", out.Kind)
	}
	// No signature ever arrives. The provisional student must not be in
	// the store.
	student, _ := f.mem.FindStudentByExternalID(ctx, "S12345678")
	if student != nil {
		t.Error("half-completed scan created a student row")
	}
}

// blockingStore parks FindStudentByExternalID until released, to exercise the
// processing latch and mid-flight deactivation.
type blockingStore struct {
	roster.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) FindStudentByExternalID(ctx context.Context, id string) (*roster.Student, error) {
	close(b.entered)
	<-b.release
	return b.Store.FindStudentByExternalID(ctx, id)
}

func newBlockingFixture(t *testing.T) (*Intake, *blockingStore) {
	t.Helper()
	ctx := context.Background()

	mem := roster.NewMemStore()
	leader, _ := mem.CreateLeader(ctx, "lead")
	course, err := mem.CreateCourse(ctx, "CS101", leader.ID)
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	bs := &blockingStore{Store: mem, entered: make(chan struct{}), release: make(chan struct{})}
	resolver := roster.NewResolver(bs, time.Hour)
	if _, err := resolver.StartSession(ctx, course.ID, testBase); err != nil {
		t.Fatalf("start session: %v", err)
	}
	recorder := roster.NewRecorder(bs, resolver)
	in := NewIntake(course.ID, bs, recorder, time.Second, nil)
	in.Activate()
	return in, bs
}

func TestProcessingLatchDropsConcurrentEvent(t *testing.T) {
	in, bs := newBlockingFixture(t)

	done := make(chan Outcome, 1)
	go func() {
		done <- in.HandleDecode(context.Background(), DecodeEvent{Payload: "S12345678", DecodedAt: testBase})
	}()
	<-bs.entered

	// Second event arrives outside the cooldown but while the lookup is
	// still outstanding.
	out := in.HandleDecode(context.Background(), DecodeEvent{Payload: "S87654321", DecodedAt: testBase.Add(2 * time.Second)})
	if out.Kind != DroppedBusy {
		t.Errorf("concurrent event: outcome %v, want DroppedBusy", out.Kind)
	}

	close(bs.release)
	if first := <-done; first.Kind != Identified {
		t.Errorf("first event: outcome %v, want Identified", first.Kind)
	}
}

// sessionBlockingStore parks ListSessions, the first store call of the
// signature phase, so deactivation can land mid-recording.
type sessionBlockingStore struct {
	roster.Store
	entered chan struct{}
	release chan struct{}
}

func (b *sessionBlockingStore) ListSessions(ctx context.Context, courseID string) ([]roster.Session, error) {
	close(b.entered)
	<-b.release
	return b.Store.ListSessions(ctx, courseID)
}

func TestDeactivateVoidsInFlightSignatureAttempt(t *testing.T) {
	ctx := context.Background()

	mem := roster.NewMemStore()
	leader, _ := mem.CreateLeader(ctx, "lead")
	course, err := mem.CreateCourse(ctx, "CS101", leader.ID)
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	bs := &sessionBlockingStore{Store: mem, entered: make(chan struct{}), release: make(chan struct{})}
	resolver := roster.NewResolver(bs, time.Hour)
	if _, err := resolver.StartSession(ctx, course.ID, testBase); err != nil {
		t.Fatalf("start session: %v", err)
	}
	recorder := roster.NewRecorder(bs, resolver)

	fb := &recordingFeedback{}
	in := NewIntake(course.ID, bs, recorder, time.Second, fb)
	in.Activate()
	logged := false
	in.OnLogged = func(string) { logged = true }

	if out := in.HandleDecode(ctx, DecodeEvent{Payload: "S12345678", DecodedAt: testBase}); out.Kind != Identified {
		t.Fatalf("identify: outcome %v", out.Kind)
	}

	done := make(chan Outcome, 1)
	go func() {
		done <- in.HandleDecode(ctx, DecodeEvent{Payload: "US123456P", DecodedAt: testBase.Add(2 * time.Second)})
	}()
	<-bs.entered

	in.Deactivate()
	close(bs.release)

	if out := <-done; out.Kind != DroppedInactive {
		t.Errorf("voided attempt: outcome %v, want DroppedInactive", out.Kind)
	}
	if got := in.Phase(); got != PhaseIdle {
		t.Errorf("phase = %v, want Idle", got)
	}
	if logged {
		t.Error("OnLogged fired for a voided attempt")
	}
	if seq := fb.sequence(); len(seq) != 1 || seq[0] != FeedbackIdentify {
		t.Errorf("feedback sequence = %v, want only the identify pulse", seq)
	}
}

func TestDeactivateDiscardsInFlightResult(t *testing.T) {
	in, bs := newBlockingFixture(t)

	done := make(chan Outcome, 1)
	go func() {
		done <- in.HandleDecode(context.Background(), DecodeEvent{Payload: "S12345678", DecodedAt: testBase})
	}()
	<-bs.entered

	in.Deactivate()
	close(bs.release)

	if out := <-done; out.Kind != DroppedInactive {
		t.Errorf("in-flight result: outcome %v, want DroppedInactive", out.Kind)
	}
	if got := in.Phase(); got != PhaseIdle {
		t.Errorf("phase = %v, want Idle", got)
	}
}
