package scan

import (
	"context"
	"log"
	"sync"
	"time"

	"rollcall/internal/roster"
)

// Phase is the intake state machine's position in the two-phase protocol.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingStudentID
	PhaseAwaitingSignature
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingStudentID:
		return "awaiting_student_id"
	case PhaseAwaitingSignature:
		return "awaiting_signature"
	}
	return "unknown"
}

// DecodeEvent is one raw decoded barcode from the scanner stream.
type DecodeEvent struct {
	Payload   string
	DecodedAt time.Time
}

// OutcomeKind classifies what HandleDecode did with an event.
type OutcomeKind int

const (
	DroppedInactive OutcomeKind = iota
	DroppedCooldown
	DroppedBusy
	DroppedMalformed
	Identified
	Logged
	Rejected
)

func (k OutcomeKind) String() string {
	switch k {
	case DroppedInactive:
		return "dropped_inactive"
	case DroppedCooldown:
		return "dropped_cooldown"
	case DroppedBusy:
		return "dropped_busy"
	case DroppedMalformed:
		return "dropped_malformed"
	case Identified:
		return "identified"
	case Logged:
		return "logged"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Outcome is the result of feeding one decode event through the intake.
// Err is set only for Rejected and is one of the roster sentinel errors or a
// store failure.
type Outcome struct {
	Kind       OutcomeKind
	StudentID  string
	Attendance roster.Attendance
	Err        error
}

// Intake owns the two-phase scan protocol for one (scanner, course) pair:
// classify payloads, move between phases, and hand completed attempts to the
// recorder. All decode events enter through HandleDecode.
type Intake struct {
	courseID string
	store    roster.Store
	recorder *roster.Recorder
	gate     *Gate
	feedback Feedback

	// OnLogged fires after each recorded attendance with the student's
	// external ID, for list-refresh plumbing. May be nil.
	OnLogged func(studentID string)

	mu         sync.Mutex
	phase      Phase
	pending    roster.PendingStudent
	processing bool
	gen        uint64 // bumped on activate/deactivate to void in-flight results
}

// NewIntake builds an idle intake for a course. Call Activate before feeding
// events.
func NewIntake(courseID string, store roster.Store, recorder *roster.Recorder, cooldown time.Duration, feedback Feedback) *Intake {
	if feedback == nil {
		feedback = NopFeedback{}
	}
	in := &Intake{
		courseID: courseID,
		store:    store,
		recorder: recorder,
		gate:     NewGate(cooldown),
		feedback: feedback,
	}
	return in
}

// CourseID returns the course this intake records against.
func (in *Intake) CourseID() string { return in.courseID }

// Phase reports the current protocol phase.
func (in *Intake) Phase() Phase {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.phase
}

// Activate moves an idle intake to AwaitingStudentID. Reactivating a live
// intake is a no-op.
func (in *Intake) Activate() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.phase != PhaseIdle {
		return
	}
	in.phase = PhaseAwaitingStudentID
	in.pending = roster.PendingStudent{}
	in.gate.Reset()
	in.gen++
}

// Deactivate forces the intake to Idle immediately. An in-flight store call
// is allowed to finish but its result is discarded.
func (in *Intake) Deactivate() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.phase = PhaseIdle
	in.pending = roster.PendingStudent{}
	in.gen++
}

// HandleDecode is the single entry point for the decode stream. Order of
// checks: phase, cooldown gate, processing latch, payload shape. The latch is
// independent of the gate: two different codes scanned faster than a store
// round trip must not race through the machine together.
func (in *Intake) HandleDecode(ctx context.Context, ev DecodeEvent) Outcome {
	in.mu.Lock()
	if in.phase == PhaseIdle {
		in.mu.Unlock()
		return Outcome{Kind: DroppedInactive}
	}
	if !in.gate.Accept(ev.DecodedAt) {
		in.mu.Unlock()
		return Outcome{Kind: DroppedCooldown}
	}
	if in.processing {
		in.mu.Unlock()
		return Outcome{Kind: DroppedBusy}
	}
	in.processing = true
	phase := in.phase
	pending := in.pending
	gen := in.gen
	in.mu.Unlock()

	defer func() {
		in.mu.Lock()
		in.processing = false
		in.mu.Unlock()
	}()

	switch phase {
	case PhaseAwaitingStudentID:
		return in.handleStudentID(ctx, ev, gen)
	default:
		return in.handleSignature(ctx, ev, pending, gen)
	}
}

func (in *Intake) handleStudentID(ctx context.Context, ev DecodeEvent, gen uint64) Outcome {
	if !ValidStudentID(ev.Payload) {
		return Outcome{Kind: DroppedMalformed}
	}
	in.feedback.Emit(FeedbackIdentify)

	student, err := in.store.FindStudentByExternalID(ctx, ev.Payload)
	if err != nil {
		// Store failure: surface and stay in AwaitingStudentID rather
		// than advancing on unknown data.
		log.Printf("scan: student lookup failed for course %s: %v", in.courseID, err)
		in.feedback.Emit(FeedbackFailure)
		return Outcome{Kind: Rejected, Err: err}
	}

	pending := roster.PendingStudent{ExternalID: ev.Payload, IsNew: true}
	if student != nil {
		pending = roster.PendingStudent{ExternalID: ev.Payload, Student: *student}
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.gen != gen || in.phase == PhaseIdle {
		// Deactivated while the lookup was outstanding.
		return Outcome{Kind: DroppedInactive}
	}
	in.phase = PhaseAwaitingSignature
	in.pending = pending
	return Outcome{Kind: Identified, StudentID: ev.Payload}
}

func (in *Intake) handleSignature(ctx context.Context, ev DecodeEvent, pending roster.PendingStudent, gen uint64) Outcome {
	if !ValidSignature(ev.Payload) {
		// Wrong shape for this phase: stay in AwaitingSignature.
		return Outcome{Kind: DroppedMalformed}
	}

	att, err := in.recorder.Record(ctx, in.courseID, pending, ev.Payload, ev.DecodedAt)

	// A valid-format signature is the terminal edge of every attempt: the
	// machine goes back to AwaitingStudentID no matter how recording went.
	// A deactivation during the store calls voids the attempt instead; the
	// result is discarded like an in-flight lookup's would be.
	in.mu.Lock()
	if in.gen != gen || in.phase == PhaseIdle {
		in.mu.Unlock()
		return Outcome{Kind: DroppedInactive}
	}
	in.phase = PhaseAwaitingStudentID
	in.pending = roster.PendingStudent{}
	in.mu.Unlock()

	if err != nil {
		in.feedback.Emit(FeedbackFailure)
		return Outcome{Kind: Rejected, StudentID: pending.ExternalID, Err: err}
	}
	in.feedback.Emit(FeedbackSuccess)
	if in.OnLogged != nil {
		in.OnLogged(pending.ExternalID)
	}
	return Outcome{Kind: Logged, StudentID: pending.ExternalID, Attendance: att}
}
