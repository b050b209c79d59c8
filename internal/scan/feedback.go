package scan

import "log"

// FeedbackKind distinguishes the three operator signals: the identify pulse
// after a student ID lands, and the success/failure pulses after a completed
// attempt.
type FeedbackKind int

const (
	FeedbackIdentify FeedbackKind = iota
	FeedbackSuccess
	FeedbackFailure
)

func (k FeedbackKind) String() string {
	switch k {
	case FeedbackIdentify:
		return "identify"
	case FeedbackSuccess:
		return "success"
	case FeedbackFailure:
		return "failure"
	}
	return "unknown"
}

// Feedback is the fire-and-forget signal back to the scanning device. The
// intake never awaits or branches on it.
type Feedback interface {
	Emit(kind FeedbackKind)
}

// NopFeedback discards all signals.
type NopFeedback struct{}

func (NopFeedback) Emit(FeedbackKind) {}

// LogFeedback writes signals to the process log.
type LogFeedback struct{}

func (LogFeedback) Emit(kind FeedbackKind) {
	log.Printf("feedback: %s", kind)
}

// FeedbackFunc adapts a function to the Feedback interface.
type FeedbackFunc func(FeedbackKind)

func (f FeedbackFunc) Emit(kind FeedbackKind) { f(kind) }
