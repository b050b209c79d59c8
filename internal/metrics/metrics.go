package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan intake counters. Outcomes carry the OutcomeKind string; rejections
// additionally break down by cause so duplicate scans are visible apart from
// signature mismatches.
var (
	ScanOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Subsystem: "scan",
		Name:      "outcomes_total",
		Help:      "Decode events by intake outcome.",
	}, []string{"outcome"})

	ScanRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Subsystem: "scan",
		Name:      "rejections_total",
		Help:      "Completed scan attempts rejected by the recorder, by cause.",
	}, []string{"cause"})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "sessions_started_total",
		Help:      "Sessions successfully started.",
	})

	AttendanceLogged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "attendance_logged_total",
		Help:      "Attendance rows written.",
	})
)
