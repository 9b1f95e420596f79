// Package metrics provides the Prometheus collectors for enrollment and
// attendance matching.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Recognition outcomes.
const (
	OutcomePresent        = "present"
	OutcomeAlreadyPresent = "already_present"
	OutcomeNotRecognized  = "not_recognized"
	OutcomeError          = "error"
)

// Enrollment outcomes.
const (
	EnrollAccepted      = "accepted"
	EnrollNoDescriptor  = "no_descriptor"
	EnrollDuplicateFace = "duplicate_face"
	EnrollInvalid       = "invalid"
)

// Metrics groups the service collectors.
type Metrics struct {
	RecognitionTotal *prometheus.CounterVec
	EnrollmentTotal  *prometheus.CounterVec
	MatchDistance    prometheus.Histogram
	CandidateSetSize prometheus.Histogram
	SessionsOpened   prometheus.Counter
	SessionsClosed   *prometheus.CounterVec
}

// New creates the collectors and registers them on registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RecognitionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chamada_recognitions_total",
				Help: "Attendance recognition attempts partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		EnrollmentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chamada_enrollments_total",
				Help: "Student enrollment attempts partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		MatchDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chamada_match_distance",
			Help:    "Euclidean distance of the nearest candidate for each recognition.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		CandidateSetSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chamada_candidate_set_size",
			Help:    "Number of enrolled descriptors scanned per match.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chamada_sessions_opened_total",
			Help: "Attendance sessions opened.",
		}),
		SessionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chamada_sessions_closed_total",
				Help: "Attendance sessions closed partitioned by final status.",
			},
			[]string{"status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.RecognitionTotal, m.EnrollmentTotal, m.MatchDistance,
		m.CandidateSetSize, m.SessionsOpened, m.SessionsClosed,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

// NewNop returns collectors registered on a throwaway registry, for tests.
func NewNop() *Metrics {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		panic(err)
	}
	return m
}
