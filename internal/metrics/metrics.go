// Package metrics holds the process-wide Prometheus collectors for the
// focus service.
//
// Naming convention: namespace_subsystem_name.
//   - namespace: focus (application-level grouping)
//   - subsystem: bridge, worker, conference, sourcemap, colibri (feature-level)
//   - name: the specific metric
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConferences is the current number of live conferences.
	ActiveConferences = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "focus",
		Subsystem: "conference",
		Name:      "active",
		Help:      "Current number of active conferences",
	})

	// ConferenceParticipants tracks current participant count per conference.
	ConferenceParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "focus",
		Subsystem: "conference",
		Name:      "participants",
		Help:      "Number of participants in each conference",
	}, []string{"conference_id"})

	// BridgeSelections counts selection attempts by strategy and outcome.
	BridgeSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "bridge",
		Name:      "selections_total",
		Help:      "Total bridge selection attempts",
	}, []string{"strategy", "outcome"})

	// OperationalBridges is the current count of operational (non-failed) bridges.
	OperationalBridges = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "focus",
		Subsystem: "bridge",
		Name:      "operational",
		Help:      "Current number of operational bridges",
	})

	// BridgesLost counts non-graceful bridge removals.
	BridgesLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "bridge",
		Name:      "lost_total",
		Help:      "Total number of bridges removed non-gracefully",
	})

	// AllocationDuration tracks channel-allocation RPC latency.
	AllocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "focus",
		Subsystem: "colibri",
		Name:      "allocation_seconds",
		Help:      "Time spent allocating channels on a bridge",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	// WorkerSelections counts worker selection attempts by outcome.
	WorkerSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "worker",
		Name:      "selections_total",
		Help:      "Total worker selection attempts",
	}, []string{"capability", "outcome"})

	// WorkerRetries counts dial-out/recording retries.
	WorkerRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "worker",
		Name:      "retries_total",
		Help:      "Total number of worker retries after a failure",
	})

	// WorkerSingleInstanceErrors counts hard errors from a single worker attempt.
	WorkerSingleInstanceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "worker",
		Name:      "single_instance_errors_total",
		Help:      "Total single-worker-attempt errors",
	})

	// WorkerSingleInstanceTimeouts counts timeouts from a single worker attempt.
	WorkerSingleInstanceTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "worker",
		Name:      "single_instance_timeouts_total",
		Help:      "Total single-worker-attempt timeouts",
	})

	// AcceptedWorkerRequests counts dial-out/recording requests that ultimately succeeded.
	AcceptedWorkerRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "worker",
		Name:      "accepted_requests_total",
		Help:      "Total worker requests accepted end to end",
	})

	// SourceMapValidationFailures counts tryToAdd/tryToRemove rejections by kind.
	SourceMapValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "sourcemap",
		Name:      "validation_failures_total",
		Help:      "Total ConferenceSourceMap validation failures by kind",
	}, []string{"kind"})

	// CircuitBreakerState tracks breaker state per service (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "focus",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts requests rejected while the breaker was open.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by an open circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests counts requests that passed the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focus",
		Subsystem: "rate_limit",
		Name:      "admitted_total",
		Help:      "Total requests admitted by the rate limiter",
	}, []string{"endpoint"})
)
