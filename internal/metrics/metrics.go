package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tonledger"

var (
	// Poller
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Total poll cycles by result",
	}, []string{"result"})

	FetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "fetch_errors_total",
		Help:      "Total indexer fetch failures (after retry exhaustion)",
	})

	FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "fetch_duration_seconds",
		Help:      "Indexer fetch duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	Checkpoint = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "checkpoint_lt",
		Help:      "Highest logical time durably processed",
	})

	ConsecutiveErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "consecutive_errors",
		Help:      "Consecutive failed poll cycles",
	})

	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "breaker_state",
		Help:      "Indexer circuit breaker state (0 closed, 1 open, 2 half-open)",
	})

	// Reconciler
	Deposits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "deposits_total",
		Help:      "Inbound transfers by outcome",
	}, []string{"outcome"})

	DepositedNano = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "credited_nanoton_total",
		Help:      "Total nanotons credited from chain deposits",
	})

	// Escrow
	EscrowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "escrow",
		Name:      "transitions_total",
		Help:      "Escrow state transitions by target state",
	}, []string{"to"})

	EscrowConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "escrow",
		Name:      "cas_conflicts_total",
		Help:      "Escrow updates retried after a concurrent modification",
	})

	// Events
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Published events by result",
	}, []string{"result"})
)

// Deposit outcomes
const (
	OutcomeCredited   = "credited"
	OutcomeUnassigned = "unassigned"
	OutcomeDuplicate  = "duplicate"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)
