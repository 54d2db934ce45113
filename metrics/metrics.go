// Package metrics holds the Prometheus collectors for the ledger.
// They register on the default registry; api exposes it on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "costledger"

var (
	CostsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "costs_created_total",
		Help:      "Costs created, by split strategy.",
	}, []string{"strategy"})

	SplitsDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "splits_degraded_total",
		Help:      "usage_based splits that fell back to equal.",
	})

	PaymentsInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_initiated_total",
		Help:      "Payments created, by method.",
	}, []string{"method"})

	PaymentsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_settled_total",
		Help:      "Payments moved to completed, by method.",
	}, []string{"method"})

	PaymentsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_failed_total",
		Help:      "Payments moved to failed, by method and reason.",
	}, []string{"method", "reason"})

	SettleDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settle_duplicates_total",
		Help:      "Settle calls for an already completed payment.",
	})

	SettleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settle_duration_seconds",
		Help:      "Time spent in the settle transaction.",
		Buckets:   prometheus.DefBuckets,
	})

	CallbacksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "callbacks_rejected_total",
		Help:      "Gateway callbacks rejected, by provider and reason.",
	}, []string{"provider", "reason"})

	WalletRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wallet_rejections_total",
		Help:      "Wallet deltas rejected, by reason.",
	}, []string{"reason"})

	InvoicesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invoices_generated_total",
		Help:      "Invoices generated.",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events not delivered to a sink after retries, by event type.",
	}, []string{"event"})

	SweepUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_updates_total",
		Help:      "Rows changed by scheduled sweeps, by sweep.",
	}, []string{"sweep"})
)
