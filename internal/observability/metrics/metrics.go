// Package metrics registers the Prometheus instruments shared by the
// billing services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CreditTransactions counts ledger entries by transaction type.
	CreditTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meridian",
		Subsystem: "credit",
		Name:      "transactions_total",
		Help:      "Credit ledger entries written, by transaction type.",
	}, []string{"type"})

	// DebitRejections counts debits refused for insufficient balance.
	DebitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meridian",
		Subsystem: "credit",
		Name:      "debit_rejections_total",
		Help:      "Debits refused because the balance could not cover them.",
	})

	// WebhookEvents counts gateway events by type and outcome.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meridian",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Gateway webhook events received, by event type and outcome.",
	}, []string{"type", "outcome"})

	// SweepRuns counts background sweep executions by job and outcome.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meridian",
		Subsystem: "scheduler",
		Name:      "sweep_runs_total",
		Help:      "Background sweep executions, by job name and outcome.",
	}, []string{"job", "outcome"})
)
