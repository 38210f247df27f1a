package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CreditOperations counts engine operations by kind and outcome.
	CreditOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_operations_total",
			Help: "Credit engine operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// BalanceConflictRetries counts optimistic-write conflicts that led to
	// a retry. A sustained rate here means one workspace is hot.
	BalanceConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_balance_conflict_retries_total",
			Help: "Optimistic balance writes retried after a version conflict",
		},
	)

	// InsufficientCreditRejections counts reserves refused pre-flight.
	InsufficientCreditRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_insufficient_rejections_total",
			Help: "Reservations rejected because the balance could not cover the estimate",
		},
	)

	// NegativeCostClamps counts pricing results clamped to zero.
	NegativeCostClamps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_negative_cost_clamps_total",
			Help: "Negative pricing-calculator results clamped to zero",
		},
	)

	// VerificationPublishes counts cost-verification requests by outcome.
	VerificationPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_verification_publishes_total",
			Help: "Cost verification requests published to the queue",
		},
		[]string{"outcome"},
	)

	// WorkspaceBalance exposes the last committed balance per workspace in
	// nano-USD.
	WorkspaceBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workspace_credit_balance_nano",
			Help: "Current workspace credit balance in nano-USD",
		},
		[]string{"workspace_id"},
	)
)

// ObserveOperation records one engine operation outcome.
func ObserveOperation(operation, outcome string) {
	CreditOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveBalance records the balance committed by a successful write.
func ObserveBalance(workspaceID string, balance int64) {
	WorkspaceBalance.WithLabelValues(workspaceID).Set(float64(balance))
}
