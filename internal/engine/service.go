package engine

import (
	"context"

	"momentum-trader/internal/monitor"
	"momentum-trader/internal/order"
	"momentum-trader/internal/report"
	"momentum-trader/internal/risk"
	"momentum-trader/internal/strategy"
)

// Service defines the operations the API layer may use.
// The API layer should only interact with the trading core through this interface.
type Service interface {
	// Order queries
	ListOrders(ctx context.Context, status string) ([]order.Projection, error)
	GetOrder(ctx context.Context, id string) (order.Projection, error)
	ReconcileOrder(ctx context.Context, id string) (*order.Discrepancy, error)
	Summary(ctx context.Context) map[order.Status]int
	Anomalies(ctx context.Context, unresolvedOnly bool) []order.Anomaly

	// Session queries
	Signals(ctx context.Context) []strategy.Signal
	Submissions(ctx context.Context) []order.SubmissionResult
	Report(ctx context.Context) (report.SessionReport, error)

	// Runtime
	Metrics(ctx context.Context) monitor.MetricsSnapshot
	RiskMetrics(ctx context.Context) risk.Metrics
	SetTradingEnabled(ctx context.Context, enabled bool)
	TriggerCycle(ctx context.Context) (CycleResult, error)
	Status(ctx context.Context) SystemStatus
	Healthy() bool
}
