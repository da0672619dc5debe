package engine

import (
	"context"
	"fmt"
	"time"

	"momentum-trader/internal/monitor"
	"momentum-trader/internal/order"
	"momentum-trader/internal/report"
	"momentum-trader/internal/risk"
	"momentum-trader/internal/strategy"
)

// Impl implements the Service interface by composing existing modules.
type Impl struct {
	engine   *Engine
	tracker  *order.Tracker
	executor *order.Executor
	reports  *report.Generator
	riskMgr  *risk.Manager
	metrics  *monitor.SystemMetrics
	market   Market
	alive    func() bool

	meta Meta
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Engine   *Engine
	Tracker  *order.Tracker
	Executor *order.Executor
	Reports  *report.Generator
	RiskMgr  *risk.Manager
	Metrics  *monitor.SystemMetrics
	Market   Market
	Meta     Meta

	// Alive reports whether the event pipeline and scheduler are still running.
	Alive func() bool
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	return &Impl{
		engine:   cfg.Engine,
		tracker:  cfg.Tracker,
		executor: cfg.Executor,
		reports:  cfg.Reports,
		riskMgr:  cfg.RiskMgr,
		metrics:  cfg.Metrics,
		market:   cfg.Market,
		alive:    cfg.Alive,
		meta:     cfg.Meta,
	}
}

var _ Service = (*Impl)(nil)

// --- Order Queries ---

func (e *Impl) ListOrders(ctx context.Context, status string) ([]order.Projection, error) {
	if status == "" {
		return e.tracker.Orders(), nil
	}
	s := order.Status(status)
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	ids := e.tracker.ListByStatus(s)
	out := make([]order.Projection, 0, len(ids))
	for _, id := range ids {
		p, err := e.tracker.GetOrder(id)
		if err != nil {
			// Moved or archived between the two reads.
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (e *Impl) GetOrder(ctx context.Context, id string) (order.Projection, error) {
	return e.tracker.GetOrder(id)
}

func (e *Impl) ReconcileOrder(ctx context.Context, id string) (*order.Discrepancy, error) {
	return e.tracker.Reconcile(id)
}

func (e *Impl) Summary(ctx context.Context) map[order.Status]int {
	return e.tracker.Summary()
}

func (e *Impl) Anomalies(ctx context.Context, unresolvedOnly bool) []order.Anomaly {
	all := e.tracker.Anomalies()
	if !unresolvedOnly {
		return all
	}
	out := make([]order.Anomaly, 0, len(all))
	for _, a := range all {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	return out
}

// --- Session Queries ---

func (e *Impl) Signals(ctx context.Context) []strategy.Signal {
	if e.engine == nil {
		return nil
	}
	return e.engine.Session().Signals()
}

func (e *Impl) Submissions(ctx context.Context) []order.SubmissionResult {
	if e.executor == nil {
		return nil
	}
	return e.executor.Results()
}

func (e *Impl) Report(ctx context.Context) (report.SessionReport, error) {
	if e.reports == nil {
		return report.SessionReport{}, fmt.Errorf("report generator not available")
	}
	return e.reports.Generate(ctx)
}

// --- Runtime ---

func (e *Impl) Metrics(ctx context.Context) monitor.MetricsSnapshot {
	if e.metrics == nil {
		return monitor.MetricsSnapshot{Timestamp: time.Now()}
	}
	return e.metrics.GetSnapshot()
}

func (e *Impl) RiskMetrics(ctx context.Context) risk.Metrics {
	if e.riskMgr == nil {
		return risk.Metrics{}
	}
	return e.riskMgr.GetMetrics()
}

// SetTradingEnabled flips the pre-trade kill switch.
func (e *Impl) SetTradingEnabled(ctx context.Context, enabled bool) {
	if e.riskMgr == nil {
		return
	}
	cfg := e.riskMgr.GetConfig()
	cfg.EnableTrading = enabled
	e.riskMgr.SetConfig(cfg)
}

// TriggerCycle runs a cycle now, outside the schedule.
func (e *Impl) TriggerCycle(ctx context.Context) (CycleResult, error) {
	if e.engine == nil {
		return CycleResult{}, fmt.Errorf("engine not available")
	}
	return e.engine.RunCycle(ctx)
}

func (e *Impl) Status(ctx context.Context) SystemStatus {
	st := SystemStatus{
		SessionID:    e.meta.SessionID,
		Mode:         e.meta.Mode,
		DryRun:       e.meta.DryRun,
		Broker:       e.meta.Broker,
		HostID:       e.meta.HostID,
		ScanInterval: e.meta.ScanInterval.String(),
		Subscribed:   []string{},
		Tracked:      e.tracker.Len(),
		Version:      e.meta.Version,
		ServerTime:   time.Now(),
	}
	if e.engine != nil {
		st.Thresholds = e.engine.Thresholds()
		st.Cycles = e.engine.Cycles()
		st.LastCycle = e.engine.LastCycle()
	}
	if e.market != nil {
		st.Subscribed = e.market.Subscribed()
	}
	if e.riskMgr != nil {
		st.Trading = e.riskMgr.GetConfig().EnableTrading
	}
	return st
}

// Healthy reports whether the core is still processing.
func (e *Impl) Healthy() bool {
	if e.alive == nil {
		return true
	}
	return e.alive()
}
