// Package reconciliation periodically compares each order's reported
// cumulative quantity with the sum of its deals.
package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"momentum-trader/internal/events"
	"momentum-trader/internal/order"
)

var log = logrus.WithField("component", "reconciliation")

// Source yields the current discrepancies.
type Source interface {
	ReconcileAll() []order.Discrepancy
}

// Publisher receives newly detected discrepancies.
type Publisher interface {
	Publish(topic events.Topic, payload any)
}

// Service handles periodic reconciliation.
type Service struct {
	source   Source
	bus      Publisher
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	open   map[string]order.Discrepancy
	runs   int
	latest *Report
}

// Report contains one reconciliation pass.
type Report struct {
	Timestamp     time.Time           `json:"timestamp"`
	Discrepancies []order.Discrepancy `json:"discrepancies"`
	New           []order.Discrepancy `json:"new"`
	Resolved      []string            `json:"resolved"`
	HasDiffs      bool                `json:"has_diffs"`
}

func NewService(source Source, bus Publisher, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		source:   source,
		bus:      bus,
		interval: interval,
		now:      time.Now,
		open:     make(map[string]order.Discrepancy),
	}
}

// Start begins periodic reconciliation until ctx ends.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.handleReport(s.Reconcile())
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Infof("reconciliation: service started (interval: %v)", s.interval)
}

// Reconcile runs one pass. A discrepancy is reported as new when the order
// had none or its difference changed since the previous pass.
func (s *Service) Reconcile() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: s.now()}
	if s.source == nil {
		return report
	}
	report.Discrepancies = s.source.ReconcileAll()
	report.HasDiffs = len(report.Discrepancies) > 0

	current := make(map[string]order.Discrepancy, len(report.Discrepancies))
	for _, d := range report.Discrepancies {
		current[d.OrderID] = d
		if prev, ok := s.open[d.OrderID]; !ok || prev != d {
			report.New = append(report.New, d)
		}
	}
	for id := range s.open {
		if _, ok := current[id]; !ok {
			report.Resolved = append(report.Resolved, id)
		}
	}
	s.open = current
	s.runs++
	s.latest = report

	if s.bus != nil {
		for _, d := range report.New {
			s.bus.Publish(events.TopicDiscrepancy, d)
		}
	}
	return report
}

func (s *Service) handleReport(report *Report) {
	for _, d := range report.New {
		log.Warnf("reconciliation: order %s status qty=%d deal qty=%d diff=%d",
			d.OrderID, d.CumulativeQty, d.DealQty, d.Difference)
	}
	for _, id := range report.Resolved {
		log.Infof("reconciliation: order %s now consistent", id)
	}
	if !report.HasDiffs {
		log.Debug("reconciliation: all orders consistent")
	}
}

// Open returns the discrepancies found by the latest pass.
func (s *Service) Open() []order.Discrepancy {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]order.Discrepancy, 0, len(s.open))
	for _, d := range s.open {
		out = append(out, d)
	}
	return out
}

// Runs returns how many passes completed.
func (s *Service) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}
