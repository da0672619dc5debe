// Package monitor collects runtime metrics and raises alerts on order anomalies.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"momentum-trader/internal/events"
	"momentum-trader/internal/order"
)

var log = logrus.WithField("component", "monitor")

// Monitor watches anomaly and discrepancy topics, counts them and emits alerts.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Sink    AlertSink
	Now     func() time.Time
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Warn("monitor not fully configured; skipping")
		return
	}
	anomalies, unsubA := m.Bus.Subscribe(events.TopicAnomaly, 256)
	discrepancies, unsubD := m.Bus.Subscribe(events.TopicDiscrepancy, 64)
	go func() {
		defer unsubA()
		defer unsubD()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-anomalies:
				if !ok {
					return
				}
				if m.Metrics != nil {
					m.Metrics.IncrementAnomalies()
				}
				m.alert(msg)
			case msg, ok := <-discrepancies:
				if !ok {
					return
				}
				if m.Metrics != nil {
					m.Metrics.IncrementDiscrepancies()
				}
				m.alert(msg)
			}
		}
	}()
}

func (m *Monitor) alert(msg any) {
	if err := m.Sink.Send(m.formatAlert(msg)); err != nil {
		log.Errorf("monitor: alert delivery failed: %v", err)
	}
}

func (m *Monitor) formatAlert(msg any) string {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	return "[" + now().Format(time.RFC3339) + "] " + describe(msg)
}

func describe(v any) string {
	switch t := v.(type) {
	case order.Anomaly:
		return fmt.Sprintf("order anomaly %s on %s: %s", t.Kind, t.OrderID, t.Detail)
	case order.Discrepancy:
		return fmt.Sprintf("order %s status qty %d != deal qty %d (diff %d)",
			t.OrderID, t.CumulativeQty, t.DealQty, t.Difference)
	case string:
		return t
	default:
		return "alert triggered"
	}
}
