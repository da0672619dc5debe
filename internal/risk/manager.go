package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "risk")

// Manager enforces per-session pre-trade limits. Allow reserves capacity
// when it says yes.
type Manager struct {
	mu      sync.RWMutex
	config  Config
	blocked map[string]struct{}
	metrics Metrics
}

func NewManager(cfg Config) *Manager {
	m := &Manager{}
	m.SetConfig(cfg)
	log.Infof("risk manager initialized: max_orders=%d max_notional=%s", cfg.MaxOrdersPerSession, cfg.MaxNotionalPerOrder)
	return m
}

func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	m.blocked = make(map[string]struct{}, len(cfg.Blocklist))
	for _, s := range cfg.Blocklist {
		m.blocked[s] = struct{}{}
	}
}

func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Allow checks one order of the given notional value against the limits.
func (m *Manager) Allow(symbol string, notional decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(symbol, notional); err != nil {
		m.metrics.OrdersRejected++
		m.metrics.LastRejectCause = err.Error()
		log.Warnf("risk rejected %s: %v", symbol, err)
		return err
	}

	m.metrics.OrdersAllowed++
	m.metrics.NotionalUsed = m.metrics.NotionalUsed.Add(notional)
	if limit := m.config.MaxOrdersPerSession; limit > 0 {
		m.metrics.UsageRatio = float64(m.metrics.OrdersAllowed) / float64(limit)
		if w := m.config.WarningThreshold; w > 0 && m.metrics.UsageRatio >= w {
			log.Warnf("risk warning: %d of %d session orders used", m.metrics.OrdersAllowed, limit)
		}
	}
	return nil
}

func (m *Manager) checkLocked(symbol string, notional decimal.Decimal) error {
	cfg := m.config
	if !cfg.EnableTrading {
		return ErrRiskOff
	}
	if _, ok := m.blocked[symbol]; ok {
		return fmt.Errorf("%w: %s", ErrBlocked, symbol)
	}
	if cfg.MaxOrdersPerSession > 0 && m.metrics.OrdersAllowed >= cfg.MaxOrdersPerSession {
		return fmt.Errorf("%w (%d)", ErrSessionCap, cfg.MaxOrdersPerSession)
	}
	if cfg.MaxNotionalPerOrder.IsPositive() && notional.GreaterThan(cfg.MaxNotionalPerOrder) {
		return fmt.Errorf("%w: %s > %s", ErrNotional, notional, cfg.MaxNotionalPerOrder)
	}
	if cfg.MaxSessionNotional.IsPositive() && m.metrics.NotionalUsed.Add(notional).GreaterThan(cfg.MaxSessionNotional) {
		return fmt.Errorf("%w: session total would exceed %s", ErrNotional, cfg.MaxSessionNotional)
	}
	return nil
}

func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// ResetSession clears usage counters for a new trading day.
func (m *Manager) ResetSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = Metrics{}
}
