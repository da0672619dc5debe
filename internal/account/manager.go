// Package account keeps a periodically refreshed view of the broker account.
package account

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"momentum-trader/pkg/broker"
)

var log = logrus.WithField("component", "account")

// Snapshot is the account state at one sync.
type Snapshot struct {
	Positions          []broker.Position `json:"positions"`
	Balance            broker.Balance    `json:"balance"`
	TotalUnrealizedPnL decimal.Decimal   `json:"total_unrealized_pnl"`
	ProfitCount        int               `json:"profit_count"`
	LossCount          int               `json:"loss_count"`
	SyncedAt           time.Time         `json:"synced_at"`
}

// Manager caches positions and balance from the broker account service.
type Manager struct {
	account      broker.Account
	syncInterval time.Duration

	mu      sync.RWMutex
	snap    Snapshot
	synced  bool
	lastErr error
}

func NewManager(acc broker.Account, syncInterval time.Duration) *Manager {
	return &Manager{account: acc, syncInterval: syncInterval}
}

// Start syncs once and then every syncInterval until ctx ends.
func (m *Manager) Start(ctx context.Context) {
	if err := m.Sync(ctx); err != nil {
		log.Warnf("account: initial sync failed: %v", err)
	}
	if m.syncInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sync(ctx); err != nil {
					log.Warnf("account: sync error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches positions and balance. On failure the previous snapshot is kept.
func (m *Manager) Sync(ctx context.Context) error {
	if m.account == nil {
		return errors.New("account: no account service configured")
	}
	positions, err := m.account.ListPositions(ctx)
	if err != nil {
		m.setErr(err)
		return err
	}
	bal, err := m.account.GetBalance(ctx)
	if err != nil {
		m.setErr(err)
		return err
	}

	snap := Summarize(positions)
	snap.Balance = bal
	snap.SyncedAt = time.Now()

	m.mu.Lock()
	m.snap = snap
	m.synced = true
	m.lastErr = nil
	m.mu.Unlock()

	log.Debugf("account: synced %d positions, total=%s available=%s pnl=%s",
		len(positions), bal.Total, bal.Available, snap.TotalUnrealizedPnL)
	return nil
}

func (m *Manager) setErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// Refresh syncs and returns the newest snapshot. When the sync fails the
// last good snapshot is returned together with the error.
func (m *Manager) Refresh(ctx context.Context) (Snapshot, error) {
	err := m.Sync(ctx)
	snap, _ := m.Snapshot()
	return snap, err
}

// Snapshot returns the cached state and whether any sync has succeeded.
func (m *Manager) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snap
	snap.Positions = append([]broker.Position(nil), m.snap.Positions...)
	return snap, m.synced
}

func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Summarize totals unrealized PnL and counts winning and losing positions.
func Summarize(positions []broker.Position) Snapshot {
	snap := Snapshot{
		Positions:          append([]broker.Position(nil), positions...),
		TotalUnrealizedPnL: decimal.Zero,
	}
	for _, p := range positions {
		snap.TotalUnrealizedPnL = snap.TotalUnrealizedPnL.Add(p.UnrealizedPnL)
		switch {
		case p.UnrealizedPnL.IsPositive():
			snap.ProfitCount++
		case p.UnrealizedPnL.IsNegative():
			snap.LossCount++
		}
	}
	return snap
}
