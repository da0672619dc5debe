package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrSessionCap = errors.New("session order cap reached")
	ErrNotional   = errors.New("order notional over limit")
	ErrBlocked    = errors.New("symbol blocked")
	ErrRiskOff    = errors.New("trading disabled")
)

// Config defines pre-trade limits. Zero values disable a limit.
type Config struct {
	EnableTrading       bool            `json:"enable_trading"`
	MaxOrdersPerSession int             `json:"max_orders_per_session"`
	MaxNotionalPerOrder decimal.Decimal `json:"max_notional_per_order"`
	MaxSessionNotional  decimal.Decimal `json:"max_session_notional"`
	Blocklist           []string        `json:"blocklist"`
	WarningThreshold    float64         `json:"warning_threshold"` // usage ratio that logs a warning
}

func DefaultConfig() Config {
	return Config{
		EnableTrading:       true,
		MaxOrdersPerSession: 20,
		MaxNotionalPerOrder: decimal.NewFromInt(2_000_000),
		WarningThreshold:    0.8,
	}
}

// Metrics tracks what the session has used so far.
type Metrics struct {
	OrdersAllowed   int             `json:"orders_allowed"`
	OrdersRejected  int             `json:"orders_rejected"`
	NotionalUsed    decimal.Decimal `json:"notional_used"`
	LastRejectCause string          `json:"last_reject_cause,omitempty"`
	UsageRatio      float64         `json:"usage_ratio"` // orders allowed / session cap
}
