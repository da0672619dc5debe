package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"momentum-trader/pkg/broker"
)

var ErrInvalidThresholds = errors.New("invalid thresholds")

// Signal is a trading intent produced by Evaluate. It is never mutated.
type Signal struct {
	Symbol       string          `json:"symbol"`
	Direction    broker.Side     `json:"direction"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Quantity     int64           `json:"quantity"` // lots
	Reason       string          `json:"reason"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// Thresholds parameterise the momentum rule.
type Thresholds struct {
	ChangePercent float64 `yaml:"change_percent" json:"change_percent"`
	VolumeLots    int64   `yaml:"volume_lots" json:"volume_lots"`
	OrderLots     int64   `yaml:"order_lots" json:"order_lots"`
}

// DefaultThresholds: more than 6% up on more than 1000 lots, buy one lot.
func DefaultThresholds() Thresholds {
	return Thresholds{ChangePercent: 6.0, VolumeLots: 1000, OrderLots: 1}
}

func (t Thresholds) Validate() error {
	if t.ChangePercent <= 0 {
		return fmt.Errorf("%w: change percent %.2f must be positive", ErrInvalidThresholds, t.ChangePercent)
	}
	if t.VolumeLots <= 0 {
		return fmt.Errorf("%w: volume lots %d must be positive", ErrInvalidThresholds, t.VolumeLots)
	}
	if t.OrderLots <= 0 {
		return fmt.Errorf("%w: order lots %d must be positive", ErrInvalidThresholds, t.OrderLots)
	}
	return nil
}
