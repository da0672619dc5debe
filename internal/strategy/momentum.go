package strategy

import (
	"fmt"

	"momentum-trader/pkg/broker"
)

// Evaluate applies the momentum rule to one ranking row and its live quote.
// It returns a Buy signal iff the change exceeds th.ChangePercent and the
// cumulative volume exceeds th.VolumeLots, otherwise nil. It has no state:
// equal inputs always give equal results, and GeneratedAt is the quote's
// own timestamp.
func Evaluate(entry broker.RankEntry, quote broker.Quote, th Thresholds) *Signal {
	if entry.Symbol == "" || (quote.Symbol != "" && quote.Symbol != entry.Symbol) {
		return nil
	}
	if !quote.Close.IsPositive() {
		return nil
	}
	lots := entry.Volume
	if quote.CumulativeVolume > 0 {
		lots = broker.Lots(quote.CumulativeVolume)
	}

	if entry.ChangePercent <= th.ChangePercent || lots <= th.VolumeLots {
		return nil
	}

	qty := th.OrderLots
	if qty <= 0 {
		qty = 1
	}
	return &Signal{
		Symbol:       entry.Symbol,
		Direction:    broker.SideBuy,
		TriggerPrice: quote.Close,
		Quantity:     qty,
		Reason: fmt.Sprintf("change %.2f%% > %.2f%%, volume %d lots > %d lots",
			entry.ChangePercent, th.ChangePercent, lots, th.VolumeLots),
		GeneratedAt: quote.Timestamp,
	}
}
