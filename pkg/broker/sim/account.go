package sim

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"momentum-trader/pkg/broker"
)

func (g *Gateway) ListPositions(ctx context.Context) ([]broker.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]broker.Position, 0, len(g.holdings))
	for sym, h := range g.holdings {
		if h.qty == 0 {
			continue
		}
		shares := decimal.NewFromInt(h.qty * broker.SharesPerLot)
		avg := h.cost.Div(shares).Round(4)
		last := avg
		if inst, ok := g.instruments[sym]; ok {
			last = inst.close
		}
		out = append(out, broker.Position{
			Symbol:        sym,
			Quantity:      h.qty,
			AverageCost:   avg,
			LastPrice:     last,
			UnrealizedPnL: last.Sub(avg).Mul(shares).Round(2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (g *Gateway) GetBalance(ctx context.Context) (broker.Balance, error) {
	if err := ctx.Err(); err != nil {
		return broker.Balance{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	total := g.cash
	for sym, h := range g.holdings {
		if inst, ok := g.instruments[sym]; ok {
			total = total.Add(inst.close.Mul(decimal.NewFromInt(h.qty * broker.SharesPerLot)))
		}
	}
	return broker.Balance{Available: g.cash, Total: total}, nil
}
