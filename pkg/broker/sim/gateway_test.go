package sim

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/pkg/broker"
)

func newTestGateway(t *testing.T, mutate func(*Config)) *Gateway {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DeliveryDelay = 0
	cfg.RejectRate = 0
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func TestRankingOrderedByMetric(t *testing.T) {
	g := newTestGateway(t, nil)
	ctx := context.Background()

	rows, err := g.GetMarketRanking(ctx, broker.MetricChangePercent, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.GreaterOrEqual(t, rows[0].ChangePercent, rows[1].ChangePercent)
	assert.GreaterOrEqual(t, rows[1].ChangePercent, rows[2].ChangePercent)

	rows, err = g.GetMarketRanking(ctx, broker.MetricVolume, 0)
	require.NoError(t, err)
	require.Len(t, rows, len(DefaultConfig().Symbols))
	for i := 1; i < len(rows); i++ {
		assert.GreaterOrEqual(t, rows[i-1].Volume, rows[i].Volume)
	}

	_, err = g.GetMarketRanking(ctx, broker.Metric("bogus"), 10)
	assert.Error(t, err)
}

func TestRankingVolumeInLots(t *testing.T) {
	g := newTestGateway(t, nil)
	g.SetQuote("9999", decimal.NewFromInt(100), decimal.NewFromInt(108), 2_500_400)

	rows, err := g.GetMarketRanking(context.Background(), broker.MetricVolume, 0)
	require.NoError(t, err)
	var found bool
	for _, r := range rows {
		if r.Symbol == "9999" {
			found = true
			assert.Equal(t, int64(2500), r.Volume)
			assert.True(t, r.Turnover.Equal(decimal.NewFromInt(108*2_500_400)))
		}
	}
	assert.True(t, found)
}

func TestQuoteRequiresSubscription(t *testing.T) {
	g := newTestGateway(t, nil)
	ctx := context.Background()

	q, err := g.GetLatestQuote(ctx, "2330")
	require.NoError(t, err)
	assert.Nil(t, q)

	require.NoError(t, g.SubscribeQuote("2330"))
	q, err = g.GetLatestQuote(ctx, "2330")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "2330", q.Symbol)

	var mu sync.Mutex
	var ticks []broker.Quote
	g.RegisterQuoteHandler(func(q broker.Quote) {
		mu.Lock()
		ticks = append(ticks, q)
		mu.Unlock()
	})
	g.Step()
	mu.Lock()
	assert.Len(t, ticks, 1)
	mu.Unlock()

	require.NoError(t, g.UnsubscribeQuote("2330"))
	q, err = g.GetLatestQuote(ctx, "2330")
	require.NoError(t, err)
	assert.Nil(t, q)

	assert.Error(t, g.SubscribeQuote("NOPE"))
}

func TestSubmitOrderSynchronousRejections(t *testing.T) {
	g := newTestGateway(t, nil)
	ctx := context.Background()
	price := decimal.NewFromInt(100)

	tests := []struct {
		name string
		req  broker.OrderRequest
		code string
	}{
		{"unknown symbol", broker.OrderRequest{Symbol: "XXXX", Side: broker.SideBuy, Price: price, Quantity: 1}, "SYMBOL"},
		{"zero quantity", broker.OrderRequest{Symbol: "2330", Side: broker.SideBuy, Price: price}, "QTY"},
		{"too large", broker.OrderRequest{Symbol: "2330", Side: broker.SideBuy, Price: price, Quantity: 10_000}, "QTY"},
		{"zero limit price", broker.OrderRequest{Symbol: "2330", Side: broker.SideBuy, Quantity: 1, PriceType: broker.PriceLimit}, "PRICE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := g.SubmitOrder(ctx, tt.req)
			assert.Empty(t, id)
			var se *broker.SubmissionError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code)
		})
	}
}

func TestSubmitOrderDeliversFills(t *testing.T) {
	g := newTestGateway(t, func(c *Config) {
		c.DuplicateRate = 0.5
		c.ReorderRate = 0.5
		c.MaxFillSlices = 4
	})
	ctx := context.Background()

	var mu sync.Mutex
	var maxCum int64
	statuses := map[string]bool{}
	deals := map[string]int64{}
	g.RegisterOrderHandler(func(r broker.OrderReport) {
		mu.Lock()
		defer mu.Unlock()
		cum, _ := strconv.ParseInt(r.DealQty, 10, 64)
		if cum > maxCum {
			maxCum = cum
		}
		statuses[r.Status] = true
	})
	g.RegisterDealHandler(func(d broker.DealReport) {
		mu.Lock()
		defer mu.Unlock()
		q, _ := strconv.ParseInt(d.Quantity, 10, 64)
		deals[d.Seq] = q
	})

	id, err := g.SubmitOrder(ctx, broker.OrderRequest{
		Symbol: "2330", Side: broker.SideBuy, Price: decimal.NewFromInt(50), Quantity: 8, PriceType: broker.PriceLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, "S000001", id)
	g.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(8), maxCum)
	assert.True(t, statuses["Submitted"])
	assert.True(t, statuses["Filled"])
	var total int64
	for _, q := range deals {
		total += q
	}
	assert.Equal(t, int64(8), total)

	positions, err := g.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(8), positions[0].Quantity)
	assert.True(t, positions[0].AverageCost.Equal(decimal.NewFromInt(50)))

	bal, err := g.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(1_000_000-8*50*1000)))
}

func TestCloseRejectsSubmissions(t *testing.T) {
	g := newTestGateway(t, nil)
	g.Close()
	_, err := g.SubmitOrder(context.Background(), broker.OrderRequest{Symbol: "2330", Price: decimal.NewFromInt(1), Quantity: 1})
	var se *broker.SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "CLOSED", se.Code)
}
