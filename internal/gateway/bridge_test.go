package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/events"
	"momentum-trader/internal/order"
	"momentum-trader/pkg/broker"
	"momentum-trader/pkg/broker/sim"
	"momentum-trader/pkg/cache"
)

var fixed = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixed }

func TestMapStatus(t *testing.T) {
	tests := map[string]order.Status{
		"PendingSubmit": order.StatusPending,
		"PreSubmitted":  order.StatusSubmitted,
		"Submitted":     order.StatusSubmitted,
		"Filling":       order.StatusPartiallyFilled,
		"PartFilled":    order.StatusPartiallyFilled,
		"Filled":        order.StatusFilled,
		"Cancelled":     order.StatusCancelled,
		"Failed":        order.StatusRejected,
	}
	for raw, want := range tests {
		got, ok := MapStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := MapStatus("Exploded")
	assert.False(t, ok)
}

func TestTranslateOrder(t *testing.T) {
	u := TranslateOrder(broker.OrderReport{OrderID: " 42 ", Status: "Filling", DealQty: "300", Timestamp: fixed.UnixMilli()}, clock)
	assert.Equal(t, "42", u.OrderID)
	assert.Equal(t, order.StatusPartiallyFilled, u.Status)
	assert.Equal(t, int64(300), u.CumulativeQty)
	assert.True(t, u.Timestamp.Equal(fixed))
	assert.NotEmpty(t, u.Raw)

	bad := TranslateOrder(broker.OrderReport{OrderID: "42", Status: "Filled", DealQty: "abc"}, clock)
	assert.Equal(t, int64(-1), bad.CumulativeQty)
	assert.Equal(t, fixed, bad.Timestamp)
}

func TestTranslateDeal(t *testing.T) {
	d := TranslateDeal(broker.DealReport{OrderID: "42", Seq: "7", Price: "101.5", Quantity: "2"}, clock)
	assert.Equal(t, "7", d.DealID)
	assert.Equal(t, int64(2), d.Qty)
	assert.True(t, d.Price.Equal(decimal.RequireFromString("101.5")))

	bad := TranslateDeal(broker.DealReport{OrderID: "42", Price: "x", Quantity: "y"}, clock)
	assert.Zero(t, bad.Qty)
	assert.True(t, bad.Price.IsZero())
}

func TestBridgeQueuesAndJournals(t *testing.T) {
	q := events.NewQueue[order.Event](8)
	j, err := order.OpenJournal(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	defer j.Close()
	quotes := cache.NewQuoteCache()
	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.TopicQuote, 1)
	defer unsub()

	b := NewBridge(q, WithJournal(j), WithQuoteCache(quotes), WithBus(bus), WithClock(clock))
	b.HandleOrderReport(broker.OrderReport{OrderID: "1", Status: "Submitted", DealQty: "0"})
	b.HandleDealReport(broker.DealReport{OrderID: "1", Seq: "a", Price: "10", Quantity: "1"})
	b.HandleQuote(broker.Quote{Symbol: "AAA", Close: decimal.NewFromInt(10)})

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(2), j.Written())
	_, ok := quotes.Get("AAA")
	assert.True(t, ok)
	assert.Equal(t, "AAA", (<-ticks).(broker.Quote).Symbol)

	q.Close()
	b.HandleOrderReport(broker.OrderReport{OrderID: "1", Status: "Filled", DealQty: "1"})
	st := b.Stats()
	assert.Equal(t, uint64(2), st.OrderReports)
	assert.Equal(t, uint64(1), st.DealReports)
	assert.Equal(t, uint64(1), st.QuoteTicks)
	assert.Equal(t, uint64(1), st.Lost)
}

// Duplicated and reordered pushes from the simulated broker still reduce to
// consistent projections.
func TestBridgeWithSimulatedBrokerConverges(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.DeliveryDelay = 0
	cfg.RejectRate = 0
	cfg.DuplicateRate = 0.5
	cfg.ReorderRate = 0.5
	gw := sim.New(cfg)

	q := events.NewQueue[order.Event](4)
	tr := order.NewTracker()
	done := make(chan struct{})
	go func() {
		tr.Run(q)
		close(done)
	}()
	NewBridge(q).Attach(gw)

	ctx := context.Background()
	var ids []string
	for i, sym := range cfg.Symbols[:4] {
		id, err := gw.SubmitOrder(ctx, broker.OrderRequest{
			Symbol: sym, Side: broker.SideBuy, Price: decimal.NewFromInt(10), Quantity: int64(3 + i), PriceType: broker.PriceLimit,
		})
		require.NoError(t, err)
		require.NoError(t, tr.Register(order.Order{ID: id, Symbol: sym, RequestedQty: int64(3 + i)}))
		ids = append(ids, id)
	}
	gw.Drain()
	q.Close()
	<-done

	for _, id := range ids {
		p, err := tr.GetOrder(id)
		require.NoError(t, err)
		assert.Equal(t, order.StatusFilled, p.Status, id)
		assert.Equal(t, p.RequestedQty, p.CumulativeQty, id)
		d, err := tr.Reconcile(id)
		require.NoError(t, err)
		assert.Nil(t, d, id)
	}
}
