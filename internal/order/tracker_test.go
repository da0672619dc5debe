package order

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/events"
	"momentum-trader/pkg/broker"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func upd(id string, s Status, cum int64, sec int) OrderUpdate {
	return OrderUpdate{OrderID: id, Status: s, CumulativeQty: cum, Timestamp: at(sec)}
}

func deal(id, dealID string, qty int64, sec int) Deal {
	return Deal{OrderID: id, DealID: dealID, Price: decimal.NewFromInt(100), Qty: qty, Timestamp: at(sec)}
}

func registered(t *testing.T, tr *Tracker, id string, qty int64) {
	t.Helper()
	require.NoError(t, tr.Register(Order{
		ID: id, Symbol: "AAA", Direction: broker.SideBuy,
		RequestedPrice: decimal.NewFromInt(100), RequestedQty: qty, SubmittedAt: at(0),
	}))
}

func kinds(as []Anomaly) []AnomalyKind {
	out := make([]AnomalyKind, 0, len(as))
	for _, a := range as {
		out = append(out, a.Kind)
	}
	return out
}

func TestDuplicateUpdateAbsorbed(t *testing.T) {
	tr := NewTracker()
	tr.OnOrderEvent(upd("1", StatusSubmitted, 0, 1))
	tr.OnOrderEvent(upd("1", StatusPartiallyFilled, 300, 2))
	out := tr.OnOrderEvent(upd("1", StatusPartiallyFilled, 300, 3))

	assert.False(t, out.Accepted)
	p, err := tr.GetOrder("1")
	require.NoError(t, err)
	assert.Len(t, p.History, 2)
	assert.Equal(t, StatusPartiallyFilled, p.Status)
	assert.Equal(t, int64(300), p.CumulativeQty)
	assert.Equal(t, at(2), p.LastUpdateAt)
}

func TestIdempotentUnderExactReplay(t *testing.T) {
	tr := NewTracker()
	registered(t, tr, "1", 10)
	u := upd("1", StatusSubmitted, 0, 1)

	require.True(t, tr.OnOrderEvent(u).Accepted)
	before, _ := tr.GetOrder("1")
	require.False(t, tr.OnOrderEvent(u).Accepted)
	after, _ := tr.GetOrder("1")

	assert.Equal(t, before, after)
	assert.Equal(t, []AnomalyKind{AnomalyDuplicateUpdate}, kinds(tr.Anomalies()))
}

func TestTerminalFinality(t *testing.T) {
	tr := NewTracker()
	registered(t, tr, "2", 1000)
	require.True(t, tr.OnOrderEvent(upd("2", StatusFilled, 1000, 1)).Accepted)

	for _, u := range []OrderUpdate{
		upd("2", StatusCancelled, 1000, 2),
		upd("2", StatusPartiallyFilled, 1000, 3),
		upd("2", StatusRejected, 1000, 4),
	} {
		out := tr.OnOrderEvent(u)
		assert.False(t, out.Accepted)
		require.Len(t, out.Anomalies, 1)
		assert.Equal(t, AnomalyTerminalViolation, out.Anomalies[0].Kind)
	}
	p, _ := tr.GetOrder("2")
	assert.Equal(t, StatusFilled, p.Status)
	assert.Len(t, p.History, 1)
}

func TestCumulativeNeverRegresses(t *testing.T) {
	tr := NewTracker()
	registered(t, tr, "3", 1000)
	tr.OnOrderEvent(upd("3", StatusPartiallyFilled, 500, 1))

	out := tr.OnOrderEvent(upd("3", StatusPartiallyFilled, 200, 2))
	assert.False(t, out.Accepted)
	assert.Equal(t, AnomalyRegressiveUpdate, out.Anomalies[0].Kind)

	out = tr.OnOrderEvent(upd("3", StatusSubmitted, 0, 3))
	assert.False(t, out.Accepted)

	p, _ := tr.GetOrder("3")
	assert.Equal(t, int64(500), p.CumulativeQty)
	assert.Equal(t, StatusPartiallyFilled, p.Status)
}

func TestOutOfOrderStatusRejected(t *testing.T) {
	tr := NewTracker()
	registered(t, tr, "4", 10)
	require.True(t, tr.OnOrderEvent(upd("4", StatusPartiallyFilled, 0, 1)).Accepted)

	out := tr.OnOrderEvent(upd("4", StatusSubmitted, 0, 2))
	assert.False(t, out.Accepted)
	assert.Equal(t, AnomalyOutOfOrder, out.Anomalies[0].Kind)
}

func TestCancelAndRejectFromAnyNonTerminal(t *testing.T) {
	for _, terminal := range []Status{StatusCancelled, StatusRejected} {
		for _, from := range []Status{StatusPending, StatusSubmitted, StatusPartiallyFilled} {
			t.Run(fmt.Sprintf("%s->%s", from, terminal), func(t *testing.T) {
				tr := NewTracker()
				registered(t, tr, "x", 10)
				if from != StatusPending {
					require.True(t, tr.OnOrderEvent(upd("x", from, 2, 1)).Accepted)
				}
				require.True(t, tr.OnOrderEvent(upd("x", terminal, 2, 2)).Accepted)
				assert.Equal(t, []string{"x"}, tr.ListByStatus(terminal))
			})
		}
	}
}

func TestUnknownOrderCreatesMinimalProjection(t *testing.T) {
	tr := NewTracker()
	out := tr.OnOrderEvent(upd("ghost", StatusPartiallyFilled, 5, 1))

	assert.True(t, out.Accepted)
	assert.Equal(t, []AnomalyKind{AnomalyUnknownOrder}, kinds(out.Anomalies))
	p, err := tr.GetOrder("ghost")
	require.NoError(t, err)
	assert.False(t, p.Registered)
	assert.Empty(t, p.Symbol)
	assert.Equal(t, StatusPartiallyFilled, p.Status)

	out = tr.OnDealEvent(deal("phantom", "d1", 1, 2))
	assert.True(t, out.Accepted)
	assert.Equal(t, AnomalyUnknownOrder, out.Anomalies[0].Kind)
	assert.Equal(t, 2, tr.Len())
}

func TestRegisterAdoptsEventOnlyProjection(t *testing.T) {
	tr := NewTracker()
	tr.OnOrderEvent(upd("7", StatusSubmitted, 0, 1))
	registered(t, tr, "7", 10)

	p, err := tr.GetOrder("7")
	require.NoError(t, err)
	assert.True(t, p.Registered)
	assert.Equal(t, "AAA", p.Symbol)
	assert.Equal(t, StatusSubmitted, p.Status)

	as := tr.Anomalies()
	require.Len(t, as, 1)
	assert.True(t, as[0].Resolved)

	assert.ErrorIs(t, tr.Register(Order{ID: "7"}), ErrDuplicateOrder)
	assert.ErrorIs(t, tr.Register(Order{}), ErrInvalidOrder)
}

func TestRegisterFlagsFillsBeyondRequested(t *testing.T) {
	tr := NewTracker()
	tr.OnDealEvent(deal("8", "d1", 3, 1))
	tr.OnDealEvent(deal("8", "d2", 3, 2))
	tr.OnOrderEvent(upd("8", StatusFilled, 6, 3))
	registered(t, tr, "8", 2)

	p, err := tr.GetOrder("8")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.RequestedQty)
	assert.Equal(t, int64(6), p.DealQty)

	var overfills []Anomaly
	for _, a := range tr.Anomalies() {
		if a.Kind == AnomalyOverfill {
			overfills = append(overfills, a)
		}
	}
	require.Len(t, overfills, 1)
	assert.Equal(t, "8", overfills[0].OrderID)
	assert.Contains(t, overfills[0].Detail, "exceeds requested 2")

	// Fills within the requested quantity adopt cleanly.
	tr.OnDealEvent(deal("9", "d1", 1, 1))
	registered(t, tr, "9", 5)
	for _, a := range tr.Anomalies() {
		assert.False(t, a.Kind == AnomalyOverfill && a.OrderID == "9")
	}
}

func TestReconcile(t *testing.T) {
	tr := NewTracker()
	registered(t, tr, "3", 1000)
	registered(t, tr, "4", 1000)

	tr.OnDealEvent(deal("3", "a", 200, 1))
	tr.OnDealEvent(deal("3", "b", 100, 2))
	tr.OnOrderEvent(upd("3", StatusPartiallyFilled, 300, 3))

	d, err := tr.Reconcile("3")
	require.NoError(t, err)
	assert.Nil(t, d)

	tr.OnDealEvent(deal("4", "a", 200, 1))
	tr.OnOrderEvent(upd("4", StatusPartiallyFilled, 500, 2))
	d, err = tr.Reconcile("4")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, int64(300), d.Difference)
	assert.Equal(t, int64(500), d.CumulativeQty)
	assert.Equal(t, int64(200), d.DealQty)

	_, err = tr.Reconcile("nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	all := tr.ReconcileAll()
	require.Len(t, all, 1)
	assert.Equal(t, "4", all[0].OrderID)
}

func TestDealsDoNotChangeStatus(t *testing.T) {
	tr := NewTracker()
	registered(t, tr, "5", 10)
	tr.OnOrderEvent(upd("5", StatusSubmitted, 0, 1))
	tr.OnDealEvent(deal("5", "d1", 10, 2))

	p, _ := tr.GetOrder("5")
	assert.Equal(t, StatusSubmitted, p.Status)
	assert.Equal(t, int64(10), p.DealQty)
}

func TestDuplicateAndOverfillDeals(t *testing.T) {
	tr := NewTracker()
	registered(t, tr, "6", 3)

	assert.True(t, tr.OnDealEvent(deal("6", "d1", 2, 1)).Accepted)
	out := tr.OnDealEvent(deal("6", "d1", 2, 1))
	assert.False(t, out.Accepted)
	assert.Equal(t, AnomalyDuplicateDeal, out.Anomalies[0].Kind)

	out = tr.OnDealEvent(deal("6", "d2", 2, 2))
	assert.False(t, out.Accepted)
	assert.Equal(t, AnomalyOverfill, out.Anomalies[0].Kind)
	require.NotNil(t, out.Anomalies[0].Deal)

	p, _ := tr.GetOrder("6")
	assert.Equal(t, int64(2), p.DealQty)
	assert.Len(t, p.Deals, 1)
}

func TestListByStatusOrderedByLastUpdate(t *testing.T) {
	tr := NewTracker()
	tr.OnOrderEvent(upd("c", StatusSubmitted, 0, 30))
	tr.OnOrderEvent(upd("a", StatusSubmitted, 0, 10))
	tr.OnOrderEvent(upd("b", StatusSubmitted, 0, 20))
	tr.OnOrderEvent(upd("d", StatusSubmitted, 0, 20))

	assert.Equal(t, []string{"a", "b", "d", "c"}, tr.ListByStatus(StatusSubmitted))

	tr.OnOrderEvent(upd("a", StatusFilled, 0, 40))
	assert.Equal(t, []string{"b", "d", "c"}, tr.ListByStatus(StatusSubmitted))
	assert.Equal(t, []string{"a"}, tr.ListByStatus(StatusFilled))
}

func TestSummaryCountsEveryStatus(t *testing.T) {
	tr := NewTracker()
	registered(t, tr, "p", 1)
	tr.OnOrderEvent(upd("s", StatusSubmitted, 0, 1))
	tr.OnOrderEvent(upd("f", StatusFilled, 1, 1))

	sum := tr.Summary()
	assert.Len(t, sum, len(AllStatuses))
	assert.Equal(t, 1, sum[StatusPending])
	assert.Equal(t, 1, sum[StatusSubmitted])
	assert.Equal(t, 1, sum[StatusFilled])
	assert.Equal(t, 0, sum[StatusRejected])
}

func TestGetOrderReturnsCopy(t *testing.T) {
	tr := NewTracker()
	tr.OnOrderEvent(upd("1", StatusSubmitted, 0, 1))
	p, _ := tr.GetOrder("1")
	p.History[0].Status = StatusRejected

	again, _ := tr.GetOrder("1")
	assert.Equal(t, StatusSubmitted, again.History[0].Status)

	_, err := tr.GetOrder("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMalformedEvents(t *testing.T) {
	tr := NewTracker()
	out := tr.OnOrderEvent(OrderUpdate{OrderID: "1", Status: "WHATEVER"})
	assert.Equal(t, AnomalyMalformed, out.Anomalies[0].Kind)
	out = tr.OnDealEvent(Deal{OrderID: "1"})
	assert.Equal(t, AnomalyMalformed, out.Anomalies[0].Kind)
	assert.Equal(t, 0, tr.Len())
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []events.Topic
}

func (r *recordingPublisher) Publish(topic events.Topic, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
}

func TestPublisherReceivesChanges(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(WithPublisher(pub))
	registered(t, tr, "1", 5)
	tr.OnOrderEvent(upd("1", StatusSubmitted, 0, 1))
	tr.OnOrderEvent(upd("1", StatusSubmitted, 0, 1))
	tr.OnDealEvent(deal("1", "d", 1, 2))

	assert.Equal(t, []events.Topic{
		events.TopicOrderAccepted, events.TopicOrderUpdate, events.TopicAnomaly, events.TopicDeal,
	}, pub.topics)
}

func TestRunDrainsQueue(t *testing.T) {
	var hooks int
	tr := NewTracker(WithApplyHook(func(time.Duration) { hooks++ }))
	q := events.NewQueue[Event](2)

	done := make(chan struct{})
	go func() {
		tr.Run(q)
		close(done)
	}()
	require.NoError(t, q.Push(upd("1", StatusSubmitted, 0, 1)))
	require.NoError(t, q.Push(deal("1", "d", 1, 2)))
	require.NoError(t, q.Push(upd("1", StatusFilled, 1, 3)))
	q.Close()
	<-done

	p, err := tr.GetOrder("1")
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, p.Status)
	assert.Equal(t, uint64(3), tr.Applied())
	assert.Equal(t, 3, hooks)
}

func TestConcurrentEventsConverge(t *testing.T) {
	tr := NewTracker()
	const orders = 20
	for i := 0; i < orders; i++ {
		registered(t, tr, fmt.Sprint(i), 4)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < orders; i++ {
				id := fmt.Sprint(i)
				tr.OnOrderEvent(upd(id, StatusSubmitted, 0, 1))
				tr.OnDealEvent(deal(id, fmt.Sprint(w), 1, 2))
				tr.OnOrderEvent(upd(id, StatusPartiallyFilled, int64(w+1), 3+w))
				_ = tr.Summary()
				_ = tr.ListByStatus(StatusPartiallyFilled)
			}
		}(w)
	}
	wg.Wait()
	for i := 0; i < orders; i++ {
		tr.OnOrderEvent(upd(fmt.Sprint(i), StatusFilled, 4, 10))
	}

	assert.Equal(t, orders, tr.Summary()[StatusFilled])
	assert.Empty(t, tr.ReconcileAll())
}

func TestArchiveClearsState(t *testing.T) {
	tr := NewTracker()
	registered(t, tr, "1", 1)
	tr.OnOrderEvent(upd("ghost", StatusSubmitted, 0, 1))

	orders, anomalies := tr.Archive()
	assert.Len(t, orders, 2)
	assert.Len(t, anomalies, 1)
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Anomalies())
	assert.Equal(t, 0, tr.Summary()[StatusPending])
}
