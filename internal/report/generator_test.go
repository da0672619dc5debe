package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-trader/internal/account"
	"momentum-trader/internal/order"
	"momentum-trader/internal/strategy"
	"momentum-trader/pkg/broker"
	"momentum-trader/pkg/db"
)

type fakeSignals []strategy.Signal

func (f fakeSignals) Signals() []strategy.Signal { return f }

type fakeSubmissions []order.SubmissionResult

func (f fakeSubmissions) Results() []order.SubmissionResult { return f }

type fakeAccount struct {
	snap account.Snapshot
	err  error
}

func (f fakeAccount) Refresh(context.Context) (account.Snapshot, error) { return f.snap, f.err }

type fakeSubscriptions []string

func (f fakeSubscriptions) Subscribed() []string { return f }

var clock = func() time.Time { return time.Date(2026, 1, 5, 13, 30, 0, 0, time.UTC) }

func sessionTracker(t *testing.T) *order.Tracker {
	t.Helper()
	tr := order.NewTracker()
	at := clock().Add(-time.Hour)
	require.NoError(t, tr.Register(order.Order{ID: "A", Symbol: "2330", RequestedQty: 1000}))
	require.NoError(t, tr.Register(order.Order{ID: "B", Symbol: "2317", RequestedQty: 1000}))

	tr.OnOrderEvent(order.OrderUpdate{OrderID: "A", Status: order.StatusFilled, CumulativeQty: 1000, Timestamp: at})
	tr.OnDealEvent(order.Deal{OrderID: "A", DealID: "A-1", Qty: 1000, Price: decimal.NewFromInt(600), Timestamp: at})
	tr.OnOrderEvent(order.OrderUpdate{OrderID: "A", Status: order.StatusFilled, CumulativeQty: 1000, Timestamp: at})

	tr.OnOrderEvent(order.OrderUpdate{OrderID: "B", Status: order.StatusPartiallyFilled, CumulativeQty: 400, Timestamp: at})
	tr.OnOrderEvent(order.OrderUpdate{OrderID: "Z", Status: order.StatusSubmitted, Timestamp: at})
	return tr
}

func TestGenerateAggregatesSession(t *testing.T) {
	tr := sessionTracker(t)
	beforeOrders := tr.Orders()
	beforeAnomalies := tr.Anomalies()

	g := &Generator{
		SessionID: "sess-1",
		HostID:    "host",
		Orders:    tr,
		Signals:   fakeSignals{{Symbol: "2330"}, {Symbol: "2317"}, {Symbol: "2454"}},
		Submissions: fakeSubmissions{
			{CorrelationID: "1", OrderID: "A", Accepted: true},
			{CorrelationID: "2", OrderID: "B", Accepted: true},
			{CorrelationID: "3", Accepted: false, Error: "submission rejected [QTY]: quantity too large"},
		},
		Account: fakeAccount{snap: account.Snapshot{
			Positions:          []broker.Position{{Symbol: "2330", Quantity: 1000, UnrealizedPnL: decimal.NewFromInt(1200)}},
			Balance:            broker.Balance{Available: decimal.NewFromInt(100), Total: decimal.NewFromInt(700)},
			TotalUnrealizedPnL: decimal.NewFromInt(1200),
			SyncedAt:           clock(),
		}},
		Subscriptions: fakeSubscriptions{"2330", "2317"},
		Now:           clock,
	}

	r, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sess-1", r.SessionID)
	assert.Equal(t, "2026-01-05", r.Date)
	assert.Equal(t, 3, r.SignalCount)
	assert.Equal(t, 2, r.SubmittedCount)
	require.Len(t, r.FailedSubmissions, 1)
	assert.Equal(t, "3", r.FailedSubmissions[0].CorrelationID)

	assert.Equal(t, 1, r.StatusCounts[order.StatusFilled])
	assert.Equal(t, 1, r.StatusCounts[order.StatusPartiallyFilled])
	assert.Equal(t, 1, r.StatusCounts[order.StatusSubmitted])

	require.Len(t, r.Discrepancies, 1)
	assert.Equal(t, "B", r.Discrepancies[0].OrderID)
	assert.Equal(t, int64(400), r.Discrepancies[0].Difference)
	assert.Equal(t, 1, r.AnomalyCounts[string(order.AnomalyDuplicateUpdate)])
	assert.Equal(t, 1, r.AnomalyCounts[string(order.AnomalyUnknownOrder)])
	assert.Equal(t, 2, r.UnresolvedAnomalies)

	require.NotNil(t, r.Balance)
	assert.True(t, r.Balance.Total.Equal(decimal.NewFromInt(700)))
	assert.True(t, r.TotalUnrealizedPnL.Equal(decimal.NewFromInt(1200)))
	assert.Empty(t, r.AccountError)
	assert.Equal(t, 2, r.SubscribedCount)

	assert.Equal(t, beforeOrders, tr.Orders(), "generating a report must not change the tracker")
	assert.Equal(t, beforeAnomalies, tr.Anomalies())

	text := r.Text()
	assert.Contains(t, text, "signals: 3  submitted: 2  failed: 1")
	assert.Contains(t, text, "anomaly duplicate_update: 1")
}

func TestGenerateSurvivesAccountFailure(t *testing.T) {
	g := &Generator{
		Orders:  order.NewTracker(),
		Account: fakeAccount{err: errors.New("account service timeout")},
		Now:     clock,
	}
	r, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "account service timeout", r.AccountError)
	assert.Nil(t, r.Balance)
	assert.Empty(t, r.Positions)
	assert.NotEmpty(t, r.SessionID)
	assert.Len(t, r.StatusCounts, len(order.AllStatuses))
}

func TestGenerateHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Generator{}).Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveStoresJSONPayload(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	g := &Generator{SessionID: "sess-2", Orders: sessionTracker(t), Now: clock}
	r, err := g.Generate(context.Background())
	require.NoError(t, err)
	require.NoError(t, Save(context.Background(), database, r))

	stored, err := database.Queries().GetReport(context.Background(), "sess-2")
	require.NoError(t, err)

	var decoded SessionReport
	require.NoError(t, json.Unmarshal([]byte(stored.Payload), &decoded))
	assert.Equal(t, r.StatusCounts, decoded.StatusCounts)
	assert.Len(t, decoded.Discrepancies, 1)
}
