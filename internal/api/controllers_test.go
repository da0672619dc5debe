package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"momentum-trader/internal/engine"
	"momentum-trader/internal/events"
	"momentum-trader/internal/monitor"
	"momentum-trader/internal/order"
	"momentum-trader/internal/report"
	"momentum-trader/internal/risk"
	"momentum-trader/internal/strategy"
	"momentum-trader/pkg/broker"
	"momentum-trader/pkg/db"
)

const testSecret = "test-secret"

type fakeService struct {
	tracker  *order.Tracker
	cycleErr error
	trading  bool
	healthy  bool
}

func (f *fakeService) ListOrders(ctx context.Context, status string) ([]order.Projection, error) {
	if status != "" && !order.Status(status).Valid() {
		return nil, fmt.Errorf("%w: %q", engine.ErrInvalidStatus, status)
	}
	return f.tracker.Orders(), nil
}

func (f *fakeService) GetOrder(ctx context.Context, id string) (order.Projection, error) {
	return f.tracker.GetOrder(id)
}

func (f *fakeService) ReconcileOrder(ctx context.Context, id string) (*order.Discrepancy, error) {
	return f.tracker.Reconcile(id)
}

func (f *fakeService) Summary(ctx context.Context) map[order.Status]int { return f.tracker.Summary() }

func (f *fakeService) Anomalies(ctx context.Context, unresolvedOnly bool) []order.Anomaly {
	return f.tracker.Anomalies()
}

func (f *fakeService) Signals(ctx context.Context) []strategy.Signal {
	return []strategy.Signal{{Symbol: "2330", Direction: broker.SideBuy, TriggerPrice: decimal.NewFromInt(600), Quantity: 1}}
}

func (f *fakeService) Submissions(ctx context.Context) []order.SubmissionResult { return nil }

func (f *fakeService) Report(ctx context.Context) (report.SessionReport, error) {
	return report.SessionReport{SessionID: "sess", SignalCount: 1, StatusCounts: f.tracker.Summary()}, nil
}

func (f *fakeService) Metrics(ctx context.Context) monitor.MetricsSnapshot {
	return monitor.MetricsSnapshot{Cycles: 3}
}

func (f *fakeService) RiskMetrics(ctx context.Context) risk.Metrics { return risk.Metrics{} }

func (f *fakeService) SetTradingEnabled(ctx context.Context, enabled bool) { f.trading = enabled }

func (f *fakeService) TriggerCycle(ctx context.Context) (engine.CycleResult, error) {
	if f.cycleErr != nil {
		return engine.CycleResult{}, f.cycleErr
	}
	return engine.CycleResult{Seq: 1, Signals: 1}, nil
}

func (f *fakeService) Status(ctx context.Context) engine.SystemStatus {
	return engine.SystemStatus{SessionID: "sess", Mode: "dry-run", Tracked: f.tracker.Len()}
}

func (f *fakeService) Healthy() bool { return f.healthy }

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	tr := order.NewTracker()
	require.NoError(t, tr.Register(order.Order{ID: "S000001", Symbol: "2330", RequestedQty: 1}))
	tr.OnOrderEvent(order.OrderUpdate{OrderID: "S000001", Status: order.StatusFilled, CumulativeQty: 1, Timestamp: time.Now()})
	return &fakeService{tracker: tr, healthy: true}
}

func newTestServer(t *testing.T, svc engine.Service, withDB bool) (*Server, *db.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var database *db.Database
	if withDB {
		var err error
		database, err = db.New(":memory:")
		require.NoError(t, err)
		require.NoError(t, db.ApplyMigrations(database))
		t.Cleanup(func() { _ = database.Close() })
	}
	return NewServer(svc, events.NewBus(), database, testSecret), database
}

func bearer(t *testing.T) string {
	t.Helper()
	token, _, err := GenerateToken("ops", testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func do(t *testing.T, s *Server, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	svc := newFakeService(t)
	s, _ := newTestServer(t, svc, false)

	w := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	svc.healthy = false
	w = do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s, _ := newTestServer(t, newFakeService(t), false)

	w := do(t, s, http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "MISSING_TOKEN")

	w = do(t, s, http.MethodGet, "/api/orders", "Basic abc", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_AUTH_HEADER")

	other, _, err := GenerateToken("ops", "other-secret", time.Hour)
	require.NoError(t, err)
	w = do(t, s, http.MethodGet, "/api/orders", "Bearer "+other, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, _, err := GenerateToken("ops", testSecret, -time.Minute)
	require.NoError(t, err)
	w = do(t, s, http.MethodGet, "/api/orders", "Bearer "+expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodGet, "/api/orders", bearer(t), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateTokenNeedsSecret(t *testing.T) {
	_, _, err := GenerateToken("ops", "", time.Hour)
	assert.Error(t, err)

	token, exp, err := GenerateToken("ops", testSecret, time.Hour)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))
	op, err := parseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "ops", op)
}

func TestOrderEndpoints(t *testing.T) {
	s, _ := newTestServer(t, newFakeService(t), false)
	auth := bearer(t)

	w := do(t, s, http.MethodGet, "/api/orders?status=FILLED", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []order.Projection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, order.StatusFilled, orders[0].Status)

	w = do(t, s, http.MethodGet, "/api/orders?status=BOGUS", auth, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_STATUS")

	w = do(t, s, http.MethodGet, "/api/orders/S000001", auth, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/orders/NOPE", auth, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ORDER_NOT_FOUND")

	w = do(t, s, http.MethodGet, "/api/orders/S000001/reconcile", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec struct {
		Consistent  bool               `json:"consistent"`
		Discrepancy *order.Discrepancy `json:"discrepancy"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.False(t, rec.Consistent)
	require.NotNil(t, rec.Discrepancy)
	assert.Equal(t, int64(1), rec.Discrepancy.Difference)

	w = do(t, s, http.MethodGet, "/api/summary", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary["FILLED"])
}

func TestCycleAndTrading(t *testing.T) {
	svc := newFakeService(t)
	s, _ := newTestServer(t, svc, false)
	auth := bearer(t)

	w := do(t, s, http.MethodPost, "/api/cycle", auth, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	svc.cycleErr = engine.ErrCycleRunning
	w = do(t, s, http.MethodPost, "/api/cycle", auth, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	svc.cycleErr = errors.New("snapshot: ranking unavailable")
	w = do(t, s, http.MethodPost, "/api/cycle", auth, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = do(t, s, http.MethodPut, "/api/trading", auth, map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.trading)

	w = do(t, s, http.MethodPut, "/api/trading", auth, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportEndpoint(t *testing.T) {
	s, _ := newTestServer(t, newFakeService(t), false)
	auth := bearer(t)

	w := do(t, s, http.MethodGet, "/api/report", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var r report.SessionReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	assert.Equal(t, "sess", r.SessionID)

	w = do(t, s, http.MethodGet, "/api/report?format=text", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sess")
}

func TestHistoryEndpoints(t *testing.T) {
	s, database := newTestServer(t, newFakeService(t), true)
	auth := bearer(t)
	ctx := context.Background()

	require.NoError(t, database.UpsertOrder(ctx, db.Order{
		ID: "S000001", Symbol: "2330", Side: "Buy", Price: "600", Qty: 1,
		Status: "FILLED", CumulativeQty: 1, Registered: true, SubmittedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	w := do(t, s, http.MethodGet, "/api/history/orders?status=FILLED&limit=5", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rows []db.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "S000001", rows[0].ID)

	w = do(t, s, http.MethodGet, "/api/history/orders?status=nope", auth, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/history/orders/S000001/updates", auth, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/history/orders/NOPE/updates", auth, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/api/history/submissions?failed=true", auth, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/history/reports/missing", auth, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, database.SaveReport(ctx, db.Report{SessionID: "s1", Date: "2026-01-05", Payload: `{"session_id":"s1"}`, GeneratedAt: time.Now()}))
	w = do(t, s, http.MethodGet, "/api/history/reports/s1", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session_id":"s1"}`, w.Body.String())
}

func TestHistoryWithoutStore(t *testing.T) {
	s, _ := newTestServer(t, newFakeService(t), false)
	w := do(t, s, http.MethodGet, "/api/history/orders", bearer(t), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStreamTopics(t *testing.T) {
	all := streamTopics("")
	assert.NotContains(t, all, events.TopicQuote)
	assert.Contains(t, all, events.TopicOrderUpdate)

	assert.Equal(t, []events.Topic{events.TopicQuote, events.TopicSignal}, streamTopics("quote, signal,bogus"))
	assert.Empty(t, streamTopics("bogus"))
}

func TestWebsocketStreamsBusEvents(t *testing.T) {
	s, _ := newTestServer(t, newFakeService(t), false)
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	token, _, err := GenerateToken("ops", testSecret, time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?topics=signal&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; publish until seen.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Bus.Publish(events.TopicSignal, strategy.Signal{Symbol: "2330", Quantity: 1})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Topic string          `json:"topic"`
		Data  strategy.Signal `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(events.TopicSignal), msg.Topic)
	assert.Equal(t, "2330", msg.Data.Symbol)
}

func TestGRPCHealthFollowsProbe(t *testing.T) {
	up := true
	h := NewHealthServer(func() bool { return up }, time.Second)

	st, err := h.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	up = false
	h.refresh()
	st, err = h.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
}
