package db

import (
	"context"
	"time"
)

// Order is the persisted view of a tracked order.
type Order struct {
	ID            string
	CorrelationID string
	Symbol        string
	Side          string
	Price         string
	Qty           int64
	Status        string
	CumulativeQty int64
	Registered    bool
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

// OrderUpdate is one accepted status transition.
type OrderUpdate struct {
	OrderID       string
	Status        string
	CumulativeQty int64
	Raw           string
	Timestamp     time.Time
}

// Deal is one accepted fill.
type Deal struct {
	OrderID   string
	DealID    string
	Price     string
	Qty       int64
	Timestamp time.Time
}

// Anomaly is a protocol anomaly observed by the tracker.
type Anomaly struct {
	Kind       string
	OrderID    string
	Detail     string
	ObservedAt time.Time
}

// Discrepancy records a status/deal quantity mismatch found by reconciliation.
type Discrepancy struct {
	OrderID       string
	CumulativeQty int64
	DealQty       int64
	Difference    int64
	ObservedAt    time.Time
}

type Signal struct {
	Symbol       string
	Direction    string
	TriggerPrice string
	Quantity     int64
	Reason       string
	GeneratedAt  time.Time
}

// Submission is one submission attempt, accepted or not.
type Submission struct {
	CorrelationID string
	Symbol        string
	OrderID       string
	Accepted      bool
	Error         string
	SubmittedAt   time.Time
	Latency       time.Duration
}

// Report is a serialized end-of-session report.
type Report struct {
	SessionID   string
	Date        string
	HostID      string
	Payload     string
	GeneratedAt time.Time
}

// Write statements shared by the batch writer and the direct helpers below.
const (
	UpsertOrderSQL = `
		INSERT INTO orders (
			id, correlation_id, symbol, side, price, qty, status, cumulative_qty, registered, submitted_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			correlation_id = excluded.correlation_id,
			symbol = excluded.symbol,
			side = excluded.side,
			price = excluded.price,
			qty = excluded.qty,
			status = excluded.status,
			cumulative_qty = excluded.cumulative_qty,
			registered = excluded.registered,
			submitted_at = excluded.submitted_at,
			updated_at = excluded.updated_at`
	UpdateOrderStatusSQL = `UPDATE orders SET status = ?, cumulative_qty = ?, updated_at = ? WHERE id = ?`
	InsertOrderUpdateSQL = `INSERT INTO order_updates (order_id, status, cumulative_qty, raw, ts) VALUES (?, ?, ?, ?, ?)`
	InsertDealSQL        = `INSERT INTO deals (order_id, deal_id, price, qty, ts) VALUES (?, ?, ?, ?, ?)`
	InsertAnomalySQL     = `INSERT INTO anomalies (kind, order_id, detail, observed_at) VALUES (?, ?, ?, ?)`
	InsertDiscrepancySQL = `
		INSERT INTO discrepancies (order_id, cumulative_qty, deal_qty, difference, observed_at)
		VALUES (?, ?, ?, ?, ?)`
	InsertSignalSQL = `
		INSERT INTO signals (symbol, direction, trigger_price, quantity, reason, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	UpsertSubmissionSQL = `
		INSERT INTO submissions (correlation_id, symbol, order_id, accepted, error, submitted_at, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO UPDATE SET
			order_id = excluded.order_id,
			accepted = excluded.accepted,
			error = excluded.error`
	UpsertReportSQL = `
		INSERT INTO reports (session_id, date, host_id, payload, generated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			payload = excluded.payload,
			generated_at = excluded.generated_at`
)

// Millis converts a timestamp to the stored representation.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Args returns the arguments for UpsertOrderSQL.
func (o Order) Args() []any {
	return []any{o.ID, o.CorrelationID, o.Symbol, o.Side, o.Price, o.Qty, o.Status,
		o.CumulativeQty, boolInt(o.Registered), Millis(o.SubmittedAt), Millis(o.UpdatedAt)}
}

// StatusArgs returns the arguments for UpdateOrderStatusSQL.
func (u OrderUpdate) StatusArgs() []any {
	return []any{u.Status, u.CumulativeQty, Millis(u.Timestamp), u.OrderID}
}

func (u OrderUpdate) Args() []any {
	return []any{u.OrderID, u.Status, u.CumulativeQty, u.Raw, Millis(u.Timestamp)}
}

func (d Deal) Args() []any {
	return []any{d.OrderID, d.DealID, d.Price, d.Qty, Millis(d.Timestamp)}
}

func (a Anomaly) Args() []any {
	return []any{a.Kind, a.OrderID, a.Detail, Millis(a.ObservedAt)}
}

func (d Discrepancy) Args() []any {
	return []any{d.OrderID, d.CumulativeQty, d.DealQty, d.Difference, Millis(d.ObservedAt)}
}

func (s Signal) Args() []any {
	return []any{s.Symbol, s.Direction, s.TriggerPrice, s.Quantity, s.Reason, Millis(s.GeneratedAt)}
}

func (s Submission) Args() []any {
	return []any{s.CorrelationID, s.Symbol, s.OrderID, boolInt(s.Accepted), s.Error,
		Millis(s.SubmittedAt), s.Latency.Milliseconds()}
}

func (r Report) Args() []any {
	return []any{r.SessionID, r.Date, r.HostID, r.Payload, Millis(r.GeneratedAt)}
}

// UpsertOrder stores the latest projection of an order.
func (d *Database) UpsertOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, UpsertOrderSQL, o.Args()...)
	return err
}

// SaveReport stores a session report, replacing an earlier one with the same session ID.
func (d *Database) SaveReport(ctx context.Context, r Report) error {
	_, err := d.DB.ExecContext(ctx, UpsertReportSQL, r.Args()...)
	return err
}
