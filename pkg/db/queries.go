package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
)

var ErrNotFound = errors.New("record not found")

// Queries provides read access to the session store.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Queries returns a read helper bound to this database.
func (d *Database) Queries() *Queries {
	return NewQueries(d.DB)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

// ListOrders returns orders, newest update first. An empty status lists all.
func (q *Queries) ListOrders(ctx context.Context, status string, limit int) ([]Order, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, COALESCE(correlation_id, ''), symbol, side, price, qty, status,
		       COALESCE(cumulative_qty, 0), COALESCE(registered, 1), COALESCE(submitted_at, 0), COALESCE(updated_at, 0)
		FROM orders
		WHERE (? = '' OR status = ?)
		ORDER BY updated_at DESC, id
		LIMIT ?
	`, status, status, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetOrder returns a single order by ID.
func (q *Queries) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(correlation_id, ''), symbol, side, price, qty, status,
		       COALESCE(cumulative_qty, 0), COALESCE(registered, 1), COALESCE(submitted_at, 0), COALESCE(updated_at, 0)
		FROM orders
		WHERE id = ?
	`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (Order, error) {
	var (
		o                  Order
		registered         int
		submitted, updated int64
	)
	if err := s.Scan(&o.ID, &o.CorrelationID, &o.Symbol, &o.Side, &o.Price, &o.Qty, &o.Status,
		&o.CumulativeQty, &registered, &submitted, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("scan order: %w", err)
	}
	o.Registered = registered != 0
	o.SubmittedAt = fromMillis(submitted)
	o.UpdatedAt = fromMillis(updated)
	return o, nil
}

// ListOrderUpdates returns the accepted history of an order in arrival order.
func (q *Queries) ListOrderUpdates(ctx context.Context, orderID string) ([]OrderUpdate, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT order_id, status, cumulative_qty, COALESCE(raw, ''), ts
		FROM order_updates
		WHERE order_id = ?
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order updates: %w", err)
	}
	defer rows.Close()

	var updates []OrderUpdate
	for rows.Next() {
		var (
			u  OrderUpdate
			ts int64
		)
		if err := rows.Scan(&u.OrderID, &u.Status, &u.CumulativeQty, &u.Raw, &ts); err != nil {
			return nil, fmt.Errorf("scan order update: %w", err)
		}
		u.Timestamp = fromMillis(ts)
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// ----------------------------------------
// Anomaly / Signal / Submission Queries
// ----------------------------------------

// ListAnomalies returns anomalies in observation order.
func (q *Queries) ListAnomalies(ctx context.Context, limit int) ([]Anomaly, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT kind, COALESCE(order_id, ''), COALESCE(detail, ''), observed_at
		FROM anomalies
		ORDER BY id
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var (
			a  Anomaly
			ts int64
		)
		if err := rows.Scan(&a.Kind, &a.OrderID, &a.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		a.ObservedAt = fromMillis(ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) ListSignals(ctx context.Context, limit int) ([]Signal, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT symbol, direction, trigger_price, quantity, COALESCE(reason, ''), generated_at
		FROM signals
		ORDER BY id
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		var (
			s  Signal
			ts int64
		)
		if err := rows.Scan(&s.Symbol, &s.Direction, &s.TriggerPrice, &s.Quantity, &s.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		s.GeneratedAt = fromMillis(ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSubmissions returns submission attempts; failedOnly restricts to rejected ones.
func (q *Queries) ListSubmissions(ctx context.Context, failedOnly bool, limit int) ([]Submission, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT correlation_id, symbol, COALESCE(order_id, ''), accepted, COALESCE(error, ''),
		       submitted_at, COALESCE(latency_ms, 0)
		FROM submissions
		WHERE (? = 0 OR accepted = 0)
		ORDER BY submitted_at, correlation_id
		LIMIT ?
	`, boolInt(failedOnly), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var (
			s             Submission
			accepted      int
			ts, latencyMs int64
		)
		if err := rows.Scan(&s.CorrelationID, &s.Symbol, &s.OrderID, &accepted, &s.Error, &ts, &latencyMs); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		s.Accepted = accepted != 0
		s.SubmittedAt = fromMillis(ts)
		s.Latency = msDuration(latencyMs)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Report Queries
// ----------------------------------------

// GetReport returns the stored report for a session.
func (q *Queries) GetReport(ctx context.Context, sessionID string) (*Report, error) {
	var (
		r  Report
		ts int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT session_id, date, COALESCE(host_id, ''), payload, generated_at
		FROM reports
		WHERE session_id = ?
	`, sessionID).Scan(&r.SessionID, &r.Date, &r.HostID, &r.Payload, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	r.GeneratedAt = fromMillis(ts)
	return &r, nil
}

// Tables lists the session tables.
var Tables = []string{"orders", "order_updates", "deals", "anomalies", "discrepancies", "signals", "submissions", "reports"}

// Count returns the number of rows in one of the session tables.
func (q *Queries) Count(ctx context.Context, table string) (int, error) {
	if !slices.Contains(Tables, table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
