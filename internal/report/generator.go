// Package report builds the end-of-session summary from the tracker, the
// executor's submission log and the account view. Generating a report never
// changes any of them.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"momentum-trader/internal/account"
	"momentum-trader/internal/order"
	"momentum-trader/internal/strategy"
	"momentum-trader/pkg/broker"
	"momentum-trader/pkg/db"
)

var log = logrus.WithField("component", "report")

// Orders is the read side of the tracker.
type Orders interface {
	Summary() map[order.Status]int
	ReconcileAll() []order.Discrepancy
	Anomalies() []order.Anomaly
}

type Signals interface {
	Signals() []strategy.Signal
}

type Submissions interface {
	Results() []order.SubmissionResult
}

// Account yields the latest account view; on failure it returns the last
// good snapshot together with the error.
type Account interface {
	Refresh(ctx context.Context) (account.Snapshot, error)
}

type Subscriptions interface {
	Subscribed() []string
}

// SessionReport is the structured end-of-session summary.
type SessionReport struct {
	SessionID   string `json:"session_id"`
	Date        string `json:"date"`
	HostID      string `json:"host_id,omitempty"`
	DryRun      bool   `json:"dry_run"`
	SignalCount int    `json:"signal_count"`

	Signals           []strategy.Signal        `json:"signals"`
	SubmittedCount    int                      `json:"submitted_count"`
	FailedSubmissions []order.SubmissionResult `json:"failed_submissions"`

	StatusCounts        map[order.Status]int `json:"status_counts"`
	Discrepancies       []order.Discrepancy  `json:"discrepancies"`
	Anomalies           []order.Anomaly      `json:"anomalies"`
	AnomalyCounts       map[string]int       `json:"anomaly_counts"`
	UnresolvedAnomalies int                  `json:"unresolved_anomalies"`

	Positions          []broker.Position `json:"positions"`
	TotalUnrealizedPnL decimal.Decimal   `json:"total_unrealized_pnl"`
	Balance            *broker.Balance   `json:"balance,omitempty"`
	AccountError       string            `json:"account_error,omitempty"`

	SubscribedCount int       `json:"subscribed_count"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Generator assembles session reports. Nil collaborators leave their
// sections empty.
type Generator struct {
	SessionID     string
	HostID        string
	DryRun        bool
	Orders        Orders
	Signals       Signals
	Submissions   Submissions
	Account       Account
	Subscriptions Subscriptions
	Now           func() time.Time
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Generate reads every collaborator and returns the report. An account
// failure is recorded on the report rather than returned.
func (g *Generator) Generate(ctx context.Context) (SessionReport, error) {
	if err := ctx.Err(); err != nil {
		return SessionReport{}, err
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	at := now()

	r := SessionReport{
		SessionID:          g.SessionID,
		Date:               at.Format("2006-01-02"),
		HostID:             g.HostID,
		DryRun:             g.DryRun,
		Signals:            []strategy.Signal{},
		FailedSubmissions:  []order.SubmissionResult{},
		StatusCounts:       map[order.Status]int{},
		Discrepancies:      []order.Discrepancy{},
		Anomalies:          []order.Anomaly{},
		AnomalyCounts:      map[string]int{},
		Positions:          []broker.Position{},
		TotalUnrealizedPnL: decimal.Zero,
		GeneratedAt:        at,
	}
	if r.SessionID == "" {
		r.SessionID = NewSessionID()
	}

	if g.Signals != nil {
		r.Signals = append(r.Signals, g.Signals.Signals()...)
		r.SignalCount = len(r.Signals)
	}
	if g.Submissions != nil {
		for _, res := range g.Submissions.Results() {
			if res.Accepted {
				r.SubmittedCount++
			} else {
				r.FailedSubmissions = append(r.FailedSubmissions, res)
			}
		}
	}
	if g.Orders != nil {
		r.StatusCounts = g.Orders.Summary()
		r.Discrepancies = append(r.Discrepancies, g.Orders.ReconcileAll()...)
		r.Anomalies = append(r.Anomalies, g.Orders.Anomalies()...)
		for _, a := range r.Anomalies {
			r.AnomalyCounts[string(a.Kind)]++
			if !a.Resolved {
				r.UnresolvedAnomalies++
			}
		}
	}
	if g.Account != nil {
		snap, err := g.Account.Refresh(ctx)
		if err != nil {
			r.AccountError = err.Error()
			log.Warnf("report: account unavailable: %v", err)
		}
		if !snap.SyncedAt.IsZero() {
			r.Positions = append(r.Positions, snap.Positions...)
			r.TotalUnrealizedPnL = snap.TotalUnrealizedPnL
			bal := snap.Balance
			r.Balance = &bal
		}
	}
	if g.Subscriptions != nil {
		r.SubscribedCount = len(g.Subscriptions.Subscribed())
	}
	return r, nil
}

// Text renders a compact plain-text summary for logs and the console.
func (r SessionReport) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s (%s)\n", r.SessionID, r.Date)
	fmt.Fprintf(&b, "  signals: %d  submitted: %d  failed: %d  subscribed: %d\n",
		r.SignalCount, r.SubmittedCount, len(r.FailedSubmissions), r.SubscribedCount)

	statuses := make([]string, 0, len(r.StatusCounts))
	for _, s := range order.AllStatuses {
		if n := r.StatusCounts[s]; n > 0 {
			statuses = append(statuses, fmt.Sprintf("%s=%d", s, n))
		}
	}
	if len(statuses) > 0 {
		fmt.Fprintf(&b, "  orders: %s\n", strings.Join(statuses, " "))
	}

	kinds := make([]string, 0, len(r.AnomalyCounts))
	for k := range r.AnomalyCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "  anomaly %s: %d\n", k, r.AnomalyCounts[k])
	}
	for _, d := range r.Discrepancies {
		fmt.Fprintf(&b, "  discrepancy %s: status qty %d, deal qty %d\n", d.OrderID, d.CumulativeQty, d.DealQty)
	}
	if r.Balance != nil {
		fmt.Fprintf(&b, "  balance: available %s total %s, unrealized pnl %s\n",
			r.Balance.Available, r.Balance.Total, r.TotalUnrealizedPnL)
	}
	if r.AccountError != "" {
		fmt.Fprintf(&b, "  account error: %s\n", r.AccountError)
	}
	return b.String()
}

// Store persists serialized reports.
type Store interface {
	SaveReport(ctx context.Context, r db.Report) error
}

// Save serializes the report and hands it to the store.
func Save(ctx context.Context, store Store, r SessionReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := store.SaveReport(ctx, db.Report{
		SessionID:   r.SessionID,
		Date:        r.Date,
		HostID:      r.HostID,
		Payload:     string(payload),
		GeneratedAt: r.GeneratedAt,
	}); err != nil {
		return fmt.Errorf("save report %s: %w", r.SessionID, err)
	}
	return nil
}
