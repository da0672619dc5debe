package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"momentum-trader/pkg/broker"
)

var (
	ErrNotFound       = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already registered")
	ErrInvalidOrder   = errors.New("invalid order")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusSubmitted       Status = "SUBMITTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusSubmitted, StatusPartiallyFilled,
	StatusFilled, StatusCancelled, StatusRejected,
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// rank orders the progressing states. Cancelled and Rejected sit outside
// the chain and are reachable from any non-terminal state.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSubmitted:
		return 1
	case StatusPartiallyFilled:
		return 2
	case StatusFilled:
		return 3
	}
	return -1
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Order is a submitted request, identified by the broker-assigned ID.
type Order struct {
	ID             string          `json:"id"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	Symbol         string          `json:"symbol"`
	Direction      broker.Side     `json:"direction"`
	RequestedPrice decimal.Decimal `json:"requested_price"`
	RequestedQty   int64           `json:"requested_qty"`
	SubmittedAt    time.Time       `json:"submitted_at"`
}

// Event is anything the tracker's apply loop consumes.
type Event interface {
	orderID() string
}

// OrderUpdate is one status notification. Never mutated once created.
type OrderUpdate struct {
	OrderID       string    `json:"order_id"`
	Status        Status    `json:"status"`
	CumulativeQty int64     `json:"cumulative_qty"`
	Timestamp     time.Time `json:"timestamp"`
	Raw           string    `json:"raw,omitempty"`
}

func (u OrderUpdate) orderID() string { return u.OrderID }

// Deal is one atomic fill.
type Deal struct {
	OrderID   string          `json:"order_id"`
	DealID    string          `json:"deal_id,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Qty       int64           `json:"qty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (d Deal) orderID() string { return d.OrderID }

// Projection is the current view of one order plus its audit trail.
type Projection struct {
	Order
	Status        Status        `json:"status"`
	CumulativeQty int64         `json:"cumulative_qty"`
	DealQty       int64         `json:"deal_qty"`
	LastUpdateAt  time.Time     `json:"last_update_at"`
	Registered    bool          `json:"registered"`
	History       []OrderUpdate `json:"history"`
	Deals         []Deal        `json:"deals"`
}

// AnomalyKind classifies a non-fatal inconsistency in the event stream.
type AnomalyKind string

const (
	AnomalyDuplicateUpdate   AnomalyKind = "duplicate_update"
	AnomalyRegressiveUpdate  AnomalyKind = "regressive_update"
	AnomalyTerminalViolation AnomalyKind = "terminal_violation"
	AnomalyOutOfOrder        AnomalyKind = "out_of_order"
	AnomalyUnknownOrder      AnomalyKind = "unknown_order"
	AnomalyOverfill          AnomalyKind = "overfill"
	AnomalyDuplicateDeal     AnomalyKind = "duplicate_deal"
	AnomalyMalformed         AnomalyKind = "malformed_event"
)

type Anomaly struct {
	Kind       AnomalyKind  `json:"kind"`
	OrderID    string       `json:"order_id"`
	Detail     string       `json:"detail"`
	ObservedAt time.Time    `json:"observed_at"`
	Update     *OrderUpdate `json:"update,omitempty"`
	Deal       *Deal        `json:"deal,omitempty"`
	Resolved   bool         `json:"resolved"`
}

// Discrepancy reports a mismatch between the cumulative fill and summed deals.
// Difference is CumulativeQty minus DealQty.
type Discrepancy struct {
	OrderID       string `json:"order_id"`
	CumulativeQty int64  `json:"cumulative_qty"`
	DealQty       int64  `json:"deal_qty"`
	Difference    int64  `json:"difference"`
}

// Outcome is what the tracker did with one event. An accepted event may
// still carry anomalies (an unknown order, an overfill).
type Outcome struct {
	Accepted  bool
	Anomalies []Anomaly
}
