package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"momentum-trader/internal/events"
	"momentum-trader/internal/strategy"
	"momentum-trader/pkg/broker"
)

// PreTradeCheck vets an order before it reaches the broker.
type PreTradeCheck interface {
	Allow(symbol string, notional decimal.Decimal) error
}

// SubmissionResult is the outcome of one Execute call. A failed submission
// is reported here rather than as an error.
type SubmissionResult struct {
	Signal        strategy.Signal `json:"signal"`
	CorrelationID string          `json:"correlation_id"`
	OrderID       string          `json:"order_id,omitempty"`
	Accepted      bool            `json:"accepted"`
	Err           error           `json:"-"`
	Error         string          `json:"error,omitempty"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	Latency       time.Duration   `json:"latency"`
}

// Executor turns signals into broker orders and registers acknowledged
// orders with the tracker under the broker-assigned id.
type Executor struct {
	gateway broker.Gateway
	tracker *Tracker

	risk      PreTradeCheck
	journal   *Journal
	bus       Publisher
	priceType broker.PriceType
	orderType broker.OrderType
	onResult  func(SubmissionResult)
	now       func() time.Time
	newID     func() string

	mu      sync.Mutex
	results []SubmissionResult
}

type ExecutorOption func(*Executor)

func WithRiskCheck(c PreTradeCheck) ExecutorOption {
	return func(e *Executor) { e.risk = c }
}

func WithJournal(j *Journal) ExecutorOption {
	return func(e *Executor) { e.journal = j }
}

func WithBus(p Publisher) ExecutorOption {
	return func(e *Executor) { e.bus = p }
}

func WithOrderTypes(pt broker.PriceType, ot broker.OrderType) ExecutorOption {
	return func(e *Executor) { e.priceType, e.orderType = pt, ot }
}

// WithResultHook observes every submission result, accepted or not.
func WithResultHook(fn func(SubmissionResult)) ExecutorOption {
	return func(e *Executor) { e.onResult = fn }
}

func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(gw broker.Gateway, tracker *Tracker, opts ...ExecutorOption) *Executor {
	e := &Executor{
		gateway:   gw,
		tracker:   tracker,
		priceType: broker.PriceLimit,
		orderType: broker.OrderROD,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute submits sig synchronously. The correlation token is joined to the
// broker order id from the submit acknowledgement; no tracker entry is
// created unless the broker accepted the request.
func (e *Executor) Execute(ctx context.Context, sig strategy.Signal) SubmissionResult {
	res := SubmissionResult{
		Signal:        sig,
		CorrelationID: e.newID(),
		SubmittedAt:   e.now(),
	}
	defer func() { e.finish(res) }()

	if err := validate(sig); err != nil {
		res.Err = err
		return res
	}
	if e.risk != nil {
		notional := sig.TriggerPrice.Mul(decimal.NewFromInt(sig.Quantity * broker.SharesPerLot))
		if err := e.risk.Allow(sig.Symbol, notional); err != nil {
			res.Err = fmt.Errorf("risk: %w", err)
			return res
		}
	}

	req := broker.OrderRequest{
		Symbol:    sig.Symbol,
		Side:      sig.Direction,
		Price:     sig.TriggerPrice,
		Quantity:  sig.Quantity,
		PriceType: e.priceType,
		OrderType: e.orderType,
		ClientID:  res.CorrelationID,
	}
	start := time.Now()
	id, err := e.gateway.SubmitOrder(ctx, req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}
	if id == "" {
		res.Err = &broker.SubmissionError{Code: "NO_ID", Reason: "broker acknowledged without an order id"}
		return res
	}

	res.OrderID = id
	res.Accepted = true
	o := Order{
		ID:             id,
		CorrelationID:  res.CorrelationID,
		Symbol:         sig.Symbol,
		Direction:      sig.Direction,
		RequestedPrice: sig.TriggerPrice,
		RequestedQty:   sig.Quantity,
		SubmittedAt:    res.SubmittedAt,
	}
	if e.journal != nil {
		if err := e.journal.AppendOrder(o); err != nil {
			log.Errorf("executor: journal order %s: %v", id, err)
		}
	}
	if err := e.tracker.Register(o); err != nil {
		res.Err = fmt.Errorf("register %s: %w", id, err)
	}
	return res
}

func (e *Executor) finish(res SubmissionResult) {
	if res.Err != nil {
		res.Error = res.Err.Error()
		var se *broker.SubmissionError
		if errors.As(res.Err, &se) {
			log.Warnf("executor: %s rejected by broker: %v", res.Signal.Symbol, se)
		} else {
			log.Warnf("executor: %s not submitted: %v", res.Signal.Symbol, res.Err)
		}
	} else {
		log.Infof("executor: %s %s %d @ %s -> order %s (latency %v)",
			res.Signal.Direction, res.Signal.Symbol, res.Signal.Quantity, res.Signal.TriggerPrice, res.OrderID, res.Latency)
	}

	e.mu.Lock()
	e.results = append(e.results, res)
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(events.TopicSubmission, res)
	}
	if e.onResult != nil {
		e.onResult(res)
	}
}

func validate(sig strategy.Signal) error {
	switch {
	case sig.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	case !sig.TriggerPrice.IsPositive():
		return fmt.Errorf("%w: price %s must be positive", ErrInvalidOrder, sig.TriggerPrice)
	case sig.Quantity <= 0:
		return fmt.Errorf("%w: quantity %d must be positive", ErrInvalidOrder, sig.Quantity)
	}
	return nil
}

// Results returns every submission attempt in order.
func (e *Executor) Results() []SubmissionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SubmissionResult(nil), e.results...)
}

// SubmittedCount counts submissions the broker acknowledged.
func (e *Executor) SubmittedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, r := range e.results {
		if r.Accepted {
			n++
		}
	}
	return n
}

// FailedCount counts submissions that never reached the broker or were refused by it.
func (e *Executor) FailedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, r := range e.results {
		if !r.Accepted {
			n++
		}
	}
	return n
}

// Reset forgets the session's submission log.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = nil
}
