package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"momentum-trader/internal/events"
	"momentum-trader/internal/order"
	"momentum-trader/internal/strategy"
	"momentum-trader/pkg/db"
)

// OrderSource returns the current projection of an order.
type OrderSource interface {
	GetOrder(id string) (order.Projection, error)
}

// recordedTopics are the bus topics written to the store.
var recordedTopics = []events.Topic{
	events.TopicSignal,
	events.TopicSubmission,
	events.TopicOrderAccepted,
	events.TopicOrderUpdate,
	events.TopicDeal,
	events.TopicAnomaly,
	events.TopicDiscrepancy,
}

// Recorder persists session activity published on the bus. Order rows are
// always rewritten from the source's current projection so that topic
// interleaving cannot roll a row back.
type Recorder struct {
	bus    *events.Bus
	writer *BatchWriter
	source OrderSource
	buffer int
	now    func() time.Time

	unsubs  []func()
	wg      sync.WaitGroup
	started atomic.Bool
	written atomic.Uint64
	skipped atomic.Uint64
}

func NewRecorder(bus *events.Bus, writer *BatchWriter, source OrderSource, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{bus: bus, writer: writer, source: source, buffer: buffer, now: time.Now}
}

// Start subscribes to the recorded topics. Subscriptions end with Stop or ctx.
func (r *Recorder) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	for _, topic := range recordedTopics {
		ch, unsub := r.bus.Subscribe(topic, r.buffer)
		r.unsubs = append(r.unsubs, unsub)
		r.wg.Add(1)
		go r.consume(ctx, ch)
	}
	log.Infof("recorder: persisting %d topics", len(recordedTopics))
}

func (r *Recorder) consume(ctx context.Context, ch <-chan any) {
	defer r.wg.Done()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.Record(msg)
		case <-ctx.Done():
			return
		}
	}
}

// Record converts one bus payload into write operations.
func (r *Recorder) Record(msg any) {
	switch m := msg.(type) {
	case strategy.Signal:
		r.write("signals", db.InsertSignalSQL, db.Signal{
			Symbol: m.Symbol, Direction: string(m.Direction), TriggerPrice: m.TriggerPrice.String(),
			Quantity: m.Quantity, Reason: m.Reason, GeneratedAt: m.GeneratedAt,
		}.Args())
	case order.SubmissionResult:
		r.write("submissions", db.UpsertSubmissionSQL, db.Submission{
			CorrelationID: m.CorrelationID, Symbol: m.Signal.Symbol, OrderID: m.OrderID,
			Accepted: m.Accepted, Error: m.Error, SubmittedAt: m.SubmittedAt, Latency: m.Latency,
		}.Args())
	case order.Projection:
		r.writeOrder(m)
	case order.OrderUpdate:
		r.write("order_updates", db.InsertOrderUpdateSQL, db.OrderUpdate{
			OrderID: m.OrderID, Status: string(m.Status), CumulativeQty: m.CumulativeQty,
			Raw: m.Raw, Timestamp: m.Timestamp,
		}.Args())
		r.refreshOrder(m.OrderID)
	case order.Deal:
		r.write("deals", db.InsertDealSQL, db.Deal{
			OrderID: m.OrderID, DealID: m.DealID, Price: m.Price.String(), Qty: m.Qty, Timestamp: m.Timestamp,
		}.Args())
	case order.Anomaly:
		r.write("anomalies", db.InsertAnomalySQL, db.Anomaly{
			Kind: string(m.Kind), OrderID: m.OrderID, Detail: m.Detail, ObservedAt: m.ObservedAt,
		}.Args())
	case order.Discrepancy:
		r.write("discrepancies", db.InsertDiscrepancySQL, db.Discrepancy{
			OrderID: m.OrderID, CumulativeQty: m.CumulativeQty, DealQty: m.DealQty,
			Difference: m.Difference, ObservedAt: r.now(),
		}.Args())
	default:
		r.skipped.Add(1)
		log.Debugf("recorder: ignoring payload %T", msg)
	}
}

func (r *Recorder) refreshOrder(id string) {
	if r.source == nil {
		return
	}
	p, err := r.source.GetOrder(id)
	if err != nil {
		log.Warnf("recorder: order %s not refreshed: %v", id, err)
		return
	}
	r.writeOrder(p)
}

func (r *Recorder) writeOrder(p order.Projection) {
	if r.source != nil {
		if cur, err := r.source.GetOrder(p.ID); err == nil {
			p = cur
		}
	}
	r.write("orders", db.UpsertOrderSQL, OrderRow(p).Args())
}

func (r *Recorder) write(table, query string, args []any) {
	r.writer.Write(WriteOp{Table: table, Query: query, Args: args})
	r.written.Add(1)
}

// OrderRow maps a projection onto its stored row.
func OrderRow(p order.Projection) db.Order {
	return db.Order{
		ID:            p.ID,
		CorrelationID: p.CorrelationID,
		Symbol:        p.Symbol,
		Side:          string(p.Direction),
		Price:         p.RequestedPrice.String(),
		Qty:           p.RequestedQty,
		Status:        string(p.Status),
		CumulativeQty: p.CumulativeQty,
		Registered:    p.Registered,
		SubmittedAt:   p.SubmittedAt,
		UpdatedAt:     p.LastUpdateAt,
	}
}

// Written returns how many write operations were queued.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Stop unsubscribes, waits for the consumers and flushes the writer.
func (r *Recorder) Stop() error {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.wg.Wait()
	return r.writer.Flush()
}
