// Package gateway is the boundary between broker callbacks and the trading
// core. Broker payloads are translated into typed order events on the
// broker's own goroutine and handed to the tracker's queue; nothing else
// runs inside a broker callback.
package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"momentum-trader/internal/events"
	"momentum-trader/internal/order"
	"momentum-trader/pkg/broker"
	"momentum-trader/pkg/cache"
)

var log = logrus.WithField("component", "gateway")

// Bridge registers with a broker and forwards its pushes.
type Bridge struct {
	queue   *events.Queue[order.Event]
	journal *order.Journal
	quotes  *cache.QuoteCache
	bus     *events.Bus
	now     func() time.Time

	orderReports atomic.Uint64
	dealReports  atomic.Uint64
	quoteTicks   atomic.Uint64
	lost         atomic.Uint64
}

type Option func(*Bridge)

// WithJournal writes every translated event to j before it is queued.
func WithJournal(j *order.Journal) Option { return func(b *Bridge) { b.journal = j } }

// WithQuoteCache stores pushed quotes in c.
func WithQuoteCache(c *cache.QuoteCache) Option { return func(b *Bridge) { b.quotes = c } }

// WithBus republishes pushed quotes on the fan-out bus.
func WithBus(bus *events.Bus) Option { return func(b *Bridge) { b.bus = bus } }

func WithClock(now func() time.Time) Option { return func(b *Bridge) { b.now = now } }

func NewBridge(q *events.Queue[order.Event], opts ...Option) *Bridge {
	b := &Bridge{queue: q, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach registers the bridge's handlers with gw.
func (b *Bridge) Attach(gw broker.Gateway) {
	gw.RegisterOrderHandler(b.HandleOrderReport)
	gw.RegisterDealHandler(b.HandleDealReport)
	gw.RegisterQuoteHandler(b.HandleQuote)
}

func (b *Bridge) HandleOrderReport(r broker.OrderReport) {
	b.orderReports.Add(1)
	b.forward(TranslateOrder(r, b.now))
}

func (b *Bridge) HandleDealReport(r broker.DealReport) {
	b.dealReports.Add(1)
	b.forward(TranslateDeal(r, b.now))
}

func (b *Bridge) HandleQuote(q broker.Quote) {
	b.quoteTicks.Add(1)
	if b.quotes != nil {
		b.quotes.Set(q)
	}
	if b.bus != nil {
		b.bus.Publish(events.TopicQuote, q)
	}
}

func (b *Bridge) forward(ev order.Event) {
	if b.journal != nil {
		if err := b.journal.AppendEvent(ev); err != nil {
			log.Errorf("bridge: journal: %v", err)
		}
	}
	if err := b.queue.Push(ev); err != nil {
		b.lost.Add(1)
		log.Errorf("bridge: event %+v arrived after shutdown: %v", ev, err)
	}
}

// Stats reports how many pushes the bridge has seen.
type Stats struct {
	OrderReports uint64 `json:"order_reports"`
	DealReports  uint64 `json:"deal_reports"`
	QuoteTicks   uint64 `json:"quote_ticks"`
	Lost         uint64 `json:"lost"`
	QueueDepth   int    `json:"queue_depth"`
}

func (b *Bridge) Stats() Stats {
	return Stats{
		OrderReports: b.orderReports.Load(),
		DealReports:  b.dealReports.Load(),
		QuoteTicks:   b.quoteTicks.Load(),
		Lost:         b.lost.Load(),
		QueueDepth:   b.queue.Len(),
	}
}

// MapStatus translates a broker status word into an order status. ok is
// false for words the broker vocabulary does not define.
func MapStatus(raw string) (order.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pendingsubmit", "pending":
		return order.StatusPending, true
	case "presubmitted", "submitted", "new":
		return order.StatusSubmitted, true
	case "filling", "partfilled", "partiallyfilled", "partially_filled":
		return order.StatusPartiallyFilled, true
	case "filled":
		return order.StatusFilled, true
	case "cancelled", "canceled":
		return order.StatusCancelled, true
	case "failed", "rejected":
		return order.StatusRejected, true
	}
	return order.Status(raw), false
}

// TranslateOrder converts a raw order report. Unparseable fields yield an
// update the tracker will record as malformed rather than a dropped event.
func TranslateOrder(r broker.OrderReport, now func() time.Time) order.OrderUpdate {
	status, ok := MapStatus(r.Status)
	if !ok {
		log.Warnf("bridge: unknown status %q for order %s", r.Status, r.OrderID)
	}
	cum, err := parseQty(r.DealQty)
	if err != nil {
		log.Warnf("bridge: order %s: %v", r.OrderID, err)
		cum = -1
	}
	return order.OrderUpdate{
		OrderID:       strings.TrimSpace(r.OrderID),
		Status:        status,
		CumulativeQty: cum,
		Timestamp:     stamp(r.Timestamp, now),
		Raw:           fmt.Sprintf("%+v", r),
	}
}

func TranslateDeal(r broker.DealReport, now func() time.Time) order.Deal {
	qty, err := parseQty(r.Quantity)
	if err != nil {
		log.Warnf("bridge: deal %s/%s: %v", r.OrderID, r.Seq, err)
		qty = 0
	}
	price, err := decimal.NewFromString(strings.TrimSpace(r.Price))
	if err != nil {
		log.Warnf("bridge: deal %s/%s: bad price %q", r.OrderID, r.Seq, r.Price)
		price = decimal.Zero
	}
	return order.Deal{
		OrderID:   strings.TrimSpace(r.OrderID),
		DealID:    r.Seq,
		Price:     price,
		Qty:       qty,
		Timestamp: stamp(r.Timestamp, now),
	}
}

func parseQty(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad quantity %q", s)
	}
	return n, nil
}

func stamp(ms int64, now func() time.Time) time.Time {
	if ms <= 0 {
		return now()
	}
	return time.UnixMilli(ms).UTC()
}
