// Package sim is an in-process brokerage used for dry runs and tests. It
// produces random-walk quotes and rankings and fills orders asynchronously,
// optionally duplicating and reordering the pushed reports the way an
// at-least-once broker feed does.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"momentum-trader/pkg/broker"
)

var log = logrus.WithField("component", "sim-broker")

// Config tunes the simulation.
type Config struct {
	Symbols       []string
	Seed          int64
	StartPrice    float64
	Volatility    float64 // max fractional move per Step
	DuplicateRate float64 // chance each report is delivered twice
	ReorderRate   float64 // chance two adjacent reports swap
	RejectRate    float64 // chance an accepted order is later rejected
	MaxFillSlices int
	MaxQuantity   int64 // lots; larger requests are rejected synchronously
	DeliveryDelay time.Duration
	InitialCash   decimal.Decimal
	Now           func() time.Time
}

// DefaultConfig returns a small, fairly noisy market.
func DefaultConfig() Config {
	return Config{
		Symbols:       []string{"2330", "2317", "2454", "2603", "3008", "2882", "1301", "2412"},
		Seed:          1,
		StartPrice:    100,
		Volatility:    0.01,
		DuplicateRate: 0.2,
		ReorderRate:   0.2,
		RejectRate:    0.05,
		MaxFillSlices: 3,
		MaxQuantity:   499,
		DeliveryDelay: 5 * time.Millisecond,
		InitialCash:   decimal.NewFromInt(1_000_000),
	}
}

type instrument struct {
	symbol    string
	reference decimal.Decimal
	close     decimal.Decimal
	volume    int64
	updatedAt time.Time
}

type holding struct {
	qty  int64
	cost decimal.Decimal // total cost basis
}

// Gateway implements broker.Gateway and broker.Account.
type Gateway struct {
	cfg Config

	mu          sync.Mutex
	rng         *rand.Rand
	instruments map[string]*instrument
	subscribed  map[string]bool
	nextID      int
	holdings    map[string]*holding
	cash        decimal.Decimal
	closed      bool

	orderHandlers []func(broker.OrderReport)
	dealHandlers  []func(broker.DealReport)
	quoteHandlers []func(broker.Quote)

	wg sync.WaitGroup
}

// New seeds the instrument universe with opening changes between -10% and +10%.
func New(cfg Config) *Gateway {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.MaxFillSlices <= 0 {
		cfg.MaxFillSlices = 1
	}
	g := &Gateway{
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		instruments: make(map[string]*instrument, len(cfg.Symbols)),
		subscribed:  make(map[string]bool),
		holdings:    make(map[string]*holding),
		cash:        cfg.InitialCash,
	}
	now := cfg.Now()
	for _, sym := range cfg.Symbols {
		ref := decimal.NewFromFloat(cfg.StartPrice * (0.5 + g.rng.Float64())).Round(2)
		chg := (g.rng.Float64()*2 - 1) * 0.10
		g.instruments[sym] = &instrument{
			symbol:    sym,
			reference: ref,
			close:     ref.Mul(decimal.NewFromFloat(1 + chg)).Round(2),
			volume:    g.rng.Int63n(3_000_000),
			updatedAt: now,
		}
	}
	return g
}

// SetQuote pins an instrument's state; used by tests to force signal conditions.
func (g *Gateway) SetQuote(symbol string, reference, last decimal.Decimal, volume int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instruments[symbol] = &instrument{
		symbol:    symbol,
		reference: reference,
		close:     last,
		volume:    volume,
		updatedAt: g.cfg.Now(),
	}
}

// Step advances every instrument by one random-walk tick and pushes quotes
// for subscribed symbols.
func (g *Gateway) Step() {
	g.mu.Lock()
	now := g.cfg.Now()
	var ticks []broker.Quote
	for _, inst := range g.instruments {
		move := (g.rng.Float64()*2 - 1) * g.cfg.Volatility
		inst.close = inst.close.Mul(decimal.NewFromFloat(1 + move)).Round(2)
		inst.volume += g.rng.Int63n(200_000)
		inst.updatedAt = now
		if g.subscribed[inst.symbol] {
			ticks = append(ticks, quoteOf(inst))
		}
	}
	handlers := append([]func(broker.Quote){}, g.quoteHandlers...)
	g.mu.Unlock()

	for _, q := range ticks {
		for _, fn := range handlers {
			fn(q)
		}
	}
}

func quoteOf(inst *instrument) broker.Quote {
	return broker.Quote{
		Symbol:           inst.symbol,
		Close:            inst.close,
		CumulativeVolume: inst.volume,
		Timestamp:        inst.updatedAt,
	}
}

func (g *Gateway) GetMarketRanking(ctx context.Context, metric broker.Metric, limit int) ([]broker.RankEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !metric.Valid() {
		return nil, fmt.Errorf("sim: unknown metric %q", metric)
	}
	g.mu.Lock()
	entries := make([]broker.RankEntry, 0, len(g.instruments))
	for _, inst := range g.instruments {
		chg, _ := broker.ChangePercent(inst.close, inst.reference, decimal.Zero)
		entries = append(entries, broker.RankEntry{
			Symbol:         inst.symbol,
			ChangePercent:  chg,
			Volume:         broker.Lots(inst.volume),
			Turnover:       inst.close.Mul(decimal.NewFromInt(inst.volume)),
			Close:          inst.close,
			ReferencePrice: inst.reference,
		})
	}
	g.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch metric {
		case broker.MetricVolume:
			if a.Volume != b.Volume {
				return a.Volume > b.Volume
			}
		case broker.MetricTurnover:
			if !a.Turnover.Equal(b.Turnover) {
				return a.Turnover.GreaterThan(b.Turnover)
			}
		default:
			if a.ChangePercent != b.ChangePercent {
				return a.ChangePercent > b.ChangePercent
			}
		}
		return a.Symbol < b.Symbol
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (g *Gateway) GetLatestQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.subscribed[symbol] {
		return nil, nil
	}
	inst, ok := g.instruments[symbol]
	if !ok {
		return nil, nil
	}
	q := quoteOf(inst)
	return &q, nil
}

func (g *Gateway) SubscribeQuote(symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.instruments[symbol]; !ok {
		return fmt.Errorf("sim: unknown symbol %s", symbol)
	}
	g.subscribed[symbol] = true
	return nil
}

func (g *Gateway) UnsubscribeQuote(symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subscribed, symbol)
	return nil
}

func (g *Gateway) RegisterOrderHandler(fn func(broker.OrderReport)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orderHandlers = append(g.orderHandlers, fn)
}

func (g *Gateway) RegisterDealHandler(fn func(broker.DealReport)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dealHandlers = append(g.dealHandlers, fn)
}

func (g *Gateway) RegisterQuoteHandler(fn func(broker.Quote)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quoteHandlers = append(g.quoteHandlers, fn)
}

// SubmitOrder validates the request, assigns an order id and schedules the
// asynchronous report stream for it.
func (g *Gateway) SubmitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return "", &broker.SubmissionError{Code: "CLOSED", Reason: "gateway closed"}
	}
	if _, ok := g.instruments[req.Symbol]; !ok {
		return "", &broker.SubmissionError{Code: "SYMBOL", Reason: "unknown symbol " + req.Symbol}
	}
	if req.Quantity <= 0 {
		return "", &broker.SubmissionError{Code: "QTY", Reason: "quantity must be positive"}
	}
	if g.cfg.MaxQuantity > 0 && req.Quantity > g.cfg.MaxQuantity {
		return "", &broker.SubmissionError{Code: "QTY", Reason: fmt.Sprintf("quantity %d exceeds %d", req.Quantity, g.cfg.MaxQuantity)}
	}
	if req.PriceType != broker.PriceMarket && !req.Price.IsPositive() {
		return "", &broker.SubmissionError{Code: "PRICE", Reason: "limit price must be positive"}
	}

	g.nextID++
	id := fmt.Sprintf("S%06d", g.nextID)
	script := g.scriptLocked(id, req)

	g.wg.Add(1)
	go g.deliver(script)
	return id, nil
}

// report is one scheduled push: either an order report or a deal.
type report struct {
	order *broker.OrderReport
	deal  *broker.DealReport
	fill  func() // applied to holdings just before the deal is pushed
}

func (g *Gateway) scriptLocked(id string, req broker.OrderRequest) []report {
	now := g.cfg.Now()
	ms := func(step int) int64 { return now.Add(time.Duration(step) * time.Millisecond).UnixMilli() }
	price := req.Price
	if !price.IsPositive() {
		price = g.instruments[req.Symbol].close
	}

	script := []report{{order: &broker.OrderReport{OrderID: id, Status: "Submitted", DealQty: "0", Timestamp: ms(0)}}}
	if g.rng.Float64() < g.cfg.RejectRate {
		script = append(script, report{order: &broker.OrderReport{
			OrderID: id, Status: "Failed", DealQty: "0", Timestamp: ms(1), StatusCode: "88", Message: "rejected by exchange",
		}})
		return g.shuffleLocked(script)
	}

	slices := 1 + g.rng.Intn(g.cfg.MaxFillSlices)
	if int64(slices) > req.Quantity {
		slices = int(req.Quantity)
	}
	var cum int64
	for i := 0; i < slices; i++ {
		qty := req.Quantity / int64(slices)
		if i == slices-1 {
			qty = req.Quantity - cum
		}
		cum += qty
		status := "Filling"
		if cum == req.Quantity {
			status = "Filled"
		}
		step := 2*i + 1
		q, sym, side := qty, req.Symbol, req.Side
		script = append(script,
			report{
				deal: &broker.DealReport{
					OrderID: id, Seq: fmt.Sprintf("%s-%d", id, i+1), Symbol: sym,
					Price: price.String(), Quantity: strconv.FormatInt(qty, 10), Timestamp: ms(step),
				},
				fill: func() { g.applyFill(sym, side, q, price) },
			},
			report{order: &broker.OrderReport{
				OrderID: id, Status: status, DealQty: strconv.FormatInt(cum, 10), Timestamp: ms(step + 1),
			}},
		)
	}
	return g.shuffleLocked(script)
}

// shuffleLocked duplicates and swaps reports according to the configured rates.
func (g *Gateway) shuffleLocked(script []report) []report {
	out := make([]report, 0, len(script)*2)
	for _, r := range script {
		out = append(out, r)
		if g.rng.Float64() < g.cfg.DuplicateRate {
			dup := r
			dup.fill = nil
			out = append(out, dup)
		}
	}
	for i := 0; i+1 < len(out); i++ {
		if g.rng.Float64() < g.cfg.ReorderRate {
			out[i], out[i+1] = out[i+1], out[i]
			i++
		}
	}
	return out
}

func (g *Gateway) applyFill(symbol string, side broker.Side, qty int64, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.holdings[symbol]
	if h == nil {
		h = &holding{}
		g.holdings[symbol] = h
	}
	notional := price.Mul(decimal.NewFromInt(qty * broker.SharesPerLot))
	if side == broker.SideSell {
		if h.qty > 0 {
			h.cost = h.cost.Sub(h.cost.Mul(decimal.NewFromInt(qty)).Div(decimal.NewFromInt(h.qty)))
		}
		h.qty -= qty
		g.cash = g.cash.Add(notional)
		return
	}
	h.qty += qty
	h.cost = h.cost.Add(notional)
	g.cash = g.cash.Sub(notional)
}

func (g *Gateway) deliver(script []report) {
	defer g.wg.Done()
	for _, r := range script {
		if g.cfg.DeliveryDelay > 0 {
			time.Sleep(g.cfg.DeliveryDelay)
		}
		if r.fill != nil {
			r.fill()
		}
		g.mu.Lock()
		orderHandlers := append([]func(broker.OrderReport){}, g.orderHandlers...)
		dealHandlers := append([]func(broker.DealReport){}, g.dealHandlers...)
		g.mu.Unlock()

		switch {
		case r.order != nil:
			for _, fn := range orderHandlers {
				fn(*r.order)
			}
		case r.deal != nil:
			for _, fn := range dealHandlers {
				fn(*r.deal)
			}
		}
	}
}

// Close rejects further submissions and waits for pending report streams.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.wg.Wait()
	log.Debug("sim: all report streams delivered")
}

// Drain waits for every scheduled report stream to finish.
func (g *Gateway) Drain() {
	g.wg.Wait()
}

var (
	_ broker.Gateway = (*Gateway)(nil)
	_ broker.Account = (*Gateway)(nil)
)
