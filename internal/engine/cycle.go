// Package engine runs the scan → evaluate → submit cycle and exposes the
// trading core to the API layer.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"momentum-trader/internal/events"
	"momentum-trader/internal/order"
	"momentum-trader/internal/strategy"
	"momentum-trader/pkg/broker"
)

var log = logrus.WithField("component", "engine")

// Market is the scanner surface used by a cycle.
type Market interface {
	Snapshot(ctx context.Context) ([]broker.RankEntry, error)
	Prescreen(entries []broker.RankEntry) []broker.RankEntry
	SyncSubscriptions(candidates []broker.RankEntry) (added, removed []string)
	Quote(ctx context.Context, symbol string) (*broker.Quote, error)
	Subscribed() []string
}

// QuoteCache holds quotes pushed by the broker.
type QuoteCache interface {
	GetFresh(symbol string, maxAge time.Duration) (broker.Quote, bool)
}

// Submitter turns a signal into a broker order.
type Submitter interface {
	Execute(ctx context.Context, sig strategy.Signal) order.SubmissionResult
}

type Publisher interface {
	Publish(topic events.Topic, payload any)
}

// Recorder receives cycle and submission measurements.
type Recorder interface {
	RecordCycle(d time.Duration, err error)
	IncrementSignals()
	RecordSubmission(accepted bool, latency time.Duration)
}

// CycleConfig tunes a cycle.
type CycleConfig struct {
	Thresholds  strategy.Thresholds
	QuoteMaxAge time.Duration // cached quotes older than this are pulled again
}

// Engine owns the per-session signal log and runs cycles. Cycles never
// overlap; a concurrent RunCycle returns ErrCycleRunning.
type Engine struct {
	market   Market
	quotes   QuoteCache
	session  *strategy.SessionLog
	executor Submitter
	bus      Publisher
	metrics  Recorder
	now      func() time.Time

	cfgMu sync.RWMutex
	cfg   CycleConfig

	running sync.Mutex
	seq     atomic.Uint64
	lastMu  sync.RWMutex
	last    *CycleResult
}

type Option func(*Engine)

func WithQuoteCache(c QuoteCache) Option { return func(e *Engine) { e.quotes = c } }

func WithBus(p Publisher) Option { return func(e *Engine) { e.bus = p } }

func WithMetrics(r Recorder) Option { return func(e *Engine) { e.metrics = r } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(market Market, session *strategy.SessionLog, executor Submitter, cfg CycleConfig, opts ...Option) *Engine {
	if session == nil {
		session = strategy.NewSessionLog()
	}
	if cfg.QuoteMaxAge <= 0 {
		cfg.QuoteMaxAge = 30 * time.Second
	}
	e := &Engine{
		market:   market,
		session:  session,
		executor: executor,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session returns the signal log shared with the report.
func (e *Engine) Session() *strategy.SessionLog { return e.session }

func (e *Engine) Thresholds() strategy.Thresholds {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.Thresholds
}

// SetThresholds replaces the thresholds used from the next evaluation on.
func (e *Engine) SetThresholds(th strategy.Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	e.cfgMu.Lock()
	e.cfg.Thresholds = th
	e.cfgMu.Unlock()
	log.Infof("engine: thresholds now change>%.2f%% volume>%d lots, %d lot(s) per signal",
		th.ChangePercent, th.VolumeLots, th.OrderLots)
	return nil
}

// Work adapts RunCycle to the scheduler.
func (e *Engine) Work(ctx context.Context) error {
	_, err := e.RunCycle(ctx)
	return err
}

// RunCycle performs one scan: rank snapshot, subscription pre-screen,
// evaluation of each candidate against its latest quote, and submission of
// each first-time signal. Per-symbol failures are logged and skipped; only a
// failed snapshot fails the cycle.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	if !e.running.TryLock() {
		return CycleResult{}, ErrCycleRunning
	}
	defer e.running.Unlock()

	started := e.now()
	res := CycleResult{Seq: e.seq.Add(1), StartedAt: started}
	err := e.cycle(ctx, &res)
	res.Duration = time.Since(started)
	if err != nil {
		res.Error = err.Error()
	}
	if e.metrics != nil {
		e.metrics.RecordCycle(res.Duration, err)
	}

	e.lastMu.Lock()
	e.last = &res
	e.lastMu.Unlock()

	log.Infof("engine: cycle %d ranked=%d candidates=%d signals=%d submitted=%d failed=%d in %v",
		res.Seq, res.Ranked, res.Candidates, res.Signals, res.Submitted, res.Failed, res.Duration.Truncate(time.Millisecond))
	return res, err
}

func (e *Engine) cycle(ctx context.Context, res *CycleResult) error {
	entries, err := e.market.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	res.Ranked = len(entries)

	candidates := e.market.Prescreen(entries)
	res.Candidates = len(candidates)
	res.Subscribed, res.Dropped = e.market.SyncSubscriptions(candidates)

	th := e.Thresholds()
	for _, entry := range candidates {
		if ctx.Err() != nil {
			log.Warnf("engine: cycle %d interrupted: %v", res.Seq, ctx.Err())
			return nil
		}
		if e.session.Signaled(entry.Symbol) {
			continue
		}
		quote, ok := e.quote(ctx, entry.Symbol)
		if !ok {
			res.QuoteMiss++
			continue
		}
		res.Evaluated++

		sig := strategy.Evaluate(entry, quote, th)
		if sig == nil || !e.session.MarkIfNew(sig.Symbol) {
			continue
		}
		e.session.Record(*sig)
		res.Signals++
		if e.metrics != nil {
			e.metrics.IncrementSignals()
		}
		if e.bus != nil {
			e.bus.Publish(events.TopicSignal, *sig)
		}
		log.Infof("engine: signal %s %s @ %s (%s)", sig.Direction, sig.Symbol, sig.TriggerPrice, sig.Reason)

		if e.executor == nil {
			continue
		}
		out := e.executor.Execute(ctx, *sig)
		if e.metrics != nil {
			e.metrics.RecordSubmission(out.Accepted, out.Latency)
		}
		if out.Accepted {
			res.Submitted++
		} else {
			res.Failed++
		}
	}
	return nil
}

// quote prefers a fresh pushed quote and pulls otherwise.
func (e *Engine) quote(ctx context.Context, symbol string) (broker.Quote, bool) {
	if e.quotes != nil {
		e.cfgMu.RLock()
		maxAge := e.cfg.QuoteMaxAge
		e.cfgMu.RUnlock()
		if q, ok := e.quotes.GetFresh(symbol, maxAge); ok {
			return q, true
		}
	}
	q, err := e.market.Quote(ctx, symbol)
	if err != nil {
		log.Warnf("engine: quote %s: %v", symbol, err)
		return broker.Quote{}, false
	}
	if q == nil {
		log.Debugf("engine: no quote for %s", symbol)
		return broker.Quote{}, false
	}
	return *q, true
}

// LastCycle returns the most recent cycle result, if any.
func (e *Engine) LastCycle() *CycleResult {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	if e.last == nil {
		return nil
	}
	c := *e.last
	return &c
}

// Cycles returns how many cycles have started.
func (e *Engine) Cycles() uint64 { return e.seq.Load() }
