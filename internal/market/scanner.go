// Package market pulls ranked snapshots and quotes from the broker and keeps
// live-quote subscriptions in line with the current candidates.
package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"momentum-trader/pkg/broker"
)

var log = logrus.WithField("component", "market")

const (
	DefaultLimit = 100
	MaxLimit     = 200
)

type Config struct {
	Metrics          []broker.Metric
	Limit            int
	PrescreenPercent float64 // subscribe symbols changing more than this
	UnsubscribeStale bool
	QuoteRate        rate.Limit // quote pulls per second; zero means unlimited
	QuoteBurst       int
}

func DefaultConfig() Config {
	return Config{
		Metrics:          []broker.Metric{broker.MetricChangePercent},
		Limit:            DefaultLimit,
		PrescreenPercent: 4.0,
		QuoteRate:        20,
		QuoteBurst:       5,
	}
}

// ClampLimit keeps a scan limit inside 1..MaxLimit.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

type Scanner struct {
	gw      broker.Gateway
	cfg     Config
	limiter *rate.Limiter

	mu         sync.Mutex
	subscribed map[string]struct{}
}

func NewScanner(gw broker.Gateway, cfg Config) *Scanner {
	if len(cfg.Metrics) == 0 {
		cfg.Metrics = []broker.Metric{broker.MetricChangePercent}
	}
	cfg.Limit = ClampLimit(cfg.Limit)
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.QuoteRate > 0 {
		burst := cfg.QuoteBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.QuoteRate, burst)
	}
	return &Scanner{
		gw:         gw,
		cfg:        cfg,
		limiter:    limiter,
		subscribed: make(map[string]struct{}),
	}
}

// Snapshot merges the configured rankings into one list, first metric
// first, one row per symbol. A metric that fails is logged and skipped; an
// error is returned only when every metric failed.
func (s *Scanner) Snapshot(ctx context.Context) ([]broker.RankEntry, error) {
	seen := make(map[string]struct{})
	var out []broker.RankEntry
	var errs []error

	for _, m := range s.cfg.Metrics {
		rows, err := s.gw.GetMarketRanking(ctx, m, s.cfg.Limit)
		if err != nil {
			log.Warnf("scanner: ranking %s failed: %v", m, err)
			errs = append(errs, fmt.Errorf("%s: %w", m, err))
			continue
		}
		for _, r := range rows {
			if r.Symbol == "" {
				continue
			}
			if _, dup := seen[r.Symbol]; dup {
				continue
			}
			seen[r.Symbol] = struct{}{}
			out = append(out, withChange(r))
		}
	}
	if len(errs) == len(s.cfg.Metrics) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// withChange fills in the change percent when the broker left it out.
func withChange(r broker.RankEntry) broker.RankEntry {
	if r.ChangePercent != 0 || !r.Close.IsPositive() {
		return r
	}
	if pct, ok := broker.ChangePercent(r.Close, r.ReferencePrice, r.YesterdayClose); ok {
		r.ChangePercent = pct
	}
	return r
}

// Prescreen keeps entries whose change exceeds the subscription threshold.
func (s *Scanner) Prescreen(entries []broker.RankEntry) []broker.RankEntry {
	var out []broker.RankEntry
	for _, e := range entries {
		if e.ChangePercent > s.cfg.PrescreenPercent {
			out = append(out, e)
		}
	}
	return out
}

// SyncSubscriptions subscribes every candidate not yet subscribed and, when
// configured, drops subscriptions for symbols no longer among them.
func (s *Scanner) SyncSubscriptions(candidates []broker.RankEntry) (added, removed []string) {
	want := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		want[c.Symbol] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sym := range want {
		if _, ok := s.subscribed[sym]; ok {
			continue
		}
		if err := s.gw.SubscribeQuote(sym); err != nil {
			log.Warnf("scanner: subscribe %s: %v", sym, err)
			continue
		}
		s.subscribed[sym] = struct{}{}
		added = append(added, sym)
	}
	if s.cfg.UnsubscribeStale {
		for sym := range s.subscribed {
			if _, ok := want[sym]; ok {
				continue
			}
			if err := s.gw.UnsubscribeQuote(sym); err != nil {
				log.Warnf("scanner: unsubscribe %s: %v", sym, err)
				continue
			}
			delete(s.subscribed, sym)
			removed = append(removed, sym)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	if len(added) > 0 || len(removed) > 0 {
		log.Infof("scanner: subscribed +%d -%d (total %d)", len(added), len(removed), len(s.subscribed))
	}
	return added, removed
}

// Quote pulls the latest quote, respecting the quote rate limit. A nil
// quote without error means the broker has nothing for the symbol.
func (s *Scanner) Quote(ctx context.Context, symbol string) (*broker.Quote, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.gw.GetLatestQuote(ctx, symbol)
}

// Subscribed returns the currently subscribed symbols, sorted.
func (s *Scanner) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// UnsubscribeAll releases every live-quote subscription.
func (s *Scanner) UnsubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym := range s.subscribed {
		if err := s.gw.UnsubscribeQuote(sym); err != nil {
			log.Warnf("scanner: unsubscribe %s: %v", sym, err)
		}
		delete(s.subscribed, sym)
	}
}
