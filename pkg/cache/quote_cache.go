package cache

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"momentum-trader/pkg/broker"
)

const numShards = 16

// QuoteCache holds the latest pushed quote per symbol, sharded to keep
// broker tick delivery and scan reads off a single lock.
type QuoteCache struct {
	shards [numShards]*quoteShard
	now    func() time.Time
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]quoteEntry
}

type quoteEntry struct {
	quote      broker.Quote
	receivedAt time.Time
}

func NewQuoteCache() *QuoteCache {
	c := &QuoteCache{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{items: make(map[string]quoteEntry)}
	}
	return c
}

func (c *QuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores q unless a newer quote for the symbol is already held.
func (c *QuoteCache) Set(q broker.Quote) {
	shard := c.getShard(q.Symbol)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if cur, ok := shard.items[q.Symbol]; ok && cur.quote.Timestamp.After(q.Timestamp) {
		return
	}
	shard.items[q.Symbol] = quoteEntry{quote: q, receivedAt: c.now()}
}

func (c *QuoteCache) Get(symbol string) (broker.Quote, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	e, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return e.quote, ok
}

// GetFresh returns the cached quote only if it was received within maxAge.
func (c *QuoteCache) GetFresh(symbol string, maxAge time.Duration) (broker.Quote, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	e, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok || c.now().Sub(e.receivedAt) > maxAge {
		return broker.Quote{}, false
	}
	return e.quote, true
}

func (c *QuoteCache) Delete(symbol string) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	delete(shard.items, symbol)
	shard.mu.Unlock()
}

// Len returns total items across all shards.
func (c *QuoteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries received more than maxAge ago.
func (c *QuoteCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, e := range shard.items {
			if e.receivedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// All returns every cached quote, sorted by symbol.
func (c *QuoteCache) All() []broker.Quote {
	var out []broker.Quote
	for _, shard := range c.shards {
		shard.mu.RLock()
		for _, e := range shard.items {
			out = append(out, e.quote)
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
