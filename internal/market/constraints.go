package market

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"spot-connect/internal/core"
	"spot-connect/internal/metrics"
)

const DefaultConstraintsTTL = 30 * time.Minute

// ConstraintsLoader fetches every tradable symbol's constraints in one
// metadata request.
type ConstraintsLoader func(ctx context.Context) (map[string]core.SymbolConstraints, error)

type constraintsSnapshot struct {
	entries   map[string]core.SymbolConstraints
	fetchedAt time.Time
}

// ConstraintsCache holds one venue's symbol constraints. Readers check
// freshness without locking; a stale read takes the mutex, re-checks and
// rebuilds the whole map, so concurrent callers wait for a single request.
type ConstraintsCache struct {
	venue   string
	ttl     time.Duration
	metrics *metrics.Collector
	now     func() time.Time

	mu       sync.Mutex
	snapshot atomic.Pointer[constraintsSnapshot]
}

func NewConstraintsCache(venue string, ttl time.Duration, m *metrics.Collector) *ConstraintsCache {
	if ttl <= 0 {
		ttl = DefaultConstraintsTTL
	}
	return &ConstraintsCache{venue: venue, ttl: ttl, metrics: m, now: time.Now}
}

func (c *ConstraintsCache) fresh(s *constraintsSnapshot) bool {
	return s != nil && c.now().Sub(s.fetchedAt) < c.ttl
}

// Get returns constraints for a venue symbol, rebuilding the map with load
// when it is missing or older than the TTL.
func (c *ConstraintsCache) Get(ctx context.Context, symbol string, load ConstraintsLoader) (core.SymbolConstraints, error) {
	entries, err := c.All(ctx, load)
	if err != nil {
		return core.SymbolConstraints{}, err
	}
	sc, ok := entries[symbol]
	if !ok {
		return core.SymbolConstraints{}, fmt.Errorf("%w: %s %s", core.ErrUnknownProduct, c.venue, symbol)
	}
	return sc, nil
}

// All returns the current map. Callers must not modify it.
func (c *ConstraintsCache) All(ctx context.Context, load ConstraintsLoader) (map[string]core.SymbolConstraints, error) {
	if s := c.snapshot.Load(); c.fresh(s) {
		return s.entries, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.snapshot.Load(); c.fresh(s) {
		return s.entries, nil
	}
	entries, err := load(ctx)
	c.metrics.RecordConstraintsRefresh(c.venue, err)
	if err != nil {
		log.Printf("level=WARN event=constraints_refresh_failed venue=%s err=%q", c.venue, err.Error())
		return nil, err
	}
	if entries == nil {
		entries = map[string]core.SymbolConstraints{}
	}
	c.snapshot.Store(&constraintsSnapshot{entries: entries, fetchedAt: c.now()})
	log.Printf("level=INFO event=constraints_refreshed venue=%s symbols=%d", c.venue, len(entries))
	return entries, nil
}
