package market

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"copytrade-core/pkg/exchanges/common"
)

// DefaultTTL bounds how long the market list is served without a refetch.
const DefaultTTL = 5 * time.Minute

// Lister is the slice of the gateway the cache needs.
type Lister interface {
	Markets(ctx context.Context) ([]common.MarketInfo, error)
}

// Cache holds the venue's market list with a TTL. Refreshes follow a
// stale-or-missing rule with no cross-caller coordination; concurrent
// refreshes may duplicate a fetch, which is idempotent and acceptable.
type Cache struct {
	gateway Lister
	ttl     time.Duration

	mu        sync.RWMutex
	byID      map[int]common.MarketInfo
	bySymbol  map[string]int // uppercase symbol -> market id, active only
	fetchedAt time.Time
}

// NewCache creates a market cache over the gateway. ttl <= 0 uses DefaultTTL.
func NewCache(gateway Lister, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		gateway:  gateway,
		ttl:      ttl,
		byID:     make(map[int]common.MarketInfo),
		bySymbol: make(map[string]int),
	}
}

// ByID returns market info for an id, refreshing when stale or unknown.
func (c *Cache) ByID(ctx context.Context, marketID int) (common.MarketInfo, error) {
	if info, ok := c.lookupID(marketID, false); ok {
		return info, nil
	}
	if err := c.refresh(ctx); err != nil {
		return common.MarketInfo{}, err
	}
	if info, ok := c.lookupID(marketID, true); ok {
		return info, nil
	}
	return common.MarketInfo{}, fmt.Errorf("market %d not found", marketID)
}

// BySymbol resolves a symbol (case-insensitive) to its market. A miss for
// a requested symbol invalidates the cache early with one extra refresh.
func (c *Cache) BySymbol(ctx context.Context, symbol string) (common.MarketInfo, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if id, ok := c.lookupSymbol(key, false); ok {
		return c.ByID(ctx, id)
	}
	if err := c.refresh(ctx); err != nil {
		return common.MarketInfo{}, err
	}
	if id, ok := c.lookupSymbol(key, true); ok {
		return c.ByID(ctx, id)
	}
	return common.MarketInfo{}, fmt.Errorf("symbol %q not found or not active", symbol)
}

// Resolve validates a trade's market identifier. Exactly one of marketID
// (non-nil) or symbol must identify a market; an explicit id must be active.
func (c *Cache) Resolve(ctx context.Context, marketID *int, symbol string) (common.MarketInfo, error) {
	switch {
	case marketID != nil:
		info, err := c.ByID(ctx, *marketID)
		if err != nil {
			return common.MarketInfo{}, err
		}
		if !info.Active() {
			return common.MarketInfo{}, fmt.Errorf("market %d is not active", *marketID)
		}
		return info, nil
	case symbol != "":
		return c.BySymbol(ctx, symbol)
	default:
		return common.MarketInfo{}, fmt.Errorf("either market_id or symbol must be provided")
	}
}

func (c *Cache) lookupID(marketID int, skipStaleCheck bool) (common.MarketInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !skipStaleCheck && c.stale() {
		return common.MarketInfo{}, false
	}
	info, ok := c.byID[marketID]
	return info, ok
}

func (c *Cache) lookupSymbol(key string, skipStaleCheck bool) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !skipStaleCheck && c.stale() {
		return 0, false
	}
	id, ok := c.bySymbol[key]
	return id, ok
}

// stale must be called with at least a read lock held.
func (c *Cache) stale() bool {
	return c.fetchedAt.IsZero() || time.Since(c.fetchedAt) > c.ttl
}

func (c *Cache) refresh(ctx context.Context) error {
	markets, err := c.gateway.Markets(ctx)
	if err != nil {
		return fmt.Errorf("refresh markets: %w", err)
	}

	byID := make(map[int]common.MarketInfo, len(markets))
	bySymbol := make(map[string]int, len(markets))
	for _, m := range markets {
		byID[m.MarketID] = m
		if m.Active() && m.Symbol != "" {
			bySymbol[strings.ToUpper(m.Symbol)] = m.MarketID
		}
	}

	c.mu.Lock()
	c.byID = byID
	c.bySymbol = bySymbol
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	log.Printf("market: refreshed cache, %d markets (%d active)", len(byID), len(bySymbol))
	return nil
}
