package oracle

import (
	"context"
	"time"

	"stocker/internal/models"

	"github.com/go-redis/cache/v8"
)

// QuoteCache is a Redis-backed memoization layer in front of the quote
// store, for deployments where several instances share one price cache
type QuoteCache struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewQuoteCache wraps a go-redis cache with the given entry TTL
func NewQuoteCache(c *cache.Cache, ttl time.Duration) *QuoteCache {
	return &QuoteCache{cache: c, ttl: ttl}
}

// Set stores a quote under its symbol
func (c *QuoteCache) Set(ctx context.Context, quote *models.Quote) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return c.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   quoteKey(quote.Symbol),
		Value: quote,
		TTL:   c.ttl,
	})
}

// Get retrieves the quote for a symbol. A miss is (nil, nil).
func (c *QuoteCache) Get(ctx context.Context, symbol string) (*models.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	var quote models.Quote
	if err := c.cache.Get(ctx, quoteKey(symbol), &quote); err != nil {
		if err == cache.ErrCacheMiss {
			return nil, nil
		}
		return nil, err
	}
	return &quote, nil
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}
