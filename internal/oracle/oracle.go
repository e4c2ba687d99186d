// Package oracle resolves stock symbols to prices. Lookups are served from
// cache when possible; live quotes come from the Alpha Vantage GLOBAL_QUOTE
// endpoint, and any fetch failure falls back to a randomized placeholder
// price so the trading flow is always executable.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"stocker/internal/models"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// QuoteStore persists fetched quotes. A miss is (nil, nil).
type QuoteStore interface {
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
	SaveQuote(ctx context.Context, symbol string, price decimal.Decimal) error
}

// Oracle caches and fetches prices. RefreshTTL of zero means a cached quote
// never expires, matching the historical behavior; set it to force refetches.
type Oracle struct {
	store      QuoteStore
	hot        *QuoteCache // optional Redis layer, nil to skip
	client     *http.Client
	baseURL    string
	apiKey     string
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures an Oracle
type Option func(*Oracle)

// WithHotCache layers a Redis quote cache in front of the store
func WithHotCache(hot *QuoteCache) Option {
	return func(o *Oracle) { o.hot = hot }
}

// WithRefreshTTL sets how long a cached quote stays fresh. Zero disables
// expiry entirely.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(o *Oracle) { o.refreshTTL = ttl }
}

// WithHTTPClient overrides the default fetch client
func WithHTTPClient(client *http.Client) Option {
	return func(o *Oracle) { o.client = client }
}

func withClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// New creates an Oracle backed by the given quote store
func New(store QuoteStore, baseURL, apiKey string, opts ...Option) *Oracle {
	o := &Oracle{
		store:   store,
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GetPrice resolves a symbol to its current price. The returned error is
// always nil: fetch and parse failures are absorbed into a randomized
// placeholder in [1, 100] rather than propagated, a deliberate
// availability-over-correctness tradeoff.
func (o *Oracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if o.hot != nil {
		if q, err := o.hot.Get(ctx, symbol); err == nil && q != nil && o.fresh(q) {
			return q.Price, nil
		}
	}

	q, err := o.store.GetQuote(ctx, symbol)
	if err != nil {
		log.Errorf("quote cache lookup for %s failed: %v", symbol, err)
	} else if q != nil && o.fresh(q) {
		if o.hot != nil {
			if err := o.hot.Set(ctx, q); err != nil {
				log.Errorf("hot cache set for %s failed: %v", symbol, err)
			}
		}
		return q.Price, nil
	}

	price, err := o.fetch(ctx, symbol)
	if err != nil {
		log.Warnf("quote fetch for %s failed, using fallback price: %v", symbol, err)
		return fallbackPrice(), nil
	}

	if err := o.store.SaveQuote(ctx, symbol, price); err != nil {
		log.Errorf("failed to persist quote for %s: %v", symbol, err)
	}
	if o.hot != nil {
		quote := &models.Quote{Symbol: symbol, Price: price, Timestamp: o.now()}
		if err := o.hot.Set(ctx, quote); err != nil {
			log.Errorf("hot cache set for %s failed: %v", symbol, err)
		}
	}
	return price, nil
}

func (o *Oracle) fresh(q *models.Quote) bool {
	if o.refreshTTL == 0 {
		return true
	}
	return o.now().Sub(q.Timestamp) < o.refreshTTL
}

// globalQuote mirrors the Alpha Vantage GLOBAL_QUOTE payload shape
type globalQuote struct {
	GlobalQuote struct {
		Price string `json:"05. price"`
	} `json:"Global Quote"`
}

func (o *Oracle) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", o.apiKey)
	endpoint := o.baseURL + "/query?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload globalQuote
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("malformed quote payload: %w", err)
	}
	price, err := decimal.NewFromString(payload.GlobalQuote.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed quote price %q: %w", payload.GlobalQuote.Price, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive quote price %s", price)
	}
	return price, nil
}

// fallbackPrice returns a randomized integer price in [1, 100]
func fallbackPrice() decimal.Decimal {
	return decimal.NewFromInt(int64(rand.Intn(100)) + 1)
}
