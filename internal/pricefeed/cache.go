// Package pricefeed maintains a live last-price cache fed by a
// websocket quote stream, adapted from the teacher's internal/websocket
// client. The original brokerage integrations this system talks to
// (Finam, T-Invest) expose only synchronous REST endpoints — there is
// no push-streaming primitive to ground this against in the original
// system — so this package is an ambient enrichment, not a replacement
// for broker.Adapter.GetLastPrice: callers fall back to a REST poll on
// a cache miss or stale entry, and broker.Adapter's contract stays
// blocking/synchronous.
package pricefeed

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"signaldispatcher/internal/websocket"
)

// StaleAfter is how long a cached quote is trusted before Get reports
// it as stale.
const StaleAfter = 5 * time.Second

type entry struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// Cache holds the most recent quote per instrument ticker, refreshed
// by a reconnecting websocket subscription.
type Cache struct {
	client  *websocket.Client
	logger  zerolog.Logger
	symbols []string

	mu      sync.RWMutex
	entries map[string]entry
}

// NewCache builds a Cache that will stream quotes from url for the
// given tickers once Start is called.
func NewCache(url string, symbols []string, logger zerolog.Logger) *Cache {
	return &Cache{
		client: websocket.NewClient(
			websocket.WithBaseURL(url),
			websocket.WithAutoReconnectClient(true),
			websocket.WithLoggerClient(logger),
		),
		logger:  logger,
		symbols: symbols,
		entries: make(map[string]entry),
	}
}

// LastMessageAt reports when the feed last received any message,
// which a caller can use as a cheap connection-health signal distinct
// from per-ticker quote staleness.
func (c *Cache) LastMessageAt() time.Time {
	return c.client.LastMessageAt()
}

// Start connects and subscribes to every configured ticker, updating
// the cache as quotes arrive. It returns once each initial subscription
// has been acknowledged or has failed; a failed subscription is logged
// and skipped. The feed keeps running until ctx is cancelled or Close
// is called.
func (c *Cache) Start(ctx context.Context) error {
	if err := c.client.Connect(ctx); err != nil {
		return err
	}
	for _, symbol := range c.symbols {
		symbol := strings.ToUpper(symbol)
		err := c.client.SubscribeToQuote(ctx, symbol, func(event *websocket.QuoteUpdateEvent) error {
			c.mu.Lock()
			c.entries[strings.ToUpper(event.Symbol)] = entry{price: event.LastPrice, updatedAt: time.Now()}
			c.mu.Unlock()
			return nil
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("pricefeed subscription failed")
		}
	}
	return nil
}

// Close tears down the underlying websocket connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Get returns the cached last price for ticker and whether it is still
// fresh (updated within StaleAfter). Callers should treat a false
// freshness value as a cache miss and fall back to a REST poll via
// broker.Adapter.GetLastPrice.
func (c *Cache) Get(ticker string) (decimal.Decimal, bool) {
	c.mu.RLock()
	e, ok := c.entries[strings.ToUpper(ticker)]
	c.mu.RUnlock()
	if !ok {
		return decimal.Zero, false
	}
	return e.price, time.Since(e.updatedAt) < StaleAfter
}
