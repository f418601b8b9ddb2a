package websocket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the default quote-feed WebSocket base URL. Real
// deployments override it via ClientOption — no production quote feed
// exists in this system's original REST-only broker integrations, so
// this is reachable only where an operator has stood one up.
const DefaultBaseURL = "wss://quotes.invalid"

// Client provides a high-level interface for subscribing to last-price
// quote updates, adapted from the teacher's Binance stream Client
// (trimmed to the one stream kind internal/pricefeed needs — no order
// book depth, no user-data/listen-key plumbing, since order placement
// goes through broker.Adapter's REST path).
type Client struct {
	baseURL   string
	streamMgr *StreamManager
	connMu    sync.RWMutex

	connOpts []ConnectionOption

	quoteHandlers map[string]func(*QuoteUpdateEvent) error
	handlersMu    sync.RWMutex
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets the base WebSocket URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithAutoReconnectClient enables or disables automatic reconnection.
func WithAutoReconnectClient(enable bool) ClientOption {
	return func(c *Client) { c.connOpts = append(c.connOpts, WithAutoReconnect(enable)) }
}

// WithMaxReconnectAttemptsClient sets the maximum reconnection attempts.
func WithMaxReconnectAttemptsClient(attempts int) ClientOption {
	return func(c *Client) { c.connOpts = append(c.connOpts, WithMaxReconnectAttempts(attempts)) }
}

// WithReconnectIntervalClient sets the reconnection interval.
func WithReconnectIntervalClient(interval time.Duration) ClientOption {
	return func(c *Client) { c.connOpts = append(c.connOpts, WithReconnectInterval(interval)) }
}

// WithLoggerClient attaches a logger to the underlying connection for
// lifecycle events (connect, reconnect, errors).
func WithLoggerClient(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.connOpts = append(c.connOpts, WithLogger(logger)) }
}

// NewClient creates a new quote-feed WebSocket client.
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		baseURL:       DefaultBaseURL,
		quoteHandlers: make(map[string]func(*QuoteUpdateEvent) error),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// BaseURL returns the base WebSocket URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// State returns the connection state of the underlying stream manager.
func (c *Client) State() ConnectionState {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.streamMgr == nil {
		return StateDisconnected
	}
	return c.streamMgr.State()
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context, opts ...ConnectionOption) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.streamMgr == nil {
		url := c.baseURL + "/ws/quotes"
		allOpts := append(c.connOpts, opts...)
		c.streamMgr = NewStreamManager(url, allOpts...)
		c.streamMgr.SetQuoteHandler(&clientQuoteHandler{client: c})
	}
	return c.streamMgr.Connect(ctx)
}

// Close closes the connection and clears handlers.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	var err error
	if c.streamMgr != nil {
		err = c.streamMgr.Close()
		c.streamMgr = nil
	}

	c.handlersMu.Lock()
	c.quoteHandlers = make(map[string]func(*QuoteUpdateEvent) error)
	c.handlersMu.Unlock()

	return err
}

// LastMessageAt returns when the client last received any message,
// or the zero time if it has never connected.
func (c *Client) LastMessageAt() time.Time {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.streamMgr == nil {
		return time.Time{}
	}
	return c.streamMgr.LastMessageAt()
}

// ActiveSubscriptions returns all active quote subscriptions.
func (c *Client) ActiveSubscriptions() []string {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.streamMgr == nil {
		return nil
	}
	return c.streamMgr.ActiveSubscriptions()
}

// SubscribeToQuote subscribes to last-price updates for an instrument
// ticker.
func (c *Client) SubscribeToQuote(ctx context.Context, symbol string, handler func(*QuoteUpdateEvent) error) error {
	c.connMu.RLock()
	mgr := c.streamMgr
	c.connMu.RUnlock()
	if mgr == nil {
		return fmt.Errorf("not connected")
	}

	symbol = strings.ToUpper(symbol)
	stream := strings.ToLower(symbol) + "@quote"

	c.handlersMu.Lock()
	c.quoteHandlers[symbol] = handler
	c.handlersMu.Unlock()

	return mgr.Subscribe(ctx, stream)
}

// UnsubscribeFromQuote stops streaming quotes for a ticker.
func (c *Client) UnsubscribeFromQuote(ctx context.Context, symbol string) error {
	c.connMu.RLock()
	mgr := c.streamMgr
	c.connMu.RUnlock()
	if mgr == nil {
		return fmt.Errorf("not connected")
	}

	symbol = strings.ToUpper(symbol)
	stream := strings.ToLower(symbol) + "@quote"

	c.handlersMu.Lock()
	delete(c.quoteHandlers, symbol)
	c.handlersMu.Unlock()

	return mgr.Unsubscribe(ctx, stream)
}

type clientQuoteHandler struct {
	client *Client
}

func (h *clientQuoteHandler) HandleQuoteUpdate(event *QuoteUpdateEvent) error {
	h.client.handlersMu.RLock()
	handler, exists := h.client.quoteHandlers[strings.ToUpper(event.Symbol)]
	h.client.handlersMu.RUnlock()

	if exists && handler != nil {
		return handler(event)
	}
	return nil
}
