package websocket

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// StreamMessage is one inbound frame carrying a stream name and its
// raw payload, grounded on the teacher's StreamMessage.
type StreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// SubscriptionRequest is an outbound SUBSCRIBE/UNSUBSCRIBE frame.
type SubscriptionRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// SubscriptionResponse acknowledges a SubscriptionRequest.
type SubscriptionResponse struct {
	Result interface{} `json:"result"`
	ID     int         `json:"id"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error,omitempty"`
}

// EventHandler handles any frame whose event type doesn't match a
// more specific handler below.
type EventHandler interface {
	HandleEvent(eventType string, data json.RawMessage) error
}

// QuoteHandler handles last-price quote updates — the only event kind
// this feed needs (no order book depth or user-data stream, since
// order placement goes through broker.Adapter's REST path, not here).
type QuoteHandler interface {
	HandleQuoteUpdate(event *QuoteUpdateEvent) error
}

// QuoteUpdateEvent is one last-price tick for an instrument, adapted
// from the teacher's TickerEvent (trimmed to the event type, event
// time, symbol and last price; internal/pricefeed reads the symbol and
// last price).
type QuoteUpdateEvent struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	LastPrice decimal.Decimal `json:"c"`
}

// ConnectionState is the Connection's lifecycle stage.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
