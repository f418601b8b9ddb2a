package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// StreamManager manages a single reconnecting WebSocket connection and
// its subscriptions, adapted from the teacher's StreamManager (trimmed
// of the depth/ticker/user-data routing it did for exchange market
// data and order-fill events — this feed carries only quote updates).
type StreamManager struct {
	conn              *Connection
	subscriptions     map[string]bool
	subscriptionsMu   sync.RWMutex
	requestID         int64
	pendingRequests   map[int]chan SubscriptionResponse
	pendingRequestsMu sync.RWMutex

	lastState        ConnectionState
	stateMu          sync.RWMutex
	stopMonitoring   chan struct{}
	monitoringActive bool

	quoteHandler QuoteHandler
	eventHandler EventHandler
	handlersMu   sync.RWMutex
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(url string, opts ...ConnectionOption) *StreamManager {
	sm := &StreamManager{
		conn:            NewConnection(url, opts...),
		subscriptions:   make(map[string]bool),
		pendingRequests: make(map[int]chan SubscriptionResponse),
		lastState:       StateDisconnected,
		stopMonitoring:  make(chan struct{}),
	}
	sm.conn.SetMessageHandler(sm.handleMessage)
	return sm
}

// URL returns the WebSocket URL.
func (sm *StreamManager) URL() string {
	return sm.conn.URL()
}

// State returns the current connection state.
func (sm *StreamManager) State() ConnectionState {
	return sm.conn.State()
}

// LastMessageAt returns when the underlying connection last received a
// message, for feed-health checks independent of per-ticker staleness.
func (sm *StreamManager) LastMessageAt() time.Time {
	return sm.conn.LastMessageAt()
}

// Connect establishes the WebSocket connection and resubscribes to any
// streams that were active before a prior disconnect.
func (sm *StreamManager) Connect(ctx context.Context) error {
	err := sm.conn.Connect(ctx)
	if err != nil {
		return err
	}

	sm.stateMu.Lock()
	if !sm.monitoringActive {
		sm.monitoringActive = true
		sm.lastState = StateConnected
		go sm.monitorConnectionState()
	}
	sm.stateMu.Unlock()

	sm.subscriptionsMu.RLock()
	activeStreams := make([]string, 0, len(sm.subscriptions))
	for stream := range sm.subscriptions {
		activeStreams = append(activeStreams, stream)
	}
	sm.subscriptionsMu.RUnlock()

	if len(activeStreams) > 0 {
		sm.subscriptionsMu.Lock()
		sm.subscriptions = make(map[string]bool)
		sm.subscriptionsMu.Unlock()

		if err := sm.SubscribeMultiple(ctx, activeStreams); err != nil {
			return fmt.Errorf("failed to resubscribe to streams: %w", err)
		}
	}

	return nil
}

// Close closes the WebSocket connection and clears subscriptions.
func (sm *StreamManager) Close() error {
	sm.stateMu.Lock()
	if sm.monitoringActive {
		select {
		case <-sm.stopMonitoring:
		default:
			close(sm.stopMonitoring)
		}
		sm.monitoringActive = false
	}
	sm.stateMu.Unlock()

	sm.subscriptionsMu.Lock()
	sm.subscriptions = make(map[string]bool)
	sm.subscriptionsMu.Unlock()

	sm.pendingRequestsMu.Lock()
	for _, ch := range sm.pendingRequests {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	sm.pendingRequests = make(map[int]chan SubscriptionResponse)
	sm.pendingRequestsMu.Unlock()

	return sm.conn.Close()
}

// Subscribe subscribes to a single stream.
func (sm *StreamManager) Subscribe(ctx context.Context, stream string) error {
	return sm.SubscribeMultiple(ctx, []string{stream})
}

// SubscribeMultiple subscribes to multiple streams.
func (sm *StreamManager) SubscribeMultiple(ctx context.Context, streams []string) error {
	if sm.State() != StateConnected {
		return fmt.Errorf("not connected")
	}

	requestID := int(atomic.AddInt64(&sm.requestID, 1))
	request := SubscriptionRequest{Method: "SUBSCRIBE", Params: streams, ID: requestID}

	responseChan := make(chan SubscriptionResponse, 1)
	sm.pendingRequestsMu.Lock()
	sm.pendingRequests[requestID] = responseChan
	sm.pendingRequestsMu.Unlock()

	requestData, err := json.Marshal(request)
	if err != nil {
		sm.pendingRequestsMu.Lock()
		delete(sm.pendingRequests, requestID)
		sm.pendingRequestsMu.Unlock()
		return fmt.Errorf("failed to marshal subscription request: %w", err)
	}

	if err := sm.conn.Send(ctx, requestData); err != nil {
		sm.pendingRequestsMu.Lock()
		delete(sm.pendingRequests, requestID)
		sm.pendingRequestsMu.Unlock()
		return fmt.Errorf("failed to send subscription request: %w", err)
	}

	select {
	case response := <-responseChan:
		sm.pendingRequestsMu.Lock()
		delete(sm.pendingRequests, requestID)
		sm.pendingRequestsMu.Unlock()

		if response.Error != nil {
			return fmt.Errorf("subscription failed: [%d] %s", response.Error.Code, response.Error.Msg)
		}

		sm.subscriptionsMu.Lock()
		for _, stream := range streams {
			sm.subscriptions[stream] = true
		}
		sm.subscriptionsMu.Unlock()
		return nil
	case <-ctx.Done():
		sm.pendingRequestsMu.Lock()
		delete(sm.pendingRequests, requestID)
		sm.pendingRequestsMu.Unlock()
		return ctx.Err()
	}
}

// Unsubscribe unsubscribes from a stream.
func (sm *StreamManager) Unsubscribe(ctx context.Context, stream string) error {
	return sm.UnsubscribeMultiple(ctx, []string{stream})
}

// UnsubscribeMultiple unsubscribes from multiple streams.
func (sm *StreamManager) UnsubscribeMultiple(ctx context.Context, streams []string) error {
	if sm.State() != StateConnected {
		return fmt.Errorf("not connected")
	}

	sm.subscriptionsMu.RLock()
	subscribedStreams := make([]string, 0, len(streams))
	for _, stream := range streams {
		if sm.subscriptions[stream] {
			subscribedStreams = append(subscribedStreams, stream)
		}
	}
	sm.subscriptionsMu.RUnlock()

	if len(subscribedStreams) == 0 {
		return nil
	}

	requestID := int(atomic.AddInt64(&sm.requestID, 1))
	request := SubscriptionRequest{Method: "UNSUBSCRIBE", Params: subscribedStreams, ID: requestID}

	responseChan := make(chan SubscriptionResponse, 1)
	sm.pendingRequestsMu.Lock()
	sm.pendingRequests[requestID] = responseChan
	sm.pendingRequestsMu.Unlock()

	requestData, err := json.Marshal(request)
	if err != nil {
		sm.pendingRequestsMu.Lock()
		delete(sm.pendingRequests, requestID)
		sm.pendingRequestsMu.Unlock()
		return fmt.Errorf("failed to marshal unsubscription request: %w", err)
	}

	if err := sm.conn.Send(ctx, requestData); err != nil {
		sm.pendingRequestsMu.Lock()
		delete(sm.pendingRequests, requestID)
		sm.pendingRequestsMu.Unlock()
		return fmt.Errorf("failed to send unsubscription request: %w", err)
	}

	select {
	case response := <-responseChan:
		sm.pendingRequestsMu.Lock()
		delete(sm.pendingRequests, requestID)
		sm.pendingRequestsMu.Unlock()

		if response.Error != nil {
			return fmt.Errorf("unsubscription failed: [%d] %s", response.Error.Code, response.Error.Msg)
		}

		sm.subscriptionsMu.Lock()
		for _, stream := range subscribedStreams {
			delete(sm.subscriptions, stream)
		}
		sm.subscriptionsMu.Unlock()
		return nil
	case <-ctx.Done():
		sm.pendingRequestsMu.Lock()
		delete(sm.pendingRequests, requestID)
		sm.pendingRequestsMu.Unlock()
		return ctx.Err()
	}
}

// ActiveSubscriptions returns a copy of currently active subscriptions.
func (sm *StreamManager) ActiveSubscriptions() []string {
	sm.subscriptionsMu.RLock()
	defer sm.subscriptionsMu.RUnlock()

	subscriptions := make([]string, 0, len(sm.subscriptions))
	for stream := range sm.subscriptions {
		subscriptions = append(subscriptions, stream)
	}
	return subscriptions
}

// SetQuoteHandler sets the quote-update handler.
func (sm *StreamManager) SetQuoteHandler(handler QuoteHandler) {
	sm.handlersMu.Lock()
	defer sm.handlersMu.Unlock()
	sm.quoteHandler = handler
}

// SetEventHandler sets the fallback handler for event types the quote
// handler doesn't cover.
func (sm *StreamManager) SetEventHandler(handler EventHandler) {
	sm.handlersMu.Lock()
	defer sm.handlersMu.Unlock()
	sm.eventHandler = handler
}

func (sm *StreamManager) handleMessage(data []byte) {
	var subResponse SubscriptionResponse
	if err := json.Unmarshal(data, &subResponse); err == nil && subResponse.ID != 0 {
		sm.pendingRequestsMu.RLock()
		if responseChan, exists := sm.pendingRequests[subResponse.ID]; exists {
			select {
			case responseChan <- subResponse:
			default:
			}
		}
		sm.pendingRequestsMu.RUnlock()
		return
	}

	var streamMsg StreamMessage
	if err := json.Unmarshal(data, &streamMsg); err != nil {
		return
	}
	sm.routeStreamMessage(&streamMsg)
}

func (sm *StreamManager) routeStreamMessage(msg *StreamMessage) {
	sm.handlersMu.RLock()
	defer sm.handlersMu.RUnlock()

	var eventData map[string]interface{}
	if err := json.Unmarshal(msg.Data, &eventData); err != nil {
		return
	}

	eventType, ok := eventData["e"].(string)
	if !ok {
		return
	}

	switch eventType {
	case "quote":
		if sm.quoteHandler != nil {
			var event QuoteUpdateEvent
			if err := json.Unmarshal(msg.Data, &event); err == nil {
				sm.quoteHandler.HandleQuoteUpdate(&event)
			}
		}
	default:
		if sm.eventHandler != nil {
			sm.eventHandler.HandleEvent(eventType, msg.Data)
		}
	}
}

// monitorConnectionState watches for reconnection and triggers
// resubscription to previously active streams.
func (sm *StreamManager) monitorConnectionState() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stopMonitoring:
			return
		case <-ticker.C:
			currentState := sm.conn.State()

			sm.stateMu.Lock()
			lastState := sm.lastState
			sm.lastState = currentState
			sm.stateMu.Unlock()

			if lastState != StateConnected && currentState == StateConnected {
				sm.handleReconnection()
			}
		}
	}
}

func (sm *StreamManager) handleReconnection() {
	sm.subscriptionsMu.RLock()
	activeStreams := make([]string, 0, len(sm.subscriptions))
	for stream := range sm.subscriptions {
		activeStreams = append(activeStreams, stream)
	}
	sm.subscriptionsMu.RUnlock()

	if len(activeStreams) > 0 {
		sm.subscriptionsMu.Lock()
		sm.subscriptions = make(map[string]bool)
		sm.subscriptionsMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sm.SubscribeMultiple(ctx, activeStreams)
	}
}
