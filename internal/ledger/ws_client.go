package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"blockfund/internal/domain"
	"blockfund/internal/observability"
)

// subscriptionBuffer absorbs notification bursts per subscription.
const subscriptionBuffer = 1024

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

// WSClient implements Notifier over a gorilla/websocket connection.
// It reconnects with exponential backoff and resubscribes every live
// subscription after a reconnect.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps server subscription ID to subscription
	subs   map[int64]*wsSubscription
	subsMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, logger *zap.Logger) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSClient{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger.Named("ledger.ws"),
		subs:        make(map[int64]*wsSubscription),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// wsSubscription is one notification stream. The channel is closed exactly
// once, after any in-flight dispatch has returned.
type wsSubscription struct {
	client *WSClient
	kind   domain.EventKind
	ch     chan domain.Event
	done   chan struct{}
	once   sync.Once

	mu     sync.RWMutex
	closed bool
	id     int64 // guarded by client.subsMu
}

// Events returns the notification channel.
func (s *wsSubscription) Events() <-chan domain.Event {
	return s.ch
}

// Unsubscribe stops delivery and tells the server to drop the subscription.
func (s *wsSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		c := s.client

		c.subsMu.Lock()
		id := s.id
		delete(c.subs, id)
		c.subsMu.Unlock()

		s.shutdown()
		observability.UpdateSubscriptions(-1)

		if !c.closed.Load() {
			err = c.writeRequest("contract_unsubscribe", []interface{}{id})
		}
	})
	return err
}

// shutdown closes the channel once no dispatch holds it.
func (s *wsSubscription) shutdown() {
	close(s.done)
	s.mu.Lock()
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
}

// deliver blocks until the event is queued or the subscription goes away.
func (s *wsSubscription) deliver(ev domain.Event, clientDone <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.done:
	case <-clientDone:
	}
}

// Subscribe subscribes to contract notifications of kind.
func (c *WSClient) Subscribe(ctx context.Context, kind domain.EventKind) (Subscription, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}

	subID, err := c.subscribeInternal(ctx, kind)
	if err != nil {
		return nil, err
	}

	sub := &wsSubscription{
		client: c,
		kind:   kind,
		ch:     make(chan domain.Event, subscriptionBuffer),
		done:   make(chan struct{}),
		id:     subID,
	}

	c.subsMu.Lock()
	c.subs[subID] = sub
	c.subsMu.Unlock()
	observability.UpdateSubscriptions(1)

	c.logger.Info("subscribed", zap.String("event", string(kind)), zap.Int64("subscription", subID))
	return sub, nil
}

// subscribeInternal sends contract_subscribe and waits for the server's subscription ID.
func (c *WSClient) subscribeInternal(ctx context.Context, kind domain.EventKind) (int64, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "contract_subscribe",
		Params:  []interface{}{string(kind)},
	}

	// Create channel to receive subscription ID
	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	if err := c.write(req); err != nil {
		dropPending()
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, fmt.Errorf("client closed")
		}
		return subID, nil
	case <-time.After(c.config.SubscribeTimeout):
		dropPending()
		return 0, fmt.Errorf("subscription timeout after %v", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		dropPending()
		return 0, ctx.Err()
	}
}

// writeRequest sends a fire-and-forget request.
func (c *WSClient) writeRequest(method string, params []interface{}) error {
	return c.write(wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
}

func (c *WSClient) write(req wsRequest) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(req)
}

// Close closes the WebSocket connection and every subscription channel.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// Close all subscription channels
	c.subsMu.Lock()
	subs := make([]*wsSubscription, 0, len(c.subs))
	for id, sub := range c.subs {
		subs = append(subs, sub)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()
	for _, sub := range subs {
		sub.once.Do(func() {
			sub.shutdown()
			observability.UpdateSubscriptions(-1)
		})
	}

	// Close pending subscription channels
	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !c.reconnecting.Swap(true) {
				c.logger.Warn("connection lost, reconnecting", zap.Error(err), zap.Duration("delay", reconnectDelay))
				c.wg.Add(1)
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *WSClient) reconnect(delay time.Duration) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		c.logger.Warn("reconnect failed", zap.Error(err))
		return
	}
	observability.RecordReconnect()

	c.resubscribeAll()
}

// resubscribeAll re-registers every live subscription after reconnect.
// Notifications emitted while disconnected are lost; callers that need
// convergence re-fetch state rather than rely on the stream.
func (c *WSClient) resubscribeAll() {
	c.subsMu.RLock()
	subs := make(map[int64]*wsSubscription, len(c.subs))
	for id, sub := range c.subs {
		subs[id] = sub
	}
	c.subsMu.RUnlock()

	for oldID, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newID, err := c.subscribeInternal(ctx, sub.kind)
		cancel()

		if err != nil {
			c.logger.Warn("resubscribe failed", zap.String("event", string(sub.kind)), zap.Error(err))
			continue
		}

		c.subsMu.Lock()
		if c.subs[oldID] == sub {
			delete(c.subs, oldID)
			sub.id = newID
			c.subs[newID] = sub
		}
		c.subsMu.Unlock()
	}
}

// handleMessage processes incoming WebSocket message.
func (c *WSClient) handleMessage(message []byte) {
	// Try to parse as subscription response first
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		c.handleSubscribeResponse(&resp)
		return
	}

	// Try to parse as notification
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "contract_event" {
		c.handleEventNotification(&notif)
		return
	}

	// Check for error response
	var errResp struct {
		JSONRPC string    `json:"jsonrpc"`
		ID      uint64    `json:"id"`
		Error   *RPCError `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		// Subscription request will time out
		c.logger.Warn("error response", zap.Uint64("id", errResp.ID), zap.Error(errResp.Error))
	}
}

// handleSubscribeResponse handles subscription confirmation.
func (c *WSClient) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

// handleEventNotification decodes a contract event and dispatches it.
func (c *WSClient) handleEventNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	ev, err := notif.Params.Result.toEvent()
	if err != nil {
		c.logger.Warn("dropping undecodable event", zap.Int64("subscription", notif.Params.Subscription), zap.Error(err))
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[notif.Params.Subscription]
	c.subsMu.RUnlock()

	if ok {
		// Block until we can send - never drop events
		sub.deliver(ev, c.done)
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Reader will handle reconnect
					c.logger.Debug("ping failed", zap.Error(err))
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64       `json:"subscription"`
	Result       eventResult `json:"result"`
}

var _ Notifier = (*WSClient)(nil)
