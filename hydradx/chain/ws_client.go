package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "chain").Logger()
}

// WSConfig controls dialing, request and reconnection behavior of the websocket client
type WSConfig struct {
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	// ReconnectInitial is the first delay between reconnection attempts, it grows exponentially
	ReconnectInitial time.Duration
	// ReconnectMaxElapsed bounds a reconnection round, after it the client stays disconnected
	// until the next call
	ReconnectMaxElapsed time.Duration
}

// DefaultWSConfig returns sensible defaults for a public HydraDx node
func DefaultWSConfig() WSConfig {
	return WSConfig{
		DialTimeout:         10 * time.Second,
		RequestTimeout:      30 * time.Second,
		ReconnectInitial:    500 * time.Millisecond,
		ReconnectMaxElapsed: 5 * time.Minute,
	}
}

type callResult struct {
	resp RPCResponse
	err  error
}

type pendingCall struct {
	ch  chan callResult
	sub *Subscription
}

// WSClient is a JSON-RPC client over a single websocket connection to one of several
// node endpoints. Subscriptions survive reconnects: they are reset and re-established.
type WSClient struct {
	urls   []string
	config WSConfig
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	nextID  atomic.Uint64
	writeMu sync.Mutex

	mu           sync.RWMutex
	conn         *websocket.Conn
	current      int
	reconnecting bool
	pending      map[uint64]*pendingCall
	subs         map[string]*Subscription
	active       map[*Subscription]struct{}
}

// Subscription is a live node subscription.
type Subscription struct {
	client            *WSClient
	method            string
	unsubscribeMethod string
	params            []any
	onNotify          func(json.RawMessage)
	onReset           func(error)
	resubscribe       bool

	mu       sync.Mutex
	serverID string
	closed   bool
}

/*
NewWSClient dials the first reachable node from urls.

Params:
  - ctx: the lifetime of the client, cancelling it closes the connection
  - urls: node websocket endpoints, the first one is preferred
  - config: timeouts and reconnection settings

Returns:
  - *WSClient: a connected client
  - error: wraps models.ErrConnectionUnavailable if no endpoint could be reached
*/
func NewWSClient(ctx context.Context, urls []string, config WSConfig) (*WSClient, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no node endpoints", models.ErrConnectionUnavailable)
	}
	clientCtx, cancel := context.WithCancel(ctx)
	c := &WSClient{
		urls:    urls,
		config:  config,
		dialer:  &websocket.Dialer{HandshakeTimeout: config.DialTimeout},
		ctx:     clientCtx,
		cancel:  cancel,
		pending: make(map[uint64]*pendingCall),
		subs:    make(map[string]*Subscription),
		active:  make(map[*Subscription]struct{}),
	}
	if err := c.connect(); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

// connect establishes a connection, trying the current endpoint first and then the others
func (c *WSClient) connect() error {
	c.mu.RLock()
	start := c.current
	c.mu.RUnlock()

	var lastErr error
	for i := 0; i < len(c.urls); i++ {
		idx := (start + i) % len(c.urls)
		url := c.urls[idx]

		dialCtx, cancel := context.WithTimeout(c.ctx, c.config.DialTimeout)
		conn, _, err := c.dialer.DialContext(dialCtx, url, nil)
		cancel()
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("url", url).Msg("Failed to dial node")
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.current = idx
		c.mu.Unlock()

		go c.readMessages(conn)
		log.Info().Str("url", url).Msg("Connected to node")
		return nil
	}
	return fmt.Errorf("%w: %v", models.ErrConnectionUnavailable, lastErr)
}

// IsConnected returns whether the client currently holds a connection
func (c *WSClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Close closes the connection. Subscriptions are dropped without a reset.
func (c *WSClient) Close() error {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *WSClient) readMessages(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.handleMessage(message)
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var envelope struct {
		ID     *uint64 `json:"id"`
		Method string  `json:"method"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Warn().Err(err).Msg("Failed to parse node message")
		return
	}

	if envelope.ID == nil && envelope.Method != "" {
		var notification notificationMessage
		if err := json.Unmarshal(data, &notification); err != nil {
			log.Warn().Err(err).Str("method", envelope.Method).Msg("Failed to parse notification")
			return
		}
		c.mu.RLock()
		sub := c.subs[subscriptionID(notification.Params.Subscription)]
		c.mu.RUnlock()
		if sub != nil {
			sub.onNotify(notification.Params.Result)
		}
		return
	}

	var response RPCResponse
	if err := json.Unmarshal(data, &response); err != nil {
		log.Warn().Err(err).Msg("Failed to parse response")
		return
	}

	c.mu.Lock()
	call, ok := c.pending[response.ID]
	delete(c.pending, response.ID)
	// register before the next message is read so no notification is lost
	if ok && call.sub != nil && response.Error == nil {
		sid := subscriptionID(response.Result)
		if call.sub.bind(sid) {
			c.subs[sid] = call.sub
		}
	}
	c.mu.Unlock()

	if ok {
		call.ch <- callResult{resp: response}
	}
}

func (c *WSClient) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn && c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.subs = make(map[string]*Subscription)
	active := make([]*Subscription, 0, len(c.active))
	for sub := range c.active {
		active = append(active, sub)
		if !sub.resubscribe {
			delete(c.active, sub)
		}
	}
	c.mu.Unlock()

	err := fmt.Errorf("%w: %v", models.ErrConnectionUnavailable, cause)
	for _, call := range pending {
		call.ch <- callResult{err: err}
	}

	if c.ctx.Err() != nil {
		return
	}

	log.Warn().Err(cause).Int("subscriptions", len(active)).Msg("Node connection lost")
	for _, sub := range active {
		sub.unbind()
		sub.onReset(err)
	}
	go c.reconnect()
}

// reconnect retries connect with exponential backoff and re-establishes subscriptions
func (c *WSClient) reconnect() {
	c.mu.Lock()
	if c.reconnecting || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.ReconnectInitial
	_, err := backoff.Retry(c.ctx, func() (struct{}, error) {
		return struct{}{}, c.connect()
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(c.config.ReconnectMaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Dur("retry_in", next).Msg("Reconnect attempt failed")
		}),
	)
	if err != nil {
		log.Error().Err(err).Msg("Giving up reconnecting to node")
		return
	}

	c.mu.RLock()
	subs := make([]*Subscription, 0, len(c.active))
	for sub := range c.active {
		subs = append(subs, sub)
	}
	c.mu.RUnlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(c.ctx, c.config.RequestTimeout)
		if err := c.subscribe(ctx, sub); err != nil {
			log.Warn().Err(err).Str("method", sub.method).Msg("Failed to resubscribe")
		}
		cancel()
	}
	log.Info().Int("subscriptions", len(subs)).Msg("Node connection restored")
}

func (c *WSClient) roundTrip(ctx context.Context, method string, params []any, sub *Subscription) (RPCResponse, error) {
	if params == nil {
		params = []any{}
	}
	req := RPCRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
	call := &pendingCall{ch: make(chan callResult, 1), sub: sub}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		reconnecting := c.reconnecting
		c.mu.Unlock()
		if !reconnecting && c.ctx.Err() == nil {
			go c.reconnect()
		}
		return RPCResponse{}, models.ErrConnectionUnavailable
	}
	c.pending[req.ID] = call
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(req.ID)
		return RPCResponse{}, fmt.Errorf("%w: %v", models.ErrConnectionUnavailable, err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.dropPending(req.ID)
		return RPCResponse{}, ctx.Err()
	case <-timer.C:
		c.dropPending(req.ID)
		return RPCResponse{}, fmt.Errorf("%s timed out after %s", method, c.config.RequestTimeout)
	case res := <-call.ch:
		if res.err != nil {
			return RPCResponse{}, res.err
		}
		if res.resp.Error != nil {
			return RPCResponse{}, res.resp.Error
		}
		return res.resp, nil
	}
}

func (c *WSClient) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Call performs a JSON-RPC request and decodes the result into result (which may be nil)
func (c *WSClient) Call(ctx context.Context, method string, params []any, result any) error {
	resp, err := c.roundTrip(ctx, method, params, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("%s: failed to decode result: %w", method, err)
	}
	return nil
}

func (c *WSClient) subscribe(ctx context.Context, sub *Subscription) error {
	_, err := c.roundTrip(ctx, sub.method, sub.params, sub)
	if err != nil {
		return fmt.Errorf("%s: %w", sub.method, err)
	}
	return nil
}

/*
Subscribe opens a generic subscription.

Params:
  - method / unsubscribeMethod: e.g. state_subscribeStorage / state_unsubscribeStorage
  - onNotify: called from the read loop with the raw result of every notification, it must not block
  - onReset: called when the connection drops
  - resubscribe: whether the subscription is re-established after a reconnect
*/
func (c *WSClient) Subscribe(
	ctx context.Context,
	method, unsubscribeMethod string,
	params []any,
	onNotify func(json.RawMessage),
	onReset func(error),
	resubscribe bool,
) (*Subscription, error) {
	if onReset == nil {
		onReset = func(error) {}
	}
	sub := &Subscription{
		client:            c,
		method:            method,
		unsubscribeMethod: unsubscribeMethod,
		params:            params,
		onNotify:          onNotify,
		onReset:           onReset,
		resubscribe:       resubscribe,
	}
	c.mu.Lock()
	c.active[sub] = struct{}{}
	c.mu.Unlock()

	if err := c.subscribe(ctx, sub); err != nil {
		c.mu.Lock()
		delete(c.active, sub)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// SubscribeStorage subscribes to a batch of storage keys. The first notification carries the
// current value of every key.
func (c *WSClient) SubscribeStorage(ctx context.Context, keys []storage.Key, handler StorageHandler) (StorageSubscription, error) {
	hexKeys := make([]string, len(keys))
	for i, key := range keys {
		hexKeys[i] = key.Hex()
	}
	onNotify := func(raw json.RawMessage) {
		var changes StorageChangeSet
		if err := json.Unmarshal(raw, &changes); err != nil {
			log.Warn().Err(err).Msg("Failed to decode storage notification")
			return
		}
		handler.OnUpdate(changes)
	}
	sub, err := c.Subscribe(ctx, "state_subscribeStorage", "state_unsubscribeStorage",
		[]any{hexKeys}, onNotify, handler.OnReset, true)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("keys", len(keys)).Msg("Storage subscription started")
	return sub, nil
}

// SubmitAndWatch submits a signed extrinsic and reports its status updates. The watch is not
// re-established after a reconnect, onError receives the transport error instead.
func (c *WSClient) SubmitAndWatch(
	ctx context.Context,
	extrinsic []byte,
	onStatus func(ExtrinsicStatus),
	onError func(error),
) (*Subscription, error) {
	onNotify := func(raw json.RawMessage) {
		var status ExtrinsicStatus
		if err := json.Unmarshal(raw, &status); err != nil {
			onError(fmt.Errorf("failed to decode extrinsic status: %w", err))
			return
		}
		onStatus(status)
	}
	return c.Subscribe(ctx, "author_submitAndWatchExtrinsic", "author_unwatchExtrinsic",
		[]any{storage.EncodeHex(extrinsic)}, onNotify, onError, false)
}

// SubmitExtrinsic submits a signed extrinsic and returns its hash
func (c *WSClient) SubmitExtrinsic(ctx context.Context, extrinsic []byte) (string, error) {
	var hash string
	if err := c.Call(ctx, "author_submitExtrinsic", []any{storage.EncodeHex(extrinsic)}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (s *Subscription) bind(serverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.serverID = serverID
	return true
}

func (s *Subscription) unbind() {
	s.mu.Lock()
	s.serverID = ""
	s.mu.Unlock()
}

// Unsubscribe stops the subscription. Notifications stop immediately, the node is told
// best effort.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	serverID := s.serverID
	s.mu.Unlock()

	c := s.client
	c.mu.Lock()
	delete(c.active, s)
	if serverID != "" {
		delete(c.subs, serverID)
	}
	c.mu.Unlock()

	if serverID == "" {
		return nil
	}
	if err := c.Call(ctx, s.unsubscribeMethod, []any{serverID}, nil); err != nil {
		if errors.Is(err, models.ErrConnectionUnavailable) {
			return nil
		}
		return err
	}
	return nil
}
