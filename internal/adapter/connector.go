package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// UserAuth builds the HTTP headers (or, for gorilla/websocket, handshake
// headers) carrying the user channel's authentication payload. The
// concrete HMAC implementation lives in internal/adapter/poly (auth.go);
// this package only depends on the shape.
type UserAuth interface {
	Headers() http.Header
}

// Channel distinguishes the two logical WebSocket channels a Connector
// manages (spec §4.5): the public market channel (order book, trades) and
// the optional authenticated user channel (order/trade acks).
type Channel uint8

const (
	ChannelMarket Channel = iota + 1
	ChannelUser
)

func (c Channel) String() string {
	switch c {
	case ChannelMarket:
		return "market"
	case ChannelUser:
		return "user"
	default:
		return "unknown"
	}
}

// ConnectorConfig configures a Connector's two channels.
type ConnectorConfig struct {
	MarketURL string
	UserURL   string // empty disables the user channel

	// Auth, when UserURL is set, supplies the user channel's WebSocket
	// handshake headers (auth.go). The subscribe frame itself carries no
	// authentication payload.
	Auth UserAuth

	Heartbeat      WSConfig // template applied to both channels; URL is set per channel, and the user channel's Headers are replaced by Auth's when Auth is set
	PostReconnectCoolOff bool
}

// Connector owns the WS Connector role (C5) for one logical session: a
// market channel WSClient and, optionally, a user channel WSClient. It
// asks the Subscription Controller to reassert every active subscription
// after each reconnect (spec §4.5's "ask Subscription Controller to
// reassert").
//
// This replaces the teacher's per-(user,exchange) TunnelManager: this
// core streams a single exchange, so the multiplexing key collapses from
// (UserID, Exchange) to just Channel.
type Connector struct {
	cfg ConnectorConfig

	mu      sync.Mutex
	market  *WSClient
	user    *WSClient
	resubFn func(ch Channel)
}

// NewConnector creates a Connector; call Open to establish the market
// channel (and the user channel, if configured).
func NewConnector(cfg ConnectorConfig) *Connector {
	return &Connector{cfg: cfg}
}

// OnResubscribe registers the callback the Connector invokes after every
// successful (re)connect on either channel — normally wired to the
// Subscription Controller's Reassert method.
func (c *Connector) OnResubscribe(fn func(ch Channel)) {
	c.mu.Lock()
	c.resubFn = fn
	c.mu.Unlock()
}

// Open dials the market channel, and the user channel if UserURL is set.
func (c *Connector) Open(ctx context.Context) error {
	marketCfg := c.cfg.Heartbeat
	marketCfg.URL = c.cfg.MarketURL
	market := NewWSClient(marketCfg)
	market.OnReconnect(func() { c.notifyResubscribe(ChannelMarket) })
	if err := market.Connect(ctx); err != nil {
		return fmt.Errorf("adapter: connect market channel: %w", err)
	}

	c.mu.Lock()
	c.market = market
	c.mu.Unlock()
	c.notifyResubscribe(ChannelMarket)

	if c.cfg.UserURL == "" {
		return nil
	}

	userCfg := c.cfg.Heartbeat
	userCfg.URL = c.cfg.UserURL
	if c.cfg.Auth != nil {
		userCfg.Headers = c.cfg.Auth.Headers()
	}
	user := NewWSClient(userCfg)
	user.OnReconnect(func() { c.notifyResubscribe(ChannelUser) })
	if err := user.Connect(ctx); err != nil {
		return fmt.Errorf("adapter: connect user channel: %w", err)
	}

	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	c.notifyResubscribe(ChannelUser)

	return nil
}

func (c *Connector) notifyResubscribe(ch Channel) {
	c.mu.Lock()
	fn := c.resubFn
	c.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

// Market returns the market channel's WSClient, or nil if not yet opened.
func (c *Connector) Market() *WSClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.market
}

// User returns the user channel's WSClient, or nil if the user channel is
// not configured or not yet opened.
func (c *Connector) User() *WSClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Send enqueues a raw frame on the named channel's outbound command queue.
// The frame is held until the channel reaches Connected (spec §4.5:
// "consumed only while Connected"); if that queue is already full
// (WSClient's 256-frame outbox), the frame is dropped and logged.
func (c *Connector) Send(ch Channel, data []byte) error {
	var ws *WSClient
	c.mu.Lock()
	switch ch {
	case ChannelMarket:
		ws = c.market
	case ChannelUser:
		ws = c.user
	}
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("adapter: %s channel not open", ch)
	}
	ws.Send(data)
	return nil
}

// Close tears down both channels.
func (c *Connector) Close() {
	c.mu.Lock()
	market, user := c.market, c.user
	c.mu.Unlock()
	if market != nil {
		market.Close()
	}
	if user != nil {
		user.Close()
	}
}
