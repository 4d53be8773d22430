package adapter

import (
	"context"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the lifecycle state of a WSClient's logical connection
// (spec §4.5): Disconnected, Connecting, Connected, Draining, Failed.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDraining
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CircuitState represents the health of the WebSocket connection for circuit
// breaker integration. Consumers (e.g. UI) can read this to decide whether
// trading actions should be allowed.
type CircuitState int32

const (
	CircuitClosed   CircuitState = iota // healthy
	CircuitOpen                         // unhealthy — disable trading
)

// WSConfig holds tunable parameters for a WSClient.
type WSConfig struct {
	URL string

	// Buffer sizes for the underlying TCP connection.
	ReadBufferSize  int
	WriteBufferSize int

	// HeartbeatInterval is how often a ping is sent while Connected.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is the maximum duration of silence (3x
	// HeartbeatInterval per spec §4.5/§5) before the client transitions to
	// Draining and triggers a reconnect.
	HeartbeatTimeout time.Duration

	// Backoff parameters for reconnection: truncated exponential with
	// ±20% jitter, per spec §4.5.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// InboundBufferSize bounds the single-consumer decode channel. When
	// full, the oldest unread frame is dropped (drop-oldest back-pressure,
	// §4.5) and DroppedFrames is incremented — the connector never blocks
	// on consumer throughput.
	InboundBufferSize int

	// Headers sent during the WebSocket handshake.
	Headers http.Header
}

// DefaultWSConfig returns sensible defaults tuned for low-latency market data.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:               url,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTimeout:  30 * time.Second,
		BackoffInitial:    500 * time.Millisecond,
		BackoffMax:        30 * time.Second,
		BackoffFactor:     2.0,
		InboundBufferSize: 1024,
	}
}

// WSClient is a resilient, low-latency WebSocket connection manager.
// It automatically reconnects with exponential backoff, monitors heartbeats,
// and delivers inbound frames to a single-consumer channel plus fans out
// copies to any number of additional subscribers.
type WSClient struct {
	cfg WSConfig

	state   atomic.Int32
	circuit atomic.Int32

	// DroppedFrames counts frames dropped because the single-consumer
	// inbound channel was full (drop-oldest policy, §4.5).
	DroppedFrames atomic.Int64

	mu   sync.RWMutex
	conn *websocket.Conn

	// inbound is the single-consumer channel the Wire Decoder reads from.
	inbound chan []byte

	// subscribers receive copies of every inbound message (used by
	// peripheral collaborators that want a raw tee, e.g. logging).
	subMu sync.RWMutex
	subs  []chan []byte

	// outbox is the outbound command queue (Subscribe/Unsubscribe/
	// Disconnect). It is only drained while Connected; commands issued
	// during other states queue until the next Connected transition.
	outbox chan []byte

	cancel context.CancelFunc
	done   chan struct{}

	// onReconnect is called after each successful reconnection so the
	// Subscription Controller can reassert active subscriptions before
	// normal reads resume (§4.5, §4.6).
	onReconnect func()
}

// NewWSClient creates a new WebSocket client. Call Connect to start.
func NewWSClient(cfg WSConfig) *WSClient {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 3 * cfg.HeartbeatInterval
	}
	if cfg.InboundBufferSize == 0 {
		cfg.InboundBufferSize = 1024
	}
	c := &WSClient{
		cfg:     cfg,
		inbound: make(chan []byte, cfg.InboundBufferSize),
		outbox:  make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// OnReconnect registers a callback invoked after each successful
// reconnection, before normal reads resume.
func (ws *WSClient) OnReconnect(fn func()) { ws.onReconnect = fn }

// State returns the current connection lifecycle state.
func (ws *WSClient) State() ConnState { return ConnState(ws.state.Load()) }

// Circuit returns the current circuit breaker state.
func (ws *WSClient) Circuit() CircuitState {
	return CircuitState(ws.circuit.Load())
}

// Inbound returns the single-consumer channel of raw inbound frames.
func (ws *WSClient) Inbound() <-chan []byte { return ws.inbound }

// Subscribe returns an additional channel that receives copies of every
// inbound message. The caller must drain the channel to avoid blocking
// other subscribers (fan-out is best-effort, not the primary decode path).
func (ws *WSClient) Subscribe() <-chan []byte {
	ch := make(chan []byte, 512)
	ws.subMu.Lock()
	ws.subs = append(ws.subs, ch)
	ws.subMu.Unlock()
	return ch
}

// Send enqueues a command for delivery over the WebSocket connection.
// Commands issued while not Connected are queued and flushed once the
// connection is (re-)established.
func (ws *WSClient) Send(data []byte) {
	select {
	case ws.outbox <- data:
	default:
		log.Printf("ws: outbox full, dropping message (%d bytes)", len(data))
	}
}

// Connect dials the WebSocket endpoint and starts the read/write/heartbeat
// loops. It blocks until the initial connection succeeds or ctx is cancelled.
func (ws *WSClient) Connect(ctx context.Context) error {
	ctx, ws.cancel = context.WithCancel(ctx)

	ws.state.Store(int32(StateConnecting))
	if err := ws.dial(ctx); err != nil {
		ws.state.Store(int32(StateFailed))
		return err
	}
	ws.state.Store(int32(StateConnected))
	ws.circuit.Store(int32(CircuitClosed))

	go ws.readLoop(ctx)
	go ws.writeLoop(ctx)
	go ws.heartbeatLoop(ctx)

	return nil
}

// Close shuts down the client, closing the underlying connection and all
// subscriber channels.
func (ws *WSClient) Close() {
	if ws.cancel != nil {
		ws.cancel()
	}
	ws.state.Store(int32(StateDisconnected))
	ws.mu.Lock()
	if ws.conn != nil {
		ws.conn.Close()
	}
	ws.mu.Unlock()

	ws.subMu.RLock()
	for _, ch := range ws.subs {
		close(ch)
	}
	ws.subMu.RUnlock()

	close(ws.done)
}

// Done returns a channel that is closed when the client has fully shut down.
func (ws *WSClient) Done() <-chan struct{} { return ws.done }

// dial establishes the WebSocket connection with TCP_NODELAY enabled.
func (ws *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:  ws.cfg.ReadBufferSize,
		WriteBufferSize: ws.cfg.WriteBufferSize,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	conn, _, err := dialer.DialContext(ctx, ws.cfg.URL, ws.cfg.Headers)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(ws.cfg.HeartbeatTimeout))

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	return nil
}

// jitteredDelay applies ±20% jitter to a backoff delay, per spec §4.5.
func jitteredDelay(d time.Duration) time.Duration {
	jitter := 0.8 + rand.Float64()*0.4 // [0.8, 1.2)
	return time.Duration(float64(d) * jitter)
}

// reconnect loops with truncated exponential backoff and jitter until a
// connection is re-established or the context is cancelled. Attempt count
// is unbounded, matching spec §4.5.
func (ws *WSClient) reconnect(ctx context.Context) bool {
	ws.state.Store(int32(StateDraining))
	ws.circuit.Store(int32(CircuitOpen))

	delay := ws.cfg.BackoffInitial
	for {
		select {
		case <-ctx.Done():
			ws.state.Store(int32(StateDisconnected))
			return false
		case <-time.After(jitteredDelay(delay)):
		}

		ws.state.Store(int32(StateConnecting))
		if err := ws.dial(ctx); err != nil {
			log.Printf("ws: reconnect failed: %v (retry in %v)", err, delay)
			delay = time.Duration(math.Min(
				float64(delay)*ws.cfg.BackoffFactor,
				float64(ws.cfg.BackoffMax),
			))
			ws.state.Store(int32(StateDraining))
			continue
		}

		ws.state.Store(int32(StateConnected))
		ws.circuit.Store(int32(CircuitClosed))
		if ws.onReconnect != nil {
			ws.onReconnect()
		}
		return true
	}
}

// readLoop reads messages and delivers them to the single-consumer inbound
// channel (dropping the oldest queued frame on overflow) plus any raw
// subscribers. A read deadline set at dial/heartbeat time acts as the
// liveness monitor: if no server data arrives within HeartbeatTimeout, the
// read fails and a reconnect is triggered.
func (ws *WSClient) readLoop(ctx context.Context) {
	for {
		ws.mu.RLock()
		c := ws.conn
		ws.mu.RUnlock()

		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("ws: read error (triggering reconnect): %v", err)
			c.Close()
			if !ws.reconnect(ctx) {
				return
			}
			continue
		}

		ws.mu.RLock()
		cur := ws.conn
		ws.mu.RUnlock()
		cur.SetReadDeadline(time.Now().Add(ws.cfg.HeartbeatTimeout))

		ws.deliver(msg)
		ws.fanOut(msg)
	}
}

// deliver pushes msg onto the bounded inbound channel, dropping the oldest
// queued frame if it is full so the decoder never blocks the connector
// (§4.5).
func (ws *WSClient) deliver(msg []byte) {
	select {
	case ws.inbound <- msg:
		return
	default:
	}
	select {
	case <-ws.inbound:
		ws.DroppedFrames.Add(1)
	default:
	}
	select {
	case ws.inbound <- msg:
	default:
		ws.DroppedFrames.Add(1)
	}
}

// heartbeatLoop sends a textual ping at HeartbeatInterval while connected.
// Liveness itself is judged by the read deadline maintained in readLoop.
func (ws *WSClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(ws.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.mu.RLock()
			c := ws.conn
			ws.mu.RUnlock()
			if c == nil {
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				log.Printf("ws: heartbeat write failed: %v", err)
			}
		}
	}
}

// writeLoop drains the outbox and writes messages to the connection.
// Commands are only consumed while Connected; during other states they
// accumulate in the outbox and are flushed once reconnected.
func (ws *WSClient) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ws.outbox:
			for ws.State() != StateConnected {
				select {
				case <-ctx.Done():
					return
				case <-time.After(50 * time.Millisecond):
				}
			}
			ws.mu.RLock()
			c := ws.conn
			ws.mu.RUnlock()
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("ws: write error: %v", err)
			}
		}
	}
}

// fanOut delivers msg to every raw subscriber without blocking.
func (ws *WSClient) fanOut(msg []byte) {
	ws.subMu.RLock()
	defer ws.subMu.RUnlock()

	for _, ch := range ws.subs {
		select {
		case ch <- msg:
		default:
			// Slow consumer — drop to avoid head-of-line blocking.
		}
	}
}
