package adapter

import (
	"context"
	"sync"
	"time"
)

// CircuitBreakerConfig holds tunable parameters for the CircuitBreaker.
type CircuitBreakerConfig struct {
	// StaleThreshold is the maximum age of a PolyEvent before an asset's
	// book is considered stale. Default: 1000ms.
	StaleThreshold time.Duration

	// CoolOff is how long trading stays blocked after an asset recovers
	// (its first event, or its first event after MarkStale). Default: 2s.
	CoolOff time.Duration
}

// DefaultCircuitBreakerConfig returns production-tuned defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		StaleThreshold: 1000 * time.Millisecond,
		CoolOff:        2 * time.Second,
	}
}

// assetState tracks health for a single asset's book.
type assetState struct {
	LastUpdate time.Time
	// RecoveredAt is set when an asset transitions from unhealthy→healthy.
	// Trading is blocked until time.Since(RecoveredAt) >= CoolOff.
	RecoveredAt time.Time
	Healthy     bool
}

// CircuitBreaker monitors the WS Connector and book freshness, gating all
// trade execution behind CanTrade(). It enforces:
//   - Connection health via WSClient.Circuit()
//   - Data staleness via PolyEvent timestamps
//   - Cool-off period after recovery
//   - Manual emergency halt
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	sub *Cursor[PolyEvent]

	connMu sync.RWMutex
	conn   *WSClient

	mu     sync.RWMutex
	assets map[AssetId]*assetState

	haltMu sync.RWMutex
	halted bool

	nowFunc func() time.Time // injectable clock for testing
}

// NewCircuitBreaker creates a CircuitBreaker that consumes a Broadcaster
// subscription for staleness tracking. The WSClient is registered
// separately via WatchConnection.
func NewCircuitBreaker(cfg CircuitBreakerConfig, sub *Cursor[PolyEvent]) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:     cfg,
		sub:     sub,
		assets:  make(map[AssetId]*assetState),
		nowFunc: time.Now,
	}
}

// WatchConnection registers the WSClient whose Circuit() state gates
// trading.
func (cb *CircuitBreaker) WatchConnection(ws *WSClient) {
	cb.connMu.Lock()
	cb.conn = ws
	cb.connMu.Unlock()
}

// ManualHalt forces every asset into a halted state. Trading is blocked
// until Resume is called.
func (cb *CircuitBreaker) ManualHalt() {
	cb.haltMu.Lock()
	cb.halted = true
	cb.haltMu.Unlock()
}

// Resume clears the manual halt. Assets still need to pass staleness and
// cool-off checks before CanTrade returns true.
func (cb *CircuitBreaker) Resume() {
	cb.haltMu.Lock()
	cb.halted = false
	cb.haltMu.Unlock()
}

// CanTrade returns true only if ALL of the following hold:
//  1. No manual halt is active.
//  2. The WS Connector's circuit is Closed (healthy).
//  3. The last event for this asset is within StaleThreshold.
//  4. The cool-off period has elapsed since recovery.
func (cb *CircuitBreaker) CanTrade(asset AssetId) bool {
	cb.haltMu.RLock()
	if cb.halted {
		cb.haltMu.RUnlock()
		return false
	}
	cb.haltMu.RUnlock()

	cb.connMu.RLock()
	ws := cb.conn
	cb.connMu.RUnlock()
	if ws != nil && ws.Circuit() == CircuitOpen {
		return false
	}

	now := cb.nowFunc()

	cb.mu.RLock()
	as, exists := cb.assets[asset]
	cb.mu.RUnlock()

	if !exists {
		return false // no data received yet
	}

	if now.Sub(as.LastUpdate) > cb.cfg.StaleThreshold {
		return false
	}

	if !as.RecoveredAt.IsZero() && now.Sub(as.RecoveredAt) < cb.cfg.CoolOff {
		return false
	}

	return true
}

// Run consumes the Broadcaster subscription, updating per-asset timestamps
// and health state. It blocks until ctx is cancelled or the Broadcaster
// closes.
func (cb *CircuitBreaker) Run(ctx context.Context) {
	for {
		ev, _, err := cb.sub.Recv(ctx)
		if err != nil {
			return
		}
		if ev.Asset == "" {
			continue
		}
		cb.recordEvent(ev)
	}
}

func (cb *CircuitBreaker) recordEvent(ev PolyEvent) {
	now := cb.nowFunc()
	if !ev.Timestamp.IsZero() {
		now = ev.Timestamp
	}

	cb.mu.Lock()
	as, exists := cb.assets[ev.Asset]
	if !exists {
		as = &assetState{}
		cb.assets[ev.Asset] = as
	}

	wasHealthy := as.Healthy
	as.LastUpdate = now
	as.Healthy = true

	if !wasHealthy {
		as.RecoveredAt = now
	}
	cb.mu.Unlock()
}

// MarkStale can be called externally (e.g. by the WS Connector's heartbeat
// monitor) to force an asset into an unhealthy state, requiring a fresh
// cool-off on the next update.
func (cb *CircuitBreaker) MarkStale(asset AssetId) {
	cb.mu.Lock()
	as, exists := cb.assets[asset]
	if exists {
		as.Healthy = false
	}
	cb.mu.Unlock()
}
