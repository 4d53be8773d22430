package poly

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// ResyncConfig configures timeout and backoff behavior for the Resync
// Coordinator.
type ResyncConfig struct {
	FetchTimeout   time.Duration // per-attempt deadline against SnapshotSource; spec §5 default 15s
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int // 0 means unlimited retries until success or coordinator shutdown
}

func (c ResyncConfig) withDefaults() ResyncConfig {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// ResyncCoordinator is the Resync Coordinator (C9): on trigger, it fetches
// a fresh snapshot for an asset through a pluggable adapter.SnapshotSource
// and feeds it back into the Manager as if it had arrived over the wire.
// In-flight requests are deduplicated per asset — a burst of triggers for
// the same asset while a fetch is outstanding collapses into that one
// fetch. On repeated timeout it retries with exponential backoff up to
// MaxBackoff, and after MaxAttempts (if set) escalates a persistent-error
// system event through the Broadcaster.
type ResyncCoordinator struct {
	cfg    ResyncConfig
	source adapter.SnapshotSource
	mgr    *Manager
	bc     *adapter.Broadcaster[adapter.PolyEvent]

	mu       sync.Mutex
	inFlight map[adapter.AssetId]struct{}
	baseCtx  context.Context
}

// NewResyncCoordinator creates a ResyncCoordinator that fetches snapshots
// from source and applies them through mgr, publishing terminal escalation
// events on bc.
func NewResyncCoordinator(cfg ResyncConfig, source adapter.SnapshotSource, mgr *Manager, bc *adapter.Broadcaster[adapter.PolyEvent]) *ResyncCoordinator {
	return &ResyncCoordinator{
		cfg:      cfg.withDefaults(),
		source:   source,
		mgr:      mgr,
		bc:       bc,
		inFlight: make(map[adapter.AssetId]struct{}),
		baseCtx:  context.Background(),
	}
}

// BindContext ties future RequestSync fetches to ctx, so a graceful
// shutdown (ctx cancelled) aborts any in-flight backoff loop instead of
// leaking a goroutine (spec §5 cancellation model).
func (rc *ResyncCoordinator) BindContext(ctx context.Context) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.baseCtx = ctx
}

// RequestSync triggers a resync for asset if one isn't already in flight.
// Safe to call from any goroutine; wired to Updater.OnResyncNeeded.
// Non-blocking: the fetch runs on its own goroutine.
func (rc *ResyncCoordinator) RequestSync(asset adapter.AssetId) {
	rc.mu.Lock()
	if _, ok := rc.inFlight[asset]; ok {
		rc.mu.Unlock()
		return
	}
	rc.inFlight[asset] = struct{}{}
	ctx := rc.baseCtx
	rc.mu.Unlock()

	go rc.run(ctx, asset)
}

func (rc *ResyncCoordinator) run(ctx context.Context, asset adapter.AssetId) {
	defer func() {
		rc.mu.Lock()
		delete(rc.inFlight, asset)
		rc.mu.Unlock()
	}()

	backoff := rc.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, rc.cfg.FetchTimeout)
		bids, asks, digest, tick, err := rc.source.FetchBook(fetchCtx, asset)
		cancel()

		if err == nil {
			ev := adapter.PolyEvent{
				Asset:     asset,
				Bids:      bids,
				Asks:      asks,
				Digest:    digest,
				Timestamp: time.Now(),
			}
			if tick != nil {
				ev.Tick = *tick
			}
			rc.mgr.ApplySnapshotFromResync(ctx, asset, "", ev)
			return
		}

		log.Printf("poly: resync: attempt %d for asset %s failed: %v", attempt, asset, err)

		if rc.cfg.MaxAttempts > 0 && attempt >= rc.cfg.MaxAttempts {
			rc.bc.Publish(adapter.PolyEvent{
				Kind:      adapter.EventSystem,
				Asset:     asset,
				System:    adapter.SystemResyncPersistentError,
				Timestamp: time.Now(),
				Detail:    err.Error(),
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > rc.cfg.MaxBackoff {
			backoff = rc.cfg.MaxBackoff
		}
	}
}

// InFlightCount reports how many asset resyncs are currently outstanding —
// exposed for tests and metrics.
func (rc *ResyncCoordinator) InFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
