package poly

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Updater  UpdaterConfig
	Recorder RecorderConfig
	// RecorderEnabled turns on the Session Recorder (C7) for every asset
	// the Manager tracks. Off by default: a replay run or a lightweight
	// consumer doesn't need to spend disk I/O on this.
	RecorderEnabled bool
}

// assetState is the Manager's per-asset unit: one Book and one optional
// Recorder. Every mutation to the Book goes through handleEvent, which
// holds applyMu around the Updater call whether it runs on the Run loop or
// on a resync goroutine, satisfying the single-writer-per-asset discipline
// the Updater assumes.
type assetState struct {
	book     *Book
	recorder *Recorder
}

// Manager is the Book Manager: it owns one Book per subscribed asset,
// decodes raw market-channel frames (C3), applies them through a shared
// Updater (C4), persists them through a per-asset Recorder (C7) when
// enabled, and republishes the resulting PolyEvents on a Broadcaster (C8).
// A digest mismatch (when AutoSyncOnHashMismatch is set) or a delta on an
// uninitialized book calls into RequestResync, wired to the Resync
// Coordinator (C9).
type Manager struct {
	cfg     ManagerConfig
	bc      *adapter.Broadcaster[adapter.PolyEvent]
	updater *Updater

	// RequestResync is called whenever the Updater detects a trigger
	// condition for an asset. Wired to (*ResyncCoordinator).RequestSync.
	RequestResync func(asset adapter.AssetId)

	mu     sync.Mutex
	assets map[adapter.AssetId]*assetState

	// applyMu serializes Updater calls between Run and
	// ApplySnapshotFromResync.
	applyMu sync.Mutex
}

// NewManager creates a Manager publishing decoded events on bc.
func NewManager(cfg ManagerConfig, bc *adapter.Broadcaster[adapter.PolyEvent]) *Manager {
	m := &Manager{
		cfg:    cfg,
		bc:     bc,
		assets: make(map[adapter.AssetId]*assetState),
	}
	m.updater = NewUpdater(cfg.Updater)
	m.updater.OnResyncNeeded = func(asset adapter.AssetId) {
		if m.RequestResync != nil {
			m.RequestResync(asset)
		}
	}
	return m
}

// Track begins tracking asset, creating its Book (and Recorder, if
// enabled) if this is the first time it's seen. Safe to call multiple
// times for the same asset; later calls are no-ops.
func (m *Manager) Track(ctx context.Context, asset adapter.AssetId, market string) error {
	m.mu.Lock()
	if _, ok := m.assets[asset]; ok {
		m.mu.Unlock()
		return nil
	}
	st := &assetState{book: NewBook(asset, market)}
	m.assets[asset] = st
	m.mu.Unlock()

	if m.cfg.RecorderEnabled {
		rec, err := NewRecorder(m.cfg.Recorder, asset, time.Now())
		if err != nil {
			return err
		}
		st.recorder = rec
		go rec.Run(ctx)
	}
	return nil
}

// Untrack stops tracking asset. Its Recorder, if any, is left to finish
// draining and finalize on ctx cancellation by the caller; Untrack only
// removes the Book from lookup so new events for a re-subscribed asset
// start clean.
func (m *Manager) Untrack(asset adapter.AssetId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assets, asset)
}

// Book returns the tracked Book for asset, if any.
func (m *Manager) Book(asset adapter.AssetId) (*Book, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.assets[asset]
	if !ok {
		return nil, false
	}
	return st.book, true
}

// Run drains raw market-channel frames from inbound, decoding, applying,
// recording and broadcasting each one until ctx is cancelled or inbound
// closes. Parse failures are logged and skipped (spec §4.3): one bad frame
// never blocks the stream.
func (m *Manager) Run(ctx context.Context, inbound <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			m.handleFrame(ctx, raw)
		}
	}
}

func (m *Manager) handleFrame(ctx context.Context, raw []byte) {
	events, failures := Decode(raw)
	for _, f := range failures {
		log.Printf("poly: manager: dropping frame: kind=%d reason=%q raw_kind=%q", f.Kind, f.Reason, f.RawKind)
	}
	for _, ev := range events {
		m.handleEvent(ctx, ev)
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev adapter.PolyEvent) {
	if ev.Asset == "" {
		m.bc.Publish(ev)
		return
	}

	if err := m.Track(ctx, ev.Asset, ev.Market); err != nil {
		log.Printf("poly: manager: failed to start recorder for asset %s: %v", ev.Asset, err)
	}

	m.mu.Lock()
	st := m.assets[ev.Asset]
	m.mu.Unlock()
	if st == nil {
		return
	}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	out := m.updater.Apply(st.book, ev)
	for _, o := range out {
		if st.recorder != nil {
			st.recorder.Record(o)
		}
		m.bc.Publish(o)
	}
}

// ApplySnapshotFromResync feeds a freshly-fetched snapshot (obtained by
// the Resync Coordinator via adapter.SnapshotSource) into asset's Book as
// if it had arrived over the wire, so it goes through the same Updater
// path, Recorder, and Broadcaster as a live event.
func (m *Manager) ApplySnapshotFromResync(ctx context.Context, asset adapter.AssetId, market string, ev adapter.PolyEvent) {
	ev.Kind = adapter.EventBookSnapshot
	ev.Asset = asset
	if ev.Market == "" {
		ev.Market = market
	}
	m.handleEvent(ctx, ev)
}
