package poly

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// ReplayPacing controls how quickly a ReplaySource emits recorded events.
type ReplayPacing int

const (
	// ReplayRealtime reproduces the original inter-event gaps exactly.
	ReplayRealtime ReplayPacing = iota
	// ReplayScaled reproduces the original gaps divided by Scale.
	ReplayScaled
	// ReplayAsFastAsPossible emits every record with no delay.
	ReplayAsFastAsPossible
)

// ReplaySource is the Replay Source (C10): it reads one recorded session
// (the layout NewRecorder writes) in recorded order — the snapshot file,
// then updates/ in ascending sequence; records are not re-sorted by
// timestamp — and re-emits the identical PolyEvents that were observed
// live, honoring an optional pacing
// scheme. It also implements adapter.SnapshotSource, so a Resync
// Coordinator can be pointed at a recorded session during offline runs
// instead of a live REST fetch (spec §4.9's "replaceable by the Replay
// Source during offline runs").
type ReplaySource struct {
	dir    string
	Pacing ReplayPacing
	Scale  float64 // only used when Pacing == ReplayScaled; > 1 speeds up, < 1 slows down
}

// NewReplaySource opens the session recorded at dir (a directory containing
// a metadata file, a snapshot file, and an updates/ subdirectory).
func NewReplaySource(dir string) *ReplaySource {
	return &ReplaySource{dir: dir, Scale: 1.0}
}

// Metadata loads the session's header.
func (rs *ReplaySource) Metadata() (SessionMetadata, error) {
	return ReadMetadata(rs.dir)
}

// Play replays every record in the session in order, calling sink for each
// PolyEvent, and finally calling sink once more with a SystemSessionEnded
// event. It honors ctx cancellation between records. assetFilter, if
// non-empty, restricts emission to events for those assets — a delta or
// snapshot for any other asset is skipped, though it is still consumed in
// order (spec §4.10's "asset filtering is honored").
func (rs *ReplaySource) Play(ctx context.Context, assetFilter map[adapter.AssetId]struct{}, sink func(adapter.PolyEvent)) error {
	records, err := rs.orderedRecordPaths()
	if err != nil {
		return err
	}

	var prevTS time.Time
	for i, path := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, err := readLengthPrefixedRecord(path)
		if err != nil {
			return fmt.Errorf("poly: replay: record %d (%s): %w", i, path, err)
		}
		ev := env.Event

		if i > 0 && rs.Pacing != ReplayAsFastAsPossible && !prevTS.IsZero() && !ev.Timestamp.IsZero() {
			gap := ev.Timestamp.Sub(prevTS)
			if gap > 0 {
				if rs.Pacing == ReplayScaled && rs.Scale > 0 {
					gap = time.Duration(float64(gap) / rs.Scale)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		if !ev.Timestamp.IsZero() {
			prevTS = ev.Timestamp
		}

		if len(assetFilter) == 0 {
			sink(ev)
			continue
		}
		if _, ok := assetFilter[ev.Asset]; ok {
			sink(ev)
		}
	}

	sink(adapter.PolyEvent{Kind: adapter.EventSystem, System: adapter.SystemSessionEnded, Timestamp: time.Now()})
	return nil
}

// orderedRecordPaths returns the snapshot file (if present) followed by
// every updates/NNNNNNNNN file in ascending sequence order.
func (rs *ReplaySource) orderedRecordPaths() ([]string, error) {
	var paths []string

	snapshotPath := filepath.Join(rs.dir, "snapshot")
	if _, err := os.Stat(snapshotPath); err == nil {
		paths = append(paths, snapshotPath)
	}

	updatesDir := filepath.Join(rs.dir, "updates")
	entries, err := os.ReadDir(updatesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return paths, nil
		}
		return nil, fmt.Errorf("poly: replay: read updates dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		paths = append(paths, filepath.Join(updatesDir, n))
	}
	return paths, nil
}

// FetchBook implements adapter.SnapshotSource by returning the session's
// recorded snapshot for asset, ignoring any deltas that followed it.
func (rs *ReplaySource) FetchBook(ctx context.Context, asset adapter.AssetId) ([]adapter.PriceLevel, []adapter.PriceLevel, string, *adapter.FixedDecimal, error) {
	meta, err := rs.Metadata()
	if err != nil {
		return nil, nil, "", nil, err
	}
	if meta.Asset != asset {
		return nil, nil, "", nil, fmt.Errorf("poly: replay: session %s holds asset %s, not %s", rs.dir, meta.Asset, asset)
	}
	env, err := readLengthPrefixedRecord(filepath.Join(rs.dir, "snapshot"))
	if err != nil {
		return nil, nil, "", nil, err
	}
	return env.Event.Bids, env.Event.Asks, env.Event.Digest, nil, nil
}

var _ adapter.SnapshotSource = (*ReplaySource)(nil)
