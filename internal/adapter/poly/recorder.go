package poly

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// SessionMetadata is the header written once per recording session (spec
// §4.7): session identity, the asset recorded, the hash algorithm and
// schema version in effect, and final counters stamped on close.
type SessionMetadata struct {
	SessionID     string
	Asset         adapter.AssetId
	StartTime     time.Time
	EndTime       time.Time
	HashAlgorithm string
	SchemaVersion int
	SnapshotCount int
	DeltaCount    int
}

const recorderSchemaVersion = 1

// recordEnvelope is the self-describing unit gob-encodes a single
// PolyEvent for storage. Records are never bare-encoded PolyEvents: the
// envelope lets the Replay Source (C10) distinguish a snapshot record from
// a delta record without depending on file position alone.
type recordEnvelope struct {
	Seq   uint64
	Event adapter.PolyEvent
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	RootPath      string // e.g. "<root>"; sessions live under RootPath/stream/market/<asset>/<session>
	QueueCapacity int
	HashAlgorithm string // recorded in metadata; must match the digest.go algorithm in use
}

// Recorder is the Session Recorder (C7): an append-only, crash-safe log of
// one asset's book snapshot and subsequent deltas. Writes happen on a
// dedicated goroutine fed by a bounded queue; when the queue is full,
// Record blocks the caller (the decoder) rather than dropping — the log
// must never disagree with what live consumers saw (spec §4.7, §5
// suspension point 3).
type Recorder struct {
	cfg   RecorderConfig
	asset adapter.AssetId
	dir   string

	queue chan adapter.PolyEvent
	done  chan struct{}

	mu   sync.Mutex
	meta SessionMetadata
	seq  uint64

	metaPath string
}

// NewRecorder creates a Recorder for asset, opening a new session directory
// named by the current UTC timestamp and writing the initial metadata
// header. Call Run in a goroutine to start the writer, and Record to
// enqueue events.
func NewRecorder(cfg RecorderConfig, asset adapter.AssetId, now time.Time) (*Recorder, error) {
	sessionID := now.UTC().Format("20060102T150405.000000000Z")
	dir := filepath.Join(cfg.RootPath, "stream", "market", string(asset), sessionID)
	if err := os.MkdirAll(filepath.Join(dir, "updates"), 0o755); err != nil {
		return nil, fmt.Errorf("poly: create session dir: %w", err)
	}

	qcap := cfg.QueueCapacity
	if qcap <= 0 {
		qcap = 256
	}

	r := &Recorder{
		cfg:      cfg,
		asset:    asset,
		dir:      dir,
		queue:    make(chan adapter.PolyEvent, qcap),
		done:     make(chan struct{}),
		metaPath: filepath.Join(dir, "metadata"),
		meta: SessionMetadata{
			SessionID:     sessionID,
			Asset:         asset,
			StartTime:     now,
			HashAlgorithm: cfg.HashAlgorithm,
			SchemaVersion: recorderSchemaVersion,
		},
	}
	if err := r.writeMetadata(); err != nil {
		return nil, err
	}
	return r, nil
}

// Record enqueues ev for durable storage. Blocks if the internal queue is
// full (back-pressure propagates to the decoder by design).
func (r *Recorder) Record(ev adapter.PolyEvent) {
	r.queue <- ev
}

// Run drains the queue and writes each record to disk. It exits when ctx
// is cancelled, flushing and stamping final metadata first.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	defer r.finalize()
	for {
		select {
		case <-ctx.Done():
			r.drainRemaining()
			return
		case ev := <-r.queue:
			r.writeRecord(ev)
		}
	}
}

func (r *Recorder) drainRemaining() {
	for {
		select {
		case ev := <-r.queue:
			r.writeRecord(ev)
		default:
			return
		}
	}
}

func (r *Recorder) writeRecord(ev adapter.PolyEvent) {
	r.mu.Lock()
	seq := r.seq
	r.seq++
	isFirstSnapshot := ev.Kind == adapter.EventBookSnapshot && r.meta.SnapshotCount == 0
	r.mu.Unlock()

	var path string
	if isFirstSnapshot {
		path = filepath.Join(r.dir, "snapshot")
	} else {
		path = filepath.Join(r.dir, "updates", fmt.Sprintf("%09d", seq))
	}

	if err := writeLengthPrefixedRecord(path, recordEnvelope{Seq: seq, Event: ev}); err != nil {
		log.Printf("poly: recorder: failed to write record for asset %s: %v", r.asset, err)
		return
	}

	r.mu.Lock()
	if isFirstSnapshot {
		r.meta.SnapshotCount++
	} else {
		r.meta.DeltaCount++
	}
	r.mu.Unlock()
}

// writeLengthPrefixedRecord gob-encodes env and writes it to path prefixed
// with its own 4-byte big-endian length, so a reader can detect and
// truncate a partially-written record left by a crash (spec §4.7).
func writeLengthPrefixedRecord(path string, env recordEnvelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create record file: %w", err)
	}
	defer f.Close()

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := f.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write record body: %w", err)
	}
	return f.Sync()
}

// readLengthPrefixedRecord is the Replay Source's counterpart: it reads
// the length prefix, verifies the file holds at least that many body
// bytes (truncating/rejecting a crash-torn record), and decodes the gob
// envelope.
func readLengthPrefixedRecord(path string) (recordEnvelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return recordEnvelope{}, err
	}
	if len(data) < 4 {
		return recordEnvelope{}, fmt.Errorf("poly: record %s truncated before length prefix", path)
	}
	want := binary.BigEndian.Uint32(data[:4])
	body := data[4:]
	if uint32(len(body)) < want {
		return recordEnvelope{}, fmt.Errorf("poly: record %s truncated: want %d body bytes, have %d", path, want, len(body))
	}
	body = body[:want]

	var env recordEnvelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return recordEnvelope{}, fmt.Errorf("poly: decode record %s: %w", path, err)
	}
	return env, nil
}

func (r *Recorder) writeMetadata() error {
	r.mu.Lock()
	meta := r.meta
	r.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
		return fmt.Errorf("poly: encode metadata: %w", err)
	}
	return os.WriteFile(r.metaPath, buf.Bytes(), 0o644)
}

// finalize stamps EndTime and writes the final metadata. Called once, when
// Run exits.
func (r *Recorder) finalize() {
	r.mu.Lock()
	r.meta.EndTime = time.Now()
	r.mu.Unlock()
	if err := r.writeMetadata(); err != nil {
		log.Printf("poly: recorder: failed to finalize metadata for asset %s: %v", r.asset, err)
	}
}

// Done returns a channel closed once Run has exited and flushed.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// ReadMetadata loads a session's metadata header from disk — used by the
// Replay Source.
func ReadMetadata(sessionDir string) (SessionMetadata, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, "metadata"))
	if err != nil {
		return SessionMetadata{}, err
	}
	var meta SessionMetadata
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		return SessionMetadata{}, fmt.Errorf("poly: decode metadata: %w", err)
	}
	return meta, nil
}
