package adapter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// RedisClient abstracts the Redis operations used by RedisWriter.
// In production this is satisfied by *redis.Client; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

// bookSnapshot holds the last-written best bid/ask for an asset so we can
// skip duplicate writes.
type bookSnapshot struct {
	Bid string
	Ask string
}

// RedisWriter subscribes to the Event Broadcaster and persists the best
// bid/ask for every asset into Redis using the schema:
//
//	Key:    book:{exchange}:{asset_id}
//	Fields: bid, ask, ts
//
// This is a downstream cache-writer collaborator (strategy/portfolio layers
// read best bid/ask from Redis rather than holding their own Cursor).
// Writes are non-blocking: updates are buffered in an internal channel and
// flushed by a dedicated goroutine. Duplicate prices are suppressed.
type RedisWriter struct {
	client RedisClient
	sub    *Cursor[PolyEvent]
	buf    chan PolyEvent

	mu   sync.Mutex
	last map[string]bookSnapshot // keyed by Redis key
}

// NewRedisWriter creates a RedisWriter that reads from a Broadcaster
// subscription and writes to the given Redis client.
func NewRedisWriter(client RedisClient, sub *Cursor[PolyEvent]) *RedisWriter {
	return &RedisWriter{
		client: client,
		sub:    sub,
		buf:    make(chan PolyEvent, 1024),
		last:   make(map[string]bookSnapshot),
	}
}

// Run starts two goroutines: one to drain the Broadcaster subscription into
// an internal buffer, and one to flush buffered updates to Redis. It blocks
// until ctx is cancelled or the Broadcaster closes.
func (rw *RedisWriter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	// Ingestion: drain the subscription into the internal buffer so we
	// never make the Broadcaster wait on Redis latency.
	go func() {
		defer wg.Done()
		defer close(rw.buf)
		for {
			ev, _, err := rw.sub.Recv(ctx)
			if err != nil {
				return
			}
			if ev.Kind != EventBookSnapshot && ev.Kind != EventPriceChange {
				continue
			}
			select {
			case rw.buf <- ev:
			default:
				// Buffer full — drop oldest-unsent to keep up.
				select {
				case <-rw.buf:
				default:
				}
				select {
				case rw.buf <- ev:
				default:
				}
			}
		}
	}()

	// Flusher: write buffered updates to Redis.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-rw.buf:
				if !ok {
					return
				}
				rw.write(ctx, ev)
			}
		}
	}()

	wg.Wait()
}

// write extracts best bid/ask, checks for duplicates, and issues an HSET.
func (rw *RedisWriter) write(ctx context.Context, ev PolyEvent) {
	bestBid := bestPrice(ev.Bids, true)
	bestAsk := bestPrice(ev.Asks, false)

	key := fmt.Sprintf("book:%s:%s", ExchangePolymarket, ev.Asset)

	rw.mu.Lock()
	prev, exists := rw.last[key]
	if exists && prev.Bid == bestBid && prev.Ask == bestAsk {
		rw.mu.Unlock()
		return
	}
	rw.last[key] = bookSnapshot{Bid: bestBid, Ask: bestAsk}
	rw.mu.Unlock()

	ts := strconv.FormatInt(ev.Timestamp.UnixMilli(), 10)
	rw.client.HSet(ctx, key, "bid", bestBid, "ask", bestAsk, "ts", ts)
}

// bestPrice returns the best (highest bid or lowest ask) price as a string.
// For bids, "best" is the highest price; for asks, the lowest.
func bestPrice(levels []PriceLevel, isBid bool) string {
	if len(levels) == 0 {
		return "0"
	}
	best := levels[0].Price
	for _, l := range levels[1:] {
		if isBid && l.Price.Cmp(best) > 0 {
			best = l.Price
		}
		if !isBid && l.Price.Cmp(best) < 0 {
			best = l.Price
		}
	}
	return best.String()
}
