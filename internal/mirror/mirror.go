// Package mirror fans emitted chunks out to in-process SSE subscribers
// and records every chunk in a bounded Redis stream per run. The mirror
// is the single chunk egress: internal function_call frames are dropped
// here and nowhere else.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strandworks/strand/internal/observability"
	"github.com/strandworks/strand/pkg/models"
)

// streamKey is the Redis key for a run's event log.
func streamKey(runID string) string {
	return "stream:" + runID
}

// Mirror publishes run chunks to Redis and to live subscribers. A nil
// Redis client degrades to in-process fan-out only.
type Mirror struct {
	rdb     redis.Cmdable
	maxLen  int64
	ttl     time.Duration
	hub     *Hub
	log     *observability.Logger
	metrics *observability.Metrics
}

// New creates a mirror. maxLen bounds each stream (approximate trim) and
// ttl expires idle streams; both are refreshed on every write.
func New(rdb redis.Cmdable, maxLen int64, ttl time.Duration, log *observability.Logger, m *observability.Metrics) *Mirror {
	if maxLen <= 0 {
		maxLen = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Mirror{
		rdb:     rdb,
		maxLen:  maxLen,
		ttl:     ttl,
		hub:     NewHub(),
		log:     log,
		metrics: m,
	}
}

// Hub exposes the subscriber hub for the SSE layer.
func (m *Mirror) Hub() *Hub { return m.hub }

// Publish records a chunk for a run and forwards it to subscribers.
// Internal chunk types never leave this function. Redis failures are
// logged, not returned: the live stream must not stall on mirror
// trouble.
func (m *Mirror) Publish(ctx context.Context, runID string, chunk *models.StreamChunk) {
	if chunk == nil || !chunk.Visible() {
		return
	}
	if m.metrics != nil {
		m.metrics.ChunkCounter.WithLabelValues(string(chunk.Type)).Inc()
	}

	if m.rdb != nil {
		payload, err := json.Marshal(chunk)
		if err == nil {
			pipe := m.rdb.Pipeline()
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: streamKey(runID),
				MaxLen: m.maxLen,
				Approx: true,
				Values: map[string]any{"data": payload},
			})
			// TTL is refreshed lazily on write; idle streams age out.
			pipe.Expire(ctx, streamKey(runID), m.ttl)
			if _, err := pipe.Exec(ctx); err != nil && m.log != nil {
				m.log.Warn(ctx, "mirror write failed", "run_id", runID, "error", err)
			}
		}
	}

	m.hub.broadcast(runID, chunk)
}

// Replay returns the recorded chunks for a run, oldest first. A missing
// stream yields an empty slice.
func (m *Mirror) Replay(ctx context.Context, runID string) ([]*models.StreamChunk, error) {
	if m.rdb == nil {
		return nil, nil
	}
	entries, err := m.rdb.XRange(ctx, streamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	out := make([]*models.StreamChunk, 0, len(entries))
	for _, e := range entries {
		raw, ok := e.Values["data"].(string)
		if !ok {
			continue
		}
		var chunk models.StreamChunk
		if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
			continue
		}
		out = append(out, &chunk)
	}
	return out, nil
}
