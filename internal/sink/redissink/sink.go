// internal/sink/redissink/sink.go
package redissink

import (
	"context"
	"fmt"
	"time"

	"github.com/YaganovValera/candle-tracker/internal/sink"
	"github.com/YaganovValera/candle-tracker/internal/tracker"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
	"github.com/YaganovValera/candle-tracker/pkg/redis"
)

const defaultKeyPrefix = "candle:last:"

// Sink keeps the most recent finished candle of each product under
// <prefix><product_id>. Older values are overwritten, no history is kept.
type Sink struct {
	cache  redis.Cache
	prefix string
	log    *logger.Logger
	now    func() time.Time
}

var _ tracker.Reporter = (*Sink)(nil)

// New wraps a connected cache. An empty prefix selects "candle:last:".
func New(c redis.Cache, prefix string, log *logger.Logger) *Sink {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Sink{cache: c, prefix: prefix, log: log.Named("redis-sink"), now: time.Now}
}

func (s *Sink) Name() string { return "redis" }

func (s *Sink) Report(ctx context.Context, c tracker.Completion) error {
	payload, err := sink.Encode(c, s.now())
	if err != nil {
		return fmt.Errorf("redissink: encode: %w", err)
	}
	return s.cache.Set(ctx, s.key(c.ProductID), payload)
}

// ReportError is a no-op: the cache only holds candles.
func (s *Sink) ReportError(context.Context, error) error { return nil }

// Latest returns the last finished candle stored for productID.
func (s *Sink) Latest(ctx context.Context, productID string) (sink.CompletedCandle, error) {
	data, err := s.cache.Get(ctx, s.key(productID))
	if err != nil {
		return sink.CompletedCandle{}, err
	}
	return sink.Decode(data)
}

// Ping checks the connection.
func (s *Sink) Ping(ctx context.Context) error { return s.cache.Ping(ctx) }

// Close closes the underlying cache.
func (s *Sink) Close() error { return s.cache.Close() }

func (s *Sink) key(productID string) string { return s.prefix + productID }
