// internal/sink/kafkasink/sink.go
package kafkasink

import (
	"context"
	"fmt"
	"time"

	"github.com/YaganovValera/candle-tracker/internal/sink"
	"github.com/YaganovValera/candle-tracker/internal/tracker"
	"github.com/YaganovValera/candle-tracker/pkg/kafka"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

// Config selects the topics completions and stream errors go to.
// An empty ErrorsTopic disables error publication.
type Config struct {
	Topic       string `mapstructure:"topic" yaml:"topic" json:"topic"`
	ErrorsTopic string `mapstructure:"errors_topic" yaml:"errors_topic" json:"errors_topic"`
}

// Sink publishes completed candles to Kafka keyed by product id, so
// every product keeps its order within a partition.
type Sink struct {
	producer kafka.Producer
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

var _ tracker.Reporter = (*Sink)(nil)

// New wraps an already connected producer.
func New(p kafka.Producer, cfg Config, log *logger.Logger) (*Sink, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafkasink: topic is required")
	}
	return &Sink{producer: p, cfg: cfg, log: log.Named("kafka-sink"), now: time.Now}, nil
}

func (s *Sink) Name() string { return "kafka" }

func (s *Sink) Report(ctx context.Context, c tracker.Completion) error {
	payload, err := sink.Encode(c, s.now())
	if err != nil {
		return fmt.Errorf("kafkasink: encode: %w", err)
	}
	return s.producer.Publish(ctx, s.cfg.Topic, []byte(c.ProductID), payload)
}

func (s *Sink) ReportError(ctx context.Context, e error) error {
	if s.cfg.ErrorsTopic == "" {
		return nil
	}
	return s.producer.Publish(ctx, s.cfg.ErrorsTopic, nil, []byte(e.Error()))
}

// Ping reports whether the cluster is reachable.
func (s *Sink) Ping(ctx context.Context) error { return s.producer.Ping(ctx) }

// Close closes the underlying producer.
func (s *Sink) Close() error { return s.producer.Close() }
