// internal/tracker/session.go
package tracker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/YaganovValera/candle-tracker/internal/metrics"
	"github.com/YaganovValera/candle-tracker/pkg/coinbase"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

var tracer = otel.Tracer("candle-tracker/tracker")

// MessageSink consumes stream messages one at a time.
type MessageSink interface {
	OnMessage(ctx context.Context, raw coinbase.RawMessage)
}

// Session owns the per-product candle state of one stream. It is not
// safe for concurrent use: a single goroutine feeds it via Run.
type Session struct {
	reporter Reporter
	log      *logger.Logger

	processed uint64
	current   map[string]coinbase.Candle
}

var _ MessageSink = (*Session)(nil)

// NewSession returns an empty session reporting to r.
func NewSession(r Reporter, log *logger.Logger) *Session {
	return &Session{
		reporter: r,
		log:      log.Named("session"),
		current:  make(map[string]coinbase.Candle),
	}
}

// Run feeds every message from in to the session until in is closed
// (returns nil) or ctx ends (returns ctx.Err()).
func (s *Session) Run(ctx context.Context, in <-chan coinbase.RawMessage) error {
	return Listen(ctx, in, s)
}

// Listen drains in sequentially into sink.
func Listen(ctx context.Context, in <-chan coinbase.RawMessage, sink MessageSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			sink.OnMessage(ctx, raw)
		}
	}
}

// OnMessage applies one stream message. Failures never escape: they are
// reported as stream errors and the message is skipped.
func (s *Session) OnMessage(ctx context.Context, raw coinbase.RawMessage) {
	started := time.Now()
	defer func() { metrics.HandleLatency.Observe(time.Since(started).Seconds()) }()

	if raw.Err != nil {
		s.streamError(ctx, "transport", raw.Err)
		return
	}
	msg, err := coinbase.Decode(raw.Data)
	if err != nil {
		kind := "decode"
		var frame *coinbase.ErrorFrame
		if errors.As(err, &frame) {
			kind = "server"
		}
		s.streamError(ctx, kind, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues(msg.Channel).Inc()

	update, seen, ok := Normalize(msg)
	if seen > 0 {
		s.processed += uint64(seen)
		metrics.RecordsProcessed.Add(float64(seen))
		metrics.RecordsDiscarded.Add(float64(seen - 1))
	}
	if !ok {
		return
	}

	var current *coinbase.Candle
	prev, tracked := s.current[update.ProductID]
	if tracked {
		current = &prev
	}
	next, done := Detect(current, update.Candle)
	s.current[update.ProductID] = next
	if !tracked {
		metrics.TrackedInstruments.Set(float64(len(s.current)))
		s.log.WithContext(ctx).Debug("tracking product", zap.String("product_id", update.ProductID))
	}
	if done == nil {
		return
	}

	metrics.CompletionsTotal.Inc()
	s.complete(ctx, Completion{
		Processed: s.processed,
		ProductID: update.ProductID,
		Candle:    *done,
	})
}

func (s *Session) complete(ctx context.Context, c Completion) {
	ctx, span := tracer.Start(ctx, "tracker.completion")
	defer span.End()
	span.SetAttributes(
		attribute.String("product_id", c.ProductID),
		attribute.Int64("candle.start", c.Candle.Start),
		attribute.Int64("processed", int64(c.Processed)),
	)

	if err := s.reporter.Report(ctx, c); err != nil {
		span.RecordError(err)
		s.reporterFailed(ctx, err)
	}
}

func (s *Session) streamError(ctx context.Context, kind string, err error) {
	metrics.StreamErrors.WithLabelValues(kind).Inc()
	s.log.WithContext(ctx).Warn("stream message skipped", zap.String("kind", kind), zap.Error(err))
	if rerr := s.reporter.ReportError(ctx, err); rerr != nil {
		s.reporterFailed(ctx, rerr)
	}
}

func (s *Session) reporterFailed(ctx context.Context, err error) {
	for _, sink := range failedSinks(err, s.reporter.Name()) {
		metrics.ReporterErrors.WithLabelValues(sink).Inc()
	}
	s.log.WithContext(ctx).Error("reporter failed", zap.Error(err))
}

// failedSinks extracts sink names from a possibly joined error.
func failedSinks(err error, fallback string) []string {
	var sinks []string
	var visit func(error)
	visit = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				visit(inner)
			}
			return
		}
		var se *SinkError
		if errors.As(e, &se) {
			sinks = append(sinks, se.Sink)
			return
		}
		sinks = append(sinks, fallback)
	}
	visit(err)
	return sinks
}

// Processed returns the number of update records seen so far.
func (s *Session) Processed() uint64 { return s.processed }

// Current returns the open candle of productID, if any.
func (s *Session) Current(productID string) (coinbase.Candle, bool) {
	c, ok := s.current[productID]
	return c, ok
}

// Tracked returns how many products hold an open candle.
func (s *Session) Tracked() int { return len(s.current) }
