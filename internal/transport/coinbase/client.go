// internal/transport/coinbase/client.go
package coinbase

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/YaganovValera/candle-tracker/pkg/coinbase"
)

var tracer = otel.Tracer("candle-tracker/transport/coinbase")

// StreamWithMetrics wraps the raw connector with tracing and metrics.
// Messages are forwarded unchanged and never dropped; the output closes
// when the connector's stream does. The coinbase.stream span covers the
// whole stream lifetime.
func StreamWithMetrics(ctx context.Context, conn coinbase.Connector) (<-chan coinbase.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "coinbase.stream")

	stream, err := conn.Stream(ctx)
	if err != nil {
		incStream("error")
		span.RecordError(err)
		span.End()
		return nil, err
	}
	incStream("ok")
	span.SetAttributes(attribute.Int("buffer", cap(stream)))

	out := make(chan coinbase.RawMessage, cap(stream))
	go func() {
		var messages, failures int64
		defer func() {
			span.SetAttributes(
				attribute.Int64("messages", messages),
				attribute.Int64("errors", failures),
			)
			span.End()
			close(out)
		}()
		for msg := range stream {
			if msg.Err != nil {
				failures++
				incError()
			} else {
				messages++
				incMessage(msg.Channel, len(msg.Data))
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
