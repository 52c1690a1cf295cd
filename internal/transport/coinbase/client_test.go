// internal/transport/coinbase/client_test.go
package coinbase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	transport "github.com/YaganovValera/candle-tracker/internal/transport/coinbase"
	"github.com/YaganovValera/candle-tracker/pkg/coinbase"
)

type fakeConnector struct {
	msgs []coinbase.RawMessage
	err  error
}

func (f *fakeConnector) Stream(context.Context) (<-chan coinbase.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan coinbase.RawMessage, len(f.msgs))
	for _, m := range f.msgs {
		ch <- m
	}
	close(ch)
	return ch, nil
}

func (f *fakeConnector) Close() error { return nil }

func TestStreamWithMetrics_ForwardsEverything(t *testing.T) {
	transport.RegisterMetrics(prometheus.NewRegistry())
	conn := &fakeConnector{msgs: []coinbase.RawMessage{
		{Data: []byte(`{"channel":"candles"}`), Channel: "candles"},
		{Err: errors.New("reset")},
		{Data: []byte(`{"channel":"heartbeats"}`), Channel: "heartbeats"},
	}}

	out, err := transport.StreamWithMetrics(context.Background(), conn)
	assert.NoError(t, err)

	var got []coinbase.RawMessage
	for m := range out {
		got = append(got, m)
	}
	assert.Equal(t, 3, len(got))
	assert.Equal(t, "candles", got[0].Channel)
	assert.Error(t, got[1].Err)
	assert.Equal(t, "heartbeats", got[2].Channel)
}

func TestStreamWithMetrics_ConnectError(t *testing.T) {
	_, err := transport.StreamWithMetrics(context.Background(), &fakeConnector{err: errors.New("closed")})
	assert.Error(t, err)
}

func TestStreamWithMetrics_SpanCoversStreamLifetime(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	src := make(chan coinbase.RawMessage, 2)
	conn := &chanConnector{ch: src}
	out, err := transport.StreamWithMetrics(context.Background(), conn)
	assert.NoError(t, err)

	src <- coinbase.RawMessage{Data: []byte(`{}`), Channel: "candles"}
	<-out
	for _, s := range rec.Ended() {
		if s.Name() == "coinbase.stream" {
			t.Fatal("stream span ended while the stream is open")
		}
	}

	src <- coinbase.RawMessage{Err: errors.New("reset")}
	close(src)
	for range out {
	}

	var found bool
	for _, s := range rec.Ended() {
		if s.Name() != "coinbase.stream" {
			continue
		}
		found = true
		attrs := map[string]int64{}
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsInt64()
		}
		assert.Equal(t, int64(1), attrs["messages"])
		assert.Equal(t, int64(1), attrs["errors"])
	}
	assert.True(t, found)
}

type chanConnector struct{ ch chan coinbase.RawMessage }

func (c *chanConnector) Stream(context.Context) (<-chan coinbase.RawMessage, error) { return c.ch, nil }
func (c *chanConnector) Close() error                                               { return nil }
