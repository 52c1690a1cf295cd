// internal/sink/kafkasink/sink_test.go
package kafkasink_test

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"github.com/YaganovValera/candle-tracker/internal/sink"
	"github.com/YaganovValera/candle-tracker/internal/sink/kafkasink"
	"github.com/YaganovValera/candle-tracker/internal/tracker"
	"github.com/YaganovValera/candle-tracker/pkg/coinbase"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

type published struct {
	topic      string
	key, value []byte
}

type fakeProducer struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	f.sent = append(f.sent, published{topic, key, value})
	return f.err
}
func (f *fakeProducer) Ping(context.Context) error { return f.err }
func (f *fakeProducer) Close() error               { f.closed = true; return nil }

func TestSink_ReportPublishesKeyedPayload(t *testing.T) {
	p := &fakeProducer{}
	s, err := kafkasink.New(p, kafkasink.Config{Topic: "candles.completed"}, logger.NewNop())
	assert.NoError(t, err)

	c := tracker.Completion{
		Processed: 9,
		ProductID: "ETH-USD",
		Candle:    coinbase.Candle{Start: 1688998200, Close: decimal.RequireFromString("1866.81")},
	}
	assert.NoError(t, s.Report(context.Background(), c))

	assert.Equal(t, 1, len(p.sent))
	assert.Equal(t, "candles.completed", p.sent[0].topic)
	assert.Equal(t, "ETH-USD", string(p.sent[0].key))

	got, err := sink.Decode(p.sent[0].value)
	assert.NoError(t, err)
	assert.Equal(t, "ETH-USD", got.ProductID)
	assert.Equal(t, int64(1688998200), got.Start)
	assert.Equal(t, uint64(9), got.Processed)
	assert.True(t, got.Close.Equal(decimal.RequireFromString("1866.81")))
}

func TestSink_ReportError(t *testing.T) {
	p := &fakeProducer{}
	s, err := kafkasink.New(p, kafkasink.Config{Topic: "t"}, logger.NewNop())
	assert.NoError(t, err)
	assert.NoError(t, s.ReportError(context.Background(), errors.New("x")))
	assert.Equal(t, 0, len(p.sent))

	s, err = kafkasink.New(p, kafkasink.Config{Topic: "t", ErrorsTopic: "candles.errors"}, logger.NewNop())
	assert.NoError(t, err)
	assert.NoError(t, s.ReportError(context.Background(), errors.New("connection reset")))
	assert.Equal(t, 1, len(p.sent))
	assert.Equal(t, "candles.errors", p.sent[0].topic)
	assert.Equal(t, "connection reset", string(p.sent[0].value))
}

func TestSink_PropagatesPublishFailure(t *testing.T) {
	p := &fakeProducer{err: errors.New("broker down")}
	s, err := kafkasink.New(p, kafkasink.Config{Topic: "t"}, logger.NewNop())
	assert.NoError(t, err)
	assert.Error(t, s.Report(context.Background(), tracker.Completion{ProductID: "BTC-USD"}))
	assert.Error(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
	assert.True(t, p.closed)
}

func TestNew_RequiresTopic(t *testing.T) {
	_, err := kafkasink.New(&fakeProducer{}, kafkasink.Config{}, logger.NewNop())
	assert.Error(t, err)
}
