// internal/tracker/reporter_test.go
package tracker_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"

	"github.com/YaganovValera/candle-tracker/internal/tracker"
	"github.com/YaganovValera/candle-tracker/pkg/coinbase"
)

func TestConsoleReporter_Format(t *testing.T) {
	cases := []struct {
		name string
		c    tracker.Completion
		want string
	}{
		{"short id is right aligned", tracker.Completion{Processed: 42, ProductID: "BTC-USD", Candle: coinbase.Candle{Start: 1688998200}},
			"42    BTC-USD (1688998200): finished candle.\n"},
		{"exactly ten", tracker.Completion{Processed: 1, ProductID: "SHIB-USDC1", Candle: coinbase.Candle{Start: 60}},
			"1 SHIB-USDC1 (60): finished candle.\n"},
		{"longer id is not cut", tracker.Completion{Processed: 7, ProductID: "DOGECOIN-USD", Candle: coinbase.Candle{Start: 0}},
			"7 DOGECOIN-USD (0): finished candle.\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			assert.NoError(t, tracker.NewConsoleReporter(&buf).Report(context.Background(), c.c))
			assert.Equal(t, c.want, buf.String())
		})
	}
}

func TestConsoleReporter_Error(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, tracker.NewConsoleReporter(&buf).ReportError(context.Background(), errors.New("boom")))
	assert.Equal(t, "!WEBSOCKET ERROR! boom\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestMultiReporter_CollectsFailures(t *testing.T) {
	good := &recordingReporter{name: "good"}
	m := tracker.NewMultiReporter(nil, tracker.NewConsoleReporter(failingWriter{}), good)

	err := m.Report(context.Background(), tracker.Completion{ProductID: "BTC-USD"})
	assert.Error(t, err)
	var se *tracker.SinkError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "console", se.Sink)
	assert.Equal(t, 1, len(good.completions))

	err = m.ReportError(context.Background(), errors.New("x"))
	assert.Error(t, err)
	assert.Equal(t, 1, len(good.errs))
}

func TestMultiReporter_AllHealthy(t *testing.T) {
	a, b := &recordingReporter{name: "a"}, &recordingReporter{name: "b"}
	m := tracker.NewMultiReporter(a, b)
	assert.NoError(t, m.Report(context.Background(), tracker.Completion{}))
	assert.Equal(t, 1, len(a.completions))
	assert.Equal(t, 1, len(b.completions))
}
