// internal/transport/coinbase/metrics.go
package coinbase

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	wsStreams = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "candle_tracker", Subsystem: "coinbase", Name: "streams_total",
		Help: "Stream start attempts by status",
	}, []string{"status"})

	wsErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "candle_tracker", Subsystem: "coinbase", Name: "read_errors_total",
		Help: "Errors surfaced by the WebSocket connector",
	})

	wsMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "candle_tracker", Subsystem: "coinbase", Name: "messages_total",
		Help: "Frames received from the Coinbase feed by channel",
	}, []string{"channel"})

	wsBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "candle_tracker", Subsystem: "coinbase", Name: "received_bytes_total",
		Help: "Payload bytes received from the Coinbase feed",
	})
)

// RegisterMetrics registers the transport collectors once and panics on
// a conflicting registration, like MustRegister.
func RegisterMetrics(r prometheus.Registerer) {
	once.Do(func() {
		if err := register(r, wsStreams, wsErrors, wsMessages, wsBytes); err != nil {
			panic(err)
		}
	})
}

// register tolerates collectors that are already present in r.
func register(r prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

func incStream(status string) { wsStreams.WithLabelValues(status).Inc() }
func incError()               { wsErrors.Inc() }
func incMessage(channel string, size int) {
	if channel == "" {
		channel = "unknown"
	}
	wsMessages.WithLabelValues(channel).Inc()
	wsBytes.Add(float64(size))
}
