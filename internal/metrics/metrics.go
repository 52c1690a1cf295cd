// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// MessagesTotal counts decoded frames by channel.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "candle_tracker",
		Subsystem: "session",
		Name:      "messages_total",
		Help:      "Decoded stream messages by channel",
	}, []string{"channel"})

	// RecordsProcessed mirrors the session's processed counter.
	RecordsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "candle_tracker",
		Subsystem: "session",
		Name:      "records_processed_total",
		Help:      "Candle update records seen by the normalizer",
	})

	// RecordsDiscarded counts records dropped by the one-record-per-message reduction.
	RecordsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "candle_tracker",
		Subsystem: "session",
		Name:      "records_discarded_total",
		Help:      "Candle update records discarded by the batch reduction",
	})

	// CompletionsTotal counts finished candles.
	CompletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "candle_tracker",
		Subsystem: "session",
		Name:      "completions_total",
		Help:      "Candles detected as finished",
	})

	// StreamErrors counts messages that could not be used, by kind
	// (transport, decode, server).
	StreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "candle_tracker",
		Subsystem: "session",
		Name:      "stream_errors_total",
		Help:      "Transport, decode and server-side errors seen by the session",
	}, []string{"kind"})

	// ReporterErrors counts failed deliveries by sink.
	ReporterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "candle_tracker",
		Subsystem: "reporter",
		Name:      "errors_total",
		Help:      "Failed completion deliveries by sink",
	}, []string{"sink"})

	// TrackedInstruments is the number of products with an open candle.
	TrackedInstruments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "candle_tracker",
		Subsystem: "session",
		Name:      "tracked_instruments",
		Help:      "Products currently holding an open candle",
	})

	// HandleLatency observes OnMessage duration.
	HandleLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "candle_tracker",
		Subsystem: "session",
		Name:      "handle_seconds",
		Help:      "Time spent handling one stream message (seconds)",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05, .1},
	})
)

// Register registers all collectors in the given registry, or in
// prometheus.DefaultRegisterer when called without arguments.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			MessagesTotal,
			RecordsProcessed,
			RecordsDiscarded,
			CompletionsTotal,
			StreamErrors,
			ReporterErrors,
			TrackedInstruments,
			HandleLatency,
		)
	})
}
