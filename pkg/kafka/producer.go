// pkg/kafka/producer.go
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/candle-tracker/pkg/backoff"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

// -----------------------------------------------------------------------------
// Prometheus metrics
// -----------------------------------------------------------------------------

var producerMetrics = struct {
	ConnectErrors  prometheus.Counter
	PublishSuccess *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency prometheus.Histogram
	PingErrors     prometheus.Counter
}{
	ConnectErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "candle_tracker", Subsystem: "kafka_producer", Name: "connect_errors_total",
		Help: "Kafka producer connect errors",
	}),
	PublishSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "candle_tracker", Subsystem: "kafka_producer", Name: "publish_success_total",
		Help: "Successful publishes by topic",
	}, []string{"topic"}),
	PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "candle_tracker", Subsystem: "kafka_producer", Name: "publish_errors_total",
		Help: "Failed publishes by topic",
	}, []string{"topic"}),
	PublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "candle_tracker", Subsystem: "kafka_producer", Name: "publish_latency_seconds",
		Help:    "Publish latency including retries (seconds)",
		Buckets: prometheus.DefBuckets,
	}),
	PingErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "candle_tracker", Subsystem: "kafka_producer", Name: "ping_errors_total",
		Help: "Metadata refresh failures",
	}),
}

var tracer = otel.Tracer("candle-tracker/pkg/kafka")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config groups the tunables of a Kafka sync producer.
type Config struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers" json:"brokers"`

	// RequiredAcks: "all" (default) | "leader" | "none".
	RequiredAcks string `mapstructure:"required_acks" yaml:"required_acks" json:"required_acks"`

	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// Compression: "none" (default) | "gzip" | "snappy" | "lz4" | "zstd".
	Compression string `mapstructure:"compression" yaml:"compression" json:"compression"`

	ClientID string `mapstructure:"client_id" yaml:"client_id" json:"client_id"`

	Backoff backoff.Config `mapstructure:"backoff" yaml:"backoff" json:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.ClientID == "" {
		c.ClientID = "candle-tracker"
	}
	c.Backoff = boundedBackoff(c.Backoff, c.Timeout)
}

// boundedBackoff caps retries for calls made on the message path, where
// every second spent here stalls the stream consumer.
func boundedBackoff(b backoff.Config, attempt time.Duration) backoff.Config {
	if b.MaxRetries == 0 {
		b.MaxRetries = 2
	}
	if b.PerAttemptTimeout <= 0 {
		b.PerAttemptTimeout = attempt
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = 200 * time.Millisecond
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = 2 * time.Second
	}
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 10 * time.Second
	}
	return b
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka producer: brokers required")
	}
	return nil
}

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = c.ClientID
	sc.Version = sarama.V2_1_0_0

	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
		// idempotence is only valid with acks=all
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka producer: invalid RequiredAcks %q", c.RequiredAcks)
	}

	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.Timeout
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	switch strings.ToLower(c.Compression) {
	case "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("kafka producer: invalid Compression %q", c.Compression)
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return sc, nil
}

// -----------------------------------------------------------------------------
// Producer implementation
// -----------------------------------------------------------------------------

type syncProducer struct {
	prod       sarama.SyncProducer
	client     sarama.Client
	log        *logger.Logger
	backoffCfg backoff.Config
}

// NewProducer connects to the cluster with back-off and returns a
// traced sync producer.
func NewProducer(ctx context.Context, cfg Config, log *logger.Logger) (Producer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("kafka-producer")

	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		client sarama.Client
		prod   sarama.SyncProducer
	)
	connect := func(ctx context.Context) error {
		cl, err := sarama.NewClient(cfg.Brokers, sc)
		if err != nil {
			producerMetrics.ConnectErrors.Inc()
			return err
		}
		p, err := sarama.NewSyncProducerFromClient(cl)
		if err != nil {
			producerMetrics.ConnectErrors.Inc()
			_ = cl.Close()
			return err
		}
		client, prod = cl, p
		return nil
	}

	ctxConn, span := tracer.Start(ctx, "kafka.connect",
		trace.WithAttributes(attribute.StringSlice("brokers", cfg.Brokers)))
	defer span.End()
	if err := backoff.Execute(ctxConn, "kafka_connect", cfg.Backoff, log, connect); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("kafka producer: connect: %w", err)
	}

	log.Info("kafka producer ready", zap.Strings("brokers", cfg.Brokers))
	return &syncProducer{
		prod:       otelsarama.WrapSyncProducer(sc, prod),
		client:     client,
		log:        log,
		backoffCfg: cfg.Backoff,
	}, nil
}

// Publish sends one message, retrying with back-off.
func (k *syncProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	ctx, span := tracer.Start(ctx, "kafka.publish", trace.WithAttributes(attribute.String("topic", topic)))
	defer span.End()
	start := time.Now()

	send := func(context.Context) error {
		msg := &sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.ByteEncoder(key),
			Value: sarama.ByteEncoder(value),
		}
		_, _, err := k.prod.SendMessage(msg)
		return err
	}

	err := backoff.Execute(ctx, "kafka_publish", k.backoffCfg, k.log, send)
	producerMetrics.PublishLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		producerMetrics.PublishErrors.WithLabelValues(topic).Inc()
		span.RecordError(err)
		return fmt.Errorf("kafka producer: publish to %s: %w", topic, err)
	}

	producerMetrics.PublishSuccess.WithLabelValues(topic).Inc()
	k.log.Debug("publish succeeded", zap.String("topic", topic), zap.ByteString("key", key))
	return nil
}

// Ping refreshes client metadata.
func (k *syncProducer) Ping(ctx context.Context) error {
	_, span := tracer.Start(ctx, "kafka.ping")
	defer span.End()
	if k.client == nil {
		return nil
	}
	if err := k.client.RefreshMetadata(); err != nil {
		producerMetrics.PingErrors.Inc()
		span.RecordError(err)
		return err
	}
	return nil
}

// Close shuts down the producer and then the client.
func (k *syncProducer) Close() error {
	if err := k.prod.Close(); err != nil {
		k.log.Error("producer close failed", zap.Error(err))
		return err
	}
	if k.client != nil && !k.client.Closed() {
		if err := k.client.Close(); err != nil {
			k.log.Error("client close failed", zap.Error(err))
			return err
		}
	}
	k.log.Info("kafka producer closed")
	return nil
}
