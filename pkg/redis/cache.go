// pkg/redis/cache.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/candle-tracker/pkg/backoff"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

var (
	redisMetrics = struct {
		Errors           *prometheus.CounterVec
		OperationLatency *prometheus.HistogramVec
	}{
		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "candle_tracker", Subsystem: "redis", Name: "errors_total",
			Help: "Failed Redis operations by command",
		}, []string{"op"}),
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "candle_tracker", Subsystem: "redis", Name: "operation_latency_seconds",
			Help:    "Latency of Redis operations including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	tracer = otel.Tracer("candle-tracker/pkg/redis")
)

// Config holds connection parameters.
type Config struct {
	URL     string         `mapstructure:"url" yaml:"url" json:"url"` // e.g. "redis://host:6379/0"
	TTL     time.Duration  `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	Backoff backoff.Config `mapstructure:"backoff" yaml:"backoff" json:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	// Set runs on the message path: keep a failing server from stalling it.
	if c.Backoff.MaxRetries == 0 {
		c.Backoff.MaxRetries = 2
	}
	if c.Backoff.PerAttemptTimeout <= 0 {
		c.Backoff.PerAttemptTimeout = time.Second
	}
	if c.Backoff.InitialInterval <= 0 {
		c.Backoff.InitialInterval = 100 * time.Millisecond
	}
	if c.Backoff.MaxInterval <= 0 {
		c.Backoff.MaxInterval = time.Second
	}
	if c.Backoff.MaxElapsedTime <= 0 {
		c.Backoff.MaxElapsedTime = 5 * time.Second
	}
}

func (c Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("redis: url required")
	}
	return nil
}

type cache struct {
	client     *goredis.Client
	ttl        time.Duration
	log        *logger.Logger
	backoffCfg backoff.Config
}

// New parses cfg.URL, pings the server with back-off and returns a Cache.
func New(ctx context.Context, cfg Config, log *logger.Logger) (Cache, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis")

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctxConn, span := tracer.Start(ctx, "redis.connect", trace.WithAttributes(attribute.String("addr", opts.Addr)))
	defer span.End()
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := backoff.Execute(ctxConn, "redis_connect", cfg.Backoff, log, ping); err != nil {
		span.RecordError(err)
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect: %w", err)
	}
	log.Info("redis: connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return &cache{client: client, ttl: cfg.TTL, log: log, backoffCfg: cfg.Backoff}, nil
}

func (r *cache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "redis.get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	var data []byte
	op := func(ctx context.Context) error {
		val, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return backoff.Permanent(ErrNotFound)
		}
		if err != nil {
			return err
		}
		data = val
		return nil
	}
	err := backoff.Execute(ctx, "redis_get", r.backoffCfg, r.log, op)
	redisMetrics.OperationLatency.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		redisMetrics.Errors.WithLabelValues("get").Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

func (r *cache) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := tracer.Start(ctx, "redis.set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	op := func(ctx context.Context) error {
		return r.client.Set(ctx, key, value, r.ttl).Err()
	}
	err := backoff.Execute(ctx, "redis_set", r.backoffCfg, r.log, op)
	redisMetrics.OperationLatency.WithLabelValues("set").Observe(time.Since(start).Seconds())
	if err != nil {
		redisMetrics.Errors.WithLabelValues("set").Inc()
		span.RecordError(err)
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (r *cache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		redisMetrics.Errors.WithLabelValues("ping").Inc()
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (r *cache) Close() error {
	r.log.Info("redis: closing")
	return r.client.Close()
}
