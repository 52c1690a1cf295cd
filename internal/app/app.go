// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/candle-tracker/internal/config"
	"github.com/YaganovValera/candle-tracker/internal/metrics"
	"github.com/YaganovValera/candle-tracker/internal/sink/kafkasink"
	"github.com/YaganovValera/candle-tracker/internal/sink/redissink"
	"github.com/YaganovValera/candle-tracker/internal/tracker"
	transport "github.com/YaganovValera/candle-tracker/internal/transport/coinbase"
	"github.com/YaganovValera/candle-tracker/pkg/coinbase"
	"github.com/YaganovValera/candle-tracker/pkg/httpserver"
	"github.com/YaganovValera/candle-tracker/pkg/kafka"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
	"github.com/YaganovValera/candle-tracker/pkg/redis"
	"github.com/YaganovValera/candle-tracker/pkg/telemetry"
)

const teardownTimeout = 5 * time.Second

var errStreamClosed = errors.New("coinbase stream closed")

// Run wires the tracker and blocks until ctx ends or a component fails.
// Completions are printed to stdout. Cancellation is not an error.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	return run(ctx, cfg, log, os.Stdout)
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, out io.Writer) error {
	metrics.Register()
	transport.RegisterMetrics(prometheus.DefaultRegisterer)

	sessionID := uuid.NewString()
	ctx = logger.ContextWithSessionID(ctx, sessionID)
	log.WithContext(ctx).Info("candle tracker starting",
		zap.String("service", cfg.ServiceName),
		zap.String("version", cfg.ServiceVersion),
	)

	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	cfg.Telemetry.InstanceID = sessionID
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownSafe(ctx, "telemetry", func() error {
		tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		return shutdownTracer(tctx)
	}, log)

	// Reporters: console always, sinks on demand.
	reporters := []tracker.Reporter{tracker.NewConsoleReporter(out)}
	var checks []httpserver.ReadyChecker

	if cfg.Kafka.Enabled {
		prod, err := kafka.NewProducer(ctx, cfg.Kafka.Config, log)
		if err != nil {
			return fmt.Errorf("kafka producer init: %w", err)
		}
		ks, err := kafkasink.New(prod, cfg.Kafka.Sink(), log)
		if err != nil {
			_ = prod.Close()
			return fmt.Errorf("kafka sink init: %w", err)
		}
		defer shutdownSafe(ctx, "kafka-sink", ks.Close, log)
		reporters = append(reporters, ks)
		checks = append(checks, ks.Ping)
	}

	if cfg.Redis.Enabled {
		cache, err := redis.New(ctx, cfg.Redis.Config, log)
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		rs := redissink.New(cache, cfg.Redis.KeyPrefix, log)
		defer shutdownSafe(ctx, "redis-sink", rs.Close, log)
		reporters = append(reporters, rs)
		checks = append(checks, rs.Ping)
	}

	products := cfg.Coinbase.ProductIDs
	if len(products) == 0 {
		products = discoverProducts(ctx, cfg.Coinbase.Discovery, log)
	}

	wsCfg := cfg.Coinbase.Config
	wsCfg.ProductIDs = products
	wsConn, err := coinbase.NewConnector(wsCfg, log)
	if err != nil {
		return fmt.Errorf("coinbase connector init: %w", err)
	}
	defer shutdownSafe(ctx, "ws-connector", wsConn.Close, log)

	streamReady := func(context.Context) error {
		if !wsConn.Connected() {
			return errors.New("coinbase stream not connected")
		}
		return nil
	}
	httpSrv, err := httpserver.New(cfg.HTTP, nil, log, append([]httpserver.ReadyChecker{streamReady}, checks...)...)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	session := tracker.NewSession(tracker.NewMultiReporter(reporters...), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Start(gctx) })
	g.Go(func() error {
		stream, err := transport.StreamWithMetrics(gctx, wsConn)
		if err != nil {
			return fmt.Errorf("coinbase stream: %w", err)
		}
		if err := session.Run(gctx, stream); err != nil {
			return err
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		return errStreamClosed
	})

	err = g.Wait()
	log.WithContext(ctx).Info("candle tracker stopped",
		zap.Uint64("processed", session.Processed()),
		zap.Int("tracked", session.Tracked()),
	)
	if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		return err
	}
	return nil
}

// discoverProducts lists the products quoted in the configured currency.
// Failures are logged and yield an empty list.
func discoverProducts(ctx context.Context, cfg coinbase.ProductsConfig, log *logger.Logger) []string {
	cfg.ApplyDefaults()
	l := log.WithContext(ctx)
	l.Info(fmt.Sprintf("Getting '*-%s' products.", cfg.QuoteCurrency))

	client, err := coinbase.NewProductsClient(cfg, nil, log)
	if err != nil {
		l.Error(fmt.Sprintf("Unable to get products: %v", err))
		return nil
	}
	list, err := client.ListProducts(ctx, coinbase.ListProductsQuery{})
	if err != nil {
		l.Error(fmt.Sprintf("Unable to get products: %v", err))
		return nil
	}
	ids := coinbase.FilterByQuote(list, cfg.QuoteCurrency)
	l.Info(fmt.Sprintf("Obtained %d products.", len(ids)))
	return ids
}

// shutdownSafe runs a Close/Shutdown call and logs the outcome.
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	l := log.WithContext(ctx)
	l.Info(name + ": shutting down")
	if err := fn(); err != nil {
		l.Error(name+": shutdown error", zap.Error(err))
		return
	}
	l.Info(name + ": shutdown complete")
}
