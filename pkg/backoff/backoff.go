// pkg/backoff/backoff.go
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var metrics = struct {
	Retries   *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Successes *prometheus.CounterVec
	Delays    *prometheus.HistogramVec
}{
	Retries: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candle_tracker", Subsystem: "backoff", Name: "retries_total",
			Help: "Number of back-off retry attempts",
		},
		[]string{"operation"},
	),
	Failures: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candle_tracker", Subsystem: "backoff", Name: "failures_total",
			Help: "Number of operations that gave up",
		},
		[]string{"operation"},
	),
	Successes: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candle_tracker", Subsystem: "backoff", Name: "successes_total",
			Help: "Number of operations that eventually succeeded",
		},
		[]string{"operation"},
	),
	Delays: promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "candle_tracker", Subsystem: "backoff", Name: "retry_delay_seconds",
			Help:    "Histogram of retry delays (seconds)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	),
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config contains tunables for exponential back-off.
// Zero values mean "use the default".
type Config struct {
	// InitialInterval is the first delay before retrying.
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval" json:"initial_interval"`

	// RandomizationFactor adds jitter to each delay, 0 ≤ f ≤ 1.
	RandomizationFactor float64 `mapstructure:"randomization_factor" yaml:"randomization_factor" json:"randomization_factor"`

	// Multiplier grows the delay between attempts.
	Multiplier float64 `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`

	// MaxInterval caps each individual delay.
	MaxInterval time.Duration `mapstructure:"max_interval" yaml:"max_interval" json:"max_interval"`

	// MaxElapsedTime bounds the whole retry loop. Zero → unlimited.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time" json:"max_elapsed_time"`

	// MaxRetries bounds the number of retries after the first attempt. Zero → unlimited.
	MaxRetries uint64 `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`

	// PerAttemptTimeout limits each call of fn. Zero → no limit.
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout" yaml:"per_attempt_timeout" json:"per_attempt_timeout"`
}

// ApplyDefaults fills zero fields in place.
func (c *Config) ApplyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.5
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

// Validate performs sanity checks on a defaulted config.
func (c Config) Validate() error {
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		return fmt.Errorf("backoff: randomization_factor must be in [0,1]")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("backoff: multiplier must be >= 1")
	}
	if c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("backoff: max_interval must be >= initial_interval")
	}
	return nil
}

// RetryableFunc is a unit of work that may be re-executed.
type RetryableFunc func(ctx context.Context) error

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrMaxRetries is returned when fn was still failing after the
// strategy gave up.
type ErrMaxRetries struct {
	Op       string
	Err      error
	Attempts int
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: %s: %d attempt(s) failed: %v", e.Op, e.Attempts, e.Err)
}

func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Permanent marks an error as non-retryable. Execute returns it unwrapped.
func Permanent(err error) error { return backoff.Permanent(err) }

// -----------------------------------------------------------------------------
// Core
// -----------------------------------------------------------------------------

// Execute runs fn until it succeeds, returns a Permanent error, ctx ends
// or the strategy gives up. op labels metrics and logs.
func Execute(ctx context.Context, op string, cfg Config, log *logger.Logger, fn RetryableFunc) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("backoff: invalid config: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.RandomizationFactor = cfg.RandomizationFactor
	bo.Multiplier = cfg.Multiplier
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = cfg.MaxElapsedTime

	var strategy backoff.BackOff = bo
	if cfg.MaxRetries > 0 {
		strategy = backoff.WithMaxRetries(strategy, cfg.MaxRetries)
	}
	strategy = backoff.WithContext(strategy, ctx)

	var (
		attempts  int
		permanent bool
	)
	operation := func() error {
		attempts++
		var err error
		if cfg.PerAttemptTimeout > 0 {
			atCtx, cancel := context.WithTimeout(ctx, cfg.PerAttemptTimeout)
			err = fn(atCtx)
			cancel()
		} else {
			err = fn(ctx)
		}
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			permanent = true
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		metrics.Retries.WithLabelValues(op).Inc()
		metrics.Delays.WithLabelValues(op).Observe(delay.Seconds())
		log.Warn("back-off retry",
			zap.String("operation", op),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, strategy, notify)
	if err == nil {
		metrics.Successes.WithLabelValues(op).Inc()
		return nil
	}

	metrics.Failures.WithLabelValues(op).Inc()
	if permanent {
		log.Error("back-off permanent failure",
			zap.String("operation", op),
			zap.Error(err),
		)
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	log.Error("back-off give-up",
		zap.String("operation", op),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return &ErrMaxRetries{Op: op, Err: err, Attempts: attempts}
}
