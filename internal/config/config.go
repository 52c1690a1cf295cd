// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/YaganovValera/candle-tracker/internal/sink/kafkasink"
	"github.com/YaganovValera/candle-tracker/pkg/coinbase"
	"github.com/YaganovValera/candle-tracker/pkg/httpserver"
	"github.com/YaganovValera/candle-tracker/pkg/kafka"
	"github.com/YaganovValera/candle-tracker/pkg/redis"
	"github.com/YaganovValera/candle-tracker/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. TRACKER_LOGGING_LEVEL.
const EnvPrefix = "TRACKER"

/*
   --------------------------------------------------------------------------
   STRUCTURES
   --------------------------------------------------------------------------
*/

// Config holds every setting of the service.
type Config struct {
	ServiceName    string            `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	ServiceVersion string            `mapstructure:"service_version" yaml:"service_version" json:"service_version"`
	Coinbase       CoinbaseConfig    `mapstructure:"coinbase" yaml:"coinbase" json:"coinbase"`
	Kafka          KafkaConfig       `mapstructure:"kafka" yaml:"kafka" json:"kafka"`
	Redis          RedisConfig       `mapstructure:"redis" yaml:"redis" json:"redis"`
	Telemetry      telemetry.Config  `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
	Logging        Logging           `mapstructure:"logging" yaml:"logging" json:"logging"`
	HTTP           httpserver.Config `mapstructure:"http" yaml:"http" json:"http"`
}

// CoinbaseConfig is the stream connector plus product discovery. A
// non-empty products list skips discovery.
type CoinbaseConfig struct {
	coinbase.Config `mapstructure:",squash" yaml:",inline"`
	Discovery       coinbase.ProductsConfig `mapstructure:"discovery" yaml:"discovery" json:"discovery"`
}

// KafkaConfig enables publication of completed candles.
type KafkaConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	kafka.Config `mapstructure:",squash" yaml:",inline"`
	Topic        string `mapstructure:"topic" yaml:"topic" json:"topic"`
	ErrorsTopic  string `mapstructure:"errors_topic" yaml:"errors_topic" json:"errors_topic"`
}

// Sink returns the topic selection of the Kafka sink.
func (k KafkaConfig) Sink() kafkasink.Config {
	return kafkasink.Config{Topic: k.Topic, ErrorsTopic: k.ErrorsTopic}
}

// RedisConfig enables the latest-completed-candle cache.
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	KeyPrefix    string `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`
	redis.Config `mapstructure:",squash" yaml:",inline"`
}

// Logging holds logger settings.
type Logging struct {
	Level   string `mapstructure:"level" yaml:"level" json:"level"`
	DevMode bool   `mapstructure:"dev_mode" yaml:"dev_mode" json:"dev_mode"`
}

/*
   --------------------------------------------------------------------------
   LOADER
   --------------------------------------------------------------------------
*/

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("service_name", "candle-tracker")
	v.SetDefault("service_version", "v1.0.0")

	// Coinbase stream
	v.SetDefault("coinbase.ws_url", coinbase.DefaultWSURL)
	v.SetDefault("coinbase.channels", []string{coinbase.ChannelHeartbeats, coinbase.ChannelCandles})
	v.SetDefault("coinbase.products", []string{})
	v.SetDefault("coinbase.buffer_size", 256)
	v.SetDefault("coinbase.read_timeout", "30s")
	v.SetDefault("coinbase.write_timeout", "5s")
	v.SetDefault("coinbase.backoff.initial_interval", "1s")
	v.SetDefault("coinbase.backoff.max_interval", "30s")
	v.SetDefault("coinbase.backoff.multiplier", 2.0)
	v.SetDefault("coinbase.backoff.randomization_factor", 0.5)

	// Product discovery
	v.SetDefault("coinbase.discovery.rest_url", coinbase.DefaultRestURL)
	v.SetDefault("coinbase.discovery.quote_currency", "USD")
	v.SetDefault("coinbase.discovery.product_type", "SPOT")
	v.SetDefault("coinbase.discovery.timeout", "10s")
	v.SetDefault("coinbase.discovery.backoff.max_retries", 3)

	// Kafka
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.required_acks", "all")
	v.SetDefault("kafka.timeout", "5s")
	v.SetDefault("kafka.compression", "none")
	v.SetDefault("kafka.topic", "candles.completed")
	v.SetDefault("kafka.errors_topic", "")
	v.SetDefault("kafka.backoff.max_retries", 2)
	v.SetDefault("kafka.backoff.per_attempt_timeout", "5s")
	v.SetDefault("kafka.backoff.max_elapsed_time", "10s")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.ttl", "24h")
	v.SetDefault("redis.key_prefix", "candle:last:")
	v.SetDefault("redis.backoff.max_retries", 2)
	v.SetDefault("redis.backoff.per_attempt_timeout", "1s")
	v.SetDefault("redis.backoff.max_elapsed_time", "5s")

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otel_endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sampler_ratio", 1.0)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)

	// HTTP
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.healthz_path", "/healthz")
	v.SetDefault("http.readyz_path", "/readyz")

	return v
}

// Load reads defaults, then the YAML file at path (when non-empty), then
// TRACKER_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in defaults without file or env input.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  &cfg,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToBoolHook,
		),
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// stringToBoolHook parses "true"/"false" coming from the environment.
func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

// LoadDotenv loads KEY=VALUE pairs from path into the process
// environment. A missing file is not an error unless required is set.
func LoadDotenv(path string, required bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

/*
   --------------------------------------------------------------------------
   DEFAULT FILE
   --------------------------------------------------------------------------
*/

// Exists reports whether a file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteDefault writes the default configuration as YAML to path,
// creating parent directories. An existing file is never overwritten.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write config file: %w", err)
	}
	return f.Close()
}

/*
   --------------------------------------------------------------------------
   VALIDATION
   --------------------------------------------------------------------------
*/

// Validate checks the decoded configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}

	ws := c.Coinbase.Config
	ws.ApplyDefaults()
	if err := ws.Validate(); err != nil {
		return err
	}
	for _, id := range c.Coinbase.ProductIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("coinbase.products must not contain empty ids")
		}
	}
	disc := c.Coinbase.Discovery
	disc.ApplyDefaults()
	if err := disc.Validate(); err != nil {
		return err
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
		switch strings.ToLower(c.Kafka.RequiredAcks) {
		case "all", "leader", "none":
		default:
			return fmt.Errorf("kafka.required_acks must be one of [all, leader, none]")
		}
		switch strings.ToLower(c.Kafka.Compression) {
		case "none", "gzip", "snappy", "lz4", "zstd":
		default:
			return fmt.Errorf("kafka.compression must be one of [none, gzip, snappy, lz4, zstd]")
		}
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is enabled")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.otel_endpoint is required when telemetry is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	return validateHTTP(c.HTTP)
}

func validateHTTP(h httpserver.Config) error {
	if h.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	durations := map[string]time.Duration{
		"http.read_timeout":     h.ReadTimeout,
		"http.write_timeout":    h.WriteTimeout,
		"http.idle_timeout":     h.IdleTimeout,
		"http.shutdown_timeout": h.ShutdownTimeout,
	}
	for k, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", k)
		}
	}
	paths := map[string]string{
		"http.metrics_path": h.MetricsPath,
		"http.healthz_path": h.HealthzPath,
		"http.readyz_path":  h.ReadyzPath,
	}
	for k, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", k)
		}
	}
	return nil
}

/*
   --------------------------------------------------------------------------
   DEBUG PRINT
   --------------------------------------------------------------------------
*/

// Print writes the configuration as indented JSON, handy in dev mode.
func (c *Config) Print() {
	b, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println("Loaded configuration:\n", string(b))
}
