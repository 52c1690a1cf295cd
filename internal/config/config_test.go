// internal/config/config_test.go
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"

	"github.com/YaganovValera/candle-tracker/internal/config"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := config.Load("")
	assert.NoError(t, err)
	assert.Equal(t, "candle-tracker", cfg.ServiceName)
	assert.Equal(t, "wss://advanced-trade-ws.coinbase.com", cfg.Coinbase.URL)
	assert.Equal(t, []string{"heartbeats", "candles"}, cfg.Coinbase.Channels)
	assert.Equal(t, "USD", cfg.Coinbase.Discovery.QuoteCurrency)
	assert.Equal(t, 30*time.Second, cfg.Coinbase.ReadTimeout)
	assert.Equal(t, time.Second, cfg.Coinbase.BackoffConfig.InitialInterval)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "config", "config.yaml"))
	assert.NoError(t, err)
	// discovery runs only when no products are listed
	assert.Equal(t, 0, len(cfg.Coinbase.ProductIDs))
	assert.Equal(t, uint64(2), cfg.Kafka.Backoff.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Kafka.Backoff.PerAttemptTimeout)
	assert.Equal(t, uint64(2), cfg.Redis.Backoff.MaxRetries)
	assert.Equal(t, time.Second, cfg.Redis.Backoff.PerAttemptTimeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, "config.yaml", `
coinbase:
  products: [BTC-USD, ETH-USD]
  read_timeout: 45s
kafka:
  enabled: true
  brokers: [k1:9092, k2:9092]
  topic: completed
logging:
  level: debug
`)
	t.Setenv("TRACKER_LOGGING_DEV_MODE", "true")
	t.Setenv("TRACKER_KAFKA_COMPRESSION", "zstd")

	cfg, err := config.Load(path)
	assert.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cfg.Coinbase.ProductIDs)
	assert.Equal(t, 45*time.Second, cfg.Coinbase.ReadTimeout)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "zstd", cfg.Kafka.Compression)
	assert.Equal(t, "completed", cfg.Kafka.Sink().Topic)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.DevMode)
}

func TestLoad_EnvCommaSeparatedProducts(t *testing.T) {
	t.Setenv("TRACKER_COINBASE_PRODUCTS", "SOL-USD,ADA-USD")
	cfg, err := config.Load("")
	assert.NoError(t, err)
	assert.Equal(t, []string{"SOL-USD", "ADA-USD"}, cfg.Coinbase.ProductIDs)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad level":         "logging:\n  level: loud\n",
		"bad ws scheme":     "coinbase:\n  ws_url: http://example.com\n",
		"kafka no topic":    "kafka:\n  enabled: true\n  topic: \"\"\n",
		"kafka bad acks":    "kafka:\n  enabled: true\n  required_acks: some\n",
		"bad http path":     "http:\n  metrics_path: metrics\n",
		"empty product id":  "coinbase:\n  products: [\"\", BTC-USD]\n",
		"bad rest url":      "coinbase:\n  discovery:\n    rest_url: ftp://x\n",
		"telemetry no host": "telemetry:\n  enabled: true\n  otel_endpoint: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, "config.yaml", body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := config.Load(path)
	assert.Error(t, err)
	assert.False(t, config.Exists(path))
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	assert.NoError(t, config.WriteDefault(path))
	assert.True(t, config.Exists(path))

	cfg, err := config.Load(path)
	assert.NoError(t, err)
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("default file does not load back (-want +got):\n%s", diff)
	}

	// never overwrites
	assert.Error(t, config.WriteDefault(path))
}

func TestLoadDotenv(t *testing.T) {
	assert.NoError(t, config.LoadDotenv(filepath.Join(t.TempDir(), "missing.env"), false))
	assert.Error(t, config.LoadDotenv(filepath.Join(t.TempDir(), "missing.env"), true))

	path := writeFile(t, ".env", "TRACKER_HTTP_ADDR=:9191\n")
	t.Setenv("TRACKER_HTTP_ADDR", "")
	os.Unsetenv("TRACKER_HTTP_ADDR")
	assert.NoError(t, config.LoadDotenv(path, true))

	cfg, err := config.Load("")
	assert.NoError(t, err)
	assert.Equal(t, ":9191", cfg.HTTP.Addr)
}
