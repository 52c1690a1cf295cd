// pkg/coinbase/config.go
package coinbase

import (
	"fmt"
	"strings"
	"time"

	"github.com/YaganovValera/candle-tracker/pkg/backoff"
)

const (
	// DefaultWSURL is the public Advanced Trade market data endpoint.
	DefaultWSURL = "wss://advanced-trade-ws.coinbase.com"
	// DefaultRestURL is the Advanced Trade REST base URL.
	DefaultRestURL = "https://api.coinbase.com"

	// MaxProductsPerSubscribe bounds the product list of a single subscribe frame.
	MaxProductsPerSubscribe = 100
)

// Channel names used by the Advanced Trade feed.
const (
	ChannelCandles       = "candles"
	ChannelHeartbeats    = "heartbeats"
	ChannelSubscriptions = "subscriptions"
)

// Config holds WebSocket settings for the Coinbase connector.
type Config struct {
	URL           string         `mapstructure:"ws_url" yaml:"ws_url" json:"ws_url"`
	Channels      []string       `mapstructure:"channels" yaml:"channels" json:"channels"`
	ProductIDs    []string       `mapstructure:"products" yaml:"products" json:"products"`
	BufferSize    int            `mapstructure:"buffer_size" yaml:"buffer_size" json:"buffer_size"`
	ReadTimeout   time.Duration  `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout  time.Duration  `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	BackoffConfig backoff.Config `mapstructure:"backoff" yaml:"backoff" json:"backoff"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = DefaultWSURL
	}
	if len(c.Channels) == 0 {
		c.Channels = []string{ChannelHeartbeats, ChannelCandles}
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	c.BackoffConfig.ApplyDefaults()
}

// Validate checks required fields. Call after ApplyDefaults.
func (c Config) Validate() error {
	var errs []string
	if c.URL == "" {
		errs = append(errs, "ws_url is required")
	} else if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		errs = append(errs, fmt.Sprintf("ws_url %q must use ws:// or wss://", c.URL))
	}
	if len(c.Channels) == 0 {
		errs = append(errs, "at least one channel is required")
	}
	for _, ch := range c.Channels {
		if strings.TrimSpace(ch) == "" {
			errs = append(errs, "channel names must not be empty")
			break
		}
	}
	if c.BufferSize <= 0 {
		errs = append(errs, "buffer_size must be > 0")
	}
	if err := c.BackoffConfig.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("coinbase: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ProductsConfig configures the REST product discovery client.
type ProductsConfig struct {
	RestURL       string         `mapstructure:"rest_url" yaml:"rest_url" json:"rest_url"`
	QuoteCurrency string         `mapstructure:"quote_currency" yaml:"quote_currency" json:"quote_currency"`
	ProductType   string         `mapstructure:"product_type" yaml:"product_type" json:"product_type"`
	Timeout       time.Duration  `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	BackoffConfig backoff.Config `mapstructure:"backoff" yaml:"backoff" json:"backoff"`
}

// ApplyDefaults fills unset fields.
func (c *ProductsConfig) ApplyDefaults() {
	if c.RestURL == "" {
		c.RestURL = DefaultRestURL
	}
	if c.QuoteCurrency == "" {
		c.QuoteCurrency = "USD"
	}
	if c.ProductType == "" {
		c.ProductType = "SPOT"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BackoffConfig.MaxRetries == 0 {
		c.BackoffConfig.MaxRetries = 3
	}
	c.BackoffConfig.ApplyDefaults()
}

// Validate checks required fields. Call after ApplyDefaults.
func (c ProductsConfig) Validate() error {
	if !strings.HasPrefix(c.RestURL, "http://") && !strings.HasPrefix(c.RestURL, "https://") {
		return fmt.Errorf("coinbase: rest_url %q must use http:// or https://", c.RestURL)
	}
	if c.QuoteCurrency == "" {
		return fmt.Errorf("coinbase: quote_currency is required")
	}
	if err := c.BackoffConfig.Validate(); err != nil {
		return fmt.Errorf("coinbase: products: %w", err)
	}
	return nil
}
