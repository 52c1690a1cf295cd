// pkg/coinbase/products.go
package coinbase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/YaganovValera/candle-tracker/pkg/backoff"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

const productsPath = "/api/v3/brokerage/market/products"

var tracer = otel.Tracer("candle-tracker/pkg/coinbase")

// Product is the subset of product metadata the tracker cares about.
type Product struct {
	ProductID       string
	BaseCurrencyID  string
	QuoteCurrencyID string
	Status          string
	TradingDisabled bool
}

// ListProductsQuery narrows the REST listing.
type ListProductsQuery struct {
	ProductType string
	Limit       int
}

// ProductsClient lists tradable products over the public REST API.
type ProductsClient struct {
	cfg  ProductsConfig
	http *http.Client
	log  *logger.Logger
}

// NewProductsClient builds a client. A nil httpClient gets one with cfg.Timeout.
func NewProductsClient(cfg ProductsConfig, httpClient *http.Client, log *logger.Logger) (*ProductsClient, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &ProductsClient{cfg: cfg, http: httpClient, log: log.Named("coinbase-rest")}, nil
}

// ListProducts fetches the product list, retrying transient failures.
func (c *ProductsClient) ListProducts(ctx context.Context, q ListProductsQuery) ([]Product, error) {
	ctx, span := tracer.Start(ctx, "coinbase.list_products")
	defer span.End()

	if q.ProductType == "" {
		q.ProductType = c.cfg.ProductType
	}

	var products []Product
	err := backoff.Execute(ctx, "coinbase_list_products", c.cfg.BackoffConfig, c.log,
		func(ctx context.Context) error {
			body, err := c.get(ctx, q)
			if err != nil {
				return err
			}
			products, err = parseProducts(body)
			if err != nil {
				return backoff.Permanent(err)
			}
			return nil
		})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("coinbase: list products: %w", err)
	}
	span.SetAttributes(attribute.Int("products.count", len(products)))
	return products, nil
}

func (c *ProductsClient) get(ctx context.Context, q ListProductsQuery) ([]byte, error) {
	u, err := url.Parse(c.cfg.RestURL + productsPath)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	params := u.Query()
	if q.ProductType != "" {
		params.Set("product_type", q.ProductType)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		c.log.Warn("products request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", gjson.GetBytes(body, "message").String()),
		)
		return nil, backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return body, nil
}

func parseProducts(body []byte) ([]Product, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid products payload")
	}
	list := gjson.GetBytes(body, "products")
	if !list.IsArray() {
		return nil, fmt.Errorf("products payload has no products array")
	}

	out := make([]Product, 0, len(list.Array()))
	list.ForEach(func(_, p gjson.Result) bool {
		out = append(out, Product{
			ProductID:       p.Get("product_id").String(),
			BaseCurrencyID:  p.Get("base_currency_id").String(),
			QuoteCurrencyID: p.Get("quote_currency_id").String(),
			Status:          p.Get("status").String(),
			TradingDisabled: p.Get("trading_disabled").Bool(),
		})
		return true
	})
	return out, nil
}

// FilterByQuote returns the ids of products quoted in quote, in input order.
func FilterByQuote(products []Product, quote string) []string {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		if p.QuoteCurrencyID == quote {
			ids = append(ids, p.ProductID)
		}
	}
	return ids
}
