// Package oracle provides token price lookups against the external price
// feed, with short-lived caching.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sidrisov/payflow/internal/cache"
	"github.com/sidrisov/payflow/pkg/logging"
	"github.com/sidrisov/payflow/pkg/telemetry"
)

const priceCacheTTL = 60 * time.Second

// Client fetches USD token prices.
type Client struct {
	http    *http.Client
	baseURL string
	cache   *cache.Cache
	logger  *zap.Logger
}

// New creates a price oracle client. The cache may be nil.
func New(baseURL string, priceCache *cache.Cache) *Client {
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		cache:   priceCache,
		logger:  logging.WithComponent("price-oracle"),
	}
}

// Price returns the current USD price of one token unit.
func (c *Client) Price(ctx context.Context, token string) (decimal.Decimal, error) {
	ctx, span := telemetry.StartSpan(ctx, "oracle.price")
	defer span.End()

	cacheKey := "price:" + token
	if cached, err := c.cache.Get(cacheKey); err == nil {
		if price, err := decimal.NewFromString(cached); err == nil {
			return price, nil
		}
	}

	url := fmt.Sprintf("%s?token=%s", c.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read response: %w", err)
	}

	var payload struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("unmarshal price: %w", err)
	}
	if payload.Price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("price service returned non-positive price for %s", token)
	}

	if err := c.cache.Set(cacheKey, payload.Price.String(), priceCacheTTL); err != nil && err != cache.ErrCacheDisabled {
		c.logger.Warn("Failed to cache price", zap.String("token", token), zap.Error(err))
	}

	return payload.Price, nil
}
