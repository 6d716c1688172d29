package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sidrisov/payflow/pkg/logging"
	"github.com/sidrisov/payflow/pkg/telemetry"
)

// Balance is a formatted wallet balance for one token.
type Balance struct {
	Formatted string          `json:"formatted"`
	Symbol    string          `json:"symbol"`
	Value     decimal.Decimal `json:"value"`
}

// BalanceClient fetches wallet balances from the balance service.
type BalanceClient struct {
	http    *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewBalanceClient creates a balance client.
func NewBalanceClient(baseURL string) *BalanceClient {
	return &BalanceClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		logger:  logging.WithComponent("balance-client"),
	}
}

// Balance returns the wallet's balance of the given token on a chain.
func (c *BalanceClient) Balance(ctx context.Context, wallet string, chainID int64, token string) (*Balance, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.balance")
	defer span.End()

	url := fmt.Sprintf("%s?wallet=%s&chain=%d&token=%s", c.baseURL, wallet, chainID, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("balance lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("balance service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var balance Balance
	if err := json.Unmarshal(body, &balance); err != nil {
		return nil, fmt.Errorf("unmarshal balance: %w", err)
	}
	return &balance, nil
}
