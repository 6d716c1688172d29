package farcaster

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sidrisov/payflow/pkg/config"
	"github.com/sidrisov/payflow/pkg/logging"
	"github.com/sidrisov/payflow/pkg/telemetry"
)

// ErrInvalidAction is returned when an event is syntactically valid but
// fails signature validation.
var ErrInvalidAction = errors.New("frame action failed validation")

const (
	requestTimeout = 15 * time.Second
	initialBackoff = 500 * time.Millisecond
)

// Client wraps the Farcaster API used for event validation, identity
// resolution and content lookups.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	logger     *zap.Logger
}

// New creates a new Farcaster client
func New(cfg *config.FarcasterConfig) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("farcaster_api_url is required")
	}

	logger := logging.WithComponent("farcaster-client")

	client := &Client{
		http:       &http.Client{Timeout: requestTimeout},
		baseURL:    cfg.APIURL,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}

	logger.Info("Farcaster client initialized", zap.String("url", cfg.APIURL))

	return client, nil
}

// ValidateFrameAction submits the raw signed event for signature validation
// and returns the normalized action. Transport failures are retried a
// bounded number of times with exponential backoff; an event that fails
// validation returns ErrInvalidAction and is never retried.
func (c *Client) ValidateFrameAction(ctx context.Context, raw []byte) (*ValidatedAction, error) {
	ctx, span := telemetry.StartSpan(ctx, "farcaster.validate_frame_action")
	defer span.End()

	req := map[string]interface{}{
		"message_bytes_in_hex": hex.EncodeToString(raw),
	}

	var resp struct {
		Valid  bool `json:"valid"`
		Action struct {
			Interactor struct {
				FID           int64    `json:"fid"`
				Username      string   `json:"username"`
				Verifications []string `json:"verifications"`
			} `json:"interactor"`
			TappedButton struct {
				Index int `json:"index"`
			} `json:"tapped_button"`
			Input struct {
				Text string `json:"text"`
			} `json:"input"`
			State struct {
				Serialized string `json:"serialized"`
			} `json:"state"`
			Cast struct {
				Hash string `json:"hash"`
				FID  int64  `json:"fid"`
			} `json:"cast"`
			Transaction struct {
				Hash string `json:"hash"`
			} `json:"transaction"`
			Signer struct {
				Client string `json:"client"`
			} `json:"signer"`
		} `json:"action"`
	}

	if err := c.post(ctx, "/v2/farcaster/frame/validate", req, &resp); err != nil {
		return nil, fmt.Errorf("frame validation call failed: %w", err)
	}

	if !resp.Valid {
		return nil, ErrInvalidAction
	}

	return &ValidatedAction{
		Interactor: Identity{
			FID:      resp.Action.Interactor.FID,
			Username: resp.Action.Interactor.Username,
		},
		InteractorAddresses: resp.Action.Interactor.Verifications,
		TappedButton:        resp.Action.TappedButton.Index,
		Input:               resp.Action.Input.Text,
		State:               resp.Action.State.Serialized,
		CastHash:            resp.Action.Cast.Hash,
		CastAuthorFID:       resp.Action.Cast.FID,
		TxHash:              resp.Action.Transaction.Hash,
		Client:              resp.Action.Signer.Client,
	}, nil
}

// CastByHash fetches a single cast snapshot.
func (c *Client) CastByHash(ctx context.Context, hash string) (*Cast, error) {
	ctx, span := telemetry.StartSpan(ctx, "farcaster.cast_by_hash")
	defer span.End()

	var resp struct {
		Cast Cast `json:"cast"`
	}
	path := fmt.Sprintf("/v2/farcaster/cast?identifier=%s&type=hash", hash)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to get cast %s: %w", hash, err)
	}
	return &resp.Cast, nil
}

// CastAncestors fetches up to limit ancestors of a cast, nearest first.
func (c *Client) CastAncestors(ctx context.Context, hash string, limit int) ([]Cast, error) {
	ctx, span := telemetry.StartSpan(ctx, "farcaster.cast_ancestors")
	defer span.End()

	var resp struct {
		Casts []Cast `json:"casts"`
	}
	path := fmt.Sprintf("/v2/farcaster/cast/ancestors?identifier=%s&limit=%d", hash, limit)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to get ancestors of %s: %w", hash, err)
	}
	return resp.Casts, nil
}

// UserByFID resolves a social identity to its profile and verified
// addresses.
func (c *Client) UserByFID(ctx context.Context, fid int64) (*User, error) {
	ctx, span := telemetry.StartSpan(ctx, "farcaster.user_by_fid")
	defer span.End()

	var resp struct {
		Users []User `json:"users"`
	}
	path := fmt.Sprintf("/v2/farcaster/user/bulk?fids=%d", fid)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", fid, err)
	}
	if len(resp.Users) == 0 {
		return nil, nil
	}
	return &resp.Users[0], nil
}

// UserByUsername resolves a username to its profile.
func (c *Client) UserByUsername(ctx context.Context, username string) (*User, error) {
	ctx, span := telemetry.StartSpan(ctx, "farcaster.user_by_username")
	defer span.End()

	var resp struct {
		User User `json:"user"`
	}
	path := fmt.Sprintf("/v1/farcaster/user-by-username?username=%s", username)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", username, err)
	}
	if resp.User.FID == 0 {
		return nil, nil
	}
	return &resp.User, nil
}

// HighestScoredAddress picks the best verified address for payments out of
// the given set, as ranked by the identity service.
func (c *Client) HighestScoredAddress(ctx context.Context, addresses []string) (string, error) {
	if len(addresses) == 0 {
		return "", fmt.Errorf("no addresses provided")
	}

	ctx, span := telemetry.StartSpan(ctx, "farcaster.highest_scored_address")
	defer span.End()

	req := map[string]interface{}{"addresses": addresses}
	var resp struct {
		Address string `json:"address"`
	}
	if err := c.post(ctx, "/v1/identity/highest-scored", req, &resp); err != nil {
		return "", fmt.Errorf("address scoring failed: %w", err)
	}
	if resp.Address == "" {
		// Service has no ranking: fall back to the first verified address.
		return addresses[0], nil
	}
	return resp.Address, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// do issues one API call with bounded retry on transport failures and
// retryable status codes.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := initialBackoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("api_key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server returned %d", resp.StatusCode)
			c.logger.Warn("Retryable API error",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("exhausted %d attempts: %w", c.maxRetries, lastErr)
}
