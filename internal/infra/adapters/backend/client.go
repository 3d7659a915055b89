package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fitness-payments-bot/internal/config"
	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/ports/adapter"
	"fitness-payments-bot/internal/infra/metrics"

	"github.com/shopspring/decimal"
)

var _ adapter.BackendLedger = (*Client)(nil)

// Client calls the fitness backend REST API with the user's bearer token.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(cfg config.BackendConfig) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) GetBalance(ctx context.Context, token string) (adapter.Balance, error) {
	var out adapter.Balance
	err := c.call(ctx, "balance", http.MethodGet, "/api/lw-coin/balance", token, nil, &out)
	return out, err
}

func (c *Client) GrantSubscription(ctx context.Context, token string, coins int64, days int, price decimal.Decimal) (adapter.SubscriptionGrant, error) {
	in := struct {
		CoinsAmount  int64       `json:"coinsAmount"`
		DurationDays int         `json:"durationDays"`
		Price        json.Number `json:"price"`
	}{coins, days, json.Number(price.String())}
	var out adapter.SubscriptionGrant
	if err := c.call(ctx, "grant_subscription", http.MethodPost, "/api/lw-coin/purchase-subscription", token, in, &out); err != nil {
		return out, err
	}
	if !out.Success {
		return out, &domain.HTTPError{Service: "backend", StatusCode: http.StatusOK, Kind: domain.ErrBackendRejected, Body: "success=false"}
	}
	return out, nil
}

func (c *Client) GrantBalance(ctx context.Context, token string, newTotal int64, source string) (adapter.BalanceResult, error) {
	if newTotal < 0 {
		return adapter.BalanceResult{}, domain.ErrInvalidArgument
	}
	in := struct {
		Amount int64  `json:"amount"`
		Source string `json:"source"`
	}{newTotal, source}
	var out adapter.BalanceResult
	if err := c.call(ctx, "set_balance", http.MethodPost, "/api/lw-coin/set-balance", token, in, &out); err != nil {
		return out, err
	}
	if !out.Success {
		return out, &domain.HTTPError{Service: "backend", StatusCode: http.StatusOK, Kind: domain.ErrBackendRejected, Body: "success=false"}
	}
	return out, nil
}

func (c *Client) SendVerificationCode(ctx context.Context, email string) error {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.call(ctx, "send_code", http.MethodPost, "/api/auth/send-code", "", map[string]string{"email": email}, &out); err != nil {
		return err
	}
	if !out.Success {
		return &domain.HTTPError{Service: "backend", StatusCode: http.StatusOK, Kind: domain.ErrBackendRejected, Body: "success=false"}
	}
	return nil
}

func (c *Client) ConfirmEmail(ctx context.Context, email, code string) (adapter.AuthResult, error) {
	var out adapter.AuthResult
	if err := c.call(ctx, "confirm_email", http.MethodPost, "/api/auth/confirm-email", "", map[string]string{"email": email, "code": code}, &out); err != nil {
		return out, err
	}
	if out.AccessToken == "" {
		return out, &domain.HTTPError{Service: "backend", StatusCode: http.StatusOK, Kind: domain.ErrBackendRejected, Body: "missing accessToken"}
	}
	return out, nil
}

func (c *Client) GetUserStats(ctx context.Context, token string) (adapter.UserStats, error) {
	var out adapter.UserStats
	err := c.call(ctx, "user_stats", http.MethodGet, "/api/stats/user", token, nil, &out)
	return out, err
}

// call performs one JSON round trip and classifies failures into
// ErrBackendUnavailable (transport/5xx) and ErrBackendRejected (4xx, bad body).
func (c *Client) call(ctx context.Context, op, method, path, token string, in, out any) error {
	start := time.Now()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveUpstream("backend", op, "unavailable", time.Since(start))
		return &domain.HTTPError{Service: "backend", Kind: domain.ErrBackendUnavailable, Cause: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		kind, result := domain.ErrBackendRejected, "rejected"
		if resp.StatusCode >= 500 {
			kind, result = domain.ErrBackendUnavailable, "unavailable"
		}
		metrics.ObserveUpstream("backend", op, result, time.Since(start))
		return &domain.HTTPError{Service: "backend", StatusCode: resp.StatusCode, Body: errorMessage(raw), Kind: kind}
	}
	metrics.ObserveUpstream("backend", op, "ok", time.Since(start))

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.HTTPError{Service: "backend", StatusCode: resp.StatusCode, Body: clip(raw), Kind: domain.ErrBackendRejected,
			Cause: fmt.Errorf("decode %s: %w", op, err)}
	}
	return nil
}

// errorMessage prefers the backend's {"error": "..."} field over the raw body.
func errorMessage(raw []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return clip(raw)
}

func clip(b []byte) string {
	const max = 512
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

// IsAuthError reports whether the backend refused the stored token.
func IsAuthError(err error) bool {
	var he *domain.HTTPError
	return errors.As(err, &he) && (he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden)
}
