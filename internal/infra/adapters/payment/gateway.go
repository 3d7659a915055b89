package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
)

var _ adapter.PaymentGateway = (*HTTPGateway)(nil)

const maxBodyLog = 512

// HTTPGateway talks to a hosted-checkout provider over JSON/HTTP. Paths, the
// API-key header and the status method come from config, so one client covers
// providers that differ only in request shape.
type HTTPGateway struct {
	name         string
	baseURL      string
	apiKey       string
	apiKeyHeader string
	shopID       string
	createPath   string
	statusPath   string
	statusMethod string
	secret       []byte
	returnURL    string
	client       *http.Client
}

func NewHTTPGateway(cfg config.GatewayConfig) (*HTTPGateway, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway base url: %w", err)
	}
	if !strings.Contains(cfg.StatusPath, "{ref}") {
		return nil, errors.New("gateway status_path must contain {ref}")
	}
	method := strings.ToUpper(cfg.StatusMethod)
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported gateway status_method %q", cfg.StatusMethod)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{
		name:         cfg.Name,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		shopID:       cfg.ShopID,
		createPath:   cfg.CreatePath,
		statusPath:   cfg.StatusPath,
		statusMethod: method,
		secret:       []byte(cfg.WebhookSecret),
		returnURL:    cfg.ReturnURL,
		client:       &http.Client{Timeout: timeout},
	}, nil
}

func (g *HTTPGateway) Name() string { return g.name }

type createBody struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Description string `json:"description,omitempty"`
	BuyerRef    string `json:"buyer_ref,omitempty"`
	ShopID      string `json:"shop_id,omitempty"`
	ReturnURL   string `json:"return_url,omitempty"`
}

// createResp accepts both field spellings seen across providers.
type createResp struct {
	URL        string `json:"url"`
	PaymentURL string `json:"payment_url"`
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
}

func (g *HTTPGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (adapter.Checkout, error) {
	body, _ := json.Marshal(createBody{
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		OrderID:     req.OrderID,
		Description: req.Description,
		BuyerRef:    req.BuyerRef,
		ShopID:      g.shopID,
		ReturnURL:   g.returnURL,
	})
	raw, err := g.do(ctx, "create", http.MethodPost, g.createPath, body)
	if err != nil {
		return adapter.Checkout{}, err
	}
	var out createResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return adapter.Checkout{}, g.reject(http.StatusOK, raw, fmt.Errorf("decode create response: %w", err))
	}
	co := adapter.Checkout{URL: firstNonEmpty(out.URL, out.PaymentURL), ProviderRef: firstNonEmpty(out.ID, out.OrderID)}
	if co.URL == "" {
		return adapter.Checkout{}, g.reject(http.StatusOK, raw, errors.New("response carries no checkout url"))
	}
	if co.ProviderRef == "" {
		co.ProviderRef = req.OrderID
	}
	return co, nil
}

type statusResp struct {
	Status  string `json:"status"`
	Payment *struct {
		Status string `json:"status"`
	} `json:"payment"`
}

func (g *HTTPGateway) GetStatus(ctx context.Context, providerRef string) (adapter.GatewayStatus, error) {
	if providerRef == "" {
		return adapter.GatewayUnknown, domain.ErrInvalidArgument
	}
	path := strings.ReplaceAll(g.statusPath, "{ref}", url.PathEscape(providerRef))
	var body []byte
	if g.statusMethod == http.MethodPost {
		body, _ = json.Marshal(map[string]string{"id": providerRef})
	}
	raw, err := g.do(ctx, "status", g.statusMethod, path, body)
	if err != nil {
		return adapter.GatewayUnknown, err
	}
	var out statusResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return adapter.GatewayUnknown, fmt.Errorf("decode status response: %w", err)
	}
	s := out.Status
	if s == "" && out.Payment != nil {
		s = out.Payment.Status
	}
	st := MapStatus(s)
	if st == adapter.GatewayUnknown {
		return st, fmt.Errorf("unrecognised gateway status %q", s)
	}
	return st, nil
}

// MapStatus folds provider vocabulary onto GatewayStatus.
func MapStatus(s string) adapter.GatewayStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "success", "succeeded", "completed", "confirmed":
		return adapter.GatewayPaid
	case "pending", "created", "processing", "waiting", "in_progress":
		return adapter.GatewayPending
	case "failed", "canceled", "cancelled", "declined", "rejected", "expired":
		return adapter.GatewayFailed
	default:
		return adapter.GatewayUnknown
	}
}

// VerifySignature checks a hex HMAC-SHA256 of the raw body.
func (g *HTTPGateway) VerifySignature(signature string, body []byte) bool {
	return VerifyHMAC(g.secret, signature, body)
}

func VerifyHMAC(secret []byte, signature string, body []byte) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign is the counterpart of VerifyHMAC; used by tests and the dev gateway.
func Sign(secret []byte, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *HTTPGateway) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	start := time.Now()
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set(g.apiKeyHeader, g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.ObserveUpstream("gateway", op, "unavailable", time.Since(start))
		return nil, &domain.HTTPError{Service: "gateway", Kind: domain.ErrGatewayUnavailable, Cause: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 500:
		metrics.ObserveUpstream("gateway", op, "unavailable", time.Since(start))
		return nil, &domain.HTTPError{Service: "gateway", StatusCode: resp.StatusCode, Body: clip(raw), Kind: domain.ErrGatewayUnavailable}
	case resp.StatusCode >= 400:
		metrics.ObserveUpstream("gateway", op, "rejected", time.Since(start))
		return nil, g.reject(resp.StatusCode, raw, nil)
	}
	metrics.ObserveUpstream("gateway", op, "ok", time.Since(start))
	return raw, nil
}

func (g *HTTPGateway) reject(code int, raw []byte, cause error) error {
	return &domain.HTTPError{Service: "gateway", StatusCode: code, Body: clip(raw), Kind: domain.ErrGatewayRejected, Cause: cause}
}

func clip(b []byte) string {
	if len(b) > maxBodyLog {
		b = b[:maxBodyLog]
	}
	return string(b)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
