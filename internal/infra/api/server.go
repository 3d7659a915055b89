package api

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/infra/adapters/payment"
	"fitness-payments-bot/internal/infra/logging"
	"fitness-payments-bot/internal/infra/metrics"
	"fitness-payments-bot/internal/usecase"
)

const maxWebhookBody = 64 << 10

// CallbackHandler is the part of the payment engine the webhook needs.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, ev usecase.CallbackEvent) (usecase.StatusReport, error)
}

// SignatureVerifier checks the provider's signature over the raw body.
type SignatureVerifier interface {
	VerifySignature(signature string, body []byte) bool
}

type Options struct {
	WebhookPath     string
	ReturnPath      string
	SignatureHeader string
	BotUsername     string
	Timeout         time.Duration
}

// Server exposes the gateway callback, the buyer return page and /health.
type Server struct {
	payUC    CallbackHandler
	verifier SignatureVerifier
	opts     Options
	log      *zerolog.Logger
}

func NewServer(payUC CallbackHandler, verifier SignatureVerifier, opts Options, logger *zerolog.Logger) *Server {
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/api/payment/webhook"
	}
	if opts.ReturnPath == "" {
		opts.ReturnPath = "/payment/return"
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "X-Signature"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	compLog := logger.With().Str("component", "CallbackAPI").Logger()
	return &Server{payUC: payUC, verifier: verifier, opts: opts, log: &compLog}
}

// Register attaches the routes to r.
func (s *Server) Register(r chi.Router) {
	r.With(BodyLimit(maxWebhookBody), Timeout(s.opts.Timeout)).Post(s.opts.WebhookPath, s.handleWebhook)
	r.Get(s.opts.ReturnPath, s.handleReturn)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// Handler is a standalone router with the usual middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), Recover(s.log), RequestLog(s.log))
	s.Register(r)
	return r
}

type webhookBody struct {
	OrderID  string          `json:"order_id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type webhookResp struct {
	Result  string `json:"result"`
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status,omitempty"`
}

// handleWebhook answers 2xx only once the callback is durably handled or is
// one the provider should not resend; anything else gets 5xx so it retries.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logging.With(r.Context(), s.log)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.ObservePaymentCallback("rejected", "body", time.Since(start))
		writeJSON(w, http.StatusBadRequest, webhookResp{Result: "bad_body"})
		return
	}
	if !s.verifier.VerifySignature(r.Header.Get(s.opts.SignatureHeader), raw) {
		metrics.ObservePaymentCallback("rejected", "signature", time.Since(start))
		log.Warn().Str("remote", r.RemoteAddr).Msg("callback with invalid signature")
		writeJSON(w, http.StatusUnauthorized, webhookResp{Result: "invalid_signature"})
		return
	}

	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil || body.OrderID == "" {
		metrics.ObservePaymentCallback("rejected", "payload", time.Since(start))
		writeJSON(w, http.StatusBadRequest, webhookResp{Result: "bad_payload"})
		return
	}
	ctx := logging.WithOrderID(r.Context(), body.OrderID)
	log = logging.With(ctx, s.log)

	ev := usecase.CallbackEvent{
		OrderID:  body.OrderID,
		Status:   payment.MapStatus(body.Status),
		Amount:   body.Amount,
		Currency: body.Currency,
	}
	rep, err := s.payUC.HandleCallback(ctx, ev)
	switch {
	case err == nil:
		metrics.ObservePaymentCallback("ok", string(rep.Outcome), time.Since(start))
		resp := webhookResp{Result: "ok", OrderID: body.OrderID}
		if rep.Payment != nil {
			resp.Status = string(rep.Payment.Status)
		}
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, domain.ErrNotFound):
		metrics.ObservePaymentCallback("rejected", "unknown_order", time.Since(start))
		log.Warn().Msg("callback for unknown order")
		writeJSON(w, http.StatusNotFound, webhookResp{Result: "unknown_order", OrderID: body.OrderID})
	case errors.Is(err, domain.ErrAmountMismatch):
		metrics.ObservePaymentCallback("ignored", "amount_mismatch", time.Since(start))
		writeJSON(w, http.StatusOK, webhookResp{Result: "ignored", OrderID: body.OrderID})
	default:
		metrics.ObservePaymentCallback("error", "internal", time.Since(start))
		log.Error().Err(err).Str("callback_status", string(ev.Status)).Msg("callback handling failed")
		writeJSON(w, http.StatusInternalServerError, webhookResp{Result: "retry"})
	}
}

// handleReturn is where the provider sends the buyer after checkout. It does
// not settle anything; the bot's check button or the poller does that.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = page.Execute(w, struct {
		OrderID     string
		BotUsername string
	}{OrderID: orderID, BotUsername: s.opts.BotUsername})
}

var page = template.Must(template.New("return").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>Payment</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.btn{display:inline-block;margin-top:16px;padding:10px 16px;border-radius:8px;border:1px solid #888;text-decoration:none}
.small{font-size:12px;color:#666}
</style>
</head>
<body>
<div class="card">
  <h2>Thanks! Your payment is being processed.</h2>
  {{if .OrderID}}<p>Order <code>{{.OrderID}}</code></p>{{end}}
  <p>Go back to the bot and press "Check payment". Coins are also credited automatically within a few minutes.</p>
  {{if .BotUsername}}
    <a class="btn" href="https://t.me/{{.BotUsername}}">Back to Telegram</a>
    <div class="small">If this button doesn't open the chat, open Telegram and search for @{{.BotUsername}}.</div>
  {{end}}
</div>
</body>
</html>`))

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
