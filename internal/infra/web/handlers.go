package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fitness-payments-bot/internal/domain"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/usecase"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// statsHandler serves the dashboard snapshot.
func statsHandler(statsUC usecase.StatsUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := statsUC.Snapshot(r.Context())
		if err != nil {
			http.Error(w, "Failed to get stats", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type packageDTO struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Coins    int64           `json:"coins"`
	Days     int             `json:"days"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

func packagesHandler(packageUC usecase.PackageUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		list := packageUC.List()
		out := make([]packageDTO, 0, len(list))
		for _, p := range list {
			out = append(out, packageDTO{ID: p.ID, Name: p.Name, Coins: p.Coins, Days: p.Days, Price: p.Price, Currency: p.Currency})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type paymentDTO struct {
	OrderID     string              `json:"order_id"`
	UserID      string              `json:"user_id"`
	TelegramID  int64               `json:"telegram_id"`
	PackageID   string              `json:"package_id"`
	Amount      decimal.Decimal     `json:"amount"`
	Currency    string              `json:"currency"`
	Coins       int64               `json:"coins"`
	Days        int                 `json:"days"`
	Status      model.PaymentStatus `json:"status"`
	CreditState model.CreditState   `json:"credit_state"`
	CreditError string              `json:"credit_error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

func toPaymentDTO(p *model.Payment) paymentDTO {
	return paymentDTO{
		OrderID:     p.OrderID,
		UserID:      p.UserID,
		TelegramID:  p.TelegramID,
		PackageID:   p.PackageID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Coins:       p.Coins,
		Days:        p.DurationDays,
		Status:      p.Status,
		CreditState: p.CreditState,
		CreditError: p.CreditError,
		CreatedAt:   p.CreatedAt,
		CompletedAt: p.CompletedAt,
	}
}

// danglingHandler lists completed payments whose ledger credit failed.
func danglingHandler(paymentUC usecase.PaymentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxListLimit)
		}
		list, err := paymentUC.ListDanglingCredits(r.Context(), limit)
		if err != nil {
			http.Error(w, "Failed to list dangling credits", http.StatusInternalServerError)
			return
		}
		out := make([]paymentDTO, 0, len(list))
		for _, p := range list {
			out = append(out, toPaymentDTO(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func retryCreditHandler(paymentUC usecase.PaymentUseCase, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "orderID")
		rep, err := paymentUC.RetryCredit(r.Context(), orderID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			http.Error(w, "Payment not found", http.StatusNotFound)
			return
		case errors.Is(err, domain.ErrCreditNotRetryable):
			http.Error(w, "Payment credit is not in a retryable state", http.StatusConflict)
			return
		default:
			log.Error().Err(err).Str("order_id", orderID).Msg("retry credit failed")
			http.Error(w, "Failed to retry credit", http.StatusInternalServerError)
			return
		}
		log.Info().Str("order_id", orderID).Bool("credited", !rep.CreditPending).Msg("admin retried credit")
		writeJSON(w, http.StatusOK, struct {
			Credited bool       `json:"credited"`
			Payment  paymentDTO `json:"payment"`
		}{Credited: !rep.CreditPending, Payment: toPaymentDTO(rep.Payment)})
	}
}

type bonusBody struct {
	Coins int64 `json:"coins"`
}

func bonusGetHandler(settingsUC usecase.SettingsService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, bonusBody{Coins: settingsUC.RegistrationCoins()})
	}
}

func bonusPutHandler(settingsUC usecase.SettingsService, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bonusBody
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := settingsUC.SetRegistrationCoins(req.Coins); err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "Failed to update setting", http.StatusInternalServerError)
			return
		}
		log.Info().Int64("coins", req.Coins).Msg("registration bonus changed")
		writeJSON(w, http.StatusOK, bonusBody{Coins: settingsUC.RegistrationCoins()})
	}
}

func sweepHandler(sweeper Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := sweeper.Sweep(r.Context())
		if err != nil {
			http.Error(w, "Sweep failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Expired   int  `json:"expired"`
			Checked   int  `json:"checked"`
			Completed int  `json:"completed"`
			Failed    int  `json:"failed"`
			Errors    int  `json:"errors"`
			Shared    bool `json:"shared"`
		}{rep.Expired, rep.Checked, rep.Completed, rep.Failed, rep.Errors, rep.Shared})
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
