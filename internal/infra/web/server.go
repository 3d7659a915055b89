package web

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fitness-payments-bot/internal/infra/metrics"
	"fitness-payments-bot/internal/infra/sched"
	"fitness-payments-bot/internal/usecase"
)

// Sweeper runs one reconciliation pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (sched.SweepReport, error)
}

// Server is the admin HTTP API: login, stats, dangling credits and settings.
type Server struct {
	statsUC    usecase.StatsUseCase
	paymentUC  usecase.PaymentUseCase
	packageUC  usecase.PackageUseCase
	settingsUC usecase.SettingsService
	sweeper    Sweeper
	auth       *AuthManager
	apiKey     string
	log        *zerolog.Logger
}

func NewServer(
	statsUC usecase.StatsUseCase,
	paymentUC usecase.PaymentUseCase,
	packageUC usecase.PackageUseCase,
	settingsUC usecase.SettingsService,
	sweeper Sweeper,
	auth *AuthManager,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	compLog := logger.With().Str("component", "AdminAPI").Logger()
	return &Server{
		statsUC:    statsUC,
		paymentUC:  paymentUC,
		packageUC:  packageUC,
		settingsUC: settingsUC,
		sweeper:    sweeper,
		auth:       auth,
		apiKey:     apiKey,
		log:        &compLog,
	}
}

// RegisterRoutes mounts the admin API under /admin plus /metrics.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/admin", func(r chi.Router) {
		r.Use(countRoute)
		r.Post("/login", s.loginHandler)
		r.Post("/logout", s.logoutHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/api/stats", statsHandler(s.statsUC))
			r.Get("/api/packages", packagesHandler(s.packageUC))
			r.Get("/api/payments/dangling", danglingHandler(s.paymentUC))
			r.Post("/api/payments/{orderID}/retry-credit", retryCreditHandler(s.paymentUC, s.log))
			r.Get("/api/settings/registration-bonus", bonusGetHandler(s.settingsUC))
			r.Put("/api/settings/registration-bonus", bonusPutHandler(s.settingsUC, s.log))
			if s.sweeper != nil {
				r.Post("/api/sweep", sweepHandler(s.sweeper))
			}
		})
	})
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, middleware.Timeout(60*time.Second))
	s.RegisterRoutes(r)
	return r
}

// authMiddleware accepts an admin JWT from the Authorization header or the session cookie.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			s.log.Error().Msg("admin auth is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	APIKey string `json:"api_key"`
}

// loginHandler trades the static admin key for a short-lived session token.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if s.apiKey == "" || s.auth == nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(s.apiKey)) != 1 {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("admin login failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		s.log.Error().Err(err).Msg("mint admin token")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) logoutHandler(w http.ResponseWriter, _ *http.Request) {
	if s.auth != nil {
		s.auth.Clear(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

// countRoute records the matched route pattern and status per request.
func countRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.IncAdminHTTP(route, strconv.Itoa(status))
	})
}
