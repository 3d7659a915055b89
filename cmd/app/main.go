// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fitness-payments-bot/internal/application"
	"fitness-payments-bot/internal/config"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/adapter"
	"fitness-payments-bot/internal/infra/adapters/backend"
	payAdapters "fitness-payments-bot/internal/infra/adapters/payment"
	tele "fitness-payments-bot/internal/infra/adapters/telegram"
	"fitness-payments-bot/internal/infra/api"
	pg "fitness-payments-bot/internal/infra/db/postgres"
	"fitness-payments-bot/internal/infra/i18n"
	"fitness-payments-bot/internal/infra/logging"
	"fitness-payments-bot/internal/infra/metrics"
	red "fitness-payments-bot/internal/infra/redis"
	"fitness-payments-bot/internal/infra/sched"
	"fitness-payments-bot/internal/infra/security"
	"fitness-payments-bot/internal/infra/web"
	"fitness-payments-bot/internal/infra/worker"
	"fitness-payments-bot/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

const (
	linkStateTTL    = 15 * time.Minute
	creditLockTTL   = time.Minute
	shutdownTimeout = 15 * time.Second
)

type bot interface {
	adapter.TelegramBotAdapter
	StartPolling(ctx context.Context) error
	StopPolling()
}

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "dev mode: in-memory gateway, console logs")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("application stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Encryption ----
	encKey := cfg.Security.EncryptionKey
	if encKey == "" && cfg.Runtime.Dev {
		logger.Warn().Msg("security.encryption_key not set; using dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	tokens, err := security.NewTokenCipher(encKey)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}

	// ---- Repositories ----
	userRepo := pg.NewUserRepoCacheDecorator(pg.NewPostgresUserRepo(pool), redisClient, cfg.Redis.TTL, logger)
	payRepo := pg.NewPaymentRepo(pool)
	refRepo := pg.NewReferralRepo(pool)
	txm := pg.NewTxManager(pool)
	linkStates := red.NewLinkStateRepo(redisClient, linkStateTTL)

	// ---- Adapters ----
	gateway, verifier, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}
	ledger, err := backend.NewClient(cfg.Backend)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	metrics.SetBuildInfo(version, commit, gateway.Name())

	translator, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Bot.Language)
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	// ---- Use cases ----
	packages, err := toPackages(cfg.Packages)
	if err != nil {
		return err
	}
	packageUC, err := usecase.NewPackageUseCase(packages)
	if err != nil {
		return fmt.Errorf("packages: %w", err)
	}
	settingsUC := usecase.NewSettingsService(cfg.Settings.RegistrationCoins, logger)
	userUC := usecase.NewUserUseCase(userRepo, refRepo, txm, settingsUC, cfg.Bot.AdminIDs, logger)
	referralUC := usecase.NewReferralUseCase(refRepo, logger)
	// one lock for every balance write: purchase credits and admin sets
	locker := usecase.ChainLockers(usecase.NewLocalLocker(), red.NewCreditLocker(redisClient, creditLockTTL))
	accountUC := usecase.NewAccountUseCase(userRepo, linkStates, ledger, tokens, locker, cfg.Backend.Timeout, logger)
	statsUC := usecase.NewStatsUseCase(userRepo, payRepo, cfg.Scheduler.StaleCreditAfter, logger)

	workers := worker.NewPool(cfg.Bot.Workers, logger)
	notifier := sched.NewPoolNotifier(workers, translator, logger)
	paymentUC := usecase.NewPaymentUseCase(
		payRepo, userRepo, packageUC, gateway, ledger, locker, tokens, notifier, refRepo,
		usecase.PaymentConfig{
			Expiry:           cfg.Scheduler.PaymentExpiry,
			MinPendingAge:    cfg.Scheduler.MinPendingAge,
			GatewayTimeout:   cfg.Gateway.Timeout,
			LedgerTimeout:    cfg.Backend.Timeout,
			StaleCreditAfter: cfg.Scheduler.StaleCreditAfter,
			BatchSize:        cfg.Scheduler.BatchSize,
		},
		logger,
	)

	// ---- Telegram ----
	facade := application.NewBotFacade(userUC, packageUC, paymentUC, accountUC, statsUC, settingsUC, referralUC, translator, logger)
	facade.BotUsername = cfg.Bot.Username
	var botAdapter bot
	if strings.EqualFold(cfg.Bot.Mode, "noop") {
		botAdapter = tele.NewNoopBotAdapter(logger)
	} else {
		botAdapter, err = tele.NewRealTelegramBotAdapter(&cfg.Bot, facade, rateLimiter, logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
	}
	notifier.Bind(botAdapter)

	// ---- Poller ----
	poller := sched.NewPaymentPoller(paymentUC, cfg.Scheduler.PaymentPollInterval, cfg.Scheduler.PerPaymentTimeout, logger)

	// ---- HTTP: gateway callback + admin API ----
	var auth *web.AuthManager
	if cfg.Admin.JWTSecret != "" {
		auth, err = web.NewAuthManager(cfg.Admin.JWTSecret, !cfg.Runtime.Dev, "", cfg.Admin.TokenTTL)
		if err != nil {
			return fmt.Errorf("admin auth: %w", err)
		}
	} else {
		logger.Warn().Msg("admin.jwt_secret not set; admin API disabled")
	}
	callbackSrv := api.NewServer(paymentUC, verifier, api.Options{
		WebhookPath:     cfg.HTTP.WebhookPath,
		ReturnPath:      cfg.HTTP.ReturnPath,
		SignatureHeader: cfg.Gateway.SignatureHeader,
		BotUsername:     cfg.Bot.Username,
	}, logger)
	adminSrv := web.NewServer(statsUC, paymentUC, packageUC, settingsUC, poller, auth, cfg.Admin.APIKey, logger)

	router := chi.NewRouter()
	router.Use(api.TraceID(logger), api.Recover(logger), api.RequestLog(logger))
	callbackSrv.Register(router)
	adminSrv.RegisterRoutes(router)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)
	workers.Start(gctx)

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Str("webhook", cfg.HTTP.WebhookPath).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := botAdapter.StartPolling(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := poller.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		pg.ReportPoolStats(gctx, pool, 15*time.Second)
		return nil
	})

	// ---- Graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		botAdapter.StopPolling()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	err = g.Wait()
	// flush queued completion messages once nothing can submit more
	workers.Stop()
	return err
}

// newGateway picks the checkout provider. Dev mode and an empty base_url get
// the in-memory gateway, whose checkouts stay pending until flipped.
func newGateway(cfg *config.Config, logger *zerolog.Logger) (adapter.PaymentGateway, api.SignatureVerifier, error) {
	if cfg.Runtime.Dev || cfg.Gateway.BaseURL == "" {
		logger.Warn().Msg("using in-memory payment gateway")
		g := payAdapters.NewNoopPaymentGateway(cfg.Gateway.WebhookSecret)
		return g, g, nil
	}
	g, err := payAdapters.NewHTTPGateway(cfg.Gateway)
	if err != nil {
		return nil, nil, fmt.Errorf("payment gateway: %w", err)
	}
	if cfg.Gateway.WebhookSecret == "" {
		logger.Warn().Msg("gateway.webhook_secret not set; every callback will be rejected and the poller settles payments")
	}
	logger.Info().Str("gateway", g.Name()).Str("base_url", cfg.Gateway.BaseURL).Msg("payment gateway ready")
	return g, g, nil
}

func toPackages(in []config.PackageConfig) ([]*model.Package, error) {
	out := make([]*model.Package, 0, len(in))
	for _, pc := range in {
		p, err := model.NewPackage(pc.ID, pc.Name, pc.Coins, pc.Days, pc.Price, pc.Currency)
		if err != nil {
			return nil, fmt.Errorf("package %q: %w", pc.ID, err)
		}
		p.Description = pc.Description
		out = append(out, p)
	}
	return out, nil
}
