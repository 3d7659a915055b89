package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"fitness-payments-bot/internal/config"
	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/infra/db/postgres"
	"fitness-payments-bot/internal/infra/redis"
	"fitness-payments-bot/internal/infra/security"
)

// This script resets Postgres and Redis to a predictable state for manual
// end-to-end testing and seeds one linked user with a pending payment.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	schema := flag.String("schema", filepath.Join("deploy", "postgres", "init.sql"), "schema applied before seeding")
	tgID := flag.Int64("tg", 0, "telegram id of the demo user (defaults to the first admin id)")
	backendToken := flag.String("token", "", "backend access token stored for the demo user")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	// --- Connect to Postgres ---
	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	// --- Connect to Redis ---
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	log.Println("[1/4] Wiping Redis cache...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	log.Println("[2/4] Applying schema and wiping data...")
	ddl, err := os.ReadFile(*schema)
	if err != nil {
		log.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(ddl)); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE users, payments, referral_links RESTART IDENTITY CASCADE;`); err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	if *tgID == 0 && len(cfg.Bot.AdminIDs) > 0 {
		*tgID = cfg.Bot.AdminIDs[0]
	}
	if *tgID == 0 || *backendToken == "" {
		log.Println("[3/4] No -tg/-token given; skipping demo user.")
		log.Println("--- ✅ E2E Environment Setup Complete ---")
		return
	}

	log.Println("[3/4] Seeding linked demo user...")
	cipher, err := security.NewTokenCipher(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("encryption: %v", err)
	}
	user, err := model.NewUser("", *tgID, "e2e")
	if err != nil {
		log.Fatalf("user: %v", err)
	}
	sealed, err := cipher.Seal(*backendToken, user.ID)
	if err != nil {
		log.Fatalf("seal token: %v", err)
	}
	user.Link("e2e@example.com", "e2e", sealed, time.Now())
	if err := postgres.NewPostgresUserRepo(pool).Save(ctx, nil, user); err != nil {
		log.Fatalf("save user: %v", err)
	}

	log.Println("[4/4] Seeding a pending payment for the first package...")
	pc := cfg.Packages[0]
	pkg, err := model.NewPackage(pc.ID, pc.Name, pc.Coins, pc.Days, pc.Price, pc.Currency)
	if err != nil {
		log.Fatalf("package: %v", err)
	}
	p, err := model.NewPayment(user, pkg, time.Now())
	if err != nil {
		log.Fatalf("payment: %v", err)
	}
	if err := postgres.NewPaymentRepo(pool).Create(ctx, nil, p); err != nil {
		log.Fatalf("save payment: %v", err)
	}
	log.Printf("seeded user tg=%d order=%s package=%s", user.TelegramID, p.OrderID, pkg.ID)

	log.Println("--- ✅ E2E Environment Setup Complete ---")
}
