package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/payplanhq/payplan/internal/api"
	"github.com/payplanhq/payplan/internal/config"
	"github.com/payplanhq/payplan/internal/engine"
	"github.com/payplanhq/payplan/internal/matcher"
	"github.com/payplanhq/payplan/internal/notify"
	"github.com/payplanhq/payplan/internal/sched"
	"github.com/payplanhq/payplan/internal/storage"
	"github.com/payplanhq/payplan/internal/tonapi"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	if cfg.JWTSecret == "" {
		log.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	if cfg.AdminPassword == "" {
		log.Warn("ADMIN_PASSWORD not set, admin login disabled")
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Seed settings on first run
	if _, err := store.GetSettings(); errors.Is(err, storage.ErrNotFound) {
		settings := &storage.Settings{
			ReferralAmount:           cfg.ReferralAmount,
			BinaryAmount:             cfg.BinaryAmount,
			UplineAmount:             cfg.UplineAmount,
			AdminFeeAmount:           cfg.AdminFeeAmount,
			PaymentTimerHours:        int(cfg.PaymentTimer.Hours()),
			EnableCryptoVerification: cfg.EnableCryptoVerification,
			ServiceWalletAddr:        cfg.ServiceWalletAddr,
		}
		if err := store.SaveSettings(settings); err != nil {
			log.Error("seed settings", "error", err)
			os.Exit(1)
		}
		log.Info("settings seeded from environment")
	} else if err != nil {
		log.Error("load settings", "error", err)
		os.Exit(1)
	}

	// Initialize notifier
	notifier, err := notify.New(store, cfg.BotToken, log)
	if err != nil {
		log.Error("init notifier", "error", err)
		os.Exit(1)
	}

	// Initialize chain verifier
	var verifier engine.Verifier
	if cfg.EnableCryptoVerification && cfg.ServiceWalletAddr != "" {
		client := tonapi.NewClient(cfg.TonAPIBaseURL, cfg.TonAPIKey)
		verifier = tonapi.NewVerifier(client, cfg.ServiceWalletAddr, log)

		// Sanity-check the service wallet; verification still runs if the
		// lookup fails, the API may just be briefly unavailable
		if info, err := client.GetAccountInfo(context.Background(), cfg.ServiceWalletAddr); err != nil {
			log.Warn("service wallet lookup failed", "wallet", cfg.ServiceWalletAddr, "error", err)
		} else {
			log.Info("chain verifier initialized",
				"wallet", tonapi.ShortAddr(info.Address, 6),
				"balance_ton", tonapi.NanoToTON(info.Balance),
				"status", info.Status,
			)
		}
	}

	clock := sched.RealClock()

	// Initialize engine and matcher
	eng := engine.New(store, notifier, verifier, clock, cfg.VerifySettleTime, cfg.FailedResetTime, log)
	m := matcher.New(store, notifier, clock, log)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start expiry sweeps
	scheduler := sched.New(log)
	scheduler.Register("expire_payments", eng.ExpirePayments)
	scheduler.Register("expire_confirmations", eng.ExpireConfirmations)
	go scheduler.Start(ctx, cfg.SweepInterval)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start API server
	server := api.NewServer(cfg, store, eng, m, log)
	if err := server.Start(ctx, cfg.APIPort); err != nil && err != http.ErrServerClosed {
		log.Error("api server", "error", err)
		os.Exit(1)
	}
}
