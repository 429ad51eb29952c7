package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/chorebank/internal/auth"
	billingstripe "github.com/dukerupert/chorebank/internal/billing/stripe"
	"github.com/dukerupert/chorebank/internal/cache"
	"github.com/dukerupert/chorebank/internal/checkout"
	"github.com/dukerupert/chorebank/internal/chore"
	"github.com/dukerupert/chorebank/internal/config"
	"github.com/dukerupert/chorebank/internal/coupon"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/email"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/ledger"
	"github.com/dukerupert/chorebank/internal/logging"
	"github.com/dukerupert/chorebank/internal/middleware"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/notify"
	"github.com/dukerupert/chorebank/internal/reward"
	"github.com/dukerupert/chorebank/internal/scheduler"
	"github.com/dukerupert/chorebank/internal/server"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.JWTSecret == "" {
		logger.Error("CHOREBANK_JWT_SECRET is required")
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bus := events.NewBus(logger.With("component", "events"))

	led := ledger.NewService(db, bus, logger.With("component", "ledger"))
	chores := chore.NewService(db, led, bus, logger.With("component", "chore"))
	rewards := reward.NewService(db, led, bus, logger.With("component", "reward"))
	coupons := coupon.NewEngine(db, bus, logger.With("component", "coupon"))
	subs := subscription.NewManager(db, bus, logger.With("component", "subscription"))
	sched := scheduler.New(db, bus, logger.With("component", "scheduler"))
	chores.SetSignaler(sched)

	// Notifications
	emailClient := email.NewClient(cfg.PostmarkToken, cfg.EmailFrom)
	dispatcher := notify.NewDispatcher(db, emailClient, notify.Config{Timeout: cfg.NotifyTimeout}, logger.With("component", "notify"))
	chores.SetNotifier(dispatcher)
	if !emailClient.Configured() {
		logger.Info("email not configured, notifications disabled")
	}

	// Billing
	prices := checkout.Prices{
		StarterMonthly: cfg.PriceStarterMonthly,
		StarterYearly:  cfg.PriceStarterYearly,
		PremiumMonthly: cfg.PricePremiumMonthly,
		PremiumYearly:  cfg.PricePremiumYearly,
	}
	co := checkout.NewService(db, coupons, subs, prices, logger.With("component", "checkout"))
	var stripeClient *billingstripe.Client
	if cfg.StripeSecretKey != "" {
		stripeClient = billingstripe.NewClient(billingstripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Currency:      cfg.Currency,
			SuccessURL:    cfg.BaseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:     cfg.BaseURL + "/billing/canceled",
		})
		co.SetGateway(stripeClient)
	} else {
		logger.Info("stripe not configured, paid checkout disabled")
	}

	families := store.NewFamilyStore(db)
	snapshots := cache.NewSnapshots(cfg.CacheSize, cfg.CacheTTL, func(ctx context.Context, familyID int64) (*model.FamilySnapshot, error) {
		return families.Snapshot(ctx, familyID, time.Now())
	})

	deps := server.Deps{
		DB:          db,
		Bus:         bus,
		Ledger:      led,
		Chores:      chores,
		Rewards:     rewards,
		Coupons:     coupons,
		Subs:        subs,
		Checkout:    co,
		Scheduler:   sched,
		Snapshots:   snapshots,
		Tokens:      auth.NewTokens(cfg.JWTSecret),
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst),
		AdminToken:  cfg.AdminToken,
	}
	if stripeClient != nil && cfg.StripeWebhookSecret != "" {
		deps.Webhooks = stripeClient
	}
	srv := server.New(deps, logger)

	runner, err := scheduler.NewRunner(sched, subs, cfg.SchedulerInterval, logger.With("component", "scheduler"))
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	runner.Start()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup(time.Hour)
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("chorebank starting", "addr", ":"+cfg.Port, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := runner.Shutdown(); err != nil {
		logger.Error("scheduler shutdown", "error", err)
	}
	dispatcher.Wait()
}
