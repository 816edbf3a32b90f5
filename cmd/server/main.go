package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/voxnote/backend/internal"
	"github.com/voxnote/backend/internal/billing"
	"github.com/voxnote/backend/internal/domain"
	"github.com/voxnote/backend/internal/email"
	"github.com/voxnote/backend/internal/handler"
	"github.com/voxnote/backend/internal/identity"
	"github.com/voxnote/backend/internal/metrics"
	"github.com/voxnote/backend/internal/repository"
	"github.com/voxnote/backend/internal/scheduler"
	"github.com/voxnote/backend/internal/service"
	"github.com/voxnote/backend/internal/storage"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	repo := repository.New(db)

	// Initialize blob storage
	var blobs storage.Storage
	switch cfg.StorageProvider {
	case "s3":
		blobs, err = storage.NewS3Storage(storage.S3Config{
			AccountID:       cfg.S3AccountID,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			BucketName:      cfg.S3BucketName,
		}, logger)
	default:
		blobs, err = storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
		}, logger)
	}
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// Initialize billing
	var billingSvc billing.Service
	if cfg.StripeSecretKey != "" {
		billingSvc = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		logger.Info("Stripe billing enabled")
	} else {
		billingSvc = billing.NewDisabledService()
		logger.Warn("Stripe billing disabled, payment cleanup will be skipped")
	}

	// Initialize identity provider
	var identitySvc identity.Provider
	if cfg.IdentityAPIURL != "" {
		identitySvc = identity.NewHTTPProvider(cfg.IdentityAPIURL, cfg.IdentityAPIKey, logger)
	} else {
		identitySvc = identity.NewDisabledProvider()
		logger.Warn("Identity provider disabled, account deletion will skip identity cleanup")
	}

	// Initialize email
	emailSvc := email.NewSMTPEmailService(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, cfg.BaseURL, logger)

	// Initialize services
	quotaSvc := service.NewQuotaService(repo.Users, service.QuotaConfig{
		TierLimits:   domain.DefaultTierLimits,
		HardCapHours: cfg.OverageHardCapHours,
	}, logger)

	usageSvc := service.NewUsageService(repo.Users, repo.UsageRecords, service.UsageConfig{
		TierLimits:       domain.DefaultTierLimits,
		OverageRateCents: cfg.OverageRateCents,
	}, logger)

	deletionSvc := service.NewDeletionService(
		repo.Users, repo.UserData, repo.UsageRecords,
		blobs, billingSvc, identitySvc, emailSvc, logger,
	)

	priceTiers := make(map[string]domain.Tier)
	if cfg.StripePriceProfessional != "" {
		priceTiers[cfg.StripePriceProfessional] = domain.TierProfessional
	}
	if cfg.StripePriceBusiness != "" {
		priceTiers[cfg.StripePriceBusiness] = domain.TierBusiness
	}
	subscriptionSvc := service.NewSubscriptionService(repo.Users, billingSvc, service.SubscriptionConfig{
		PriceTiers:      priceTiers,
		SuccessURL:      cfg.BaseURL + "/account/billing?checkout=success",
		CancelURL:       cfg.BaseURL + "/account/billing?checkout=cancelled",
		PortalReturnURL: cfg.BaseURL + "/account/billing",
	}, logger)

	// ==========================================================================
	// Scheduler
	// ==========================================================================

	resetRunner := scheduler.NewResetRunner(repo.Users, repo.ResetJobs, logger)

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.New(scheduler.Config{
			PollInterval: cfg.SchedulerPollInterval,
			DrainTimeout: cfg.SchedulerDrainTimeout,
		}, logger)

		overageTask := scheduler.NewOverageCheckTask(repo.Users, usageSvc, logger)
		warningTask := scheduler.NewUsageWarningTask(repo.Users, usageSvc, emailSvc, logger)

		sched.Register(scheduler.TaskMonthlyReset, scheduler.MonthlyTrigger(), resetRunner.Run)
		sched.Register(scheduler.TaskOverageCheck, scheduler.DailyTrigger(6), overageTask.Run)
		sched.Register(scheduler.TaskUsageWarnings, scheduler.DailyTrigger(7), warningTask.Run)

		sched.Start(schedCtx)
	} else {
		logger.Warn("Scheduler disabled, monthly resets will not run on this instance")
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", metrics.Handler(cfg.MetricsUsername, cfg.MetricsPassword))

	// Internal API
	apiHandler := handler.NewAPIHandler(quotaSvc, usageSvc, deletionSvc, subscriptionSvc, resetRunner, logger)
	apiHandler.RegisterRoutes(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	// Drain scheduled tasks; the reset job checkpoints so anything cut off
	// here resumes on the next boot.
	if sched != nil {
		sched.Stop()
		schedCancel()
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
