package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/voxnote/backend/internal/domain"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Application base URL (for upgrade links in quota errors and emails)
	BaseURL string

	// Storage Configuration
	StorageProvider string // "local" or "s3"

	// Local Storage (development)
	LocalStoragePath string // Base directory for local file storage

	// S3-compatible Storage (production; works against Cloudflare R2)
	S3AccountID       string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3BucketName      string

	// Scheduler Configuration
	SchedulerEnabled      bool
	SchedulerPollInterval time.Duration // how often task triggers are evaluated
	SchedulerDrainTimeout time.Duration // max wait for active tasks on shutdown

	// Quota Configuration
	// The absolute ceiling on monthly hours for soft-cap tiers. Usage past
	// the tier's HoursPerMonth bills as overage up to this value; beyond it
	// uploads are rejected outright.
	OverageHardCapHours float64

	// OverageRateCents is the flat per-hour overage price in cents.
	OverageRateCents int64

	// SMTP Configuration (usage warning emails)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Stripe Billing Configuration
	// In development the billing service functions as a stub if these are
	// empty; account deletion still completes without payment cleanup.
	StripeSecretKey     string
	StripeWebhookSecret string

	// Price ids for the paid tiers; the checkout flow and webhook handler
	// map them onto tiers.
	StripePriceProfessional string
	StripePriceBusiness     string

	// Identity provider admin endpoint (account deletion).
	// Empty disables identity cleanup (the disabled provider is used).
	IdentityAPIURL string
	IdentityAPIKey string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),

		// S3 configuration (production only)
		S3AccountID:       getEnv("S3_ACCOUNT_ID", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3BucketName:      getEnv("S3_BUCKET_NAME", ""),

		// Scheduler defaults
		SchedulerEnabled:      getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerPollInterval: getEnvDuration("SCHEDULER_POLL_INTERVAL", 1*time.Minute),
		SchedulerDrainTimeout: getEnvDuration("SCHEDULER_DRAIN_TIMEOUT", 60*time.Second),

		// Quota defaults
		OverageHardCapHours: getEnvFloat("OVERAGE_HARD_CAP_HOURS", 100),
		OverageRateCents:    int64(getEnvInt("OVERAGE_RATE_CENTS", 50)),

		// SMTP defaults for Mailhog (development)
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@voxnote.app"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Voxnote"),

		// Stripe billing (optional; stubs work without these)
		StripeSecretKey:         getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:     getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceProfessional: getEnv("STRIPE_PRICE_PROFESSIONAL", ""),
		StripePriceBusiness:     getEnv("STRIPE_PRICE_BUSINESS", ""),

		// Identity provider (optional; deletion skips identity cleanup without it)
		IdentityAPIURL: getEnv("IDENTITY_API_URL", ""),
		IdentityAPIKey: getEnv("IDENTITY_API_KEY", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Validate storage configuration
	if cfg.StorageProvider == "s3" {
		if cfg.S3AccountID == "" {
			return nil, fmt.Errorf("S3_ACCOUNT_ID is required when STORAGE_PROVIDER is 's3'")
		}
		if cfg.S3AccessKeyID == "" {
			return nil, fmt.Errorf("S3_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 's3'")
		}
		if cfg.S3SecretAccessKey == "" {
			return nil, fmt.Errorf("S3_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 's3'")
		}
		if cfg.S3BucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME is required when STORAGE_PROVIDER is 's3'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 's3', got: %s", cfg.StorageProvider)
	}

	if cfg.OverageHardCapHours <= 0 {
		return nil, fmt.Errorf("OVERAGE_HARD_CAP_HOURS must be positive, got: %v", cfg.OverageHardCapHours)
	}

	// The tier limits table is static but still validated here so a tier
	// added to the enum without a limits row fails the boot.
	if err := domain.ValidateTierLimits(domain.DefaultTierLimits); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
