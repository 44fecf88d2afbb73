package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Stripe   StripeConfig
	Email    EmailConfig
	Billing  BillingConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	URL string
}

type JWTConfig struct {
	Secret string
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	TimeoutSeconds int
}

type EmailConfig struct {
	ResendAPIKey string
	From         string
}

type BillingConfig struct {
	GracePeriodDays   int
	GraceWarningHours int
}

type StorageConfig struct {
	ReceiptBucket string
	Region        string
}

func Load() *Config {
	godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "3000"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Stripe: StripeConfig{
			SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			TimeoutSeconds: getEnvInt("GATEWAY_TIMEOUT_SECONDS", 30),
		},
		Email: EmailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			From:         getEnv("EMAIL_FROM", "FundPage <noreply@fundpage.app>"),
		},
		Billing: BillingConfig{
			GracePeriodDays:   getEnvInt("GRACE_PERIOD_DAYS", 7),
			GraceWarningHours: getEnvInt("GRACE_WARNING_HOURS", 24),
		},
		Storage: StorageConfig{
			ReceiptBucket: getEnv("S3_RECEIPT_BUCKET", ""),
			Region:        getEnv("AWS_REGION", "eu-central-1"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
