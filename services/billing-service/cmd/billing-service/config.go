package main

import (
	"time"

	otelx "github.com/md-rashed-zaman/subsync/libs/otel"
)

type appConfig struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"billing-service"`
	Port        string `env:"PORT" envDefault:"8084"`
	GRPCPort    string `env:"GRPC_PORT" envDefault:"9091"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL  string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	KafkaBrokers string `env:"KAFKA_BROKERS"`

	StripeSecretKey        string        `env:"STRIPE_SECRET_KEY,required,notEmpty"`
	StripeWebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET,required,notEmpty"`
	StripeWebhookTolerance int           `env:"STRIPE_WEBHOOK_TOLERANCE_SECONDS" envDefault:"300"`
	ProviderTimeout        time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	FrontendHost           string        `env:"FRONTEND_HOST" envDefault:"http://localhost:3000"`
	CORSOrigins            string        `env:"CORS_ORIGINS"`

	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	SMTPHost             string `env:"SMTP_HOST"`
	SMTPPort             string `env:"SMTP_PORT" envDefault:"1025"`
	MailFrom             string `env:"MAIL_FROM" envDefault:"no-reply@subsync.local"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`

	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"redis"`
	RateLimit        int           `env:"RATE_LIMIT_REQUESTS" envDefault:"20"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	ReminderLead     time.Duration `env:"REMINDER_LEAD" envDefault:"72h"`
	JobsPollInterval time.Duration `env:"JOBS_POLL_INTERVAL" envDefault:"2s"`

	ReconcileEnabled   bool          `env:"BILLING_RECONCILE_ENABLED" envDefault:"false"`
	ReconcileInterval  time.Duration `env:"BILLING_RECONCILE_INTERVAL" envDefault:"5m"`
	ReconcileBatchSize int           `env:"BILLING_RECONCILE_BATCH_SIZE" envDefault:"50"`
	ReconcileLockKey   int64         `env:"BILLING_RECONCILE_LOCK_KEY" envDefault:"4242001"`

	OTel otelx.Config
}
