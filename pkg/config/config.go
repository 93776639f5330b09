package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	LockBackendMemory   = "memory"
	LockBackendPostgres = "postgres"

	JobDisabled = "off"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Stripe   StripeConfig
	Email    EmailConfig
	Billing  BillingConfig
	Jobs     JobsConfig
	Log      LogConfig
	Seed     SeedConfig
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type DatabaseConfig struct {
	URL          string `env:"DATABASE_URL,required,notEmpty"`
	MaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"100"`
}

type JWTConfig struct {
	Secret string        `env:"JWT_SECRET,required,notEmpty"`
	TTL    time.Duration `env:"JWT_TTL" envDefault:"72h"`
}

type StripeConfig struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY,required,notEmpty"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required,notEmpty"`
	Timeout       time.Duration `env:"STRIPE_TIMEOUT" envDefault:"30s"`
}

type EmailConfig struct {
	// Without a key notifications are logged instead of sent.
	ResendAPIKey string `env:"RESEND_API_KEY"`
	From         string `env:"EMAIL_FROM" envDefault:"Membership <billing@example.com>"`
}

type BillingConfig struct {
	ReenrollmentFee decimal.Decimal `env:"REENROLLMENT_FEE" envDefault:"99.00"`
	Currency        string          `env:"BILLING_CURRENCY" envDefault:"usd"`
	LockBackend     string          `env:"LOCK_BACKEND" envDefault:"memory"`
}

// JobsConfig holds the cron specs of the scheduled jobs. The spec "off"
// disables a job.
type JobsConfig struct {
	CancellationSweep   string `env:"JOB_CANCELLATION_SWEEP" envDefault:"0 * * * *"`
	ReenrollmentNotices string `env:"JOB_REENROLLMENT_NOTICES" envDefault:"0 9 * * *"`
	RenewalNotices      string `env:"JOB_RENEWAL_NOTICES" envDefault:"0 10 * * *"`
	Concurrency         int    `env:"JOB_CONCURRENCY" envDefault:"4"`
	NoticeLeadDays      int    `env:"NOTICE_LEAD_DAYS" envDefault:"7"`
	RenewalLeadDays     int    `env:"RENEWAL_LEAD_DAYS" envDefault:"30"`
}

// SeedConfig names the dentist whose default plans are seeded at startup.
// Zero disables seeding.
type SeedConfig struct {
	DentistID uint `env:"SEED_DENTIST_ID" envDefault:"0"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse builds the configuration from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Billing.LockBackend {
	case LockBackendMemory, LockBackendPostgres:
	default:
		return errors.Newf("unknown lock backend %q", c.Billing.LockBackend)
	}
	if c.Billing.ReenrollmentFee.IsNegative() {
		return errors.New("re-enrollment fee must not be negative")
	}
	if len(c.Billing.Currency) != 3 {
		return errors.Newf("invalid currency %q", c.Billing.Currency)
	}
	if c.Jobs.Concurrency <= 0 {
		return errors.New("job concurrency must be positive")
	}
	if c.Jobs.NoticeLeadDays < 0 || c.Jobs.RenewalLeadDays < 0 {
		return errors.New("notice lead days must not be negative")
	}
	return nil
}
