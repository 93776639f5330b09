package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"membership_backend/internal/billing"
	"membership_backend/internal/controller"
	"membership_backend/internal/gateway"
	"membership_backend/internal/middleware"
	"membership_backend/internal/repository"
	"membership_backend/pkg/config"
	"membership_backend/pkg/cron"
	"membership_backend/pkg/database"
	"membership_backend/pkg/email"
	"membership_backend/pkg/logger"
	"membership_backend/pkg/seed"
	"membership_backend/pkg/utils/jwt"
)

func setupRoutes(app *fiber.App, subscriptions *controller.SubscriptionController, tokens *jwt.Manager) {
	api := app.Group("/api")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	subscriptions.RegisterRoutes(api, middleware.AuthMiddleware(tokens))
}

func newLocker(cfg config.BillingConfig, db *gorm.DB, log *logger.Logger) billing.Locker {
	if cfg.LockBackend == config.LockBackendPostgres {
		return repository.NewAdvisoryLocker(db, log.Named("locks").SugaredLogger)
	}
	return billing.NewKeyedMutex()
}

func newSender(cfg config.EmailConfig, log *logger.Logger) (email.Sender, error) {
	if cfg.ResendAPIKey == "" {
		log.Warn("RESEND_API_KEY is not set, notifications will only be logged")
		return email.NewLogSender(log.Named("email").SugaredLogger), nil
	}
	return email.NewResendSender(cfg.ResendAPIKey)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Fatalw("could not connect to database", "error", err)
	}
	if err := database.Migrate(db, log, database.Models()...); err != nil {
		log.Warnw("migration warning", "error", err)
	}

	plans := repository.NewMembershipRepository(db)
	if cfg.Seed.DentistID != 0 {
		if err := seed.SeedMembershipPlans(context.Background(), plans, cfg.Seed.DentistID, log); err != nil {
			log.Fatalw("could not seed membership plans", "error", err)
		}
	}

	sender, err := newSender(cfg.Email, log)
	if err != nil {
		log.Fatalw("could not initialize email service", "error", err)
	}
	notifier, err := email.NewNotifier(sender, cfg.Email.From, cfg.Jobs.Concurrency, log.SugaredLogger)
	if err != nil {
		log.Fatalw("could not initialize notifier", "error", err)
	}
	defer notifier.Close()

	ledger := repository.NewLedgerRepository(db)
	svc := billing.NewService(billing.Params{
		Subscriptions:   repository.NewSubscriptionRepository(db),
		Users:           repository.NewUserRepository(db),
		Memberships:     plans,
		PaymentProfiles: repository.NewPaymentProfileRepository(db),
		Penalties:       ledger,
		Reconciliations: ledger,
		Notifier:        notifier,
		Gateway:         gateway.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.Timeout, log.Named("stripe").SugaredLogger),
		Locker:          newLocker(cfg.Billing, db, log),
		Logger:          log.SugaredLogger,
		ReenrollmentFee: billing.Fee{Amount: cfg.Billing.ReenrollmentFee, Currency: cfg.Billing.Currency},
		JobConcurrency:  cfg.Jobs.Concurrency,
	})

	scheduler, err := cron.NewScheduler(svc, cfg.Jobs, log)
	if err != nil {
		log.Fatalw("could not initialize scheduled jobs", "error", err)
	}
	scheduler.Start()

	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.TTL)
	subscriptions := controller.NewSubscriptionController(svc, cfg.Stripe.WebhookSecret, log.SugaredLogger)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New())

	setupRoutes(app, subscriptions, tokens)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infow("server is running", "port", cfg.Server.Port)
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Errorw("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		log.Errorw("could not shut down server", "error", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-time.After(cfg.Server.ShutdownTimeout):
		log.Warn("scheduled jobs still running at shutdown")
	}
}
