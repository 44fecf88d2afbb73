package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/controller"
	"fundpage_backend/internal/middleware"
	"fundpage_backend/internal/repository"
	"fundpage_backend/pkg/config"
	"fundpage_backend/pkg/cron"
	"fundpage_backend/pkg/database"
	"fundpage_backend/pkg/email"
	stripegw "fundpage_backend/pkg/gateway/stripe"
	"fundpage_backend/pkg/storage"
	"fundpage_backend/pkg/utils/jwt"
)

func setupRoutes(app *fiber.App, sc *controller.SubscriptionController, verifier *jwt.Verifier) {
	api := app.Group("/api")

	// Webhooks are authenticated by signature, not by bearer token.
	api.Post("/webhook", sc.HandleWebhook)

	subscriptions := api.Group("/subscriptions")
	subscriptions.Get("/plans", sc.ListPlans)

	protected := subscriptions.Use(middleware.AuthMiddleware(verifier))
	protected.Post("/", sc.Create)
	protected.Get("/my", sc.GetMySubscription)
	protected.Post("/:id/cancel", sc.Cancel)
	protected.Post("/:id/pause", sc.Pause)
	protected.Post("/:id/resume", sc.Resume)
	protected.Post("/:id/reactivate", sc.Reactivate)
	protected.Post("/:id/change-plan", sc.ChangePlan)
	protected.Post("/:id/payment-method", sc.UpdatePaymentMethod)
	protected.Post("/:id/usage", sc.RecordUsage)
	protected.Get("/:id/access", sc.CheckAccess)
	protected.Get("/:id/cycles", sc.ListCycles)
}

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.Connect(cfg.Database.URL)
	if err != nil {
		logger.Fatal("could not connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("could not run migrations", zap.Error(err))
	}

	// Persistence
	subs := repository.NewSubscriptionRepository(db)
	cycles := repository.NewBillingCycleRepository(db)
	invoices := repository.NewInvoiceRepository(db)
	usage := repository.NewUsageRepository(db)
	events := repository.NewWebhookEventRepository(db)
	notices := repository.NewDunningNoticeRepository(db)
	users := repository.NewUserRepository(db)
	tiers := repository.NewTierRepository(db)

	// Gateway, notifications, receipt archive
	gateway := stripegw.New(cfg.Stripe.SecretKey, time.Duration(cfg.Stripe.TimeoutSeconds)*time.Second)
	notifier, err := email.NewService(cfg.Email.ResendAPIKey, cfg.Email.From, logger)
	if err != nil {
		logger.Fatal("could not build email service", zap.Error(err))
	}

	var archiver billing.ReceiptArchiver
	if cfg.Storage.ReceiptBucket != "" {
		receipts, err := storage.NewReceiptStore(context.Background(), cfg.Storage.ReceiptBucket, cfg.Storage.Region)
		if err != nil {
			logger.Warn("receipt archive disabled", zap.Error(err))
		} else {
			archiver = receipts
		}
	}

	// Billing services
	lifecycle := billing.NewLifecycle(subs, cycles, usage, users, tiers, gateway, notifier, logger)
	cycleManager := billing.NewCycleManager(cycles, subs, gateway, logger)
	recovery := billing.NewRecovery(subs, notices, gateway, lifecycle, notifier,
		time.Duration(cfg.Billing.GraceWarningHours)*time.Hour, logger)
	processor := billing.NewWebhookProcessor(cfg.Stripe.WebhookSecret, events, invoices, subs,
		lifecycle, notifier, archiver, cfg.Billing.GracePeriodDays, logger)

	scheduler := cron.NewScheduler(recovery, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("could not start billing sweeps", zap.Error(err))
	}
	defer scheduler.Stop()

	verifier := jwt.NewVerifier(cfg.JWT.Secret)
	sc := controller.NewSubscriptionController(lifecycle, recovery, cycleManager, processor, subs, tiers, logger)

	app := fiber.New(fiber.Config{
		AppName: "FundPage Billing API",
	})
	app.Use(cors.New())
	app.Use(fiberlogger.New())

	setupRoutes(app, sc, verifier)

	logger.Info("starting server", zap.String("port", cfg.Server.Port))
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
