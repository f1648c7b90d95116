package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/atelier/server/internal/module/catalog"
	"github.com/atelier/server/internal/module/customer"
	"github.com/atelier/server/internal/module/payment"
	paymentprovider "github.com/atelier/server/internal/module/payment/provider"
	"github.com/atelier/server/internal/module/task"
	"github.com/atelier/server/internal/module/user"
	"github.com/atelier/server/internal/shared/cache"
	"github.com/atelier/server/internal/shared/config"
	"github.com/atelier/server/internal/shared/database"
	"github.com/atelier/server/internal/shared/logger"
	"github.com/atelier/server/internal/shared/metrics"
	"github.com/atelier/server/internal/shared/middleware"
)

// App wires configuration, storage and the modules into one HTTP server.
type App struct {
	config  *config.Config
	db      *gorm.DB
	redis   redis.UniversalClient
	router  *gin.Engine
	logger  *logger.Logger
	metrics *metrics.Metrics

	paymentHandler *payment.Handler
	webhookHandler *payment.WebhookHandler
	catalogHandler *catalog.Handler
	taskHandler    *task.Handler
}

// New creates the application.
func New(cfg *config.Config) (*App, error) {
	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	app := &App{
		config:  cfg,
		logger:  log,
		metrics: metrics.New("atelier"),
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.db = db

	if err := db.AutoMigrate(
		&user.User{},
		&catalog.Item{},
		&customer.Customer{},
		&task.Task{},
		&payment.Transaction{},
		&payment.Installment{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	if cfg.Redis.Address != "" {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			// The webhook dedup cache is optional; the ledger's unique
			// index still guarantees idempotency without it.
			log.Warn("redis unavailable, webhook dedup cache disabled", logger.Err(err))
		} else {
			app.redis = redisClient
		}
	}

	if err := app.initModules(); err != nil {
		return nil, fmt.Errorf("init modules: %w", err)
	}
	app.router = app.setupRouter()
	return app, nil
}

func (a *App) initModules() error {
	userRepo := user.NewRepository(a.db)
	catalogRepo := catalog.NewRepository(a.db)
	customerRepo := customer.NewRepository(a.db)
	taskRepo := task.NewRepository(a.db)
	paymentRepo := payment.NewRepository(a.db)

	registry := payment.NewProviderRegistry(a.config.Payment.DefaultProvider)
	if a.config.Paystack.SecretKey != "" {
		registry.Register(paymentprovider.NewPaystack(paymentprovider.PaystackConfig{
			SecretKey:     a.config.Paystack.SecretKey,
			WebhookSecret: a.config.Paystack.WebhookSecret,
			BaseURL:       a.config.Paystack.BaseURL,
		}, a.logger))
	}
	if a.config.Stripe.SecretKey != "" {
		registry.Register(paymentprovider.NewStripe(paymentprovider.StripeConfig{
			APIKey:        a.config.Stripe.SecretKey,
			WebhookSecret: a.config.Stripe.WebhookSecret,
		}))
	}
	if a.config.Alipay.AppID != "" {
		alipay, err := paymentprovider.NewAlipay(paymentprovider.AlipayConfig{
			AppID:           a.config.Alipay.AppID,
			PrivateKey:      a.config.Alipay.PrivateKey,
			AlipayPublicKey: a.config.Alipay.AlipayPublicKey,
			IsProd:          a.config.Alipay.IsProd,
			NotifyURL:       a.config.Server.BaseURL + "/webhooks/alipay",
		})
		if err != nil {
			return fmt.Errorf("init alipay provider: %w", err)
		}
		registry.Register(alipay)
	}
	if len(registry.List()) == 0 {
		return fmt.Errorf("no payment provider configured")
	}

	users := &userReader{repo: userRepo}
	items := &itemReader{repo: catalogRepo}

	planner := payment.NewPlanner(payment.PlannerConfig{
		DefaultPeriods: a.config.Payment.DefaultPeriods,
		StudentPeriods: a.config.Payment.StudentPeriods,
		SuitPeriods:    a.config.Payment.SuitPeriods,
	})
	reconciler := payment.NewReconciler(
		paymentRepo,
		users,
		items,
		&customerResolver{repo: customerRepo},
		&taskWriter{repo: taskRepo},
		payment.ReconcilerConfig{
			FulfillmentLead: a.config.Payment.FulfillmentLead,
			DeadlineBuffer:  a.config.Payment.DeadlineBuffer,
		},
		a.logger,
		a.metrics,
	)
	paymentService := payment.NewService(
		paymentRepo,
		registry,
		planner,
		reconciler,
		users,
		items,
		a.redis,
		payment.ServiceConfig{
			DefaultCurrency: a.config.Payment.DefaultCurrency,
			SuccessURL:      a.config.Server.BaseURL + a.config.Payment.SuccessPath,
			CancelURL:       a.config.Server.BaseURL + a.config.Payment.CancelPath,
			WebhookDedupTTL: a.config.Payment.WebhookDedupTTL,
		},
		a.logger,
		a.metrics,
	)

	a.paymentHandler = payment.NewHandler(paymentService)
	a.webhookHandler = payment.NewWebhookHandler(paymentService, a.logger)
	a.catalogHandler = catalog.NewHandler(catalogRepo)
	a.taskHandler = task.NewHandler(taskRepo)
	return nil
}

func (a *App) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.Recovery(a.logger),
		middleware.RequestID(),
		middleware.Logging(a.logger),
		middleware.Metrics(a.metrics),
		middleware.CORS(middleware.DefaultCORSConfig()),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhook authenticity comes from payload signatures, not bearer
	// tokens, so these stay outside the auth middleware.
	public := router.Group("/")
	a.webhookHandler.RegisterRoutes(public)
	a.catalogHandler.RegisterRoutes(public)

	validator := middleware.NewJWTValidator(a.config.Auth.JWTSecret)
	authed := router.Group("/", middleware.RequireAuth(validator))
	a.paymentHandler.RegisterRoutes(authed)

	staff := authed.Group("/", middleware.RequireRole("staff"))
	a.taskHandler.RegisterRoutes(staff)

	return router
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases the application's resources.
func (a *App) Stop() {
	if a.redis != nil {
		if err := cache.Close(a.redis); err != nil {
			a.logger.Warn("close redis", logger.Err(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("close database", logger.Err(err))
	}
}
