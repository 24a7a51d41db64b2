package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appbilling "github.com/orbitpanel/backend/internal/application/billing"
	appidentity "github.com/orbitpanel/backend/internal/application/identity"
	appservers "github.com/orbitpanel/backend/internal/application/servers"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/orbitpanel/backend/internal/infrastructure/auth"
	"github.com/orbitpanel/backend/internal/infrastructure/cache"
	"github.com/orbitpanel/backend/internal/infrastructure/compute"
	"github.com/orbitpanel/backend/internal/infrastructure/config"
	"github.com/orbitpanel/backend/internal/infrastructure/logger"
	"github.com/orbitpanel/backend/internal/infrastructure/persistence"
	"github.com/orbitpanel/backend/internal/infrastructure/scheduler"
	"github.com/orbitpanel/backend/internal/infrastructure/telemetry"
	"github.com/orbitpanel/backend/internal/interfaces/http/handler"
	"github.com/orbitpanel/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Orbit Panel backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Initialize tracing before anything that creates spans
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := telemetry.RegisterDBTracing(db.DB, cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled, log); err != nil {
		log.Warn("Failed to register database tracing", zap.Error(err))
	}

	// Initialize repositories
	accountRepo := persistence.NewGormAccountRepository(db.DB)
	serverRepo := persistence.NewGormServerRepository(db.DB)
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)
	transactionRepo := persistence.NewGormTransactionRepository(db.DB)
	walletRepo := persistence.NewGormWalletRepository(db.DB)
	settlementStore := persistence.NewGormSettlementStore(db.DB)

	// Compute agent client for server provisioning and teardown
	agentClient, err := compute.NewAgentClient(cfg.Compute, log)
	if err != nil {
		log.Fatal("Failed to initialize compute agent client", zap.Error(err))
	}

	// Teardown retires the registry row after the agent destroys the
	// instance, so expiry reclaims leave no orphaned server records.
	teardown := appservers.NewTeardown(agentClient, serverRepo, log)

	// Initialize application services
	lifecycleService := appbilling.NewLifecycleService(
		subscriptionRepo,
		transactionRepo,
		walletRepo,
		settlementStore,
		teardown,
		appbilling.Intervals{
			Payment: cfg.Billing.PaymentInterval,
			Expire:  cfg.Billing.ExpireInterval,
		},
		log,
	)

	idempotencyStore := cache.NewIdempotencyStore(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log)
	defer func() {
		if err := idempotencyStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	topUpService := appbilling.NewTopUpService(
		lifecycleService,
		transactionRepo,
		idempotencyStore,
		shared.DefaultIdempotencyConfig(),
		log,
	)
	walletService := appbilling.NewWalletService(walletRepo, transactionRepo, settlementStore, log)

	jwtService := auth.NewJWTService(cfg.JWT)
	authService := appidentity.NewAuthService(accountRepo, jwtService, log)

	serverService := appservers.NewService(serverRepo, lifecycleService, agentClient, log)

	// Billing scheduler drives overdue and expiry checks
	billingScheduler := scheduler.NewBillingScheduler(lifecycleService, log, scheduler.BillingSchedulerConfig{
		Enabled:              cfg.Billing.SchedulerEnabled,
		OverdueCheckInterval: cfg.Billing.OverdueCheckInterval,
		ExpiredCheckInterval: cfg.Billing.ExpiredCheckInterval,
		MaxCheckInstances:    cfg.Billing.MaxCheckInstances,
	})
	if err := billingScheduler.Start(context.Background()); err != nil {
		log.Fatal("Failed to start billing scheduler", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := billingScheduler.Stop(stopCtx); err != nil {
			log.Error("Error stopping billing scheduler", zap.Error(err))
		}
	}()

	// Initialize HTTP handlers
	authHandler := handler.NewAuthHandler(authService)
	walletHandler := handler.NewWalletHandler(walletService, topUpService)
	serverHandler := handler.NewServerHandler(serverService)
	subscriptionHandler := handler.NewSubscriptionHandler(lifecycleService)
	systemHandler := handler.NewSystemHandler(lifecycleService, billingScheduler, cfg.IsProduction())

	// Build the router and register route groups
	r := router.New(cfg, log).
		Public(authHandler, systemHandler).
		Protected(authHandler, walletHandler, serverHandler, subscriptionHandler, systemHandler)
	engine := r.Setup(jwtService, log)

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
