package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/alerts"
	"github.com/stockpulse/backend/internal/api/handlers"
	rediscache "github.com/stockpulse/backend/internal/cache/redis"
	"github.com/stockpulse/backend/internal/health"
	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/metrics"
	"github.com/stockpulse/backend/internal/middleware/ratelimit"
	"github.com/stockpulse/backend/internal/middleware/security"
	"github.com/stockpulse/backend/internal/middleware/validation"
	"github.com/stockpulse/backend/internal/report"
	"github.com/stockpulse/backend/internal/storage/postgres"
	"github.com/stockpulse/backend/internal/storage/sqlite"
	"github.com/stockpulse/backend/pkg/circuitbreaker"
	"github.com/stockpulse/backend/pkg/config"
	appLogger "github.com/stockpulse/backend/pkg/logger"
	"github.com/stockpulse/backend/pkg/tracing"
)

const maxAlertLimit = 100

type dbPinger struct{ db *sql.DB }

func (p dbPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting StockPulse health engine")

	metrics.Init()

	shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing)
	if err != nil {
		appLogger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			appLogger.Warn("Trace exporter shutdown failed", zap.Error(err))
		}
	}()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()

	db, err := postgres.Open(startupCtx, cfg.Postgres)
	if err != nil {
		appLogger.Fatal("Failed to connect to operational store", zap.Error(err))
	}
	defer db.Close()

	breaker := circuitbreaker.NewCircuitBreaker("postgres", circuitbreaker.Config{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		Timeout:          time.Duration(cfg.Breaker.TimeoutSec) * time.Second,
		Logger:           appLogger.Log,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	metrics.BreakerState.WithLabelValues("postgres").Set(float64(circuitbreaker.StateClosed))

	source := inventory.NewShared(postgres.NewMetricsRepository(db, breaker))

	readiness := map[string]handlers.Pinger{
		"sqlite":   sqliteClient,
		"postgres": dbPinger{db: db},
	}

	var cache report.ReportCache
	if cfg.Redis.Enabled {
		redisClient, err := rediscache.NewClient(startupCtx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, report cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache = redisClient
			readiness["redis"] = redisClient
		}
	}

	calculator := health.NewCalculator(source, sqliteClient, health.Options{
		SubtaskTimeout: cfg.Engine.SubtaskTimeout(),
	})
	alertRepo := alerts.NewRepository(sqliteClient, cfg.Engine.AlertTTL(), nil)
	engine := report.NewEngine(
		calculator,
		alerts.DefaultDetectors(source, nil),
		alertRepo,
		sqliteClient,
		cache,
		report.Config{
			CriticalAlertLimit: cfg.Engine.CriticalAlertLimit,
			CacheTTL:           cfg.Engine.ReportCacheTTL(),
			SubtaskTimeout:     cfg.Engine.SubtaskTimeout(),
			SparklineDays:      cfg.Engine.SparklineDays,
		},
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ",")
	}

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Tenant-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.Log,
	})
	defer limiter.Stop()

	healthHandler := handlers.NewHealthHandler(readiness)
	reportHandler := handlers.NewReportHandler(engine, maxAlertLimit)
	alertHandler := handlers.NewAlertHandler(engine, maxAlertLimit)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	validationCfg := validation.Config{
		MaxLimit: maxAlertLimit,
		Logger:   appLogger.Log,
	}
	guarded := api.Group("", limiter.Middleware(), validation.Middleware(validationCfg))

	guarded.Get("/reports", reportHandler.GetReport)
	guarded.Get("/reports/export", reportHandler.ExportReport)
	guarded.Get("/alerts", alertHandler.ListAlerts)
	guarded.Post("/alerts/:id/dismiss", validation.DismissMiddleware(validationCfg), alertHandler.DismissAlert)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
