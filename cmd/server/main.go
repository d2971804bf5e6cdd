package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/studio-reservation/internal/app"
	"github.com/iliyamo/studio-reservation/internal/config"
	"github.com/iliyamo/studio-reservation/internal/handler"
	"github.com/iliyamo/studio-reservation/internal/metrics"
	"github.com/iliyamo/studio-reservation/internal/middleware"
	"github.com/iliyamo/studio-reservation/internal/notify"
	"github.com/iliyamo/studio-reservation/internal/router"
	"github.com/iliyamo/studio-reservation/internal/scheduler"
)

func main() {
	cfg := config.Load()
	log := config.SetupLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(log)

	gw, err := config.LoadGateway()
	if err != nil {
		log.Error("gateway config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, gw, nil, log)
	if err != nil {
		log.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	if cfg.MetricsEnabled {
		metrics.Register(nil)
	}

	sched, err := scheduler.New(scheduler.Config{
		ExpireSchedule:   cfg.ExpireSchedule,
		PendingExpiry:    cfg.PendingExpiry,
		GenerateSchedule: cfg.GenerateSchedule,
		GenerateDays:     cfg.GenerateDays,
	}, a.Engine, a.Generator, log)
	if err != nil {
		log.Error("scheduler config", slog.Any("error", err))
		os.Exit(1)
	}
	sched.Start()

	if cfg.RabbitMQURL != "" {
		consumer := notify.NewConsumer(cfg.RabbitMQURL, app.Sender(cfg, log), log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("notification consumer stopped", slog.Any("error", err))
			}
		}()
	}

	rdb := config.NewRedisClient(log)
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb)
	var limiter echo.MiddlewareFunc
	if rdb != nil {
		limiter = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = middleware.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			log.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			return nil
		},
	}))

	router.Register(e, router.Handlers{
		Occurrences:  handler.NewOccurrenceHandler(a.Store),
		Reservations: handler.NewReservationHandler(a.Engine, cache),
		Webhooks:     handler.NewWebhookHandler(a.Rails, a.Reconciler, cache, log),
		Membership:   handler.NewMembershipHandler(a.Members),
		Admin:        handler.NewAdminHandler(a.Store, a.Engine, a.Generator, a.Ledger, cache),
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		Cache:     cache,
		RateLimit: limiter,
		Metrics:   cfg.MetricsEnabled,
	})

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", slog.String("addr", addr), slog.String("env", cfg.Env), slog.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", slog.Any("error", err))
	}
	sched.Stop(shutdownCtx)
	if rdb != nil {
		_ = rdb.Close()
	}
}
