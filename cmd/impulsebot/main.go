// Command impulsebot runs the impulse-purchase cooldown bot: the Telegram
// update loop, the reminder scheduler and the ops HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Jeazzzy/UWantIt/internal/blob"
	"github.com/Jeazzzy/UWantIt/internal/bot"
	"github.com/Jeazzzy/UWantIt/internal/config"
	httpapi "github.com/Jeazzzy/UWantIt/internal/http"
	"github.com/Jeazzzy/UWantIt/internal/observability"
	"github.com/Jeazzzy/UWantIt/internal/ratelimit"
	"github.com/Jeazzzy/UWantIt/internal/reminder"
	"github.com/Jeazzzy/UWantIt/internal/render"
	"github.com/Jeazzzy/UWantIt/internal/repo"
	"github.com/Jeazzzy/UWantIt/internal/services"
	"github.com/Jeazzzy/UWantIt/internal/sysutil"
	"github.com/Jeazzzy/UWantIt/internal/telegram"
	"github.com/Jeazzzy/UWantIt/internal/userlock"
	"github.com/Jeazzzy/UWantIt/internal/wizard"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// @title                      impulsebot ops API
// @version                    1.0
// @description                Read-only, owner-scoped view of staged purchases.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		l := sysutil.SetupLogging(os.Stderr, "info", false)
		l.Error().Err(err).Msg("failed to load config")
		return 1
	}
	logger := sysutil.SetupLogging(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.HTTP.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set up tracing")
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
		return 1
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Error().Err(err).Msg("failed to migrate database")
		return 1
	}

	blobs, err := blob.New(cfg.PhotoDir)
	if err != nil {
		logger.Error().Err(err).Str("dir", cfg.PhotoDir).Msg("failed to open photo store")
		return 1
	}

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.SessionBackend).Msg("failed to open session store")
		return 1
	}
	defer closeSessions()

	tg, err := telegram.New(cfg.BotToken, cfg.TelegramDebug, logger.With().Str("component", "telegram").Logger())
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to telegram")
		return 1
	}

	var (
		rnd       = render.New(cfg.CurrencySymbol)
		purchases = services.NewPurchaseService(db, blobs)
		locks     = userlock.New()
	)
	machine := &wizard.Machine{
		Sessions:  sessions,
		Sink:      tg,
		Files:     tg,
		Blobs:     blobs,
		Purchases: purchases,
		Refs:      purchases,
		Render:    rnd,
		Log:       component(logger, "wizard"),
	}
	scheduler := &reminder.Scheduler{
		DB:       db,
		Sink:     tg,
		Photos:   blobs,
		Render:   rnd,
		Interval: cfg.ScanInterval,
		Log:      component(logger, "reminder"),
		Locks:    locks,
	}
	dispatcher := &bot.Bot{
		Wizard:     machine,
		Purchases:  purchases,
		Sink:       tg,
		Answers:    tg,
		Photos:     blobs,
		Render:     rnd,
		Limiter:    ratelimit.New(cfg.RateRPS, cfg.RateBurst),
		ListLimit:  cfg.ListLimit,
		WarningTTL: cfg.WarningTTL,
		Log:        component(logger, "bot"),
		Locks:      locks,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return tg.Run(gctx, dispatcher, cfg.UpdateWorkers) })

	if cfg.HTTP.Enabled {
		if cfg.HTTP.APIToken == "" {
			logger.Warn().Msg("HTTP_API_TOKEN not set; purchase API disabled")
		}
		engine := gin.New()
		httpapi.RegisterRoutes(engine, httpapi.Deps{
			Purchases: purchases,
			Ready: func() error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(gctx)
			},
		}, cfg)
		srv := httpapi.NewServer(cfg.HTTP, engine)

		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("ops server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	logger.Info().Str("version", version).Msg("impulsebot started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("impulsebot stopped with error")
		return 1
	}
	logger.Info().Msg("impulsebot stopped")
	return 0
}

func openSessions(ctx context.Context, cfg config.Config) (wizard.Sessions, func(), error) {
	if cfg.SessionBackend != config.SessionRedis {
		return wizard.NewMemorySessions(cfg.SessionIdleTTL), func() {}, nil
	}
	rs, err := wizard.NewRedisSessions(ctx, &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, cfg.SessionIdleTTL)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

func component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
