package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/velored/meetmedia/internal/adapters/http"
	sig "github.com/velored/meetmedia/internal/adapters/signal"
	"github.com/velored/meetmedia/internal/app"
	"github.com/velored/meetmedia/internal/config"
	"github.com/velored/meetmedia/internal/core"
	"github.com/velored/meetmedia/internal/media/msoup"
	"github.com/velored/meetmedia/internal/presence"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := rc.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("presence store unreachable, joins will fail until it is back")
	}
	pingCancel()

	engine := msoup.NewEngine(msoup.Options{
		AnnouncedIP: cfg.AnnouncedIP,
		RTCMinPort:  cfg.RTCMinPort,
		RTCMaxPort:  cfg.RTCMaxPort,
		LogLevel:    cfg.WorkerLogLevel,
	})

	// A dead worker takes every room it hosts with it. The pool does not
	// respawn; terminate and let the supervisor restart the process.
	pool, err := core.NewWorkerPool(ctx, engine, cfg.NumWorkers, func(err error) {
		log.Fatal().Err(err).Msg("media worker died, shutting down")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start worker pool")
	}

	registry := core.NewRegistry(pool)
	orch := &app.Orchestrator{
		Registry: registry,
		Presence: presence.NewRedisStore(rc),
	}
	ctl := &sig.Controller{
		Orch:       orch,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	}

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("meetmedia server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	registry.Close()
	pool.Close()
	_ = rc.Close()
	log.Info().Msg("Server exited gracefully")
}
