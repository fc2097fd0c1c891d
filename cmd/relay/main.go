package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vedikabops/splitstream/internal/relay"
)

func main() {
	cfg, err := loadConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
	logger := log.With().Str("service", "relay").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional: without it the relay serves a single instance.
	var bus *relay.RedisBus
	hubOpts := relay.HubOptions{MaxMessages: cfg.MaxMessages, Logger: &logger}
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis unreachable")
		}
		bus = relay.NewRedisBus(rdb, &logger)
		hubOpts.Publisher = bus
	}

	hub := relay.NewHub(hubOpts)
	srv := relay.NewServer(hub, relay.ServerOptions{
		FrontendBaseURL: cfg.FrontendBaseURL,
		JWTSecret:       cfg.JWTSecret,
		Bus:             bus,
		Logger:          &logger,
	})

	go hub.Run(ctx)
	go func() {
		if err := srv.RunRedisSubscriber(ctx, nil); err != nil {
			logger.Error().Err(err).Msg("redis subscriber stopped")
			stop()
		}
	}()

	r := srv.Router(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
	}()

	logger.Info().Str("port", cfg.Port).Bool("redis", bus != nil).Msg("relay listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("http server")
	}
	<-hub.Done()
	logger.Info().Msg("relay stopped")
}
