package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/roulette-signaling/config"
	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/friends"
	"github.com/mossy-p/roulette-signaling/internal/handlers"
	"github.com/mossy-p/roulette-signaling/internal/logging"
	"github.com/mossy-p/roulette-signaling/internal/matchmaking"
	"github.com/mossy-p/roulette-signaling/internal/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("signaling server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Init(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Friendship storage
	var (
		store  friends.Store
		pinger handlers.Pinger
	)
	switch cfg.Friends.Backend {
	case "memory":
		logger.Warn("using in-memory friend store, friendships will not survive a restart")
		store = friends.NewMemoryStore()
	default:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		logger.Info("redis connection established", "addr", cfg.Redis.Addr())

		store = friends.NewRedisStore(client)
		pinger = redis.Pinger{Client: client}
	}

	// Shared matchmaking state and its reaper
	clk := clock.Real()
	state := matchmaking.NewState(matchmaking.Options{
		Clock:         clk,
		Logger:        logger.With("component", "matchmaking"),
		MaxChatLength: cfg.Matchmaking.MaxChatLength,
	})
	reaper := matchmaking.NewReaper(state, cfg.Matchmaking.ReapInterval, cfg.Matchmaking.IdleTimeout, clk,
		logger.With("component", "reaper"))

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	signaling := handlers.NewSignalingHandler(state, cfg.AllowedOrigins, logger.With("component", "signaling"))
	router := handlers.NewRouter(handlers.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		Signaling:      signaling,
		Friends: handlers.NewFriendsHandler(store, friends.Limits{
			Free:    cfg.Friends.Limit,
			Premium: cfg.Friends.PremiumLimit,
		}, logger.With("component", "friends")),
		Status: handlers.NewStatusHandler(state, clk, pinger),
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		reaper.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting signaling server", "port", cfg.Port, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Hijacked websockets are not tracked by Shutdown.
	if closed := state.CloseAll(); len(closed) > 0 {
		logger.Info("closed connections on shutdown", "count", len(closed))
	}
	stop()
	<-reaperDone
	signaling.Wait()
	return nil
}
