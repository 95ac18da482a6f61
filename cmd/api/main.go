package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/wishspace-backend/api/controllers"
	"github.com/angelmondragon/wishspace-backend/api/routes"
	"github.com/angelmondragon/wishspace-backend/internal/feed"
	"github.com/angelmondragon/wishspace-backend/internal/ledger"
	"github.com/angelmondragon/wishspace-backend/internal/likes"
	"github.com/angelmondragon/wishspace-backend/internal/sessions"
	"github.com/angelmondragon/wishspace-backend/internal/wishes"
	"github.com/angelmondragon/wishspace-backend/pkg/config"
	"github.com/angelmondragon/wishspace-backend/pkg/db"
	"github.com/angelmondragon/wishspace-backend/pkg/instance"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
	"github.com/angelmondragon/wishspace-backend/pkg/metrics"
	"github.com/angelmondragon/wishspace-backend/pkg/migrate"
	"github.com/angelmondragon/wishspace-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	feedMetrics := metrics.NewFeedMetrics(registry)

	store := ledger.WithRetry(ledger.NewGormStore(dbClient), ledger.RetryPolicy{
		Attempts:  cfg.Ledger.RetryAttempts,
		BaseDelay: cfg.Ledger.RetryBaseDelay,
		MaxDelay:  cfg.Ledger.RetryMaxDelay,
	})

	changeFeed := feed.New(feed.Options{
		QueueSize:  cfg.Feed.QueueSize,
		GapTimeout: cfg.Feed.GapTimeout,
		Metrics:    feedMetrics,
		Logger:     logg,
	})

	var (
		notifier    wishes.Notifier = changeFeed
		relay       *feed.Relay
		redisClient *redis.Client
		redisPinger redis.Pinger
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, redisClient.Close())
		}()
		relay, err = feed.NewRelay(feed.RelayParams{
			Feed:       changeFeed,
			Broker:     redisClient,
			Channel:    redisClient.ChannelKey(cfg.Redis.FeedChannel),
			InstanceID: instance.GetID(),
			Buffer:     cfg.Feed.RelayBuffer,
			Metrics:    feedMetrics,
			Logger:     logg,
		})
		if err != nil {
			return err
		}
		notifier = relay
		redisPinger = redisClient
	}

	wishRegistry, err := wishes.NewRegistry(wishes.RegistryParams{
		Store:    store,
		Notifier: notifier,
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	// start every wish at its committed version so replays are dropped
	existing, err := wishRegistry.ListAll(ctx)
	if err != nil {
		return err
	}
	seed := make(map[string]int64, len(existing))
	for _, w := range existing {
		seed[w.ID] = w.Version
	}
	changeFeed.Seed(seed)

	coordinator, err := likes.NewCoordinator(likes.CoordinatorParams{
		Store:       store,
		Notifier:    notifier,
		Metrics:     metrics.NewLikeMetrics(registry),
		Logger:      logg,
		MaxAttempts: cfg.Likes.MaxAttempts,
		BackoffBase: cfg.Likes.BackoffBase,
		BackoffMax:  cfg.Likes.BackoffMax,
	})
	if err != nil {
		return err
	}

	sessionManager, err := sessions.NewManager(sessions.ManagerParams{
		Feed:   changeFeed,
		Wishes: wishRegistry,
		Logger: logg,
	})
	if err != nil {
		return err
	}

	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		_ = changeFeed.Run(feedCtx)
	}()
	if relay != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := relay.Run(feedCtx); err != nil {
				logg.Error(feedCtx, "feed relay stopped", err)
			}
		}()
	}

	addr := ":" + cfg.App.Port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"relay":    relay != nil,
		"wishes":   len(existing),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:          dbClient,
			RedisPinger: redisPinger,
			Registry:    wishRegistry,
			Likes:       coordinator,
			OpenSession: controllers.SessionOpener(sessionManager),
			Gatherer:    registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		logg.Info(logCtx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// closing the feed ends every open stream with a going-away frame
	stopFeed()
	workers.Wait()
	err = multierr.Append(err, server.Shutdown(shutdownCtx))

	logg.Info(logCtx, "api server stopped")
	return err
}
