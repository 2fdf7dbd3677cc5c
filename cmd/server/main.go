package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oggyb/crewsnow/internal/analytics"
	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/cache"
	"github.com/oggyb/crewsnow/internal/config"
	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/logger"
	"github.com/oggyb/crewsnow/internal/repository"
	"github.com/oggyb/crewsnow/internal/server"
	"github.com/oggyb/crewsnow/internal/service/billing"
	"github.com/oggyb/crewsnow/internal/service/consent"
	"github.com/oggyb/crewsnow/internal/service/explore"
	"github.com/oggyb/crewsnow/internal/service/gatekeeper"
	"github.com/oggyb/crewsnow/internal/service/matching"
	"github.com/oggyb/crewsnow/internal/service/messaging"
	"github.com/oggyb/crewsnow/internal/service/swipe"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB (migrates)
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		os.Exit(1)
	}

	// Init Redis
	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(ctx); err != nil {
		log.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}

	appCtx := app.New(cfg, database, redisCache, log)

	// flushed by Stop on shutdown, not by ctx
	forwarder := analytics.NewFromConfig(cfg, log)
	forwarder.Start(context.Background())
	appCtx.Analytics = forwarder

	if cfg.App.ENV == "development" {
		if err := db.SeedTestData(database, db.SeedOptions{}); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, every bearer token will be rejected")
	}
	resolver := auth.NewResolver(auth.NewVerifierFromConfig(cfg), repository.NewUserRepository(database), log).
		WithGrants(appCtx.Grants)

	health := server.NewHealth(appCtx)
	router := server.NewRouter(log, health,
		gatekeeper.NewRegistrar(appCtx, resolver),
		matching.NewRegistrar(appCtx, resolver),
		swipe.NewRegistrar(appCtx, resolver),
		messaging.NewRegistrar(appCtx, resolver),
		explore.NewRegistrar(appCtx, resolver),
		consent.NewRegistrar(appCtx, resolver),
		billing.NewRegistrar(appCtx),
	)
	httpServer := server.NewHTTPServer(cfg, router)

	healthRegistrar := server.NewHealthRegistrar(health, 15*time.Second, log)
	go healthRegistrar.Watch(ctx)

	go func() {
		log.Info("starting gRPC server", "addr", cfg.GRPC.Host+":"+cfg.GRPC.Port)
		if err := server.StartGRPCServer(ctx, cfg, healthRegistrar); err != nil {
			log.Error("gRPC server stopped", "err", err)
			stop()
		}
	}()

	go func() {
		log.Info("starting HTTP server", "addr", httpServer.Addr, "prefix", server.FunctionsPrefix)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	if err := forwarder.Stop(shutdownCtx); err != nil {
		log.Warn("analytics flush incomplete", "err", err)
	}
	if err := redisCache.Client.Close(); err != nil {
		log.Warn("redis close", "err", err)
	}
}
