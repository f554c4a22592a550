package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/cache"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/config"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/httpapi"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/service"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/store"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/store/memory"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer func() { _ = pg.Close() }()
		repo = pg
		log.Printf("store: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Printf("store: in-memory (no DATABASE_URL set)")
	}

	if err := httpapi.EnsureUsers(ctx, repo, cfg.BootstrapAdminPassword, cfg.BootstrapManagerPassword); err != nil {
		log.Fatalf("bootstrap users: %v", err)
	}

	var prices cache.PriceCache = cache.NoopPriceCache{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("redis: ping failed, price cache disabled: %v", err)
		} else {
			prices = cache.NewRedisPriceCache(client)
			defer func() { _ = client.Close() }()
			log.Printf("cache: redis at %s", cfg.RedisAddr)
		}
	}

	svc := service.New(repo, prices)
	auth := httpapi.NewAuthManager(repo, cfg.JWTSecret, cfg.TokenTTL)
	api := httpapi.New(svc, auth)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("http: listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http: shutdown: %v", err)
	}
}
