package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finpulse/alert-engine/internal/adapters"
	"github.com/finpulse/alert-engine/internal/calendar"
	"github.com/finpulse/alert-engine/internal/config"
	"github.com/finpulse/alert-engine/internal/evaluator"
	"github.com/finpulse/alert-engine/internal/notify"
	"github.com/finpulse/alert-engine/internal/observ"
	"github.com/finpulse/alert-engine/internal/scheduler"
	"github.com/finpulse/alert-engine/internal/store"
	"github.com/finpulse/alert-engine/internal/transport"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "config path (defaults apply when empty)")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	cal, err := calendar.New(cfg.Markets)
	if err != nil {
		log.Fatalf("build trading calendar: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	alertStore, closeStore := buildStore(ctx, cfg.Mongo)
	defer closeStore()

	var lastGood adapters.LastGood
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		lastGood = adapters.NewLastGoodCache(rdb, time.Duration(cfg.Redis.TTLHours)*time.Hour)
	}

	fetcher := adapters.NewBatchFetcher(
		buildProvider(cfg.Provider, cfg.Fallback),
		adapters.NewFallbackTable(cfg.Fallback),
		lastGood,
		adapters.BatchFetcherConfig{
			ChunkSize: cfg.Provider.ChunkSize,
			Pacing:    time.Duration(cfg.Provider.PacingMs) * time.Millisecond,
		},
	)

	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	if cfg.Notifier.WebhookURL != "" {
		wd := notify.NewWebhookDispatcher(notify.WebhookConfig{
			URL:            cfg.Notifier.WebhookURL,
			QueueSize:      cfg.Notifier.QueueSize,
			DedupeWindow:   time.Duration(cfg.Notifier.DedupeWindowSeconds) * time.Second,
			MaxRetries:     cfg.Notifier.MaxRetries,
			BackoffBase:    time.Duration(cfg.Notifier.BackoffBaseMs) * time.Millisecond,
			TimeoutSeconds: cfg.Notifier.TimeoutSeconds,
		})
		defer wd.Close()
		dispatcher = wd
	}

	engine := evaluator.New(alertStore, fetcher, cal, dispatcher)

	sched := scheduler.New(engine, cal,
		time.Duration(cfg.Scheduler.IntervalSeconds)*time.Second,
		cfg.Scheduler.RunWhenClosed)
	if err := sched.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: transport.NewServer(cal, fetcher, engine).Router(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	observ.Log("startup", map[string]any{
		"addr":             cfg.HTTP.Addr,
		"markets":          len(cfg.Markets),
		"interval_seconds": cfg.Scheduler.IntervalSeconds,
		"mongo":            cfg.Mongo.URI != "",
		"redis":            cfg.Redis.Addr != "",
		"webhook":          cfg.Notifier.WebhookURL != "",
	})

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		observ.LogError("http_shutdown_failed", err, nil)
	}
	observ.Log("shutdown", nil)
}

// buildStore connects to Mongo when a URI is configured and falls back to the
// in-memory store otherwise (local runs, demos).
func buildStore(ctx context.Context, cfg config.Mongo) (store.AlertStore, func()) {
	if cfg.URI == "" {
		observ.Log("store_memory", nil)
		return store.NewMemoryStore(), func() {}
	}
	ms, err := store.NewMongoStore(ctx, cfg.URI, cfg.Database, cfg.Collection)
	if err != nil {
		log.Fatalf("connect mongo: %v", err)
	}
	observ.Log("store_mongo", map[string]any{"database": cfg.Database, "collection": cfg.Collection})
	return ms, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ms.Close(closeCtx)
	}
}

// buildProvider uses the HTTP provider when a base URL is configured and the
// random-walk simulator otherwise, so the daemon runs without upstream access.
func buildProvider(cfg config.Provider, seed []adapters.FallbackQuote) adapters.QuoteProvider {
	if cfg.BaseURL == "" {
		observ.Log("provider_sim", map[string]any{"seed_symbols": len(seed)})
		return adapters.NewSimProvider(seed)
	}
	return adapters.NewHTTPProvider(adapters.ProviderConfig{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey(),
		RatePerSecond:  cfg.RatePerSecond,
		TimeoutSeconds: cfg.TimeoutSeconds,
	})
}
