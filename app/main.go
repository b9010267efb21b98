package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/trend-comb/app/api"
	"github.com/lysyi3m/trend-comb/app/cache"
	"github.com/lysyi3m/trend-comb/app/cfg"
	"github.com/lysyi3m/trend-comb/app/feed"
	"github.com/lysyi3m/trend-comb/app/ledger"
	"github.com/lysyi3m/trend-comb/app/publish"
	"github.com/lysyi3m/trend-comb/app/ratelimit"
	"github.com/lysyi3m/trend-comb/app/source"
	"github.com/lysyi3m/trend-comb/app/store"
	"github.com/lysyi3m/trend-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting Trend Comb server", "version", cfg.GetVersion(), "store", appCfg.StoreDriver)

	ctx := context.Background()

	st, err := store.Open(ctx, store.Options{
		Driver:        appCfg.StoreDriver,
		RedisAddr:     appCfg.RedisAddr,
		RedisPassword: appCfg.RedisPassword,
		RedisDB:       appCfg.RedisDB,
		SQLitePath:    appCfg.SQLitePath,
	})
	if err != nil {
		slog.Error("Failed to open store", "driver", appCfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	configCache := source.NewConfigCache(appCfg.SourcesDir)
	if err := configCache.Run(); err != nil {
		slog.Error("Failed to load source configurations", "dir", appCfg.SourcesDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Source configurations loaded", "count", configCache.GetConfigCount())

	registry := source.NewRegistry(
		ratelimit.NewLimiter(),
		cache.NewResponseCache(st, appCfg.StaleWindowDuration()),
		source.Options{
			UserAgent: appCfg.UserAgent,
			Sightings: source.NewSightings(st, appCfg.ItemTTLDuration()),
		},
	)
	for _, sourceConfig := range configCache.GetEnabledConfigs() {
		if err := registry.Apply(sourceConfig); err != nil {
			slog.Warn("Failed to register source", "source", sourceConfig.Name, "error", err)
			continue
		}
		slog.Info("Registered source", "source", sourceConfig.Name, "type", sourceConfig.Type)
	}

	index := feed.NewIndex(st, appCfg.ItemTTLDuration())
	aggregator := feed.NewAggregator(registry, index, appCfg.AggregationTimeoutDuration())

	balances := ledger.New(st)
	transport := publish.NewHTTPTransport(publish.HTTPTransportOptions{
		Endpoint:  appCfg.PublishURL,
		APIKey:    appCfg.PublishAPIKey,
		UserAgent: appCfg.UserAgent,
	})
	coordinator := publish.NewCoordinator(balances, transport, appCfg.PublishCost)

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount)
	scheduler := tasks.NewScheduler(registry, balances, st, tasks.SchedulerOptions{
		Interval:       appCfg.SchedulerIntervalDuration(),
		WorkerCount:    appCfg.WorkerCount,
		ReservationTTL: appCfg.ReservationTTLDuration(),
	})
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(aggregator, index, balances, coordinator, configCache, registry, scheduler, st)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Trend Comb server shutdown complete")
}
