// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command routerd starts the skill router HTTP service.
//
// The service routes free-text requests to skills (deterministic handlers)
// and agents (autonomous executors) using lexical keyword scoring, mandatory
// trigger overrides, and a TF-IDF similarity booster trained on its own
// selection history.
//
// Usage:
//
//	go run ./cmd/routerd
//	go run ./cmd/routerd -port 9090 -registry ./candidates.yaml
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/healthz
//
//	# Route a request (skill pool first, agent fallthrough)
//	curl -X POST http://localhost:8080/v1/route \
//	  -H "Content-Type: application/json" \
//	  -d '{"input": "scan for security vulnerabilities"}'
//
//	# List candidates
//	curl http://localhost:8080/v1/candidates?family=skill | jq
//
//	# Booster readiness
//	curl http://localhost:8080/v1/booster/stats | jq
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/praxislabs/skillrouter/services/router/config"
	"github.com/praxislabs/skillrouter/services/router/history"
	"github.com/praxislabs/skillrouter/services/router/routing"
	"github.com/praxislabs/skillrouter/services/router/service"
	badgerstore "github.com/praxislabs/skillrouter/services/router/storage/badger"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	registryPath := flag.String("registry", "", "Candidate registry YAML (empty: embedded defaults)")
	configPath := flag.String("config", "", "Router config YAML (empty: embedded defaults)")
	dataDir := flag.String("data-dir", "", "Data directory for history and cache (default: ~/.skillrouter)")
	rps := flag.Float64("rps", 100, "Rate limit, requests per second")
	flag.Parse()

	setupLogging(*debug)
	shutdownTracing := setupTracing(*debug)
	defer shutdownTracing()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	base := *dataDir
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		base = filepath.Join(home, ".skillrouter")
	}

	// Router config: file when given, embedded defaults otherwise.
	cfg, err := loadRouterConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load router config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Candidate registry.
	reg, err := loadRegistry(*registryPath)
	if err != nil {
		slog.Error("Failed to load candidate registry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	candidates := routing.CompileCandidates(reg.Specs, slog.Default())

	// Selection history + similarity booster. History failure disables
	// learning but never the service.
	var store *history.Store
	var booster routing.HistoricalBooster
	historyPath := filepath.Join(base, "history", "selections.jsonl")
	if s, err := history.Open(historyPath, cfg.MaxHistoryEntries, slog.Default()); err != nil {
		slog.Warn("Selection history unavailable, booster disabled",
			slog.String("path", historyPath),
			slog.String("error", err.Error()),
		)
	} else {
		store = s
		booster = routing.NewTFIDFBooster(s, cfg.ColdStartThreshold, cfg.IndexRefreshInterval, slog.Default())
		slog.Info("Selection history opened",
			slog.String("path", historyPath),
			slog.Int("records", s.Len("")),
		)
	}

	// Decision cache BadgerDB. Graceful degradation: if unavailable, every
	// call recomputes.
	var cache routing.DecisionCache
	var cacheDB *badgerstore.DB
	cacheCfg := badgerstore.DefaultConfig()
	cacheCfg.Path = filepath.Join(base, "cache", "decisions")
	if db, err := badgerstore.OpenDB(cacheCfg); err != nil {
		slog.Warn("Decision cache BadgerDB unavailable, caching disabled",
			slog.String("path", cacheCfg.Path),
			slog.String("error", err.Error()),
		)
	} else {
		cacheDB = db
		cache = routing.NewBadgerDecisionCache(db, 0, slog.Default())
		slog.Info("Decision cache BadgerDB opened", slog.String("path", cacheCfg.Path))

		// Expired decisions only free disk once the value log is GC'd.
		go func() {
			ticker := time.NewTicker(30 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				db.RunGC(slog.Default())
			}
		}()
	}

	deps := routing.Deps{
		Booster: booster,
		Store:   store,
		Cache:   cache,
		Logger:  slog.Default(),
	}
	router := routing.NewRouter(candidates, cfg, deps)
	svc := service.NewService(router, cfg, deps, slog.Default())

	// Pre-warm the similarity indexes so the first request after restart
	// does not pay the rebuild.
	if b, ok := booster.(*routing.TFIDFBooster); ok {
		if err := b.Refresh(context.Background()); err != nil {
			slog.Warn("Initial index build failed, booster will rebuild lazily",
				slog.String("error", err.Error()))
		}
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("skillrouter"))
	engine.Use(service.RateLimitMiddleware(*rps, int(*rps)*2))
	if *debug {
		engine.Use(gin.Logger())
	}

	v1 := engine.Group("/v1")
	service.RegisterRoutes(v1, svc)
	engine.GET("/healthz", svc.HandleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Hot-reload the registry file when one was given on the command line.
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	if *registryPath != "" {
		go func() {
			if err := svc.WatchRegistry(watchCtx, *registryPath); err != nil {
				slog.Warn("Registry watch unavailable", slog.String("error", err.Error()))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down skill router")
		cancelWatch()
		if store != nil {
			if err := store.Close(); err != nil {
				slog.Warn("Failed to close selection history", slog.String("error", err.Error()))
			}
		}
		if cacheDB != nil {
			if err := cacheDB.Close(); err != nil {
				slog.Warn("Failed to close decision cache", slog.String("error", err.Error()))
			}
		}
		shutdownTracing()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting skill router",
		slog.String("address", addr),
		slog.Int("candidates", len(candidates)),
	)
	if err := engine.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupLogging installs the process-wide slog handler: human-readable text
// on a terminal, JSON when output is piped or captured.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// setupTracing configures OTel propagation, and in debug mode a stdout span
// exporter. Returns a shutdown func (no-op when no provider was installed).
func setupTracing(debug bool) func() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !debug {
		return func() {}
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		slog.Warn("Stdout trace exporter unavailable", slog.String("error", err.Error()))
		return func() {}
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			slog.Warn("Trace provider shutdown failed", slog.String("error", err.Error()))
		}
	}
}

func loadRouterConfig(path string) (*config.RouterConfig, error) {
	if path == "" {
		return config.DefaultRouterConfig(slog.Default())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return config.LoadRouterConfig(data, slog.Default())
}

func loadRegistry(path string) (*config.Registry, error) {
	if path == "" {
		return config.DefaultRegistry(slog.Default())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return config.LoadRegistry(data, slog.Default())
}
