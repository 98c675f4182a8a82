// RefundGuard - Refund risk assessment for online merchants.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/refundguard/internal/api"
	"github.com/opensource-finance/refundguard/internal/assess"
	"github.com/opensource-finance/refundguard/internal/bus"
	"github.com/opensource-finance/refundguard/internal/cache"
	"github.com/opensource-finance/refundguard/internal/decision"
	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/lexicon"
	"github.com/opensource-finance/refundguard/internal/repository"
	"github.com/opensource-finance/refundguard/internal/rules"
	"github.com/opensource-finance/refundguard/internal/validation"
	"github.com/opensource-finance/refundguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("REFUNDGUARD_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting refundguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := loadConfig()

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	var lex *lexicon.Lexicon
	if cfg.Engine.LexiconPath != "" {
		lex, err = lexicon.Load(cfg.Engine.LexiconPath)
		if err != nil {
			slog.Error("failed to load lexicon", "path", cfg.Engine.LexiconPath, "error", err)
			os.Exit(1)
		}
		slog.Info("lexicon loaded", "path", cfg.Engine.LexiconPath)
	}

	rulesEngine, err := rules.NewEngine(cfg.Engine.CustomRuleCacheSize, 0)
	if err != nil {
		slog.Error("failed to initialize custom rule engine", "error", err)
		os.Exit(1)
	}
	defer rulesEngine.Close()

	engine, err := decision.NewEngine(lex, rulesEngine)
	if err != nil {
		slog.Error("failed to initialize decision engine", "error", err)
		os.Exit(1)
	}
	slog.Info("decision engine initialized", "engine_version", decision.Version)

	validator, err := validation.New()
	if err != nil {
		slog.Error("failed to compile schemas", "error", err)
		os.Exit(1)
	}

	svc := assess.NewService(repo, cacheImpl, busImpl, engine, cfg.Engine)

	// Async worker (Pro tier, or opt-in)
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc, validator)

		workerCfg := worker.Config{
			TenantIDs:   cfg.Worker.TenantIDs,
			WorkerCount: cfg.Worker.WorkerCount,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
			cfg.Worker.Enabled = false
		}
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, svc, validator, cfg.Engine, cfg.Worker, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("refundguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker before the bus it consumes from
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("refundguard shutdown complete")
}

// loadConfig starts from the tier defaults and applies environment overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("REFUNDGUARD_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if port, ok := envInt("REFUNDGUARD_PORT"); ok {
		cfg.Server.Port = port
	}
	if path := os.Getenv("REFUNDGUARD_DB_PATH"); path != "" {
		cfg.Repository.SQLitePath = path
	}

	if v := os.Getenv("REFUNDGUARD_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if port, ok := envInt("REFUNDGUARD_POSTGRES_PORT"); ok {
		cfg.Repository.PostgresPort = port
	}
	if v := os.Getenv("REFUNDGUARD_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("REFUNDGUARD_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("REFUNDGUARD_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}

	if v := os.Getenv("REFUNDGUARD_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("REFUNDGUARD_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}

	cfg.Engine.LexiconPath = os.Getenv("REFUNDGUARD_LEXICON")

	if os.Getenv("REFUNDGUARD_ASYNC_WORKER") == "true" {
		cfg.Worker.Enabled = true
	}
	if tenants := os.Getenv("REFUNDGUARD_TENANTS"); tenants != "" {
		for _, t := range strings.Split(tenants, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Worker.TenantIDs = append(cfg.Worker.TenantIDs, t)
			}
		}
	}
	return cfg
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", raw)
		return 0, false
	}
	return n, true
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               REFUNDGUARD                 ║")
	fmt.Println("  ║      Refund Risk Assessment Engine        ║")
	fmt.Println("  ║     Every refund, weighed in the open.    ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Engine:   %s\n", decision.Version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /assess                   - Assess a refund request")
	fmt.Println("    POST   /assess/async             - Queue a refund request")
	fmt.Println("    GET    /assessments              - Recent assessments")
	fmt.Println("    GET    /assessments/{id}         - Get assessment by ID")
	fmt.Println("    GET    /assessments/{id}/email   - Draft the customer email")
	fmt.Println("    DELETE /assessments              - Clear assessment history")
	fmt.Println("    GET    /policy                   - Merchant policy")
	fmt.Println("    PUT    /policy                   - Replace merchant policy")
	fmt.Println("    GET    /health                   - Health check")
	fmt.Println()
}
