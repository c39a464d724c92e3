// Harrier - Payment screenshot and deepfake risk scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/capability"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/velocity"
	"github.com/opensource-finance/harrier/internal/worker"
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
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnv(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"profile", cfg.Engine.Profile,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Sensitivity profile
	profiles, err := profile.NewManager(cfg.Engine.Profile)
	if err != nil {
		slog.Warn("unknown profile tier, falling back to balanced", "tier", cfg.Engine.Profile, "error", err)
		profiles, err = profile.NewManager(profile.Resolve(cfg.Engine.Profile).Tier)
		if err != nil {
			slog.Error("failed to initialize profile", "error", err)
			os.Exit(1)
		}
	}
	if cfg.Engine.ProfileFile != "" {
		p, err := profiles.Load(cfg.Engine.ProfileFile)
		if err != nil {
			slog.Error("failed to load profile document", "path", cfg.Engine.ProfileFile, "error", err)
			os.Exit(1)
		}
		slog.Info("profile document loaded", "path", cfg.Engine.ProfileFile, "base", p.Tier)
		if cfg.Engine.WatchProfile {
			if err := profiles.Watch(ctx, cfg.Engine.ProfileFile); err != nil {
				slog.Warn("profile watch disabled", "error", err)
			}
		}
	}

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

	ruleEngine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer ruleEngine.Close()

	// Custom rules are configured via POST /v1/rules; none ship by default.
	if err := loadRulesFromDatabase(ctx, repo, ruleEngine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	caps := capability.Resolve(cfg.Engine)
	slog.Info("capabilities resolved",
		"vision", caps.Flags.Vision,
		"classifier", caps.Flags.Classifier,
		"video", caps.Flags.Video,
		"audio", caps.Flags.Audio,
	)

	historySvc := history.NewService(repo, cacheImpl)
	go historySvc.RunRetention(ctx, time.Hour)

	rec := metrics.New()
	if sr, ok := cacheImpl.(cache.StatsReporter); ok {
		if err := rec.WatchCache(sr.CacheStats); err != nil {
			slog.Warn("cache metrics disabled", "error", err)
		}
	}
	eng, err := engine.New(engine.Config{
		Profiles:     profiles,
		Capabilities: caps,
		Rules:        ruleEngine,
		History:      historySvc,
		Activity:     velocity.NewService(repo),
		Cache:        cacheImpl,
		Bus:          busImpl,
		Metrics:      rec,
		Workers:      cfg.Engine.WorkerCount,
		ResultTTL:    cfg.Engine.ResultTTL,
	})
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}
	slog.Info("engine initialized", "workers", eng.Pool().Size(), "profile_version", profiles.Version())

	// Async validation consumer (Pro tier or opt-in)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, eng)
		tenantIDs := splitList(os.Getenv("HARRIER_TENANTS"))
		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Engine:   eng,
		Profiles: profiles,
		Rules:    ruleEngine,
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Metrics:  rec,
		Version:  Version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, caps.Flags, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

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

	slog.Info("harrier shutdown complete")
}

// applyEnv overlays HARRIER_* environment variables onto cfg.
func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("HARRIER_PROFILE"); v != "" {
		cfg.Engine.Profile = domain.ProfileTier(strings.ToLower(strings.TrimSpace(v)))
	}
	if v := os.Getenv("HARRIER_PROFILE_FILE"); v != "" {
		cfg.Engine.ProfileFile = v
	}
	if os.Getenv("HARRIER_PROFILE_WATCH") == "true" {
		cfg.Engine.WatchProfile = true
	}
	if v := os.Getenv("HARRIER_FACE_CASCADE"); v != "" {
		cfg.Engine.FaceCascadePath = v
	}
	if v := os.Getenv("HARRIER_CLASSIFIER_URL"); v != "" {
		cfg.Engine.ClassifierURL = v
	}
	if v := os.Getenv("HARRIER_FFMPEG"); v != "" {
		cfg.Engine.FFmpegPath = v
	}
	if v := os.Getenv("HARRIER_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("HARRIER_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("HARRIER_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v, ok := os.LookupEnv("HARRIER_NATS_QUEUE"); ok {
		cfg.EventBus.NATSQueueGroup = v
	}
	if n, ok := envInt("HARRIER_WORKERS"); ok {
		cfg.Engine.WorkerCount = n
	}
	if n, ok := envInt("HARRIER_PORT"); ok {
		cfg.Server.Port = n
	}
	if v := os.Getenv("HARRIER_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("ignoring invalid rate limit", "value", v, "error", err)
		} else {
			cfg.Server.RateLimit = rps
		}
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", v, "error", err)
		return 0, false
	}
	return n, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadRulesFromDatabase loads global rules from the database into the engine.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx, domain.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with built-in checks only
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no custom rules in database - configure via POST /v1/rules")
	return nil
}

func printBanner(cfg *domain.Config, caps capability.Flags, version string) {
	fmt.Println()
	fmt.Println("  HARRIER - payment screenshot and deepfake risk scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Profile:  %s\n", cfg.Engine.Profile)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Vision: %t  Classifier: %t  Video: %t  Audio: %t\n", caps.Vision, caps.Classifier, caps.Video, caps.Audio)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/images/analyze        - Screenshot forensics + transaction checks")
	fmt.Println("    POST /v1/transactions/validate - Transaction checks only")
	fmt.Println("    POST /v1/deepfake/detect       - Image or video deepfake detection")
	fmt.Println("    POST /v1/voice/detect          - Synthetic voice detection")
	fmt.Println("    GET  /v1/capabilities          - Available analyzers")
	fmt.Println("    GET  /v1/profile               - Active sensitivity profile")
	fmt.Println("    PUT  /v1/profile               - Switch sensitivity profile")
	fmt.Println("    GET  /v1/rules                 - List custom rules")
	fmt.Println("    POST /v1/rules                 - Create a custom rule")
	fmt.Println("    POST /v1/rules/reload          - Hot-reload rules from database")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println("    GET  /metrics                  - Prometheus metrics")
	fmt.Println()
}
