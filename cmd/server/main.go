package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-waf/aegis-go/internal/anomaly"
	"github.com/aegis-waf/aegis-go/internal/api"
	"github.com/aegis-waf/aegis-go/internal/config"
	"github.com/aegis-waf/aegis-go/internal/engine"
	"github.com/aegis-waf/aegis-go/internal/events"
	"github.com/aegis-waf/aegis-go/internal/learning"
	"github.com/aegis-waf/aegis-go/internal/logstore"
	"github.com/aegis-waf/aegis-go/internal/metrics"
	"github.com/aegis-waf/aegis-go/internal/modules"
	"github.com/aegis-waf/aegis-go/internal/proxy"
	"github.com/aegis-waf/aegis-go/internal/ratelimit"
	"github.com/aegis-waf/aegis-go/internal/rules"
	"github.com/aegis-waf/aegis-go/internal/server"
	"github.com/aegis-waf/aegis-go/internal/stats"
	"github.com/aegis-waf/aegis-go/internal/waf"
	"github.com/aegis-waf/aegis-go/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("AEGIS_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := server.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rule set: built-in catalog first, then the optional rules file.
	ruleManager := rules.NewManager(logger)
	ruleManager.Load(rules.Builtin(), rules.SourceBuiltin)
	if cfg.RulesFile != "" {
		batch, err := rules.ReadCatalogFile(cfg.RulesFile)
		if err != nil {
			logger.Error("rules file load failed", "path", cfg.RulesFile, "err", err)
			os.Exit(1)
		}
		n := ruleManager.Load(batch, rules.SourceCustom)
		logger.Info("rules file loaded", "path", cfg.RulesFile, "count", n)
	}

	limiter := ratelimit.New(ratelimit.Config{
		Window:          cfg.RateLimitWindow(),
		Max:             cfg.RateLimit.Max,
		BlockDuration:   cfg.IPBlocking.BlockDuration,
		MaxViolations:   cfg.IPBlocking.MaxViolations,
		BlockingEnabled: cfg.IPBlocking.Enabled,
	}, logger)

	wafMetrics := metrics.NewWAF()
	for cat, n := range ruleManager.EnabledByCategory() {
		wafMetrics.RulesEnabled.Set(float64(n), cat)
	}

	mods := buildModules(cfg, limiter, wafMetrics)
	eng := engine.New(mods, ruleManager, logger)

	scorer := anomaly.NewScorer(anomaly.NewBaseline(), cfg.AnomalyThreshold)

	var learner *learning.Learner
	if cfg.AdaptiveLearning {
		learner = learning.New(cfg.LearningDuration(), logger)
	} else {
		learner = learning.NewDisabled(logger)
	}

	collector := stats.New(cfg.Stats.Enabled, cfg.Stats.RetentionDays)

	bus := events.NewBus(logger)
	wsManager := ws.NewManager(bus, collector, logger)

	var logs logstore.Store
	if cfg.DatabaseURL != "" {
		pg, err := logstore.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("log store connect failed", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		logs = pg
	} else {
		logs = logstore.NewMemory(cfg.MaxLogs)
	}

	firewall := waf.New(waf.Options{
		Enabled:   cfg.Enabled,
		DryRun:    cfg.DryRun,
		Threshold: cfg.Threshold,
		SkipPaths: cfg.SkipPaths,
	}, eng, scorer, learner, collector, wafMetrics, bus, logs, logger)

	admin := api.New(cfg, ruleManager, collector, learner, limiter, wafMetrics, logs, bus, wsManager, logger)

	r := chi.NewRouter()
	r.Mount("/", admin.Router())

	if cfg.Upstream != "" {
		forward, err := proxy.New(cfg.Upstream, logger)
		if err != nil {
			logger.Error("upstream setup failed", "err", err)
			os.Exit(1)
		}
		r.NotFound(firewall.Middleware(forward).ServeHTTP)
		logger.Info("proxying to upstream", "upstream", cfg.Upstream)
	} else {
		r.NotFound(firewall.Middleware(http.NotFoundHandler()).ServeHTTP)
	}

	// Background loops.
	go server.RunWithRecovery(ctx, logger, "rate-limit-sweeper", limiter.Run)
	if !learner.Enforcing() {
		go server.RunWithRecovery(ctx, logger, "learner", learner.Run)
	}
	go server.RunWithRecovery(ctx, logger, "ws-broadcast", wsManager.Run)
	go server.RunWithRecovery(ctx, logger, "stats-prune", func(ctx context.Context) {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collector.Prune()
				wafMetrics.BlockedIPs.Set(float64(limiter.BlockedCount()))
			}
		}
	})
	if cfg.CommunityRules && cfg.AutoUpdate && cfg.CommunityURL != "" {
		go server.RunWithRecovery(ctx, logger, "community-rules", func(ctx context.Context) {
			ruleManager.RunCommunityRefresh(ctx, cfg.CommunityURL, cfg.UpdateInterval)
		})
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE and WebSocket need unlimited write time
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("firewall starting",
		"listen", cfg.Listen,
		"dryRun", cfg.DryRun,
		"threshold", cfg.Threshold,
		"modules", cfg.Modules,
		"learning", cfg.AdaptiveLearning,
	)
	if err := server.Serve(ctx, logger, srv); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// buildModules assembles the module chain from the configured names. The
// rate limiter always runs first when enabled, so blocked IPs short-circuit
// cheaply.
func buildModules(cfg config.Config, limiter *ratelimit.Limiter, m *metrics.WAF) []modules.Module {
	var mods []modules.Module
	if cfg.RateLimit.Enabled {
		mods = append(mods, modules.NewRateLimit(limiter, m))
	}
	for _, name := range cfg.Modules {
		switch name {
		case "xss":
			mods = append(mods, modules.NewXSS())
		case "sqli":
			mods = append(mods, modules.NewSQLi())
		case "nosqli":
			mods = append(mods, modules.NewNoSQLi())
		case "path-traversal":
			mods = append(mods, modules.NewPathTraversal())
		case "cmd-injection":
			mods = append(mods, modules.NewCmdInjection())
		default:
			slog.Warn("unknown module ignored", "module", name)
		}
	}
	return mods
}
