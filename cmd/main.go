package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/healthpages/shellgate/internal/config"
	"github.com/healthpages/shellgate/internal/expr"
	"github.com/healthpages/shellgate/internal/logging"
	"github.com/healthpages/shellgate/internal/metrics"
	"github.com/healthpages/shellgate/internal/popularity"
	"github.com/healthpages/shellgate/internal/runtime"
	"github.com/healthpages/shellgate/internal/runtime/cache"
	"github.com/healthpages/shellgate/internal/runtime/clients"
	"github.com/healthpages/shellgate/internal/runtime/fetcher"
	"github.com/healthpages/shellgate/internal/runtime/lifecycle"
	"github.com/healthpages/shellgate/internal/runtime/notify"
	"github.com/healthpages/shellgate/internal/server"
	"github.com/healthpages/shellgate/internal/templates"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/language"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to gateway configuration file")
		envPrefix  = flag.String("env-prefix", "SHELLGATE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	store := buildResponseStore(logger.With(slog.String("agent", "cache_factory")), cfg.Cache)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	originClient := &http.Client{Timeout: cfg.Origin.Timeout()}
	registry := clients.NewRegistry(logger)

	coordinator, err := lifecycle.NewCoordinator(lifecycle.Config{
		OriginURL: cfg.Origin.URL,
		Client:    originClient,
		Store:     store,
		Registry:  registry,
		Metrics:   metricsRecorder,
		Logger:    logger,
		Prefix:    cfg.Cache.Prefix,
		Precache:  cfg.Shell.Precache,
	})
	if err != nil {
		logger.Error("unable to construct lifecycle coordinator", slog.Any("error", err))
		os.Exit(1)
	}

	offline, err := buildOfflinePage(cfg.Shell)
	if err != nil {
		logger.Error("unable to load offline template", slog.Any("error", err))
		os.Exit(1)
	}

	bypass, err := compileBypass(cfg.Fetch.Bypass)
	if err != nil {
		logger.Error("invalid bypass expression", slog.Any("error", err))
		os.Exit(1)
	}

	fetchAgent, err := fetcher.NewAgent(fetcher.Config{
		OriginURL:   cfg.Origin.URL,
		Client:      originClient,
		Store:       store,
		Lifecycle:   coordinator,
		Metrics:     metricsRecorder,
		Logger:      logger,
		Offline:     offline,
		OfflinePath: cfg.Shell.OfflinePath,
		SiteName:    cfg.Shell.SiteName,
		Bypass:      bypass,
		FallbackTTL: time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	})
	if err != nil {
		logger.Error("unable to construct fetch agent", slog.Any("error", err))
		os.Exit(1)
	}

	defaults := notify.Defaults{
		Title: cfg.Notifications.DefaultTitle,
		Body:  cfg.Notifications.DefaultBody,
		URL:   cfg.Notifications.DefaultURL,
		Icon:  cfg.Notifications.Icon,
		Badge: cfg.Notifications.Badge,
		Tag:   cfg.Notifications.Tag,
	}
	dispatcher := notify.NewDispatcher(notify.Config{
		Registry: registry,
		Defaults: defaults,
		Logger:   logger,
		Metrics:  metricsRecorder,
	})

	worker, err := runtime.NewWorker(runtime.WorkerConfig{
		Fetch:       fetchAgent,
		Coordinator: coordinator,
		Registry:    registry,
		Dispatcher:  dispatcher,
		Counter:     popularity.New(popularityProfile(cfg.Popularity), language.English),
		Store:       store,
		Defaults:    defaults,
		Metrics:     metricsRecorder,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("unable to construct worker", slog.Any("error", err))
		os.Exit(1)
	}

	// The first install is best effort: an unreachable origin at boot is the
	// offline case the gateway exists for, and the poller retries.
	if err := coordinator.Install(ctx, cfg.Shell.Version); err != nil {
		logger.Warn("initial install failed", slog.String("version", cfg.Shell.Version), slog.Any("error", err))
	}

	poller, err := lifecycle.NewPoller(lifecycle.PollerConfig{
		Coordinator: coordinator,
		Client:      originClient,
		OriginURL:   cfg.Origin.URL,
		VersionPath: cfg.Update.VersionPath,
		Interval:    cfg.Update.PollInterval(),
		Logger:      logger,
	})
	if err != nil {
		logger.Error("unable to construct update poller", slog.Any("error", err))
		os.Exit(1)
	}
	go poller.Run(ctx)

	if releaseFile := strings.TrimSpace(cfg.Shell.ReleaseFile); releaseFile != "" {
		watcher, err := config.WatchRelease(ctx, releaseFile, func(release config.Release) {
			coordinator.SetPrecache(release.Precache)
			if err := coordinator.Install(ctx, release.Version); err != nil {
				logger.Error("release install failed", slog.String("version", release.Version), slog.Any("error", err))
			}
		}, func(err error) {
			if err != nil {
				logger.Error("release watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("release watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.NewWorkerHandler(worker, metricsRecorder.Handler())
	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("gateway shutdown complete")
}

func buildResponseStore(logger *slog.Logger, cfg config.CacheConfig) cache.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory response store")
		}
		return cache.NewMemory()
	case "valkey":
		valkeyStore, err := cache.NewValkey(cache.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
			TLS: cache.ValkeyTLSConfig{
				Enabled: cfg.Valkey.TLS.Enabled,
				CAFile:  cfg.Valkey.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("valkey store initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory store")
			}
			return cache.NewMemory()
		}
		if logger != nil {
			logger.Info("using valkey response store", slog.String("address", cfg.Valkey.Address))
		}
		return valkeyStore
	default:
		if logger != nil {
			logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return cache.NewMemory()
	}
}

func buildOfflinePage(cfg config.ShellConfig) (*templates.OfflinePage, error) {
	if path := strings.TrimSpace(cfg.OfflineTemplate); path != "" {
		return templates.LoadOfflinePage(path)
	}
	return templates.NewOfflinePage("")
}

func compileBypass(expressions []string) ([]expr.Program, error) {
	if len(expressions) == 0 {
		return nil, nil
	}
	env, err := expr.NewRequestEnvironment()
	if err != nil {
		return nil, err
	}
	programs := make([]expr.Program, 0, len(expressions))
	for _, expression := range expressions {
		program, err := env.Compile(expression)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", expression, err)
		}
		programs = append(programs, program)
	}
	return programs, nil
}

func popularityProfile(cfg config.PopularityConfig) popularity.Profile {
	profile := popularity.DefaultProfile()
	if cfg.MaxBase > cfg.MinBase {
		profile.MinBase = cfg.MinBase
		profile.MaxBase = cfg.MaxBase
	}
	if cfg.GrowthMax > cfg.GrowthMin {
		profile.GrowthMin = cfg.GrowthMin
		profile.GrowthMax = cfg.GrowthMax
	}
	if epoch, err := time.Parse("2006-01-02", cfg.Epoch); err == nil {
		profile.Epoch = epoch
	}
	return profile
}
