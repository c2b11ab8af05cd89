package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-ephys/internal/api"
	"github.com/miradorstack/mirador-ephys/internal/cache"
	"github.com/miradorstack/mirador-ephys/internal/classifier"
	"github.com/miradorstack/mirador-ephys/internal/config"
	"github.com/miradorstack/mirador-ephys/internal/engine"
	"github.com/miradorstack/mirador-ephys/internal/ephys"
	"github.com/miradorstack/mirador-ephys/internal/loader"
	"github.com/miradorstack/mirador-ephys/internal/metrics"
	"github.com/miradorstack/mirador-ephys/internal/services"
	"github.com/miradorstack/mirador-ephys/internal/store"
	"github.com/miradorstack/mirador-ephys/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-ephys", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheProvider := newCacheProvider(ctx, cfg.Cache, logger)
	defer cacheProvider.Close()

	var source engine.RecordingSource
	if cfg.Loader.RemoteBaseURL != "" {
		source = loader.NewRemoteSource(cfg.Loader.RemoteBaseURL, cfg.Loader.CellsPath, cfg.Loader.Timeout, cfg.Loader.MaxFileSize)
		logger.Info("loading recordings from remote", slog.String("base_url", cfg.Loader.RemoteBaseURL))
	} else {
		source = loader.NewFileSource(cfg.Loader.DataGlob, cfg.Loader.MaxFileSize, logger)
		logger.Info("loading recordings from files", slog.String("glob", cfg.Loader.DataGlob))
	}

	tables, err := classifier.LoadTables(cfg.Classifier.TablesPath)
	if err != nil {
		logger.Error("failed to load classifier tables", slog.String("path", cfg.Classifier.TablesPath), slog.Any("error", err))
		os.Exit(1)
	}
	clf := classifier.New(tables,
		classifier.WithType2Cutoff(cfg.Classifier.Type2CutoffMs),
		classifier.WithExclusionSigma(cfg.Classifier.ExclusionSigma),
		classifier.WithLogger(logger),
	)

	spikeCriteria, err := engine.ParseCriteria(cfg.Classifier.SpikeCriteria)
	if err != nil {
		logger.Error("invalid spike criteria", slog.Any("error", err))
		os.Exit(1)
	}
	sagCriteria, err := engine.ParseCriteria(cfg.Classifier.SagCriteria)
	if err != nil {
		logger.Error("invalid sag criteria", slog.Any("error", err))
		os.Exit(1)
	}

	opts := []engine.Option{
		engine.WithCache(cacheProvider, cfg.Cache.QueryTTL),
		engine.WithParams(analysisParams(cfg.Analysis)),
		engine.WithWorkers(cfg.Analysis.Workers),
		engine.WithCriteria(spikeCriteria, sagCriteria),
	}
	if cfg.Store.DSN != "" {
		runStore, err := store.Open(cfg.Store.DSN, cfg.Store.AutoMigrate, logger)
		if err != nil {
			logger.Error("failed to open run store", slog.Any("error", err))
			os.Exit(1)
		}
		defer runStore.Close()
		opts = append(opts, engine.WithStore(runStore))
	}

	pipeline := engine.NewPipeline(logger, source, clf, opts...)
	ephysService := services.NewEphysService(logger, pipeline)

	server, err := api.NewServer(cfg.Server, ephysService, logger)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-ephys stopped")
}

// newCacheProvider prefers Valkey, falls back to process memory when Valkey
// is unreachable or unset, and disables caching when the cache is off.
func newCacheProvider(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	if cfg.Addr != "" {
		provider, err := cache.NewValkeyProvider(ctx, cache.ValkeyConfig{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLS:          cfg.TLS,
		})
		if err == nil {
			return provider
		}
		logger.Warn("valkey cache unavailable, using memory cache", slog.Any("error", err))
	}
	return cache.NewMemoryProvider()
}

func analysisParams(cfg config.AnalysisConfig) ephys.Params {
	return ephys.Params{
		SpikeThreshold:       cfg.SpikeThreshold,
		DVDTThreshold:        cfg.DVDTThreshold,
		SagMaxOnsetMs:        cfg.SagMaxOnsetMs,
		SteadyStateMs:        cfg.SteadyStateMs,
		LeftWindowMs:         cfg.LeftWindowMs,
		RightWindowMs:        cfg.RightWindowMs,
		ReboundRightWindowMs: cfg.ReboundRightWindowMs,
	}
}
