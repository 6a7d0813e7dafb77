package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	flowrepoadapter "github.com/flywind2/t-cell-data/internal/adapter/flowrepo"
	httpadapter "github.com/flywind2/t-cell-data/internal/adapter/http"
	kafkaadapter "github.com/flywind2/t-cell-data/internal/adapter/kafka"
	"github.com/flywind2/t-cell-data/internal/config"
	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/gating"
	"github.com/flywind2/t-cell-data/internal/observability"
	"github.com/flywind2/t-cell-data/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	metrics := observability.NewMetrics()

	tpl, err := loadTemplate(cfg.TemplatePath)
	if err != nil {
		logger.Error("failed to load gating template", "path", cfg.TemplatePath, "error", err)
		os.Exit(1)
	}
	if tpl != nil {
		logger.Info("default gating template loaded", "path", cfg.TemplatePath, "rows", len(tpl.Rows))
	} else {
		logger.Info("no default gating template, requests must carry their own")
	}

	// Remote dataset access (feature-flagged via FLOWREPO_ENABLED / FLOWREPO_BASE_URL).
	var catalog domain.Catalog
	var fetcher pipeline.Fetcher
	if cfg.FlowRepoEnabled {
		client := flowrepoadapter.NewClient(cfg.FlowRepoBaseURL, cfg.FlowRepoTimeout, logger)
		catalog = flowrepoadapter.NewCachedCatalog(client, cfg.FlowRepoCacheSize, metrics)
		dl, err := flowrepoadapter.NewDownloadCache(cfg.FetchCacheDir, cfg.FlowRepoTimeout, logger, metrics)
		if err != nil {
			logger.Error("failed to init download cache", "dir", cfg.FetchCacheDir, "error", err)
			os.Exit(1)
		}
		fetcher = dl
		metrics.FetchEnabled.Set(1)
		logger.Info("flow repository access enabled",
			"base_url", cfg.FlowRepoBaseURL,
			"cache_dir", cfg.FetchCacheDir,
			"cache_size", cfg.FlowRepoCacheSize,
		)
	} else {
		metrics.FetchEnabled.Set(0)
		logger.Info("flow repository access disabled")
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	analyzer := pipeline.NewAnalyzer(catalog, fetcher, pipeline.AnalyzerConfig{
		Template:  tpl,
		Transform: cfg.DefaultTransform,
	}, logger, metrics)

	p := pipeline.New(reader, analyzer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start analysis pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// loadTemplate reads the default gating template. An empty path is fine;
// it just means every request must name a template of its own.
func loadTemplate(path string) (*gating.Template, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return gating.ParseTemplate(f)
}
