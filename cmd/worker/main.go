package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"floorplan/internal/annotate"
	"floorplan/internal/infra"
	"floorplan/internal/infra/credentials"
	"floorplan/internal/pipeline"
	"floorplan/internal/providers/genai"
	"floorplan/internal/queue"
	"floorplan/internal/storage"
	"floorplan/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "floorplan-worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs, sqlExec, err := queue.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: queue connection failed")
	}
	defer jobs.Close()

	outputDir := cfg.OutputDir
	if abs, err := filepath.Abs(outputDir); err == nil {
		outputDir = abs
	}
	artifacts, err := storage.NewFileStore(outputDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure artifact storage")
	}

	var lookup credentials.GeminiLookup
	if sqlExec != nil {
		lookup = credentials.NewStore(sqlExec)
	}
	geminiKey, geminiModel := credentials.ResolveGemini(ctx, cfg, lookup, &logger)
	enhancer := annotate.New(annotate.Options{
		Vision: genai.NewClient(genai.Options{
			APIKey:  geminiKey,
			BaseURL: cfg.GeminiBaseURL,
			Model:   geminiModel,
			Logger:  &logger,
		}),
		Renderer: annotate.NewRenderer(cfg.FontPath, &logger),
		Logger:   &logger,
	})

	loader, err := pipeline.NewLoader(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure inference backend")
	}
	cache := pipeline.NewCache(loader, &logger)
	defer cache.Close()

	// Load the default model before taking jobs so a bad checkpoint fails
	// the process instead of the first job.
	if _, err := cache.GetOrLoad(ctx, cfg.DefaultModel()); err != nil {
		logger.Fatal().Err(err).Str("model_id", cfg.ModelID).Msg("worker: preload failed")
	}

	if cfg.MetricsAddr != "" {
		r := chi.NewRouter()
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsServer := infra.NewHTTPServer(cfg, cfg.MetricsAddr, r)
		go func() {
			logger.Info().Str("addr", metricsServer.Addr()).Msg("worker: metrics listening")
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("worker: metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	w := worker.New(worker.Options{
		Jobs:         jobs,
		Pipelines:    cache,
		Enhancer:     enhancer,
		Artifacts:    artifacts,
		DefaultModel: cfg.DefaultModel(),
		MaxDimension: cfg.MaxImageDimension,
		PollInterval: cfg.WorkerPollInterval,
		Logger:       &logger,
	})
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
