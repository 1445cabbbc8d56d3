package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"floorplan/internal/annotate"
	httpapi "floorplan/internal/http"
	"floorplan/internal/http/handlers"
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
	logger := infra.NewLogger(cfg.AppEnv, "floorplan-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs, sqlExec, err := queue.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: queue connection failed")
	}
	defer jobs.Close()

	outputDir := cfg.OutputDir
	if abs, err := filepath.Abs(outputDir); err == nil {
		outputDir = abs
	}
	artifacts, err := storage.NewFileStore(outputDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure artifact storage")
	}

	var lookup credentials.GeminiLookup
	if sqlExec != nil {
		lookup = credentials.NewStore(sqlExec)
	}
	geminiKey, geminiModel := credentials.ResolveGemini(ctx, cfg, lookup, &logger)
	vision := genai.NewClient(genai.Options{
		APIKey:  geminiKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   geminiModel,
		Logger:  &logger,
	})
	enhancer := annotate.New(annotate.Options{
		Vision:   vision,
		Renderer: annotate.NewRenderer(cfg.FontPath, &logger),
		Logger:   &logger,
	})

	app := &handlers.App{
		Config:    cfg,
		Logger:    logger,
		Jobs:      jobs,
		Enhancer:  enhancer,
		Artifacts: artifacts,
	}
	server := infra.NewHTTPServer(cfg, "", httpapi.NewRouter(app))

	// The memory backend is process local, so the API has to run the worker
	// itself for jobs to make progress.
	backend, _ := cfg.QueueBackend()
	if backend == infra.QueueBackendMemory {
		loader, err := pipeline.NewLoader(cfg, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to configure inference backend")
		}
		cache := pipeline.NewCache(loader, &logger)
		defer cache.Close()
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
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("api: embedded worker stopped")
				stop()
			}
		}()
		logger.Info().Msg("api: embedded worker started")
	}

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("queue", backend).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("api: http server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	logger.Info().Msg("api: stopped")
}
