// Package pipeline owns the loaded text-to-image model. A Cache keeps at
// most one pipeline resident and swaps it when a job asks for a different
// model configuration.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"floorplan/internal/domain"
	"floorplan/internal/infra"
	"floorplan/internal/metrics"
)

// Request carries the inference parameters of one generation.
type Request struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
	Seed           *int64
}

// RequestFromParams projects job parameters onto an inference request.
func RequestFromParams(p domain.GenerationParams) Request {
	return Request{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Width:          p.Width,
		Height:         p.Height,
		Steps:          p.Steps,
		GuidanceScale:  p.GuidanceScale,
		Seed:           p.Seed,
	}
}

// Pipeline is a loaded model that turns prompts into images.
type Pipeline interface {
	Generate(ctx context.Context, req Request) (image.Image, error)
	Close() error
}

// Loader materializes a Pipeline for a model configuration.
type Loader interface {
	Load(ctx context.Context, cfg domain.ModelConfig) (Pipeline, error)
}

// Cache holds a single resident pipeline keyed by its ModelConfig.
type Cache struct {
	mu     sync.Mutex
	loader Loader
	logger *infra.Logger

	cfg    domain.ModelConfig
	handle Pipeline
	loads  int
}

// NewCache builds an empty cache over loader.
func NewCache(loader Loader, logger *infra.Logger) *Cache {
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Cache{loader: loader, logger: logger}
}

// GetOrLoad returns the cached pipeline when cfg equals the resident
// configuration. Otherwise the resident pipeline is released and a new one
// loaded; it is cached only when loading succeeds.
func (c *Cache) GetOrLoad(ctx context.Context, cfg domain.ModelConfig) (Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil && c.cfg == cfg {
		return c.handle, nil
	}

	if c.handle != nil {
		c.logger.Info().
			Str("model_id", c.cfg.ModelID).
			Str("adapter_path", c.cfg.AdapterPath).
			Msg("pipeline: releasing resident model")
		if err := c.handle.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("pipeline: release failed")
		}
		c.handle = nil
		c.cfg = domain.ModelConfig{}
	}

	start := time.Now()
	c.logger.Info().
		Str("model_id", cfg.ModelID).
		Str("adapter_path", cfg.AdapterPath).
		Msg("pipeline: loading model")
	handle, err := c.loader.Load(ctx, cfg)
	if err != nil {
		metrics.PipelineLoad("error")
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrPipelineLoad, cfg.ModelID, err)
	}
	c.handle = handle
	c.cfg = cfg
	c.loads++
	metrics.PipelineLoad("ok")
	c.logger.Info().
		Str("model_id", cfg.ModelID).
		Dur("duration", time.Since(start)).
		Msg("pipeline: model loaded")
	return handle, nil
}

// Loads reports how many loads have completed successfully.
func (c *Cache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Current returns the resident configuration and whether one is loaded.
func (c *Cache) Current() (domain.ModelConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.handle != nil
}

// Close releases the resident pipeline.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return nil
	}
	err := c.handle.Close()
	c.handle = nil
	c.cfg = domain.ModelConfig{}
	return err
}

// ResolveAdapter reports whether adapter weights exist at path. A missing
// path is logged and the pipeline continues without the adapter.
func ResolveAdapter(path string, logger *infra.Logger) (string, bool) {
	if path == "" {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		if logger != nil {
			logger.Warn().Str("adapter_path", path).Msg("pipeline: adapter weights not found; continuing with base model")
		}
		return "", false
	}
	return path, true
}
