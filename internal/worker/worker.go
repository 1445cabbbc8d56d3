// Package worker runs generation jobs one at a time: claim, load the model,
// infer, annotate, persist, and record the outcome.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/rs/zerolog"

	"floorplan/internal/domain"
	"floorplan/internal/imagegen"
	"floorplan/internal/infra"
	"floorplan/internal/metrics"
	"floorplan/internal/pipeline"
	"floorplan/internal/storage"
)

// JobSource is the worker's view of the queue.
type JobSource interface {
	Claim(ctx context.Context) (*domain.Job, error)
	Complete(ctx context.Context, id string, result domain.JobResult) error
	Fail(ctx context.Context, id string, message string) error
}

// Pipelines hands out the resident model for a configuration.
type Pipelines interface {
	GetOrLoad(ctx context.Context, cfg domain.ModelConfig) (pipeline.Pipeline, error)
}

// Enhancer post-processes a generated image. It may return the input
// unchanged together with an error.
type Enhancer interface {
	Enhance(ctx context.Context, img image.Image) (image.Image, error)
}

// ArtifactWriter persists the final image under a key.
type ArtifactWriter interface {
	WritePNG(ctx context.Context, key string, img image.Image) (string, error)
}

// Options wires a Worker.
type Options struct {
	Jobs      JobSource
	Pipelines Pipelines
	// Enhancer is optional; without it images are stored unannotated.
	Enhancer     Enhancer
	Artifacts    ArtifactWriter
	DefaultModel domain.ModelConfig
	// MaxDimension caps job width and height; zero means
	// imagegen.DefaultMaxDimension.
	MaxDimension int
	PollInterval time.Duration
	Logger       *infra.Logger
}

// Worker executes jobs sequentially. It is not safe to call Run from more
// than one goroutine.
type Worker struct {
	jobs         JobSource
	pipelines    Pipelines
	enhancer     Enhancer
	artifacts    ArtifactWriter
	defaultModel domain.ModelConfig
	maxDimension int
	poll         time.Duration
	logger       *infra.Logger
}

func New(opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	maxDimension := opts.MaxDimension
	if maxDimension <= 0 {
		maxDimension = imagegen.DefaultMaxDimension
	}
	return &Worker{
		jobs:         opts.Jobs,
		pipelines:    opts.Pipelines,
		enhancer:     opts.Enhancer,
		artifacts:    opts.Artifacts,
		defaultModel: opts.DefaultModel,
		maxDimension: maxDimension,
		poll:         poll,
		logger:       logger,
	}
}

// Run processes jobs until ctx is cancelled or a pipeline fails to load.
// A job already claimed when ctx is cancelled still runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("worker: started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := w.ProcessNext(ctx)
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, domain.ErrPipelineLoad):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			w.logger.Error().Err(err).Msg("worker: failed to claim job")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.poll):
			}
		}
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job was
// processed. Errors are claim failures or a fatal pipeline load failure;
// ordinary job failures are recorded on the job and not returned.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.jobs.Claim(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoJobAvailable) {
			return false, nil
		}
		return false, err
	}
	return true, w.process(context.WithoutCancel(ctx), job)
}

func (w *Worker) process(ctx context.Context, job *domain.Job) error {
	logger := w.logger.With().Str("job_id", job.ID).Str("task", job.Task).Logger()
	logger.Info().Msg("worker: picked job")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("worker: job panicked")
			w.fail(ctx, &logger, job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	if job.Task != domain.TaskGenerateFloorPlan {
		w.fail(ctx, &logger, job.ID, fmt.Sprintf("unsupported task %q", job.Task))
		return nil
	}

	var params domain.GenerationParams
	if err := json.Unmarshal(job.Payload, &params); err != nil {
		w.fail(ctx, &logger, job.ID, fmt.Sprintf("decode parameters: %v", err))
		return nil
	}
	// Jobs can be queued by any producer, not only the API.
	if params.Width > w.maxDimension || params.Height > w.maxDimension {
		w.fail(ctx, &logger, job.ID, fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", domain.ErrInvalidInput, params.Width, params.Height, w.maxDimension).Error())
		return nil
	}
	model := params.Model
	if model.ModelID == "" {
		model = w.defaultModel
	}

	stage := time.Now()
	pipe, err := w.pipelines.GetOrLoad(ctx, model)
	metrics.ObserveStage("load", time.Since(stage).Seconds())
	if err != nil {
		w.fail(ctx, &logger, job.ID, err.Error())
		return err
	}

	stage = time.Now()
	img, err := pipe.Generate(ctx, pipeline.RequestFromParams(params))
	metrics.ObserveStage("inference", time.Since(stage).Seconds())
	if err != nil {
		w.fail(ctx, &logger, job.ID, err.Error())
		return nil
	}

	if w.enhancer != nil {
		stage = time.Now()
		img = w.postprocess(ctx, &logger, img)
		metrics.ObserveStage("postprocess", time.Since(stage).Seconds())
	}

	stage = time.Now()
	path, err := w.artifacts.WritePNG(ctx, storage.ArtifactKey(job.ID), img)
	metrics.ObserveStage("persist", time.Since(stage).Seconds())
	if err != nil {
		w.fail(ctx, &logger, job.ID, fmt.Errorf("%w: %w", domain.ErrArtifactPersist, err).Error())
		return nil
	}

	if err := w.jobs.Complete(ctx, job.ID, domain.SuccessResult(job.ID, path)); err != nil {
		logger.Error().Err(err).Msg("worker: record completion failed")
		return nil
	}
	logger.Info().Str("path", path).Dur("duration", time.Since(start)).Msg("worker: job finished")
	return nil
}

// postprocess annotates img. Any error or panic keeps the unannotated image.
func (w *Worker) postprocess(ctx context.Context, logger *zerolog.Logger, img image.Image) (out image.Image) {
	out = img
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("worker: post-processing panicked; storing unannotated image")
			out = img
		}
	}()
	enhanced, err := w.enhancer.Enhance(ctx, img)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: post-processing failed; storing unannotated image")
	}
	if enhanced != nil {
		out = enhanced
	}
	return out
}

func (w *Worker) fail(ctx context.Context, logger *zerolog.Logger, id, message string) {
	logger.Error().Str("error", message).Msg("worker: job failed")
	if err := w.jobs.Fail(ctx, id, message); err != nil {
		logger.Error().Err(err).Msg("worker: record failure failed")
	}
}
