package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"floorplan/internal/domain"
	"floorplan/internal/imagegen"
	"floorplan/internal/infra"
	"floorplan/internal/queue"
)

// JobQueue is the part of the queue the request path uses. It never blocks
// on the worker.
type JobQueue interface {
	Enqueue(ctx context.Context, task string, payload any, opts ...queue.EnqueueOption) (string, error)
	Status(ctx context.Context, id string) (queue.JobView, error)
}

// Enhancer annotates an uploaded image synchronously.
type Enhancer interface {
	Enhance(ctx context.Context, img image.Image) (image.Image, error)
}

// ArtifactStore serves generated images by key.
type ArtifactStore interface {
	Open(key string) (*os.File, error)
}

type App struct {
	Config    *infra.Config
	Logger    zerolog.Logger
	Jobs      JobQueue
	Enhancer  Enhancer
	Artifacts ArtifactStore
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// fail maps a domain error onto the response taxonomy.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrVisionUnavailable):
		a.error(w, http.StatusServiceUnavailable, "vision_unavailable", err.Error())
	case errors.Is(err, domain.ErrQueueUnavailable):
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: queue unavailable")
		a.error(w, http.StatusServiceUnavailable, "queue_unavailable", "job queue is unavailable")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func (a *App) maxUploadBytes() int64 {
	if a.Config != nil && a.Config.MaxUploadBytes > 0 {
		return a.Config.MaxUploadBytes
	}
	return 16 << 20
}

func (a *App) maxImageDimension() int {
	if a.Config != nil && a.Config.MaxImageDimension > 0 {
		return a.Config.MaxImageDimension
	}
	return imagegen.DefaultMaxDimension
}

func (a *App) defaultModel() domain.ModelConfig {
	if a.Config == nil {
		return domain.ModelConfig{}
	}
	return a.Config.DefaultModel()
}
