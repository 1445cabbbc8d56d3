package httpapi

import (
	stdhttp "net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"floorplan/internal/http/handlers"
	"floorplan/internal/metrics"
	"floorplan/internal/middleware"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger), metrics.Middleware)
	r.Use(cors.Handler(corsOptions(app)))

	r.Get("/", app.Root)
	r.Get("/v1/healthz", app.Health)
	r.Method(stdhttp.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", app.Generate)
		r.Get("/status/{job_id}", app.Status)
		r.Post("/enhance", app.Enhance)
	})

	r.Get("/generated/{file}", app.Artifact)

	return r
}

func corsOptions(app *handlers.App) cors.Options {
	origins := []string{"*"}
	if app.Config != nil && len(app.Config.CORSAllowedOrigins) > 0 {
		origins = app.Config.CORSAllowedOrigins
	}
	// A wildcard would let every origin send credentials.
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           300,
	}
}
