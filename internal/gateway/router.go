package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"restyle/internal/infra"
	"restyle/internal/metrics"
	"restyle/internal/middleware"
)

// RouterConfig carries the middleware knobs the router needs.
type RouterConfig struct {
	JWTSecret       string
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	// MediaDir, when set, serves stored artifacts under /media/.
	MediaDir string
}

// NewRouter assembles the HTTP surface.
func NewRouter(app *App, logger infra.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.I18N(cfg.DefaultLocale, cfg.CountryLookup))

	r.Get("/v1/healthz", app.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	if cfg.MediaDir != "" {
		fs := http.FileServer(http.Dir(cfg.MediaDir))
		r.Handle("/media/*", http.StripPrefix("/media/", fs))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))
		if cfg.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		}

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.handleSubmitJob)
			r.Get("/", app.handleListJobs)
			r.Get("/{id}", app.handleJobStatus)
			r.Post("/{id}/cancel", app.handleCancelJob)
			r.Get("/{id}/events", app.handleJobEvents)
			r.Get("/{id}/archive", app.handleJobArchive)
		})

		r.Route("/v1/batches", func(r chi.Router) {
			r.Get("/status", app.handleBatchStatus)
			r.Post("/cancel", app.handleBatchCancel)
		})

		r.Get("/v1/usage", app.handleUsage)
	})

	return r
}
