package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/highlightz-backend/api/controllers"
	"github.com/angelmondragon/highlightz-backend/api/middleware"
	"github.com/angelmondragon/highlightz-backend/internal/highlights"
	"github.com/angelmondragon/highlightz-backend/internal/tasks"
	"github.com/angelmondragon/highlightz-backend/internal/videos"
	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/angelmondragon/highlightz-backend/pkg/metrics"
	"github.com/angelmondragon/highlightz-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	idempotencyStore redis.IdempotencyStore,
	httpMetrics *metrics.HTTPMetrics,
	gatherer prometheus.Gatherer,
	readiness []controllers.Dependency,
	videoService videos.Service,
	taskService tasks.Service,
	highlightService highlights.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg, httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness...))
	})
	r.Get("/api/health", controllers.APIHealth())
	r.Get("/api/health/", controllers.APIHealth())

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// The ML service reports back on these unversioned paths.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, cfg.FeatureFlags.IdempotencyTTL, logg))
		r.Patch("/tasks/{id}/status", controllers.TaskStatusCallback(taskService, logg))
		r.Post("/highlights/bulk", controllers.BulkCreateHighlights(highlightService, logg))
	})

	maxUpload := cfg.Fetcher.MaxUploadBytes()

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, cfg.FeatureFlags.IdempotencyTTL, logg))

		r.Route("/videos", func(r chi.Router) {
			r.Get("/", controllers.ListVideos(videoService, logg))
			r.Post("/", controllers.CreateVideo(videoService, maxUpload, logg))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", controllers.GetVideo(videoService, logg))
				r.Delete("/", controllers.DeleteVideo(videoService, logg))
				r.Get("/status", controllers.GetVideoStatus(videoService, logg))
				r.Get("/tasks", controllers.ListVideoTasks(taskService, logg))
				r.Post("/tasks", controllers.CreateVideoTask(taskService, logg))
			})
		})

		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", controllers.GetTask(taskService, logg))
			r.Post("/dispatch", controllers.DispatchTask(taskService, logg))
			r.Patch("/status", controllers.TaskStatusCallback(taskService, logg))
		})

		r.Get("/highlights", controllers.ListHighlights(highlightService, logg))
		r.Post("/highlights/bulk", controllers.BulkCreateHighlights(highlightService, logg))

		r.Get("/highlight-files", controllers.ListHighlightFiles(highlightService, logg))
		r.Post("/highlight-files/upload", controllers.UploadHighlightFiles(highlightService, logg))
	})

	return r
}
