package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/emanuelef/yt-archiver/internal/config"
	"github.com/emanuelef/yt-archiver/internal/transport/http/middleware"
)

// NewRouter creates a chi router with all routes and middleware configured.
// limiter may be nil to disable rate limiting; hub may be nil to disable /ws.
func NewRouter(cfg *config.Config, handlers *Handlers, hub *Hub, limiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Token"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check (no auth, no rate limiting)
	r.Get("/api/health", handlers.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuthMiddleware(cfg.APIToken))
		if limiter != nil {
			r.Use(middleware.RateLimitMiddleware(limiter))
		}

		r.Route("/api/jobs", func(r chi.Router) {
			r.Get("/", handlers.ListJobsHandler)
			r.Post("/", handlers.CreateJobHandler)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", handlers.GetJobHandler)
				r.Delete("/", handlers.DeleteJobHandler)
				r.Get("/log", handlers.JobLogHandler)
				r.Post("/{action}", handlers.JobActionHandler)
			})
		})

		r.Route("/api/watchlist", func(r chi.Router) {
			r.Get("/", handlers.ListWatchHandler)
			r.Post("/", handlers.CreateWatchHandler)
			r.Route("/{entry_id}", func(r chi.Router) {
				r.Get("/", handlers.GetWatchHandler)
				r.Put("/", handlers.UpdateWatchHandler)
				r.Patch("/", handlers.UpdateWatchHandler)
				r.Delete("/", handlers.DeleteWatchHandler)
			})
		})

		if hub != nil {
			r.Get("/ws", hub.ServeWS)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})

	return r
}

// NewServer creates the HTTP server. There is no write timeout: job
// creation resolves listings synchronously and /ws connections are
// long-lived.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
