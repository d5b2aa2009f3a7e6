package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/ATPFlow/internal/auth"
	"github.com/MikeSquared-Agency/ATPFlow/internal/blobstore"
	"github.com/MikeSquared-Agency/ATPFlow/internal/workflow"
)

type Deps struct {
	Engine   *workflow.Engine
	Verifier auth.Verifier
	// Blobs is optional. Without it multipart uploads and file downloads
	// are unavailable.
	Blobs  blobstore.Client
	Hub    *StreamHub
	Logger *slog.Logger

	RateLimitPerMinute int
	IdempotencyTTL     time.Duration
	MaxUploadBytes     int64
}

func NewRouter(d Deps) http.Handler {
	if d.RateLimitPerMinute <= 0 {
		d.RateLimitPerMinute = 120
	}
	if d.IdempotencyTTL <= 0 {
		d.IdempotencyTTL = 24 * time.Hour
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 50 << 20
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(d.Logger))
	r.Use(RateLimitMiddleware(d.RateLimitPerMinute))
	r.Use(MetricsMiddleware)

	docs := NewDocumentsHandler(d.Engine, d.Blobs, d.MaxUploadBytes)
	reviews := NewReviewsHandler(d.Engine)
	punch := NewPunchlistHandler(d.Engine)
	dash := NewDashboardHandler(d.Engine)
	idem := NewIdempotencyCache(d.IdempotencyTTL)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier))
		r.Use(idem.Middleware)

		r.Post("/documents", docs.Submit)
		r.Get("/documents", docs.List)
		r.Get("/documents/{id}", docs.Get)
		r.Get("/documents/{id}/file", docs.File)
		r.Get("/documents/{id}/events", docs.Events)
		r.Post("/documents/{id}/document-control", docs.DocumentControl)
		r.Post("/documents/{id}/stages/{stageId}/decision", reviews.Decide)
		r.Get("/documents/{id}/punchlist/active", punch.Active)

		r.Get("/reviews/pending", reviews.Pending)

		r.Get("/punchlist", punch.List)
		r.Post("/punchlist/{id}/start", punch.Start)
		r.Post("/punchlist/{id}/complete", punch.Complete)
		r.Post("/punchlist/{id}/verify", punch.Verify)

		r.Get("/dashboard/stats", dash.Stats)
		r.Get("/catalog", dash.Catalog)

		if d.Hub != nil {
			r.Get("/stream", d.Hub.HandleWebSocket)
		}
	})

	return r
}

// Pinger is satisfied by the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewMetricsRouter(p Pinger) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
