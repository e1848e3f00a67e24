package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/chantier-erp/chantier/internal/invoices"
	"github.com/chantier-erp/chantier/internal/markets"
	"github.com/chantier-erp/chantier/internal/observability"
	"github.com/chantier-erp/chantier/internal/platform/httpx"
	"github.com/chantier-erp/chantier/internal/subcontracts"
	"github.com/chantier-erp/chantier/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	Metrics             *observability.Metrics
	MarketsHandler      *markets.Handler
	InvoicesHandler     *invoices.Handler
	SubcontractsHandler *subcontracts.Handler
	JobHandler          *jobs.Handler
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router serving the billing API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				params.Logger.Warn("health check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		hash := ""
		if params.Config != nil {
			hash = params.Config.APIKeyHash
		}
		r.Use(APIKeyAuth(hash, params.Logger))
		r.Use(WithActor)
		if params.MarketsHandler != nil {
			params.MarketsHandler.MountRoutes(r)
		}
		if params.InvoicesHandler != nil {
			params.InvoicesHandler.MountRoutes(r)
		}
		if params.SubcontractsHandler != nil {
			params.SubcontractsHandler.MountRoutes(r)
		}
	})

	return r
}
