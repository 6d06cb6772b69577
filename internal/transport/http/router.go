// Package httptransport assembles the full HTTP surface: public case
// and trust endpoints, vendor webhooks, the operator surface and the
// observability endpoints, behind one shared middleware chain.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kycflow/internal/admin"
	casehandler "kycflow/internal/caseflow/handler"
	"kycflow/internal/platform/middleware"
	"kycflow/internal/trust"
	"kycflow/internal/webhook"
)

// Deps collects the mounted handlers. Nil handlers are skipped so
// partial assemblies stay possible in tests.
type Deps struct {
	Cases    *casehandler.Handler
	Webhooks *webhook.Handler
	Trust    *trust.Handler
	Admin    *admin.Handler
	Tokens   middleware.AdminTokenValidator
	Health   *HealthHandler

	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// NewRouter wires all endpoints behind the shared middleware chain.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.ContentTypeJSON)

	if deps.Cases != nil {
		deps.Cases.Register(r)
	}
	if deps.Webhooks != nil {
		deps.Webhooks.Register(r)
	}
	if deps.Trust != nil {
		deps.Trust.Register(r)
	}
	if deps.Admin != nil {
		deps.Admin.Register(r)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(deps.Tokens, logger))
			deps.Admin.RegisterProtected(r)
		})
	}
	if deps.Health != nil {
		r.Get("/kyc/health", deps.Health.HandleHealth)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
