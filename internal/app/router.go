package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atelier-erp/atelier/internal/approval"
	audithttp "github.com/atelier-erp/atelier/internal/audit/http"
	"github.com/atelier-erp/atelier/internal/auth"
	"github.com/atelier-erp/atelier/internal/authz"
	"github.com/atelier-erp/atelier/internal/deliveries"
	"github.com/atelier-erp/atelier/internal/invoices"
	"github.com/atelier-erp/atelier/internal/observability"
	"github.com/atelier-erp/atelier/internal/projects"
	"github.com/atelier-erp/atelier/internal/quotations"
	"github.com/atelier-erp/atelier/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	AuthHandler      *auth.Handler
	AuthMiddleware   *auth.Middleware
	AuthzMiddleware  authz.Middleware
	ProjectHandler   *projects.Handler
	QuotationHandler *quotations.Handler
	InvoiceHandler   *invoices.Handler
	DeliveryHandler  *deliveries.Handler
	ApprovalHandler  *approval.Handler
	AuditHandler     *audithttp.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router.
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
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	params.AuthHandler.MountRoutes(r)

	// All document routes require an authenticated user. Invoices and
	// deliveries are additionally gated to admin and finance.
	r.Group(func(r chi.Router) {
		r.Use(params.AuthMiddleware.RequireUser)

		params.ProjectHandler.MountRoutes(r)
		params.QuotationHandler.MountRoutes(r)
		params.ApprovalHandler.MountRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(params.AuthzMiddleware.RequireAny(shared.RoleAdmin, shared.RoleFinance))
			params.InvoiceHandler.MountRoutes(r)
			params.DeliveryHandler.MountRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(params.AuthzMiddleware.RequireAny(shared.RoleAdmin))
			params.AuditHandler.MountRoutes(r)
		})
	})

	return r
}
