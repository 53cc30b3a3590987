package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/haneul-labs/tripdesk/internal/approval"
	"github.com/haneul-labs/tripdesk/internal/config"
	"github.com/haneul-labs/tripdesk/internal/idempotency"
	"github.com/haneul-labs/tripdesk/internal/observability"
	"github.com/haneul-labs/tripdesk/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Engine             *approval.Engine
	Metrics            *observability.Metrics
	CapabilityResolver model.CapabilityResolver
	Idempotency        idempotency.Store
	Readiness          observability.ReadinessChecks

	// Authenticate overrides the JWT middleware. Nil means no authentication,
	// which is only acceptable in tests.
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware, applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	engine := deps.Engine
	idemTTL := deps.Config.Idempotency.Store.DefaultTTL
	idemStore := deps.Idempotency
	if !deps.Config.Idempotency.Enabled {
		idemStore = nil
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		view := RequireCapability(model.CapApprovalsView)
		r.With(view).Get("/approvals", handleApprovalList(engine))
		r.With(view).Get("/approvals/stats", handleApprovalStats(engine))
		r.With(view).Get("/approvals/pending", handleApprovalPending(engine))
		r.With(view).Get("/approvals/{id}", handleApprovalGet(engine))

		r.With(RequireCapability(model.CapApprovalsCreate)).
			Post("/approvals", handleApprovalCreate(engine, deps.Metrics))
		r.With(RequireCapability(model.CapApprovalsUpdate)).
			Put("/approvals/{id}", handleApprovalUpdate(engine))
		r.With(RequireCapability(model.CapApprovalsAction)).
			Post("/approvals/{id}/action", handleApprovalAction(engine, idemStore, idemTTL, deps.Metrics, logger))
		r.With(RequireCapability(model.CapApprovalsDelete)).
			Delete("/approvals/{id}", handleApprovalDelete(engine))
	})

	return r
}
