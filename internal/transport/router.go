package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/casefold/grantflow/internal/casework"
	"github.com/casefold/grantflow/internal/config"
	"github.com/casefold/grantflow/internal/definition"
	"github.com/casefold/grantflow/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Authenticate func(http.Handler) http.Handler
	Engine       *casework.Engine
	Registry     *definition.Registry
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes, no authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/workflows", handleWorkflowList(deps.Registry))
		r.Get("/workflows/{code}", handleWorkflowGet(deps.Registry))
		r.Post("/workflows", handleWorkflowCreate(deps.Registry))

		r.Post("/cases", handleCaseCreate(deps.Engine))
		r.Get("/cases", handleCaseList(deps.Engine))
		r.Get("/cases/{caseId}", handleCaseGet(deps.Engine))
		r.Get("/cases/{caseId}/timeline", handleCaseTimeline(deps.Engine))
		r.Put("/cases/{caseId}/assignee", handleCaseAssign(deps.Engine))
		r.Put(
			"/cases/{caseId}/stages/{stageCode}/task-groups/{groupCode}/tasks/{taskCode}",
			handleTaskStatusUpdate(deps.Engine),
		)
		r.Post("/cases/{caseId}/transitions", handleCaseTransition(deps.Engine))
		r.Post("/cases/{caseId}/advance", handleCaseAdvance(deps.Engine))
	})

	return r
}
