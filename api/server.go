/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging (logging.RequestLogger)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/settings         Invoice numbering, payment terms, timezone
  /api/clients/*        Clients and client-level invoices
  /api/projects/*       Projects, their items and project invoices
  /api/time-entries/*   Time entry writes
  /api/expenses/*       Expense writes
  /api/invoices/*       Invoice lifecycle
  /metrics              Prometheus
  /healthz              Database ping

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/timesheet/logging"
)

type RouterOptions struct {
	Logger         *zap.Logger
	AllowedOrigins []string
	// Metrics is served on /metrics when set.
	Metrics prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		// Client routes
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClient)
			r.Post("/{id}/invoices", h.GenerateClientInvoice)
		})

		// Project routes
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
			r.Patch("/{id}", h.UpdateProject)
			r.Get("/{id}/time-entries", h.ListTimeEntries)
			r.Get("/{id}/expenses", h.ListExpenses)
			r.Get("/{id}/unbilled", h.GetUnbilled)
			r.Post("/{id}/invoices", h.GenerateProjectInvoice)
		})

		// Time entry routes
		r.Route("/time-entries", func(r chi.Router) {
			r.Post("/", h.CreateTimeEntry)
			r.Put("/{id}", h.UpdateTimeEntry)
			r.Delete("/{id}", h.DeleteTimeEntry)
		})

		// Expense routes
		r.Route("/expenses", func(r chi.Router) {
			r.Post("/", h.CreateExpense)
			r.Put("/{id}", h.UpdateExpense)
			r.Delete("/{id}", h.DeleteExpense)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Get("/{id}", h.GetInvoice)
			r.Delete("/{id}", h.DeleteInvoice)
			r.Post("/{id}/status", h.TransitionInvoice)
			r.Post("/{id}/line-items", h.AddManualLine)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
