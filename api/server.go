/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/customers/*      Customer management
  /api/deliveries/*     Delivery ledger
  /api/summary/*        Day and range totals
  /api/reports/*        CSV register export
  /api/backup           Backup download / restore
  /api/scenarios/*      Demo data sets
  /api/status           Ledger size and write queue
  /metrics              Prometheus metrics
  /                     Index page listing the endpoints

SECURITY NOTE:
  No authentication middleware. All endpoints are public; bind to
  localhost when exposing the server.

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
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Customer routes
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Put("/{id}", h.UpdateCustomer)
			r.Delete("/{id}", h.DeleteCustomer)
		})

		// Delivery routes
		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", h.ListDeliveries)
			r.Post("/", h.CreateDelivery)
			r.Put("/{id}", h.UpdateDelivery)
			r.Delete("/{id}", h.DeleteDelivery)
		})

		// Summary routes
		r.Route("/summary", func(r chi.Router) {
			r.Get("/day", h.GetDaySummary)
			r.Get("/range", h.GetRangeSummary)
		})

		r.Get("/reports/register", h.ExportRegister)

		// Backup routes
		r.Get("/backup", h.ExportBackup)
		r.Post("/backup", h.ImportBackup)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})

		r.Get("/status", h.GetStatus)
	})

	gatherer := h.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Milk Ledger</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Milk Ledger API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/customers">/api/customers</a> - List customers</li>
<li><a href="/api/deliveries">/api/deliveries</a> - Deliveries this month</li>
<li><a href="/api/summary/day">/api/summary/day</a> - Today's round</li>
<li><a href="/api/reports/register">/api/reports/register</a> - Register for this month (CSV)</li>
<li><a href="/api/backup">/api/backup</a> - Download backup</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo data sets</li>
<li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
</ul>
</body>
</html>`))
	})

	return r
}
