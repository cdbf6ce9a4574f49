/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     One structured (logrus) line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/medications/*     Medication catalog
  /api/receipts          Stock in
  /api/dispenses/*       Stock out, edit, delete
  /api/reports/*         Snapshot, inventory, register, lists
  /api/reconciliation/*  Drift checks
  /api/audit             Audit trail
  /api/admin/*           Error log
  /api/catalog/*         Bulk import
  /api/scenarios/*       Demo scenarios
  /healthz               Liveness and store check

SECURITY NOTE:
  No authentication middleware. All endpoints are public and the X-User
  header is trusted.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Route("/medications", func(r chi.Router) {
			r.Get("/", h.ListMedications)
			r.Post("/", h.CreateMedication)
			r.Get("/{id}", h.GetMedication)
			r.Put("/{id}", h.UpdateMedication)
			r.Delete("/{id}", h.DeleteMedication)
		})

		r.Post("/receipts", h.CreateReceipt)

		r.Route("/dispenses", func(r chi.Router) {
			r.Post("/", h.CreateDispense)
			r.Get("/{id}", h.GetDispense)
			r.Put("/{id}", h.EditDispense)
			r.Delete("/{id}", h.DeleteDispense)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/stock", h.StockReport)
			r.Get("/inventory", h.InventoryReport)
			r.Get("/controlled", h.ControlledReport)
			r.Get("/dispenses", h.DispenseReport)
			r.Get("/receipts", h.ReceiptReport)
		})

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/", h.Reconcile)
			r.Get("/runs", h.ListReconciliationRuns)
		})

		r.Get("/audit", h.AuditTrail)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/error-logs", h.ErrorLogs)
		})

		r.Post("/catalog/import", h.ImportCatalog)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs one line per request. Server errors log at warn.
func requestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				entry := logger.WithFields(logrus.Fields{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      ww.Status(),
					"bytes":       ww.BytesWritten(),
					"duration_ms": time.Since(start).Milliseconds(),
					"request_id":  middleware.GetReqID(r.Context()),
				})
				if ww.Status() >= http.StatusInternalServerError {
					entry.Warn("request")
				} else {
					entry.Info("request")
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
