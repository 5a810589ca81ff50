/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request line (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/members/*        Members, their contributions, payments, balance
  /api/contributions    Month view across members
  /api/payments/*       Recent payments
  /api/stats/*          Lifetime and monthly statistics
  /api/admin/*          Monthly run, backfill
  /api/reports/*        Spreadsheet exports
  /api/scenarios/*      Demo scenarios
  /health               Liveness

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
	"github.com/rs/zerolog"
)

// RouterOptions configures NewRouter. Zero values get defaults.
type RouterOptions struct {
	AllowedOrigins []string
}

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", actorHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.CreateMember)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetMember)
				r.Put("/", h.UpdateMember)
				r.Delete("/", h.DeleteMember)
				r.Post("/fees", h.ToggleFeesPaid)
				r.Post("/balance", h.AdjustBalance)
				r.Get("/payments", h.ListMemberPayments)

				r.Route("/contributions", func(r chi.Router) {
					r.Get("/", h.ListMemberContributions)
					r.Post("/", h.AddContribution)
					r.Get("/{month}", h.GetContribution)
					r.Delete("/{month}", h.DeleteContribution)
					r.Post("/{month}/payments", h.AddPayment)
					r.Delete("/{month}/payments/{paymentID}", h.DeletePayment)
				})
			})
		})

		r.Get("/contributions", h.ListMonthContributions)
		r.Get("/payments/recent", h.RecentPayments)

		r.Route("/stats", func(r chi.Router) {
			r.Get("/", h.GetLifetimeStats)
			r.Get("/monthly", h.ListMonthlyStats)
			r.Get("/monthly/{month}", h.GetMonthlyStats)
			r.Post("/monthly/{month}/recompute", h.RecomputeMonthlyStats)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/runs", h.GenerateRun)
			r.Get("/runs/{month}", h.GetRun)
			r.Post("/backfill", h.Backfill)
		})

		r.Get("/reports/monthly.xlsx", h.MonthlyReport)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestLogger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
