/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the supervision PWA
  5. Rate limit: /iot/* only, protects the single writer from a sensor
                 stuck in a fast loop

ROUTE GROUPS:
  /status, /events, /ws   Supervision
  /iot/*                  Device firmware
  /sessions/*             Operator session lifecycle
  /healthz, /metrics      Ops

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// RouterOptions tune the middleware stack.
type RouterOptions struct {
	// CORSOrigins defaults to every origin when empty.
	CORSOrigins []string

	// IoTRateLimit is requests per second across all /iot endpoints.
	// Zero disables limiting.
	IoTRateLimit float64
	IoTBurst     int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Supervision
	r.Get("/status", h.GetStatus)
	r.Get("/events", h.ListEvents)
	r.Get("/ws", h.StatusStream)

	// Device routes
	r.Route("/iot", func(r chi.Router) {
		if opts.IoTRateLimit > 0 {
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.IoTRateLimit), opts.IoTBurst)))
		}
		r.Post("/slot", h.ReportSlot)
		r.Post("/plate", h.RecordPlate)
	})

	// Session routes
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Get("/{id}", h.GetSession)
		r.Post("/stop", h.StopSession)
		r.Post("/pay", h.PaySession)
	})

	// Ops
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "Too many sensor reports", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
