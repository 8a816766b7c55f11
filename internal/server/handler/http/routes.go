package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Auth      *AuthHandler
	Generator *GeneratorHandler
	Orders    *OrderHandler
	Checkout  *CheckoutHandler
	IPN       *IPNHandler
}

// NewRouter constructs and returns an HTTP handler that serves the
// dispenser API.
//
// Routes:
//
//	POST /api/register     → Auth.Register
//	POST /api/login        → Auth.Login              (CertAuth)
//	GET  /api/services     → Generator.Services
//	POST /api/generate     → Generator.Generate      (CertAuth)
//	GET  /api/history      → Generator.History       (CertAuth)
//	GET  /api/stats        → Generator.Stats         (CertAuth)
//	POST /orders/register  → Orders.Register
//	GET  /orders/status    → Orders.Status
//	POST /create-order     → Checkout.CreateOrder
//	POST /capture-order    → Checkout.CaptureOrder
//	POST /paypal/ipn       → IPN.Notify              (form encoded)
//	GET  /metrics          → Prometheus
//
// Middleware chain (applied in order):
//  1. RequestID, RealIP
//  2. WithRequestLogging(logger)
//  3. Recoverer
//  4. Throttle(maxInflight) when maxInflight > 0
//  5. AllowContentType("application/json") on the JSON routes
//  6. CertAuth on the protected group
func NewRouter(h Handlers, logger *zap.Logger, maxInflight int) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)
	if maxInflight > 0 {
		r.Use(chiMiddleware.Throttle(maxInflight))
	}

	r.NotFound(NotFound)
	r.Handle("/metrics", promhttp.Handler())

	// Providers post IPN as application/x-www-form-urlencoded.
	r.Post("/paypal/ipn", h.IPN.Notify)

	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))

		r.Post("/orders/register", h.Orders.Register)
		r.Get("/orders/status", h.Orders.Status)
		r.Post("/create-order", h.Checkout.CreateOrder)
		r.Post("/capture-order", h.Checkout.CaptureOrder)

		r.Route("/api", func(r chi.Router) {
			// Public endpoints
			r.Post("/register", h.Auth.Register)
			r.Get("/services", h.Generator.Services)

			// Protected group: requires valid client certificate
			r.Group(func(r chi.Router) {
				r.Use(middleware.CertAuth)
				r.Post("/login", h.Auth.Login)
				r.Post("/generate", h.Generator.Generate)
				r.Get("/history", h.Generator.History)
				r.Get("/stats", h.Generator.Stats)
			})
		})
	})

	return r
}
