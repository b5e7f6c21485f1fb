package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"courier-dispatch/internal/http/handlers"
	"courier-dispatch/internal/http/middleware/auth"
	"courier-dispatch/internal/logx"

	obs "courier-dispatch/internal/http/middleware"
)

// Deps is what the router needs to mount every route.
type Deps struct {
	Logger     logx.Logger
	Base       *handlers.Handlers
	Dispatch   *handlers.DispatchHandler
	Deliveries *handlers.DeliveryHandler
	Drivers    *handlers.DriverHandler
	Verifier   *auth.Verifier
	// RateLimit is applied to the API routes only; ops endpoints stay open.
	RateLimit func(http.Handler) http.Handler
	Timeout   time.Duration
	Metrics   http.Handler
}

// New constructs a chi-based http.Handler with base middleware and routes.
func New(d Deps) http.Handler {
	if d.Timeout <= 0 {
		d.Timeout = 5 * time.Second
	}
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(obs.Observability(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(d.Timeout))

	r.Get("/ping", d.Base.Ping)
	r.Method(http.MethodHead, "/healthcheck", http.HandlerFunc(d.Base.HealthcheckHead))
	r.Method(http.MethodGet, "/metrics", d.Metrics)
	r.NotFound(d.Base.NotFound)
	r.MethodNotAllowed(d.Base.MethodNotAllowed)

	r.Group(func(r chi.Router) {
		if d.Verifier != nil {
			r.Use(d.Verifier.Optional())
		}
		if d.RateLimit != nil {
			r.Use(d.RateLimit)
		}

		r.Route("/deliveries/{id}", func(r chi.Router) {
			r.Get("/", d.Deliveries.Get)
			r.Get("/offers", d.Deliveries.History)
			r.Post("/dispatch", d.Dispatch.Dispatch)
			r.Post("/complete", d.Deliveries.Complete)
			r.Post("/cancel", d.Deliveries.Cancel)
			r.Group(func(r chi.Router) {
				if d.Verifier != nil {
					r.Use(d.Verifier.Required())
				}
				r.Post("/reclaim", d.Dispatch.Reclaim)
			})
		})

		r.Post("/offers/sweep", d.Dispatch.Sweep)
		r.Post("/offers/{id}/respond", d.Dispatch.Respond)

		r.Get("/drivers", d.Drivers.List)
		r.Post("/drivers", d.Drivers.Create)
		r.Get("/drivers/{id}", d.Drivers.GetByID)
		r.Patch("/drivers/{id}", d.Drivers.Update)
	})

	return r
}
