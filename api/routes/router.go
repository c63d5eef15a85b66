package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/musicx/musicx-backend/api/controllers"
	ordercontrollers "github.com/musicx/musicx-backend/api/controllers/orders"
	paymentcontrollers "github.com/musicx/musicx-backend/api/controllers/payments"
	"github.com/musicx/musicx-backend/api/middleware"
	"github.com/musicx/musicx-backend/internal/orders"
	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/enums"
	"github.com/musicx/musicx-backend/pkg/logger"
	"github.com/musicx/musicx-backend/pkg/metrics"
	"github.com/musicx/musicx-backend/pkg/redis"
)

// RouterParams carries the collaborators the HTTP surface is built from.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	Readiness   map[string]controllers.Pinger
	Idempotency redis.IdempotencyStore
	Orders      orders.Service
	Payments    paymentcontrollers.Service
	HTTPMetrics *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	orderKeys := middleware.Idempotent(params.Idempotency, middleware.OrderKeyTTL, logg)
	adminKeys := middleware.Idempotent(params.Idempotency, middleware.AdminKeyTTL, logg)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, params.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, params.Readiness, logg))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(params.Gatherer))

	r.Route("/api", func(r chi.Router) {
		// gateway callbacks authenticate by signature, not bearer token
		r.Get("/v1/payments/return", paymentcontrollers.Return(params.Payments, logg))
		r.Post("/v1/payments/notify", paymentcontrollers.Notify(params.Payments, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.With(orderKeys).Post("/v1/orders", ordercontrollers.Place(params.Orders, logg))
			r.Get("/v1/orders/{orderId}", ordercontrollers.Detail(params.Orders, logg))
			r.With(orderKeys).Put("/v1/orders/{orderId}/cancel", ordercontrollers.Cancel(params.Orders, logg))
			r.Get("/v1/users/{userId}/orders", ordercontrollers.ListForUser(params.Orders, logg))
			r.With(orderKeys).Post("/v1/payments/create-link", paymentcontrollers.CreateLink(params.Payments, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
				r.Get("/admin/v1/orders", ordercontrollers.AdminList(params.Orders, logg))
				r.With(adminKeys).Put("/admin/v1/orders/{orderId}", ordercontrollers.AdminUpdateStatus(params.Orders, logg))
				r.Delete("/admin/v1/orders/{orderId}", ordercontrollers.AdminDelete(params.Orders, logg))
			})
		})
	})

	return r
}
