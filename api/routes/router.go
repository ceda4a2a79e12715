package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/cart"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/storefront-backend/pkg/redis"
)

// PaymentsService covers both the webhook and the client confirmation paths.
type PaymentsService interface {
	HandleNotification(ctx context.Context, n payments.Notification) (payments.Outcome, error)
	ConfirmClientResult(ctx context.Context, c payments.ClientConfirmation) (*payments.ConfirmResult, error)
}

type Deps struct {
	Config *config.Config
	Logger *logger.Logger

	// Readiness checks by name; nil entries are skipped.
	Checks      map[string]controllers.Pinger
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
	Idempotency pkgredis.IdempotencyStore

	Checkout checkoutsvc.Service
	Orders   orders.Service
	Cart     cart.Service
	Payments PaymentsService
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Checks))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mercadopago", webhookcontrollers.MercadoPagoWebhook(deps.Payments, cfg.MercadoPago.WebhookSecret, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		idempotent := middleware.Idempotency(deps.Idempotency, cfg.Checkout.IdempotencyTTL, logg)
		r.Route("/checkout", func(r chi.Router) {
			r.With(idempotent).Post("/orders", controllers.PlaceOrder(deps.Checkout, logg))
			r.With(idempotent).Post("/hosted", controllers.HostedCheckout(deps.Checkout, logg))
		})

		r.Post("/payments/confirm", controllers.ConfirmPayment(deps.Payments, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.CartFetch(deps.Cart, logg))
			r.Delete("/", cartcontrollers.CartClear(deps.Cart, logg))
			r.Post("/items", cartcontrollers.CartAddItem(deps.Cart, logg))
			r.Patch("/items/{productId}", cartcontrollers.CartUpdateItem(deps.Cart, logg))
			r.Delete("/items/{productId}", cartcontrollers.CartRemoveItem(deps.Cart, logg))
			r.Post("/merge", cartcontrollers.CartMerge(deps.Cart, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
			r.Route("/orders", func(r chi.Router) {
				r.Get("/", controllers.AdminOrderList(deps.Orders, logg))
				r.Get("/{orderId}", controllers.AdminOrderDetail(deps.Orders, logg))
				r.Patch("/{orderId}/status", controllers.AdminOrderUpdateStatus(deps.Orders, logg))
				r.Delete("/{orderId}", controllers.AdminOrderDelete(deps.Orders, logg))
			})
		})
	})

	return r
}
