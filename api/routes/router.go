package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shoplane-labs/shoplane-backend/api/controllers"
	"github.com/shoplane-labs/shoplane-backend/api/middleware"
	cartsvc "github.com/shoplane-labs/shoplane-backend/internal/cart"
	checkoutsvc "github.com/shoplane-labs/shoplane-backend/internal/checkout"
	orderssvc "github.com/shoplane-labs/shoplane-backend/internal/orders"
	paymentsvc "github.com/shoplane-labs/shoplane-backend/internal/payments"
	"github.com/shoplane-labs/shoplane-backend/pkg/config"
	"github.com/shoplane-labs/shoplane-backend/pkg/db"
	"github.com/shoplane-labs/shoplane-backend/pkg/logger"
	"github.com/shoplane-labs/shoplane-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	cartService cartsvc.Service,
	checkoutService checkoutsvc.Service,
	ordersService orderssvc.Service,
	paymentsService paymentsvc.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(middleware.SessionToken(logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/", controllers.CartFetch(cartService, logg))
		r.Delete("/", controllers.CartClear(cartService, logg))
		r.Post("/items", controllers.CartAddItem(cartService, logg))
		r.Patch("/items/{productId}", controllers.CartUpdateItem(cartService, logg))
		r.Delete("/items/{productId}", controllers.CartRemoveItem(cartService, logg))
		r.Post("/merge", controllers.CartMerge(cartService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/checkout", controllers.Checkout(checkoutService, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(ordersService, logg))
			r.Get("/{orderId}", controllers.OrderDetail(ordersService, logg))
			r.Post("/{orderId}/cancel", controllers.OrderCancel(ordersService, logg))
			r.Post("/{orderId}/advance", controllers.OrderAdvance(ordersService, logg))

			r.Post("/{orderId}/payment", controllers.PaymentCreateIntent(paymentsService, logg))
			r.Get("/{orderId}/payment", controllers.PaymentDetail(paymentsService, logg))
		})

		r.Get("/payments", controllers.PaymentList(paymentsService, logg))
		r.Post("/payments/{intentId}/reconcile", controllers.PaymentReconcile(paymentsService, logg))
	})

	return r
}
