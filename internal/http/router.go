package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	Cart           *CartHandler
	Health         http.HandlerFunc
	Metrics        http.Handler
	Logger         zerolog.Logger
	RequestTimeout time.Duration

	// RateLimit caps API requests per second across all sessions. Zero
	// disables limiting.
	RateLimit float64
	RateBurst int
}

// NewRouter builds the HTTP API. The returned handler is instrumented with
// OpenTelemetry under the operation name "storefront".
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(cfg.Logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", cfg.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	h := cfg.Cart
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(RateLimitMiddleware(rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))))
		}

		r.Get("/discounts/{code}", h.LookupDiscount)

		r.Route("/cart", func(r chi.Router) {
			r.Use(SessionMiddleware)
			r.Use(RoleMiddleware)

			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)

			r.Post("/items", h.AddItem)
			r.Put("/items/{line_id}", h.UpdateQuantity)
			r.Delete("/items/{line_id}", h.RemoveItem)

			r.Post("/discount", h.ApplyDiscount)
			r.Delete("/discount", h.RemoveDiscount)

			r.Post("/toggle", h.ToggleCart)
			r.Post("/open", h.OpenCart)
			r.Post("/close", h.CloseCart)

			r.Get("/products/{product_id}", h.ProductStatus)
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
