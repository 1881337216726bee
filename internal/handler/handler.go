// Package handler exposes the cart, checkout and order history over HTTP.
package handler

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/order"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// SessionCookie names the cookie carrying the cart session id.
	SessionCookie string
	// SessionSecure marks the session cookie Secure.
	SessionSecure bool
	// SessionMaxAge is the cookie lifetime. Zero makes it a browser-session cookie.
	SessionMaxAge time.Duration
	// JWTSecret verifies buyer bearer tokens (HS256).
	JWTSecret []byte
	// APIKeyPepper is the HMAC key used to hash operator API keys.
	APIKeyPepper []byte
}

// Handler serves the marketplace API.
type Handler struct {
	cfg      Config
	carts    *cart.Service
	orders   *order.Service
	apikeys  auth.Repository
	validate *validator.Validate
	now      func() time.Time
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	carts *cart.Service,
	orders *order.Service,
	apikeys auth.Repository,
) *Handler {
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "cart_session"
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		cfg:      cfg,
		carts:    carts,
		orders:   orders,
		apikeys:  apikeys,
		validate: v,
		now:      time.Now,
	}
}

// Routes returns the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.Session)
			r.Get("/cart", h.GetCart)
			r.Delete("/cart", h.ClearCart)
			r.Post("/cart/items/{productID}", h.AddCartItem)
			r.Delete("/cart/items/{productID}", h.RemoveCartItem)
			r.With(h.BuyerAuth).Post("/orders", h.PlaceOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.BuyerAuth)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{orderID}", h.GetOrder)
		})

		r.With(h.APIKeyAuth(auth.ScopeFulfillment)).
			Post("/fulfillment/orders/{orderID}/status", h.AdvanceStatus)
	})
	return r
}
