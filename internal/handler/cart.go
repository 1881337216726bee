package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// GetCart returns the session cart priced at current catalog prices.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.writeCart(w, r)
}

// AddCartItem adds one unit of a product and returns the updated cart.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.carts.Add(ctx, sessionFrom(ctx), chi.URLParam(r, "productID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.writeCart(w, r)
}

// RemoveCartItem drops a product from the cart and returns the updated cart.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.carts.Remove(ctx, sessionFrom(ctx), chi.URLParam(r, "productID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.writeCart(w, r)
}

// ClearCart empties the session cart and returns it.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.carts.Clear(ctx, sessionFrom(ctx)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.writeCart(w, r)
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.carts.View(ctx, sessionFrom(ctx))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCartView(e, view) })
}
