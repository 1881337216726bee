package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
)

// writeDomainError maps domain errors to responses. Anything unrecognised
// is logged and reported as a generic retryable failure.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr   *order.ValidationError
		pnfErr *order.ProductNotFoundError
		iqErr  *order.InvalidQuantityError
	)
	switch {
	case errors.As(err, &vErr):
		writeValidationError(w, vErr.Fields)
	case errors.As(err, &pnfErr):
		writeError(w, http.StatusUnprocessableEntity, pnfErr.Error())
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, cart.ErrEmptyProductID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrInvalidStatus):
		writeValidationError(w, map[string]string{"status": "unknown status"})
	case errors.Is(err, order.ErrStatusRegression):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrCheckoutInProgress):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "checkout already in progress, retry")
	case errors.Is(err, order.ErrBuyerRequired):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error, please retry")
	}
}
