package order

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors for order operations.
var (
	ErrBuyerRequired      = errors.New("buyer required")
	ErrNotFound           = errors.New("order not found")
	ErrDuplicateKey       = errors.New("idempotency key already used")
	ErrInvalidStatus      = errors.New("invalid order status")
	ErrStatusRegression   = errors.New("order status cannot move backwards")
	ErrCheckoutInProgress = errors.New("checkout already in progress")
)

// ValidationError reports submitted fields that failed validation. No state
// has been touched when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ProductNotFoundError indicates a cart line references a product that is no
// longer in the catalog.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a cart line has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}
