package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog entry as seen by the checkout flow.
type Product struct {
	ID    string
	Title string
	Price decimal.Decimal
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the products that exist among ids. Missing ids are
	// silently absent from the result.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
