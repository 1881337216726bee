package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/product"
)

// Line is one cart entry resolved against the catalog for display.
type Line struct {
	ProductID string
	Title     string
	UnitPrice decimal.Decimal
	Quantity  int
	Subtotal  decimal.Decimal
	// Missing is set when the product is no longer in the catalog. Missing
	// lines do not count towards Total.
	Missing bool
}

// View is a priced rendering of a cart.
type View struct {
	Lines []Line
	Total decimal.Decimal
}

// Service exposes cart operations to the HTTP layer.
type Service struct {
	store    Store
	products product.Repository
}

// NewService creates a cart Service over store, using products to reject
// unknown products and to price the cart view.
func NewService(store Store, products product.Repository) *Service {
	return &Service{store: store, products: products}
}

// Add puts one more unit of productID into the session cart.
func (s *Service) Add(ctx context.Context, session, productID string) error {
	if productID == "" {
		return ErrEmptyProductID
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return product.ErrNotFound
		}
		return fmt.Errorf("get product %q: %w", productID, err)
	}
	if err := s.store.Add(ctx, session, productID); err != nil {
		return fmt.Errorf("add to cart: %w", err)
	}
	return nil
}

// Remove drops productID from the session cart.
func (s *Service) Remove(ctx context.Context, session, productID string) error {
	if err := s.store.Remove(ctx, session, productID); err != nil {
		return fmt.Errorf("remove from cart: %w", err)
	}
	return nil
}

// Clear empties the session cart.
func (s *Service) Clear(ctx context.Context, session string) error {
	if err := s.store.Clear(ctx, session); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// View prices the session cart at current catalog prices.
func (s *Service) View(ctx context.Context, session string) (*View, error) {
	snapshot, err := s.store.Snapshot(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}

	v := &View{Lines: []Line{}, Total: decimal.Zero}
	ids := snapshot.ProductIDs()
	if len(ids) == 0 {
		return v, nil
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	for _, id := range ids {
		qty := snapshot[id]
		p, ok := byID[id]
		if !ok {
			v.Lines = append(v.Lines, Line{ProductID: id, Quantity: qty, Missing: true})
			continue
		}
		subtotal := p.Price.Mul(decimal.NewFromInt(int64(qty)))
		v.Lines = append(v.Lines, Line{
			ProductID: id,
			Title:     p.Title,
			UnitPrice: p.Price,
			Quantity:  qty,
			Subtotal:  subtotal,
		})
		v.Total = v.Total.Add(subtotal)
	}
	return v, nil
}
