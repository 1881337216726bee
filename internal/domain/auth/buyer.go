package auth

import "context"

// Buyer is the authenticated identity placing orders. It is issued by the
// external auth service; this service only verifies it.
type Buyer struct {
	ID       int64
	Username string
}

type buyerKey struct{}

// WithBuyer returns a copy of ctx carrying b.
func WithBuyer(ctx context.Context, b Buyer) context.Context {
	return context.WithValue(ctx, buyerKey{}, b)
}

// BuyerFrom extracts the buyer stored by WithBuyer.
func BuyerFrom(ctx context.Context) (Buyer, bool) {
	b, ok := ctx.Value(buyerKey{}).(Buyer)
	return b, ok
}
