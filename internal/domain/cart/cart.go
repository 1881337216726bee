// Package cart defines the session-scoped shopping cart.
//
// A cart maps product identifiers to requested quantities. It lives in
// ephemeral session state and is never part of the durable order store.
package cart

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
)

// ErrEmptyProductID is returned when a cart operation names no product.
var ErrEmptyProductID = errors.New("product id required")

// Snapshot is a point-in-time copy of a cart. Every quantity is at least 1;
// an absent product means zero.
type Snapshot map[string]int

// ProductIDs returns the snapshot keys in ascending order.
func (s Snapshot) ProductIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent copy of s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, qty := range s {
		out[id] = qty
	}
	return out
}

// Store holds one cart per session.
type Store interface {
	// Add increments the quantity of productID by one, creating it at 1.
	Add(ctx context.Context, session, productID string) error
	// Remove deletes productID from the cart. Removing an absent product is a no-op.
	Remove(ctx context.Context, session, productID string) error
	// Snapshot returns the current contents without mutating them.
	Snapshot(ctx context.Context, session string) (Snapshot, error)
	// Clear empties the cart.
	Clear(ctx context.Context, session string) error
	// Subtract removes the quantities in ordered from the cart, dropping
	// entries that reach zero. Units added after ordered was taken stay.
	Subtract(ctx context.Context, session string, ordered Snapshot) error
}
