// Package redis stores session carts in Redis so that they survive restarts
// and are shared between API instances.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace/internal/domain/cart"
)

// DefaultTTL is how long an untouched cart is kept.
const DefaultTTL = 7 * 24 * time.Hour

var _ cart.Store = (*CartStore)(nil)

// CartStore keeps every cart as a hash of product id to quantity under
// cart:<session>. Each write refreshes the expiry.
type CartStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCartStore returns a CartStore. A non-positive ttl means DefaultTTL.
func NewCartStore(client redis.UniversalClient, ttl time.Duration) *CartStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CartStore{client: client, ttl: ttl}
}

func (s *CartStore) Add(ctx context.Context, session, productID string) error {
	if productID == "" {
		return cart.ErrEmptyProductID
	}
	key := cartKey(session)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, productID, 1)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis add to cart: %w", err)
	}
	return nil
}

func (s *CartStore) Remove(ctx context.Context, session, productID string) error {
	if productID == "" {
		return cart.ErrEmptyProductID
	}
	// Deleting the last field removes the key as well.
	if err := s.client.HDel(ctx, cartKey(session), productID).Err(); err != nil {
		return fmt.Errorf("redis remove from cart: %w", err)
	}
	return nil
}

func (s *CartStore) Snapshot(ctx context.Context, session string) (cart.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, cartKey(session)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read cart: %w", err)
	}

	snap := make(cart.Snapshot, len(fields))
	for id, raw := range fields {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("redis read cart: quantity of %q: %w", id, err)
		}
		if qty > 0 {
			snap[id] = qty
		}
	}
	return snap, nil
}

func (s *CartStore) Clear(ctx context.Context, session string) error {
	if err := s.client.Del(ctx, cartKey(session)).Err(); err != nil {
		return fmt.Errorf("redis clear cart: %w", err)
	}
	return nil
}

// subtractScript decrements each ARGV pair (field, qty) and drops fields
// that reach zero, atomically.
var subtractScript = redis.NewScript(`
for i = 1, #ARGV, 2 do
	local left = redis.call('HINCRBY', KEYS[1], ARGV[i], -tonumber(ARGV[i + 1]))
	if left <= 0 then
		redis.call('HDEL', KEYS[1], ARGV[i])
	end
end
return 0
`)

// Subtract removes the ordered quantities in one script run.
func (s *CartStore) Subtract(ctx context.Context, session string, ordered cart.Snapshot) error {
	if len(ordered) == 0 {
		return nil
	}
	args := make([]any, 0, 2*len(ordered))
	for _, id := range ordered.ProductIDs() {
		args = append(args, id, ordered[id])
	}
	if err := subtractScript.Run(ctx, s.client, []string{cartKey(session)}, args...).Err(); err != nil {
		return fmt.Errorf("redis subtract from cart: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *CartStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func cartKey(session string) string {
	return "cart:" + session
}
