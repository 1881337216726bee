package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// APIKeyInfo holds the identity and permission data for a validated operator API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ScopeFulfillment allows advancing order status.
const ScopeFulfillment = "fulfillment"

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// ErrAPIKeyNotFound is returned when no active key matches a hash.
var ErrAPIKeyNotFound = errors.New("api key not found")
