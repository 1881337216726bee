package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/auth"
)

// HeaderAPIKey carries the operator API key.
const HeaderAPIKey = "X-API-Key"

// BuyerClaims are the JWT claims issued by the identity provider. Subject is
// the numeric buyer id.
type BuyerClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// SignBuyerToken issues an HS256 token for b valid for ttl. The API itself
// only verifies tokens; this is used by tooling and tests.
func SignBuyerToken(secret []byte, b auth.Buyer, ttl time.Duration, now time.Time) (string, error) {
	claims := BuyerClaims{
		Username: b.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(b.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// BuyerAuth requires a valid "Authorization: Bearer <jwt>" header and stores
// the buyer in the request context.
func (h *Handler) BuyerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buyer, err := h.parseBuyer(r.Header.Get("Authorization"))
		if err != nil {
			zctx.From(r.Context()).Debug("Buyer authentication failed", zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="marketplace"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := zctx.With(auth.WithBuyer(r.Context(), buyer), zap.Int64("buyer_id", buyer.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) parseBuyer(header string) (auth.Buyer, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return auth.Buyer{}, errors.New("missing bearer token")
	}

	var claims BuyerClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return h.cfg.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.now),
	)
	if err != nil {
		return auth.Buyer{}, errors.Wrap(err, "parse token")
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return auth.Buyer{}, errors.Errorf("invalid subject %q", claims.Subject)
	}
	return auth.Buyer{ID: id, Username: claims.Username}, nil
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, the form in
// which keys are stored.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// APIKeyAuth authenticates operators by X-API-Key and requires scope.
func (h *Handler) APIKeyAuth(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := h.authenticateKey(r)
			if err != nil {
				zctx.From(r.Context()).Debug("API key authentication failed", zap.Error(err))
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !info.HasScope(scope) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			ctx := zctx.With(r.Context(), zap.String("api_key", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *Handler) authenticateKey(r *http.Request) (*auth.APIKeyInfo, error) {
	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		return nil, errors.New("missing api key")
	}

	hash := HashAPIKey(h.cfg.APIKeyPepper, key)
	info, err := h.apikeys.FindByHash(r.Context(), hash)
	if err != nil {
		return nil, errors.Wrap(err, "find key")
	}

	// The stored hash is compared again in constant time.
	want, err := hex.DecodeString(hash)
	if err != nil {
		return nil, errors.Wrap(err, "decode key hash")
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errors.Wrap(err, "decode stored hash")
	}
	if subtle.ConstantTimeCompare(want, stored) != 1 {
		return nil, errors.New("hash mismatch")
	}
	return info, nil
}
