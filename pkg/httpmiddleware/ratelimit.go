package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the token bucket limiter.
type RateLimitConfig struct {
	// RPS is the sustained number of requests per second per key.
	RPS float64
	// Burst is the bucket size.
	Burst int
	// KeyFunc extracts the limiting key. Defaults to the client IP as seen
	// through TrustedProxies.
	KeyFunc func(*http.Request) string
	// TrustedProxies are the peers whose forwarding headers are honoured.
	TrustedProxies []netip.Prefix
	// IdleTTL is how long an unused key is remembered. Defaults to 10 minutes.
	IdleTTL time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter returns a RateLimiter with defaults applied.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = TrustedClientIP(cfg.TrustedProxies)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{cfg: cfg, visitors: make(map[string]*visitor)}
}

func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Evict forgets keys idle for longer than IdleTTL.
func (rl *RateLimiter) Evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) >= rl.cfg.IdleTTL {
			delete(rl.visitors, key)
		}
	}
}

// Run evicts idle keys periodically until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(rl.cfg.IdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			rl.Evict(now)
		}
	}
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (rl *RateLimiter) Middleware() Middleware {
	limit := strconv.Itoa(rl.cfg.Burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			lim := rl.limiter(rl.cfg.KeyFunc(r), now)

			w.Header().Set("X-RateLimit-Limit", limit)
			if !lim.AllowN(now, 1) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter(lim, now)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(lim.TokensAt(now))))
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit is shorthand for NewRateLimiter(cfg).Middleware().
func RateLimit(cfg RateLimitConfig) Middleware {
	return NewRateLimiter(cfg).Middleware()
}

// retryAfter is the whole number of seconds until one token is available.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	missing := 1 - lim.TokensAt(now)
	if lim.Limit() <= 0 || missing <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(missing/float64(lim.Limit()))))
}

// ClientIP returns the host part of RemoteAddr. Forwarding headers are
// ignored; use TrustedClientIP behind a reverse proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TrustedClientIP returns a key func that honours X-Forwarded-For and
// X-Real-IP only when the direct peer is inside trusted. X-Forwarded-For is
// walked from the right and the first hop outside trusted wins.
func TrustedClientIP(trusted []netip.Prefix) func(*http.Request) string {
	isTrusted := func(s string) bool {
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return false
		}
		addr = addr.Unmap()
		for _, p := range trusted {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}
	return func(r *http.Request) string {
		peer := ClientIP(r)
		if len(trusted) == 0 || !isTrusted(peer) {
			return peer
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			for i := len(hops) - 1; i >= 0; i-- {
				hop := strings.TrimSpace(hops[i])
				if hop != "" && !isTrusted(hop) {
					return hop
				}
			}
			if first := strings.TrimSpace(hops[0]); first != "" {
				return first
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}
}

// ParseTrustedProxies parses CIDRs or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, errors.Wrapf(err, "parse trusted proxy %q", v)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, errors.Wrapf(err, "parse trusted proxy %q", v)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
