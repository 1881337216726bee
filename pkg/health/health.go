// Package health serves liveness and readiness probes.
//
// Checks run when a probe arrives, concurrently and under a per-check
// timeout. Results are reused for a short period so that aggressive probing
// does not hammer the dependencies.
package health

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil when the checked component is usable.
type CheckFunc func(ctx context.Context) error

// Pinger is implemented by connection pools and clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// GoroutineCheck fails when more than limit goroutines are running.
func GoroutineCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds %d", n, limit)
		}
		return nil
	}
}

type check struct {
	name string
	fn   CheckFunc

	mu      sync.Mutex
	checked time.Time
	err     error
}

func (c *check) result(ctx context.Context, timeout, cacheFor time.Duration, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.checked.IsZero() && now.Sub(c.checked) < cacheFor {
		return c.err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.err = c.fn(ctx)
	c.checked = now
	return c.err
}

// Health holds the registered checks and the manual readiness flag.
type Health struct {
	timeout  time.Duration
	cacheFor time.Duration
	ready    atomic.Bool

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
}

// Option configures Health.
type Option func(*Health)

// WithTimeout bounds each check. Defaults to 2 seconds.
func WithTimeout(d time.Duration) Option {
	return func(h *Health) { h.timeout = d }
}

// WithCache reuses a check result for d. Zero disables caching.
func WithCache(d time.Duration) Option {
	return func(h *Health) { h.cacheFor = d }
}

// New returns a Health that is not ready yet.
func New(opts ...Option) *Health {
	h := &Health{timeout: 2 * time.Second, cacheFor: time.Second}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Live registers a liveness check.
func (h *Health) Live(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, &check{name: name, fn: fn})
}

// Ready registers a readiness check.
func (h *Health) Ready(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, &check{name: name, fn: fn})
}

// SetReady flips the manual readiness flag. The server sets it once wiring
// is complete and clears it at the start of shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Failures runs the readiness checks and returns the failing ones by name.
func (h *Health) Failures(ctx context.Context) map[string]string {
	h.mu.RLock()
	checks := append([]*check(nil), h.readiness...)
	h.mu.RUnlock()

	failures := h.run(ctx, checks)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	return failures
}

func (h *Health) run(ctx context.Context, checks []*check) map[string]string {
	var (
		mu       sync.Mutex
		failures = make(map[string]string)
		now      = time.Now()
		g        errgroup.Group
	)
	for _, c := range checks {
		g.Go(func() error {
			if err := c.result(ctx, h.timeout, h.cacheFor, now); err != nil {
				mu.Lock()
				failures[c.name] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]*check(nil), h.liveness...)
	h.mu.RUnlock()

	writeStatus(w, h.run(r.Context(), checks))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.Failures(r.Context()))
}

// writeStatus writes {"status":"ok"} or 503 with the failing checks.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	status := http.StatusOK
	if len(failures) > 0 {
		status = http.StatusServiceUnavailable
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if len(failures) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
