package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func probe(t *testing.T, handler http.HandlerFunc) (int, statusBody) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestLiveEndpoint(t *testing.T) {
	t.Run("NoChecks", func(t *testing.T) {
		code, body := probe(t, New().LiveEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body.Status)
	})
	t.Run("Failing", func(t *testing.T) {
		h := New()
		h.Live("ok", passingCheck())
		h.Live("goroutines", failingCheck("too many"))

		code, body := probe(t, h.LiveEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, map[string]string{"goroutines": "too many"}, body.Checks)
	})
	t.Run("IgnoresReadiness", func(t *testing.T) {
		h := New()
		h.Ready("postgres", failingCheck("down"))
		code, _ := probe(t, h.LiveEndpoint)
		assert.Equal(t, http.StatusOK, code)
	})
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("NotReady", func(t *testing.T) {
		h := New()
		h.Ready("postgres", passingCheck())

		code, body := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks, "_readiness")
	})
	t.Run("ReadyAndPassing", func(t *testing.T) {
		h := New()
		h.Ready("postgres", passingCheck())
		h.SetReady(true)

		code, body := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body.Status)
		assert.Empty(t, body.Checks)
	})
	t.Run("OneFailing", func(t *testing.T) {
		h := New()
		h.Ready("postgres", passingCheck())
		h.Ready("redis", failingCheck("connection refused"))
		h.SetReady(true)

		code, body := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, map[string]string{"redis": "connection refused"}, body.Checks)
	})
	t.Run("ShuttingDown", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		h.SetReady(false)
		code, _ := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})
}

func TestCheckTimeout(t *testing.T) {
	h := New(WithTimeout(20 * time.Millisecond))
	h.Ready("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.SetReady(true)

	failures := h.Failures(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), failures["slow"])
}

func TestCheckCache(t *testing.T) {
	var calls atomic.Int32
	fn := func(context.Context) error {
		calls.Add(1)
		return nil
	}

	h := New(WithCache(time.Hour))
	h.Ready("db", fn)
	h.Failures(context.Background())
	h.Failures(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	calls.Store(0)
	h = New(WithCache(0))
	h.Ready("db", fn)
	h.Failures(context.Background())
	h.Failures(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestConcurrentProbes(t *testing.T) {
	h := New(WithCache(0))
	h.Ready("db", passingCheck())
	h.Live("goroutines", GoroutineCheck(1_000_000))
	h.SetReady(true)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
		}()
		go func() {
			defer wg.Done()
			h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
		}()
	}
	wg.Wait()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	require.NoError(t, PingCheck(pinger{})(context.Background()))
	require.EqualError(t, PingCheck(pinger{err: errors.New("eof")})(context.Background()), "eof")
}

func TestGoroutineCheck(t *testing.T) {
	require.NoError(t, GoroutineCheck(1_000_000)(context.Background()))
	require.Error(t, GoroutineCheck(0)(context.Background()))
}
