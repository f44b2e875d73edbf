package ratelimit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, rate int64, burstSeconds float64) *infra.Store {
	t.Helper()
	f, err := infra.NewFactory(infra.BackendAveraging, rate, burstSeconds, nil)
	require.NoError(t, err)
	s := infra.NewStore(f)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_DelaysSecondRequestInsteadOfRejecting(t *testing.T) {
	store := newStore(t, 20, 0) // 50ms por request
	stats := infra.NewMemoryStatsStore()

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{
		Store:              store,
		Stats:              stats,
		AddThrottleHeaders: true,
	})(next)

	// 1) primeira passa sem esperar
	w1 := serve(h, httptest.NewRequest(http.MethodGet, "http://example/showTela", nil))
	require.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, string(GlobalKey), w1.Header().Get("X-Throttle-Key"))
	assert.Equal(t, "20", w1.Header().Get("X-Throttle-Rate"))
	assert.Equal(t, "0", w1.Header().Get("X-Throttle-Burst"))
	assert.Equal(t, "0", w1.Header().Get("X-Throttle-Waited-Us"))

	// 2) segunda espera a reserva da primeira e depois passa
	start := time.Now()
	w2 := serve(h, httptest.NewRequest(http.MethodGet, "http://example/showTela", nil))
	require.Equal(t, http.StatusOK, w2.Code)
	waitedUs, err := strconv.ParseInt(w2.Header().Get("X-Throttle-Waited-Us"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, waitedUs, int64(0))
	assert.GreaterOrEqual(t, time.Since(start), time.Duration(waitedUs)*time.Microsecond-time.Millisecond)

	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), stats.Total().Allowed)
	assert.Equal(t, int64(2), stats.Total().Permits)
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	store := newStore(t, 1, 0)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(Options{
		Store:     store,
		PerKey:    true,
		KeyHeader: "X-Api-Key",
	})(next)

	// duas chaves diferentes => nenhuma espera (cada chave tem seu próprio limiter)
	start := time.Now()
	for _, k := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.Header.Set("X-Api-Key", k)
		r.RemoteAddr = "10.0.0.1:1234"
		w := serve(h, r)
		require.Equal(t, http.StatusOK, w.Code, "key %s", k)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 2, store.Len())
}

func TestMiddleware_ClosedStoreRejectsWithRetryAfterSeconds(t *testing.T) {
	store := newStore(t, 10, 1)
	require.NoError(t, store.Close())

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })

	h := Middleware(Options{
		Store:      store,
		RetryAfter: 2500 * time.Millisecond,
	})(next)

	w := serve(h, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "3", strings.TrimSpace(w.Header().Get("Retry-After")), "rounded up")
	assert.Zero(t, calls)
}

func TestMiddleware_SubSecondRetryAfterIsAtLeastOneSecond(t *testing.T) {
	store := newStore(t, 10, 1)
	require.NoError(t, store.Close())

	h := Middleware(Options{Store: store, RetryAfter: 300 * time.Millisecond})(http.NotFoundHandler())

	w := serve(h, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestMiddleware_PermitsAboveBurstAreServerError(t *testing.T) {
	f, err := infra.NewFactory(infra.BackendXRate, 1, 1, nil)
	require.NoError(t, err)
	store := infra.NewStore(f)
	t.Cleanup(func() { _ = store.Close() })

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })
	h := Middleware(Options{Store: store, Permits: 3})(next)

	for i := 0; i < 2; i++ {
		w := serve(h, httptest.NewRequest(http.MethodGet, "http://example/", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Empty(t, w.Header().Get("Retry-After"), "retrying cannot help")
	}
	assert.Zero(t, calls)
}

func TestMiddleware_ShutdownWakesWaitingRequest(t *testing.T) {
	store := newStore(t, 1, 0)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Store: store, RejectStatus: http.StatusTooManyRequests})(next)

	w1 := serve(h, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	require.Equal(t, http.StatusOK, w1.Code)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- serve(h, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.Close())

	select {
	case w2 := <-done:
		assert.Equal(t, http.StatusTooManyRequests, w2.Code)
		assert.Equal(t, "1", w2.Header().Get("Retry-After"))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("waiting request not released on shutdown")
	}
}

func TestMiddleware_ClientCancelDoesNotReachUpstream(t *testing.T) {
	store := newStore(t, 1, 0)
	stats := infra.NewMemoryStatsStore()

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })
	h := Middleware(Options{Store: store, Stats: stats})(next)

	serve(h, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	require.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil).WithContext(ctx)
	w := serve(h, r)

	assert.Equal(t, 1, calls)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, int64(1), stats.Total().Interrupted)
}

func TestMiddleware_NoStoreIsPassThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := Middleware(Options{})(next)

	w := serve(h, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}
