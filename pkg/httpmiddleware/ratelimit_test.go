package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedGet(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	t.Run("under budget", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())
		for i := 0; i < 5; i++ {
			w := limitedGet(h, "192.168.1.1:12345", nil)
			require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
			assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
			assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
			assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())
		for i := 0; i < 2; i++ {
			require.Equal(t, http.StatusOK, limitedGet(h, "10.0.0.1:9999", nil).Code)
		}

		w := limitedGet(h, "10.0.0.1:9999", nil)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "rate limit exceeded", body["error"])
	})

	t.Run("budgets are per client", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

		assert.Equal(t, http.StatusOK, limitedGet(h, "10.0.0.1:1234", nil).Code)
		assert.Equal(t, http.StatusOK, limitedGet(h, "10.0.0.2:1234", nil).Code)
		// Port changes do not reset the budget.
		assert.Equal(t, http.StatusTooManyRequests, limitedGet(h, "10.0.0.1:5678", nil).Code)
	})

	t.Run("custom key func", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{
			Max:     1,
			Window:  time.Minute,
			KeyFunc: func(r *http.Request) string { return r.Header.Get("X-API-Key") },
		})(okHandler())

		assert.Equal(t, http.StatusOK, limitedGet(h, "1.1.1.1:1", map[string]string{"X-API-Key": "key-a"}).Code)
		assert.Equal(t, http.StatusTooManyRequests, limitedGet(h, "2.2.2.2:2", map[string]string{"X-API-Key": "key-a"}).Code)
		assert.Equal(t, http.StatusOK, limitedGet(h, "1.1.1.1:1", map[string]string{"X-API-Key": "key-b"}).Code)
	})

	t.Run("x-forwarded-for wins over remote addr", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())
		fwd := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}

		assert.Equal(t, http.StatusOK, limitedGet(h, "192.168.1.1:4444", fwd).Code)
		assert.Equal(t, http.StatusTooManyRequests, limitedGet(h, "192.168.1.2:5555", fwd).Code)
	})
}

func TestRateLimiterSweep(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()

	_, _, ok := rl.take("a", now)
	require.True(t, ok)
	_, _, ok = rl.take("b", now)
	require.True(t, ok)

	rl.sweep(now.Add(3 * time.Minute))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.buckets)
}
