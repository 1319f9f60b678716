package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ieraasyl/StudentPortal/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func limitedHandler(rl *RateLimiter, endpoint string) http.Handler {
	return rl.Limit(endpoint)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/signin", nil)
	req.RemoteAddr = ip + ":51234"
	return req
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows up to the limit then rejects", func(t *testing.T) {
		mr := testutil.SetupMiniRedis(t)
		rl := NewRateLimiter(testutil.NewTestRedisDB(t, mr), 2, time.Minute)
		handler := limitedHandler(rl, "signin")

		for i, remaining := range []string{"1", "0"} {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, requestFrom("203.0.113.7"))
			assert.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
			assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
			assert.Equal(t, remaining, rec.Header().Get("X-RateLimit-Remaining"))
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("203.0.113.7"))
		testutil.AssertStatusCode(t, rec, http.StatusTooManyRequests)
		testutil.AssertJSONContentType(t, rec)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("counts each client and endpoint separately", func(t *testing.T) {
		mr := testutil.SetupMiniRedis(t)
		rl := NewRateLimiter(testutil.NewTestRedisDB(t, mr), 1, time.Minute)

		rec := httptest.NewRecorder()
		limitedHandler(rl, "signin").ServeHTTP(rec, requestFrom("203.0.113.7"))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		limitedHandler(rl, "signin").ServeHTTP(rec, requestFrom("198.51.100.10"))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		limitedHandler(rl, "admin").ServeHTTP(rec, requestFrom("203.0.113.7"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("window expiry resets the counter", func(t *testing.T) {
		mr := testutil.SetupMiniRedis(t)
		rl := NewRateLimiter(testutil.NewTestRedisDB(t, mr), 1, time.Minute)
		handler := limitedHandler(rl, "signin")

		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("203.0.113.7"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("203.0.113.7"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		mr.FastForward(time.Minute + time.Second)

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("203.0.113.7"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("fails open when the counter errors", func(t *testing.T) {
		rl := NewRateLimiter(failingCounter{}, 1, time.Minute)

		rec := httptest.NewRecorder()
		limitedHandler(rl, "signin").ServeHTTP(rec, requestFrom("203.0.113.7"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	})
}

type failingCounter struct{}

func (failingCounter) IncrementRateLimit(context.Context, string, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}
