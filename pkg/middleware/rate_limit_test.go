package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func fromIP(path, ip string) *http.Request {
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = ip + ":1234"
	return req
}

func TestRateLimitMiddleware_AllowsUnderLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(10, 2)) // generous rate
	r.GET("/ok", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	before := testutil.ToFloat64(metrics.RateLimitAllowed.WithLabelValues("memory"))

	// two quick requests should pass
	w := httptest.NewRecorder()
	r.ServeHTTP(w, fromIP("/ok", "10.0.0.1"))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, fromIP("/ok", "10.0.0.1"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, http.StatusOK, w2.Code)

	// verify metrics incremented for memory limiter
	require.Equal(t, before+2, testutil.ToFloat64(metrics.RateLimitAllowed.WithLabelValues("memory")))
}

func TestRateLimitMiddleware_BlocksWhenExceeded(t *testing.T) {
	r := gin.New()
	// low rate to force rejections
	r.Use(RateLimitMiddleware(2, 1))
	r.GET("/limited", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	// first request -> allowed
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, fromIP("/limited", "10.0.0.2"))
	require.Equal(t, http.StatusOK, w1.Code)

	// immediate second request -> should be rate-limited
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, fromIP("/limited", "10.0.0.2"))
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
	require.Contains(t, w2.Body.String(), `"success":false`)

	// another client is unaffected
	other := httptest.NewRecorder()
	r.ServeHTTP(other, fromIP("/limited", "10.0.0.3"))
	require.Equal(t, http.StatusOK, other.Code)

	// one token is replenished every 500ms
	time.Sleep(600 * time.Millisecond)
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, fromIP("/limited", "10.0.0.2"))
	require.Equal(t, http.StatusOK, w3.Code)
}

func TestRateLimitMiddleware_UsesUserWhenPresent(t *testing.T) {
	r := gin.New()
	// middleware that injects the authenticated user before rate limiter
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "user-123")
		c.Next()
	})
	r.Use(RateLimitMiddleware(0.5, 1))
	r.GET("/u", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	// first request allowed
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, fromIP("/u", "10.0.0.4"))
	require.Equal(t, http.StatusOK, w1.Code)

	// same user from a different address => still rejected
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, fromIP("/u", "10.0.0.5"))
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
}
