package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_CachesGET(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})

	calls := 0
	r := gin.New()
	r.GET("/brands", Middleware(client, "cars", time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest("GET", "/brands?popular=1", nil))
	require.Equal(t, "MISS", w1.Header().Get(StatusHeader))

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest("GET", "/brands?popular=1", nil))
	require.Equal(t, "HIT", w2.Header().Get(StatusHeader))
	require.JSONEq(t, w1.Body.String(), w2.Body.String())
	require.Equal(t, 1, calls)

	// different query string is a different entry
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, httptest.NewRequest("GET", "/brands", nil))
	require.Equal(t, 2, calls)

	m.FastForward(2 * time.Minute)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/brands?popular=1", nil))
	require.Equal(t, 3, calls)

	require.NoError(t, Invalidate(context.Background(), client, "cars"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/brands", nil))
	require.Equal(t, 4, calls)
}

func TestMiddleware_SkipsErrors(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})

	calls := 0
	r := gin.New()
	r.GET("/x", Middleware(client, "ns", time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusNotFound, gin.H{"success": false})
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	require.Equal(t, 2, calls)
}

func TestMiddleware_NilClient(t *testing.T) {
	r := gin.New()
	r.GET("/x", Middleware(nil, "ns", time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get(StatusHeader))
}
