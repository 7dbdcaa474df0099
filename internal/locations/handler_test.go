package locations

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestHandlerRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(newTestService(t), nil, time.Minute).Register(r.Group("/api"))

	cases := []struct {
		path string
		code int
	}{
		{"/api/locations/countries", http.StatusOK},
		{"/api/locations/regions?country_id=kz", http.StatusOK},
		{"/api/locations/cities/search?q=%D0%B0%D0%BB", http.StatusOK},
		{"/api/locations/cities/almaty", http.StatusOK},
		{"/api/locations/cities/gotham", http.StatusNotFound},
		{"/api/locations/nearby?lat=43.2&lng=76.9", http.StatusOK},
		{"/api/locations/nearby?lat=x", http.StatusBadRequest},
		{"/api/locations/search?q=a", http.StatusBadRequest},
		{"/api/locations/stats", http.StatusOK},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		require.Equal(t, tc.code, w.Code, tc.path)
	}
}
