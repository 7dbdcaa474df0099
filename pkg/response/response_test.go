package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/stretchr/testify/require"
)

func TestNewPage(t *testing.T) {
	p := NewPage([]int{1, 2}, 2, 20, 45)
	require.Equal(t, 3, p.TotalPages)
	require.True(t, p.HasPrev)
	require.True(t, p.HasNext)
	require.Equal(t, 1, *p.PrevPage)
	require.Equal(t, 3, *p.NextPage)

	last := NewPage(nil, 3, 20, 45)
	require.False(t, last.HasNext)
	require.Nil(t, last.NextPage)

	empty := NewPage(nil, 1, 20, 0)
	require.Equal(t, 0, empty.TotalPages)
	require.False(t, empty.HasPrev)
	require.False(t, empty.HasNext)
}

func TestParsePage(t *testing.T) {
	g := gin.New()
	var page, per int
	g.GET("/", func(c *gin.Context) { page, per = ParsePage(c); c.Status(200) })

	g.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?page=0&per_page=500", nil))
	require.Equal(t, 1, page)
	require.Equal(t, MaxPerPage, per)

	g.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, DefaultPerPage, per)
}

func TestErrorEnvelope(t *testing.T) {
	g := gin.New()
	g.GET("/nf", func(c *gin.Context) { Error(c, apperr.NotFound("listing not found")) })
	g.GET("/boom", func(c *gin.Context) { Error(c, errors.New("db exploded")) })
	g.GET("/field", func(c *gin.Context) { Error(c, apperr.FieldError("title", "is required")) })

	w := httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nf", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.False(t, env.Success)
	require.Equal(t, "listing not found", env.Message)

	w = httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "db exploded")

	w = httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/field", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, "is required", env.Errors["title"])
}

func TestBindingErrorsUseJSONNames(t *testing.T) {
	gin.SetMode(gin.TestMode)
	UseJSONFieldNames()
	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		var body struct {
			NewPassword string `json:"new_password" binding:"required,min=8"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			BadRequest(c, err)
			return
		}
		OK(c, "", nil)
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"new_password":"short"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, "must be at least 8", env.Errors["new_password"])
}
