package media

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/tokens"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testSecret = "media-handler-test-secret-0123456789ab"

func bearer(t *testing.T, id string) string {
	t.Helper()
	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret
	tok, err := tokens.GenerateAccessToken(cfg, &models.User{ID: id, Phone: "+77011234567"}, time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok
}

func multipartBody(t *testing.T, field string, files map[string][]byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandlerUploadAndDownload(t *testing.T) {
	svc, _ := newTestService(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, tokens.NewJWTVerifier(testSecret)).Register(r.Group("/api"))

	body, ct := multipartBody(t, "file", map[string][]byte{"front.png": pngBytes(t, 400, 200)},
		map[string]string{"entity_type": EntityListing, "entity_id": "u1-car", "alt_text": "Вид спереди"})
	req := httptest.NewRequest(http.MethodPost, "/api/media/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	body, ct = multipartBody(t, "file", map[string][]byte{"front.png": pngBytes(t, 400, 200)},
		map[string]string{"entity_type": EntityListing, "entity_id": "u1-car", "alt_text": "Вид спереди"})
	req = httptest.NewRequest(http.MethodPost, "/api/media/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", bearer(t, "u1"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data Media `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, "Вид спереди", created.Data.AltText)
	require.True(t, created.Data.HasThumbnail)
	require.Empty(t, created.Data.ObjectKey, "object keys stay internal")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/media/"+created.Data.ID+"/download", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))
	require.Contains(t, w.Header().Get("Content-Disposition"), "front.png")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/media/"+created.Data.ID+"/thumbnail", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/media/entity/listing/u1-car", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), created.Data.ID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/media/limits", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"max_file_size":262144`)

	req = httptest.NewRequest(http.MethodDelete, "/api/media/"+created.Data.ID, nil)
	req.Header.Set("Authorization", bearer(t, "u2"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/media/"+created.Data.ID, nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/media/"+created.Data.ID+"/download", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerMultipleUpload(t *testing.T) {
	svc, _ := newTestService(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, tokens.NewJWTVerifier(testSecret)).Register(r.Group("/api"))

	body, ct := multipartBody(t, "files", map[string][]byte{
		"a.png": pngBytes(t, 10, 10), "b.png": pngBytes(t, 10, 10), "c.gif": []byte("GIF89a"),
	}, map[string]string{"entity_type": EntityListing, "entity_id": "u1-car"})
	req := httptest.NewRequest(http.MethodPost, "/api/media/multiple-upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", bearer(t, "u1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Data struct {
			Uploaded []Media        `json:"uploaded"`
			Failed   []UploadFailure `json:"failed"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Uploaded, 2)
	require.Len(t, resp.Data.Failed, 1)
}

func TestHandlerBulkUploadQuotaInRedis(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	svc, _ := newTestService(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, tokens.NewJWTVerifier(testSecret)).
		WithRedisLimits(redis.NewClient(&redis.Options{Addr: m.Addr()})).
		Register(r.Group("/api"))

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/media/multiple-upload", nil)
		req.Header.Set("Authorization", bearer(t, "u1"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	for i := 0; i < 10; i++ {
		require.NotEqual(t, http.StatusTooManyRequests, post())
	}
	require.Equal(t, http.StatusTooManyRequests, post())
	require.Len(t, m.Keys(), 1)
}
