package support

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/tokens"
	"github.com/stretchr/testify/require"
)

const testSecret = "support-handler-test-secret-01234567"

func token(t *testing.T, u *models.User) string {
	t.Helper()
	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret
	tok, err := tokens.GenerateAccessToken(cfg, u, time.Minute)
	require.NoError(t, err)
	return tok
}

func call(r http.Handler, method, path, tok string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerTicketLifecycle(t *testing.T) {
	f := newFixture(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(f.svc, tokens.NewJWTVerifier(testSecret)).Register(r.Group("/api"))
	f.staff.UserType = models.UserTypeAdmin
	user, staff := token(t, f.user), token(t, f.staff)

	w := call(r, http.MethodGet, "/api/support/faq?q="+url.QueryEscape("продавц"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "faq-contact-seller")

	w = call(r, http.MethodPost, "/api/support/tickets", user, map[string]string{"subject": "Hi"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = call(r, http.MethodPost, "/api/support/tickets", user, map[string]string{
		"subject": "Не могу войти", "description": "После смены номера не приходит код", "priority": "high", "category_id": "account",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data Ticket `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created.Data.ID

	w = call(r, http.MethodGet, "/api/support/admin/tickets", user, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	w = call(r, http.MethodPut, "/api/support/admin/tickets/"+id+"/assign", staff, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"status":"in_progress"`)

	w = call(r, http.MethodPost, "/api/support/tickets/"+id+"/response", staff, map[string]string{"message": "Код отправлен повторно"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = call(r, http.MethodGet, "/api/support/tickets/"+id, user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Data TicketDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	require.Equal(t, StatusWaitingUser, detail.Data.Status)
	require.Len(t, detail.Data.Responses, 1)

	w = call(r, http.MethodPut, "/api/support/tickets/"+id+"/close", user, map[string]int{"satisfaction": 5})
	require.Equal(t, http.StatusOK, w.Code)
	w = call(r, http.MethodPut, "/api/support/tickets/"+id+"/close", user, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = call(r, http.MethodGet, "/api/support/admin/statistics", staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"avg_satisfaction":5`)
}
