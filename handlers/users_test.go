package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/tokens"
	"github.com/stretchr/testify/require"
)

func userID(t *testing.T, out envelope) string {
	t.Helper()
	return out.Data["user"].(map[string]interface{})["id"].(string)
}

func (e *env) admin() string {
	e.t.Helper()
	_, out := e.register("+77770000001", "admin@kolesa.kz")
	id := userID(e.t, out)
	ctx := context.Background()
	require.NoError(e.t, e.users.PromoteToAdmin(ctx, id))
	u, err := e.users.Get(ctx, id)
	require.NoError(e.t, err)
	tok, err := tokens.GenerateAccessToken(e.cfg, u, time.Minute)
	require.NoError(e.t, err)
	return tok
}

func (e *env) items() []map[string]interface{} {
	e.t.Helper()
	var body struct {
		Data struct {
			Items []map[string]interface{} `json:"items"`
			Total int64                    `json:"total"`
		} `json:"data"`
	}
	require.NoError(e.t, json.Unmarshal(e.last, &body))
	return body.Data.Items
}

func TestProfileAndSettings(t *testing.T) {
	e := newEnv(t, nil)
	access, _ := e.register("+77011234567", "aidar@example.kz")

	code, out := e.do(http.MethodGet, "/api/users/profile", nil, access)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Aidar Nurlanov", out.Data["full_name"])

	code, out = e.do(http.MethodPut, "/api/users/profile", gin.H{"company_name": "AutoMir", "city_id": "almaty"}, access)
	require.Equal(t, http.StatusOK, code, out.Message)
	profile := out.Data["profile"].(map[string]interface{})
	require.Equal(t, "AutoMir", profile["company_name"])
	require.Equal(t, "almaty", profile["city_id"])

	code, out = e.do(http.MethodPut, "/api/users/profile", gin.H{"website": "not a url"}, access)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, out.Errors, "website")

	code, out = e.do(http.MethodGet, "/api/users/settings", nil, access)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ru", out.Data["language"])
	require.Equal(t, "Asia/Almaty", out.Data["timezone"])

	code, out = e.do(http.MethodPut, "/api/users/settings", gin.H{"language": "kk", "show_phone": false}, access)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "kk", out.Data["language"])
	require.Equal(t, false, out.Data["show_phone"])

	code, _ = e.do(http.MethodPut, "/api/users/settings", gin.H{"language": "de"}, access)
	require.Equal(t, http.StatusBadRequest, code)

	code, out = e.do(http.MethodGet, "/api/users/stats", nil, access)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 3, out.Data["total_listings"])
	require.EqualValues(t, 4, out.Data["favorites_count"])

	code, _ = e.do(http.MethodGet, "/api/users/profile", nil, "")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestPublicProfileAndSearch(t *testing.T) {
	e := newEnv(t, nil)
	_, seller := e.register("+77011234567", "seller@example.kz")
	sellerID := userID(t, seller)
	buyerToken, _ := e.register("+77019876543", "")

	code, out := e.do(http.MethodGet, "/api/users/"+sellerID+"/public-profile", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "+77011234567", out.Data["phone"])
	require.NotContains(t, out.Data, "email")

	_, _ = e.do(http.MethodPut, "/api/users/settings", gin.H{"show_phone": false}, buyerToken)
	code, _ = e.do(http.MethodGet, "/api/users/search?q=nurlanov", nil, "")
	require.Equal(t, http.StatusOK, code)
	items := e.items()
	require.Len(t, items, 2)
	for _, it := range items {
		require.NotContains(t, it, "email")
		if it["id"] != sellerID {
			require.NotContains(t, it, "phone")
		}
	}

	admin := e.admin()
	code, _ = e.do(http.MethodGet, "/api/users/search?q=seller@", nil, admin)
	require.Equal(t, http.StatusOK, code)
	items = e.items()
	require.Len(t, items, 1)
	require.Equal(t, "seller@example.kz", items[0]["email"])

	code, _ = e.do(http.MethodGet, "/api/users/missing/public-profile", nil, "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestReviews(t *testing.T) {
	e := newEnv(t, nil)
	sellerToken, seller := e.register("+77011234567", "")
	sellerID := userID(t, seller)
	buyerToken, _ := e.register("+77019876543", "")
	path := "/api/users/" + sellerID + "/reviews"

	code, out := e.do(http.MethodPost, path, gin.H{"rating": 5, "comment": "Честный продавец", "listing_id": "l-1"}, buyerToken)
	require.Equal(t, http.StatusCreated, code, out.Message)

	code, _ = e.do(http.MethodPost, path, gin.H{"rating": 4, "listing_id": "l-1"}, buyerToken)
	require.Equal(t, http.StatusConflict, code)
	code, _ = e.do(http.MethodPost, path, gin.H{"rating": 5}, sellerToken)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	code, _ = e.do(http.MethodPost, path, gin.H{"rating": 6}, buyerToken)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, e.items(), 1)

	_, out = e.do(http.MethodGet, "/api/users/"+sellerID+"/public-profile", nil, "")
	require.EqualValues(t, 5, out.Data["rating_average"])
	require.EqualValues(t, 1, out.Data["reviews_count"])
}

func TestDevices(t *testing.T) {
	e := newEnv(t, nil)
	access, _ := e.register("+77011234567", "")

	code, _ := e.do(http.MethodPost, "/api/users/devices", gin.H{"device_token": "tok-1", "platform": "ios"}, access)
	require.Equal(t, http.StatusCreated, code)
	code, _ = e.do(http.MethodPost, "/api/users/devices", gin.H{"device_token": "tok-1", "platform": "ios", "app_version": "2.1"}, access)
	require.Equal(t, http.StatusCreated, code)
	code, _ = e.do(http.MethodPost, "/api/users/devices", gin.H{"device_token": "tok-2", "platform": "symbian"}, access)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(http.MethodGet, "/api/users/devices", nil, access)
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Data []models.Device `json:"data"`
	}
	require.NoError(t, json.Unmarshal(e.last, &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, "2.1", body.Data[0].AppVersion)

	code, _ = e.do(http.MethodDelete, "/api/users/devices/"+body.Data[0].ID, nil, access)
	require.Equal(t, http.StatusOK, code)
	code, _ = e.do(http.MethodDelete, "/api/users/devices/"+body.Data[0].ID, nil, access)
	require.Equal(t, http.StatusNotFound, code)
}

func TestBlockAndUnblock(t *testing.T) {
	e := newEnv(t, nil)
	userToken, reg := e.register("+77011234567", "")
	id := userID(t, reg)
	refresh := reg.Data["refresh_token"].(string)
	admin := e.admin()

	code, _ := e.do(http.MethodPost, "/api/users/"+id+"/block", gin.H{"reason": "spam"}, userToken)
	require.Equal(t, http.StatusForbidden, code)

	code, out := e.do(http.MethodPost, "/api/users/"+id+"/block", gin.H{"reason": "spam", "days": 7}, admin)
	require.Equal(t, http.StatusOK, code, out.Message)
	require.Equal(t, true, out.Data["is_blocked"])

	code, _ = e.do(http.MethodPost, "/api/auth/refresh", gin.H{"refresh_token": refresh}, "")
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = e.do(http.MethodPost, "/api/auth/login", gin.H{"identifier": "+77011234567", "password": "secret123"}, "")
	require.Equal(t, http.StatusForbidden, code)

	adminUser, err := e.users.GetByPhone(context.Background(), "+77770000001")
	require.NoError(t, err)
	code, _ = e.do(http.MethodPost, "/api/users/"+adminUser.ID+"/block", gin.H{"reason": "nope"}, admin)
	require.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = e.do(http.MethodPost, "/api/users/"+id+"/unblock", nil, admin)
	require.Equal(t, http.StatusOK, code)
	code, _ = e.do(http.MethodPost, "/api/auth/login", gin.H{"identifier": "+77011234567", "password": "secret123"}, "")
	require.Equal(t, http.StatusOK, code)
}
