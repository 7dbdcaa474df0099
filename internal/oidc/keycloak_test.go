package oidc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/stretchr/testify/require"
)

func unsignedToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(claims)
	require.NoError(t, err)
	return "hdr." + base64.RawURLEncoding.EncodeToString(b) + ".sig"
}

func TestNewKeycloakDisabled(t *testing.T) {
	require.Nil(t, NewKeycloak(config.KeycloakConfig{}, false))
	require.NotNil(t, NewKeycloak(config.KeycloakConfig{}, true))
}

func TestUnsignedIdentity(t *testing.T) {
	k := NewKeycloak(config.KeycloakConfig{}, true)
	raw := unsignedToken(t, map[string]interface{}{
		"sub": "kc-1", "email": "a@b.kz", "email_verified": true, "given_name": "Dana", "phone_number": "+77011234567",
		"exp": time.Now().Add(time.Minute).Unix(),
	})

	id, err := k.Identity(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, &models.Identity{Subject: "kc-1", Email: "a@b.kz", EmailVerified: true, GivenName: "Dana", PhoneNumber: "+77011234567"}, id)

	_, err = k.Identity(context.Background(), "garbage")
	require.Error(t, err)
	_, err = k.Identity(context.Background(), unsignedToken(t, map[string]interface{}{"email": "a@b.kz"}))
	require.ErrorIs(t, err, ErrNoSubject)
	_, err = k.Identity(context.Background(), unsignedToken(t, map[string]interface{}{"sub": "kc-1", "exp": time.Now().Add(-time.Minute).Unix()}))
	require.ErrorIs(t, err, ErrExpired)
}

func TestRealmVerifierChecksSignatureAndAudience(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const issuer = "https://sso.kolesa.kz/realms/kolesa"
	v := &realmVerifier{verifier: gooidc.NewVerifier(issuer,
		&gooidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}, &gooidc.Config{ClientID: "kolesa-web"})}

	sign := func(k *rsa.PrivateKey, aud string) string {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss": issuer, "aud": aud, "sub": "kc-7", "name": "Aidar Nurlanov",
			"exp": time.Now().Add(time.Minute).Unix(), "iat": time.Now().Unix(),
		}).SignedString(k)
		require.NoError(t, err)
		return raw
	}

	id, err := v.identity(context.Background(), sign(key, "kolesa-web"))
	require.NoError(t, err)
	require.Equal(t, "kc-7", id.Subject)
	require.Equal(t, "Aidar Nurlanov", id.Name)

	_, err = v.identity(context.Background(), sign(key, "another-client"))
	require.Error(t, err)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.identity(context.Background(), sign(other, "kolesa-web"))
	require.Error(t, err)
}

func TestExchangeFallsBackToBasicAuth(t *testing.T) {
	idToken := unsignedToken(t, map[string]interface{}{"sub": "kc-2"})
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, "/realms/kolesa/protocol/openid-connect/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "the-code", r.PostForm.Get("code"))
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized_client"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "at", "id_token": idToken})
	}))
	defer srv.Close()

	k := NewKeycloak(config.KeycloakConfig{URL: srv.URL, Realm: "kolesa", ClientID: "api", ClientSecret: "s3cret"}, false)
	got, err := k.Exchange(context.Background(), "the-code", "https://kolesa.kz/cb")
	require.NoError(t, err)
	require.Equal(t, idToken, got)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestExchangeRetriesInvalidCodeOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Code not valid"}`))
	}))
	defer srv.Close()

	k := NewKeycloak(config.KeycloakConfig{URL: srv.URL, Realm: "kolesa", ClientID: "api"}, false)
	_, err := k.Exchange(context.Background(), "stale", "https://kolesa.kz/cb")
	require.Error(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestExchangeNotConfigured(t *testing.T) {
	k := NewKeycloak(config.KeycloakConfig{}, true)
	_, err := k.Exchange(context.Background(), "c", "r")
	require.ErrorIs(t, err, ErrNotConfigured)
}
