package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
)

var ErrNotConfigured = errors.New("keycloak is not configured")

// Keycloak verifies ID tokens issued by a Keycloak realm and exchanges
// authorization codes for them. Provider discovery happens on first use so
// the API can start while Keycloak is still booting.
type Keycloak struct {
	cfg           config.KeycloakConfig
	allowInsecure bool
	client        *http.Client

	mu       sync.Mutex
	verifier identityVerifier
}

// NewKeycloak returns nil when no realm is configured and insecure tokens
// are not allowed.
func NewKeycloak(cfg config.KeycloakConfig, allowInsecure bool) *Keycloak {
	if (cfg.URL == "" || cfg.Realm == "") && !allowInsecure {
		return nil
	}
	return &Keycloak{cfg: cfg, allowInsecure: allowInsecure, client: &http.Client{Timeout: 15 * time.Second}}
}

func (k *Keycloak) issuer() string {
	return strings.TrimRight(k.cfg.URL, "/") + "/realms/" + k.cfg.Realm
}

func (k *Keycloak) tokenURL() string {
	return k.issuer() + "/protocol/openid-connect/token"
}

func (k *Keycloak) loadVerifier(ctx context.Context) (identityVerifier, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.verifier != nil {
		return k.verifier, nil
	}
	if k.cfg.URL != "" && k.cfg.Realm != "" {
		v, err := discover(ctx, k.issuer(), k.cfg.ClientID)
		if err == nil {
			k.verifier = v
			return v, nil
		}
		if !k.allowInsecure {
			return nil, err
		}
		logger.Warnf("oidc discovery failed, falling back to unverified tokens: %v", err)
	}
	if !k.allowInsecure {
		return nil, ErrNotConfigured
	}
	k.verifier = unsignedVerifier{now: time.Now}
	return k.verifier, nil
}

// Identity verifies rawIDToken and returns the user it identifies.
func (k *Keycloak) Identity(ctx context.Context, rawIDToken string) (*models.Identity, error) {
	ver, err := k.loadVerifier(ctx)
	if err != nil {
		return nil, err
	}
	return ver.identity(ctx, rawIDToken)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
}

// Exchange trades an authorization code for an ID token. Clients configured
// for client_secret_basic reject the form secret with 401, so that case is
// retried with HTTP Basic auth. Keycloak occasionally answers "Code not
// valid" to a code that is still being committed; that gets one retry.
func (k *Keycloak) Exchange(ctx context.Context, code, redirectURI string) (string, error) {
	if k.cfg.URL == "" || k.cfg.Realm == "" {
		return "", ErrNotConfigured
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", k.cfg.ClientID)
	form.Set("client_secret", k.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	body := form.Encode()

	for attempt := 1; attempt <= 2; attempt++ {
		resp, err := k.post(ctx, body, false)
		if err == nil && resp.StatusCode == http.StatusUnauthorized && k.cfg.ClientSecret != "" {
			b, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			logger.Warnf("code exchange returned 401 (%s), retrying with basic auth", strings.TrimSpace(string(b)))
			resp, err = k.post(ctx, body, true)
		}
		if err != nil {
			if attempt == 2 {
				return "", err
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		tr, retry, err := decodeToken(resp)
		if retry && attempt == 1 {
			time.Sleep(150 * time.Millisecond)
			continue
		}
		if err != nil {
			return "", err
		}
		return tr.IDToken, nil
	}
	return "", errors.New("token exchange failed after retries")
}

func (k *Keycloak) post(ctx context.Context, body string, basic bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.tokenURL(), strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basic {
		req.SetBasicAuth(k.cfg.ClientID, k.cfg.ClientSecret)
	}
	return k.client.Do(req)
}

func decodeToken(resp *http.Response) (*tokenResponse, bool, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		retry := resp.StatusCode == http.StatusBadRequest && strings.Contains(string(b), "Code not valid")
		return nil, retry, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, false, err
	}
	if tr.IDToken == "" {
		return nil, false, errors.New("token endpoint returned no id_token")
	}
	return &tr, false, nil
}
