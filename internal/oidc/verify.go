package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
)

var (
	ErrNoSubject = errors.New("id token has no subject")
	ErrExpired   = errors.New("id token has expired")
)

// identityVerifier turns a raw ID token into the identity it asserts.
type identityVerifier interface {
	identity(ctx context.Context, raw string) (*models.Identity, error)
}

// realmVerifier checks signature, issuer, audience and expiry against the
// keys the realm publishes.
type realmVerifier struct {
	verifier *gooidc.IDTokenVerifier
}

func discover(ctx context.Context, issuer, clientID string) (*realmVerifier, error) {
	provider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", issuer, err)
	}
	return &realmVerifier{verifier: provider.Verifier(&gooidc.Config{ClientID: clientID})}, nil
}

func (v *realmVerifier) identity(ctx context.Context, raw string) (*models.Identity, error) {
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	var id models.Identity
	if err := tok.Claims(&id); err != nil {
		return nil, err
	}
	return withSubject(&id)
}

// unsignedVerifier reads the payload without checking the signature. It
// still honours exp. Only enabled with ALLOW_INSECURE_TOKEN.
type unsignedVerifier struct {
	now func() time.Time
}

func (v unsignedVerifier) identity(ctx context.Context, raw string) (*models.Identity, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, errors.New("id token is not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("id token payload: %w", err)
	}
	var claims struct {
		models.Identity
		Expiry int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("id token payload: %w", err)
	}
	if claims.Expiry != 0 && !v.now().Before(time.Unix(claims.Expiry, 0)) {
		return nil, ErrExpired
	}
	return withSubject(&claims.Identity)
}

func withSubject(id *models.Identity) (*models.Identity, error) {
	id.Subject = strings.TrimSpace(id.Subject)
	if id.Subject == "" {
		return nil, ErrNoSubject
	}
	return id, nil
}
