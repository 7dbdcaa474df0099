package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/sessions"
	"github.com/kolesa/kolesa/backend/go-services/pkg/middleware"
)

const (
	Issuer        = "kolesa"
	TypeAccess    = "access"
	claimType     = "type"
	claimUserType = "user_type"
)

var (
	ErrWrongType   = errors.New("token is not an access token")
	ErrRevoked     = errors.New("token has been revoked")
	ErrAccountGone = errors.New("account is inactive or blocked")
)

// GenerateAccessToken creates a signed JWT access token for the user
func GenerateAccessToken(cfg *config.Config, u *models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":         u.ID,
		"jti":         uuid.NewString(),
		"iss":         Issuer,
		claimType:     TypeAccess,
		"name":        u.FullName(),
		"phone":       u.Phone,
		"email":       u.Email,
		claimUserType: u.UserType,
		"is_verified": u.IsVerified(),
		"iat":         now.Unix(),
		"exp":         now.Add(ttl).Unix(),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(cfg.JWT.Secret))
}

// ParseAccessToken validates signature, expiry and token type and returns
// the claims.
func ParseAccessToken(secret, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims[claimType] != TypeAccess {
		return nil, ErrWrongType
	}
	return claims, nil
}

// Remaining returns how long the token is still valid for.
func Remaining(claims jwt.MapClaims) time.Duration {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return time.Until(exp.Time)
}

type verifiedToken struct {
	claims jwt.MapClaims
}

func (t *verifiedToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// AccountLookup loads the current state of a user, nil when missing.
type AccountLookup func(ctx context.Context, id string) (*models.User, error)

// JWTVerifier verifies locally issued access tokens for the auth middleware.
type JWTVerifier struct {
	secret   string
	accounts AccountLookup
}

func NewJWTVerifier(secret string) *JWTVerifier { return &JWTVerifier{secret: secret} }

// WithAccounts makes Verify reject tokens of inactive or blocked users and
// take user_type and is_verified from the stored account instead of the
// token, so demotions and blocks apply before the token expires.
func (v *JWTVerifier) WithAccounts(lookup AccountLookup) *JWTVerifier {
	v.accounts = lookup
	return v
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	if v.secret == "" {
		return nil, fmt.Errorf("jwt secret not configured")
	}
	claims, err := ParseAccessToken(v.secret, raw)
	if err != nil {
		return nil, err
	}
	jti, _ := claims["jti"].(string)
	if revoked, err := sessions.IsAccessTokenBlacklisted(ctx, jti); err != nil {
		return nil, err
	} else if revoked {
		return nil, ErrRevoked
	}
	if v.accounts != nil {
		if err := v.refresh(ctx, claims); err != nil {
			return nil, err
		}
	}
	return &verifiedToken{claims: claims}, nil
}

func (v *JWTVerifier) refresh(ctx context.Context, claims jwt.MapClaims) error {
	sub, _ := claims["sub"].(string)
	u, err := v.accounts(ctx, sub)
	if err != nil {
		return err
	}
	if u == nil || !u.IsActive || u.BlockedAt(time.Now().UTC()) {
		return ErrAccountGone
	}
	claims[claimUserType] = u.UserType
	claims["is_verified"] = u.IsVerified()
	return nil
}
