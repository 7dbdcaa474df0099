package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/internal/sessions"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

const (
	claimsKey = "claims"
	userIDKey = "user_id"
)

func bearer(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return "", false
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func authenticate(c *gin.Context, ver Verifier, raw string) (map[string]interface{}, string) {
	idToken, err := ver.Verify(c.Request.Context(), raw)
	if err != nil {
		return nil, "invalid token"
	}
	// Extract claims
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, "failed to parse claims"
	}
	jti, _ := claims["jti"].(string)
	if revoked, err := sessions.IsAccessTokenBlacklisted(c.Request.Context(), jti); err == nil && revoked {
		return nil, "token has been revoked"
	}
	return claims, ""
}

func store(c *gin.Context, claims map[string]interface{}) {
	c.Set(claimsKey, claims)
	if sub, ok := claims["sub"].(string); ok {
		c.Set(userIDKey, sub)
	}
}

// AuthMiddleware returns a Gin middleware that verifies Bearer tokens using the provided verifier
func AuthMiddleware(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			response.Fail(c, http.StatusUnauthorized, "missing Authorization header")
			return
		}
		raw, ok := bearer(c)
		if !ok {
			response.Fail(c, http.StatusUnauthorized, "invalid Authorization header")
			return
		}
		claims, problem := authenticate(c, ver, raw)
		if problem != "" {
			response.Fail(c, http.StatusUnauthorized, problem)
			return
		}
		store(c, claims)
		c.Next()
	}
}

// StreamAuth is AuthMiddleware that also accepts an access_token query
// parameter, since browsers cannot set headers on websocket upgrades.
func StreamAuth(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c)
		if !ok {
			raw = strings.TrimSpace(c.Query("access_token"))
		}
		if raw == "" {
			response.Fail(c, http.StatusUnauthorized, "missing access token")
			return
		}
		claims, problem := authenticate(c, ver, raw)
		if problem != "" {
			response.Fail(c, http.StatusUnauthorized, problem)
			return
		}
		store(c, claims)
		c.Next()
	}
}

// OptionalAuth attaches claims when a valid token is sent and otherwise lets
// the request through anonymously.
func OptionalAuth(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, ok := bearer(c); ok {
			if claims, problem := authenticate(c, ver, raw); problem == "" {
				store(c, claims)
			}
		}
		c.Next()
	}
}

// RequireUserType rejects callers whose user_type claim is not listed.
// Must run after AuthMiddleware.
func RequireUserType(types ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ut := ClaimString(c, "user_type")
		for _, t := range types {
			if ut == t {
				c.Next()
				return
			}
		}
		response.Fail(c, http.StatusForbidden, "insufficient permissions")
	}
}

// RequireAdmin is RequireUserType("admin").
func RequireAdmin() gin.HandlerFunc { return RequireUserType("admin") }

// RequireVerified rejects users who have not verified phone or email.
func RequireVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v, _ := Claims(c)["is_verified"].(bool); !v {
			response.Fail(c, http.StatusForbidden, "account verification required")
			return
		}
		c.Next()
	}
}

// Claims returns the verified claims or nil for anonymous requests.
func Claims(c *gin.Context) map[string]interface{} {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	cm, _ := v.(map[string]interface{})
	return cm
}

func ClaimString(c *gin.Context, name string) string {
	s, _ := Claims(c)[name].(string)
	return s
}

// CurrentUserID returns the authenticated user id, empty when anonymous.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func IsAdmin(c *gin.Context) bool {
	return ClaimString(c, "user_type") == "admin"
}
