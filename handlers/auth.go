package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/sessions"
	"github.com/kolesa/kolesa/backend/go-services/internal/tokens"
	"github.com/kolesa/kolesa/backend/go-services/internal/users"
	"github.com/kolesa/kolesa/backend/go-services/internal/verification"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/kolesa/kolesa/backend/go-services/pkg/middleware"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
)

const defaultAccessTTL = time.Hour

// ExternalLogin resolves Keycloak logins into the identity they assert.
type ExternalLogin interface {
	Identity(ctx context.Context, rawIDToken string) (*models.Identity, error)
	Exchange(ctx context.Context, code, redirectURI string) (string, error)
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg         *config.Config
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
	verify      *verification.Service
	external    ExternalLogin
	ver         middleware.Verifier
}

// NewAuthHandler wires the /auth routes. external may be nil when Keycloak
// login is disabled.
func NewAuthHandler(cfg *config.Config, u *users.Service, s *sessions.Service, v *verification.Service, external ExternalLogin, ver middleware.Verifier) *AuthHandler {
	return &AuthHandler{cfg: cfg, usersSvc: u, sessionsSvc: s, verify: v, external: external, ver: ver}
}

// Register routes under /auth
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	a.POST("/register", middleware.ScopedRateLimit("register", 5.0/3600, 5), h.RegisterUser)
	a.POST("/login", middleware.ScopedRateLimit("login", 10.0/900, 10), h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/send-verification-code", middleware.ScopedRateLimit("send_verification", 3.0/3600, 3), h.SendVerificationCode)
	a.POST("/verify-phone", h.VerifyPhone)
	a.POST("/verify-email", h.VerifyEmail)
	a.POST("/reset-password", middleware.ScopedRateLimit("reset_password", 3.0/3600, 3), h.ResetPassword)
	a.POST("/oidc", h.OIDCLogin)

	p := a.Group("", middleware.AuthMiddleware(h.ver))
	p.POST("/logout", h.Logout)
	p.POST("/send-email-verification", h.SendEmailVerification)
	p.POST("/change-password", h.ChangePassword)
	p.GET("/me", h.Me)
}

func (h *AuthHandler) accessTTL() time.Duration {
	if h.cfg.JWT.AccessTokenTTL > 0 {
		return h.cfg.JWT.AccessTokenTTL
	}
	return defaultAccessTTL
}

func meta(c *gin.Context) sessions.Meta {
	return sessions.Meta{UserAgent: c.Request.UserAgent(), IP: c.ClientIP()}
}

// issue creates a refresh session and an access token for u.
func (h *AuthHandler) issue(c *gin.Context, u *models.User) (gin.H, error) {
	sess, err := h.sessionsSvc.CreateSession(c.Request.Context(), u.ID, meta(c))
	if err != nil {
		return nil, apperr.Internal("failed to create session", err)
	}
	access, err := tokens.GenerateAccessToken(h.cfg, u, h.accessTTL())
	if err != nil {
		return nil, apperr.Internal("failed to create access token", err)
	}
	return gin.H{
		"user":          u,
		"access_token":  access,
		"refresh_token": sess.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(h.accessTTL().Seconds()),
	}, nil
}

type registerRequest struct {
	Phone     string `json:"phone" binding:"required"`
	Email     string `json:"email" binding:"omitempty,email"`
	Password  string `json:"password" binding:"required,min=8,max=128"`
	FirstName string `json:"first_name" binding:"max=100"`
	LastName  string `json:"last_name" binding:"max=100"`
	UserType  string `json:"user_type" binding:"omitempty,oneof=regular pro dealer"`
}

// RegisterUser creates an account, texts a phone code and logs the user in.
func (h *AuthHandler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	u, err := h.usersSvc.Register(ctx, users.RegisterInput{
		Phone: req.Phone, Email: req.Email, Password: req.Password,
		FirstName: req.FirstName, LastName: req.LastName, UserType: req.UserType,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	out, err := h.issue(c, u)
	if err != nil {
		response.Error(c, err)
		return
	}
	code, err := h.verify.SendPhoneCode(ctx, u.Phone, verification.PurposePhone)
	if err != nil {
		logger.Warnf("register: verification code for user %s not sent: %v", u.ID, err)
	} else if !h.cfg.IsProduction() {
		out["verification_code"] = code
	}
	response.Created(c, "User registered successfully. Please verify your phone number.", out)
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Password   string `json:"password" binding:"required"`
}

func (r loginRequest) id() string {
	for _, v := range []string{r.Identifier, r.Phone, r.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Login authenticates by phone or email and password. Failures are counted
// per client IP.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	if req.id() == "" {
		response.Error(c, apperr.FieldError("identifier", "phone or email is required"))
		return
	}
	ctx := c.Request.Context()
	ip := c.ClientIP()
	if err := h.verify.LoginAllowed(ctx, ip); err != nil {
		response.Error(c, err)
		return
	}
	u, err := h.usersSvc.Authenticate(ctx, req.id(), req.Password)
	if err != nil {
		if apperr.Is(err, apperr.KindAuthentication) {
			if rerr := h.verify.RecordLoginFailure(ctx, ip); rerr != nil {
				logger.Warnf("login: record failure for %s: %v", ip, rerr)
			}
		}
		response.Error(c, err)
		return
	}
	if err := h.verify.ResetLoginFailures(ctx, ip); err != nil {
		logger.Warnf("login: reset failures for %s: %v", ip, err)
	}
	out, err := h.issue(c, u)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Login successful", out)
}

// Refresh accepts a refresh token and returns a new access token
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	sess, err := h.sessionsSvc.ValidateRefresh(ctx, req.RefreshToken)
	if err != nil {
		response.Error(c, apperr.Internal("validation failed", err))
		return
	}
	if sess == nil {
		response.Error(c, apperr.Unauthenticated("invalid refresh token"))
		return
	}
	u, err := h.usersSvc.Get(ctx, sess.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !u.IsActive || u.IsBlocked {
		_ = h.sessionsSvc.DeleteRefresh(ctx, req.RefreshToken)
		response.Error(c, apperr.Unauthenticated("account is not available"))
		return
	}
	access, err := tokens.GenerateAccessToken(h.cfg, u, h.accessTTL())
	if err != nil {
		response.Error(c, apperr.Internal("failed to create access token", err))
		return
	}
	response.OK(c, "Token refreshed successfully", gin.H{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int(h.accessTTL().Seconds()),
	})
}

// Logout blacklists the current access token and drops the refresh session
// when one is supplied.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err)
			return
		}
	}
	ctx := c.Request.Context()
	claims := middleware.Claims(c)
	jti, _ := claims["jti"].(string)
	if err := sessions.BlacklistAccessToken(ctx, jti, tokens.Remaining(claims)); err != nil {
		response.Error(c, apperr.Internal("failed to blacklist access token", err))
		return
	}
	if req.RefreshToken != "" {
		if err := h.sessionsSvc.DeleteRefresh(ctx, req.RefreshToken); err != nil {
			response.Error(c, apperr.Internal("failed to remove session", err))
			return
		}
	}
	response.OK(c, "Logout successful", nil)
}

type sendCodeRequest struct {
	Phone   string `json:"phone" binding:"required"`
	Purpose string `json:"purpose" binding:"omitempty,oneof=phone_verification password_reset"`
}

// SendVerificationCode texts a phone or password reset code. Reset requests
// always succeed so the endpoint cannot be used to discover accounts.
func (h *AuthHandler) SendVerificationCode(c *gin.Context) {
	var req sendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	purpose := verification.Purpose(req.Purpose)
	if purpose == "" {
		purpose = verification.PurposePhone
	}
	ctx := c.Request.Context()
	u, err := h.usersSvc.GetByPhone(ctx, req.Phone)
	if err != nil {
		response.Error(c, err)
		return
	}
	data := gin.H{"verification_sent": true}
	if purpose == verification.PurposeReset {
		if u != nil {
			if _, err := h.verify.SendPhoneCode(ctx, u.Phone, purpose); err != nil {
				logger.Warnf("password reset code for user %s not sent: %v", u.ID, err)
			}
		}
		response.OK(c, "If the account exists, a reset code has been sent", data)
		return
	}
	if u == nil {
		response.Error(c, apperr.NotFound("user not found"))
		return
	}
	code, err := h.verify.SendPhoneCode(ctx, u.Phone, purpose)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !h.cfg.IsProduction() {
		data["verification_code"] = code
	}
	response.OK(c, "Verification code sent successfully", data)
}

// VerifyPhone checks a phone code and advances the verification status.
func (h *AuthHandler) VerifyPhone(c *gin.Context) {
	var req struct {
		Phone string `json:"phone" binding:"required"`
		Code  string `json:"code" binding:"required,len=6,numeric"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	u, err := h.usersSvc.GetByPhone(ctx, req.Phone)
	if err != nil {
		response.Error(c, err)
		return
	}
	if u == nil {
		response.Error(c, apperr.NotFound("user not found"))
		return
	}
	if err := h.verify.CheckPhoneCode(ctx, u.Phone, verification.PurposePhone, req.Code); err != nil {
		response.Error(c, err)
		return
	}
	if u, err = h.usersSvc.MarkPhoneVerified(ctx, u.ID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Phone number verified successfully", gin.H{"verified": true, "user": u})
}

// SendEmailVerification mails a confirmation link to the caller.
func (h *AuthHandler) SendEmailVerification(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := h.usersSvc.Get(ctx, middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if u.VerificationStatus == models.VerificationEmailVerified || u.VerificationStatus == models.VerificationFullyVerified {
		response.Error(c, apperr.Business("email is already verified"))
		return
	}
	if _, err := h.verify.SendEmailToken(ctx, u.ID, u.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Verification email sent", gin.H{"verification_sent": true})
}

func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	uid, err := h.verify.ConsumeEmailToken(ctx, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	u, err := h.usersSvc.MarkEmailVerified(ctx, uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Email verified successfully", gin.H{"verified": true, "user": u})
}

// ResetPassword sets a new password from an SMS reset code and signs the
// user out everywhere.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Phone       string `json:"phone" binding:"required"`
		Code        string `json:"code" binding:"required,len=6,numeric"`
		NewPassword string `json:"new_password" binding:"required,min=8,max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	u, err := h.usersSvc.GetByPhone(ctx, req.Phone)
	if err != nil {
		response.Error(c, err)
		return
	}
	if u == nil {
		response.Error(c, apperr.FieldError("code", "invalid or expired verification code"))
		return
	}
	if err := h.verify.CheckPhoneCode(ctx, u.Phone, verification.PurposeReset, req.Code); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.usersSvc.SetPassword(ctx, u.ID, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	if n, err := h.sessionsSvc.RevokeAll(ctx, u.ID); err != nil {
		logger.Errorf("reset password: revoke sessions of %s: %v", u.ID, err)
	} else {
		logger.Infof("reset password: revoked %d sessions of %s", n, u.ID)
	}
	response.OK(c, "Password has been reset", gin.H{"password_reset": true})
}

// ChangePassword keeps the refresh session passed in the body and revokes
// every other one.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required,min=8,max=128"`
		RefreshToken    string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	uid := middleware.CurrentUserID(c)
	if err := h.usersSvc.ChangePassword(ctx, uid, req.CurrentPassword, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.sessionsSvc.ListForUser(ctx, uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	revoked := 0
	for _, s := range list {
		if s.RefreshToken == req.RefreshToken {
			continue
		}
		if err := h.sessionsSvc.DeleteRefresh(ctx, s.RefreshToken); err != nil {
			response.Error(c, err)
			return
		}
		revoked++
	}
	response.OK(c, "Password changed successfully", gin.H{"password_changed": true, "sessions_revoked": revoked})
}

type meResponse struct {
	*models.User
	FullName   string `json:"full_name"`
	IsVerified bool   `json:"is_verified"`
}

func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.usersSvc.Get(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", meResponse{User: u, FullName: u.FullName(), IsVerified: u.IsVerified()})
}

type oidcRequest struct {
	IDToken     string `json:"id_token"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// OIDCLogin signs in with a Keycloak ID token, or with an authorization code
// that is exchanged for one first.
func (h *AuthHandler) OIDCLogin(c *gin.Context) {
	if h.external == nil {
		response.Error(c, apperr.Unavailable("external login is not configured"))
		return
	}
	var req oidcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	raw := req.IDToken
	if raw == "" {
		if req.Code == "" || req.RedirectURI == "" {
			response.Error(c, apperr.Validation("id_token or code and redirect_uri are required"))
			return
		}
		var err error
		if raw, err = h.external.Exchange(ctx, req.Code, req.RedirectURI); err != nil {
			logger.Warnf("oidc: code exchange (redirect_uri=%q): %v", req.RedirectURI, err)
			response.Error(c, apperr.Unauthenticated("authentication failed"))
			return
		}
	}
	id, err := h.external.Identity(ctx, raw)
	if err != nil {
		logger.Debugf("oidc: id token rejected: %v", err)
		response.Error(c, apperr.Unauthenticated("invalid id token"))
		return
	}
	u, err := h.usersSvc.UpsertIdentity(ctx, *id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if u == nil {
		response.Error(c, apperr.Unauthenticated("id token has no subject"))
		return
	}
	if u.IsBlocked {
		response.Error(c, apperr.Forbidden("account is blocked"))
		return
	}
	out, err := h.issue(c, u)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Login successful", out)
}
