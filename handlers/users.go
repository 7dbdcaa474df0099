package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/internal/listing"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/sessions"
	"github.com/kolesa/kolesa/backend/go-services/internal/users"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/kolesa/kolesa/backend/go-services/pkg/middleware"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
)

// ListingStats reports a user's listing and favorite counts.
type ListingStats interface {
	UserStats(ctx context.Context, userID string) (*listing.UserStats, error)
}

// UsersHandler serves /users.
type UsersHandler struct {
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
	listings    ListingStats
	ver         middleware.Verifier
}

func NewUsersHandler(u *users.Service, s *sessions.Service, listings ListingStats, ver middleware.Verifier) *UsersHandler {
	return &UsersHandler{usersSvc: u, sessionsSvc: s, listings: listings, ver: ver}
}

func (h *UsersHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/users")
	g.GET("/search", middleware.OptionalAuth(h.ver), h.search)
	g.GET("/:id/public-profile", h.publicProfile)
	g.GET("/:id/reviews", h.reviews)

	a := g.Group("", middleware.AuthMiddleware(h.ver))
	a.GET("/profile", h.profile)
	a.PUT("/profile", h.updateProfile)
	a.GET("/settings", h.settings)
	a.PUT("/settings", h.updateSettings)
	a.GET("/stats", h.stats)
	a.POST("/:id/reviews", middleware.ScopedRateLimit("reviews", 10.0/3600, 10), h.addReview)
	a.GET("/devices", h.devices)
	a.POST("/devices", h.registerDevice)
	a.DELETE("/devices/:id", h.removeDevice)

	adm := a.Group("", middleware.RequireAdmin())
	adm.POST("/:id/block", h.block)
	adm.POST("/:id/unblock", h.unblock)
}

func (h *UsersHandler) profile(c *gin.Context) {
	u, err := h.usersSvc.Get(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", meResponse{User: u, FullName: u.FullName(), IsVerified: u.IsVerified()})
}

func (h *UsersHandler) updateProfile(c *gin.Context) {
	var in users.ProfileUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	u, err := h.usersSvc.UpdateProfile(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Profile updated successfully", meResponse{User: u, FullName: u.FullName(), IsVerified: u.IsVerified()})
}

func (h *UsersHandler) settings(c *gin.Context) {
	u, err := h.usersSvc.Get(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", u.Settings)
}

func (h *UsersHandler) updateSettings(c *gin.Context) {
	var in users.SettingsUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	st, err := h.usersSvc.UpdateSettings(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Settings updated successfully", st)
}

func (h *UsersHandler) stats(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := h.usersSvc.Get(ctx, middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	ls, err := h.listings.UserStats(ctx, u.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", gin.H{
		"listings":        ls.Listings,
		"total_listings":  ls.Total,
		"favorites_count": ls.Favorites,
		"rating_average":  u.Profile.RatingAverage,
		"reviews_count":   u.Profile.ReviewsCount,
		"member_since":    u.CreatedAt,
	})
}

func (h *UsersHandler) reviews(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.usersSvc.Reviews(c.Request.Context(), c.Param("id"), int64((page-1)*perPage), int64(perPage))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *UsersHandler) addReview(c *gin.Context) {
	var in users.ReviewInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	rv, err := h.usersSvc.AddReview(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Review added", rv)
}

func (h *UsersHandler) publicProfile(c *gin.Context) {
	card, err := h.usersSvc.PublicProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", card)
}

// search returns seller cards to everyone and full records to admins, who
// may also list inactive accounts.
func (h *UsersHandler) search(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	f := users.Filter{
		Query:    c.Query("q"),
		UserType: c.Query("user_type"),
		CityID:   c.Query("city_id"),
		Skip:     int64((page - 1) * perPage),
		Limit:    int64(perPage),
	}
	admin := middleware.IsAdmin(c)
	if !admin {
		active := true
		f.Active = &active
	}
	items, total, err := h.usersSvc.Search(c.Request.Context(), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	if admin {
		response.Paginated(c, items, page, perPage, total)
		return
	}
	cards := make([]models.PublicCard, 0, len(items))
	for _, u := range items {
		cards = append(cards, u.Card())
	}
	response.Paginated(c, cards, page, perPage, total)
}

func (h *UsersHandler) devices(c *gin.Context) {
	items, err := h.usersSvc.Devices(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", items)
}

func (h *UsersHandler) registerDevice(c *gin.Context) {
	var req struct {
		DeviceToken string `json:"device_token" binding:"required"`
		Platform    string `json:"platform" binding:"required,oneof=ios android web"`
		AppVersion  string `json:"app_version" binding:"max=20"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	d, err := h.usersSvc.RegisterDevice(c.Request.Context(), middleware.CurrentUserID(c), req.DeviceToken, req.Platform, req.AppVersion)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Device registered", d)
}

func (h *UsersHandler) removeDevice(c *gin.Context) {
	if err := h.usersSvc.RemoveDevice(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Device removed", nil)
}

func (h *UsersHandler) block(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required,max=500"`
		Days   int    `json:"days" binding:"gte=0,lte=3650"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	u, err := h.usersSvc.Block(ctx, c.Param("id"), req.Reason, req.Days)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.sessionsSvc.RevokeAll(ctx, u.ID); err != nil {
		logger.Errorf("block: revoke sessions of %s: %v", u.ID, err)
	}
	logger.Infof("user %s blocked by %s: %s", u.ID, middleware.CurrentUserID(c), req.Reason)
	response.OK(c, "User blocked", u)
}

func (h *UsersHandler) unblock(c *gin.Context) {
	u, err := h.usersSvc.Unblock(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "User unblocked", u)
}
