package notifications

import (
	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/pkg/middleware"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
)

type Handler struct {
	svc *Service
	ver middleware.Verifier
}

func NewHandler(svc *Service, ver middleware.Verifier) *Handler {
	return &Handler{svc: svc, ver: ver}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/notifications", middleware.AuthMiddleware(h.ver))
	g.GET("", h.list)
	g.GET("/unread-count", h.unreadCount)
	g.PUT("/mark-all-read", h.markAllRead)
	g.GET("/settings", h.getSettings)
	g.PUT("/settings", h.updateSettings)
	g.GET("/templates", h.templates)
	g.POST("/test-push", h.testPush)
	g.GET("/:id", h.get)
	g.PUT("/:id/read", h.markRead)

	admin := g.Group("", middleware.RequireAdmin())
	admin.POST("/send", h.send)
	admin.POST("/broadcast", h.broadcast)
	admin.POST("/templates/:code/render", h.render)
}

func (h *Handler) list(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.svc.List(c.Request.Context(), middleware.CurrentUserID(c),
		c.Query("unread_only") == "true", int64((page-1)*perPage), int64(perPage))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) get(c *gin.Context) {
	n, err := h.svc.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", n)
}

func (h *Handler) markRead(c *gin.Context) {
	if err := h.svc.MarkRead(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "notification marked as read", nil)
}

func (h *Handler) markAllRead(c *gin.Context) {
	n, err := h.svc.MarkAllRead(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "all notifications marked as read", gin.H{"updated_count": n})
}

func (h *Handler) unreadCount(c *gin.Context) {
	n, err := h.svc.UnreadCount(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", gin.H{"unread_count": n})
}

func (h *Handler) getSettings(c *gin.Context) {
	st, err := h.svc.Settings(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", st)
}

func (h *Handler) updateSettings(c *gin.Context) {
	var body struct {
		Types map[string]ChannelPrefs `json:"types" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	st, err := h.svc.UpdateSettings(c.Request.Context(), middleware.CurrentUserID(c), body.Types)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "settings updated", st)
}

func (h *Handler) send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	items, err := h.svc.Send(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "notification sent", items)
}

func (h *Handler) broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	n, err := h.svc.Broadcast(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "broadcast sent", gin.H{"recipients": n})
}

func (h *Handler) templates(c *gin.Context) {
	response.OK(c, "", h.svc.Templates())
}

func (h *Handler) render(c *gin.Context) {
	var data map[string]string
	if err := c.ShouldBindJSON(&data); err != nil {
		response.BadRequest(c, err)
		return
	}
	r, err := h.svc.RenderTemplate(c.Param("code"), data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", r)
}

func (h *Handler) testPush(c *gin.Context) {
	n, err := h.svc.TestPush(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "test notification queued", n)
}
