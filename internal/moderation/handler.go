package moderation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/middleware"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
)

type Handler struct {
	mod   *Service
	admin *Admin
	ver   middleware.Verifier
}

func NewHandler(mod *Service, admin *Admin, ver middleware.Verifier) *Handler {
	return &Handler{mod: mod, admin: admin, ver: ver}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/admin", middleware.AuthMiddleware(h.ver))
	// any signed-in user may file a report
	g.POST("/reports", h.createReport)

	a := g.Group("", middleware.RequireAdmin())
	a.GET("/dashboard", h.dashboard)
	a.GET("/moderation", h.queue)
	a.POST("/moderation/:id", h.decide)
	a.GET("/reports", h.reports)
	a.POST("/reports/:id/resolve", h.resolve)
	a.GET("/users", h.users)
	a.POST("/users/:id/action", h.userAction)
	a.GET("/system/health", h.health)
	a.GET("/stats", h.stats)
}

func (h *Handler) dashboard(c *gin.Context) {
	d, err := h.admin.Dashboard(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", d)
}

func (h *Handler) queue(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.mod.Queue(c.Request.Context(), c.DefaultQuery("status", StatusPending),
		int64((page-1)*perPage), int64(perPage))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) decide(c *gin.Context) {
	var body struct {
		Decision string `json:"action" binding:"required"`
		Reason   string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	it, err := h.mod.Decide(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), body.Decision, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "listing "+it.Status, it)
}

func (h *Handler) createReport(c *gin.Context) {
	var in ReportInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	r, err := h.mod.CreateReport(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "report submitted", r)
}

func (h *Handler) reports(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.mod.Reports(c.Request.Context(), c.Query("status"), int64((page-1)*perPage), int64(perPage))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) resolve(c *gin.Context) {
	var body struct {
		Action     string `json:"action" binding:"required"`
		Resolution string `json:"resolution"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	r, err := h.mod.ResolveReport(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), body.Action, body.Resolution)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "report "+r.Status, r)
}

func (h *Handler) users(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.admin.Users(c.Request.Context(), UserQuery{
		Query: c.Query("search"), UserType: c.Query("user_type"), Status: c.Query("status"),
		Skip: int64((page - 1) * perPage), Limit: int64(perPage),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) userAction(c *gin.Context) {
	var body struct {
		Action string `json:"action" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	u, err := h.admin.UserAction(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), body.Action, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "action applied", u)
}

func (h *Handler) health(c *gin.Context) {
	hl := h.admin.SystemHealth(c.Request.Context())
	status := http.StatusOK
	if hl.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response.Envelope{Success: status == http.StatusOK, Data: hl})
}

func (h *Handler) stats(c *gin.Context) {
	days := 0
	if raw := c.Query("period_days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, apperr.FieldError("period_days", "must be an integer"))
			return
		}
		days = v
	}
	st, err := h.admin.Stats(c.Request.Context(), days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", st)
}
