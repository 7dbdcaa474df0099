package support

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
	g := rg.Group("/support")
	g.GET("/categories", h.categories)
	g.GET("/faq", h.faq)
	g.GET("/faq/:id", h.faqEntry)

	a := g.Group("", middleware.AuthMiddleware(h.ver))
	a.GET("/tickets", h.list)
	a.POST("/tickets", middleware.ScopedRateLimit("support", 0.2, 5), h.create)
	a.GET("/tickets/:id", h.get)
	a.POST("/tickets/:id/response", h.respond)
	a.PUT("/tickets/:id/close", h.close)

	adm := a.Group("/admin", middleware.RequireAdmin())
	adm.GET("/tickets", h.adminTickets)
	adm.PUT("/tickets/:id", h.update)
	adm.PUT("/tickets/:id/assign", h.assign)
	adm.GET("/statistics", h.statistics)
}

func (h *Handler) categories(c *gin.Context) {
	items, err := h.svc.Categories(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", items)
}

func (h *Handler) faq(c *gin.Context) {
	items, err := h.svc.FAQ(c.Request.Context(), c.Query("category_id"), c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", items)
}

func (h *Handler) faqEntry(c *gin.Context) {
	f, err := h.svc.ViewFAQ(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", f)
}

func (h *Handler) list(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.svc.List(c.Request.Context(), middleware.CurrentUserID(c), c.Query("status"),
		c.Query("category_id"), int64((page-1)*perPage), int64(perPage))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	t, err := h.svc.Create(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "ticket "+t.Number+" created", t)
}

func (h *Handler) get(c *gin.Context) {
	t, err := h.svc.Get(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), middleware.IsAdmin(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", t)
}

func (h *Handler) respond(c *gin.Context) {
	var in RespondInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	r, err := h.svc.Respond(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), middleware.IsAdmin(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "response added", r)
}

func (h *Handler) close(c *gin.Context) {
	var body struct {
		Satisfaction *int `json:"satisfaction"`
	}
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err)
			return
		}
	}
	t, err := h.svc.Close(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), body.Satisfaction)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "ticket closed", t)
}

func (h *Handler) adminTickets(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.svc.AdminTickets(c.Request.Context(), TicketFilter{
		Status: c.Query("status"), Priority: c.Query("priority"), AssignedTo: c.Query("assigned_to"),
		CategoryID: c.Query("category_id"), Skip: int64((page - 1) * perPage), Limit: int64(perPage),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) update(c *gin.Context) {
	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	t, err := h.svc.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "ticket updated", t)
}

func (h *Handler) assign(c *gin.Context) {
	var body struct {
		AssignedTo string `json:"assigned_to"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err)
			return
		}
	}
	// without a body the caller takes the ticket
	if body.AssignedTo == "" {
		body.AssignedTo = middleware.CurrentUserID(c)
	}
	t, err := h.svc.Assign(c.Request.Context(), c.Param("id"), body.AssignedTo)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "ticket assigned", t)
}

func (h *Handler) statistics(c *gin.Context) {
	st, err := h.svc.Statistics(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", st)
}
