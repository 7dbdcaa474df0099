package payments

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
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
	g := rg.Group("/payments")
	g.GET("/services", h.services)
	// gateways call this without a user token; the signature authenticates
	g.POST("/webhook/:provider", h.webhook)

	a := g.Group("", middleware.AuthMiddleware(h.ver))
	limit := middleware.ScopedRateLimit("payments", 0.5, 10)
	a.POST("/promote-listing", limit, h.promote)
	a.GET("/my-promotions", h.myPromotions)
	a.GET("/transactions", h.transactions)
	a.GET("/transactions/:id", h.transaction)
	a.POST("/create-payment", limit, h.createPayment)
	a.POST("/process-payment/:id", h.process)
	a.POST("/refund/:id", h.refund)
	a.GET("/balance", h.balance)
	a.GET("/statistics", h.statistics)

	adm := a.Group("", middleware.RequireAdmin())
	adm.POST("/refunds/:id/complete", h.completeRefund)
	adm.POST("/bonus", h.bonus)
}

func (h *Handler) services(c *gin.Context) {
	items, err := h.svc.Services(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", gin.H{"services": items, "providers": h.svc.Providers()})
}

func (h *Handler) promote(c *gin.Context) {
	var in PromoteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	res, err := h.svc.PromoteListing(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "promotion created", res)
}

func (h *Handler) myPromotions(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.svc.MyPromotions(c.Request.Context(), middleware.CurrentUserID(c), c.Query("status"),
		int64((page-1)*perPage), int64(perPage))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) transactions(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.svc.Transactions(c.Request.Context(), TxFilter{
		UserID: middleware.CurrentUserID(c), Type: c.Query("type"), Status: c.Query("status"),
		Skip: int64((page - 1) * perPage), Limit: int64(perPage),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) transaction(c *gin.Context) {
	tx, err := h.svc.Transaction(c.Request.Context(), middleware.CurrentUserID(c), middleware.IsAdmin(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", tx)
}

func (h *Handler) createPayment(c *gin.Context) {
	var in TopUpInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	res, err := h.svc.CreatePayment(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "payment created", res)
}

// payload reads gateway fields from a form post or a flat JSON object.
func payload(c *gin.Context) (map[string]string, error) {
	out := map[string]string{}
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var raw map[string]interface{}
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			switch t := v.(type) {
			case string:
				out[k] = t
			case json.Number:
				out[k] = t.String()
			case nil:
				out[k] = ""
			default:
				out[k] = fmt.Sprint(t)
			}
		}
		return out, nil
	}
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	for k := range c.Request.PostForm {
		out[k] = c.Request.PostForm.Get(k)
	}
	return out, nil
}

func (h *Handler) process(c *gin.Context) {
	data, err := payload(c)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid payment data")
		return
	}
	tx, err := h.svc.ProcessPayment(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "payment "+tx.Status, tx)
}

func (h *Handler) webhook(c *gin.Context) {
	data, err := payload(c)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	tx, err := h.svc.Webhook(c.Request.Context(), c.Param("provider"), data)
	if err != nil {
		logger.Warnf("payment webhook %s: %v", c.Param("provider"), err)
		response.Error(c, err)
		return
	}
	response.OK(c, "ok", gin.H{"transaction_id": tx.ID, "status": tx.Status})
}

func (h *Handler) refund(c *gin.Context) {
	var body struct {
		Reason string `json:"reason" binding:"required,max=500"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	tx, err := h.svc.Refund(c.Request.Context(), middleware.CurrentUserID(c), middleware.IsAdmin(c), c.Param("id"), body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "refund requested", tx)
}

func (h *Handler) balance(c *gin.Context) {
	b, err := h.svc.Balance(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", b)
}

// statistics is per user; admins get platform totals with scope=all.
func (h *Handler) statistics(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if c.Query("scope") == "all" {
		if !middleware.IsAdmin(c) {
			response.Fail(c, http.StatusForbidden, "insufficient permissions")
			return
		}
		userID = ""
	}
	st, err := h.svc.Statistics(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", st)
}

func (h *Handler) completeRefund(c *gin.Context) {
	tx, err := h.svc.CompleteRefund(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "refund completed", tx)
}

func (h *Handler) bonus(c *gin.Context) {
	var in BonusInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	tx, err := h.svc.GrantBonus(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "bonus granted", tx)
}
