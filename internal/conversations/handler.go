package conversations

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/kolesa/kolesa/backend/go-services/pkg/middleware"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
)

type Handler struct {
	svc      *Service
	hub      *Hub
	ver      middleware.Verifier
	upgrader websocket.Upgrader
}

func NewHandler(svc *Service, hub *Hub, ver middleware.Verifier) *Handler {
	return &Handler{
		svc: svc, hub: hub, ver: ver,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/conversations/ws", middleware.StreamAuth(h.ver), h.stream)

	g := rg.Group("/conversations", middleware.AuthMiddleware(h.ver))
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/unread-count", h.unread)
	g.PUT("/messages/:message_id", h.edit)
	g.DELETE("/messages/:message_id", h.deleteMessage)
	g.GET("/:id", h.get)
	g.GET("/:id/messages", h.messages)
	g.POST("/:id/messages", h.send)
	g.POST("/:id/read", h.markRead)
	g.POST("/:id/leave", h.leave)
}

func (h *Handler) list(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.svc.List(c.Request.Context(), middleware.CurrentUserID(c),
		int64((page-1)*perPage), int64(perPage))
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
	conv, err := h.svc.Create(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "conversation ready", conv)
}

func (h *Handler) unread(c *gin.Context) {
	u, err := h.svc.UnreadCount(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", u)
}

func (h *Handler) get(c *gin.Context) {
	conv, err := h.svc.Get(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", conv)
}

func (h *Handler) messages(c *gin.Context) {
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
			return
		}
		before = &t
	}
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	msgs, err := h.svc.Messages(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), before, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", msgs)
}

type messageBody struct {
	Text        string   `json:"message_text"`
	Attachments []string `json:"attachments"`
}

func (h *Handler) send(c *gin.Context) {
	var body messageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	msg, err := h.svc.Send(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), body.Text, body.Attachments)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "message sent", msg)
}

func (h *Handler) edit(c *gin.Context) {
	var body messageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	msg, err := h.svc.Edit(c.Request.Context(), c.Param("message_id"), middleware.CurrentUserID(c), body.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "message updated", msg)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	err := h.svc.DeleteMessage(c.Request.Context(), c.Param("message_id"), middleware.CurrentUserID(c), middleware.IsAdmin(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "message deleted", nil)
}

func (h *Handler) markRead(c *gin.Context) {
	if err := h.svc.MarkRead(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "conversation marked as read", nil)
}

func (h *Handler) leave(c *gin.Context) {
	if err := h.svc.Leave(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "left conversation", nil)
}

// stream upgrades to a websocket that receives message events for one
// conversation. Client frames are read and discarded.
func (h *Handler) stream(c *gin.Context) {
	id := c.Query("conversation_id")
	if id == "" {
		response.Fail(c, http.StatusBadRequest, "conversation_id query parameter required")
		return
	}
	if _, err := h.svc.Get(c.Request.Context(), id, middleware.CurrentUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("websocket upgrade failed: %v", err)
		return
	}
	client := NewClient(conn, logger.With("conversation_id", id))
	h.hub.Register(id, client)
	done := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					return
				}
			}
		}
	}()
	go func() {
		defer func() {
			close(done)
			h.hub.Unregister(id, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
