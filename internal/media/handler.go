package media

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/pkg/middleware"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
	"github.com/redis/go-redis/v9"
)

type Handler struct {
	svc        *Service
	ver        middleware.Verifier
	limitStore *redis.Client
}

func NewHandler(svc *Service, ver middleware.Verifier) *Handler {
	return &Handler{svc: svc, ver: ver}
}

// WithRedisLimits counts upload quotas in Redis so they hold across
// instances.
func (h *Handler) WithRedisLimits(c *redis.Client) *Handler {
	h.limitStore = c
	return h
}

func (h *Handler) hourly(scope string, n int) gin.HandlerFunc {
	if h.limitStore != nil {
		return middleware.RedisScopedRateLimit(h.limitStore, scope, 0, n, time.Hour)
	}
	return middleware.ScopedRateLimit(scope, float64(n)/3600, n)
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/media")
	auth := middleware.AuthMiddleware(h.ver)

	g.GET("/limits", h.limits)
	g.GET("/stats", auth, h.stats)
	g.POST("/upload", auth, h.hourly("media_upload", 50), h.upload)
	g.POST("/multiple-upload", auth, h.hourly("bulk_upload", 10), h.multipleUpload)
	g.GET("/entity/:type/:id", h.entity)
	g.POST("/entity/:type/:id/reorder", auth, h.reorder)
	g.GET("/:id", h.get)
	g.PUT("/:id", auth, h.update)
	g.DELETE("/:id", auth, h.delete)
	g.GET("/:id/download", h.download)
	g.GET("/:id/thumbnail", h.thumbnail)
	g.POST("/:id/thumbnail", auth, h.regenerate)
}

func (h *Handler) limits(c *gin.Context) {
	response.OK(c, "", h.svc.Limits())
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", st)
}

func formInput(c *gin.Context, fh *multipart.FileHeader) (UploadInput, io.Closer, error) {
	f, err := fh.Open()
	if err != nil {
		return UploadInput{}, nil, err
	}
	in := UploadInput{
		EntityType: c.PostForm("entity_type"), EntityID: c.PostForm("entity_id"),
		FileName: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Body: f,
	}
	return in, f, nil
}

func (h *Handler) upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "no file provided")
		return
	}
	in, f, err := formInput(c, fh)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "cannot read file")
		return
	}
	defer f.Close()
	if raw := c.PostForm("sort_order"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.Fail(c, http.StatusBadRequest, "sort_order must be a non-negative integer")
			return
		}
		in.SortOrder = &n
	}
	in.IsPrimary, _ = strconv.ParseBool(c.PostForm("is_primary"))
	in.AltText = c.PostForm("alt_text")

	m, err := h.svc.Upload(c.Request.Context(), middleware.CurrentUserID(c), middleware.IsAdmin(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "file uploaded", m)
}

func (h *Handler) multipleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		response.Fail(c, http.StatusBadRequest, "no files provided")
		return
	}
	var inputs []UploadInput
	for _, fh := range form.File["files"] {
		in, f, err := formInput(c, fh)
		if err != nil {
			continue
		}
		defer f.Close()
		inputs = append(inputs, in)
	}
	uploaded, failed := h.svc.MultipleUpload(c.Request.Context(), middleware.CurrentUserID(c), middleware.IsAdmin(c), inputs)
	response.Created(c, strconv.Itoa(len(uploaded))+" files uploaded", gin.H{"uploaded": uploaded, "failed": failed})
}

func (h *Handler) entity(c *gin.Context) {
	items, err := h.svc.EntityMedia(c.Request.Context(), c.Param("type"), c.Param("id"), c.Query("media_type"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", items)
}

func (h *Handler) reorder(c *gin.Context) {
	var body struct {
		Order []string `json:"media_order" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	items, err := h.svc.Reorder(c.Request.Context(), middleware.CurrentUserID(c), middleware.IsAdmin(c),
		c.Param("type"), c.Param("id"), body.Order)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "media reordered", items)
}

func (h *Handler) get(c *gin.Context) {
	m, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", m)
}

func (h *Handler) update(c *gin.Context) {
	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	m, err := h.svc.Update(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), middleware.IsAdmin(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "media updated", m)
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), middleware.IsAdmin(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "media deleted", gin.H{"deleted": true})
}

func (h *Handler) download(c *gin.Context)  { h.serve(c, false) }
func (h *Handler) thumbnail(c *gin.Context) { h.serve(c, true) }

// serve redirects to a presigned URL when the store supports one and
// streams the object otherwise.
func (h *Handler) serve(c *gin.Context, thumb bool) {
	ctx := c.Request.Context()
	m, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if thumb && !m.HasThumbnail {
		response.Fail(c, http.StatusNotFound, "file has no thumbnail")
		return
	}
	u, err := h.svc.DownloadURL(ctx, m, thumb)
	if err != nil {
		response.Error(c, err)
		return
	}
	if u != "" {
		c.Redirect(http.StatusFound, u)
		return
	}
	rc, info, err := h.svc.Open(ctx, m, thumb)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer rc.Close()
	headers := map[string]string{}
	if !thumb {
		headers["Content-Disposition"] = mime.FormatMediaType("attachment", map[string]string{"filename": m.FileName})
	}
	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, rc, headers)
}

func (h *Handler) regenerate(c *gin.Context) {
	m, err := h.svc.RegenerateThumbnail(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), middleware.IsAdmin(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "thumbnail generated", m)
}
