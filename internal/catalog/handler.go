package catalog

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/internal/cache"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
	"github.com/redis/go-redis/v9"
)

// CacheNamespace groups cached catalog responses for invalidation.
const CacheNamespace = "cars"

type Handler struct {
	svc      *Service
	redis    *redis.Client
	cacheTTL time.Duration
}

// NewHandler builds the /api/cars handler. A nil redis client disables
// response caching.
func NewHandler(svc *Service, rc *redis.Client, cacheTTL time.Duration) *Handler {
	return &Handler{svc: svc, redis: rc, cacheTTL: cacheTTL}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/cars", cache.Middleware(h.redis, CacheNamespace, h.cacheTTL))
	g.GET("/brands", h.brands)
	g.GET("/brands/:id", h.brand)
	g.GET("/brands/:id/models", h.models)
	g.GET("/models/:id", h.model)
	g.GET("/models/:id/generations", h.generations)
	g.GET("/body-types", h.dictionary(func(r *References) interface{} { return r.BodyTypes }))
	g.GET("/engine-types", h.dictionary(func(r *References) interface{} { return r.EngineTypes }))
	g.GET("/transmission-types", h.dictionary(func(r *References) interface{} { return r.TransmissionTypes }))
	g.GET("/drive-types", h.dictionary(func(r *References) interface{} { return r.DriveTypes }))
	g.GET("/colors", h.dictionary(func(r *References) interface{} { return r.Colors }))
	g.GET("/features", h.features)
	g.GET("/attributes", h.attributes)
	g.GET("/hierarchy", h.hierarchy)
	g.GET("/reference-data", h.referenceData)
	g.GET("/years", h.years)
	g.GET("/search", h.search)
}

func intQuery(c *gin.Context, name string, def int) int {
	if v, err := strconv.Atoi(c.Query(name)); err == nil {
		return v
	}
	return def
}

func (h *Handler) brands(c *gin.Context) {
	list, err := h.svc.Brands(c.Request.Context(), c.Query("popular_only") == "true", c.Query("q"), intQuery(c, "limit", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) brand(c *gin.Context) {
	b, err := h.svc.Brand(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	models, err := h.svc.Models(c.Request.Context(), b.ID, "")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", gin.H{"brand": b, "models": models})
}

func (h *Handler) models(c *gin.Context) {
	list, err := h.svc.Models(c.Request.Context(), c.Param("id"), c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) model(c *gin.Context) {
	m, err := h.svc.Model(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	gens, err := h.svc.Generations(c.Request.Context(), m.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", gin.H{"model": m, "generations": gens})
}

func (h *Handler) generations(c *gin.Context) {
	list, err := h.svc.Generations(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) dictionary(pick func(*References) interface{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		refs, err := h.svc.ReferenceData(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, "", pick(refs))
	}
}

func (h *Handler) features(c *gin.Context) {
	list, err := h.svc.Features(c.Request.Context(), c.Query("category"), c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) attributes(c *gin.Context) {
	list, err := h.svc.Attributes(c.Request.Context(), c.Query("searchable") == "true", c.Query("filterable") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) hierarchy(c *gin.Context) {
	tree, err := h.svc.Hierarchy(c.Request.Context(), c.Query("brand_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", tree)
}

func (h *Handler) referenceData(c *gin.Context) {
	refs, err := h.svc.ReferenceData(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", refs)
}

func (h *Handler) years(c *gin.Context) {
	response.OK(c, "", h.svc.Years())
}

func (h *Handler) search(c *gin.Context) {
	q := c.Query("q")
	if len([]rune(q)) < 2 {
		response.Error(c, apperr.FieldError("q", "at least 2 characters required"))
		return
	}
	res, err := h.svc.Search(c.Request.Context(), q, intQuery(c, "limit", 10))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", res)
}
