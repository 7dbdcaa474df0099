package locations

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/internal/cache"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
	"github.com/redis/go-redis/v9"
)

const CacheNamespace = "locations"

type Handler struct {
	svc      *Service
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewHandler(svc *Service, rc *redis.Client, cacheTTL time.Duration) *Handler {
	return &Handler{svc: svc, redis: rc, cacheTTL: cacheTTL}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/locations", cache.Middleware(h.redis, CacheNamespace, h.cacheTTL))
	g.GET("/countries", h.countries)
	g.GET("/countries/:id", h.country)
	g.GET("/regions", h.regions)
	g.GET("/regions/:id", h.region)
	g.GET("/regions/:id/cities", h.regionCities)
	g.GET("/cities", h.cities)
	g.GET("/cities/search", h.searchCities)
	g.GET("/cities/:id", h.city)
	g.GET("/search", h.search)
	g.GET("/nearby", h.nearby)
	g.GET("/hierarchy", h.hierarchy)
	g.GET("/stats", h.stats)
}

func queryInt(c *gin.Context, name string, def int) int {
	if v, err := strconv.Atoi(c.Query(name)); err == nil {
		return v
	}
	return def
}

func (h *Handler) countries(c *gin.Context) {
	list, err := h.svc.Countries(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) country(c *gin.Context) {
	ct, err := h.svc.Country(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	regions, err := h.svc.Regions(c.Request.Context(), ct.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", gin.H{"country": ct, "regions": regions})
}

func (h *Handler) regions(c *gin.Context) {
	list, err := h.svc.Regions(c.Request.Context(), c.Query("country_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) region(c *gin.Context) {
	r, err := h.svc.Region(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", r)
}

func (h *Handler) regionCities(c *gin.Context) {
	list, err := h.svc.RegionCities(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) cities(c *gin.Context) {
	list, err := h.svc.Cities(c.Request.Context(), CityFilter{
		RegionID:  c.Query("region_id"),
		CountryID: c.Query("country_id"),
		MajorOnly: c.Query("major_only") == "true",
		Limit:     queryInt(c, "limit", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) city(c *gin.Context) {
	city, err := h.svc.City(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", city)
}

func (h *Handler) searchCities(c *gin.Context) {
	q := c.Query("q")
	if len([]rune(q)) < 2 {
		response.Error(c, apperr.FieldError("q", "at least 2 characters required"))
		return
	}
	list, err := h.svc.SearchCities(c.Request.Context(), q, c.Query("region_id"), queryInt(c, "limit", 10))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) search(c *gin.Context) {
	q := c.Query("q")
	if len([]rune(q)) < 2 {
		response.Error(c, apperr.FieldError("q", "at least 2 characters required"))
		return
	}
	res, err := h.svc.Search(c.Request.Context(), q, queryInt(c, "limit", 10))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", res)
}

func (h *Handler) nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		response.Error(c, apperr.Validation("lat and lng are required"))
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "50"), 64)
	if err != nil {
		response.Error(c, apperr.FieldError("radius", "must be a number"))
		return
	}
	list, err := h.svc.Nearby(c.Request.Context(), lat, lng, radius, queryInt(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", list)
}

func (h *Handler) hierarchy(c *gin.Context) {
	tree, err := h.svc.Hierarchy(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", tree)
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", st)
}
