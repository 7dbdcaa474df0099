package listing

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
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
	auth := middleware.AuthMiddleware(h.ver)
	optional := middleware.OptionalAuth(h.ver)

	g := rg.Group("/listings")
	g.GET("", optional, h.search)
	g.POST("", auth, h.create)
	g.GET("/favorites", auth, h.favorites)
	g.GET("/my", auth, h.my)
	g.GET("/:id", optional, h.get)
	g.PUT("/:id", auth, h.update)
	g.DELETE("/:id", auth, h.delete)
	g.POST("/:id/favorite", auth, h.toggleFavorite)
	g.POST("/:id/action", auth, h.action)
	g.POST("/:id/view", optional, h.view)
	g.GET("/:id/similar", h.similar)
}

func viewer(c *gin.Context) Viewer {
	return Viewer{UserID: middleware.CurrentUserID(c), IP: c.ClientIP(), IsAdmin: middleware.IsAdmin(c)}
}

func optFloat(c *gin.Context, name string) (*float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperr.FieldError(name, "must be a number")
	}
	return &v, nil
}

func optInt(c *gin.Context, name string) (*int, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperr.FieldError(name, "must be an integer")
	}
	return &v, nil
}

// filterFromQuery maps search query parameters onto a Filter.
func filterFromQuery(c *gin.Context) (Filter, error) {
	f := Filter{
		Query:         c.Query("q"),
		Type:          c.Query("listing_type"),
		UserID:        c.Query("user_id"),
		CityID:        c.Query("city_id"),
		RegionID:      c.Query("region_id"),
		Featured:      c.Query("is_featured") == "true",
		Urgent:        c.Query("is_urgent") == "true",
		BrandID:       c.Query("brand_id"),
		ModelID:       c.Query("model_id"),
		BodyTypeID:    c.Query("body_type_id"),
		EngineTypeID:  c.Query("engine_type_id"),
		Transmission:  c.Query("transmission_id"),
		DriveTypeID:   c.Query("drive_type_id"),
		ColorID:       c.Query("color_id"),
		Condition:     c.Query("condition"),
		Sort:          c.Query("sort_by"),
		BoostFeatured: c.Query("boost_featured") == "true",
	}
	var err error
	if f.Latitude, err = optFloat(c, "latitude"); err != nil {
		return f, err
	}
	if f.Longitude, err = optFloat(c, "longitude"); err != nil {
		return f, err
	}
	radius, err := optFloat(c, "radius")
	if err != nil {
		return f, err
	}
	if radius != nil {
		f.RadiusKm = *radius
	}
	if f.PriceFrom, err = optFloat(c, "price_from"); err != nil {
		return f, err
	}
	if f.PriceTo, err = optFloat(c, "price_to"); err != nil {
		return f, err
	}
	if f.MileageFrom, err = optInt(c, "mileage_from"); err != nil {
		return f, err
	}
	if f.MileageTo, err = optInt(c, "mileage_to"); err != nil {
		return f, err
	}
	for name, dst := range map[string]*int{"year_from": &f.YearFrom, "year_to": &f.YearTo} {
		v, err := optInt(c, name)
		if err != nil {
			return f, err
		}
		if v != nil {
			*dst = *v
		}
	}
	// owners may browse their own listings in other statuses
	if st := c.Query("status"); st != "" {
		uid := middleware.CurrentUserID(c)
		if uid == "" || uid != f.UserID {
			return f, apperr.Forbidden("status filter is only available for your own listings")
		}
		f.Statuses = []string{st}
	}
	return f, nil
}

func (h *Handler) search(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	page, perPage := response.ParsePage(c)
	f.Skip, f.Limit = int64((page-1)*perPage), int64(perPage)
	items, total, err := h.svc.Search(c.Request.Context(), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) create(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err)
		return
	}
	l, err := h.svc.Create(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "listing submitted for moderation", l)
}

func (h *Handler) get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"), viewer(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", d)
}

func (h *Handler) update(c *gin.Context) {
	var p Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		response.BadRequest(c, err)
		return
	}
	l, err := h.svc.Update(c.Request.Context(), c.Param("id"), viewer(c), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "listing updated", l)
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), viewer(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "listing deleted", nil)
}

func (h *Handler) toggleFavorite(c *gin.Context) {
	var body struct {
		Folder string `json:"folder_name"`
	}
	_ = c.ShouldBindJSON(&body)
	res, err := h.svc.ToggleFavorite(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), body.Folder)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", res)
}

func (h *Handler) favorites(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.svc.Favorites(c.Request.Context(), middleware.CurrentUserID(c),
		c.Query("folder"), c.Query("sort_by"), int64((page-1)*perPage), int64(perPage))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) my(c *gin.Context) {
	page, perPage := response.ParsePage(c)
	items, total, err := h.svc.MyListings(c.Request.Context(), middleware.CurrentUserID(c),
		c.Query("status"), int64((page-1)*perPage), int64(perPage))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, perPage, total)
}

func (h *Handler) action(c *gin.Context) {
	var body struct {
		Action string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	res, err := h.svc.Action(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), body.Action)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res.Message, res)
}

func (h *Handler) view(c *gin.Context) {
	n, err := h.svc.RegisterView(c.Request.Context(), c.Param("id"), viewer(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", gin.H{"view_count": n})
}

func (h *Handler) similar(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "10"), 10, 64)
	items, err := h.svc.Similar(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", items)
}
