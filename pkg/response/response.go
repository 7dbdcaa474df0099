// Package response writes the JSON envelope every endpoint uses:
// {"success": bool, "message": string, "data": any, "errors": map?}.
package response

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

type Envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Page is the paginated payload placed under "data".
type Page struct {
	Items      interface{} `json:"items"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
	HasPrev    bool        `json:"has_prev"`
	HasNext    bool        `json:"has_next"`
	PrevPage   *int        `json:"prev_page"`
	NextPage   *int        `json:"next_page"`
}

// NewPage computes pagination metadata for total items.
func NewPage(items interface{}, page, perPage int, total int64) Page {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	pages := int((total + int64(perPage) - 1) / int64(perPage))
	p := Page{Items: items, Page: page, PerPage: perPage, Total: total, TotalPages: pages}
	p.HasPrev = page > 1
	p.HasNext = page < pages
	if p.HasPrev {
		prev := page - 1
		p.PrevPage = &prev
	}
	if p.HasNext {
		next := page + 1
		p.NextPage = &next
	}
	return p
}

// ParsePage reads ?page= and ?per_page= with defaults and the 100 cap.
func ParsePage(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(DefaultPerPage)))
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func OK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Message: message, Data: data})
}

func Paginated(c *gin.Context, items interface{}, page, perPage int, total int64) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: NewPage(items, page, perPage, total)})
}

// Fail writes an error envelope with an explicit status.
func Fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Envelope{Success: false, Message: message})
}

var jsonNamesOnce sync.Once

// UseJSONFieldNames makes gin binding errors report fields by their json
// names, so the "errors" map matches the request body.
func UseJSONFieldNames() {
	jsonNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
}

// BadRequest is used for binding errors.
func BadRequest(c *gin.Context, err error) {
	Error(c, apperr.FromValidator(err))
}

// Error maps err to its status and writes the envelope. Unclassified errors
// are logged and reported as 500 without leaking details.
func Error(c *gin.Context, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, Envelope{Success: false, Message: "internal server error"})
		return
	}
	if ae.Kind == apperr.KindInternal {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), ae)
	}
	c.AbortWithStatusJSON(ae.Status(), Envelope{Success: false, Message: ae.Message, Errors: ae.Fields})
}
