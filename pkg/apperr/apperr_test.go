package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	cases := map[*Error]int{
		Validation("x"):      http.StatusBadRequest,
		Unauthenticated("x"): http.StatusUnauthorized,
		Forbidden("x"):       http.StatusForbidden,
		NotFound("x"):        http.StatusNotFound,
		Conflict("x"):        http.StatusConflict,
		Business("x"):        http.StatusUnprocessableEntity,
		Payment("x"):         http.StatusPaymentRequired,
		RateLimited("x"):     http.StatusTooManyRequests,
		Unavailable("x"):     http.StatusServiceUnavailable,
		Internal("x", nil):   http.StatusInternalServerError,
	}
	for e, want := range cases {
		require.Equal(t, want, e.Status(), e.Message)
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("create listing: %w", Business("limit reached"))
	require.True(t, Is(err, KindBusinessLogic))
	require.Equal(t, KindInternal, KindOf(errors.New("plain")))
	require.False(t, Is(nil, KindInternal))
}

func TestFromValidator(t *testing.T) {
	type req struct {
		Title string `validate:"required,min=5"`
		Year  int    `validate:"gte=1950"`
	}
	err := validator.New().Struct(req{Title: "abc", Year: 1900})
	ae := FromValidator(err)
	require.Equal(t, KindValidation, ae.Kind)
	require.Equal(t, "must be at least 5", ae.Fields["Title"])
	require.Contains(t, ae.Fields["Year"], "1950")
}
