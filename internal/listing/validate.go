package listing

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
)

// VINs use A-Z and 0-9 without I, O and Q.
var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("vin", func(fl validator.FieldLevel) bool {
		return ValidVIN(fl.Field().String())
	})
	_ = v.RegisterValidation("car_year", func(fl validator.FieldLevel) bool {
		y := int(fl.Field().Int())
		return y >= 1950 && y <= time.Now().Year()+1
	})
	return v
}

// ValidVIN reports whether s is a well-formed 17 character VIN.
func ValidVIN(s string) bool {
	return vinPattern.MatchString(strings.ToUpper(s))
}

// Input is the create/update payload of a listing.
type Input struct {
	Type         string      `json:"listing_type" validate:"omitempty,oneof=car_listing service_listing"`
	Title        string      `json:"title" validate:"required,min=5,max=255"`
	Description  string      `json:"description" validate:"max=5000"`
	Price        float64     `json:"price" validate:"gte=0"`
	Currency     string      `json:"currency" validate:"omitempty,oneof=KZT USD EUR RUB"`
	CityID       string      `json:"city_id" validate:"required"`
	Address      string      `json:"address" validate:"max=500"`
	Latitude     *float64    `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude    *float64    `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	ContactName  string      `json:"contact_name" validate:"max=100"`
	ContactPhone string      `json:"contact_phone" validate:"max=20"`
	IsNegotiable *bool       `json:"is_negotiable"`
	Details      *CarDetails `json:"details"`
}

// Validate checks field rules and the cross-field constraints.
func (in *Input) Validate() error {
	if err := validate.Struct(in); err != nil {
		return apperr.FromValidator(err)
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return apperr.FieldError("latitude", "latitude and longitude must be provided together")
	}
	if in.Type == TypeCar && in.Details == nil {
		return apperr.FieldError("details", "car listings require car details")
	}
	return nil
}
