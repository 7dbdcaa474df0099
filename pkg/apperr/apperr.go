// Package apperr defines the error kinds services return and the HTTP status
// each kind maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindBusinessLogic
	KindPayment
	KindRateLimit
	KindUnavailable
)

// Error is a classified error. Fields carries per-field validation messages.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBusinessLogic:
		return http.StatusUnprocessableEntity
	case KindPayment:
		return http.StatusPaymentRequired
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func newf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}
func Unauthenticated(format string, args ...interface{}) *Error {
	return newf(KindAuthentication, format, args...)
}
func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindAuthorization, format, args...)
}
func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}
func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}
func Business(format string, args ...interface{}) *Error {
	return newf(KindBusinessLogic, format, args...)
}
func Payment(format string, args ...interface{}) *Error {
	return newf(KindPayment, format, args...)
}
func RateLimited(format string, args ...interface{}) *Error {
	return newf(KindRateLimit, format, args...)
}
func Unavailable(format string, args ...interface{}) *Error {
	return newf(KindUnavailable, format, args...)
}

// Internal wraps an unexpected error; the message is safe to show clients.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// FieldError returns a validation error for a single field.
func FieldError(field, msg string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: map[string]string{field: msg}}
}

// KindOf reports the kind of err, KindInternal when it is not classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// FromValidator converts validator.ValidationErrors into a field-keyed
// validation error. Other errors are returned as a plain validation error.
func FromValidator(err error) *Error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
		return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
	}
	return &Error{Kind: KindValidation, Message: err.Error()}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "email":
		return "must be a valid email"
	case "vin":
		return "must be a valid 17-character VIN"
	case "car_year":
		return "is not a valid model year"
	}
	return "is invalid (" + fe.Tag() + ")"
}
