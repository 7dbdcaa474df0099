// Package phone normalizes user-entered phone numbers to E.164.
package phone

import (
	"errors"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used for numbers written without a country code.
const DefaultRegion = "KZ"

var ErrInvalid = errors.New("invalid phone number")

// Normalize parses raw in the default region and returns it in E.164 form.
func Normalize(raw string) (string, error) {
	num, err := phonenumbers.Parse(raw, DefaultRegion)
	if err != nil {
		return "", ErrInvalid
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalid
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Mask hides the middle digits, for log lines and notifications.
func Mask(e164 string) string {
	if len(e164) < 8 {
		return e164
	}
	return e164[:4] + "****" + e164[len(e164)-3:]
}
