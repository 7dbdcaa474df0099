// Package providers signs checkout requests for the Kazakh payment
// gateways and verifies their callbacks.
package providers

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/kolesa/kolesa/backend/go-services/internal/config"
)

var ErrBadSignature = errors.New("invalid callback signature")

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Order is what a checkout is built from.
type Order struct {
	ID          string
	Amount      float64
	Currency    string
	Description string
	ResultURL   string
	SuccessURL  string
}

// Checkout tells the client how to reach the gateway: follow URL with a GET,
// or POST Fields to it as a form.
type Checkout struct {
	Method string            `json:"method"`
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Callback is a verified gateway notification.
type Callback struct {
	OrderID    string
	ExternalID string
	Status     string
	Error      string
}

type Provider interface {
	Name() string
	Checkout(o Order) (*Checkout, error)
	// ParseCallback verifies the signature and extracts the result.
	ParseCallback(payload map[string]string) (*Callback, error)
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func sortedKeys(m map[string]string, skip string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != skip {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// FromConfig builds every gateway with both a merchant id and a secret.
// A gateway without a secret would accept callbacks anyone can sign.
func FromConfig(cfg config.PaymentsConfig) map[string]Provider {
	out := map[string]Provider{}
	if configured(cfg.Kaspi) {
		out[Kaspi] = NewKaspi(cfg.Kaspi.MerchantID, cfg.Kaspi.SecretKey)
	}
	if configured(cfg.Halyk) {
		out[Halyk] = NewHalyk(cfg.Halyk.MerchantID, cfg.Halyk.SecretKey)
	}
	if configured(cfg.PayBox) {
		out[PayBox] = NewPayBox(cfg.PayBox.MerchantID, cfg.PayBox.SecretKey)
	}
	return out
}

func configured(c config.ProviderCredentials) bool {
	return c.MerchantID != "" && c.SecretKey != ""
}

func missing(field string) error {
	return fmt.Errorf("callback field %s missing", field)
}
