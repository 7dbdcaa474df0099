package providers

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const (
	Halyk  = "halyk"
	PayBox = "paybox"

	pgSigName      = "pg_sig"
	checkoutScript = "payment.php"
)

// PGProvider speaks the pg_* protocol shared by Halyk and PayBox.
type PGProvider struct {
	name       string
	merchantID string
	secret     string
	baseURL    string
}

func NewHalyk(merchantID, secret string) *PGProvider {
	return &PGProvider{name: Halyk, merchantID: merchantID, secret: secret, baseURL: "https://epay.halykbank.kz/"}
}

func NewPayBox(merchantID, secret string) *PGProvider {
	return &PGProvider{name: PayBox, merchantID: merchantID, secret: secret, baseURL: "https://api.paybox.money/"}
}

func (p *PGProvider) Name() string { return p.name }

// Sign is the hex MD5 of the values sorted by key and the secret, joined
// with ";". pg_sig is excluded.
func (p *PGProvider) Sign(params map[string]string) string {
	keys := sortedKeys(params, pgSigName)
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, params[k])
	}
	parts = append(parts, p.secret)
	sum := md5.Sum([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:])
}

func (p *PGProvider) Checkout(o Order) (*Checkout, error) {
	fields := map[string]string{
		"pg_merchant_id":    p.merchantID,
		"pg_order_id":       o.ID,
		"pg_amount":         amount(o.Amount),
		"pg_currency":       o.Currency,
		"pg_description":    o.Description,
		"pg_result_url":     o.ResultURL,
		"pg_success_url":    o.SuccessURL,
		"pg_request_method": "POST",
	}
	fields[pgSigName] = p.Sign(fields)
	return &Checkout{Method: "POST", URL: p.baseURL + checkoutScript, Fields: fields}, nil
}

func (p *PGProvider) ParseCallback(payload map[string]string) (*Callback, error) {
	got := payload[pgSigName]
	want := p.Sign(payload)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return nil, ErrBadSignature
	}
	if payload["pg_order_id"] == "" {
		return nil, missing("pg_order_id")
	}
	cb := &Callback{OrderID: payload["pg_order_id"], ExternalID: payload["pg_payment_id"], Status: StatusFailed}
	if payload["pg_result"] == "1" {
		cb.Status = StatusSuccess
	} else {
		cb.Error = payload["pg_failure_description"]
	}
	return cb, nil
}
