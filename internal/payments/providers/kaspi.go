package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

const (
	Kaspi        = "kaspi"
	kaspiPayURL  = "https://kaspi.kz/pay"
	kaspiSigName = "signature"
)

type KaspiProvider struct {
	merchantID string
	secret     []byte
}

func NewKaspi(merchantID, secret string) *KaspiProvider {
	return &KaspiProvider{merchantID: merchantID, secret: []byte(secret)}
}

func (p *KaspiProvider) Name() string { return Kaspi }

// Sign is the hex HMAC-SHA256 of k=v pairs sorted by key and joined
// with &, the signature field excluded.
func (p *KaspiProvider) Sign(params map[string]string) string {
	keys := sortedKeys(params, kaspiSigName)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *KaspiProvider) Checkout(o Order) (*Checkout, error) {
	params := map[string]string{
		"merchant_id": p.merchantID,
		"order_id":    o.ID,
		"amount":      amount(o.Amount),
		"currency":    o.Currency,
		"description": o.Description,
		"return_url":  o.SuccessURL,
		"webhook_url": o.ResultURL,
	}
	params[kaspiSigName] = p.Sign(params)
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return &Checkout{Method: "GET", URL: kaspiPayURL + "?" + q.Encode()}, nil
}

func (p *KaspiProvider) ParseCallback(payload map[string]string) (*Callback, error) {
	got := payload[kaspiSigName]
	if got == "" || !hmac.Equal([]byte(got), []byte(p.Sign(payload))) {
		return nil, ErrBadSignature
	}
	if payload["order_id"] == "" {
		return nil, missing("order_id")
	}
	cb := &Callback{OrderID: payload["order_id"], ExternalID: payload["transaction_id"], Status: StatusFailed}
	if payload["status"] == "SUCCESS" {
		cb.Status = StatusSuccess
	} else {
		cb.Error = payload["error_message"]
	}
	return cb, nil
}
