package providers

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"

	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/stretchr/testify/require"
)

func TestKaspiSignatureFormat(t *testing.T) {
	p := NewKaspi("m-1", "s3cret")
	params := map[string]string{"b": "2", "a": "1", "signature": "ignored"}
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte("a=1&b=2"))
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), p.Sign(params))
}

func TestKaspiCheckoutAndCallback(t *testing.T) {
	p := NewKaspi("m-1", "s3cret")
	co, err := p.Checkout(Order{ID: "tx-1", Amount: 2500, Currency: "KZT", Description: "Поднятие в ТОП"})
	require.NoError(t, err)
	require.Equal(t, "GET", co.Method)
	u, err := url.Parse(co.URL)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "2500.00", q.Get("amount"))
	params := map[string]string{}
	for k := range q {
		params[k] = q.Get(k)
	}
	require.Equal(t, q.Get("signature"), p.Sign(params))

	payload := map[string]string{"order_id": "tx-1", "transaction_id": "K-77", "status": "SUCCESS"}
	payload["signature"] = p.Sign(payload)
	cb, err := p.ParseCallback(payload)
	require.NoError(t, err)
	require.Equal(t, &Callback{OrderID: "tx-1", ExternalID: "K-77", Status: StatusSuccess}, cb)

	payload["status"] = "FAILED"
	_, err = p.ParseCallback(payload)
	require.ErrorIs(t, err, ErrBadSignature, "tampered payload")

	payload["signature"] = p.Sign(payload)
	payload["error_message"] = "insufficient funds"
	payload["signature"] = p.Sign(payload)
	cb, err = p.ParseCallback(payload)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, cb.Status)
	require.Equal(t, "insufficient funds", cb.Error)
}

func TestPGSignatureFormat(t *testing.T) {
	p := NewHalyk("m-2", "key")
	sum := md5.Sum([]byte("1;2;key"))
	require.Equal(t, hex.EncodeToString(sum[:]), p.Sign(map[string]string{"pg_b": "2", "pg_a": "1", "pg_sig": "x"}))
}

func TestPGCallback(t *testing.T) {
	for _, p := range []*PGProvider{NewHalyk("m", "k1"), NewPayBox("m", "k2")} {
		co, err := p.Checkout(Order{ID: "tx-9", Amount: 1000, Currency: "KZT"})
		require.NoError(t, err)
		require.Equal(t, "POST", co.Method)
		require.Equal(t, p.Sign(co.Fields), co.Fields["pg_sig"])
		require.True(t, strings.HasSuffix(co.URL, checkoutScript))

		payload := map[string]string{"pg_order_id": "tx-9", "pg_payment_id": "P-1", "pg_result": "1"}
		payload["pg_sig"] = p.Sign(payload)
		cb, err := p.ParseCallback(payload)
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, cb.Status)
		require.Equal(t, "P-1", cb.ExternalID)

		payload["pg_result"] = "0"
		_, err = p.ParseCallback(payload)
		require.ErrorIs(t, err, ErrBadSignature, "tampered payload")
	}
}

func TestPGCallbackSignedByGateway(t *testing.T) {
	// values sorted by key, then the secret, all joined with ";"
	payload := map[string]string{"pg_order_id": "tx-3", "pg_payment_id": "H-42", "pg_result": "1"}
	sum := md5.Sum([]byte("tx-3;H-42;1;halyk-secret"))
	payload["pg_sig"] = hex.EncodeToString(sum[:])

	cb, err := NewHalyk("m", "halyk-secret").ParseCallback(payload)
	require.NoError(t, err)
	require.Equal(t, &Callback{OrderID: "tx-3", ExternalID: "H-42", Status: StatusSuccess}, cb)
}

func TestFromConfigSkipsUnconfigured(t *testing.T) {
	got := FromConfig(config.PaymentsConfig{Kaspi: config.ProviderCredentials{MerchantID: "m", SecretKey: "s"}})
	require.Len(t, got, 1)
	require.Equal(t, Kaspi, got[Kaspi].Name())
}

func TestFromConfigRequiresSecret(t *testing.T) {
	got := FromConfig(config.PaymentsConfig{
		Kaspi:  config.ProviderCredentials{MerchantID: "m"},
		Halyk:  config.ProviderCredentials{MerchantID: "m"},
		PayBox: config.ProviderCredentials{MerchantID: "m", SecretKey: "s"},
	})
	require.Len(t, got, 1)
	require.Contains(t, got, PayBox)
}
