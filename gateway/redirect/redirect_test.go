package redirect

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/gateway"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(Config{
		BaseURL:      "https://sandbox.example.com/paymentv2/vpcpay.html",
		MerchantCode: "TMN01",
		HashSecret:   "SECRET",
		ReturnURL:    "https://app.example.com/payments/return",
	})
	require.NoError(t, err)
	return g
}

func callbackFields(txnRef, amount, code string) map[string]string {
	return map[string]string{
		"vnp_TmnCode":           "TMN01",
		"vnp_TxnRef":            txnRef,
		"vnp_Amount":            amount,
		"vnp_ResponseCode":      code,
		"vnp_TransactionStatus": code,
		"vnp_TransactionNo":     "14012345",
		"vnp_BankCode":          "NCB",
		"vnp_OrderInfo":         "Payment for split",
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{BaseURL: "https://x"})
	assert.Error(t, err)
}

func TestCreateIntent_SignedURL(t *testing.T) {
	g := newTestGateway(t)

	// GIVEN: An intent for 500,000 VND
	in := gateway.Intent{
		PaymentID:     "pay-1",
		ProviderTxnID: "CL0123456789ABCDEF",
		Amount:        decimal.NewFromInt(500000),
		Currency:      "vnd",
		Description:   "Split s-1",
		ClientIP:      "10.0.0.1",
		CreatedAt:     time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC),
	}

	// WHEN: The intent is created
	resp, err := g.CreateIntent(context.Background(), in)
	require.NoError(t, err)

	// THEN: The URL carries the scaled amount, the reference and a valid signature
	u, err := url.Parse(resp.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "50000000", q.Get("vnp_Amount"))
	assert.Equal(t, "CL0123456789ABCDEF", q.Get("vnp_TxnRef"))
	assert.Equal(t, "VND", q.Get("vnp_CurrCode"))
	assert.Equal(t, "20260301100000", q.Get("vnp_CreateDate"))
	assert.Equal(t, "CL0123456789ABCDEF", resp.ProviderTxnID)
	assert.False(t, resp.Completed)

	fields := map[string]string{}
	for k := range q {
		if k != hashField {
			fields[k] = q.Get(k)
		}
	}
	assert.True(t, gateway.NewSHA512Signer("SECRET").Verify(fields, q.Get(hashField)))

	var raw map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.Raw), &raw))
	assert.Equal(t, resp.RedirectURL, raw["redirect_url"])
}

func TestVerifyCallback_ReturnQuery(t *testing.T) {
	g := newTestGateway(t)

	// GIVEN: A signed successful return callback
	q := g.SignedQuery(callbackFields("CLAAAA", "10000000", "00"))

	// WHEN: It is verified
	v, err := g.VerifyCallback(context.Background(), gateway.Callback{Kind: gateway.CallbackReturn, Query: q})

	// THEN: The amount is unscaled and the payment is successful
	require.NoError(t, err)
	assert.Equal(t, "CLAAAA", v.ProviderTxnID)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(100000)))
	assert.True(t, v.Success)
	assert.Equal(t, "14012345", v.ProviderRef)
}

func TestVerifyCallback_HashTypeIgnored(t *testing.T) {
	g := newTestGateway(t)

	q := g.SignedQuery(callbackFields("CLAAAA", "10000000", "00"))
	q.Set(hashTypeField, "HmacSHA512")

	_, err := g.VerifyCallback(context.Background(), gateway.Callback{Query: q})
	assert.NoError(t, err)
}

func TestVerifyCallback_ProviderFailure(t *testing.T) {
	g := newTestGateway(t)

	// GIVEN: A signed callback reporting a cancelled transaction
	q := g.SignedQuery(callbackFields("CLAAAA", "10000000", "24"))

	v, err := g.VerifyCallback(context.Background(), gateway.Callback{Query: q})

	// THEN: Verification succeeds but the payment is not successful
	require.NoError(t, err)
	assert.False(t, v.Success)
	assert.Contains(t, v.Reason, "24")
}

func TestVerifyCallback_NotifyJSON(t *testing.T) {
	g := newTestGateway(t)

	// GIVEN: A server notification posted as JSON, amount as a number
	fields := callbackFields("CLBBBB", "25000000", "00")
	signature := g.signer.Sign(fields)
	body := map[string]any{}
	for k, v := range fields {
		body[k] = v
	}
	body["vnp_Amount"] = json.Number("25000000")
	body[hashField] = signature
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	// WHEN: It is verified
	v, err := g.VerifyCallback(context.Background(), gateway.Callback{Kind: gateway.CallbackNotify, Body: payload})

	// THEN: It matches the same transaction fields as a return callback
	require.NoError(t, err)
	assert.Equal(t, "CLBBBB", v.ProviderTxnID)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(250000)))
	assert.True(t, v.Success)
}

func TestVerifyCallback_Rejections(t *testing.T) {
	g := newTestGateway(t)

	tests := []struct {
		name   string
		mutate func(q url.Values)
	}{
		{"tampered amount", func(q url.Values) { q.Set("vnp_Amount", "99900000") }},
		{"missing hash", func(q url.Values) { q.Del(hashField) }},
		{"garbage hash", func(q url.Values) { q.Set(hashField, "not-hex") }},
		{"flipped response code", func(q url.Values) { q.Set("vnp_ResponseCode", "00") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := g.SignedQuery(callbackFields("CLAAAA", "10000000", "24"))
			tt.mutate(q)

			_, err := g.VerifyCallback(context.Background(), gateway.Callback{Query: q})

			require.Error(t, err)
			assert.True(t, core.IsTrustViolation(err))
		})
	}
}

func TestVerifyCallback_WrongMerchant(t *testing.T) {
	g := newTestGateway(t)

	fields := callbackFields("CLAAAA", "10000000", "00")
	fields["vnp_TmnCode"] = "OTHER"
	q := g.SignedQuery(fields)

	_, err := g.VerifyCallback(context.Background(), gateway.Callback{Query: q})

	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestVerifyCallback_EmptyQuery(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.VerifyCallback(context.Background(), gateway.Callback{Query: url.Values{}})

	assert.True(t, core.IsTrustViolation(err))
}

func TestAck(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		duplicate bool
		code      string
	}{
		{"success", nil, false, "00"},
		{"duplicate", nil, true, "02"},
		{"not found", core.ErrPaymentNotFound, false, "01"},
		{"amount mismatch", core.ErrAmountMismatch, false, "04"},
		{"terminal", core.ErrPaymentTerminal, false, "02"},
		{"bad signature", &core.SignatureError{Provider: "vnpay", Reason: "x"}, false, "97"},
		{"other", core.ErrConcurrentModification, false, "99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, Ack(tt.err, tt.duplicate).RspCode)
		})
	}
}
