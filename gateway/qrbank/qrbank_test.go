package qrbank_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/gateway"
	"github.com/warp/costledger/gateway/qrbank"
)

const txnID = "CL0123456789ABCDEF"

func newGateway(t *testing.T, cfg qrbank.Config) *qrbank.Gateway {
	t.Helper()
	if cfg.BankID == "" {
		cfg.BankID = "970436"
	}
	if cfg.AccountNo == "" {
		cfg.AccountNo = "0011001234567"
	}
	if cfg.AccountName == "" {
		cfg.AccountName = "ASSET GROUP"
	}
	cfg.WebhookSecret = "whsec"
	g, err := qrbank.New(cfg)
	require.NoError(t, err)
	return g
}

func intent() gateway.Intent {
	return gateway.Intent{
		PaymentID:     "pay-1",
		ProviderTxnID: txnID,
		Amount:        decimal.NewFromInt(300000),
		Currency:      "VND",
	}
}

func webhook(content string) qrbank.Webhook {
	return qrbank.Webhook{
		ID:              92704,
		Gateway:         "Vietcombank",
		TransactionDate: "2026-03-01 10:15:00",
		AccountNumber:   "0011001234567",
		Content:         content,
		TransferType:    "in",
		TransferAmount:  decimal.NewFromInt(300000),
		ReferenceCode:   "MBVCB.3278907687",
	}
}

func signedCallback(t *testing.T, g *qrbank.Gateway, w qrbank.Webhook) gateway.Callback {
	t.Helper()
	body, err := json.Marshal(w)
	require.NoError(t, err)
	h := http.Header{}
	h.Set(qrbank.SignatureHeader, g.Sign(w))
	return gateway.Callback{Kind: gateway.CallbackWebhook, Body: body, Headers: h}
}

// =============================================================================
// CREATE INTENT
// =============================================================================

func TestCreateIntent_ImageURL(t *testing.T) {
	g := newGateway(t, qrbank.Config{})

	resp, err := g.CreateIntent(context.Background(), intent())
	require.NoError(t, err)

	require.NotNil(t, resp.Transfer)
	assert.Equal(t, "970436", resp.Transfer.BankID)
	assert.Equal(t, "0011001234567", resp.Transfer.AccountNo)
	assert.Equal(t, "300000", resp.Transfer.Amount)
	assert.Equal(t, txnID, resp.Transfer.Memo)
	assert.True(t, strings.HasPrefix(resp.Transfer.QRImageURL, "https://img.vietqr.io/image/970436-0011001234567-compact2.png?"))

	u, err := url.Parse(resp.Transfer.QRImageURL)
	require.NoError(t, err)
	assert.Equal(t, txnID, u.Query().Get("addInfo"))
	assert.Equal(t, "300000", u.Query().Get("amount"))
}

func TestCreateIntent_GenerateAPI(t *testing.T) {
	// GIVEN: A QR generate API
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client", r.Header.Get("x-client-id"))
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"00","desc":"ok","data":{"qrCode":"000201010212"}}`))
	}))
	defer srv.Close()

	g := newGateway(t, qrbank.Config{APIURL: srv.URL, ClientID: "client", APIKey: "key"})

	// WHEN: An intent is created
	resp, err := g.CreateIntent(context.Background(), intent())

	// THEN: The QR payload comes from the API and the memo is the txn id
	require.NoError(t, err)
	assert.Equal(t, "000201010212", resp.Transfer.QRData)
	assert.Empty(t, resp.Transfer.QRImageURL)
	assert.Equal(t, txnID, got["addInfo"])
}

func TestCreateIntent_GenerateAPITimeout(t *testing.T) {
	// GIVEN: An API slower than the configured timeout
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	g := newGateway(t, qrbank.Config{APIURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := g.CreateIntent(context.Background(), intent())

	assert.ErrorIs(t, err, core.ErrGatewayUnavailable)
}

func TestCreateIntent_GenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := newGateway(t, qrbank.Config{APIURL: srv.URL})

	_, err := g.CreateIntent(context.Background(), intent())

	assert.ErrorIs(t, err, core.ErrGatewayUnavailable)
}

// =============================================================================
// WEBHOOK
// =============================================================================

func TestVerifyCallback_Valid(t *testing.T) {
	g := newGateway(t, qrbank.Config{})

	// GIVEN: A signed webhook whose content embeds the reference
	cb := signedCallback(t, g, webhook("IBFT "+txnID+" chuyen tien"))

	// WHEN: It is verified
	v, err := g.VerifyCallback(context.Background(), cb)

	// THEN: The reference and amount are extracted
	require.NoError(t, err)
	assert.Equal(t, txnID, v.ProviderTxnID)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(300000)))
	assert.True(t, v.Success)
	assert.Equal(t, "MBVCB.3278907687", v.ProviderRef)
}

func TestVerifyCallback_LowercaseMemo(t *testing.T) {
	g := newGateway(t, qrbank.Config{})

	v, err := g.VerifyCallback(context.Background(), signedCallback(t, g, webhook(strings.ToLower(txnID))))

	require.NoError(t, err)
	assert.Equal(t, txnID, v.ProviderTxnID)
}

func TestVerifyCallback_TamperedAmount(t *testing.T) {
	g := newGateway(t, qrbank.Config{})

	// GIVEN: A webhook signed for 300,000 whose body now claims 3,000,000
	w := webhook(txnID)
	cb := signedCallback(t, g, w)
	w.TransferAmount = decimal.NewFromInt(3000000)
	body, err := json.Marshal(w)
	require.NoError(t, err)
	cb.Body = body

	_, err = g.VerifyCallback(context.Background(), cb)

	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestVerifyCallback_InjectedCodeRejected(t *testing.T) {
	g := newGateway(t, qrbank.Config{})

	// GIVEN: A genuine webhook with no reference, and a code added after signing
	cb := signedCallback(t, g, webhook("salary top up"))
	var obj map[string]any
	require.NoError(t, json.Unmarshal(cb.Body, &obj))
	obj["code"] = txnID
	body, err := json.Marshal(obj)
	require.NoError(t, err)
	cb.Body = body

	// WHEN: It is verified
	v, err := g.VerifyCallback(context.Background(), cb)

	// THEN: The signature no longer matches
	assert.Nil(t, v)
	var sigErr *core.SignatureError
	assert.ErrorAs(t, err, &sigErr)
	assert.False(t, qrbank.Ack(err).Success)
}

func TestVerifyCallback_SignedCodeCarriesReference(t *testing.T) {
	g := newGateway(t, qrbank.Config{})
	w := webhook("salary top up")
	code := txnID
	w.Code = &code

	v, err := g.VerifyCallback(context.Background(), signedCallback(t, g, w))

	require.NoError(t, err)
	assert.Equal(t, txnID, v.ProviderTxnID)
}

func TestVerifyCallback_SignsAmountAsSent(t *testing.T) {
	g := newGateway(t, qrbank.Config{})

	// GIVEN: A provider that writes the amount as a number with trailing zeros
	body := []byte(`{"id":92704,"gateway":"Vietcombank","transactionDate":"2026-03-01 10:15:00",` +
		`"accountNumber":"0011001234567","code":null,"content":"IBFT ` + txnID + `",` +
		`"transferType":"in","transferAmount":300000.00,"accumulated":1200000,` +
		`"referenceCode":"MBVCB.3278907687","description":"BankAPINotify"}`)
	signature, err := g.SignBody(body)
	require.NoError(t, err)
	h := http.Header{}
	h.Set(qrbank.SignatureHeader, signature)

	// WHEN: It is verified
	v, err := g.VerifyCallback(context.Background(), gateway.Callback{Kind: gateway.CallbackWebhook, Body: body, Headers: h})

	// THEN: The literal text was signed and the amount still compares equal
	require.NoError(t, err)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(300000)))

	// AND: A signature over the normalised amount does not verify
	h.Set(qrbank.SignatureHeader, g.Sign(webhook("IBFT "+txnID)))
	_, err = g.VerifyCallback(context.Background(), gateway.Callback{Kind: gateway.CallbackWebhook, Body: body, Headers: h})
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestVerifyCallback_MissingSignature(t *testing.T) {
	g := newGateway(t, qrbank.Config{})
	cb := signedCallback(t, g, webhook(txnID))
	cb.Headers.Del(qrbank.SignatureHeader)

	_, err := g.VerifyCallback(context.Background(), cb)

	assert.True(t, core.IsTrustViolation(err))
}

func TestVerifyCallback_OutgoingIgnored(t *testing.T) {
	g := newGateway(t, qrbank.Config{})
	w := webhook(txnID)
	w.TransferType = "out"

	_, err := g.VerifyCallback(context.Background(), signedCallback(t, g, w))

	assert.ErrorIs(t, err, qrbank.ErrOutgoing)
	assert.True(t, qrbank.Ack(err).Success)
}

func TestVerifyCallback_NoReference(t *testing.T) {
	g := newGateway(t, qrbank.Config{})

	_, err := g.VerifyCallback(context.Background(), signedCallback(t, g, webhook("rent march")))

	assert.ErrorIs(t, err, qrbank.ErrNoReference)
}

func TestAck(t *testing.T) {
	assert.True(t, qrbank.Ack(nil).Success)
	assert.False(t, qrbank.Ack(core.ErrConcurrentModification).Success)
	assert.False(t, qrbank.Ack(&core.SignatureError{Provider: "vietqr", Reason: "x"}).Success)

	body, err := json.Marshal(qrbank.Ack(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(body))
}
