/*
Package gateway defines the contract every payment provider adapter meets.

PURPOSE:
  Translate a payment intent into a provider-specific request, and verify
  provider callbacks independently (signature first, fields second). The
  adapters hold no ledger state; settlement lives in payment.Reconciler.

ADAPTERS:
  gateway/internalwallet  wallet-to-wallet, completes inline, no callbacks
  gateway/redirect        signed redirect URL, return-URL + IPN callbacks
  gateway/qrbank          bank transfer reference/QR, signed webhook

CALLBACK PIPELINE:
  raw request -> Callback -> Gateway.VerifyCallback -> Verification
              -> payment.Reconciler settles or fails by ProviderTxnID
  A Verification is only returned for a callback whose signature matched.

SEE ALSO:
  - signer.go: HMAC over canonically sorted fields
  - payment/reconciler.go: verify-then-settle template
*/
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
)

// Intent is what the reconciler asks a gateway to collect.
type Intent struct {
	PaymentID     core.PaymentID
	ProviderTxnID string
	SplitID       core.SplitID
	PayerID       core.UserID
	Amount        decimal.Decimal
	Currency      string
	Description   string
	ClientIP      string
	CreatedAt     time.Time
}

// TransferReference is what a payer needs to make a bank transfer.
type TransferReference struct {
	BankID      string `json:"bank_id"`
	AccountNo   string `json:"account_no"`
	AccountName string `json:"account_name"`
	Amount      string `json:"amount"`
	Memo        string `json:"memo"`
	QRImageURL  string `json:"qr_image_url,omitempty"`
	QRData      string `json:"qr_data,omitempty"`
}

// ProviderResponse is the adapter's answer to CreateIntent.
type ProviderResponse struct {
	ProviderTxnID string
	RedirectURL   string
	Transfer      *TransferReference
	Completed     bool   // internal wallet only
	Raw           string // JSON, stored on the payment
}

// CallbackKind distinguishes the payload shapes a provider may send.
type CallbackKind string

const (
	CallbackReturn  CallbackKind = "return"  // browser redirect, query parameters
	CallbackNotify  CallbackKind = "notify"  // server-to-server notification
	CallbackWebhook CallbackKind = "webhook" // bank webhook, JSON body
)

// Callback is an inbound, not yet trusted, provider request.
type Callback struct {
	Kind    CallbackKind
	Query   url.Values
	Body    []byte
	Headers http.Header
}

// Verification is a callback whose signature checked out.
type Verification struct {
	ProviderTxnID string
	Amount        decimal.Decimal
	Success       bool
	ProviderRef   string // provider's own transaction number
	Reason        string // provider status code or message when not successful
	Raw           string
}

// Gateway is implemented by each adapter.
type Gateway interface {
	Method() core.PaymentMethod
	Provider() string
	CreateIntent(ctx context.Context, in Intent) (*ProviderResponse, error)
	VerifyCallback(ctx context.Context, cb Callback) (*Verification, error)
}

// InlineGateway completes inside the reconciler's settle transaction
// instead of waiting for a callback.
type InlineGateway interface {
	Gateway
	CreateIntentTx(ctx context.Context, tx core.Store, in Intent) (*ProviderResponse, error)
}
