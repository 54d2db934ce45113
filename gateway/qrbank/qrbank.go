/*
Package qrbank implements the QR / bank-transfer gateway.

FLOW:
  1. CreateIntent returns a TransferReference (bank, account, amount, memo)
     and a QR image the payer scans in their banking app. The memo is the
     ProviderTxnID.
  2. The bank-statement provider posts a webhook for every incoming
     transfer on the account.
  3. The webhook is verified, the memo is matched back to a ProviderTxnID
     and the payment is settled. There is no polling.

QR IMAGE:
  When APIURL is configured the QR payload is requested from the generate
  API (bounded by Timeout). Otherwise a deterministic image URL is built:
  https://img.vietqr.io/image/{bank}-{account}-compact2.png?amount=..&addInfo=..

WEBHOOK SIGNATURE:
  X-Signature = hex(HMAC-SHA256(secret, canonical(webhook fields)))
  over id, gateway, transactionDate, accountNumber, code, content,
  transferType, transferAmount and referenceCode, taken as the raw JSON
  text the provider sent. Nothing outside that set is read.

WEBHOOK RESPONSE (contractual):
  {"success": true} or {"success": false}
*/
package qrbank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/gateway"
)

const (
	DefaultProvider = "vietqr"
	SignatureHeader = "X-Signature"
	TransferIn      = "in"
	imageBase       = "https://img.vietqr.io/image"
)

// memoPattern finds a provider transaction id inside free-form transfer
// content. Banks often strip punctuation or prepend their own text.
var memoPattern = regexp.MustCompile(`CL[0-9A-F]{16}`)

// Config holds the receiving account and webhook credentials.
type Config struct {
	Provider      string
	BankID        string
	AccountNo     string
	AccountName   string
	WebhookSecret string
	APIURL        string
	ClientID      string
	APIKey        string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Gateway is the QR bank-transfer adapter.
type Gateway struct {
	cfg    Config
	signer *gateway.Signer
	client *http.Client
}

var _ gateway.Gateway = (*Gateway)(nil)

// New validates cfg and returns the adapter.
func New(cfg Config) (*Gateway, error) {
	if cfg.BankID == "" || cfg.AccountNo == "" || cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("qr gateway: bank id, account number and webhook secret are required")
	}
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gateway{
		cfg:    cfg,
		signer: gateway.NewSHA256Signer(cfg.WebhookSecret),
		client: client,
	}, nil
}

func (g *Gateway) Method() core.PaymentMethod { return core.MethodQRBankTransfer }
func (g *Gateway) Provider() string           { return g.cfg.Provider }

// =============================================================================
// OUTBOUND
// =============================================================================

// CreateIntent builds the transfer reference for the payer.
func (g *Gateway) CreateIntent(ctx context.Context, in gateway.Intent) (*gateway.ProviderResponse, error) {
	ref := &gateway.TransferReference{
		BankID:      g.cfg.BankID,
		AccountNo:   g.cfg.AccountNo,
		AccountName: g.cfg.AccountName,
		Amount:      in.Amount.String(),
		Memo:        in.ProviderTxnID,
	}

	if g.cfg.APIURL != "" {
		data, err := g.generate(ctx, in)
		if err != nil {
			return nil, err
		}
		ref.QRData = data
	} else {
		ref.QRImageURL = g.imageURL(in)
	}

	raw, _ := json.Marshal(ref)
	return &gateway.ProviderResponse{
		ProviderTxnID: in.ProviderTxnID,
		Transfer:      ref,
		Raw:           string(raw),
	}, nil
}

func (g *Gateway) imageURL(in gateway.Intent) string {
	q := url.Values{}
	q.Set("amount", in.Amount.String())
	q.Set("addInfo", in.ProviderTxnID)
	if g.cfg.AccountName != "" {
		q.Set("accountName", g.cfg.AccountName)
	}
	return fmt.Sprintf("%s/%s-%s-compact2.png?%s", imageBase, g.cfg.BankID, g.cfg.AccountNo, q.Encode())
}

type generateRequest struct {
	AccountNo   string `json:"accountNo"`
	AccountName string `json:"accountName"`
	AcqID       string `json:"acqId"`
	Amount      string `json:"amount"`
	AddInfo     string `json:"addInfo"`
	Format      string `json:"format"`
	Template    string `json:"template"`
}

type generateResponse struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
	Data struct {
		QRCode    string `json:"qrCode"`
		QRDataURL string `json:"qrDataURL"`
	} `json:"data"`
}

// generate asks the QR API for the payload. Timeouts and non-2xx answers
// are reported as ErrGatewayUnavailable.
func (g *Gateway) generate(ctx context.Context, in gateway.Intent) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		AccountNo:   g.cfg.AccountNo,
		AccountName: g.cfg.AccountName,
		AcqID:       g.cfg.BankID,
		Amount:      in.Amount.String(),
		AddInfo:     in.ProviderTxnID,
		Format:      "text",
		Template:    "compact2",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.ClientID != "" {
		req.Header.Set("x-client-id", g.cfg.ClientID)
	}
	if g.cfg.APIKey != "" {
		req.Header.Set("x-api-key", g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: qr api returned %d", core.ErrGatewayUnavailable, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: malformed qr api response: %v", core.ErrGatewayUnavailable, err)
	}
	if out.Code != "" && out.Code != "00" {
		return "", fmt.Errorf("%w: qr api code %s: %s", core.ErrGatewayUnavailable, out.Code, out.Desc)
	}
	if out.Data.QRCode == "" {
		return out.Data.QRDataURL, nil
	}
	return out.Data.QRCode, nil
}

// =============================================================================
// INBOUND
// =============================================================================

// Webhook is one transfer notification.
type Webhook struct {
	ID              int64           `json:"id"`
	Gateway         string          `json:"gateway"`
	TransactionDate string          `json:"transactionDate"`
	AccountNumber   string          `json:"accountNumber"`
	Code            *string         `json:"code"`
	Content         string          `json:"content"`
	TransferType    string          `json:"transferType"`
	TransferAmount  decimal.Decimal `json:"transferAmount"`
	Accumulated     decimal.Decimal `json:"accumulated"`
	ReferenceCode   string          `json:"referenceCode"`
	Description     string          `json:"description"`
}

// signedFields is the webhook subset covered by X-Signature.
var signedFields = []string{
	"id", "gateway", "transactionDate", "accountNumber", "code",
	"content", "transferType", "transferAmount", "referenceCode",
}

// Fields returns the signed subset in canonical form input.
func (w Webhook) Fields() map[string]string {
	code := ""
	if w.Code != nil {
		code = *w.Code
	}
	return map[string]string{
		"id":              fmt.Sprint(w.ID),
		"gateway":         w.Gateway,
		"transactionDate": w.TransactionDate,
		"accountNumber":   w.AccountNumber,
		"code":            code,
		"content":         w.Content,
		"transferType":    w.TransferType,
		"transferAmount":  w.TransferAmount.String(),
		"referenceCode":   w.ReferenceCode,
	}
}

// rawFields returns the signed subset exactly as the provider wrote it.
// Strings are unquoted, numbers keep their literal text ("300000.00" stays
// "300000.00"), null and absent keys are empty.
func rawFields(body []byte) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(signedFields))
	for _, k := range signedFields {
		v, ok := raw[k]
		v = bytes.TrimSpace(v)
		if !ok || len(v) == 0 || string(v) == "null" {
			out[k] = ""
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		if v[0] == '{' || v[0] == '[' {
			return nil, fmt.Errorf("field %s is not a scalar", k)
		}
		out[k] = string(v)
	}
	return out, nil
}

// ErrNoReference is returned for a valid webhook whose content does not
// carry a payment reference. Such transfers are acknowledged and ignored.
var ErrNoReference = errors.New("transfer content has no payment reference")

// ErrOutgoing is returned for transfers leaving the account.
var ErrOutgoing = errors.New("outgoing transfer ignored")

// VerifyCallback checks X-Signature over the raw signed fields, then reads
// the payment reference from those same fields only.
func (g *Gateway) VerifyCallback(_ context.Context, cb gateway.Callback) (*gateway.Verification, error) {
	signature := cb.Headers.Get(SignatureHeader)
	if signature == "" {
		return nil, &core.SignatureError{Provider: g.cfg.Provider, Reason: "missing " + SignatureHeader}
	}

	f, err := rawFields(cb.Body)
	if err != nil {
		return nil, &core.SignatureError{Provider: g.cfg.Provider, Reason: "malformed webhook body"}
	}
	if !g.signer.Verify(f, signature) {
		return nil, &core.SignatureError{Provider: g.cfg.Provider, Reason: "signature mismatch"}
	}
	if f["accountNumber"] != "" && f["accountNumber"] != g.cfg.AccountNo {
		return nil, &core.SignatureError{Provider: g.cfg.Provider, Reason: "account mismatch"}
	}

	if !strings.EqualFold(f["transferType"], TransferIn) {
		return nil, ErrOutgoing
	}
	txnID := memoPattern.FindString(strings.ToUpper(f["content"]))
	if txnID == "" {
		txnID = memoPattern.FindString(strings.ToUpper(f["code"]))
	}
	if txnID == "" {
		return nil, ErrNoReference
	}

	amount, err := decimal.NewFromString(f["transferAmount"])
	if err != nil {
		return nil, fmt.Errorf("%w: transfer amount %q", core.ErrValidation, f["transferAmount"])
	}

	return &gateway.Verification{
		ProviderTxnID: txnID,
		Amount:        amount,
		Success:       true,
		ProviderRef:   f["referenceCode"],
		Raw:           string(cb.Body),
	}, nil
}

// Sign returns the X-Signature value for a webhook. Used by tests and
// sandbox tooling.
func (g *Gateway) Sign(w Webhook) string {
	return g.signer.Sign(w.Fields())
}

// SignBody returns the X-Signature value for a webhook body as sent.
func (g *Gateway) SignBody(body []byte) (string, error) {
	f, err := rawFields(body)
	if err != nil {
		return "", err
	}
	return g.signer.Sign(f), nil
}

// WebhookAck is the JSON body the provider expects in reply.
type WebhookAck struct {
	Success bool `json:"success"`
}

// Ack reports success for settled, duplicate and ignorable webhooks so the
// provider stops redelivering. Anything that may succeed on retry is false.
func Ack(err error) WebhookAck {
	if err == nil || errors.Is(err, ErrNoReference) || errors.Is(err, ErrOutgoing) {
		return WebhookAck{Success: true}
	}
	return WebhookAck{Success: false}
}
