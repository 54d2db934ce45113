/*
Package redirect implements the redirect-based card/bank gateway.

FLOW:
  1. CreateIntent builds a signed payment URL; the payer is redirected there
  2. The provider redirects the browser back with query parameters (return)
  3. The provider separately notifies the server (IPN), as a query string
     or a JSON object
  Both callbacks carry the same vnp_* fields and the same signature scheme
  and are verified independently. Settlement happens once, by
  ProviderTxnID, whichever arrives first.

SIGNATURE:
  vnp_SecureHash = hex(HMAC-SHA512(secret, canonical(vnp_* fields)))
  canonical = keys sorted ascending, "k=v" joined with "&", values
  query-escaped, vnp_SecureHash and vnp_SecureHashType excluded.

AMOUNTS:
  vnp_Amount is the amount multiplied by 100, as an integer.

IPN RESPONSE (contractual, bit-exact):
  {"RspCode":"00","Message":"Confirm Success"}
*/
package redirect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/gateway"
)

const (
	DefaultProvider = "vnpay"
	version         = "2.1.0"
	fieldPrefix     = "vnp_"
	hashField       = "vnp_SecureHash"
	hashTypeField   = "vnp_SecureHashType"
	createLayout    = "20060102150405"
	successCode     = "00"
)

var hundred = decimal.NewFromInt(100)

// Config holds merchant credentials.
type Config struct {
	Provider     string
	BaseURL      string
	MerchantCode string
	HashSecret   string
	ReturnURL    string
	Locale       string
	ExpireAfter  time.Duration
	Location     *time.Location // provider timestamps; defaults to UTC+7
}

// Gateway is the redirect adapter.
type Gateway struct {
	cfg    Config
	signer *gateway.Signer
}

var _ gateway.Gateway = (*Gateway)(nil)

// New validates cfg and returns the adapter.
func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" || cfg.MerchantCode == "" || cfg.HashSecret == "" {
		return nil, fmt.Errorf("redirect gateway: base url, merchant code and hash secret are required")
	}
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("ICT", 7*60*60)
	}
	return &Gateway{cfg: cfg, signer: gateway.NewSHA512Signer(cfg.HashSecret)}, nil
}

func (g *Gateway) Method() core.PaymentMethod { return core.MethodRedirectGateway }
func (g *Gateway) Provider() string           { return g.cfg.Provider }

// =============================================================================
// OUTBOUND
// =============================================================================

// CreateIntent signs the payment URL. No network call is made.
func (g *Gateway) CreateIntent(ctx context.Context, in gateway.Intent) (*gateway.ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrGatewayUnavailable, err)
	}

	created := in.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	created = created.In(g.cfg.Location)

	ip := in.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	info := in.Description
	if info == "" {
		info = "Payment " + in.ProviderTxnID
	}

	fields := map[string]string{
		"vnp_Version":    version,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    g.cfg.MerchantCode,
		"vnp_Amount":     in.Amount.Mul(hundred).Round(0).String(),
		"vnp_CurrCode":   strings.ToUpper(in.Currency),
		"vnp_TxnRef":     in.ProviderTxnID,
		"vnp_OrderInfo":  info,
		"vnp_OrderType":  "other",
		"vnp_Locale":     g.cfg.Locale,
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": created.Format(createLayout),
		"vnp_ExpireDate": created.Add(g.cfg.ExpireAfter).Format(createLayout),
	}
	signature := g.signer.Sign(fields)
	redirectURL := g.cfg.BaseURL + "?" + gateway.Canonical(fields) + "&" + hashField + "=" + signature

	raw, _ := json.Marshal(map[string]string{
		"redirect_url": redirectURL,
		"txn_ref":      in.ProviderTxnID,
	})
	return &gateway.ProviderResponse{
		ProviderTxnID: in.ProviderTxnID,
		RedirectURL:   redirectURL,
		Raw:           string(raw),
	}, nil
}

// =============================================================================
// INBOUND
// =============================================================================

// VerifyCallback checks the signature of a return or IPN callback, then
// reads the transaction fields.
func (g *Gateway) VerifyCallback(_ context.Context, cb gateway.Callback) (*gateway.Verification, error) {
	fields, err := extractFields(cb)
	if err != nil {
		return nil, &core.SignatureError{Provider: g.cfg.Provider, Reason: err.Error()}
	}

	signature := fields[hashField]
	delete(fields, hashField)
	delete(fields, hashTypeField)
	if signature == "" {
		return nil, &core.SignatureError{Provider: g.cfg.Provider, Reason: "missing " + hashField}
	}
	if !g.signer.Verify(fields, signature) {
		return nil, &core.SignatureError{Provider: g.cfg.Provider, Reason: "hash mismatch"}
	}
	if fields["vnp_TmnCode"] != g.cfg.MerchantCode {
		return nil, &core.SignatureError{Provider: g.cfg.Provider, Reason: "merchant code mismatch"}
	}

	txnRef := fields["vnp_TxnRef"]
	if txnRef == "" {
		return nil, fmt.Errorf("%w: missing vnp_TxnRef", core.ErrValidation)
	}
	scaled, err := decimal.NewFromString(fields["vnp_Amount"])
	if err != nil {
		return nil, fmt.Errorf("%w: vnp_Amount %q", core.ErrInvalidAmount, fields["vnp_Amount"])
	}

	responseCode := fields["vnp_ResponseCode"]
	txnStatus, hasStatus := fields["vnp_TransactionStatus"]
	success := responseCode == successCode && (!hasStatus || txnStatus == successCode)

	reason := ""
	if !success {
		reason = "response code " + responseCode
		if hasStatus {
			reason += ", transaction status " + txnStatus
		}
	}

	raw, _ := json.Marshal(fields)
	return &gateway.Verification{
		ProviderTxnID: txnRef,
		Amount:        scaled.Div(hundred),
		Success:       success,
		ProviderRef:   fields["vnp_TransactionNo"],
		Reason:        reason,
		Raw:           string(raw),
	}, nil
}

// extractFields reads vnp_* fields from the query string, or from a JSON
// object body for server notifications posted as JSON.
func extractFields(cb gateway.Callback) (map[string]string, error) {
	fields := make(map[string]string)

	body := bytes.TrimSpace(cb.Body)
	if len(body) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("malformed JSON body: %w", err)
		}
		for k, v := range obj {
			if !strings.HasPrefix(k, fieldPrefix) || v == nil {
				continue
			}
			fields[k] = fmt.Sprint(v)
		}
		return fields, nil
	}

	for k, vs := range cb.Query {
		if !strings.HasPrefix(k, fieldPrefix) || len(vs) == 0 {
			continue
		}
		fields[k] = vs[0]
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no %s fields", fieldPrefix)
	}
	return fields, nil
}

// SignedQuery returns fields plus their signature as URL values. Used by
// tests and sandbox tooling to fabricate provider callbacks.
func (g *Gateway) SignedQuery(fields map[string]string) url.Values {
	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	q.Set(hashField, g.signer.Sign(fields))
	return q
}

// =============================================================================
// IPN ACKNOWLEDGEMENT
// =============================================================================

// IPNAck is the JSON body the provider expects in reply to an IPN.
type IPNAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// Ack maps the outcome of processing an IPN onto the provider's codes.
func Ack(err error, duplicate bool) IPNAck {
	switch {
	case err == nil && duplicate:
		return IPNAck{RspCode: "02", Message: "Order already confirmed"}
	case err == nil:
		return IPNAck{RspCode: "00", Message: "Confirm Success"}
	case core.IsTrustViolation(err):
		return IPNAck{RspCode: "97", Message: "Invalid signature"}
	case errors.Is(err, core.ErrPaymentNotFound):
		return IPNAck{RspCode: "01", Message: "Order not found"}
	case errors.Is(err, core.ErrAmountMismatch), errors.Is(err, core.ErrInvalidAmount):
		return IPNAck{RspCode: "04", Message: "Invalid amount"}
	case errors.Is(err, core.ErrPaymentTerminal):
		return IPNAck{RspCode: "02", Message: "Order already confirmed"}
	default:
		return IPNAck{RspCode: "99", Message: "Unknown error"}
	}
}
