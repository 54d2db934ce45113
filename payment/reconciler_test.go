package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/gateway"
	"github.com/warp/costledger/gateway/internalwallet"
	"github.com/warp/costledger/gateway/qrbank"
	"github.com/warp/costledger/gateway/redirect"
	"github.com/warp/costledger/membership"
	"github.com/warp/costledger/notify"
	"github.com/warp/costledger/obligation"
	"github.com/warp/costledger/payment"
	"github.com/warp/costledger/split"
	"github.com/warp/costledger/store/sqlstore"
	"github.com/warp/costledger/wallet"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(t notify.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// slowGateway never answers before the context expires.
type slowGateway struct{}

func (slowGateway) Method() core.PaymentMethod { return core.MethodRedirectGateway }
func (slowGateway) Provider() string           { return "slow" }
func (slowGateway) CreateIntent(ctx context.Context, _ gateway.Intent) (*gateway.ProviderResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (slowGateway) VerifyCallback(context.Context, gateway.Callback) (*gateway.Verification, error) {
	return nil, core.ErrCallbackUnsupported
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store       *sqlstore.Store
	obligations *obligation.Ledger
	wallets     *wallet.Ledger
	redirect    *redirect.Gateway
	qr          *qrbank.Gateway
	reconciler  *payment.Reconciler
	events      *recorder
	clock       *clock
	cost        *obligation.CostWithSplits
}

func newFixture(t *testing.T, extra ...payment.Option) *fixture {
	t.Helper()
	return newFixtureAt(t, ":memory:", extra...)
}

func newFixtureAt(t *testing.T, dsn string, extra ...payment.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlstore.New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	directory := membership.NewStatic().Set("g1",
		core.Owner{UserID: "alice", Percentage: dec("40")},
		core.Owner{UserID: "bob", Percentage: dec("30")},
		core.Owner{UserID: "carol", Percentage: dec("30")},
	)
	obligations := obligation.NewLedger(store, split.NewCalculator(), directory)
	wallets := wallet.NewLedger(store)

	rg, err := redirect.New(redirect.Config{
		BaseURL:      "https://sandbox.example.com/pay",
		MerchantCode: "TMN01",
		HashSecret:   "SECRET",
		ReturnURL:    "https://app.example.com/return",
	})
	require.NoError(t, err)
	qg, err := qrbank.New(qrbank.Config{
		BankID:        "970436",
		AccountNo:     "0011001234567",
		AccountName:   "ASSET GROUP",
		WebhookSecret: "whsec",
	})
	require.NoError(t, err)

	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	events := &recorder{}
	opts := []payment.Option{
		payment.WithGateway(internalwallet.New(wallets, store)),
		payment.WithGateway(rg),
		payment.WithGateway(qg),
		payment.WithPublisher(events),
		payment.WithSettleRetry(3, time.Millisecond),
		payment.WithClock(clk.Now),
	}
	rec := payment.NewReconciler(store, obligations, append(opts, extra...)...)

	// GIVEN: A 1,000,000 VND cost split 40/30/30
	cost, err := obligations.CreateCostWithSplits(ctx, obligation.CreateCostInput{
		GroupID:  "g1",
		Category: "maintenance",
		Total:    dec("1000000"),
		Currency: "VND",
		Strategy: core.StrategyOwnershipRatio,
		CostDate: time.Now(),
	})
	require.NoError(t, err)

	return &fixture{
		store: store, obligations: obligations, wallets: wallets,
		redirect: rg, qr: qg, reconciler: rec, events: events, clock: clk, cost: cost,
	}
}

func (f *fixture) split(t *testing.T, owner core.UserID) core.CostSplit {
	t.Helper()
	for _, s := range f.cost.Splits {
		if s.OwnerID == owner {
			cur, err := f.store.GetSplit(context.Background(), s.ID)
			require.NoError(t, err)
			return *cur
		}
	}
	t.Fatalf("no split for %s", owner)
	return core.CostSplit{}
}

func (f *fixture) fundWallet(t *testing.T, owner core.UserID, amount string) *core.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := f.wallets.GetOrCreateWallet(ctx, core.OwnerUser, string(owner), "VND")
	require.NoError(t, err)
	_, err = f.wallets.Deposit(ctx, w.ID, dec(amount), "top up")
	require.NoError(t, err)
	return w
}

func (f *fixture) qrWebhook(t *testing.T, txnID, amount string) gateway.Callback {
	t.Helper()
	w := qrbank.Webhook{
		ID:              1001,
		Gateway:         "Vietcombank",
		TransactionDate: "2026-03-01 10:15:00",
		AccountNumber:   "0011001234567",
		Content:         "TT " + txnID,
		TransferType:    "in",
		TransferAmount:  dec(amount),
		ReferenceCode:   "FT2606012345",
	}
	body, err := json.Marshal(w)
	require.NoError(t, err)
	h := http.Header{}
	h.Set(qrbank.SignatureHeader, f.qr.Sign(w))
	return gateway.Callback{Kind: gateway.CallbackWebhook, Body: body, Headers: h}
}

func (f *fixture) redirectCallback(txnID, scaledAmount, code string) gateway.Callback {
	q := f.redirect.SignedQuery(map[string]string{
		"vnp_TmnCode":           "TMN01",
		"vnp_TxnRef":            txnID,
		"vnp_Amount":            scaledAmount,
		"vnp_ResponseCode":      code,
		"vnp_TransactionStatus": code,
		"vnp_TransactionNo":     "14012345",
	})
	return gateway.Callback{Kind: gateway.CallbackReturn, Query: q}
}

// =============================================================================
// INTERNAL WALLET
// =============================================================================

func TestInitiate_InternalWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN: Alice owes 400,000 and has 500,000 in her wallet
	w := f.fundWallet(t, "alice", "500000")
	s := f.split(t, "alice")
	require.True(t, s.Amount.Equal(dec("400000")))

	// WHEN: She pays the split from her wallet
	res, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "alice", Amount: dec("400000"), Method: core.MethodInternalWallet,
	})
	require.NoError(t, err)

	// THEN: The payment completes inline, the wallet is debited and the split is paid
	assert.Equal(t, core.PaymentCompleted, res.Payment.Status)
	require.NotNil(t, res.Split)
	assert.Equal(t, core.SplitPaid, res.Split.Status)

	got, err := f.wallets.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("100000")), "balance %s", got.Balance)

	history, err := f.wallets.History(ctx, w.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	var expense *core.WalletTransaction
	for i := range history {
		if history[i].Type == core.WalletExpense {
			expense = &history[i]
		}
	}
	require.NotNil(t, expense)
	assert.True(t, expense.Amount.Equal(dec("-400000")))
	assert.Equal(t, string(res.Payment.ID), expense.ReferenceID)

	stored := f.split(t, "alice")
	assert.True(t, stored.PaidAmount.Equal(dec("400000")))
	assert.Equal(t, core.SplitPaid, stored.Status)
	assert.NotNil(t, stored.PaidAt)
	assert.Equal(t, 1, f.events.count(notify.EventPaymentCompleted))
}

func TestInitiate_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN: Alice has only 100,000
	w := f.fundWallet(t, "alice", "100000")
	s := f.split(t, "alice")

	// WHEN: She tries to pay 400,000 from her wallet
	_, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "alice", Amount: dec("400000"), Method: core.MethodInternalWallet,
	})

	// THEN: The payment fails and nothing else changes
	var insufficient *core.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(dec("100000")))

	got, err := f.wallets.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("100000")))

	assert.True(t, f.split(t, "alice").PaidAmount.IsZero())

	payments, err := f.reconciler.ListBySplit(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, core.PaymentFailed, payments[0].Status)
	assert.NotEmpty(t, payments[0].FailureReason)
	assert.Equal(t, 1, f.events.count(notify.EventPaymentFailed))
}

func TestInitiate_PartialThenRemainder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fundWallet(t, "bob", "300000")
	s := f.split(t, "bob")

	res, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "bob", Amount: dec("100000"), Method: core.MethodInternalWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, core.SplitPartial, res.Split.Status)

	res, err = f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "bob", Amount: dec("200000"), Method: core.MethodInternalWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, core.SplitPaid, res.Split.Status)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestInitiate_AmountExceedsRemaining(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.split(t, "bob")

	// WHEN: Bob tries to pay more than his 300,000 split
	_, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "bob", Amount: dec("300001"), Method: core.MethodQRBankTransfer,
	})

	// THEN: Rejected before any payment is created
	var exceeded *core.PaymentAmountExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.True(t, exceeded.Remaining.Equal(dec("300000")))

	payments, err := f.reconciler.ListBySplit(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestInitiate_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.split(t, "bob")

	tests := []struct {
		name string
		req  payment.InitiateRequest
		want error
	}{
		{"not the owner", payment.InitiateRequest{SplitID: s.ID, PayerID: "alice", Amount: dec("1000"), Method: core.MethodQRBankTransfer}, core.ErrNotSplitOwner},
		{"zero amount", payment.InitiateRequest{SplitID: s.ID, PayerID: "bob", Amount: dec("0"), Method: core.MethodQRBankTransfer}, core.ErrInvalidAmount},
		{"fractional VND", payment.InitiateRequest{SplitID: s.ID, PayerID: "bob", Amount: dec("10.5"), Method: core.MethodQRBankTransfer}, core.ErrInvalidAmount},
		{"unknown method", payment.InitiateRequest{SplitID: s.ID, PayerID: "bob", Amount: dec("1000"), Method: "cash"}, core.ErrInvalidMethod},
		{"unknown split", payment.InitiateRequest{SplitID: "nope", PayerID: "bob", Amount: dec("1000"), Method: core.MethodQRBankTransfer}, core.ErrSplitNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reconciler.Initiate(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	payments, err := f.reconciler.ListBySplit(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

// =============================================================================
// EXTERNAL GATEWAYS
// =============================================================================

func TestQR_DuplicateWebhook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.split(t, "bob")

	// GIVEN: A QR payment awaiting the bank transfer
	res, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "bob", Amount: dec("300000"), Method: core.MethodQRBankTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, core.PaymentProcessing, res.Payment.Status)
	require.NotNil(t, res.Transfer)
	assert.Equal(t, res.Payment.ProviderTxnID, res.Transfer.Memo)

	cb := f.qrWebhook(t, res.Payment.ProviderTxnID, "300000")

	// WHEN: The webhook is delivered twice
	first, err := f.reconciler.HandleCallback(ctx, core.MethodQRBankTransfer, cb)
	require.NoError(t, err)
	second, err := f.reconciler.HandleCallback(ctx, core.MethodQRBankTransfer, cb)
	require.NoError(t, err)

	// THEN: Only the first settles, paid_amount is unchanged by the second
	assert.False(t, first.Duplicate)
	assert.Equal(t, core.PaymentCompleted, first.Payment.Status)
	assert.True(t, second.Duplicate)

	stored := f.split(t, "bob")
	assert.True(t, stored.PaidAmount.Equal(dec("300000")))
	assert.Equal(t, core.SplitPaid, stored.Status)
	assert.Equal(t, 1, f.events.count(notify.EventPaymentCompleted))

	p, err := f.reconciler.Get(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Contains(t, p.ProviderResponse, "FT2606012345")
}

func TestQR_TamperedWebhook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.split(t, "bob")

	res, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "bob", Amount: dec("300000"), Method: core.MethodQRBankTransfer,
	})
	require.NoError(t, err)

	// GIVEN: A webhook whose txn id was swapped after signing
	cb := f.qrWebhook(t, "CL0000000000000000", "300000")
	cb.Body = []byte(string(cb.Body[:len(cb.Body)-1]) + `,"content":"TT ` + res.Payment.ProviderTxnID + `"}`)

	// WHEN: It is delivered
	_, err = f.reconciler.HandleCallback(ctx, core.MethodQRBankTransfer, cb)

	// THEN: It is rejected and nothing settles
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
	assert.True(t, f.split(t, "bob").PaidAmount.IsZero())

	p, err := f.reconciler.Get(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentProcessing, p.Status)
}

func TestQR_UnsignedCodeDoesNotSettle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.split(t, "bob")

	res, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "bob", Amount: dec("300000"), Method: core.MethodQRBankTransfer,
	})
	require.NoError(t, err)

	// GIVEN: A genuine webhook for an unrelated transfer, with the pending
	// payment's reference added as code after signing
	w := qrbank.Webhook{
		ID:             1002,
		AccountNumber:  "0011001234567",
		Content:        "salary top up",
		TransferType:   "in",
		TransferAmount: dec("300000"),
	}
	body, err := json.Marshal(w)
	require.NoError(t, err)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(body, &obj))
	obj["code"] = res.Payment.ProviderTxnID
	body, err = json.Marshal(obj)
	require.NoError(t, err)
	h := http.Header{}
	h.Set(qrbank.SignatureHeader, f.qr.Sign(w))
	cb := gateway.Callback{Kind: gateway.CallbackWebhook, Body: body, Headers: h}

	// WHEN: It is delivered
	_, err = f.reconciler.HandleCallback(ctx, core.MethodQRBankTransfer, cb)

	// THEN: It is a trust violation and nothing settles
	assert.True(t, core.IsTrustViolation(err))
	assert.True(t, f.split(t, "bob").PaidAmount.IsZero())
}

func TestRedirect_ReturnAndIPNSettleOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.split(t, "carol")

	res, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "carol", Amount: dec("300000"), Method: core.MethodRedirectGateway, ClientIP: "10.1.1.1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RedirectURL)

	// WHEN: Both the browser return and the IPN arrive
	ret, err := f.reconciler.HandleCallback(ctx, core.MethodRedirectGateway, f.redirectCallback(res.Payment.ProviderTxnID, "30000000", "00"))
	require.NoError(t, err)

	ipn := f.redirectCallback(res.Payment.ProviderTxnID, "30000000", "00")
	ipn.Kind = gateway.CallbackNotify
	again, err := f.reconciler.HandleCallback(ctx, core.MethodRedirectGateway, ipn)
	require.NoError(t, err)

	// THEN: The split is settled exactly once
	assert.False(t, ret.Duplicate)
	assert.True(t, again.Duplicate)
	assert.True(t, f.split(t, "carol").PaidAmount.Equal(dec("300000")))
	assert.Equal(t, "02", redirect.Ack(nil, again.Duplicate).RspCode)
}

func TestRedirect_ProviderDeclined(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.split(t, "carol")

	res, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "carol", Amount: dec("300000"), Method: core.MethodRedirectGateway,
	})
	require.NoError(t, err)

	// WHEN: The provider reports a cancelled transaction
	out, err := f.reconciler.HandleCallback(ctx, core.MethodRedirectGateway, f.redirectCallback(res.Payment.ProviderTxnID, "30000000", "24"))
	require.NoError(t, err)

	// THEN: The payment fails, and a late success is refused
	assert.Equal(t, core.PaymentFailed, out.Payment.Status)

	_, err = f.reconciler.Settle(ctx, res.Payment.ProviderTxnID, dec("300000"))
	assert.ErrorIs(t, err, core.ErrPaymentTerminal)
	assert.True(t, f.split(t, "carol").PaidAmount.IsZero())
}

func TestSettle_AmountMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.split(t, "bob")

	res, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "bob", Amount: dec("300000"), Method: core.MethodQRBankTransfer,
	})
	require.NoError(t, err)

	_, err = f.reconciler.Settle(ctx, res.Payment.ProviderTxnID, dec("299000"))

	assert.ErrorIs(t, err, core.ErrAmountMismatch)
	p, err := f.reconciler.Get(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentProcessing, p.Status)
	assert.True(t, f.split(t, "bob").PaidAmount.IsZero())
}

func TestSettle_UnknownTxn(t *testing.T) {
	f := newFixture(t)

	_, err := f.reconciler.Settle(context.Background(), "CLFFFFFFFFFFFFFFFF", dec("1"))

	assert.ErrorIs(t, err, core.ErrPaymentNotFound)
}

func TestSettle_Concurrent(t *testing.T) {
	dsns := map[string]string{
		"memory": ":memory:",
		"file":   filepath.Join(t.TempDir(), "payments.db"),
	}
	for name, dsn := range dsns {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixtureAt(t, dsn)
			s := f.split(t, "bob")

			res, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
				SplitID: s.ID, PayerID: "bob", Amount: dec("300000"), Method: core.MethodQRBankTransfer,
			})
			require.NoError(t, err)

			// WHEN: The same confirmation is settled from several goroutines
			const workers = 16
			var wg sync.WaitGroup
			var mu sync.Mutex
			settled, duplicates := 0, 0
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					out, err := f.reconciler.Settle(ctx, res.Payment.ProviderTxnID, dec("300000"))
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					if out.Duplicate {
						duplicates++
					} else {
						settled++
					}
				}()
			}
			wg.Wait()

			// THEN: Exactly one settlement took effect
			assert.Equal(t, 1, settled)
			assert.Equal(t, workers-1, duplicates)
			assert.True(t, f.split(t, "bob").PaidAmount.Equal(dec("300000")))
		})
	}
}

func TestSettle_SplitAlreadyPaidElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fundWallet(t, "bob", "300000")
	s := f.split(t, "bob")

	// GIVEN: A QR payment in flight while the split is paid from the wallet
	qr, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "bob", Amount: dec("300000"), Method: core.MethodQRBankTransfer,
	})
	require.NoError(t, err)
	_, err = f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "bob", Amount: dec("300000"), Method: core.MethodInternalWallet,
	})
	require.NoError(t, err)

	// WHEN: The bank transfer confirms
	_, err = f.reconciler.Settle(ctx, qr.Payment.ProviderTxnID, dec("300000"))

	// THEN: Overpayment is rejected, not clamped
	assert.ErrorIs(t, err, core.ErrOverpaymentRejected)
	assert.True(t, f.split(t, "bob").PaidAmount.Equal(dec("300000")))

	p, err := f.reconciler.Get(ctx, qr.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentFailed, p.Status)
}

func TestInitiate_GatewayTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.WithGateway(slowGateway{}), payment.WithGatewayTimeout(20*time.Millisecond))
	s := f.split(t, "carol")

	// WHEN: The gateway does not answer in time
	_, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "carol", Amount: dec("300000"), Method: core.MethodRedirectGateway,
	})

	// THEN: The payment is failed and retryable by the caller
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrGatewayUnavailable))

	payments, err := f.reconciler.ListBySplit(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, core.PaymentFailed, payments[0].Status)
	assert.True(t, f.split(t, "carol").PaidAmount.IsZero())
}

func TestHandleCallback_UnsupportedMethod(t *testing.T) {
	f := newFixture(t)

	_, err := f.reconciler.HandleCallback(context.Background(), core.MethodInternalWallet, gateway.Callback{})

	assert.ErrorIs(t, err, core.ErrCallbackUnsupported)
}

// =============================================================================
// EXPIRY
// =============================================================================

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.WithPaymentTTL(30*time.Minute))
	s := f.split(t, "bob")

	res, err := f.reconciler.Initiate(ctx, payment.InitiateRequest{
		SplitID: s.ID, PayerID: "bob", Amount: dec("300000"), Method: core.MethodQRBankTransfer,
	})
	require.NoError(t, err)

	// GIVEN: Nothing is stale yet
	n, err := f.reconciler.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// WHEN: The TTL passes
	f.clock.Advance(31 * time.Minute)
	n, err = f.reconciler.ExpireStale(ctx)
	require.NoError(t, err)

	// THEN: The payment is failed as expired
	assert.Equal(t, 1, n)
	p, err := f.reconciler.Get(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentFailed, p.Status)
	assert.Contains(t, p.FailureReason, "expired")
}
