/*
reconciler.go - Payment state machine

PURPOSE:
  Creates payments, routes them to the right gateway, and settles them
  exactly once. The only component that writes Payment rows, and the only
  caller of ObligationLedger.ApplyPaymentTx.

STATES:
  pending -> processing -> completed
                        -> failed
  pending -> completed            (internal wallet, inline)
  pending -> failed               (adapter error, expiry)
  Terminal states never change.

INITIATE:
  1. Validate amount, split, payer ownership and remaining balance
  2. Insert Payment(pending)
  3a. Internal wallet: one transaction runs the wallet debit, the
      completed transition and ApplyPaymentTx
  3b. External: call the gateway outside any transaction, bounded by the
      gateway timeout, then pending -> processing
  Any adapter error marks the Payment failed. Split and wallet untouched.

SETTLE (idempotency point):
  1. Look up by ProviderTxnID
  2. completed -> return it unchanged (duplicate delivery)
  3. In one transaction: CAS {pending,processing} -> completed, then
     ApplyPaymentTx. A lost CAS is a duplicate that raced us.

CALLBACKS:
  Gateway.VerifyCallback -> Settle, retried with backoff only for
  transient errors. Signature failures are counted, logged and returned.

SEE ALSO:
  - gateway/gateway.go: Adapter contract
  - obligation/ledger.go: ApplyPaymentTx
  - api/callbacks.go: Provider response envelopes
*/
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/gateway"
	"github.com/warp/costledger/metrics"
	"github.com/warp/costledger/notify"
	"github.com/warp/costledger/obligation"
)

const (
	DefaultGatewayTimeout = 10 * time.Second
	DefaultTTL            = 30 * time.Minute
	DefaultSettleRetries  = 3
)

// ErrExpired is the failure reason of payments swept by ExpireStale.
var ErrExpired = errors.New("payment expired before confirmation")

// Reconciler drives payments from initiation to settlement.
type Reconciler struct {
	store       core.TxStore
	obligations *obligation.Ledger
	gateways    map[core.PaymentMethod]gateway.Gateway
	publisher   notify.Publisher
	timeout     time.Duration
	ttl         time.Duration
	retries     uint
	retryDelay  time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithPublisher(p notify.Publisher) Option        { return func(r *Reconciler) { r.publisher = p } }
func WithGatewayTimeout(d time.Duration) Option      { return func(r *Reconciler) { r.timeout = d } }
func WithPaymentTTL(d time.Duration) Option          { return func(r *Reconciler) { r.ttl = d } }
func WithClock(now func() time.Time) Option          { return func(r *Reconciler) { r.now = now } }
func WithLogger(lg *slog.Logger) Option              { return func(r *Reconciler) { r.logger = lg } }
func WithGateway(g gateway.Gateway) Option           { return func(r *Reconciler) { r.gateways[g.Method()] = g } }
func WithSettleRetry(n uint, d time.Duration) Option { return func(r *Reconciler) { r.retries, r.retryDelay = n, d } }

// NewReconciler creates a reconciler. Register gateways with WithGateway.
func NewReconciler(store core.TxStore, obligations *obligation.Ledger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		obligations: obligations,
		gateways:    make(map[core.PaymentMethod]gateway.Gateway),
		publisher:   notify.Nop{},
		timeout:     DefaultGatewayTimeout,
		ttl:         DefaultTTL,
		retries:     DefaultSettleRetries,
		retryDelay:  100 * time.Millisecond,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Methods lists the payment methods with a registered gateway.
func (r *Reconciler) Methods() []core.PaymentMethod {
	out := make([]core.PaymentMethod, 0, len(r.gateways))
	for _, m := range []core.PaymentMethod{core.MethodInternalWallet, core.MethodRedirectGateway, core.MethodQRBankTransfer} {
		if _, ok := r.gateways[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// INITIATE
// =============================================================================

// InitiateRequest asks to pay (part of) a split.
type InitiateRequest struct {
	SplitID     core.SplitID
	PayerID     core.UserID
	Amount      decimal.Decimal
	Method      core.PaymentMethod
	Description string
	ClientIP    string
}

// InitiateResult is the created payment and what the payer needs next.
type InitiateResult struct {
	Payment     core.Payment
	Split       *core.CostSplit // set when the payment completed inline
	RedirectURL string
	Transfer    *gateway.TransferReference
}

// Initiate creates a payment and hands it to the method's gateway.
// On adapter failure the payment is left failed and the error returned.
func (r *Reconciler) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	gw, ok := r.gateways[req.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidMethod, req.Method)
	}

	s, err := r.store.GetSplit(ctx, req.SplitID)
	if err != nil {
		return nil, err
	}
	if err := core.ValidateAmount(req.Amount, s.Currency); err != nil {
		return nil, err
	}
	if s.OwnerID != req.PayerID {
		return nil, fmt.Errorf("%w: %s does not own split %s", core.ErrNotSplitOwner, req.PayerID, s.ID)
	}
	if remaining := s.Remaining(); req.Amount.GreaterThan(remaining) {
		return nil, &core.PaymentAmountExceededError{SplitID: s.ID, Remaining: remaining, Requested: req.Amount}
	}

	now := r.now()
	p := core.Payment{
		ID:            core.PaymentID(core.NewID()),
		SplitID:       s.ID,
		PayerID:       req.PayerID,
		Amount:        req.Amount,
		Currency:      s.Currency,
		Method:        req.Method,
		Provider:      gw.Provider(),
		Status:        core.PaymentPending,
		ProviderTxnID: core.NewProviderTxnID(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.InsertPayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	metrics.PaymentsInitiated.WithLabelValues(string(p.Method)).Inc()

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Split %s", s.ID)
	}
	intent := gateway.Intent{
		PaymentID:     p.ID,
		ProviderTxnID: p.ProviderTxnID,
		SplitID:       s.ID,
		PayerID:       p.PayerID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Description:   description,
		ClientIP:      req.ClientIP,
		CreatedAt:     now,
	}

	if inline, ok := gw.(gateway.InlineGateway); ok {
		return r.initiateInline(ctx, inline, p, intent)
	}
	return r.initiateExternal(ctx, gw, p, intent)
}

func (r *Reconciler) initiateInline(ctx context.Context, gw gateway.InlineGateway, p core.Payment, in gateway.Intent) (*InitiateResult, error) {
	var resp *gateway.ProviderResponse
	var updated *core.CostSplit
	now := r.now()

	err := r.store.WithTx(ctx, func(tx core.Store) error {
		var err error
		resp, err = gw.CreateIntentTx(ctx, tx, in)
		if err != nil {
			return err
		}
		ok, err := tx.TransitionPayment(ctx, p.ID, []core.PaymentStatus{core.PaymentPending}, core.PaymentCompleted, core.PaymentUpdate{
			ProviderResponse: &resp.Raw,
			CompletedAt:      &now,
			At:               now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: payment %s left pending", core.ErrConcurrentModification, p.ID)
		}
		updated, err = r.obligations.ApplyPaymentTx(ctx, tx, p.SplitID, p.Amount)
		return err
	})
	if err != nil {
		r.fail(ctx, p, err)
		return nil, err
	}

	p.Status = core.PaymentCompleted
	p.ProviderResponse = resp.Raw
	p.CompletedAt = &now
	p.UpdatedAt = now
	r.completed(ctx, p, updated)

	return &InitiateResult{Payment: p, Split: updated}, nil
}

func (r *Reconciler) initiateExternal(ctx context.Context, gw gateway.Gateway, p core.Payment, in gateway.Intent) (*InitiateResult, error) {
	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	resp, err := gw.CreateIntent(gctx, in)
	timedOut := errors.Is(gctx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut && !errors.Is(err, core.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", core.ErrGatewayUnavailable, err)
		}
		r.fail(ctx, p, err)
		return nil, err
	}

	now := r.now()
	ok, err := r.store.TransitionPayment(ctx, p.ID, []core.PaymentStatus{core.PaymentPending}, core.PaymentProcessing, core.PaymentUpdate{
		ProviderResponse: &resp.Raw,
		At:               now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record gateway response: %w", err)
	}
	if ok {
		p.Status = core.PaymentProcessing
		p.ProviderResponse = resp.Raw
		p.UpdatedAt = now
	} else {
		// A callback settled it before we got here.
		cur, err := r.store.GetPayment(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p = *cur
	}

	return &InitiateResult{
		Payment:     p,
		RedirectURL: resp.RedirectURL,
		Transfer:    resp.Transfer,
	}, nil
}

// =============================================================================
// SETTLE
// =============================================================================

// SettleOutcome is the result of a settlement attempt.
type SettleOutcome struct {
	Payment   core.Payment
	Split     *core.CostSplit
	Duplicate bool
}

// Settle confirms a payment by provider transaction id. Settling an
// already completed payment is a no-op returning Duplicate=true.
func (r *Reconciler) Settle(ctx context.Context, providerTxnID string, amount decimal.Decimal) (*SettleOutcome, error) {
	return r.settle(ctx, providerTxnID, amount, nil)
}

func (r *Reconciler) settle(ctx context.Context, providerTxnID string, amount decimal.Decimal, raw *string) (*SettleOutcome, error) {
	start := time.Now()
	defer func() { metrics.SettleDuration.Observe(time.Since(start).Seconds()) }()

	p, err := r.store.GetPaymentByProviderTxnID(ctx, providerTxnID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case core.PaymentCompleted:
		metrics.SettleDuplicates.Inc()
		r.logger.Info("duplicate settlement ignored", "payment_id", p.ID, "provider_txn_id", providerTxnID)
		return &SettleOutcome{Payment: *p, Duplicate: true}, nil
	case core.PaymentFailed:
		r.logger.Warn("settlement for failed payment rejected",
			"payment_id", p.ID, "provider_txn_id", providerTxnID, "failure_reason", p.FailureReason)
		return nil, fmt.Errorf("%w: payment %s is failed", core.ErrPaymentTerminal, p.ID)
	}
	if !amount.Equal(p.Amount) {
		return nil, fmt.Errorf("%w: confirmed %s, expected %s", core.ErrAmountMismatch, amount, p.Amount)
	}

	now := r.now()
	var updated *core.CostSplit
	duplicate := false
	err = r.store.WithTx(ctx, func(tx core.Store) error {
		ok, err := tx.TransitionPayment(ctx, p.ID,
			[]core.PaymentStatus{core.PaymentPending, core.PaymentProcessing}, core.PaymentCompleted,
			core.PaymentUpdate{ProviderResponse: raw, CompletedAt: &now, At: now})
		if err != nil {
			return err
		}
		if !ok {
			cur, err := tx.GetPayment(ctx, p.ID)
			if err != nil {
				return err
			}
			if cur.Status == core.PaymentCompleted {
				duplicate = true
				*p = *cur
				return nil
			}
			return fmt.Errorf("%w: payment %s is %s", core.ErrPaymentTerminal, p.ID, cur.Status)
		}
		updated, err = r.obligations.ApplyPaymentTx(ctx, tx, p.SplitID, amount)
		return err
	})
	if err != nil {
		var over *core.OverpaymentError
		if errors.As(err, &over) {
			// Funds were received for a split that no longer needs them.
			r.logger.Error("confirmed payment exceeds split, manual refund required",
				"payment_id", p.ID, "split_id", p.SplitID, "amount", amount, "error", err)
			r.fail(ctx, *p, err)
		}
		return nil, err
	}

	if duplicate {
		metrics.SettleDuplicates.Inc()
		return &SettleOutcome{Payment: *p, Duplicate: true}, nil
	}

	p.Status = core.PaymentCompleted
	p.CompletedAt = &now
	p.UpdatedAt = now
	if raw != nil {
		p.ProviderResponse = *raw
	}
	r.completed(ctx, *p, updated)

	return &SettleOutcome{Payment: *p, Split: updated}, nil
}

// =============================================================================
// CALLBACKS
// =============================================================================

// HandleCallback verifies a provider callback and settles or fails the
// payment it names. Transient settle errors are retried with backoff.
func (r *Reconciler) HandleCallback(ctx context.Context, method core.PaymentMethod, cb gateway.Callback) (*SettleOutcome, error) {
	gw, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidMethod, method)
	}

	v, err := gw.VerifyCallback(ctx, cb)
	if err != nil {
		if core.IsTrustViolation(err) {
			metrics.CallbacksRejected.WithLabelValues(gw.Provider(), "signature").Inc()
			r.logger.Warn("callback rejected", "provider", gw.Provider(), "kind", cb.Kind, "error", err)
		}
		return nil, err
	}

	if !v.Success {
		return r.providerDeclined(ctx, v)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryDelay
	return backoff.Retry(ctx, func() (*SettleOutcome, error) {
		out, err := r.settle(ctx, v.ProviderTxnID, v.Amount, &v.Raw)
		if err != nil && !core.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			r.logger.Warn("settlement retry", "provider_txn_id", v.ProviderTxnID, "error", err)
		}
		return out, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.retries))
}

// providerDeclined fails a payment the provider reported as unsuccessful.
func (r *Reconciler) providerDeclined(ctx context.Context, v *gateway.Verification) (*SettleOutcome, error) {
	p, err := r.store.GetPaymentByProviderTxnID(ctx, v.ProviderTxnID)
	if err != nil {
		return nil, err
	}
	if p.Status == core.PaymentCompleted {
		r.logger.Warn("decline for completed payment ignored", "payment_id", p.ID, "reason", v.Reason)
		return &SettleOutcome{Payment: *p, Duplicate: true}, nil
	}
	if p.Status == core.PaymentFailed {
		return &SettleOutcome{Payment: *p, Duplicate: true}, nil
	}
	failed := r.fail(ctx, *p, fmt.Errorf("provider declined: %s", v.Reason))
	return &SettleOutcome{Payment: failed}, nil
}

// =============================================================================
// FAILURE AND EXPIRY
// =============================================================================

// fail moves a non-terminal payment to failed. It runs even when ctx is
// already cancelled so a timed-out initiate never stays pending.
func (r *Reconciler) fail(ctx context.Context, p core.Payment, cause error) core.Payment {
	ctx = context.WithoutCancel(ctx)
	now := r.now()
	reason := cause.Error()

	ok, err := r.store.TransitionPayment(ctx, p.ID,
		[]core.PaymentStatus{core.PaymentPending, core.PaymentProcessing}, core.PaymentFailed,
		core.PaymentUpdate{FailureReason: reason, At: now})
	if err != nil {
		r.logger.Error("failed to mark payment failed", "payment_id", p.ID, "cause", cause, "error", err)
		return p
	}
	if !ok {
		return p
	}

	p.Status = core.PaymentFailed
	p.FailureReason = reason
	p.UpdatedAt = now
	metrics.PaymentsFailed.WithLabelValues(string(p.Method), failureLabel(cause)).Inc()
	r.logger.Warn("payment failed", "payment_id", p.ID, "method", p.Method, "reason", reason)

	r.publisher.Publish(ctx, notify.Event{
		Type:       notify.EventPaymentFailed,
		Recipients: []core.UserID{p.PayerID},
		EntityType: "payment",
		EntityID:   string(p.ID),
		Message:    fmt.Sprintf("Payment of %s %s failed: %s", p.Amount, p.Currency, reason),
		Data:       map[string]string{"split_id": string(p.SplitID), "method": string(p.Method)},
	})
	return p
}

func (r *Reconciler) completed(ctx context.Context, p core.Payment, s *core.CostSplit) {
	metrics.PaymentsSettled.WithLabelValues(string(p.Method)).Inc()
	r.logger.Info("payment completed", "payment_id", p.ID, "split_id", p.SplitID, "method", p.Method, "amount", p.Amount)

	data := map[string]string{"split_id": string(p.SplitID), "method": string(p.Method)}
	if s != nil {
		data["split_status"] = string(s.Status)
	}
	r.publisher.Publish(ctx, notify.Event{
		Type:       notify.EventPaymentCompleted,
		Recipients: []core.UserID{p.PayerID},
		EntityType: "payment",
		EntityID:   string(p.ID),
		Message:    fmt.Sprintf("Payment of %s %s completed", p.Amount, p.Currency),
		Data:       data,
	})
}

func failureLabel(err error) string {
	var insufficient *core.InsufficientBalanceError
	var over *core.OverpaymentError
	switch {
	case errors.As(err, &insufficient):
		return "insufficient_balance"
	case errors.As(err, &over):
		return "overpayment"
	case errors.Is(err, core.ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, core.ErrConcurrentModification):
		return "conflict"
	default:
		return "declined"
	}
}

// ExpireStale fails pending and processing payments older than the TTL.
func (r *Reconciler) ExpireStale(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.ttl)
	stale, err := r.store.ListPaymentsByStatus(ctx,
		[]core.PaymentStatus{core.PaymentPending, core.PaymentProcessing}, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range stale {
		if out := r.fail(ctx, p, ErrExpired); out.Status == core.PaymentFailed {
			expired++
		}
	}
	if expired > 0 {
		metrics.SweepUpdates.WithLabelValues("payment_expired").Add(float64(expired))
		r.logger.Info("stale payments expired", "count", expired)
	}
	return expired, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns a payment by id.
func (r *Reconciler) Get(ctx context.Context, id core.PaymentID) (*core.Payment, error) {
	return r.store.GetPayment(ctx, id)
}

// ListBySplit returns every payment attempt for a split, oldest first.
func (r *Reconciler) ListBySplit(ctx context.Context, splitID core.SplitID) ([]core.Payment, error) {
	if _, err := r.store.GetSplit(ctx, splitID); err != nil {
		return nil, err
	}
	return r.store.ListPaymentsBySplit(ctx, splitID)
}
