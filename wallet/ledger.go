/*
ledger.go - Wallet balances and their audit trail

PURPOSE:
  The only component allowed to change a wallet balance. Every change is
  a (balance write, wallet_transactions insert) pair in one transaction.

APPLY DELTA (all inside one transaction):
  1. Lock and read the wallet row
  2. newBalance = balance + delta
  3. newBalance < 0  -> InsufficientBalanceError, nothing written
  4. Write newBalance
  5. Insert one WalletTransaction carrying delta and newBalance

WALLET CREATION:
  GetOrCreateWallet is an insert-on-conflict-do-nothing on
  (owner_type, owner_id, currency) followed by a read, so concurrent
  first access returns the same wallet.

SEE ALSO:
  - gateway/internalwallet: Debits the payer through ApplyDeltaTx
  - store/sqlstore/wallets.go: EnsureWallet, GetWalletForUpdate
*/
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/metrics"
)

// Ledger is the wallet ledger.
type Ledger struct {
	store  core.TxStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }
func WithLogger(lg *slog.Logger) Option     { return func(l *Ledger) { l.logger = lg } }

// NewLedger creates a wallet ledger.
func NewLedger(store core.TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TxMeta describes why a balance changed.
type TxMeta struct {
	Type          core.WalletTxType
	ReferenceType string
	ReferenceID   string
	Description   string
}

// =============================================================================
// WALLETS
// =============================================================================

// GetOrCreateWallet returns the owner's wallet in currency, creating it with
// a zero balance on first access.
func (l *Ledger) GetOrCreateWallet(ctx context.Context, ownerType core.OwnerType, ownerID, currency string) (*core.Wallet, error) {
	return l.GetOrCreateWalletTx(ctx, l.store, ownerType, ownerID, currency)
}

// GetOrCreateWalletTx is GetOrCreateWallet on the caller's store or transaction.
func (l *Ledger) GetOrCreateWalletTx(ctx context.Context, st core.Store, ownerType core.OwnerType, ownerID, currency string) (*core.Wallet, error) {
	if ownerType != core.OwnerUser && ownerType != core.OwnerGroup {
		return nil, fmt.Errorf("%w: unknown owner type %q", core.ErrValidation, ownerType)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", core.ErrValidation)
	}
	now := l.now()
	return st.EnsureWallet(ctx, core.Wallet{
		ID:        core.WalletID(core.NewID()),
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Balance:   decimal.Zero,
		Currency:  core.NormalizeCurrency(currency),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Get returns a wallet by id.
func (l *Ledger) Get(ctx context.Context, id core.WalletID) (*core.Wallet, error) {
	return l.store.GetWallet(ctx, id)
}

// History returns a wallet's transactions, newest first.
func (l *Ledger) History(ctx context.Context, id core.WalletID, limit, offset int) ([]core.WalletTransaction, error) {
	if _, err := l.store.GetWallet(ctx, id); err != nil {
		return nil, err
	}
	return l.store.ListWalletTransactions(ctx, id, limit, offset)
}

// =============================================================================
// APPLY DELTA
// =============================================================================

// ApplyDelta changes a wallet balance by a signed amount in its own transaction.
func (l *Ledger) ApplyDelta(ctx context.Context, id core.WalletID, delta decimal.Decimal, meta TxMeta) (*core.WalletTransaction, error) {
	var out *core.WalletTransaction
	err := l.store.WithTx(ctx, func(tx core.Store) error {
		wtx, err := l.ApplyDeltaTx(ctx, tx, id, delta, meta)
		out = wtx
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyDeltaTx changes a wallet balance inside the caller's transaction.
// The caller must roll back on error.
func (l *Ledger) ApplyDeltaTx(ctx context.Context, tx core.Store, id core.WalletID, delta decimal.Decimal, meta TxMeta) (*core.WalletTransaction, error) {
	if err := validateDelta(delta, meta.Type); err != nil {
		return nil, err
	}

	w, err := tx.GetWalletForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !delta.Equal(core.RoundMoney(delta, w.Currency)) {
		return nil, fmt.Errorf("%w: %s is not representable in %s", core.ErrInvalidAmount, delta, w.Currency)
	}

	newBalance := w.Balance.Add(delta)
	if newBalance.IsNegative() {
		metrics.WalletRejections.WithLabelValues("insufficient_balance").Inc()
		return nil, &core.InsufficientBalanceError{
			WalletID:  w.ID,
			Available: w.Balance,
			Requested: delta.Neg(),
		}
	}

	now := l.now()
	if err := tx.UpdateWalletBalance(ctx, w.ID, newBalance, now); err != nil {
		return nil, err
	}

	record := core.WalletTransaction{
		ID:            core.NewID(),
		WalletID:      w.ID,
		Type:          meta.Type,
		Amount:        delta,
		BalanceAfter:  newBalance,
		ReferenceType: meta.ReferenceType,
		ReferenceID:   meta.ReferenceID,
		Description:   meta.Description,
		CreatedAt:     now,
	}
	if err := tx.InsertWalletTransaction(ctx, record); err != nil {
		return nil, err
	}
	return &record, nil
}

// validateDelta checks the sign against the transaction type.
func validateDelta(delta decimal.Decimal, t core.WalletTxType) error {
	if delta.IsZero() {
		return fmt.Errorf("%w: zero delta", core.ErrInvalidAmount)
	}
	switch t {
	case core.WalletDeposit, core.WalletRefund:
		if delta.IsNegative() {
			return fmt.Errorf("%w: %s must be positive", core.ErrInvalidAmount, t)
		}
	case core.WalletWithdraw, core.WalletExpense:
		if delta.IsPositive() {
			return fmt.Errorf("%w: %s must be negative", core.ErrInvalidAmount, t)
		}
	default:
		return fmt.Errorf("%w: unknown wallet transaction type %q", core.ErrValidation, t)
	}
	return nil
}

// =============================================================================
// CONVENIENCE OPERATIONS
// =============================================================================

// Deposit credits amount to a wallet.
func (l *Ledger) Deposit(ctx context.Context, id core.WalletID, amount decimal.Decimal, description string) (*core.WalletTransaction, error) {
	return l.ApplyDelta(ctx, id, amount, TxMeta{Type: core.WalletDeposit, Description: description})
}

// Withdraw debits amount from a wallet.
func (l *Ledger) Withdraw(ctx context.Context, id core.WalletID, amount decimal.Decimal, description string) (*core.WalletTransaction, error) {
	return l.ApplyDelta(ctx, id, amount.Neg(), TxMeta{Type: core.WalletWithdraw, Description: description})
}

// Transfer moves amount between two wallets of the same currency in one
// transaction. Wallets are locked in id order.
func (l *Ledger) Transfer(ctx context.Context, from, to core.WalletID, amount decimal.Decimal, description string) (debit, credit *core.WalletTransaction, err error) {
	if from == to {
		return nil, nil, fmt.Errorf("%w: cannot transfer to the same wallet", core.ErrValidation)
	}
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: transfer must be positive", core.ErrInvalidAmount)
	}

	ref := core.NewID()
	err = l.store.WithTx(ctx, func(tx core.Store) error {
		first, second := from, to
		if second < first {
			first, second = second, first
		}
		a, err := tx.GetWalletForUpdate(ctx, first)
		if err != nil {
			return err
		}
		b, err := tx.GetWalletForUpdate(ctx, second)
		if err != nil {
			return err
		}
		if a.Currency != b.Currency {
			return fmt.Errorf("%w: %s vs %s", core.ErrCurrencyMismatch, a.Currency, b.Currency)
		}

		debit, err = l.ApplyDeltaTx(ctx, tx, from, amount.Neg(), TxMeta{
			Type: core.WalletWithdraw, ReferenceType: "transfer", ReferenceID: ref, Description: description,
		})
		if err != nil {
			return err
		}
		credit, err = l.ApplyDeltaTx(ctx, tx, to, amount, TxMeta{
			Type: core.WalletDeposit, ReferenceType: "transfer", ReferenceID: ref, Description: description,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}
