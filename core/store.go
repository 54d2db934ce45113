/*
store.go - Persistence interfaces for the cost-sharing ledger

PURPOSE:
  Defines the boundary between component logic and the relational store.
  One Store exposes every table; each component only touches the tables
  it owns and refers to the others by ID.

KEY INTERFACES:
  Store:   All reads and writes, usable directly or inside a transaction
  TxStore: Store plus WithTx for atomic multi-table writes

LOCKING:
  The *ForUpdate reads take a row lock on PostgreSQL. On SQLite every
  transaction is opened IMMEDIATE, so writers are already serialized.
  Callers must only use *ForUpdate inside WithTx.

APPEND-ONLY:
  wallet_transactions and payments have no delete operations. Payments
  change only through TransitionPayment, a check-and-set on status.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite (dev, tests) and PostgreSQL (production)

SEE ALSO:
  - wallet/ledger.go: ApplyDelta uses GetWalletForUpdate
  - payment/reconciler.go: Settle uses TransitionPayment as the idempotency point
*/
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PER-TABLE INTERFACES
// =============================================================================

// CostStore persists Cost rows.
type CostStore interface {
	InsertCost(ctx context.Context, c Cost) error
	GetCost(ctx context.Context, id CostID) (*Cost, error)
	UpdateCostDetails(ctx context.Context, id CostID, description, category string, at time.Time) error
	ListCostsByGroup(ctx context.Context, groupID GroupID) ([]Cost, error)

	// ListUninvoicedCosts returns costs of the group whose cost_date falls in
	// the period and are not invoiced. A non-empty ids restricts the result.
	ListUninvoicedCosts(ctx context.Context, groupID GroupID, period Period, ids []CostID) ([]Cost, error)

	// MarkCostsInvoiced flips invoiced=true only on rows still false and
	// returns how many rows changed.
	MarkCostsInvoiced(ctx context.Context, ids []CostID, at time.Time) (int64, error)
}

// SplitStore persists CostSplit rows.
type SplitStore interface {
	InsertSplits(ctx context.Context, splits []CostSplit) error
	GetSplit(ctx context.Context, id SplitID) (*CostSplit, error)
	GetSplitForUpdate(ctx context.Context, id SplitID) (*CostSplit, error)
	UpdateSplit(ctx context.Context, s CostSplit) error
	ListSplitsByCost(ctx context.Context, costID CostID) ([]CostSplit, error)
	ListSplitsByCosts(ctx context.Context, costIDs []CostID) ([]CostSplit, error)
	ListSplitsByOwner(ctx context.Context, ownerID UserID, status SplitStatus) ([]CostSplit, error)
	ListSplitsByGroup(ctx context.Context, groupID GroupID) ([]CostSplit, error)

	// ListOpenSplitsDueBefore returns pending or partial splits with due_date < t.
	ListOpenSplitsDueBefore(ctx context.Context, t time.Time) ([]CostSplit, error)
}

// WalletStore persists Wallet and WalletTransaction rows.
type WalletStore interface {
	// EnsureWallet inserts a zero-balance wallet unless one exists for
	// (ownerType, ownerID, currency), then returns the stored row.
	EnsureWallet(ctx context.Context, w Wallet) (*Wallet, error)
	GetWallet(ctx context.Context, id WalletID) (*Wallet, error)
	GetWalletForUpdate(ctx context.Context, id WalletID) (*Wallet, error)
	FindWallet(ctx context.Context, ownerType OwnerType, ownerID, currency string) (*Wallet, error)
	UpdateWalletBalance(ctx context.Context, id WalletID, balance decimal.Decimal, at time.Time) error
	InsertWalletTransaction(ctx context.Context, tx WalletTransaction) error
	ListWalletTransactions(ctx context.Context, id WalletID, limit, offset int) ([]WalletTransaction, error)
}

// PaymentUpdate carries the columns written alongside a status transition.
type PaymentUpdate struct {
	ProviderResponse *string
	FailureReason    string
	CompletedAt      *time.Time
	At               time.Time
}

// PaymentStore persists Payment rows.
type PaymentStore interface {
	InsertPayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	GetPaymentByProviderTxnID(ctx context.Context, providerTxnID string) (*Payment, error)
	ListPaymentsBySplit(ctx context.Context, splitID SplitID) ([]Payment, error)
	ListPaymentsByStatus(ctx context.Context, statuses []PaymentStatus, createdBefore time.Time) ([]Payment, error)

	// TransitionPayment sets status=to only if the current status is one of
	// from. Returns false when no row matched.
	TransitionPayment(ctx context.Context, id PaymentID, from []PaymentStatus, to PaymentStatus, u PaymentUpdate) (bool, error)
}

// InvoiceStore persists Invoice and InvoiceItem rows.
type InvoiceStore interface {
	InsertInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	ListInvoicesByGroup(ctx context.Context, groupID GroupID) ([]Invoice, error)
	ListInvoicesDueBefore(ctx context.Context, status InvoiceStatus, t time.Time) ([]Invoice, error)
	TransitionInvoice(ctx context.Context, id InvoiceID, from []InvoiceStatus, to InvoiceStatus, paidAt *time.Time, at time.Time) (bool, error)
}

// MembershipStore persists the owner set of each group.
type MembershipStore interface {
	ReplaceGroupOwners(ctx context.Context, groupID GroupID, owners []Owner) error
	ListGroupOwners(ctx context.Context, groupID GroupID) ([]Owner, error)
}

// NotificationStore persists delivered notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, recipient UserID, limit int) ([]Notification, error)
}

// =============================================================================
// STORE - Everything, usable inside or outside a transaction
// =============================================================================

type Store interface {
	CostStore
	SplitStore
	WalletStore
	PaymentStore
	InvoiceStore
	MembershipStore
	NotificationStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
