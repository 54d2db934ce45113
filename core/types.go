/*
Package core provides the shared vocabulary of the cost-sharing ledger.

PURPOSE:
  Entity types, identifiers, status enums and money helpers used by every
  component (split, obligation, wallet, payment, invoice). Nothing in this
  package talks to a database or the network.

KEY CONCEPTS IN THIS FILE (types.go):
  - Cost / CostSplit: a shared expense and one owner's obligation for it
  - Wallet / WalletTransaction: balance-holding account and its audit trail
  - Payment: one attempt to settle a CostSplit
  - Invoice / InvoiceItem: a periodic bundle of a group's costs

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal, never a float
  2. Type Safety: distinct ID types so a SplitID cannot be passed as a CostID
  3. Auditability: WalletTransaction and Payment rows are never deleted

SEE ALSO:
  - money.go: Currency scale and rounding
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupID string
type UserID string
type CostID string
type SplitID string
type WalletID string
type PaymentID string
type InvoiceID string

// =============================================================================
// COST - A shared expense
// =============================================================================

// SplitStrategy selects how a cost is divided among owners.
type SplitStrategy string

const (
	StrategyOwnershipRatio SplitStrategy = "ownership_ratio"
	StrategyEqual          SplitStrategy = "equal"
	StrategyUsageBased     SplitStrategy = "usage_based"
	StrategyCustom         SplitStrategy = "custom"
)

// Valid reports whether s is one of the supported strategies.
func (s SplitStrategy) Valid() bool {
	switch s {
	case StrategyOwnershipRatio, StrategyEqual, StrategyUsageBased, StrategyCustom:
		return true
	}
	return false
}

// Cost is a shared expense on an asset owned by a group.
// Total, Strategy and CostDate are fixed once splits exist; only
// Description and Category may be corrected, and only while not invoiced.
type Cost struct {
	ID          CostID
	GroupID     GroupID
	AssetID     string
	Category    string
	Description string
	Total       decimal.Decimal
	Currency    string
	Strategy    SplitStrategy
	CostDate    time.Time
	Invoiced    bool
	CreatedBy   UserID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// COST SPLIT - One owner's obligation
// =============================================================================

type SplitStatus string

const (
	SplitPending SplitStatus = "pending"
	SplitPartial SplitStatus = "partial"
	SplitPaid    SplitStatus = "paid"
	SplitOverdue SplitStatus = "overdue"
)

// CostSplit is one row per owner per Cost.
// Invariant: PaidAmount <= Amount.
type CostSplit struct {
	ID         SplitID
	CostID     CostID
	OwnerID    UserID
	Amount     decimal.Decimal
	PaidAmount decimal.Decimal
	Currency   string
	Status     SplitStatus
	DueDate    time.Time
	PaidAt     *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Remaining returns the unpaid part of the split.
func (s CostSplit) Remaining() decimal.Decimal {
	return s.Amount.Sub(s.PaidAmount)
}

// Owner is a member of a group together with their ownership share.
type Owner struct {
	UserID     UserID
	Percentage decimal.Decimal
}

// =============================================================================
// WALLET
// =============================================================================

type OwnerType string

const (
	OwnerUser  OwnerType = "user"
	OwnerGroup OwnerType = "group"
)

// Wallet holds a non-negative balance in a single currency.
type Wallet struct {
	ID        WalletID
	OwnerType OwnerType
	OwnerID   string
	Balance   decimal.Decimal
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WalletTxType string

const (
	WalletDeposit  WalletTxType = "deposit"
	WalletWithdraw WalletTxType = "withdraw"
	WalletExpense  WalletTxType = "expense"
	WalletRefund   WalletTxType = "refund"
)

// Credits reports whether the transaction type adds to the balance.
func (t WalletTxType) Credits() bool {
	return t == WalletDeposit || t == WalletRefund
}

// WalletTransaction is the append-only audit record of one balance change.
// Amount is signed: credits are positive, debits negative.
type WalletTransaction struct {
	ID            string
	WalletID      WalletID
	Type          WalletTxType
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal
	ReferenceType string // "cost", "payment", "transfer" or empty
	ReferenceID   string
	Description   string
	CreatedAt     time.Time
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentMethod string

const (
	MethodInternalWallet  PaymentMethod = "internal_wallet"
	MethodRedirectGateway PaymentMethod = "redirect_gateway"
	MethodQRBankTransfer  PaymentMethod = "qr_bank_transfer"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodInternalWallet, MethodRedirectGateway, MethodQRBankTransfer:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// CanTransitionTo enforces pending -> processing -> {completed | failed}.
// pending may jump straight to a terminal state.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentProcessing || next == PaymentCompleted || next == PaymentFailed
	case PaymentProcessing:
		return next == PaymentCompleted || next == PaymentFailed
	}
	return false
}

// Payment is one attempt to settle a CostSplit.
type Payment struct {
	ID               PaymentID
	SplitID          SplitID
	PayerID          UserID
	Amount           decimal.Decimal
	Currency         string
	Method           PaymentMethod
	Provider         string
	Status           PaymentStatus
	ProviderTxnID    string
	ProviderResponse string // raw provider payload, JSON
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	InvoiceUnpaid    InvoiceStatus = "unpaid"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Invoice bundles a group's costs for a billing period.
type Invoice struct {
	ID          InvoiceID
	Number      string
	GroupID     GroupID
	PeriodStart time.Time
	PeriodEnd   time.Time
	Total       decimal.Decimal
	Currency    string
	Status      InvoiceStatus
	DueDate     time.Time
	PaidAt      *time.Time
	CreatedBy   UserID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Items       []InvoiceItem
}

// InvoiceItem references exactly one Cost.
type InvoiceItem struct {
	ID          string
	InvoiceID   InvoiceID
	CostID      CostID
	Description string
	Amount      decimal.Decimal
}

// =============================================================================
// NOTIFICATION
// =============================================================================

// Notification is a persisted copy of a published event for one recipient.
type Notification struct {
	ID          string
	RecipientID UserID
	Event       string
	Message     string
	EntityType  string
	EntityID    string
	CreatedAt   time.Time
	ReadAt      *time.Time
}
