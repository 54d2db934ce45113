/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's entities from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts are decimal strings ("1000000", "33.34"); numbers are accepted
  on input. Calendar dates are "YYYY-MM-DD"; timestamps are RFC 3339.

VALIDATION:
  Validation is done in handlers and components, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - core/types.go: Entities these types are built from
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/gateway"
	"github.com/warp/costledger/invoice"
	"github.com/warp/costledger/obligation"
)

const dateLayout = "2006-01-02"

// =============================================================================
// COSTS AND SPLITS
// =============================================================================

// ShareRequest is one owner's amount for a custom split.
type ShareRequest struct {
	OwnerID string          `json:"owner_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreateCostRequest is the body of POST /api/costs.
type CreateCostRequest struct {
	GroupID     string          `json:"group_id"`
	AssetID     string          `json:"asset_id"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	Strategy    string          `json:"strategy"`
	CostDate    string          `json:"cost_date"`
	Shares      []ShareRequest  `json:"shares,omitempty"`
}

// UpdateCostRequest is the body of PATCH /api/costs/{id}.
type UpdateCostRequest struct {
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

// CostDTO represents a cost in API responses.
type CostDTO struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"group_id"`
	AssetID     string          `json:"asset_id,omitempty"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	Strategy    string          `json:"strategy"`
	CostDate    string          `json:"cost_date"`
	Invoiced    bool            `json:"invoiced"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SplitDTO represents one owner's obligation.
type SplitDTO struct {
	ID         string          `json:"id"`
	CostID     string          `json:"cost_id"`
	OwnerID    string          `json:"owner_id"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Remaining  decimal.Decimal `json:"remaining"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	DueDate    string          `json:"due_date"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
}

// CostWithSplitsDTO is a cost and all of its splits.
type CostWithSplitsDTO struct {
	Cost           CostDTO    `json:"cost"`
	Splits         []SplitDTO `json:"splits"`
	Degraded       bool       `json:"degraded,omitempty"`
	DegradedReason string     `json:"degraded_reason,omitempty"`
}

// OwnerSummaryDTO is one owner's line in a group summary.
type OwnerSummaryDTO struct {
	OwnerID     string          `json:"owner_id"`
	Total       decimal.Decimal `json:"total"`
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Overdue     decimal.Decimal `json:"overdue"`
	Splits      int             `json:"splits"`
}

// GroupSummaryDTO aggregates a group's obligations.
type GroupSummaryDTO struct {
	GroupID     string            `json:"group_id"`
	Costs       int               `json:"costs"`
	Total       decimal.Decimal   `json:"total"`
	Paid        decimal.Decimal   `json:"paid"`
	Outstanding decimal.Decimal   `json:"outstanding"`
	Overdue     decimal.Decimal   `json:"overdue"`
	Owners      []OwnerSummaryDTO `json:"owners"`
}

// OwnerDTO is a member of a group with their ownership percentage.
type OwnerDTO struct {
	UserID     string          `json:"user_id"`
	Percentage decimal.Decimal `json:"percentage"`
}

// SetOwnersRequest is the body of PUT /api/groups/{id}/owners.
type SetOwnersRequest struct {
	Owners []OwnerDTO `json:"owners"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// InitiatePaymentRequest is the body of POST /api/payments.
type InitiatePaymentRequest struct {
	SplitID     string          `json:"split_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Description string          `json:"description"`
}

// PaymentDTO represents a payment attempt.
type PaymentDTO struct {
	ID            string          `json:"id"`
	SplitID       string          `json:"split_id"`
	PayerID       string          `json:"payer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        string          `json:"method"`
	Provider      string          `json:"provider"`
	Status        string          `json:"status"`
	ProviderTxnID string          `json:"provider_txn_id"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// InitiatePaymentResponse tells the payer what to do next.
type InitiatePaymentResponse struct {
	Payment     PaymentDTO                 `json:"payment"`
	Split       *SplitDTO                  `json:"split,omitempty"`
	RedirectURL string                     `json:"redirect_url,omitempty"`
	Transfer    *gateway.TransferReference `json:"transfer,omitempty"`
}

// CallbackResultDTO is shown to a payer returning from the provider.
type CallbackResultDTO struct {
	Payment   PaymentDTO `json:"payment"`
	Split     *SplitDTO  `json:"split,omitempty"`
	Duplicate bool       `json:"duplicate"`
}

// =============================================================================
// WALLETS
// =============================================================================

// WalletDTO represents a wallet.
type WalletDTO struct {
	ID        string          `json:"id"`
	OwnerType string          `json:"owner_type"`
	OwnerID   string          `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
}

// WalletAmountRequest is the body of deposit, withdraw and contribute.
type WalletAmountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// WalletTransactionDTO is one line of wallet history.
type WalletTransactionDTO struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"wallet_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ContributeResponse is the pair of records a contribution writes.
type ContributeResponse struct {
	Debit  WalletTransactionDTO `json:"debit"`
	Credit WalletTransactionDTO `json:"credit"`
}

// =============================================================================
// INVOICES
// =============================================================================

// GenerateInvoiceRequest is the body of POST /api/invoices.
type GenerateInvoiceRequest struct {
	GroupID     string   `json:"group_id"`
	PeriodStart string   `json:"period_start"`
	PeriodEnd   string   `json:"period_end"`
	CostIDs     []string `json:"cost_ids,omitempty"`
}

// InvoiceItemDTO is one billed cost.
type InvoiceItemDTO struct {
	CostID      string          `json:"cost_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// InvoiceDTO represents an invoice.
type InvoiceDTO struct {
	ID          string           `json:"id"`
	Number      string           `json:"number"`
	GroupID     string           `json:"group_id"`
	PeriodStart string           `json:"period_start"`
	PeriodEnd   string           `json:"period_end"`
	Total       decimal.Decimal  `json:"total"`
	Currency    string           `json:"currency"`
	Status      string           `json:"status"`
	DueDate     string           `json:"due_date"`
	PaidAt      *time.Time       `json:"paid_at,omitempty"`
	CreatedBy   string           `json:"created_by"`
	CreatedAt   time.Time        `json:"created_at"`
	Items       []InvoiceItemDTO `json:"items,omitempty"`
}

// InvoiceSummaryDTO is an invoice with payment progress.
type InvoiceSummaryDTO struct {
	InvoiceDTO
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Settled     bool            `json:"settled"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCostDTO(c core.Cost) CostDTO {
	return CostDTO{
		ID:          string(c.ID),
		GroupID:     string(c.GroupID),
		AssetID:     c.AssetID,
		Category:    c.Category,
		Description: c.Description,
		Total:       c.Total,
		Currency:    c.Currency,
		Strategy:    string(c.Strategy),
		CostDate:    c.CostDate.Format(dateLayout),
		Invoiced:    c.Invoiced,
		CreatedBy:   string(c.CreatedBy),
		CreatedAt:   c.CreatedAt,
	}
}

func toSplitDTO(s core.CostSplit) SplitDTO {
	return SplitDTO{
		ID:         string(s.ID),
		CostID:     string(s.CostID),
		OwnerID:    string(s.OwnerID),
		Amount:     s.Amount,
		PaidAmount: s.PaidAmount,
		Remaining:  s.Remaining(),
		Currency:   s.Currency,
		Status:     string(s.Status),
		DueDate:    s.DueDate.Format(dateLayout),
		PaidAt:     s.PaidAt,
	}
}

func toSplitDTOs(splits []core.CostSplit) []SplitDTO {
	out := make([]SplitDTO, len(splits))
	for i, s := range splits {
		out[i] = toSplitDTO(s)
	}
	return out
}

func toCostWithSplitsDTO(c *obligation.CostWithSplits) CostWithSplitsDTO {
	return CostWithSplitsDTO{
		Cost:           toCostDTO(c.Cost),
		Splits:         toSplitDTOs(c.Splits),
		Degraded:       c.Degraded,
		DegradedReason: c.DegradedReason,
	}
}

func toGroupSummaryDTO(s *obligation.GroupSummary) GroupSummaryDTO {
	owners := make([]OwnerSummaryDTO, len(s.Owners))
	for i, o := range s.Owners {
		owners[i] = OwnerSummaryDTO{
			OwnerID:     string(o.OwnerID),
			Total:       o.Total,
			Paid:        o.Paid,
			Outstanding: o.Outstanding,
			Overdue:     o.Overdue,
			Splits:      o.Splits,
		}
	}
	return GroupSummaryDTO{
		GroupID:     string(s.GroupID),
		Costs:       s.Costs,
		Total:       s.Total,
		Paid:        s.Paid,
		Outstanding: s.Outstanding,
		Overdue:     s.Overdue,
		Owners:      owners,
	}
}

func toPaymentDTO(p core.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            string(p.ID),
		SplitID:       string(p.SplitID),
		PayerID:       string(p.PayerID),
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        string(p.Method),
		Provider:      p.Provider,
		Status:        string(p.Status),
		ProviderTxnID: p.ProviderTxnID,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		CompletedAt:   p.CompletedAt,
	}
}

func toWalletDTO(w *core.Wallet) WalletDTO {
	return WalletDTO{
		ID:        string(w.ID),
		OwnerType: string(w.OwnerType),
		OwnerID:   w.OwnerID,
		Balance:   w.Balance,
		Currency:  w.Currency,
	}
}

func toWalletTransactionDTO(t core.WalletTransaction) WalletTransactionDTO {
	return WalletTransactionDTO{
		ID:            t.ID,
		WalletID:      string(t.WalletID),
		Type:          string(t.Type),
		Amount:        t.Amount,
		BalanceAfter:  t.BalanceAfter,
		ReferenceType: t.ReferenceType,
		ReferenceID:   t.ReferenceID,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt,
	}
}

func toInvoiceDTO(inv core.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:          string(inv.ID),
		Number:      inv.Number,
		GroupID:     string(inv.GroupID),
		PeriodStart: inv.PeriodStart.Format(dateLayout),
		PeriodEnd:   inv.PeriodEnd.Format(dateLayout),
		Total:       inv.Total,
		Currency:    inv.Currency,
		Status:      string(inv.Status),
		DueDate:     inv.DueDate.Format(dateLayout),
		PaidAt:      inv.PaidAt,
		CreatedBy:   string(inv.CreatedBy),
		CreatedAt:   inv.CreatedAt,
	}
	for _, it := range inv.Items {
		dto.Items = append(dto.Items, InvoiceItemDTO{
			CostID:      string(it.CostID),
			Description: it.Description,
			Amount:      it.Amount,
		})
	}
	return dto
}

func toInvoiceSummaryDTO(s *invoice.Summary) InvoiceSummaryDTO {
	return InvoiceSummaryDTO{
		InvoiceDTO:  toInvoiceDTO(s.Invoice),
		Paid:        s.Paid,
		Outstanding: s.Outstanding,
		Settled:     s.Settled,
	}
}
