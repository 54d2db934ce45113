/*
handlers.go - HTTP API handlers for the cost-sharing ledger

PURPOSE:
  Exposes the ledger components via REST API. Handles HTTP request and
  response, JSON serialization, caller authorization against group
  membership, and delegates to the components.

ENDPOINTS:
  Costs:
    POST   /api/costs                       Create cost and its splits
    GET    /api/costs/{id}                  Cost with splits
    PATCH  /api/costs/{id}                  Correct description/category
    GET    /api/groups/{id}/costs           Costs of a group
    GET    /api/groups/{id}/summary         Paid/outstanding per owner
    PUT    /api/groups/{id}/owners          Replace owner set

  Splits:
    GET    /api/splits/{id}                 One split
    GET    /api/me/splits?status=           Caller's splits
    GET    /api/splits/{id}/payments        Payment attempts on a split

  Payments:
    POST   /api/payments                    Initiate a payment
    GET    /api/payments/{id}               Payment status

  Wallets:
    GET    /api/me/wallet                   Caller's wallet
    POST   /api/me/wallet/deposit           Credit caller's wallet
    POST   /api/me/wallet/withdraw          Debit caller's wallet
    GET    /api/me/wallet/transactions      History (limit, offset)
    GET    /api/groups/{id}/wallet          Group wallet
    POST   /api/groups/{id}/wallet/contribute  Caller's wallet -> group wallet

  Invoices:
    POST   /api/invoices                    Generate
    GET    /api/invoices/{id}               Invoice with summary
    POST   /api/invoices/{id}/pay           Mark paid
    POST   /api/invoices/{id}/cancel        Cancel
    GET    /api/groups/{id}/invoices        Invoices of a group

  Admin:
    POST   /api/admin/sweep                 Run the scheduler sweeps now

AUTHORIZATION:
  Every /api route runs behind auth.Middleware. Group-scoped reads and
  writes additionally require the caller to be one of the group's owners.

ERROR HANDLING:
  Errors are returned as JSON with the HTTP status from statusFor:
  - 400: Validation errors, invalid input
  - 401: Signature or token rejected
  - 403: Caller is not an owner
  - 404: Resource not found
  - 409: Conflicts with ledger state (balance, overpayment, terminal)
  - 422: Amounts that do not add up
  - 503: Transient, safe to retry
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - callbacks.go: Provider callbacks
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/costledger/auth"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/invoice"
	"github.com/warp/costledger/membership"
	"github.com/warp/costledger/obligation"
	"github.com/warp/costledger/payment"
	"github.com/warp/costledger/split"
	"github.com/warp/costledger/wallet"
)

// errForbidden is returned when the caller is not an owner of the group
// a resource belongs to.
var errForbidden = errors.New("caller is not an owner of this group")

const defaultPageSize = 50

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// OwnerDirectory resolves and replaces group owner sets.
type OwnerDirectory interface {
	membership.Directory
	SetOwners(ctx context.Context, groupID core.GroupID, owners []core.Owner) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Obligations *obligation.Ledger
	Wallets     *wallet.Ledger
	Payments    *payment.Reconciler
	Invoices    *invoice.Aggregator
	Directory   OwnerDirectory
	Scheduler   *Scheduler
	Currency    string

	logger *slog.Logger
}

// NewHandler creates a handler over the ledger components.
func NewHandler(obligations *obligation.Ledger, wallets *wallet.Ledger, payments *payment.Reconciler,
	invoices *invoice.Aggregator, directory OwnerDirectory, scheduler *Scheduler, currency string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Obligations: obligations,
		Wallets:     wallets,
		Payments:    payments,
		Invoices:    invoices,
		Directory:   directory,
		Scheduler:   scheduler,
		Currency:    core.NormalizeCurrency(currency),
		logger:      logger.With("component", "api"),
	}
}

// requireOwner fails with errForbidden unless the caller owns groupID.
// A group without owners is indistinguishable from one the caller
// cannot see.
func (h *Handler) requireOwner(ctx context.Context, groupID core.GroupID) error {
	owners, err := h.Directory.Owners(ctx, groupID)
	if errors.Is(err, core.ErrNoOwners) {
		return errForbidden
	}
	if err != nil {
		return err
	}
	if !membership.IsOwner(owners, auth.UserID(ctx)) {
		return errForbidden
	}
	return nil
}

// requireSplitAccess allows the split's owner and the owners of its group.
func (h *Handler) requireSplitAccess(ctx context.Context, s *core.CostSplit) error {
	if s.OwnerID == auth.UserID(ctx) {
		return nil
	}
	c, err := h.Obligations.GetCost(ctx, s.CostID)
	if err != nil {
		return err
	}
	return h.requireOwner(ctx, c.Cost.GroupID)
}

// =============================================================================
// COST HANDLERS
// =============================================================================

// CreateCost records a shared expense and splits it among the group's owners.
// POST /api/costs
func (h *Handler) CreateCost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	groupID := core.GroupID(req.GroupID)
	if err := h.requireOwner(ctx, groupID); err != nil {
		h.fail(w, r, err)
		return
	}

	costDate, err := parseDate("cost_date", req.CostDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = h.Currency
	}

	in := obligation.CreateCostInput{
		GroupID:     groupID,
		AssetID:     req.AssetID,
		Category:    req.Category,
		Description: req.Description,
		Total:       req.Total,
		Currency:    currency,
		Strategy:    core.SplitStrategy(req.Strategy),
		CostDate:    costDate,
		CreatedBy:   auth.UserID(ctx),
	}
	for _, s := range req.Shares {
		in.Custom = append(in.Custom, split.Share{OwnerID: core.UserID(s.OwnerID), Amount: s.Amount})
	}

	created, err := h.Obligations.CreateCostWithSplits(ctx, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCostWithSplitsDTO(created))
}

// GetCost returns a cost with its splits.
// GET /api/costs/{id}
func (h *Handler) GetCost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.Obligations.GetCost(ctx, core.CostID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.requireOwner(ctx, c.Cost.GroupID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCostWithSplitsDTO(c))
}

// UpdateCost corrects the description or category of a cost.
// Total, strategy and date are immutable once splits exist.
// PATCH /api/costs/{id}
func (h *Handler) UpdateCost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := core.CostID(chi.URLParam(r, "id"))

	var req UpdateCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	existing, err := h.Obligations.GetCost(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.requireOwner(ctx, existing.Cost.GroupID); err != nil {
		h.fail(w, r, err)
		return
	}

	updated, err := h.Obligations.UpdateCostDetails(ctx, id, req.Description, req.Category)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCostDTO(*updated))
}

// ListGroupCosts returns every cost of a group.
// GET /api/groups/{id}/costs
func (h *Handler) ListGroupCosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := core.GroupID(chi.URLParam(r, "id"))
	if err := h.requireOwner(ctx, groupID); err != nil {
		h.fail(w, r, err)
		return
	}

	costs, err := h.Obligations.ListCostsByGroup(ctx, groupID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]CostDTO, len(costs))
	for i, c := range costs {
		dtos[i] = toCostDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetGroupSummary returns paid and outstanding totals per owner.
// GET /api/groups/{id}/summary
func (h *Handler) GetGroupSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := core.GroupID(chi.URLParam(r, "id"))
	if err := h.requireOwner(ctx, groupID); err != nil {
		h.fail(w, r, err)
		return
	}

	summary, err := h.Obligations.GroupSummary(ctx, groupID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupSummaryDTO(summary))
}

// SetGroupOwners replaces the owner set of a group. The first owner set
// of a new group may be written by any caller that includes themselves.
// PUT /api/groups/{id}/owners
func (h *Handler) SetGroupOwners(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := core.GroupID(chi.URLParam(r, "id"))
	caller := auth.UserID(ctx)

	var req SetOwnersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	owners := make([]core.Owner, len(req.Owners))
	for i, o := range req.Owners {
		owners[i] = core.Owner{UserID: core.UserID(o.UserID), Percentage: o.Percentage}
	}

	current, err := h.Directory.Owners(ctx, groupID)
	switch {
	case errors.Is(err, core.ErrNoOwners):
		if !membership.IsOwner(owners, caller) {
			h.fail(w, r, errForbidden)
			return
		}
	case err != nil:
		h.fail(w, r, err)
		return
	case !membership.IsOwner(current, caller):
		h.fail(w, r, errForbidden)
		return
	}

	if err := h.Directory.SetOwners(ctx, groupID, owners); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("group owners replaced", "group_id", groupID, "owners", len(owners), "by", caller)
	writeJSON(w, http.StatusOK, SetOwnersRequest{Owners: req.Owners})
}

// =============================================================================
// SPLIT HANDLERS
// =============================================================================

// GetSplit returns one split with its current status.
// GET /api/splits/{id}
func (h *Handler) GetSplit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.Obligations.GetSplit(ctx, core.SplitID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.requireSplitAccess(ctx, s); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSplitDTO(*s))
}

// ListMySplits returns the caller's splits, optionally filtered by status.
// GET /api/me/splits?status=pending
func (h *Handler) ListMySplits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := core.SplitStatus(r.URL.Query().Get("status"))

	splits, err := h.Obligations.ListSplitsByOwner(ctx, auth.UserID(ctx), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSplitDTOs(splits))
}

// ListSplitPayments returns every payment attempt on a split.
// GET /api/splits/{id}/payments
func (h *Handler) ListSplitPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.Obligations.GetSplit(ctx, core.SplitID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.requireSplitAccess(ctx, s); err != nil {
		h.fail(w, r, err)
		return
	}

	payments, err := h.Payments.ListBySplit(ctx, s.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// InitiatePayment starts paying (part of) one of the caller's splits.
// POST /api/payments
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Payments.Initiate(ctx, payment.InitiateRequest{
		SplitID:     core.SplitID(req.SplitID),
		PayerID:     auth.UserID(ctx),
		Amount:      req.Amount,
		Method:      core.PaymentMethod(req.Method),
		Description: req.Description,
		ClientIP:    clientIP(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := InitiatePaymentResponse{
		Payment:     toPaymentDTO(res.Payment),
		RedirectURL: res.RedirectURL,
		Transfer:    res.Transfer,
	}
	if res.Split != nil {
		dto := toSplitDTO(*res.Split)
		resp.Split = &dto
	}

	status := http.StatusAccepted
	if res.Payment.Status == core.PaymentCompleted {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// GetPayment returns a payment's current status to its payer.
// GET /api/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.Payments.Get(ctx, core.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if p.PayerID != auth.UserID(ctx) {
		s, err := h.Obligations.GetSplit(ctx, p.SplitID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if err := h.requireSplitAccess(ctx, s); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

func (h *Handler) currencyParam(r *http.Request) string {
	if c := r.URL.Query().Get("currency"); c != "" {
		return core.NormalizeCurrency(c)
	}
	return h.Currency
}

func (h *Handler) myWallet(r *http.Request) (*core.Wallet, error) {
	ctx := r.Context()
	return h.Wallets.GetOrCreateWallet(ctx, core.OwnerUser, string(auth.UserID(ctx)), h.currencyParam(r))
}

// GetMyWallet returns the caller's wallet, creating it on first access.
// GET /api/me/wallet
func (h *Handler) GetMyWallet(w http.ResponseWriter, r *http.Request) {
	wlt, err := h.myWallet(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wlt))
}

// Deposit credits the caller's wallet.
// POST /api/me/wallet/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.walletMovement(w, r, h.Wallets.Deposit)
}

// Withdraw debits the caller's wallet. The balance never goes negative.
// POST /api/me/wallet/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.walletMovement(w, r, h.Wallets.Withdraw)
}

type walletOp func(ctx context.Context, id core.WalletID, amount decimal.Decimal, description string) (*core.WalletTransaction, error)

func (h *Handler) walletMovement(w http.ResponseWriter, r *http.Request, op walletOp) {
	var req WalletAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wlt, err := h.myWallet(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	txn, err := op(r.Context(), wlt.ID, req.Amount, req.Description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWalletTransactionDTO(*txn))
}

// GetMyTransactions returns the caller's wallet history, newest first.
// GET /api/me/wallet/transactions?limit=50&offset=0
func (h *Handler) GetMyTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	wlt, err := h.myWallet(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	txs, err := h.Wallets.History(r.Context(), wlt.ID, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]WalletTransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toWalletTransactionDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetGroupWallet returns the group's shared wallet.
// GET /api/groups/{id}/wallet
func (h *Handler) GetGroupWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := core.GroupID(chi.URLParam(r, "id"))
	if err := h.requireOwner(ctx, groupID); err != nil {
		h.fail(w, r, err)
		return
	}

	wlt, err := h.Wallets.GetOrCreateWallet(ctx, core.OwnerGroup, string(groupID), h.currencyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wlt))
}

// ContributeToGroup moves money from the caller's wallet to the group wallet.
// POST /api/groups/{id}/wallet/contribute
func (h *Handler) ContributeToGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := core.GroupID(chi.URLParam(r, "id"))
	if err := h.requireOwner(ctx, groupID); err != nil {
		h.fail(w, r, err)
		return
	}

	var req WalletAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	from, err := h.myWallet(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := h.Wallets.GetOrCreateWallet(ctx, core.OwnerGroup, string(groupID), from.Currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("contribution to %s", groupID)
	}
	debit, credit, err := h.Wallets.Transfer(ctx, from.ID, to.ID, req.Amount, description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ContributeResponse{
		Debit:  toWalletTransactionDTO(*debit),
		Credit: toWalletTransactionDTO(*credit),
	})
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// GenerateInvoice bills a group's un-invoiced costs in a period.
// POST /api/invoices
func (h *Handler) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req GenerateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	groupID := core.GroupID(req.GroupID)
	if err := h.requireOwner(ctx, groupID); err != nil {
		h.fail(w, r, err)
		return
	}

	start, err := parseDate("period_start", req.PeriodStart)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := parseDate("period_end", req.PeriodEnd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids := make([]core.CostID, len(req.CostIDs))
	for i, id := range req.CostIDs {
		ids[i] = core.CostID(id)
	}

	inv, err := h.Invoices.Generate(ctx, invoice.GenerateInput{
		GroupID:     groupID,
		PeriodStart: start,
		PeriodEnd:   end,
		CostIDs:     ids,
		CreatedBy:   auth.UserID(ctx),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(*inv))
}

// GetInvoice returns an invoice with items and paid/outstanding totals.
// GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := h.Invoices.Get(ctx, core.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.requireOwner(ctx, summary.Invoice.GroupID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceSummaryDTO(summary))
}

// MarkInvoicePaid records that an invoice was settled.
// POST /api/invoices/{id}/pay
func (h *Handler) MarkInvoicePaid(w http.ResponseWriter, r *http.Request) {
	h.invoiceTransition(w, r, h.Invoices.MarkPaid)
}

// CancelInvoice cancels an unpaid invoice. Its costs stay invoiced.
// POST /api/invoices/{id}/cancel
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceTransition(w, r, h.Invoices.Cancel)
}

func (h *Handler) invoiceTransition(w http.ResponseWriter, r *http.Request,
	op func(context.Context, core.InvoiceID) (*core.Invoice, error)) {
	ctx := r.Context()
	id := core.InvoiceID(chi.URLParam(r, "id"))

	existing, err := h.Invoices.Get(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.requireOwner(ctx, existing.Invoice.GroupID); err != nil {
		h.fail(w, r, err)
		return
	}

	inv, err := op(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// ListGroupInvoices returns every invoice of a group.
// GET /api/groups/{id}/invoices
func (h *Handler) ListGroupInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := core.GroupID(chi.URLParam(r, "id"))
	if err := h.requireOwner(ctx, groupID); err != nil {
		h.fail(w, r, err)
		return
	}

	invoices, err := h.Invoices.ListByGroup(ctx, groupID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Sweep runs the overdue and stale-payment sweeps immediately.
// POST /api/admin/sweep
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}
	res, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errForbidden), errors.Is(err, core.ErrNotSplitOwner):
		return http.StatusForbidden
	case core.IsTrustViolation(err):
		return http.StatusUnauthorized
	case core.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrOverpaymentRejected),
		errors.Is(err, core.ErrPaymentAmountExceeded),
		errors.Is(err, core.ErrPaymentTerminal),
		errors.Is(err, core.ErrCostInvoiced),
		errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, core.ErrSplitMismatch), errors.Is(err, core.ErrAmountMismatch):
		return http.StatusUnprocessableEntity
	case core.IsClientError(err):
		return http.StatusBadRequest
	case core.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server-side failures are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, http.StatusText(status), err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", core.ErrValidation, field)
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD, got %q", core.ErrValidation, field, value)
	}
	return t, nil
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("%w: limit must be a positive integer", core.ErrValidation)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: offset must be a non-negative integer", core.ErrValidation)
		}
	}
	return limit, offset, nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
