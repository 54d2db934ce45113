/*
aggregator.go - Periodic invoices over a group's costs

PURPOSE:
  Bundles un-invoiced costs of a group for a billing period into one
  Invoice with one InvoiceItem per Cost. Read-mostly: the only ledger
  write outside its own tables is the cost invoiced flag.

GENERATE (one transaction):
  1. Select un-invoiced costs of the group with cost_date in the period,
     optionally restricted to explicit cost ids
  2. Empty -> ErrNoCostsFound, nothing written
  3. Insert Invoice + items
  4. Flip invoiced on exactly those costs; a count short of the item
     count means another invoice took a cost first, roll back

STATUS:
  unpaid -> paid | overdue | cancelled
  overdue -> paid
  Cancelling leaves costs invoiced; they are not re-billed.

SEE ALSO:
  - obligation/ledger.go: Split amounts behind the paid/outstanding summary
*/
package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/membership"
	"github.com/warp/costledger/metrics"
	"github.com/warp/costledger/notify"
	"github.com/warp/costledger/obligation"
)

// DefaultDueDays is added to the period end to get the invoice due date.
const DefaultDueDays = 15

// Aggregator is the invoice aggregator.
type Aggregator struct {
	store       core.TxStore
	obligations *obligation.Ledger
	directory   membership.Directory
	publisher   notify.Publisher
	dueDays     int
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithPublisher(p notify.Publisher) Option { return func(a *Aggregator) { a.publisher = p } }
func WithDueDays(days int) Option             { return func(a *Aggregator) { a.dueDays = days } }
func WithClock(now func() time.Time) Option   { return func(a *Aggregator) { a.now = now } }
func WithLogger(lg *slog.Logger) Option       { return func(a *Aggregator) { a.logger = lg } }

// NewAggregator creates an invoice aggregator.
func NewAggregator(store core.TxStore, obligations *obligation.Ledger, directory membership.Directory, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:       store,
		obligations: obligations,
		directory:   directory,
		publisher:   notify.Nop{},
		dueDays:     DefaultDueDays,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// =============================================================================
// GENERATE
// =============================================================================

// GenerateInput selects what to bill. PeriodStart and PeriodEnd are whole
// days, both inclusive.
type GenerateInput struct {
	GroupID     core.GroupID
	PeriodStart time.Time
	PeriodEnd   time.Time
	CostIDs     []core.CostID
	CreatedBy   core.UserID
}

// Generate creates an invoice over the selected costs.
func (a *Aggregator) Generate(ctx context.Context, in GenerateInput) (*core.Invoice, error) {
	if in.GroupID == "" {
		return nil, fmt.Errorf("%w: group_id is required", core.ErrValidation)
	}
	period, err := core.DatePeriod(in.PeriodStart, in.PeriodEnd)
	if err != nil {
		return nil, err
	}

	now := a.now()
	var inv core.Invoice
	err = a.store.WithTx(ctx, func(tx core.Store) error {
		costs, err := tx.ListUninvoicedCosts(ctx, in.GroupID, period, in.CostIDs)
		if err != nil {
			return err
		}
		if len(costs) == 0 {
			return fmt.Errorf("%w: group %s, period %s", core.ErrNoCostsFound, in.GroupID, period)
		}

		currency := costs[0].Currency
		total := decimal.Zero
		ids := make([]core.CostID, len(costs))
		items := make([]core.InvoiceItem, len(costs))
		invoiceID := core.InvoiceID(core.NewID())
		for i, c := range costs {
			if c.Currency != currency {
				return fmt.Errorf("%w: cost %s is %s, invoice is %s", core.ErrCurrencyMismatch, c.ID, c.Currency, currency)
			}
			total = total.Add(c.Total)
			ids[i] = c.ID
			items[i] = core.InvoiceItem{
				ID:          core.NewID(),
				InvoiceID:   invoiceID,
				CostID:      c.ID,
				Description: itemDescription(c),
				Amount:      c.Total,
			}
		}

		inv = core.Invoice{
			ID:          invoiceID,
			Number:      invoiceNumber(now),
			GroupID:     in.GroupID,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			Total:       total,
			Currency:    currency,
			Status:      core.InvoiceUnpaid,
			DueDate:     core.EndOfDay(period.End.AddDate(0, 0, a.dueDays)),
			CreatedBy:   in.CreatedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
			Items:       items,
		}
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}

		n, err := tx.MarkCostsInvoiced(ctx, ids, now)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return fmt.Errorf("%w: %d of %d costs were already invoiced", core.ErrConcurrentModification, int64(len(ids))-n, len(ids))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.InvoicesGenerated.Inc()
	a.logger.Info("invoice generated", "invoice_id", inv.ID, "number", inv.Number, "group_id", inv.GroupID, "items", len(inv.Items), "total", inv.Total)
	a.publishGenerated(ctx, inv)
	return &inv, nil
}

func (a *Aggregator) publishGenerated(ctx context.Context, inv core.Invoice) {
	owners, err := a.directory.Owners(ctx, inv.GroupID)
	if err != nil {
		a.logger.Warn("invoice recipients unavailable", "invoice_id", inv.ID, "error", err)
		return
	}
	recipients := make([]core.UserID, len(owners))
	for i, o := range owners {
		recipients[i] = o.UserID
	}
	a.publisher.Publish(ctx, notify.Event{
		Type:       notify.EventInvoiceGenerated,
		Recipients: recipients,
		EntityType: "invoice",
		EntityID:   string(inv.ID),
		Message:    fmt.Sprintf("Invoice %s for %s %s is due %s", inv.Number, inv.Total, inv.Currency, inv.DueDate.Format(time.DateOnly)),
		Data:       map[string]string{"group_id": string(inv.GroupID), "number": inv.Number},
	})
}

// invoiceNumber is INV-YYYYMM-XXXXXXXX.
func invoiceNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("INV-%s-%s", at.Format("200601"), suffix)
}

func itemDescription(c core.Cost) string {
	desc := strings.TrimSpace(c.Description)
	if desc == "" {
		desc = c.Category
	}
	return fmt.Sprintf("%s (%s)", desc, c.CostDate.Format(time.DateOnly))
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// MarkPaid marks an unpaid or overdue invoice paid.
func (a *Aggregator) MarkPaid(ctx context.Context, id core.InvoiceID) (*core.Invoice, error) {
	now := a.now()
	return a.transition(ctx, id, []core.InvoiceStatus{core.InvoiceUnpaid, core.InvoiceOverdue}, core.InvoicePaid, &now)
}

// Cancel cancels an unpaid invoice. Its costs stay invoiced.
func (a *Aggregator) Cancel(ctx context.Context, id core.InvoiceID) (*core.Invoice, error) {
	return a.transition(ctx, id, []core.InvoiceStatus{core.InvoiceUnpaid}, core.InvoiceCancelled, nil)
}

func (a *Aggregator) transition(ctx context.Context, id core.InvoiceID, from []core.InvoiceStatus, to core.InvoiceStatus, paidAt *time.Time) (*core.Invoice, error) {
	ok, err := a.store.TransitionInvoice(ctx, id, from, to, paidAt, a.now())
	if err != nil {
		return nil, err
	}
	inv, err := a.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s is %s, cannot become %s", core.ErrInvalidTransition, id, inv.Status, to)
	}
	a.logger.Info("invoice status changed", "invoice_id", id, "status", to)
	return inv, nil
}

// MarkOverdue moves unpaid invoices past their due date to overdue.
func (a *Aggregator) MarkOverdue(ctx context.Context) (int, error) {
	now := a.now()
	due, err := a.store.ListInvoicesDueBefore(ctx, core.InvoiceUnpaid, now)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, inv := range due {
		ok, err := a.store.TransitionInvoice(ctx, inv.ID, []core.InvoiceStatus{core.InvoiceUnpaid}, core.InvoiceOverdue, nil, now)
		if err != nil {
			return changed, fmt.Errorf("failed to mark invoice %s overdue: %w", inv.ID, err)
		}
		if ok {
			changed++
		}
	}
	if changed > 0 {
		metrics.SweepUpdates.WithLabelValues("invoice_overdue").Add(float64(changed))
		a.logger.Info("invoices marked overdue", "count", changed)
	}
	return changed, nil
}

// =============================================================================
// READS
// =============================================================================

// Summary is an invoice with payment progress of the costs it bills.
type Summary struct {
	Invoice     core.Invoice
	Paid        decimal.Decimal
	Outstanding decimal.Decimal
	Settled     bool // every split of every item is paid
}

// Get returns an invoice with its items and paid/outstanding totals.
func (a *Aggregator) Get(ctx context.Context, id core.InvoiceID) (*Summary, error) {
	inv, err := a.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}

	ids := make([]core.CostID, len(inv.Items))
	for i, item := range inv.Items {
		ids[i] = item.CostID
	}
	splits, err := a.obligations.SplitsForCosts(ctx, ids)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Invoice: *inv, Paid: decimal.Zero, Outstanding: decimal.Zero, Settled: true}
	for _, s := range splits {
		sum.Paid = sum.Paid.Add(s.PaidAmount)
		sum.Outstanding = sum.Outstanding.Add(s.Remaining())
		if s.Status != core.SplitPaid {
			sum.Settled = false
		}
	}
	return sum, nil
}

// ListByGroup returns a group's invoices, newest first, without items.
func (a *Aggregator) ListByGroup(ctx context.Context, groupID core.GroupID) ([]core.Invoice, error) {
	return a.store.ListInvoicesByGroup(ctx, groupID)
}
