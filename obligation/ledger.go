/*
ledger.go - Costs and per-owner obligations

PURPOSE:
  Owns Cost and CostSplit rows. Creates a cost together with all of its
  splits in one transaction, applies settled payments to a split, and
  keeps split status in line with paid amount and due date.

STATUS (pure function of paid, amount, due, now):
  paid >= amount              -> paid
  0 < paid < amount           -> partial
  paid == 0 and now > due     -> overdue
  otherwise                   -> pending

INVARIANTS:
  - A cost never exists without its full set of splits
  - paid_amount <= split_amount; an increment past it is rejected
  - Only description/category change after creation, never once invoiced

CONCURRENCY:
  ApplyPaymentTx locks the split row (GetSplitForUpdate) inside the
  caller's transaction, so two settlements of one split serialize.

SEE ALSO:
  - split/calculator.go: Share computation
  - payment/reconciler.go: The only caller of ApplyPaymentTx
*/
package obligation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/membership"
	"github.com/warp/costledger/metrics"
	"github.com/warp/costledger/notify"
	"github.com/warp/costledger/split"
)

// DefaultDueDays is how long owners have to pay a split.
const DefaultDueDays = 30

// Ledger is the obligation ledger.
type Ledger struct {
	store     core.TxStore
	calc      *split.Calculator
	directory membership.Directory
	publisher notify.Publisher
	dueDays   int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithPublisher(p notify.Publisher) Option { return func(l *Ledger) { l.publisher = p } }
func WithDueDays(days int) Option             { return func(l *Ledger) { l.dueDays = days } }
func WithClock(now func() time.Time) Option   { return func(l *Ledger) { l.now = now } }
func WithLogger(lg *slog.Logger) Option       { return func(l *Ledger) { l.logger = lg } }

// NewLedger creates an obligation ledger.
func NewLedger(store core.TxStore, calc *split.Calculator, directory membership.Directory, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		calc:      calc,
		directory: directory,
		publisher: notify.Nop{},
		dueDays:   DefaultDueDays,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// =============================================================================
// STATUS
// =============================================================================

// RecomputeStatus derives a split's status. It does not touch the store.
func RecomputeStatus(s core.CostSplit, now time.Time) core.SplitStatus {
	switch {
	case s.PaidAmount.GreaterThanOrEqual(s.Amount):
		return core.SplitPaid
	case s.PaidAmount.IsPositive():
		return core.SplitPartial
	case now.After(s.DueDate):
		return core.SplitOverdue
	default:
		return core.SplitPending
	}
}

// =============================================================================
// CREATE
// =============================================================================

// CreateCostInput is a new shared expense.
type CreateCostInput struct {
	GroupID     core.GroupID
	AssetID     string
	Category    string
	Description string
	Total       decimal.Decimal
	Currency    string
	Strategy    core.SplitStrategy
	CostDate    time.Time
	CreatedBy   core.UserID
	Custom      []split.Share
}

// CostWithSplits is a cost and all of its obligations.
type CostWithSplits struct {
	Cost           core.Cost
	Splits         []core.CostSplit
	Degraded       bool
	DegradedReason string
}

// CreateCostWithSplits persists a cost and its splits in one transaction.
func (l *Ledger) CreateCostWithSplits(ctx context.Context, in CreateCostInput) (*CostWithSplits, error) {
	if err := validateCostInput(&in); err != nil {
		return nil, err
	}

	owners, err := l.directory.Owners(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	if in.CreatedBy != "" && !membership.IsOwner(owners, in.CreatedBy) {
		return nil, fmt.Errorf("%w: %s is not an owner of group %s", core.ErrInvalidOwners, in.CreatedBy, in.GroupID)
	}

	now := l.now()
	cost := core.Cost{
		ID:          core.CostID(core.NewID()),
		GroupID:     in.GroupID,
		AssetID:     in.AssetID,
		Category:    in.Category,
		Description: in.Description,
		Total:       in.Total,
		Currency:    in.Currency,
		Strategy:    in.Strategy,
		CostDate:    in.CostDate.UTC(),
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := l.calc.Calculate(ctx, split.Request{Cost: cost, Owners: owners, Custom: in.Custom})
	if err != nil {
		return nil, err
	}

	due := core.EndOfDay(cost.CostDate.AddDate(0, 0, l.dueDays))
	splits := make([]core.CostSplit, len(res.Shares))
	for i, sh := range res.Shares {
		s := core.CostSplit{
			ID:         core.SplitID(core.NewID()),
			CostID:     cost.ID,
			OwnerID:    sh.OwnerID,
			Amount:     sh.Amount,
			PaidAmount: decimal.Zero,
			Currency:   cost.Currency,
			DueDate:    due,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		s.Status = RecomputeStatus(s, now)
		if s.Status == core.SplitPaid {
			s.PaidAt = &now
		}
		splits[i] = s
	}

	err = l.store.WithTx(ctx, func(tx core.Store) error {
		if err := tx.InsertCost(ctx, cost); err != nil {
			return err
		}
		return tx.InsertSplits(ctx, splits)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cost: %w", err)
	}

	metrics.CostsCreated.WithLabelValues(string(cost.Strategy)).Inc()
	if res.Degraded {
		metrics.SplitsDegraded.Inc()
	}

	recipients := make([]core.UserID, len(splits))
	for i, s := range splits {
		recipients[i] = s.OwnerID
	}
	l.publisher.Publish(ctx, notify.Event{
		Type:       notify.EventCostCreated,
		Recipients: recipients,
		EntityType: "cost",
		EntityID:   string(cost.ID),
		Message:    fmt.Sprintf("New %s cost of %s %s", cost.Category, cost.Total, cost.Currency),
		Data:       map[string]string{"group_id": string(cost.GroupID), "strategy": string(cost.Strategy)},
	})

	return &CostWithSplits{
		Cost:           cost,
		Splits:         splits,
		Degraded:       res.Degraded,
		DegradedReason: res.DegradedReason,
	}, nil
}

func validateCostInput(in *CreateCostInput) error {
	in.Currency = core.NormalizeCurrency(in.Currency)
	if in.GroupID == "" {
		return fmt.Errorf("%w: group_id is required", core.ErrValidation)
	}
	if !in.Strategy.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidStrategy, in.Strategy)
	}
	if err := core.ValidateAmount(in.Total, in.Currency); err != nil {
		return err
	}
	if in.CostDate.IsZero() {
		return fmt.Errorf("%w: cost_date is required", core.ErrValidation)
	}
	in.Category = strings.TrimSpace(in.Category)
	return nil
}

// =============================================================================
// APPLY PAYMENT
// =============================================================================

// ApplyPayment adds amount to a split's paid total in its own transaction.
func (l *Ledger) ApplyPayment(ctx context.Context, splitID core.SplitID, amount decimal.Decimal) (*core.CostSplit, error) {
	var out *core.CostSplit
	err := l.store.WithTx(ctx, func(tx core.Store) error {
		s, err := l.ApplyPaymentTx(ctx, tx, splitID, amount)
		out = s
		return err
	})
	return out, err
}

// ApplyPaymentTx adds amount to a split's paid total inside the caller's
// transaction. It rejects with OverpaymentError instead of clamping.
func (l *Ledger) ApplyPaymentTx(ctx context.Context, tx core.Store, splitID core.SplitID, amount decimal.Decimal) (*core.CostSplit, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment must be positive, got %s", core.ErrInvalidAmount, amount)
	}

	s, err := tx.GetSplitForUpdate(ctx, splitID)
	if err != nil {
		return nil, err
	}

	newPaid := s.PaidAmount.Add(amount)
	if newPaid.GreaterThan(s.Amount) {
		return nil, &core.OverpaymentError{
			SplitID: s.ID,
			Amount:  s.Amount,
			Paid:    s.PaidAmount,
			Payment: amount,
		}
	}

	now := l.now()
	s.PaidAmount = newPaid
	s.Status = RecomputeStatus(*s, now)
	if s.Status == core.SplitPaid && s.PaidAt == nil {
		s.PaidAt = &now
	}
	s.UpdatedAt = now

	if err := tx.UpdateSplit(ctx, *s); err != nil {
		return nil, err
	}
	return s, nil
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// UpdateCostDetails corrects description/category of a cost not yet invoiced.
func (l *Ledger) UpdateCostDetails(ctx context.Context, id core.CostID, description, category *string) (*core.Cost, error) {
	var out *core.Cost
	err := l.store.WithTx(ctx, func(tx core.Store) error {
		c, err := tx.GetCost(ctx, id)
		if err != nil {
			return err
		}
		if c.Invoiced {
			return fmt.Errorf("%w: %s", core.ErrCostInvoiced, id)
		}
		if description != nil {
			c.Description = *description
		}
		if category != nil {
			c.Category = strings.TrimSpace(*category)
		}
		c.UpdatedAt = l.now()
		if err := tx.UpdateCostDetails(ctx, id, c.Description, c.Category, c.UpdatedAt); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// =============================================================================
// READS
// =============================================================================

// GetCost returns a cost with its splits, statuses derived as of now.
func (l *Ledger) GetCost(ctx context.Context, id core.CostID) (*CostWithSplits, error) {
	c, err := l.store.GetCost(ctx, id)
	if err != nil {
		return nil, err
	}
	splits, err := l.store.ListSplitsByCost(ctx, id)
	if err != nil {
		return nil, err
	}
	l.refresh(splits)
	return &CostWithSplits{Cost: *c, Splits: splits}, nil
}

// GetSplit returns a split with its status derived as of now.
func (l *Ledger) GetSplit(ctx context.Context, id core.SplitID) (*core.CostSplit, error) {
	s, err := l.store.GetSplit(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Status = RecomputeStatus(*s, l.now())
	return s, nil
}

// ListCostsByGroup lists the costs of a group in date order.
func (l *Ledger) ListCostsByGroup(ctx context.Context, groupID core.GroupID) ([]core.Cost, error) {
	return l.store.ListCostsByGroup(ctx, groupID)
}

// ListSplitsByOwner lists an owner's splits, optionally filtered by status.
func (l *Ledger) ListSplitsByOwner(ctx context.Context, ownerID core.UserID, status core.SplitStatus) ([]core.CostSplit, error) {
	splits, err := l.store.ListSplitsByOwner(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	l.refresh(splits)
	if status == "" {
		return splits, nil
	}
	out := splits[:0]
	for _, s := range splits {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

// SplitsForCosts returns the splits of the given costs with statuses
// derived as of now.
func (l *Ledger) SplitsForCosts(ctx context.Context, ids []core.CostID) ([]core.CostSplit, error) {
	splits, err := l.store.ListSplitsByCosts(ctx, ids)
	if err != nil {
		return nil, err
	}
	l.refresh(splits)
	return splits, nil
}

// OwnerSummary aggregates one owner's obligations within a group.
type OwnerSummary struct {
	OwnerID     core.UserID
	Total       decimal.Decimal
	Paid        decimal.Decimal
	Outstanding decimal.Decimal
	Overdue     decimal.Decimal
	Splits      int
}

// GroupSummary aggregates a group's obligations.
type GroupSummary struct {
	GroupID     core.GroupID
	Costs       int
	Total       decimal.Decimal
	Paid        decimal.Decimal
	Outstanding decimal.Decimal
	Overdue     decimal.Decimal
	Owners      []OwnerSummary
}

// GroupSummary totals every split of the group, per owner and overall.
func (l *Ledger) GroupSummary(ctx context.Context, groupID core.GroupID) (*GroupSummary, error) {
	costs, err := l.store.ListCostsByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	splits, err := l.store.ListSplitsByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	l.refresh(splits)

	sum := &GroupSummary{
		GroupID: groupID, Costs: len(costs),
		Total: decimal.Zero, Paid: decimal.Zero, Outstanding: decimal.Zero, Overdue: decimal.Zero,
	}
	byOwner := make(map[core.UserID]*OwnerSummary)
	for _, s := range splits {
		o, ok := byOwner[s.OwnerID]
		if !ok {
			o = &OwnerSummary{OwnerID: s.OwnerID, Total: decimal.Zero, Paid: decimal.Zero, Outstanding: decimal.Zero, Overdue: decimal.Zero}
			byOwner[s.OwnerID] = o
		}
		remaining := s.Remaining()
		o.Splits++
		o.Total = o.Total.Add(s.Amount)
		o.Paid = o.Paid.Add(s.PaidAmount)
		o.Outstanding = o.Outstanding.Add(remaining)
		if s.Status == core.SplitOverdue {
			o.Overdue = o.Overdue.Add(remaining)
		}
	}
	for _, o := range byOwner {
		sum.Total = sum.Total.Add(o.Total)
		sum.Paid = sum.Paid.Add(o.Paid)
		sum.Outstanding = sum.Outstanding.Add(o.Outstanding)
		sum.Overdue = sum.Overdue.Add(o.Overdue)
		sum.Owners = append(sum.Owners, *o)
	}
	sort.Slice(sum.Owners, func(i, j int) bool { return sum.Owners[i].OwnerID < sum.Owners[j].OwnerID })
	return sum, nil
}

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

// MarkOverdue persists the overdue status of unpaid splits past their due
// date. Returns how many rows changed.
func (l *Ledger) MarkOverdue(ctx context.Context) (int, error) {
	now := l.now()
	candidates, err := l.store.ListOpenSplitsDueBefore(ctx, now)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, c := range candidates {
		updated := false
		err := l.store.WithTx(ctx, func(tx core.Store) error {
			s, err := tx.GetSplitForUpdate(ctx, c.ID)
			if err != nil {
				return err
			}
			status := RecomputeStatus(*s, now)
			if status == s.Status {
				return nil
			}
			s.Status = status
			s.UpdatedAt = now
			updated = true
			return tx.UpdateSplit(ctx, *s)
		})
		if err != nil {
			return changed, fmt.Errorf("failed to mark split %s overdue: %w", c.ID, err)
		}
		if updated {
			changed++
		}
	}

	if changed > 0 {
		metrics.SweepUpdates.WithLabelValues("split_overdue").Add(float64(changed))
		l.logger.Info("splits marked overdue", "count", changed)
	}
	return changed, nil
}

// refresh re-derives stored statuses so reads never show a stale pending.
func (l *Ledger) refresh(splits []core.CostSplit) {
	now := l.now()
	for i := range splits {
		splits[i].Status = RecomputeStatus(splits[i], now)
	}
}
