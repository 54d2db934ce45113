/*
calculator.go - Cost to per-owner split calculation

PURPOSE:
  Turns a cost total plus the group's owner set into (owner, amount) shares.
  Pure: no persistence, no clock. The only side channel is a warning log
  when usage_based degrades to equal.

STRATEGIES (closed set, one handler each):
  ownership_ratio  amount_i = round(total * pct_i / 100)
  equal            amount_i = floor(total / N)
  usage_based      amount_i = round(total * usage_i / sum(usage)),
                   equal when usage is unavailable (flagged Degraded)
  custom           caller-provided amounts, |sum - total| <= 0.01

  Every handler leaves the last owner to absorb the rounding residual,
  then the shared post-condition runs: shares sum to the total exactly,
  no share is negative, no owner appears twice. A handler cannot return
  a result without passing it.

ROUNDING:
  Amounts are rounded to the currency scale (VND: 0 places, USD: 2).

SEE ALSO:
  - obligation/ledger.go: Persists the shares as CostSplit rows
  - core/money.go: Currency scale
*/
package split

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
)

// CustomTolerance is how far caller-supplied custom amounts may drift from the total.
var CustomTolerance = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// Share is one owner's portion of a cost.
type Share struct {
	OwnerID core.UserID
	Amount  decimal.Decimal
}

// Request is the input to Calculate.
type Request struct {
	Cost   core.Cost
	Owners []core.Owner // iteration order decides who absorbs the residual
	Custom []Share      // only for StrategyCustom
}

// Result is the validated output of Calculate.
type Result struct {
	Strategy core.SplitStrategy
	Shares   []Share

	// Degraded is set when usage_based fell back to equal.
	Degraded       bool
	DegradedReason string
}

// UsageSource supplies per-owner usage for usage_based costs.
type UsageSource interface {
	Usage(ctx context.Context, cost core.Cost, owners []core.UserID) (map[core.UserID]decimal.Decimal, error)
}

// handler computes raw shares for one strategy.
type handler func(ctx context.Context, c *Calculator, req Request) (*Result, error)

// Calculator dispatches to the strategy handlers.
type Calculator struct {
	usage  UsageSource
	logger *slog.Logger

	handlers map[core.SplitStrategy]handler
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithUsageSource wires usage telemetry for usage_based splits.
func WithUsageSource(u UsageSource) Option {
	return func(c *Calculator) { c.usage = u }
}

// WithLogger sets the logger used for degradation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Calculator) { c.logger = l }
}

// NewCalculator creates a calculator with all four strategies registered.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		logger: slog.Default(),
		handlers: map[core.SplitStrategy]handler{
			core.StrategyOwnershipRatio: ownershipRatio,
			core.StrategyEqual:          equal,
			core.StrategyUsageBased:     usageBased,
			core.StrategyCustom:         custom,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate splits req.Cost.Total according to req.Cost.Strategy.
func (c *Calculator) Calculate(ctx context.Context, req Request) (*Result, error) {
	h, ok := c.handlers[req.Cost.Strategy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidStrategy, req.Cost.Strategy)
	}
	if err := core.ValidateAmount(req.Cost.Total, req.Cost.Currency); err != nil {
		return nil, err
	}

	res, err := h(ctx, c, req)
	if err != nil {
		return nil, err
	}
	res.Strategy = req.Cost.Strategy

	if err := Validate(req.Cost.Total, req.Cost.Currency, res.Shares); err != nil {
		return nil, err
	}
	return res, nil
}

// Validate is the post-condition every strategy must pass.
func Validate(total decimal.Decimal, currency string, shares []Share) error {
	if len(shares) == 0 {
		return core.ErrNoOwners
	}
	seen := make(map[core.UserID]bool, len(shares))
	sum := decimal.Zero
	for _, s := range shares {
		if s.OwnerID == "" {
			return fmt.Errorf("%w: empty owner id", core.ErrInvalidOwners)
		}
		if seen[s.OwnerID] {
			return fmt.Errorf("%w: owner %s appears twice", core.ErrInvalidOwners, s.OwnerID)
		}
		seen[s.OwnerID] = true
		if s.Amount.IsNegative() {
			return fmt.Errorf("%w: negative share %s for %s", core.ErrSplitMismatch, s.Amount, s.OwnerID)
		}
		if !s.Amount.Equal(core.RoundMoney(s.Amount, currency)) {
			return fmt.Errorf("%w: share %s for %s is not representable in %s",
				core.ErrSplitMismatch, s.Amount, s.OwnerID, currency)
		}
		sum = sum.Add(s.Amount)
	}
	if !sum.Equal(total) {
		return &core.SplitMismatchError{Total: total, Sum: sum}
	}
	return nil
}

// =============================================================================
// STRATEGY HANDLERS
// =============================================================================

func ownershipRatio(_ context.Context, _ *Calculator, req Request) (*Result, error) {
	owners, err := activeOwners(req.Owners)
	if err != nil {
		return nil, err
	}

	pctSum := decimal.Zero
	for _, o := range owners {
		pctSum = pctSum.Add(o.Percentage)
	}
	if pctSum.Sub(hundred).Abs().GreaterThan(CustomTolerance) {
		return nil, fmt.Errorf("%w: ownership percentages sum to %s, want 100", core.ErrInvalidOwners, pctSum)
	}

	weights := make([]decimal.Decimal, len(owners))
	for i, o := range owners {
		weights[i] = o.Percentage
	}
	return &Result{Shares: proportional(req.Cost.Total, req.Cost.Currency, owners, weights, pctSum)}, nil
}

func equal(_ context.Context, _ *Calculator, req Request) (*Result, error) {
	if len(req.Owners) == 0 {
		return nil, core.ErrNoOwners
	}
	return &Result{Shares: equalShares(req.Cost.Total, req.Cost.Currency, req.Owners)}, nil
}

func usageBased(ctx context.Context, c *Calculator, req Request) (*Result, error) {
	if len(req.Owners) == 0 {
		return nil, core.ErrNoOwners
	}

	reason := ""
	var usage map[core.UserID]decimal.Decimal
	if c.usage == nil {
		reason = "no usage source configured"
	} else {
		ids := make([]core.UserID, len(req.Owners))
		for i, o := range req.Owners {
			ids[i] = o.UserID
		}
		u, err := c.usage.Usage(ctx, req.Cost, ids)
		if err != nil {
			reason = "usage source error: " + err.Error()
		} else {
			usage = u
		}
	}

	if reason == "" {
		total := decimal.Zero
		weights := make([]decimal.Decimal, len(req.Owners))
		for i, o := range req.Owners {
			w := usage[o.UserID]
			if w.IsNegative() {
				reason = fmt.Sprintf("negative usage reported for %s", o.UserID)
				break
			}
			weights[i] = w
			total = total.Add(w)
		}
		if reason == "" && total.IsZero() {
			reason = "no usage recorded for any owner"
		}
		if reason == "" {
			return &Result{Shares: proportional(req.Cost.Total, req.Cost.Currency, req.Owners, weights, total)}, nil
		}
	}

	c.logger.Warn("usage_based split degraded to equal",
		"cost_id", req.Cost.ID,
		"group_id", req.Cost.GroupID,
		"reason", reason,
	)
	return &Result{
		Shares:         equalShares(req.Cost.Total, req.Cost.Currency, req.Owners),
		Degraded:       true,
		DegradedReason: reason,
	}, nil
}

func custom(_ context.Context, _ *Calculator, req Request) (*Result, error) {
	if len(req.Custom) == 0 {
		return nil, fmt.Errorf("%w: custom split requires explicit amounts", core.ErrValidation)
	}

	members := make(map[core.UserID]bool, len(req.Owners))
	for _, o := range req.Owners {
		members[o.UserID] = true
	}

	shares := make([]Share, len(req.Custom))
	sum := decimal.Zero
	for i, s := range req.Custom {
		if len(members) > 0 && !members[s.OwnerID] {
			return nil, fmt.Errorf("%w: %s is not an owner of the group", core.ErrInvalidOwners, s.OwnerID)
		}
		if s.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: negative amount for %s", core.ErrInvalidAmount, s.OwnerID)
		}
		if !s.Amount.Equal(core.RoundMoney(s.Amount, req.Cost.Currency)) {
			return nil, fmt.Errorf("%w: %s for %s is not representable in %s",
				core.ErrInvalidAmount, s.Amount, s.OwnerID, req.Cost.Currency)
		}
		shares[i] = Share{OwnerID: s.OwnerID, Amount: s.Amount}
		sum = sum.Add(s.Amount)
	}

	diff := req.Cost.Total.Sub(sum)
	if diff.Abs().GreaterThan(CustomTolerance) {
		return nil, &core.SplitMismatchError{Total: req.Cost.Total, Sum: sum}
	}
	last := len(shares) - 1
	shares[last].Amount = shares[last].Amount.Add(diff)

	return &Result{Shares: shares}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// activeOwners drops owners holding a zero share and rejects negatives.
func activeOwners(owners []core.Owner) ([]core.Owner, error) {
	var out []core.Owner
	for _, o := range owners {
		if o.Percentage.IsNegative() {
			return nil, fmt.Errorf("%w: negative percentage for %s", core.ErrInvalidOwners, o.UserID)
		}
		if o.Percentage.IsZero() {
			continue
		}
		out = append(out, o)
	}
	if len(out) == 0 {
		return nil, core.ErrNoOwners
	}
	return out, nil
}

// proportional rounds each weighted share and gives the residual to the last owner.
func proportional(total decimal.Decimal, currency string, owners []core.Owner, weights []decimal.Decimal, weightSum decimal.Decimal) []Share {
	shares := make([]Share, len(owners))
	allocated := decimal.Zero
	last := len(owners) - 1
	for i, o := range owners {
		shares[i].OwnerID = o.UserID
		if i == last {
			shares[i].Amount = total.Sub(allocated)
			break
		}
		amt := core.RoundMoney(total.Mul(weights[i]).Div(weightSum), currency)
		shares[i].Amount = amt
		allocated = allocated.Add(amt)
	}
	return clampResidual(shares)
}

// equalShares floors total/N and gives the residual to the last owner.
func equalShares(total decimal.Decimal, currency string, owners []core.Owner) []Share {
	n := decimal.NewFromInt(int64(len(owners)))
	base := total.Div(n).RoundFloor(core.CurrencyScale(currency))

	shares := make([]Share, len(owners))
	allocated := decimal.Zero
	last := len(owners) - 1
	for i, o := range owners {
		shares[i].OwnerID = o.UserID
		if i == last {
			shares[i].Amount = total.Sub(allocated)
			break
		}
		shares[i].Amount = base
		allocated = allocated.Add(base)
	}
	return shares
}

// clampResidual handles a negative residual on the last owner, which rounding
// up many tiny earlier shares can produce: the shortfall is taken back from
// earlier owners starting at the end so every share stays non-negative and
// the sum is unchanged.
func clampResidual(shares []Share) []Share {
	last := len(shares) - 1
	deficit := shares[last].Amount.Neg()
	if !deficit.IsPositive() {
		return shares
	}
	shares[last].Amount = decimal.Zero
	for i := last - 1; i >= 0 && deficit.IsPositive(); i-- {
		take := decimal.Min(shares[i].Amount, deficit)
		shares[i].Amount = shares[i].Amount.Sub(take)
		deficit = deficit.Sub(take)
	}
	return shares
}
