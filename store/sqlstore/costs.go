package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/costledger/core"
)

// =============================================================================
// COSTS (core.CostStore)
// =============================================================================

const costColumns = `id, group_id, asset_id, category, description, total, currency,
	strategy, cost_date, invoiced, created_by, created_at, updated_at`

func (c *conn) InsertCost(ctx context.Context, cost core.Cost) error {
	_, err := c.exec(ctx, `
		INSERT INTO costs (`+costColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cost.ID, cost.GroupID, cost.AssetID, cost.Category, cost.Description,
		cost.Total, cost.Currency, cost.Strategy, ts(cost.CostDate), cost.Invoiced,
		cost.CreatedBy, ts(cost.CreatedAt), ts(cost.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cost: %w", err)
	}
	return nil
}

func (c *conn) GetCost(ctx context.Context, id core.CostID) (*core.Cost, error) {
	row := c.queryRow(ctx, `SELECT `+costColumns+` FROM costs WHERE id = ?`, id)
	cost, err := scanCost(row)
	if err != nil {
		return nil, notFound(err, core.ErrCostNotFound)
	}
	return cost, nil
}

func (c *conn) UpdateCostDetails(ctx context.Context, id core.CostID, description, category string, at time.Time) error {
	res, err := c.exec(ctx, `
		UPDATE costs SET description = ?, category = ?, updated_at = ?
		WHERE id = ? AND invoiced = ?
	`, description, category, ts(at), id, false)
	if err != nil {
		return fmt.Errorf("failed to update cost: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := c.GetCost(ctx, id); err != nil {
			return err
		}
		return core.ErrCostInvoiced
	}
	return nil
}

func (c *conn) ListCostsByGroup(ctx context.Context, groupID core.GroupID) ([]core.Cost, error) {
	return c.queryCosts(ctx, `
		SELECT `+costColumns+` FROM costs
		WHERE group_id = ?
		ORDER BY cost_date, created_at
	`, groupID)
}

func (c *conn) ListUninvoicedCosts(ctx context.Context, groupID core.GroupID, period core.Period, ids []core.CostID) ([]core.Cost, error) {
	query := `
		SELECT ` + costColumns + ` FROM costs
		WHERE group_id = ? AND invoiced = ? AND cost_date >= ? AND cost_date <= ?`
	args := []any{groupID, false, ts(period.Start), ts(period.End)}

	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY cost_date, created_at`

	return c.queryCosts(ctx, query, args...)
}

func (c *conn) MarkCostsInvoiced(ctx context.Context, ids []core.CostID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{true, ts(at)}
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, false)

	res, err := c.exec(ctx, `
		UPDATE costs SET invoiced = ?, updated_at = ?
		WHERE id IN (`+placeholders(len(ids))+`) AND invoiced = ?
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark costs invoiced: %w", err)
	}
	return res.RowsAffected()
}

func (c *conn) queryCosts(ctx context.Context, query string, args ...any) ([]core.Cost, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var costs []core.Cost
	for rows.Next() {
		cost, err := scanCost(rows)
		if err != nil {
			return nil, err
		}
		costs = append(costs, *cost)
	}
	return costs, rows.Err()
}

func scanCost(s scanner) (*core.Cost, error) {
	var cost core.Cost
	if err := s.Scan(
		&cost.ID, &cost.GroupID, &cost.AssetID, &cost.Category, &cost.Description,
		&cost.Total, &cost.Currency, &cost.Strategy, &cost.CostDate, &cost.Invoiced,
		&cost.CreatedBy, &cost.CreatedAt, &cost.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cost.CostDate = cost.CostDate.UTC()
	cost.CreatedAt = cost.CreatedAt.UTC()
	cost.UpdatedAt = cost.UpdatedAt.UTC()
	return &cost, nil
}

// =============================================================================
// SPLITS (core.SplitStore)
// =============================================================================

const splitColumns = `s.id, s.cost_id, s.owner_id, s.amount, s.paid_amount, s.currency,
	s.status, s.due_date, s.paid_at, s.created_at, s.updated_at`

func (c *conn) InsertSplits(ctx context.Context, splits []core.CostSplit) error {
	for _, s := range splits {
		_, err := c.exec(ctx, `
			INSERT INTO cost_splits (id, cost_id, owner_id, amount, paid_amount, currency,
				status, due_date, paid_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			s.ID, s.CostID, s.OwnerID, s.Amount, s.PaidAmount, s.Currency,
			s.Status, ts(s.DueDate), nullTime(s.PaidAt), ts(s.CreatedAt), ts(s.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert split for %s: %w", s.OwnerID, err)
		}
	}
	return nil
}

func (c *conn) GetSplit(ctx context.Context, id core.SplitID) (*core.CostSplit, error) {
	row := c.queryRow(ctx, `SELECT `+splitColumns+` FROM cost_splits s WHERE s.id = ?`, id)
	s, err := scanSplit(row)
	if err != nil {
		return nil, notFound(err, core.ErrSplitNotFound)
	}
	return s, nil
}

func (c *conn) GetSplitForUpdate(ctx context.Context, id core.SplitID) (*core.CostSplit, error) {
	row := c.queryRow(ctx, `SELECT `+splitColumns+` FROM cost_splits s WHERE s.id = ?`+c.forUpdate(), id)
	s, err := scanSplit(row)
	if err != nil {
		return nil, notFound(err, core.ErrSplitNotFound)
	}
	return s, nil
}

func (c *conn) UpdateSplit(ctx context.Context, s core.CostSplit) error {
	res, err := c.exec(ctx, `
		UPDATE cost_splits SET paid_amount = ?, status = ?, paid_at = ?, updated_at = ?
		WHERE id = ?
	`, s.PaidAmount, s.Status, nullTime(s.PaidAt), ts(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update split: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrSplitNotFound
	}
	return nil
}

func (c *conn) ListSplitsByCost(ctx context.Context, costID core.CostID) ([]core.CostSplit, error) {
	return c.querySplits(ctx, `
		SELECT `+splitColumns+` FROM cost_splits s
		WHERE s.cost_id = ?
		ORDER BY s.created_at, s.id
	`, costID)
}

func (c *conn) ListSplitsByCosts(ctx context.Context, costIDs []core.CostID) ([]core.CostSplit, error) {
	if len(costIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(costIDs))
	for _, id := range costIDs {
		args = append(args, id)
	}
	return c.querySplits(ctx, `
		SELECT `+splitColumns+` FROM cost_splits s
		WHERE s.cost_id IN (`+placeholders(len(costIDs))+`)
		ORDER BY s.cost_id, s.created_at, s.id
	`, args...)
}

func (c *conn) ListSplitsByOwner(ctx context.Context, ownerID core.UserID, status core.SplitStatus) ([]core.CostSplit, error) {
	if status != "" {
		return c.querySplits(ctx, `
			SELECT `+splitColumns+` FROM cost_splits s
			WHERE s.owner_id = ? AND s.status = ?
			ORDER BY s.due_date, s.id
		`, ownerID, status)
	}
	return c.querySplits(ctx, `
		SELECT `+splitColumns+` FROM cost_splits s
		WHERE s.owner_id = ?
		ORDER BY s.due_date, s.id
	`, ownerID)
}

func (c *conn) ListSplitsByGroup(ctx context.Context, groupID core.GroupID) ([]core.CostSplit, error) {
	return c.querySplits(ctx, `
		SELECT `+splitColumns+` FROM cost_splits s
		JOIN costs c ON c.id = s.cost_id
		WHERE c.group_id = ?
		ORDER BY c.cost_date, s.created_at, s.id
	`, groupID)
}

func (c *conn) ListOpenSplitsDueBefore(ctx context.Context, t time.Time) ([]core.CostSplit, error) {
	return c.querySplits(ctx, `
		SELECT `+splitColumns+` FROM cost_splits s
		WHERE s.status IN (?, ?) AND s.due_date < ?
		ORDER BY s.due_date, s.id
	`, core.SplitPending, core.SplitPartial, ts(t))
}

func (c *conn) querySplits(ctx context.Context, query string, args ...any) ([]core.CostSplit, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var splits []core.CostSplit
	for rows.Next() {
		s, err := scanSplit(rows)
		if err != nil {
			return nil, err
		}
		splits = append(splits, *s)
	}
	return splits, rows.Err()
}

func scanSplit(s scanner) (*core.CostSplit, error) {
	var split core.CostSplit
	var paidAt sql.NullTime
	if err := s.Scan(
		&split.ID, &split.CostID, &split.OwnerID, &split.Amount, &split.PaidAmount, &split.Currency,
		&split.Status, &split.DueDate, &paidAt, &split.CreatedAt, &split.UpdatedAt,
	); err != nil {
		return nil, err
	}
	split.DueDate = split.DueDate.UTC()
	split.CreatedAt = split.CreatedAt.UTC()
	split.UpdatedAt = split.UpdatedAt.UTC()
	split.PaidAt = timePtr(paidAt)
	return &split, nil
}
