package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/costledger/core"
)

// =============================================================================
// INVOICES (core.InvoiceStore)
// =============================================================================

const invoiceColumns = `id, number, group_id, period_start, period_end, total, currency,
	status, due_date, paid_at, created_by, created_at, updated_at`

// InsertInvoice writes the invoice and all of its items. Callers wanting
// the items and the invoiced flag flip to be atomic run it inside WithTx.
func (c *conn) InsertInvoice(ctx context.Context, inv core.Invoice) error {
	_, err := c.exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID, inv.Number, inv.GroupID, ts(inv.PeriodStart), ts(inv.PeriodEnd),
		inv.Total, inv.Currency, inv.Status, ts(inv.DueDate), nullTime(inv.PaidAt),
		inv.CreatedBy, ts(inv.CreatedAt), ts(inv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	for _, item := range inv.Items {
		_, err := c.exec(ctx, `
			INSERT INTO invoice_items (id, invoice_id, cost_id, description, amount)
			VALUES (?, ?, ?, ?, ?)
		`, item.ID, inv.ID, item.CostID, item.Description, item.Amount)
		if err != nil {
			return fmt.Errorf("failed to insert invoice item for cost %s: %w", item.CostID, err)
		}
	}
	return nil
}

func (c *conn) GetInvoice(ctx context.Context, id core.InvoiceID) (*core.Invoice, error) {
	row := c.queryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, notFound(err, core.ErrInvoiceNotFound)
	}

	rows, err := c.query(ctx, `
		SELECT i.id, i.invoice_id, i.cost_id, i.description, i.amount
		FROM invoice_items i
		JOIN costs c ON c.id = i.cost_id
		WHERE i.invoice_id = ?
		ORDER BY c.cost_date, i.id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item core.InvoiceItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.CostID, &item.Description, &item.Amount); err != nil {
			return nil, err
		}
		inv.Items = append(inv.Items, item)
	}
	return inv, rows.Err()
}

func (c *conn) ListInvoicesByGroup(ctx context.Context, groupID core.GroupID) ([]core.Invoice, error) {
	return c.queryInvoices(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE group_id = ?
		ORDER BY created_at DESC, id
	`, groupID)
}

func (c *conn) ListInvoicesDueBefore(ctx context.Context, status core.InvoiceStatus, t time.Time) ([]core.Invoice, error) {
	return c.queryInvoices(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE status = ? AND due_date < ?
		ORDER BY due_date, id
	`, status, ts(t))
}

func (c *conn) TransitionInvoice(ctx context.Context, id core.InvoiceID, from []core.InvoiceStatus, to core.InvoiceStatus, paidAt *time.Time, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{to, nullTime(paidAt), ts(at), id}
	for _, s := range from {
		args = append(args, s)
	}

	res, err := c.exec(ctx, `
		UPDATE invoices SET status = ?, paid_at = COALESCE(?, paid_at), updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *conn) queryInvoices(ctx context.Context, query string, args ...any) ([]core.Invoice, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []core.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(s scanner) (*core.Invoice, error) {
	var inv core.Invoice
	var paidAt sql.NullTime
	if err := s.Scan(
		&inv.ID, &inv.Number, &inv.GroupID, &inv.PeriodStart, &inv.PeriodEnd,
		&inv.Total, &inv.Currency, &inv.Status, &inv.DueDate, &paidAt,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inv.PeriodStart = inv.PeriodStart.UTC()
	inv.PeriodEnd = inv.PeriodEnd.UTC()
	inv.DueDate = inv.DueDate.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	inv.PaidAt = timePtr(paidAt)
	return &inv, nil
}

// =============================================================================
// MEMBERSHIP (core.MembershipStore)
// =============================================================================

func (c *conn) ReplaceGroupOwners(ctx context.Context, groupID core.GroupID, owners []core.Owner) error {
	if _, err := c.exec(ctx, `DELETE FROM group_owners WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("failed to clear group owners: %w", err)
	}
	for i, o := range owners {
		_, err := c.exec(ctx, `
			INSERT INTO group_owners (group_id, user_id, percentage, position)
			VALUES (?, ?, ?, ?)
		`, groupID, o.UserID, o.Percentage, i)
		if err != nil {
			return fmt.Errorf("failed to insert group owner %s: %w", o.UserID, err)
		}
	}
	return nil
}

func (c *conn) ListGroupOwners(ctx context.Context, groupID core.GroupID) ([]core.Owner, error) {
	rows, err := c.query(ctx, `
		SELECT user_id, percentage FROM group_owners
		WHERE group_id = ?
		ORDER BY position
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []core.Owner
	for rows.Next() {
		var o core.Owner
		if err := rows.Scan(&o.UserID, &o.Percentage); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// =============================================================================
// NOTIFICATIONS (core.NotificationStore)
// =============================================================================

func (c *conn) InsertNotification(ctx context.Context, n core.Notification) error {
	_, err := c.exec(ctx, `
		INSERT INTO notifications (id, recipient_id, event, message, entity_type, entity_id, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.RecipientID, n.Event, n.Message, n.EntityType, n.EntityID, ts(n.CreatedAt), nullTime(n.ReadAt))
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (c *conn) ListNotifications(ctx context.Context, recipient core.UserID, limit int) ([]core.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.query(ctx, `
		SELECT id, recipient_id, event, message, entity_type, entity_id, created_at, read_at
		FROM notifications
		WHERE recipient_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`, recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var n core.Notification
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Event, &n.Message, &n.EntityType, &n.EntityID, &n.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		n.CreatedAt = n.CreatedAt.UTC()
		n.ReadAt = timePtr(readAt)
		out = append(out, n)
	}
	return out, rows.Err()
}
