package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/costledger/core"
)

// =============================================================================
// PAYMENTS (core.PaymentStore)
// =============================================================================

const paymentColumns = `id, split_id, payer_id, amount, currency, method, provider, status,
	provider_txn_id, provider_response, failure_reason, created_at, updated_at, completed_at`

func (c *conn) InsertPayment(ctx context.Context, p core.Payment) error {
	_, err := c.exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.SplitID, p.PayerID, p.Amount, p.Currency, p.Method, p.Provider, p.Status,
		p.ProviderTxnID, p.ProviderResponse, p.FailureReason,
		ts(p.CreatedAt), ts(p.UpdatedAt), nullTime(p.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (c *conn) GetPayment(ctx context.Context, id core.PaymentID) (*core.Payment, error) {
	row := c.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err, core.ErrPaymentNotFound)
	}
	return p, nil
}

func (c *conn) GetPaymentByProviderTxnID(ctx context.Context, providerTxnID string) (*core.Payment, error) {
	row := c.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_txn_id = ?`, providerTxnID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err, core.ErrPaymentNotFound)
	}
	return p, nil
}

func (c *conn) ListPaymentsBySplit(ctx context.Context, splitID core.SplitID) ([]core.Payment, error) {
	return c.queryPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE split_id = ?
		ORDER BY created_at, id
	`, splitID)
}

func (c *conn) ListPaymentsByStatus(ctx context.Context, statuses []core.PaymentStatus, createdBefore time.Time) ([]core.Payment, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses)+1)
	for _, s := range statuses {
		args = append(args, s)
	}
	args = append(args, ts(createdBefore))

	return c.queryPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status IN (`+placeholders(len(statuses))+`) AND created_at < ?
		ORDER BY created_at, id
	`, args...)
}

// TransitionPayment is the check-and-set every status change goes through.
// Of two concurrent callers moving the same payment out of the same state,
// exactly one sees true.
func (c *conn) TransitionPayment(ctx context.Context, id core.PaymentID, from []core.PaymentStatus, to core.PaymentStatus, u core.PaymentUpdate) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	set := `status = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)`
	args := []any{to, ts(u.At), nullTime(u.CompletedAt)}
	if u.ProviderResponse != nil {
		set += `, provider_response = ?`
		args = append(args, *u.ProviderResponse)
	}
	if u.FailureReason != "" {
		set += `, failure_reason = ?`
		args = append(args, u.FailureReason)
	}

	args = append(args, id)
	for _, s := range from {
		args = append(args, s)
	}

	res, err := c.exec(ctx, `
		UPDATE payments SET `+set+`
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *conn) queryPayments(ctx context.Context, query string, args ...any) ([]core.Payment, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []core.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(s scanner) (*core.Payment, error) {
	var p core.Payment
	var completedAt sql.NullTime
	if err := s.Scan(
		&p.ID, &p.SplitID, &p.PayerID, &p.Amount, &p.Currency, &p.Method, &p.Provider, &p.Status,
		&p.ProviderTxnID, &p.ProviderResponse, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.CompletedAt = timePtr(completedAt)
	return &p, nil
}
