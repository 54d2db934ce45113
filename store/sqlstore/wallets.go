package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
)

// =============================================================================
// WALLETS (core.WalletStore)
// =============================================================================

const walletColumns = `id, owner_type, owner_id, balance, currency, created_at, updated_at`

// EnsureWallet is a single insert-on-conflict-do-nothing followed by a read,
// so two first-access requests can never create two wallets for one owner.
func (c *conn) EnsureWallet(ctx context.Context, w core.Wallet) (*core.Wallet, error) {
	_, err := c.exec(ctx, `
		INSERT INTO wallets (`+walletColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_type, owner_id, currency) DO NOTHING
	`, w.ID, w.OwnerType, w.OwnerID, w.Balance, w.Currency, ts(w.CreatedAt), ts(w.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}
	return c.FindWallet(ctx, w.OwnerType, w.OwnerID, w.Currency)
}

func (c *conn) GetWallet(ctx context.Context, id core.WalletID) (*core.Wallet, error) {
	row := c.queryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id)
	w, err := scanWallet(row)
	if err != nil {
		return nil, notFound(err, core.ErrWalletNotFound)
	}
	return w, nil
}

func (c *conn) GetWalletForUpdate(ctx context.Context, id core.WalletID) (*core.Wallet, error) {
	row := c.queryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`+c.forUpdate(), id)
	w, err := scanWallet(row)
	if err != nil {
		return nil, notFound(err, core.ErrWalletNotFound)
	}
	return w, nil
}

func (c *conn) FindWallet(ctx context.Context, ownerType core.OwnerType, ownerID, currency string) (*core.Wallet, error) {
	row := c.queryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets
		WHERE owner_type = ? AND owner_id = ? AND currency = ?
	`, ownerType, ownerID, currency)
	w, err := scanWallet(row)
	if err != nil {
		return nil, notFound(err, core.ErrWalletNotFound)
	}
	return w, nil
}

func (c *conn) UpdateWalletBalance(ctx context.Context, id core.WalletID, balance decimal.Decimal, at time.Time) error {
	res, err := c.exec(ctx, `UPDATE wallets SET balance = ?, updated_at = ? WHERE id = ?`, balance, ts(at), id)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrWalletNotFound
	}
	return nil
}

func (c *conn) InsertWalletTransaction(ctx context.Context, tx core.WalletTransaction) error {
	_, err := c.exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, amount, balance_after,
			reference_type, reference_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.WalletID, tx.Type, tx.Amount, tx.BalanceAfter,
		tx.ReferenceType, tx.ReferenceID, tx.Description, ts(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert wallet transaction: %w", err)
	}
	return nil
}

func (c *conn) ListWalletTransactions(ctx context.Context, id core.WalletID, limit, offset int) ([]core.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := c.query(ctx, `
		SELECT id, wallet_id, type, amount, balance_after, reference_type, reference_id,
			description, created_at
		FROM wallet_transactions
		WHERE wallet_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []core.WalletTransaction
	for rows.Next() {
		var tx core.WalletTransaction
		if err := rows.Scan(
			&tx.ID, &tx.WalletID, &tx.Type, &tx.Amount, &tx.BalanceAfter,
			&tx.ReferenceType, &tx.ReferenceID, &tx.Description, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanWallet(s scanner) (*core.Wallet, error) {
	var w core.Wallet
	if err := s.Scan(&w.ID, &w.OwnerType, &w.OwnerID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}
