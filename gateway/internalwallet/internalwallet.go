// Package internalwallet pays a split from the payer's own wallet.
//
// There is no external round-trip and no callback: the debit is the
// payment. The reconciler calls CreateIntentTx inside its settle
// transaction so the debit, the payment completion and the split update
// commit or roll back together.
package internalwallet

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warp/costledger/core"
	"github.com/warp/costledger/gateway"
	"github.com/warp/costledger/wallet"
)

const ProviderName = "internal"

// Gateway debits the payer's user wallet.
type Gateway struct {
	wallets *wallet.Ledger
	store   core.TxStore
}

var _ gateway.InlineGateway = (*Gateway)(nil)

func New(wallets *wallet.Ledger, store core.TxStore) *Gateway {
	return &Gateway{wallets: wallets, store: store}
}

func (g *Gateway) Method() core.PaymentMethod { return core.MethodInternalWallet }
func (g *Gateway) Provider() string           { return ProviderName }

// CreateIntent debits in its own transaction.
func (g *Gateway) CreateIntent(ctx context.Context, in gateway.Intent) (*gateway.ProviderResponse, error) {
	var resp *gateway.ProviderResponse
	err := g.store.WithTx(ctx, func(tx core.Store) error {
		r, err := g.CreateIntentTx(ctx, tx, in)
		resp = r
		return err
	})
	return resp, err
}

// CreateIntentTx debits the payer's wallet inside the caller's transaction.
func (g *Gateway) CreateIntentTx(ctx context.Context, tx core.Store, in gateway.Intent) (*gateway.ProviderResponse, error) {
	w, err := g.wallets.GetOrCreateWalletTx(ctx, tx, core.OwnerUser, string(in.PayerID), in.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to load payer wallet: %w", err)
	}

	wtx, err := g.wallets.ApplyDeltaTx(ctx, tx, w.ID, in.Amount.Neg(), wallet.TxMeta{
		Type:          core.WalletExpense,
		ReferenceType: "payment",
		ReferenceID:   string(in.PaymentID),
		Description:   in.Description,
	})
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(map[string]string{
		"wallet_id":             string(w.ID),
		"wallet_transaction_id": wtx.ID,
		"balance_after":         wtx.BalanceAfter.String(),
	})
	return &gateway.ProviderResponse{
		ProviderTxnID: in.ProviderTxnID,
		Completed:     true,
		Raw:           string(raw),
	}, nil
}

// VerifyCallback always fails: the internal wallet never calls back.
func (g *Gateway) VerifyCallback(context.Context, gateway.Callback) (*gateway.Verification, error) {
	return nil, fmt.Errorf("%w: %s", core.ErrCallbackUnsupported, ProviderName)
}
