package sdk

import (
	"context"

	"github.com/stellar/go/txnbuild"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// txTimeout bounds every transaction built here. Anchors and Horizon both
// reject transactions without time bounds on current protocol versions.
const txTimeout = 300

// buildSignedTx builds a transaction carrying the given operations from the
// signer's account and signs it without submitting. Regulated-asset flows
// need the signed envelope before any ledger write happens.
func (c *Client) buildSignedTx(ctx context.Context, signer anchorclient.Signer, memo txnbuild.Memo, ops ...txnbuild.Operation) (string, error) {
	if c.ledger == nil {
		return "", errors.NewLedgerError(errors.LEDGER_ERROR, "no ledger client configured; use WithLedger", nil)
	}

	account, err := c.ledger.LoadAccount(ctx, signer.PublicKey())
	if err != nil {
		return "", err
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{
			AccountID: account.ID,
			Sequence:  account.Sequence,
		},
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              c.baseFee,
		Memo:                 memo,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(txTimeout),
		},
	})
	if err != nil {
		return "", errors.NewLedgerError(errors.LEDGER_ERROR, "failed to build transaction", err)
	}

	unsigned, err := tx.Base64()
	if err != nil {
		return "", errors.NewLedgerError(errors.LEDGER_ERROR, "failed to encode transaction", err)
	}

	return signer.SignTransaction(ctx, unsigned, c.networkPassphrase)
}

// submitOps builds a transaction from the signer's account, signs it, and
// submits it to the ledger. Every ledger write in the SDK funnels through
// here so sequence handling and fee policy live in one place.
func (c *Client) submitOps(ctx context.Context, signer anchorclient.Signer, memo txnbuild.Memo, ops ...txnbuild.Operation) (*anchorclient.SubmitResult, error) {
	signed, err := c.buildSignedTx(ctx, signer, memo, ops...)
	if err != nil {
		return nil, err
	}

	result, err := c.ledger.SubmitTransaction(ctx, signed)
	if err != nil {
		return nil, err
	}
	c.logResponse("transaction submitted", map[string]any{
		"hash":       result.Hash,
		"ledger":     result.Ledger,
		"successful": result.Successful,
	})
	return result, nil
}
