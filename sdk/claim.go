package sdk

import (
	"context"

	"github.com/stellar/go/txnbuild"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// ClaimableBalanceClaimer collects deposits delivered as claimable balances.
// Anchors use them for accounts that cannot receive a direct payment yet;
// claiming needs a trustline first, which the claimer establishes on demand.
type ClaimableBalanceClaimer struct {
	client *Client
}

// NewClaimableBalanceClaimer creates a claimer backed by the client's ledger
// connection.
func NewClaimableBalanceClaimer(client *Client) *ClaimableBalanceClaimer {
	return &ClaimableBalanceClaimer{client: client}
}

// Pending lists the claimable balances the account can claim for the asset.
func (c *ClaimableBalanceClaimer) Pending(ctx context.Context, account string, asset anchorclient.Asset) ([]anchorclient.ClaimableBalance, error) {
	if c.client.ledger == nil {
		return nil, errors.NewLedgerError(errors.LEDGER_ERROR, "no ledger client configured; use WithLedger", nil)
	}
	return c.client.ledger.ClaimableBalances(ctx, account, asset)
}

// Claim establishes the asset trustline if needed and claims the balance
// into the signer's account.
func (c *ClaimableBalanceClaimer) Claim(ctx context.Context, signer anchorclient.Signer, balance anchorclient.ClaimableBalance) (*anchorclient.SubmitResult, error) {
	if balance.ID == "" {
		return nil, errors.NewLedgerError(errors.VALIDATION_FAILED, "claimable balance needs an id", nil)
	}

	if _, err := NewTrustlineManager(c.client).EnsureTrust(ctx, signer, balance.Asset); err != nil {
		return nil, err
	}

	c.client.logInstruction("claiming balance", balance.ID)
	return c.client.submitOps(ctx, signer, nil, &txnbuild.ClaimClaimableBalance{
		BalanceID: balance.ID,
	})
}
