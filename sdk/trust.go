package sdk

import (
	"context"
	"fmt"

	"github.com/stellar/go/txnbuild"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// TrustlineManager establishes trustlines for anchor-issued assets. Deposit
// flows call it when an anchor reports pending_trust; callers can also use it
// directly before initiating a transfer.
type TrustlineManager struct {
	client *Client
}

// NewTrustlineManager creates a TrustlineManager backed by the client's
// ledger connection.
func NewTrustlineManager(client *Client) *TrustlineManager {
	return &TrustlineManager{client: client}
}

// HasTrust reports whether the account already holds a trustline (or native
// balance line) for the asset.
func (m *TrustlineManager) HasTrust(ctx context.Context, account string, asset anchorclient.Asset) (bool, error) {
	if m.client.ledger == nil {
		return false, errors.NewLedgerError(errors.LEDGER_ERROR, "no ledger client configured; use WithLedger", nil)
	}
	detail, err := m.client.ledger.LoadAccount(ctx, account)
	if err != nil {
		return false, err
	}
	for _, balance := range detail.Balances {
		if balance.Asset == asset {
			return true, nil
		}
	}
	return false, nil
}

// EnsureTrust makes sure the signer's account trusts the asset, creating a
// trustline only when one does not already exist. The second call for the
// same asset performs no ledger operation. Returns true when a trustline was
// created by this call.
func (m *TrustlineManager) EnsureTrust(ctx context.Context, signer anchorclient.Signer, asset anchorclient.Asset) (bool, error) {
	if asset.IsNative() {
		return false, nil
	}
	if asset.Code == "" || asset.Issuer == "" {
		return false, errors.NewLedgerError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("asset %q needs both code and issuer for a trustline", asset),
			nil,
		)
	}

	trusted, err := m.HasTrust(ctx, signer.PublicKey(), asset)
	if err != nil {
		return false, err
	}
	if trusted {
		return false, nil
	}

	m.client.logInstruction("establishing trustline", asset.String())

	_, err = m.client.submitOps(ctx, signer, nil, &txnbuild.ChangeTrust{
		Line: txnbuild.ChangeTrustAssetWrapper{
			Asset: txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer},
		},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
