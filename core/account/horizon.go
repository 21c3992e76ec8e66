// Package account provides a Horizon-backed implementation of the
// anchorclient.LedgerClient contract.
package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// HorizonLedger implements anchorclient.LedgerClient against a Horizon server.
type HorizonLedger struct {
	client *horizonclient.Client
}

// NewHorizonLedger creates a LedgerClient backed by the given Horizon URL.
func NewHorizonLedger(horizonURL string) *HorizonLedger {
	return &HorizonLedger{
		client: &horizonclient.Client{HorizonURL: horizonURL},
	}
}

// LoadAccount returns the sequence number and balance set for an account.
// Unfunded accounts yield an ACCOUNT_NOT_FOUND error so callers can branch to
// account creation.
func (l *HorizonLedger) LoadAccount(ctx context.Context, accountID string) (*anchorclient.AccountDetail, error) {
	acct, err := l.client.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, errors.NewLedgerError(errors.ACCOUNT_NOT_FOUND, fmt.Sprintf("account %s not found", accountID), err)
		}
		return nil, errors.NewLedgerError(errors.LEDGER_ERROR, fmt.Sprintf("failed to load account %s", accountID), err)
	}

	seq, err := acct.GetSequenceNumber()
	if err != nil {
		return nil, errors.NewLedgerError(errors.LEDGER_ERROR, "failed to parse account sequence number", err)
	}

	detail := &anchorclient.AccountDetail{
		ID:       acct.AccountID,
		Sequence: seq,
	}
	for _, b := range acct.Balances {
		asset := anchorclient.Asset{}
		if b.Type != "native" {
			asset = anchorclient.Asset{Code: b.Code, Issuer: b.Issuer}
		}
		detail.Balances = append(detail.Balances, anchorclient.Balance{
			Asset:  asset,
			Amount: b.Balance,
		})
	}
	return detail, nil
}

// SubmitTransaction submits a signed envelope and returns the Horizon
// response verbatim in Raw, with the common fields lifted out.
func (l *HorizonLedger) SubmitTransaction(ctx context.Context, signedXDR string) (*anchorclient.SubmitResult, error) {
	resp, err := l.client.SubmitTransactionXDR(signedXDR)
	if err != nil {
		return nil, errors.NewLedgerError(errors.LEDGER_ERROR, "transaction submission failed", err)
	}

	return &anchorclient.SubmitResult{
		Hash:        resp.Hash,
		Ledger:      resp.Ledger,
		Successful:  resp.Successful,
		EnvelopeXDR: resp.EnvelopeXdr,
		ResultXDR:   resp.ResultXdr,
		Raw:         resp,
	}, nil
}

// AssetExists reports whether the ledger knows an asset with the given code
// and issuer.
func (l *HorizonLedger) AssetExists(ctx context.Context, asset anchorclient.Asset) (bool, error) {
	if asset.IsNative() {
		return true, nil
	}
	page, err := l.client.Assets(horizonclient.AssetRequest{
		ForAssetCode:   asset.Code,
		ForAssetIssuer: asset.Issuer,
	})
	if err != nil {
		return false, errors.NewLedgerError(errors.LEDGER_ERROR, fmt.Sprintf("failed to look up asset %s", asset), err)
	}
	return len(page.Embedded.Records) > 0, nil
}

// ClaimableBalances lists claimable balances the account may claim, filtered
// by asset when one is given.
func (l *HorizonLedger) ClaimableBalances(ctx context.Context, claimant string, asset anchorclient.Asset) ([]anchorclient.ClaimableBalance, error) {
	req := horizonclient.ClaimableBalanceRequest{Claimant: claimant}
	if !asset.IsNative() {
		req.Asset = asset.Code + ":" + asset.Issuer
	}
	page, err := l.client.ClaimableBalances(req)
	if err != nil {
		return nil, errors.NewLedgerError(errors.LEDGER_ERROR, "failed to list claimable balances", err)
	}

	var out []anchorclient.ClaimableBalance
	for _, record := range page.Embedded.Records {
		out = append(out, anchorclient.ClaimableBalance{
			ID:     record.BalanceID,
			Asset:  parseAssetString(record.Asset),
			Amount: record.Amount,
		})
	}
	return out, nil
}

func parseAssetString(s string) anchorclient.Asset {
	if s == "" || s == "native" {
		return anchorclient.Asset{}
	}
	code, issuer, ok := strings.Cut(s, ":")
	if !ok {
		return anchorclient.Asset{Code: s}
	}
	return anchorclient.Asset{Code: code, Issuer: issuer}
}

// Verify that HorizonLedger implements anchorclient.LedgerClient
var _ anchorclient.LedgerClient = (*HorizonLedger)(nil)
