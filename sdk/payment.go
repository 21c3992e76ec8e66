package sdk

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// PaymentParams describes one payment to an anchor-designated destination.
// MemoType is the anchor's declared type ("text", "id", or "hash"); hash
// memos arrive base64-encoded, some anchors send hex.
type PaymentParams struct {
	Destination string
	Asset       anchorclient.Asset
	Amount      string
	Memo        string
	MemoType    string
}

// PaymentSubmitter sends single-payment transactions to the ledger. Withdraw
// and direct-payment flows use it to move user funds to the anchor's
// distribution account.
type PaymentSubmitter struct {
	client *Client
}

// NewPaymentSubmitter creates a PaymentSubmitter backed by the client's
// ledger connection.
func NewPaymentSubmitter(client *Client) *PaymentSubmitter {
	return &PaymentSubmitter{client: client}
}

// Submit builds, signs, and submits a transaction carrying exactly one
// operation. When the destination account does not exist yet a native payment
// becomes a create-account operation; issued assets require an existing
// destination with a trustline.
func (s *PaymentSubmitter) Submit(ctx context.Context, signer anchorclient.Signer, params PaymentParams) (*anchorclient.SubmitResult, error) {
	if _, err := keypair.ParseAddress(params.Destination); err != nil {
		return nil, errors.NewLedgerError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("destination %q is not a valid account address", params.Destination),
			err,
		)
	}
	if _, err := amount.ParseInt64(params.Amount); err != nil {
		return nil, errors.NewLedgerError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("amount %q is not a valid asset amount", params.Amount),
			err,
		)
	}
	memo, err := memoFromType(params.Memo, params.MemoType)
	if err != nil {
		return nil, err
	}
	if s.client.ledger == nil {
		return nil, errors.NewLedgerError(errors.LEDGER_ERROR, "no ledger client configured; use WithLedger", nil)
	}

	op, err := s.paymentOp(ctx, params)
	if err != nil {
		return nil, err
	}

	s.client.logInstruction("submitting payment", map[string]any{
		"destination": params.Destination,
		"asset":       params.Asset.String(),
		"amount":      params.Amount,
	})
	return s.client.submitOps(ctx, signer, memo, op)
}

// paymentOp picks between payment and create-account based on whether the
// destination exists on the ledger.
func (s *PaymentSubmitter) paymentOp(ctx context.Context, params PaymentParams) (txnbuild.Operation, error) {
	_, err := s.client.ledger.LoadAccount(ctx, params.Destination)
	if err == nil {
		return &txnbuild.Payment{
			Destination: params.Destination,
			Asset:       toTxnbuildAsset(params.Asset),
			Amount:      params.Amount,
		}, nil
	}
	if errors.CodeOf(err) != errors.ACCOUNT_NOT_FOUND {
		return nil, err
	}
	if !params.Asset.IsNative() {
		return nil, errors.NewLedgerError(
			errors.ACCOUNT_NOT_FOUND,
			fmt.Sprintf("destination %s does not exist; only native payments can create accounts", params.Destination),
			err,
		)
	}
	return &txnbuild.CreateAccount{
		Destination: params.Destination,
		Amount:      params.Amount,
	}, nil
}

// SufficientBalance reports whether the account holds at least amountStr of
// the asset. Flows check this before submitting rather than burning a fee on
// an underfunded payment.
func (s *PaymentSubmitter) SufficientBalance(ctx context.Context, account string, asset anchorclient.Asset, amountStr string) (bool, error) {
	if s.client.ledger == nil {
		return false, errors.NewLedgerError(errors.LEDGER_ERROR, "no ledger client configured; use WithLedger", nil)
	}
	needed, err := amount.ParseInt64(amountStr)
	if err != nil {
		return false, errors.NewLedgerError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("amount %q is not a valid asset amount", amountStr),
			err,
		)
	}
	detail, err := s.client.ledger.LoadAccount(ctx, account)
	if err != nil {
		return false, err
	}
	for _, balance := range detail.Balances {
		if balance.Asset != asset {
			continue
		}
		held, err := amount.ParseInt64(balance.Amount)
		if err != nil {
			return false, errors.NewLedgerError(errors.LEDGER_ERROR, "ledger returned an unparseable balance", err)
		}
		return held >= needed, nil
	}
	return false, nil
}

func toTxnbuildAsset(asset anchorclient.Asset) txnbuild.Asset {
	if asset.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer}
}

// memoFromType converts an anchor-supplied memo and type to a transaction
// memo. Hash memos are decoded from base64 first, hex as a fallback.
func memoFromType(memoStr, memoType string) (txnbuild.Memo, error) {
	if memoStr == "" {
		return nil, nil
	}
	switch memoType {
	case "", "text":
		if len(memoStr) > 28 {
			return nil, errors.NewLedgerError(
				errors.VALIDATION_FAILED,
				fmt.Sprintf("text memo %q exceeds 28 bytes", memoStr),
				nil,
			)
		}
		return txnbuild.MemoText(memoStr), nil
	case "id":
		id, err := strconv.ParseUint(memoStr, 10, 64)
		if err != nil {
			return nil, errors.NewLedgerError(
				errors.VALIDATION_FAILED,
				fmt.Sprintf("id memo %q is not an unsigned integer", memoStr),
				err,
			)
		}
		return txnbuild.MemoID(id), nil
	case "hash":
		raw, err := base64.StdEncoding.DecodeString(memoStr)
		if err != nil {
			raw, err = hex.DecodeString(memoStr)
		}
		if err != nil || len(raw) != 32 {
			return nil, errors.NewLedgerError(
				errors.VALIDATION_FAILED,
				fmt.Sprintf("hash memo %q is not a 32-byte base64 or hex value", memoStr),
				err,
			)
		}
		var hash txnbuild.MemoHash
		copy(hash[:], raw)
		return hash, nil
	default:
		return nil, errors.NewLedgerError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("unsupported memo type %q", memoType),
			nil,
		)
	}
}
