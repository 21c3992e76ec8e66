package sdk

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/core/crypto"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// TransferTransaction is one transfer record as reported by a SEP-6 or
// SEP-24 transfer server's /transaction endpoint.
type TransferTransaction struct {
	ID                    string                `json:"id"`
	Kind                  string                `json:"kind"`
	Status                anchorclient.TxStatus `json:"status"`
	StatusETA             int64                 `json:"status_eta"`
	MoreInfoURL           string                `json:"more_info_url"`
	AmountIn              string                `json:"amount_in"`
	AmountOut             string                `json:"amount_out"`
	AmountFee             string                `json:"amount_fee"`
	DepositMemo           string                `json:"deposit_memo"`
	DepositMemoType       string                `json:"deposit_memo_type"`
	WithdrawAnchorAccount string                `json:"withdraw_anchor_account"`
	WithdrawMemo          string                `json:"withdraw_memo"`
	WithdrawMemoType      string                `json:"withdraw_memo_type"`
	StellarTransactionID  string                `json:"stellar_transaction_id"`
	ExternalTransactionID string                `json:"external_transaction_id"`
	Message               string                `json:"message"`
	ClaimableBalanceID    string                `json:"claimable_balance_id"`
}

// fetchTransferTransaction retrieves one transaction record from a transfer
// server. Both the SEP-6 and SEP-24 pollers use this shape.
func (c *Client) fetchTransferTransaction(ctx context.Context, transferServer, token, id string) (*TransferTransaction, error) {
	query := url.Values{}
	query.Set("id", id)

	var body struct {
		Transaction TransferTransaction `json:"transaction"`
		Error       string              `json:"error"`
	}
	resp, err := c.httpClient.GetJSON(ctx, transferServer+"/transaction?"+query.Encode(), token, &body)
	if err != nil {
		return nil, errors.NewTransferError(errors.POLL_FAILED, "failed to fetch transaction status", err)
	}
	if resp.StatusCode != 200 {
		return nil, errors.NewTransferError(
			errors.POLL_FAILED,
			fmt.Sprintf("GET /transaction returned status %d", resp.StatusCode),
			nil,
		)
	}
	return &body.Transaction, nil
}

// flowBase carries the bookkeeping shared by all transfer orchestrators:
// the flow record, its optional store, and lifecycle hooks. State changes go
// through setState so every flow enforces the same transition rules.
type flowBase struct {
	client *Client
	record *anchorclient.FlowRecord
	store  anchorclient.FlowStore
	hooks  *HookRegistry
}

// FlowOption configures a transfer flow at construction time.
type FlowOption func(*flowBase)

// WithFlowStore persists flow record snapshots to the given store.
func WithFlowStore(store anchorclient.FlowStore) FlowOption {
	return func(f *flowBase) {
		f.store = store
	}
}

// WithFlowHooks wires a lifecycle hook registry into the flow.
func WithFlowHooks(hooks *HookRegistry) FlowOption {
	return func(f *flowBase) {
		f.hooks = hooks
	}
}

func newFlowBase(client *Client, request anchorclient.TransferRequest, opts ...FlowOption) flowBase {
	id, err := crypto.GenerateNonce(12)
	if err != nil {
		// rand.Read failing means the process is in a bad way; a
		// deterministic fallback id keeps record bookkeeping alive.
		id = hex.EncodeToString([]byte(string(request.Variant) + request.Asset.String()))
	}
	base := flowBase{
		client: client,
		record: &anchorclient.FlowRecord{
			ID:      id,
			Request: request,
			State:   anchorclient.StateInitiated,
		},
	}
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

// Record returns a copy of the flow's current record.
func (f *flowBase) Record() anchorclient.FlowRecord {
	return *f.record
}

// State returns the flow's current state.
func (f *flowBase) State() anchorclient.FlowState {
	return f.record.State
}

func (f *flowBase) setState(ctx context.Context, to anchorclient.FlowState) error {
	if to == f.record.State {
		return nil
	}
	if err := ValidateTransition(f.record.State, to); err != nil {
		return err
	}
	f.record.State = to
	f.persist(ctx)
	if f.hooks != nil {
		f.hooks.Trigger(HookStateChanged, f.record)
	}
	return nil
}

func (f *flowBase) setStatus(ctx context.Context, status anchorclient.TxStatus) {
	if status == f.record.Status {
		return
	}
	f.record.Status = status
	f.persist(ctx)
	if f.hooks != nil {
		f.hooks.Trigger(HookStatusChanged, f.record)
	}
}

// fail moves the flow to its terminal error state and returns err unchanged
// so callers can propagate it in one expression.
func (f *flowBase) fail(ctx context.Context, err error) error {
	f.record.ErrorString = err.Error()
	f.record.State = anchorclient.StateError
	f.persist(ctx)
	if f.hooks != nil {
		f.hooks.Trigger(HookStateChanged, f.record)
	}
	f.client.logError("transfer failed", err.Error())
	return err
}

func (f *flowBase) trigger(event HookEvent) {
	if f.hooks != nil {
		f.hooks.Trigger(event, f.record)
	}
}

func (f *flowBase) persist(ctx context.Context) {
	if f.store == nil {
		return
	}
	if err := f.store.Save(ctx, f.record); err != nil {
		f.client.logError("failed to persist flow record", err.Error())
	}
}

// transferTracker drives the poll loop shared by the SEP-6 and SEP-24 flows:
// fetch the transaction record, perform the ledger side actions certain
// statuses demand, and stop on a terminal status. Side actions run at most
// once per transfer.
type transferTracker struct {
	flow           *flowBase
	signer         anchorclient.Signer
	transferServer string
	token          string
	txID           string
	direction      anchorclient.Direction
	asset          anchorclient.Asset
	cancel         func() bool

	last        *TransferTransaction
	trustDone   bool
	paymentSent bool
	claimed     bool
}

func (t *transferTracker) run(ctx context.Context, poller *Poller, terminal []anchorclient.TxStatus) (anchorclient.TxStatus, error) {
	return poller.PollUntilTerminal(ctx, PollParams{
		Fetch: func(ctx context.Context) (anchorclient.TxStatus, error) {
			tx, err := t.flow.client.fetchTransferTransaction(ctx, t.transferServer, t.token, t.txID)
			if err != nil {
				return "", err
			}
			t.last = tx
			if err := t.react(ctx, tx); err != nil {
				return "", err
			}
			return tx.Status, nil
		},
		Terminal: terminal,
		OnChange: func(status anchorclient.TxStatus) {
			t.flow.setStatus(ctx, status)
		},
		Cancel: t.cancel,
	})
}

// react performs the ledger action a status asks of the client: establish a
// trustline on pending_trust, send the withdrawal payment on
// pending_user_transfer_start, claim a claimable-balance deposit on
// completion.
func (t *transferTracker) react(ctx context.Context, tx *TransferTransaction) error {
	switch tx.Status {
	case anchorclient.TxStatusPendingTrust:
		if t.trustDone {
			return nil
		}
		created, err := NewTrustlineManager(t.flow.client).EnsureTrust(ctx, t.signer, t.asset)
		if err != nil {
			return err
		}
		t.trustDone = true
		if created {
			t.flow.trigger(HookTrustEstablished)
		}

	case anchorclient.TxStatusPendingUserTransferStart:
		if t.direction != anchorclient.DirectionWithdraw || t.paymentSent {
			return nil
		}
		anchorAccount := tx.WithdrawAnchorAccount
		if anchorAccount == "" {
			return errors.NewTransferError(
				errors.PROTOCOL_VIOLATION,
				"anchor requested a withdrawal payment without a withdraw_anchor_account",
				nil,
			)
		}
		amount := tx.AmountIn
		if amount == "" {
			amount = t.flow.record.Request.Amount
		}
		_, err := NewPaymentSubmitter(t.flow.client).Submit(ctx, t.signer, PaymentParams{
			Destination: anchorAccount,
			Asset:       t.asset,
			Amount:      amount,
			Memo:        tx.WithdrawMemo,
			MemoType:    tx.WithdrawMemoType,
		})
		if err != nil {
			return err
		}
		t.paymentSent = true
		t.flow.trigger(HookPaymentSent)

	case anchorclient.TxStatusCompleted:
		if t.direction != anchorclient.DirectionDeposit || tx.ClaimableBalanceID == "" || t.claimed {
			return nil
		}
		_, err := NewClaimableBalanceClaimer(t.flow.client).Claim(ctx, t.signer, anchorclient.ClaimableBalance{
			ID:    tx.ClaimableBalanceID,
			Asset: t.asset,
		})
		if err != nil {
			return err
		}
		t.claimed = true
		t.flow.trigger(HookBalanceClaimed)
	}
	return nil
}
