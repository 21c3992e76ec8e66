package sdk

import (
	"context"
	"fmt"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// Sep8Step is the approval pipeline position of a regulated payment.
type Sep8Step string

const (
	Sep8Starting       Sep8Step = "STARTING"
	Sep8Pending        Sep8Step = "PENDING"
	Sep8ActionRequired Sep8Step = "ACTION_REQUIRED"
	Sep8Rejected       Sep8Step = "REJECTED"
	Sep8Revised        Sep8Step = "TRANSACTION_REVISED"
	Sep8Complete       Sep8Step = "COMPLETE"
)

// Sep8Action describes what the approval server wants from the user before
// it will reconsider the payment.
type Sep8Action struct {
	Message string
	URL     string
	Method  string
	Fields  []string
}

// maxRevisions bounds the sign-and-resubmit loop for revised transactions.
const maxRevisions = 3

// Sep8Flow authorizes and submits a payment in a regulated asset. The
// issuer's approval server sees every transaction before the ledger does;
// only an approval-returned envelope is ever submitted.
type Sep8Flow struct {
	client *Client
	signer anchorclient.Signer

	approvalServer string
	criteria       string
	step           Sep8Step

	approvedXDR  string
	action       *Sep8Action
	pendingDelay time.Duration
}

// NewSep8Flow creates a regulated payment flow against one approval server.
func NewSep8Flow(client *Client, signer anchorclient.Signer, approvalServer string) *Sep8Flow {
	return &Sep8Flow{
		client:         client,
		signer:         signer,
		approvalServer: approvalServer,
		step:           Sep8Starting,
	}
}

// NewSep8FlowFromDomain discovers the asset's approval server from the
// anchor's stellar.toml currency declaration.
func NewSep8FlowFromDomain(ctx context.Context, client *Client, signer anchorclient.Signer, homeDomain string, asset anchorclient.Asset) (*Sep8Flow, error) {
	info, err := client.tomlResolver.Resolve(ctx, homeDomain)
	if err != nil {
		return nil, err
	}
	currency, ok := info.Currency(asset.Code)
	if !ok {
		return nil, errors.NewTransferError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("stellar.toml for %s does not declare asset %s", homeDomain, asset.Code),
			nil,
		)
	}
	if !currency.Regulated || currency.ApprovalServer == "" {
		return nil, errors.NewTransferError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("asset %s is not declared as regulated with an approval server", asset.Code),
			nil,
		)
	}
	flow := NewSep8Flow(client, signer, currency.ApprovalServer)
	flow.criteria = currency.ApprovalCriteria
	return flow, nil
}

// Step returns the flow's current pipeline position.
func (f *Sep8Flow) Step() Sep8Step { return f.step }

// Criteria returns the issuer's approval criteria text when the flow was
// built from a stellar.toml declaration.
func (f *Sep8Flow) Criteria() string { return f.criteria }

// Action returns the approval server's outstanding demand when the step is
// ACTION_REQUIRED.
func (f *Sep8Flow) Action() *Sep8Action { return f.action }

// PendingDelay returns how long the approval server asked the client to wait
// when the step is PENDING.
func (f *Sep8Flow) PendingDelay() time.Duration { return f.pendingDelay }

// Authorize builds and signs the payment, then negotiates approval. Revised
// envelopes are signed and resubmitted to the approval server until it
// reports success; nothing reaches the ledger from here. On success the step
// is TRANSACTION_REVISED and SubmitPayment may run.
func (f *Sep8Flow) Authorize(ctx context.Context, params PaymentParams) (Sep8Step, error) {
	memo, err := memoFromType(params.Memo, params.MemoType)
	if err != nil {
		return f.step, err
	}

	if _, err := keypair.ParseAddress(params.Destination); err != nil {
		return f.step, errors.NewTransferError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("destination %q is not a valid account address", params.Destination),
			err,
		)
	}

	signed, err := f.client.buildSignedTx(ctx, f.signer, memo, &txnbuild.Payment{
		Destination: params.Destination,
		Asset:       toTxnbuildAsset(params.Asset),
		Amount:      params.Amount,
	})
	if err != nil {
		return f.step, err
	}

	for revision := 0; ; revision++ {
		decision, err := f.submitForApproval(ctx, signed)
		if err != nil {
			return f.step, err
		}

		switch decision.Status {
		case "success":
			f.approvedXDR = decision.Tx
			if f.approvedXDR == "" {
				f.approvedXDR = signed
			}
			f.step = Sep8Revised
			f.action = nil
			return f.step, nil

		case "revised":
			if decision.Tx == "" {
				return f.step, errors.NewTransferError(
					errors.PROTOCOL_VIOLATION,
					"approval server revised the transaction without returning it",
					nil,
				)
			}
			if revision >= maxRevisions {
				return f.step, errors.NewTransferError(
					errors.ANCHOR_REJECTED,
					fmt.Sprintf("approval server kept revising after %d rounds", maxRevisions),
					nil,
				)
			}
			f.client.logInstruction("transaction revised by approval server", decision.Message)
			signed, err = f.signer.SignTransaction(ctx, decision.Tx, f.client.networkPassphrase)
			if err != nil {
				return f.step, err
			}
			// Loop: the revised envelope goes back for approval before
			// any ledger submission.

		case "pending":
			f.step = Sep8Pending
			f.pendingDelay = time.Duration(decision.Timeout) * time.Millisecond
			return f.step, nil

		case "action_required":
			f.step = Sep8ActionRequired
			f.action = &Sep8Action{
				Message: decision.Message,
				URL:     decision.ActionURL,
				Method:  decision.ActionMethod,
				Fields:  decision.ActionFields,
			}
			return f.step, nil

		case "rejected":
			f.step = Sep8Rejected
			message := decision.Error
			if message == "" {
				message = "payment rejected by approval server"
			}
			return f.step, errors.NewTransferError(errors.ANCHOR_REJECTED, message, nil)

		default:
			return f.step, errors.NewTransferError(
				errors.PROTOCOL_VIOLATION,
				fmt.Sprintf("approval server returned unknown status %q", decision.Status),
				nil,
			)
		}
	}
}

// SubmitActionFields sends the demanded fields to the approval server's
// action URL. It returns a follow-up URL when the server wants the user to
// continue in a browser, or "" when no further action is required and
// Authorize can run again.
func (f *Sep8Flow) SubmitActionFields(ctx context.Context, values map[string]string) (string, error) {
	if f.step != Sep8ActionRequired || f.action == nil {
		return "", errors.NewTransferError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("no outstanding action in step %s", f.step),
			nil,
		)
	}
	for _, name := range f.action.Fields {
		if values[name] == "" {
			return "", errors.NewTransferError(
				errors.VALIDATION_FAILED,
				fmt.Sprintf("missing required action field %q", name),
				nil,
			)
		}
	}

	f.client.logRequest("POST "+f.action.URL, f.action.Fields)

	var body struct {
		Result  string `json:"result"`
		NextURL string `json:"next_url"`
		Message string `json:"message"`
	}
	resp, err := f.client.httpClient.PostJSON(ctx, f.action.URL, "", values)
	if err != nil {
		return "", errors.NewTransferError(errors.NETWORK_ERROR, "failed to submit action fields", err)
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return "", errors.NewTransferError(errors.PROTOCOL_VIOLATION, "failed to decode action response", err)
	}
	f.client.logResponse("POST "+f.action.URL, body)

	switch body.Result {
	case "no_further_action_required":
		f.step = Sep8Starting
		f.action = nil
		return "", nil
	case "follow_next_url":
		return body.NextURL, nil
	default:
		return "", errors.NewTransferError(
			errors.PROTOCOL_VIOLATION,
			fmt.Sprintf("action server returned unknown result %q", body.Result),
			nil,
		)
	}
}

// SubmitPayment submits the approved envelope to the ledger. It refuses to
// run unless the approval server has signed off on exactly this envelope.
func (f *Sep8Flow) SubmitPayment(ctx context.Context) (*anchorclient.SubmitResult, error) {
	if f.step != Sep8Revised || f.approvedXDR == "" {
		return nil, errors.NewTransferError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("payment has not been approved (step %s); only approval-returned transactions can be submitted", f.step),
			nil,
		)
	}
	if f.client.ledger == nil {
		return nil, errors.NewLedgerError(errors.LEDGER_ERROR, "no ledger client configured; use WithLedger", nil)
	}

	result, err := f.client.ledger.SubmitTransaction(ctx, f.approvedXDR)
	if err != nil {
		return nil, err
	}
	f.step = Sep8Complete
	f.client.logResponse("regulated payment submitted", result.Hash)
	return result, nil
}

type approvalDecision struct {
	Status       string   `json:"status"`
	Tx           string   `json:"tx"`
	Message      string   `json:"message"`
	Error        string   `json:"error"`
	Timeout      int      `json:"timeout"`
	ActionURL    string   `json:"action_url"`
	ActionMethod string   `json:"action_method"`
	ActionFields []string `json:"action_fields"`
}

func (f *Sep8Flow) submitForApproval(ctx context.Context, signedXDR string) (*approvalDecision, error) {
	f.client.logRequest("POST "+f.approvalServer, "tx_approval")

	resp, err := f.client.httpClient.PostJSON(ctx, f.approvalServer, "", map[string]string{"tx": signedXDR})
	if err != nil {
		return nil, errors.NewTransferError(errors.NETWORK_ERROR, "failed to reach approval server", err)
	}

	var decision approvalDecision
	if err := resp.DecodeJSON(&decision); err != nil {
		return nil, errors.NewTransferError(errors.PROTOCOL_VIOLATION, "failed to decode approval response", err)
	}
	f.client.logResponse("POST "+f.approvalServer, decision.Status)
	return &decision, nil
}
