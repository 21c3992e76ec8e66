package sdk

import (
	"context"
	"fmt"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/core/net"
	"github.com/stellar-connect/anchor-client-go/core/toml"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// Sep24Interactive is the anchor's handoff for an interactive transfer: the
// URL to present to the user and the anchor's transaction id to poll.
type Sep24Interactive struct {
	URL string
	ID  string
}

// Sep24Flow drives an interactive deposit or withdrawal. The anchor collects
// everything it needs (KYC included) inside its own web session; the client
// authenticates, opens the session, and settles the ledger side while
// polling.
type Sep24Flow struct {
	flowBase

	signer anchorclient.Signer
	host   anchorclient.InteractiveHost
	poller *Poller

	session        *Session
	transferServer string
	interactive    *Sep24Interactive
	tracker        *transferTracker
}

// NewSep24Flow creates an interactive flow. The host presents the anchor's
// web session to the user; its Closed state cancels polling.
func NewSep24Flow(client *Client, request anchorclient.TransferRequest, signer anchorclient.Signer, host anchorclient.InteractiveHost, opts ...FlowOption) *Sep24Flow {
	request.Variant = anchorclient.VariantInteractive
	flow := &Sep24Flow{
		flowBase: newFlowBase(client, request, opts...),
		signer:   signer,
		host:     host,
	}
	flow.poller = NewPoller(client)
	return flow
}

// Session returns the SEP-10 session established during Initiate.
func (f *Sep24Flow) Session() *Session { return f.session }

// Interactive returns the anchor's interactive handoff once Initiate
// succeeded.
func (f *Sep24Flow) Interactive() *Sep24Interactive { return f.interactive }

// Transaction returns the last transaction record observed while polling.
func (f *Sep24Flow) Transaction() *TransferTransaction {
	if f.tracker == nil {
		return nil
	}
	return f.tracker.last
}

// Initiate authenticates with the anchor, starts the interactive transfer,
// and opens the anchor's web session through the host. The flow lands in
// PENDING; call Await to follow the transfer to settlement.
func (f *Sep24Flow) Initiate(ctx context.Context) (*Sep24Interactive, error) {
	request := f.record.Request
	if err := f.validateRequest(request); err != nil {
		return nil, f.fail(ctx, err)
	}

	info, err := f.client.tomlResolver.Resolve(ctx, request.HomeDomain)
	if err != nil {
		return nil, f.fail(ctx, err)
	}
	if err := info.Require(toml.KeyTransferServerSep24, toml.KeyWebAuthEndpoint, toml.KeySigningKey); err != nil {
		return nil, f.fail(ctx, err)
	}
	f.transferServer = info.TransferServerSep24

	session, err := f.client.Authenticate(ctx, AuthParams{
		AuthEndpoint: info.WebAuthEndpoint,
		HomeDomain:   request.HomeDomain,
		Signer:       f.signer,
	})
	if err != nil {
		return nil, f.fail(ctx, err)
	}
	f.session = session
	f.trigger(HookFlowInitiated)

	fields := []net.MultipartField{
		{Name: "asset_code", Value: request.Asset.Code},
		{Name: "account", Value: session.Account},
		{Name: "lang", Value: "en"},
		{Name: "claimable_balance_supported", Value: "true"},
	}
	if request.Amount != "" {
		fields = append(fields, net.MultipartField{Name: "amount", Value: request.Amount})
	}

	endpoint := f.transferServer + "/transactions/" + string(request.Direction) + "/interactive"
	f.client.logRequest("POST "+endpoint, request.Asset.Code)

	resp, err := f.client.httpClient.PostMultipart(ctx, endpoint, session.Token, fields)
	if err != nil {
		return nil, f.fail(ctx, errors.NewTransferError(errors.TRANSFER_INIT_FAILED, "interactive initiation failed", err))
	}
	if resp.StatusCode != 200 {
		text, _ := resp.Text()
		return nil, f.fail(ctx, errors.NewTransferError(
			errors.ANCHOR_REJECTED,
			fmt.Sprintf("interactive initiation returned status %d: %s", resp.StatusCode, text),
			nil,
		))
	}

	var body struct {
		Type string `json:"type"`
		URL  string `json:"url"`
		ID   string `json:"id"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, f.fail(ctx, errors.NewTransferError(errors.TRANSFER_INIT_FAILED, "failed to decode interactive response", err))
	}
	if body.URL == "" || body.ID == "" {
		return nil, f.fail(ctx, errors.NewTransferError(
			errors.PROTOCOL_VIOLATION,
			"anchor returned an interactive response without url or id",
			nil,
		))
	}
	f.client.logResponse("POST "+endpoint, body)

	f.interactive = &Sep24Interactive{URL: body.URL, ID: body.ID}
	f.record.AnchorTxID = body.ID

	f.client.logInstruction("opening interactive session", body.URL)
	if err := f.host.Open(body.URL); err != nil {
		return nil, f.fail(ctx, errors.NewTransferError(errors.TRANSFER_INIT_FAILED, "failed to open interactive session", err))
	}

	if err := f.setState(ctx, anchorclient.StatePending); err != nil {
		return nil, err
	}
	f.tracker = &transferTracker{
		flow:           &f.flowBase,
		signer:         f.signer,
		transferServer: f.transferServer,
		token:          session.Token,
		txID:           body.ID,
		direction:      request.Direction,
		asset:          request.Asset,
		cancel:         f.host.Closed,
	}
	return f.interactive, nil
}

// Await polls the anchor until the transfer settles, establishing trustlines
// and sending the withdrawal payment as the anchor's status asks for them.
// The user dismissing the interactive session ends the run with an
// incomplete error.
func (f *Sep24Flow) Await(ctx context.Context) (anchorclient.TxStatus, error) {
	if f.State() != anchorclient.StatePending {
		return "", errors.NewTransferError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("cannot poll in state %s", f.State()),
			nil,
		)
	}

	status, err := f.tracker.run(ctx, f.poller, []anchorclient.TxStatus{
		anchorclient.TxStatusCompleted,
		anchorclient.TxStatusRefunded,
		anchorclient.TxStatusError,
	})
	if err != nil {
		return status, f.fail(ctx, err)
	}

	switch status {
	case anchorclient.TxStatusError:
		message := "transfer failed"
		if tx := f.tracker.last; tx != nil && tx.Message != "" {
			message = tx.Message
		}
		return status, f.fail(ctx, errors.NewTransferError(errors.ANCHOR_REJECTED, message, nil))
	default:
		if tx := f.tracker.last; tx != nil {
			f.record.Message = tx.Message
		}
		return status, f.setState(ctx, anchorclient.StateSuccess)
	}
}

func (f *Sep24Flow) validateRequest(request anchorclient.TransferRequest) error {
	if request.HomeDomain == "" {
		return errors.NewTransferError(errors.VALIDATION_FAILED, "transfer request needs a home domain", nil)
	}
	if request.Asset.Code == "" {
		return errors.NewTransferError(errors.VALIDATION_FAILED, "transfer request needs an asset code", nil)
	}
	if request.Direction != anchorclient.DirectionDeposit && request.Direction != anchorclient.DirectionWithdraw {
		return errors.NewTransferError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("direction %q is not valid here; use deposit or withdraw", request.Direction),
			nil,
		)
	}
	if f.host == nil {
		return errors.NewTransferError(errors.VALIDATION_FAILED, "interactive transfers need an interactive host", nil)
	}
	return nil
}
