package sdk

import (
	"context"
	"fmt"
	"net/url"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/core/net"
	"github.com/stellar-connect/anchor-client-go/core/toml"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// Sep6Response is the anchor's reply to a SEP-6 deposit or withdraw
// initiation. Deposits describe how to deliver off-chain funds; withdrawals
// name the anchor's receiving account and memo.
type Sep6Response struct {
	ID        string `json:"id"`
	How       string `json:"how"`
	ETA       int64  `json:"eta"`
	AccountID string `json:"account_id"`
	MemoType  string `json:"memo_type"`
	Memo      string `json:"memo"`
	ExtraInfo struct {
		Message string `json:"message"`
	} `json:"extra_info"`
}

type sep6AssetInfo struct {
	Enabled                bool `json:"enabled"`
	AuthenticationRequired bool `json:"authentication_required"`
}

type sep6Info struct {
	Deposit  map[string]sep6AssetInfo `json:"deposit"`
	Withdraw map[string]sep6AssetInfo `json:"withdraw"`
}

// Sep6Flow drives a programmatic deposit or withdrawal against an anchor's
// SEP-6 transfer server. The flow moves through the shared state machine:
// NEEDS_INPUT while the anchor wants customer fields, CAN_PROCEED once it
// has them, PENDING after initiation, then a terminal state.
type Sep6Flow struct {
	flowBase

	signer  anchorclient.Signer
	info    *toml.AnchorInfo
	session *Session
	profile *CustomerProfile
	poller  *Poller

	transferServer string
	declared       []CustomerField
	response       *Sep6Response
	tracker        *transferTracker
}

// NewSep6Flow creates a flow for one transfer request. The signer's account
// is both the authenticating account and the on-ledger party of the
// transfer.
func NewSep6Flow(client *Client, request anchorclient.TransferRequest, signer anchorclient.Signer, opts ...FlowOption) *Sep6Flow {
	request.Variant = anchorclient.VariantProgrammatic
	flow := &Sep6Flow{
		flowBase: newFlowBase(client, request, opts...),
		signer:   signer,
	}
	flow.poller = NewPoller(client)
	return flow
}

// Session returns the SEP-10 session established during Initiate, or nil
// when the anchor did not require authentication.
func (f *Sep6Flow) Session() *Session { return f.session }

// Response returns the anchor's initiation response once Proceed succeeded.
func (f *Sep6Flow) Response() *Sep6Response { return f.response }

// Transaction returns the last transaction record observed while polling.
func (f *Sep6Flow) Transaction() *TransferTransaction {
	if f.tracker == nil {
		return nil
	}
	return f.tracker.last
}

// RequiredFields lists the customer fields the anchor still needs. Valid in
// the NEEDS_INPUT and NEEDS_KYC states.
func (f *Sep6Flow) RequiredFields() []CustomerField {
	var needed []CustomerField
	for _, field := range f.declared {
		if field.Status == CustomerNeedsInfo {
			needed = append(needed, field)
		}
	}
	return needed
}

// Initiate discovers the anchor's endpoints, checks that the asset and
// direction are enabled, and authenticates when the anchor requires it.
// The flow lands in NEEDS_INPUT when customer fields are outstanding,
// CAN_PROCEED otherwise.
func (f *Sep6Flow) Initiate(ctx context.Context) error {
	request := f.record.Request
	if err := f.validateRequest(request); err != nil {
		return f.fail(ctx, err)
	}

	info, err := f.client.tomlResolver.Resolve(ctx, request.HomeDomain)
	if err != nil {
		return f.fail(ctx, err)
	}
	if err := info.Require(toml.KeyTransferServer); err != nil {
		return f.fail(ctx, err)
	}
	f.info = info
	f.transferServer = info.TransferServer

	assetInfo, err := f.assetInfo(ctx, request)
	if err != nil {
		return f.fail(ctx, err)
	}
	f.trigger(HookFlowInitiated)

	if !assetInfo.AuthenticationRequired {
		return f.setState(ctx, anchorclient.StateCanProceed)
	}

	if err := info.Require(toml.KeyWebAuthEndpoint, toml.KeySigningKey, toml.KeyKYCServer); err != nil {
		return f.fail(ctx, err)
	}
	session, err := f.client.Authenticate(ctx, AuthParams{
		AuthEndpoint: info.WebAuthEndpoint,
		HomeDomain:   request.HomeDomain,
		Signer:       f.signer,
	})
	if err != nil {
		return f.fail(ctx, err)
	}
	f.session = session
	f.profile = NewCustomerProfile(f.client, info.KYCServer)

	customer, err := f.profile.Fields(ctx, FieldsParams{
		Token:   session.Token,
		Account: session.Account,
	})
	if err != nil {
		return f.fail(ctx, err)
	}
	f.declared = customer.Fields

	if len(f.RequiredFields()) > 0 {
		return f.setState(ctx, anchorclient.StateNeedsInput)
	}
	return f.setState(ctx, anchorclient.StateCanProceed)
}

// SubmitFields sends customer field values to the anchor's KYC server and
// advances the flow when nothing is outstanding. When the anchor asked for
// more information mid-transfer, a successful submission returns the flow to
// PENDING so polling can resume.
func (f *Sep6Flow) SubmitFields(ctx context.Context, values []FieldValue) error {
	if f.State() != anchorclient.StateNeedsInput && f.State() != anchorclient.StateNeedsKYC {
		return errors.NewTransferError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("cannot submit fields in state %s", f.State()),
			nil,
		)
	}
	if err := ValidateValues(f.declared, values); err != nil {
		return err
	}
	if _, err := f.profile.Submit(ctx, SubmitParams{
		Token:   f.session.Token,
		Account: f.session.Account,
		Values:  values,
	}); err != nil {
		return f.fail(ctx, err)
	}
	f.trigger(HookKYCSubmitted)

	customer, err := f.profile.Fields(ctx, FieldsParams{
		Token:   f.session.Token,
		Account: f.session.Account,
	})
	if err != nil {
		return f.fail(ctx, err)
	}
	f.declared = customer.Fields
	if len(f.RequiredFields()) > 0 {
		return f.setState(ctx, anchorclient.StateNeedsInput)
	}
	if f.record.AnchorTxID != "" {
		return f.setState(ctx, anchorclient.StatePending)
	}
	return f.setState(ctx, anchorclient.StateCanProceed)
}

// Proceed initiates the transfer with the anchor. Extra carries
// anchor-specific parameters such as the withdrawal method ("type").
func (f *Sep6Flow) Proceed(ctx context.Context, extra url.Values) (*Sep6Response, error) {
	if f.State() != anchorclient.StateCanProceed {
		return nil, errors.NewTransferError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("cannot proceed in state %s", f.State()),
			nil,
		)
	}
	request := f.record.Request

	query := url.Values{}
	query.Set("asset_code", request.Asset.Code)
	query.Set("account", f.signer.PublicKey())
	if request.Amount != "" {
		query.Set("amount", request.Amount)
	}
	if request.Direction == anchorclient.DirectionDeposit {
		query.Set("claimable_balance_supported", "true")
	}
	for key, vals := range extra {
		for _, v := range vals {
			query.Add(key, v)
		}
	}

	endpoint := f.transferServer + "/" + string(request.Direction)
	f.client.logRequest("GET "+endpoint, query)

	var token string
	if f.session != nil {
		token = f.session.Token
	}
	var response Sep6Response
	resp, err := f.client.httpClient.GetJSON(ctx, endpoint+"?"+query.Encode(), token, &response)
	if err != nil {
		return nil, f.fail(ctx, errors.NewTransferError(errors.TRANSFER_INIT_FAILED, "transfer initiation failed", err))
	}
	if resp.StatusCode == 403 {
		return nil, f.handleInfoNeeded(ctx, resp)
	}
	if resp.StatusCode != 200 {
		text, _ := resp.Text()
		return nil, f.fail(ctx, errors.NewTransferError(
			errors.ANCHOR_REJECTED,
			fmt.Sprintf("transfer initiation returned status %d: %s", resp.StatusCode, text),
			nil,
		))
	}
	f.client.logResponse("GET "+endpoint, response)

	f.response = &response
	f.record.AnchorTxID = response.ID
	if response.How != "" {
		f.client.logInstruction("deposit instructions", response.How)
	}
	if err := f.setState(ctx, anchorclient.StatePending); err != nil {
		return nil, err
	}

	f.tracker = &transferTracker{
		flow:           &f.flowBase,
		signer:         f.signer,
		transferServer: f.transferServer,
		token:          token,
		txID:           response.ID,
		direction:      request.Direction,
		asset:          request.Asset,
	}
	return &response, nil
}

// Await polls the anchor until the transfer settles. On
// pending_customer_info_update the flow pauses in NEEDS_KYC with the
// refreshed field list; resubmit fields and call Await again.
func (f *Sep6Flow) Await(ctx context.Context) (anchorclient.TxStatus, error) {
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
		anchorclient.TxStatusPendingCustomerInfoUpdate,
	})
	if err != nil {
		return status, f.fail(ctx, err)
	}

	switch status {
	case anchorclient.TxStatusCompleted, anchorclient.TxStatusRefunded:
		if tx := f.tracker.last; tx != nil {
			f.record.Message = tx.Message
		}
		return status, f.setState(ctx, anchorclient.StateSuccess)
	case anchorclient.TxStatusError:
		message := "transfer failed"
		if tx := f.tracker.last; tx != nil && tx.Message != "" {
			message = tx.Message
		}
		return status, f.fail(ctx, errors.NewTransferError(errors.ANCHOR_REJECTED, message, nil))
	default: // pending_customer_info_update
		customer, err := f.profile.Fields(ctx, FieldsParams{
			Token:   f.session.Token,
			Account: f.session.Account,
		})
		if err != nil {
			return status, f.fail(ctx, err)
		}
		f.declared = customer.Fields
		return status, f.setState(ctx, anchorclient.StateNeedsKYC)
	}
}

func (f *Sep6Flow) validateRequest(request anchorclient.TransferRequest) error {
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
	return nil
}

// assetInfo fetches the transfer server's /info document and returns the
// entry for the requested asset and direction.
func (f *Sep6Flow) assetInfo(ctx context.Context, request anchorclient.TransferRequest) (*sep6AssetInfo, error) {
	var info sep6Info
	resp, err := f.client.httpClient.GetJSON(ctx, f.transferServer+"/info", "", &info)
	if err != nil {
		return nil, errors.NewTransferError(errors.TRANSFER_INIT_FAILED, "failed to fetch transfer server info", err)
	}
	if resp.StatusCode != 200 {
		return nil, errors.NewTransferError(
			errors.TRANSFER_INIT_FAILED,
			fmt.Sprintf("GET /info returned status %d", resp.StatusCode),
			nil,
		)
	}

	table := info.Deposit
	if request.Direction == anchorclient.DirectionWithdraw {
		table = info.Withdraw
	}
	assetInfo, ok := table[request.Asset.Code]
	if !ok || !assetInfo.Enabled {
		return nil, errors.NewTransferError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("anchor does not offer %s for asset %s", request.Direction, request.Asset.Code),
			nil,
		)
	}
	return &assetInfo, nil
}

// handleInfoNeeded processes a 403 initiation response. SEP-6 anchors use it
// to demand customer information before accepting the transfer.
func (f *Sep6Flow) handleInfoNeeded(ctx context.Context, resp *net.Response) error {
	var body struct {
		Type   string   `json:"type"`
		Fields []string `json:"fields"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return f.fail(ctx, errors.NewTransferError(errors.ANCHOR_REJECTED, "transfer initiation was forbidden", err))
	}
	if body.Type != "non_interactive_customer_info_needed" || f.profile == nil {
		return f.fail(ctx, errors.NewTransferError(
			errors.ANCHOR_REJECTED,
			fmt.Sprintf("transfer initiation was forbidden: %s", body.Type),
			nil,
		))
	}

	customer, err := f.profile.Fields(ctx, FieldsParams{
		Token:   f.session.Token,
		Account: f.session.Account,
	})
	if err != nil {
		return f.fail(ctx, err)
	}
	f.declared = customer.Fields
	if err := f.setState(ctx, anchorclient.StateNeedsKYC); err != nil {
		return err
	}
	return errors.NewTransferError(
		errors.VALIDATION_FAILED,
		fmt.Sprintf("anchor needs more customer information: %v", body.Fields),
		nil,
	)
}
