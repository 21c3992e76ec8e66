package sdk

import (
	"context"
	"fmt"
	"time"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/core/crypto"
	"github.com/stellar-connect/anchor-client-go/core/toml"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// Sep31AssetInfo is the receiving anchor's declaration for one asset: the
// per-transaction fields it wants and the SEP-12 customer types it accepts
// for each party.
type Sep31AssetInfo struct {
	Enabled         bool
	QuotesSupported bool
	Fields          []CustomerField
	SenderTypes     map[string]string
	ReceiverTypes   map[string]string
}

// sep31Transaction is one record from the direct payment server.
type sep31Transaction struct {
	ID               string                `json:"id"`
	Status           anchorclient.TxStatus `json:"status"`
	StellarAccountID string                `json:"stellar_account_id"`
	StellarMemoType  string                `json:"stellar_memo_type"`
	StellarMemo      string                `json:"stellar_memo"`
	RequiredInfo     string                `json:"required_info_message"`
}

// Sep31Flow drives a direct payment through a receiving anchor. The sender's
// client registers both parties with the anchor's KYC server, creates the
// transaction, then pays the anchor's receiving account on the ledger.
type Sep31Flow struct {
	flowBase

	signer  anchorclient.Signer
	poller  *Poller
	session *Session
	profile *CustomerProfile

	paymentServer string
	assetInfo     *Sep31AssetInfo

	senderType    string
	receiverType  string
	typesSelected bool

	senderMemo    string
	receiverMemo  string
	senderFields  []CustomerField
	receiverField []CustomerField
	senderID      string
	receiverID    string

	txFields map[string]string
	quote    *Quote
	tx       *sep31Transaction
}

// NewSep31Flow creates a direct payment flow. The request's Direction is
// always send.
func NewSep31Flow(client *Client, request anchorclient.TransferRequest, signer anchorclient.Signer, opts ...FlowOption) *Sep31Flow {
	request.Variant = anchorclient.VariantDirectPayment
	request.Direction = anchorclient.DirectionSend
	flow := &Sep31Flow{
		flowBase: newFlowBase(client, request, opts...),
		signer:   signer,
		txFields: make(map[string]string),
	}
	flow.poller = NewPoller(client)
	return flow
}

// Session returns the SEP-10 session established during Initiate.
func (f *Sep31Flow) Session() *Session { return f.session }

// AssetInfo returns the anchor's declaration for the requested asset once
// Initiate succeeded.
func (f *Sep31Flow) AssetInfo() *Sep31AssetInfo { return f.assetInfo }

// ReceivingAccount returns the anchor's receiving account and memo once the
// transaction is ready for payment.
func (f *Sep31Flow) ReceivingAccount() (account, memo, memoType string) {
	if f.tx == nil {
		return "", "", ""
	}
	return f.tx.StellarAccountID, f.tx.StellarMemo, f.tx.StellarMemoType
}

// Initiate discovers the anchor's direct payment server, authenticates, and
// reads its asset declaration. When the anchor accepts several customer
// types for a party the flow lands in NEEDS_INPUT and SelectTypes must run
// before any KYC fields are fetched; otherwise the single declared type is
// selected and the flow moves straight to NEEDS_KYC.
func (f *Sep31Flow) Initiate(ctx context.Context) error {
	request := f.record.Request
	if request.HomeDomain == "" || request.Asset.Code == "" || request.Amount == "" {
		return f.fail(ctx, errors.NewTransferError(
			errors.VALIDATION_FAILED,
			"direct payments need a home domain, asset code, and amount",
			nil,
		))
	}

	info, err := f.client.tomlResolver.Resolve(ctx, request.HomeDomain)
	if err != nil {
		return f.fail(ctx, err)
	}
	if err := info.Require(toml.KeyDirectPaymentServer, toml.KeyWebAuthEndpoint, toml.KeySigningKey, toml.KeyKYCServer); err != nil {
		return f.fail(ctx, err)
	}
	f.paymentServer = info.DirectPaymentServer

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

	assetInfo, err := f.fetchAssetInfo(ctx, request.Asset.Code)
	if err != nil {
		return f.fail(ctx, err)
	}
	f.assetInfo = assetInfo
	f.trigger(HookFlowInitiated)

	if len(assetInfo.SenderTypes) > 1 || len(assetInfo.ReceiverTypes) > 1 {
		return f.setState(ctx, anchorclient.StateNeedsInput)
	}
	f.senderType = soleKey(assetInfo.SenderTypes)
	f.receiverType = soleKey(assetInfo.ReceiverTypes)
	f.typesSelected = true
	return f.setState(ctx, anchorclient.StateNeedsKYC)
}

// SelectTypes picks the SEP-12 customer type for each party. Required before
// FetchKYCFields whenever the anchor declares more than one type for either
// party.
func (f *Sep31Flow) SelectTypes(ctx context.Context, senderType, receiverType string) error {
	if f.assetInfo == nil {
		return errors.NewTransferError(errors.TRANSITION_INVALID, "initiate the flow before selecting customer types", nil)
	}
	if err := validateType(f.assetInfo.SenderTypes, senderType, "sender"); err != nil {
		return err
	}
	if err := validateType(f.assetInfo.ReceiverTypes, receiverType, "receiver"); err != nil {
		return err
	}
	f.senderType = senderType
	f.receiverType = receiverType
	f.typesSelected = true
	if f.State() == anchorclient.StateNeedsInput {
		return f.setState(ctx, anchorclient.StateNeedsKYC)
	}
	return nil
}

// FetchKYCFields retrieves the anchor's field lists for sender and receiver.
// Each party gets a random hash memo so the anchor can tell them apart even
// though one ledger account registers both.
func (f *Sep31Flow) FetchKYCFields(ctx context.Context) (sender, receiver []CustomerField, err error) {
	if !f.typesSelected {
		return nil, nil, errors.NewTransferError(
			errors.VALIDATION_FAILED,
			"customer types must be selected before fetching fields",
			nil,
		)
	}

	if f.senderMemo == "" {
		if f.senderMemo, err = crypto.RandomMemoHash(); err != nil {
			return nil, nil, errors.NewKYCError(errors.CUSTOMER_FETCH_FAILED, "failed to generate sender memo", err)
		}
		if f.receiverMemo, err = crypto.RandomMemoHash(); err != nil {
			return nil, nil, errors.NewKYCError(errors.CUSTOMER_FETCH_FAILED, "failed to generate receiver memo", err)
		}
	}

	senderInfo, err := f.profile.Fields(ctx, FieldsParams{
		Token:   f.session.Token,
		Account: f.session.Account,
		Memo:    f.senderMemo,
		Type:    f.senderType,
	})
	if err != nil {
		return nil, nil, f.fail(ctx, err)
	}
	receiverInfo, err := f.profile.Fields(ctx, FieldsParams{
		Token:   f.session.Token,
		Account: f.session.Account,
		Memo:    f.receiverMemo,
		Type:    f.receiverType,
	})
	if err != nil {
		return nil, nil, f.fail(ctx, err)
	}

	f.senderFields = senderInfo.Fields
	f.receiverField = receiverInfo.Fields
	return senderInfo.Fields, receiverInfo.Fields, nil
}

// SubmitKYC registers both parties with the anchor's KYC server and records
// the customer ids the transaction will reference.
func (f *Sep31Flow) SubmitKYC(ctx context.Context, senderValues, receiverValues []FieldValue) error {
	if err := ValidateValues(f.senderFields, senderValues); err != nil {
		return err
	}
	if err := ValidateValues(f.receiverField, receiverValues); err != nil {
		return err
	}

	senderReceipt, err := f.profile.Submit(ctx, SubmitParams{
		Token:   f.session.Token,
		Account: f.session.Account,
		Memo:    f.senderMemo,
		Type:    f.senderType,
		Values:  senderValues,
	})
	if err != nil {
		return f.fail(ctx, err)
	}
	receiverReceipt, err := f.profile.Submit(ctx, SubmitParams{
		Token:   f.session.Token,
		Account: f.session.Account,
		Memo:    f.receiverMemo,
		Type:    f.receiverType,
		Values:  receiverValues,
	})
	if err != nil {
		return f.fail(ctx, err)
	}

	f.senderID = senderReceipt.ID
	f.receiverID = receiverReceipt.ID
	f.trigger(HookKYCSubmitted)
	return f.setState(ctx, anchorclient.StateCanProceed)
}

// SetTransactionFields supplies the per-transaction values the anchor's
// /info declared (routing numbers and the like).
func (f *Sep31Flow) SetTransactionFields(values map[string]string) error {
	if f.assetInfo == nil {
		return errors.NewTransferError(errors.TRANSITION_INVALID, "initiate the flow before setting transaction fields", nil)
	}
	var missing []string
	for _, field := range f.assetInfo.Fields {
		if field.Optional {
			continue
		}
		if values[field.Name] == "" {
			missing = append(missing, field.Name)
		}
	}
	if len(missing) > 0 {
		return errors.NewTransferError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("missing required transaction fields: %v", missing),
			nil,
		)
	}
	f.txFields = values
	return nil
}

// UseQuote attaches a firm quote to the transaction. The quote is checked
// again at creation time; an expired quote never reaches the anchor.
func (f *Sep31Flow) UseQuote(quote *Quote) error {
	if f.assetInfo != nil && !f.assetInfo.QuotesSupported {
		return errors.NewQuoteError(errors.VALIDATION_FAILED, "anchor does not support quotes for this asset", nil)
	}
	if err := quote.Validate(time.Now()); err != nil {
		return err
	}
	f.quote = quote
	return nil
}

// CreateTransaction registers the payment with the anchor and polls until
// the anchor is ready to receive funds (status pending_sender), at which
// point ReceivingAccount is populated.
func (f *Sep31Flow) CreateTransaction(ctx context.Context) error {
	if f.State() != anchorclient.StateCanProceed {
		return errors.NewTransferError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("cannot create a transaction in state %s", f.State()),
			nil,
		)
	}

	request := f.record.Request
	body := map[string]any{
		"sender_id":   f.senderID,
		"receiver_id": f.receiverID,
		"asset_code":  request.Asset.Code,
		"amount":      request.Amount,
		"fields":      map[string]any{"transaction": f.txFields},
	}
	if f.quote != nil {
		if err := f.quote.Validate(time.Now()); err != nil {
			return err
		}
		body["quote_id"] = f.quote.ID
	}

	f.client.logRequest("POST /transactions", body)

	resp, err := f.client.httpClient.PostJSON(ctx, f.paymentServer+"/transactions", f.session.Token, body)
	if err != nil {
		return f.fail(ctx, errors.NewTransferError(errors.TRANSFER_INIT_FAILED, "failed to create direct payment transaction", err))
	}
	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		text, _ := resp.Text()
		return f.fail(ctx, errors.NewTransferError(
			errors.ANCHOR_REJECTED,
			fmt.Sprintf("POST /transactions returned status %d: %s", resp.StatusCode, text),
			nil,
		))
	}

	var created sep31Transaction
	if err := resp.DecodeJSON(&created); err != nil {
		return f.fail(ctx, errors.NewTransferError(errors.TRANSFER_INIT_FAILED, "failed to decode transaction response", err))
	}
	if created.ID == "" {
		return f.fail(ctx, errors.NewTransferError(errors.PROTOCOL_VIOLATION, "anchor created a transaction without an id", nil))
	}
	f.client.logResponse("POST /transactions", created)
	f.tx = &created
	f.record.AnchorTxID = created.ID

	// Some anchors return the receiving account immediately; others need a
	// few ticks to assign one.
	status, err := f.poller.PollUntilTerminal(ctx, PollParams{
		Fetch:    f.fetchStatus,
		Terminal: []anchorclient.TxStatus{anchorclient.TxStatusPendingSender, anchorclient.TxStatusError},
		OnChange: func(status anchorclient.TxStatus) { f.setStatus(ctx, status) },
	})
	if err != nil {
		return f.fail(ctx, err)
	}
	if status == anchorclient.TxStatusError {
		return f.fail(ctx, errors.NewTransferError(errors.ANCHOR_REJECTED, f.anchorMessage("transaction was rejected"), nil))
	}
	if f.tx.StellarAccountID == "" {
		return f.fail(ctx, errors.NewTransferError(
			errors.PROTOCOL_VIOLATION,
			"anchor reported pending_sender without a receiving account",
			nil,
		))
	}
	return nil
}

// SendPayment checks the sender's balance and pays the anchor's receiving
// account with the transaction's memo, then moves the flow to PENDING.
func (f *Sep31Flow) SendPayment(ctx context.Context) (*anchorclient.SubmitResult, error) {
	if f.tx == nil || f.tx.StellarAccountID == "" {
		return nil, errors.NewTransferError(
			errors.TRANSITION_INVALID,
			"create the transaction before sending the payment",
			nil,
		)
	}
	request := f.record.Request

	submitter := NewPaymentSubmitter(f.client)
	enough, err := submitter.SufficientBalance(ctx, f.signer.PublicKey(), request.Asset, request.Amount)
	if err != nil {
		return nil, f.fail(ctx, err)
	}
	if !enough {
		return nil, errors.NewTransferError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("account does not hold %s %s", request.Amount, request.Asset),
			nil,
		)
	}

	result, err := submitter.Submit(ctx, f.signer, PaymentParams{
		Destination: f.tx.StellarAccountID,
		Asset:       request.Asset,
		Amount:      request.Amount,
		Memo:        f.tx.StellarMemo,
		MemoType:    f.tx.StellarMemoType,
	})
	if err != nil {
		return nil, f.fail(ctx, err)
	}
	f.trigger(HookPaymentSent)
	if err := f.setState(ctx, anchorclient.StatePending); err != nil {
		return nil, err
	}
	return result, nil
}

// Await polls the anchor until it confirms the payment. pending_external
// counts as settled: funds left the Stellar network and the anchor's
// off-chain rail owns the rest.
func (f *Sep31Flow) Await(ctx context.Context) (anchorclient.TxStatus, error) {
	if f.State() != anchorclient.StatePending {
		return "", errors.NewTransferError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("cannot poll in state %s", f.State()),
			nil,
		)
	}

	status, err := f.poller.PollUntilTerminal(ctx, PollParams{
		Fetch: f.fetchStatus,
		Terminal: []anchorclient.TxStatus{
			anchorclient.TxStatusPendingExternal,
			anchorclient.TxStatusCompleted,
			anchorclient.TxStatusError,
		},
		OnChange: func(status anchorclient.TxStatus) { f.setStatus(ctx, status) },
	})
	if err != nil {
		return status, f.fail(ctx, err)
	}
	if status == anchorclient.TxStatusError {
		return status, f.fail(ctx, errors.NewTransferError(errors.ANCHOR_REJECTED, f.anchorMessage("transfer failed"), nil))
	}
	return status, f.setState(ctx, anchorclient.StateSuccess)
}

func (f *Sep31Flow) fetchStatus(ctx context.Context) (anchorclient.TxStatus, error) {
	var body struct {
		Transaction sep31Transaction `json:"transaction"`
	}
	resp, err := f.client.httpClient.GetJSON(ctx, f.paymentServer+"/transactions/"+f.tx.ID, f.session.Token, &body)
	if err != nil {
		return "", errors.NewTransferError(errors.POLL_FAILED, "failed to fetch transaction status", err)
	}
	if resp.StatusCode != 200 {
		return "", errors.NewTransferError(
			errors.POLL_FAILED,
			fmt.Sprintf("GET /transactions/%s returned status %d", f.tx.ID, resp.StatusCode),
			nil,
		)
	}
	f.tx = &body.Transaction
	return body.Transaction.Status, nil
}

func (f *Sep31Flow) anchorMessage(fallback string) string {
	if f.tx != nil && f.tx.RequiredInfo != "" {
		return f.tx.RequiredInfo
	}
	return fallback
}

// fetchAssetInfo reads the direct payment server's /info declaration for one
// asset. Anchors publish customer types in two shapes; both are accepted.
func (f *Sep31Flow) fetchAssetInfo(ctx context.Context, assetCode string) (*Sep31AssetInfo, error) {
	var body struct {
		Receive map[string]struct {
			Enabled         bool `json:"enabled"`
			QuotesSupported bool `json:"quotes_supported"`
			Fields          struct {
				Transaction map[string]fieldSchema `json:"transaction"`
			} `json:"fields"`
			SenderSep12Type   string `json:"sender_sep12_type"`
			ReceiverSep12Type string `json:"receiver_sep12_type"`
			Sep12             struct {
				Sender struct {
					Types map[string]struct {
						Description string `json:"description"`
					} `json:"types"`
				} `json:"sender"`
				Receiver struct {
					Types map[string]struct {
						Description string `json:"description"`
					} `json:"types"`
				} `json:"receiver"`
			} `json:"sep12"`
		} `json:"receive"`
	}
	resp, err := f.client.httpClient.GetJSON(ctx, f.paymentServer+"/info", f.session.Token, &body)
	if err != nil {
		return nil, errors.NewTransferError(errors.TRANSFER_INIT_FAILED, "failed to fetch direct payment info", err)
	}
	if resp.StatusCode != 200 {
		return nil, errors.NewTransferError(
			errors.TRANSFER_INIT_FAILED,
			fmt.Sprintf("GET /info returned status %d", resp.StatusCode),
			nil,
		)
	}

	declared, ok := body.Receive[assetCode]
	if !ok || !declared.Enabled {
		return nil, errors.NewTransferError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("anchor does not receive asset %s", assetCode),
			nil,
		)
	}

	info := &Sep31AssetInfo{
		Enabled:         true,
		QuotesSupported: declared.QuotesSupported,
		SenderTypes:     map[string]string{},
		ReceiverTypes:   map[string]string{},
	}
	for name, schema := range declared.Fields.Transaction {
		info.Fields = append(info.Fields, schema.toField(name, CustomerNeedsInfo))
	}
	for name, t := range declared.Sep12.Sender.Types {
		info.SenderTypes[name] = t.Description
	}
	for name, t := range declared.Sep12.Receiver.Types {
		info.ReceiverTypes[name] = t.Description
	}
	if len(info.SenderTypes) == 0 && declared.SenderSep12Type != "" {
		info.SenderTypes[declared.SenderSep12Type] = ""
	}
	if len(info.ReceiverTypes) == 0 && declared.ReceiverSep12Type != "" {
		info.ReceiverTypes[declared.ReceiverSep12Type] = ""
	}
	return info, nil
}

func validateType(declared map[string]string, selected, party string) error {
	if len(declared) == 0 {
		return nil
	}
	if _, ok := declared[selected]; !ok {
		return errors.NewTransferError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("%q is not a declared %s customer type", selected, party),
			nil,
		)
	}
	return nil
}

func soleKey(m map[string]string) string {
	for k := range m {
		return k
	}
	return ""
}
