// Package anchorclient provides a Go client engine for exercising Stellar
// anchor interoperability protocols (SEPs). It discovers an anchor's service
// endpoints (SEP-1), authenticates a keypair (SEP-10), negotiates KYC data
// (SEP-12), fetches quotes (SEP-38), and drives deposit, withdrawal, direct
// payment, and regulated payment flows (SEP-6, SEP-24, SEP-31, SEP-8) while
// delegating key signing, ledger access, interactive sessions, and telemetry
// to the caller.
package anchorclient

import (
	"context"
)

// Signer is the minimal contract for proving identity and authorizing actions.
// The engine does not manage keys, wallet connections, or signing
// infrastructure. The caller provides a Signer; the engine uses it and never
// retains it past the call that received it.
type Signer interface {
	// PublicKey returns the Stellar address (G...) identifying this signer.
	PublicKey() string

	// SignTransaction signs a Stellar transaction envelope (base64 XDR).
	// The networkPassphrase is required for computing the correct transaction hash.
	// Returns the signed envelope as base64 XDR.
	SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error)
}

// LedgerClient is the ledger access contract consumed by the engine. It is
// implemented outside the core (see core/account for a Horizon-backed
// implementation); the engine treats it as an opaque collaborator.
type LedgerClient interface {
	// LoadAccount returns the current sequence number and balance set for an
	// account. Implementations return an error with code ACCOUNT_NOT_FOUND
	// when the account is unfunded.
	LoadAccount(ctx context.Context, accountID string) (*AccountDetail, error)

	// SubmitTransaction submits a signed envelope (base64 XDR) and returns
	// the ledger response verbatim.
	SubmitTransaction(ctx context.Context, signedXDR string) (*SubmitResult, error)

	// AssetExists reports whether an asset with the given code and issuer is
	// known to the ledger.
	AssetExists(ctx context.Context, asset Asset) (bool, error)

	// ClaimableBalances lists claimable balances the given account may claim,
	// optionally filtered by asset.
	ClaimableBalances(ctx context.Context, claimant string, asset Asset) ([]ClaimableBalance, error)
}

// AccountDetail is the subset of ledger account state the engine needs.
type AccountDetail struct {
	ID       string
	Sequence int64
	Balances []Balance
}

// Balance is a single entry in an account's balance set.
type Balance struct {
	Asset  Asset
	Amount string
}

// Asset identifies a Stellar asset. The native lumen is represented by the
// zero value.
type Asset struct {
	Code   string
	Issuer string
}

// IsNative reports whether the asset is the network's native asset.
func (a Asset) IsNative() bool {
	return a.Code == "" || (a.Code == "native" && a.Issuer == "")
}

// String renders the asset in "CODE:ISSUER" form, or "native".
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}

// SubmitResult is a ledger submission response. Raw carries the
// implementation's full response for callers that need more than the common
// fields.
type SubmitResult struct {
	Hash        string
	Ledger      int32
	Successful  bool
	EnvelopeXDR string
	ResultXDR   string
	Raw         any
}

// ClaimableBalance is a ledger claimable balance entry.
type ClaimableBalance struct {
	ID     string
	Asset  Asset
	Amount string
}

// InteractiveHost opens user-visible interactive sessions (SEP-24 popups).
// The engine only hands over URLs and polls the closed state; it never
// controls the session content or window lifecycle.
type InteractiveHost interface {
	// Open presents the given URL to the user.
	Open(url string) error

	// Closed reports whether the user has dismissed the session.
	Closed() bool
}

// EventKind classifies telemetry events.
type EventKind string

// Event kinds mirror the anchor interaction phases: outbound requests,
// anchor responses, human-readable instructions, and errors.
const (
	EventRequest     EventKind = "request"
	EventResponse    EventKind = "response"
	EventInstruction EventKind = "instruction"
	EventError       EventKind = "error"
)

// Event is a single telemetry record. Body is optional and may be any
// JSON-serializable value.
type Event struct {
	Kind  EventKind
	Title string
	Body  any
}

// EventSink receives telemetry events. Sinks are purely observational; the
// engine never consumes a return value from them.
type EventSink interface {
	Emit(event Event)
}

// NopSink is an EventSink that discards everything.
type NopSink struct{}

// Emit discards the event.
func (NopSink) Emit(Event) {}

// Direction distinguishes the movement of value in a transfer.
type Direction string

const (
	// DirectionDeposit moves an off-chain asset onto the ledger.
	DirectionDeposit Direction = "deposit"

	// DirectionWithdraw moves an on-chain asset off the ledger.
	DirectionWithdraw Direction = "withdraw"

	// DirectionSend pays a third party through a receiving anchor (SEP-31).
	DirectionSend Direction = "send"
)

// Variant names the protocol flavor driving a transfer.
type Variant string

const (
	// VariantProgrammatic is the SEP-6 API flow.
	VariantProgrammatic Variant = "sep6"

	// VariantInteractive is the SEP-24 popup flow.
	VariantInteractive Variant = "sep24"

	// VariantDirectPayment is the SEP-31 receiving-anchor flow.
	VariantDirectPayment Variant = "sep31"

	// VariantRegulated is the SEP-8 approval-server flow.
	VariantRegulated Variant = "sep8"
)

// TransferRequest is one user-initiated transfer attempt. It is created once
// per action and immutable afterwards, except for amount refinement in
// multi-step flows.
type TransferRequest struct {
	Asset      Asset
	Direction  Direction
	Amount     string // decimal string, never a binary float
	Variant    Variant
	HomeDomain string
}

// FlowState is the orchestrator-level state exposed to callers. Each flow
// variant moves through a closed subset of these states; the poller-level
// anchor statuses are TxStatus values.
type FlowState string

const (
	StateInitiated  FlowState = "INITIATED"
	StateNeedsInput FlowState = "NEEDS_INPUT"
	StateCanProceed FlowState = "CAN_PROCEED"
	StateNeedsKYC   FlowState = "NEEDS_KYC"
	StatePending    FlowState = "PENDING"
	StateSuccess    FlowState = "SUCCESS"
	StateError      FlowState = "ERROR"
)

// TxStatus is an anchor-reported transaction status polled from a transfer
// server. The named constants cover the statuses the flows react to; anchors
// may report others, which flows pass through unchanged.
type TxStatus string

const (
	TxStatusIncomplete                TxStatus = "incomplete"
	TxStatusPendingUserTransferStart  TxStatus = "pending_user_transfer_start"
	TxStatusPendingAnchor             TxStatus = "pending_anchor"
	TxStatusPendingStellar            TxStatus = "pending_stellar"
	TxStatusPendingExternal           TxStatus = "pending_external"
	TxStatusPendingTrust              TxStatus = "pending_trust"
	TxStatusPendingUser               TxStatus = "pending_user"
	TxStatusPendingSender             TxStatus = "pending_sender"
	TxStatusPendingReceiver           TxStatus = "pending_receiver"
	TxStatusPendingCustomerInfoUpdate TxStatus = "pending_customer_info_update"
	TxStatusCompleted                 TxStatus = "completed"
	TxStatusRefunded                  TxStatus = "refunded"
	TxStatusError                     TxStatus = "error"
)

// FlowRecord is a snapshot of one transfer attempt, suitable for listing in a
// wallet UI or test harness. The engine itself keeps no cross-session state;
// records live in whatever FlowStore the caller provides.
type FlowRecord struct {
	ID          string
	Request     TransferRequest
	State       FlowState
	Status      TxStatus
	AnchorTxID  string
	Message     string
	ErrorString string
}

// FlowStore persists FlowRecord snapshots outside the core. See store/memory
// for an in-memory implementation.
type FlowStore interface {
	Save(ctx context.Context, record *FlowRecord) error
	FindByID(ctx context.Context, id string) (*FlowRecord, error)
	List(ctx context.Context) ([]*FlowRecord, error)
}
