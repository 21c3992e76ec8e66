// Package observer watches the ledger for payment activity related to a
// transfer. Wallets use it to confirm the on-chain leg of an anchor
// interaction independently of the anchor's own status reporting: a deposit
// is settled when the anchor's payment lands in the wallet account, and a
// withdrawal payment can be confirmed as it leaves.
//
// PaymentWatcher streams payment operations from Horizon, applies registered
// filters, and calls handlers for each match. It manages a cursor for
// resumability and reconnects with exponential backoff on stream failures.
package observer

import (
	"context"

	"github.com/stellar/go/amount"

	anchorclient "github.com/stellar-connect/anchor-client-go"
)

// PaymentEvent is one payment operation observed on the ledger, flattened
// into the fields transfer confirmation cares about.
type PaymentEvent struct {
	// ID is Horizon's operation id.
	ID string

	// From and To are the ledger accounts on either side of the payment.
	From string
	To   string

	// Asset is "native" for XLM or "CODE:ISSUER" for issued assets.
	Asset string

	// Amount is the payment amount as a 7-decimal string.
	Amount string

	// Memo is the transaction memo, empty when the transaction carried none.
	Memo string

	// Cursor is the paging token for this operation; feed it back through
	// WithCursor to resume after a restart.
	Cursor string

	// TransactionHash identifies the transaction containing the payment.
	TransactionHash string
}

// PaymentHandler processes one matching payment. Handler errors are reported
// through the watcher's event sink and do not stop the stream.
type PaymentHandler func(PaymentEvent) error

// PaymentFilter decides whether an event reaches a handler. Filters
// registered together are ANDed.
type PaymentFilter func(PaymentEvent) bool

type handlerEntry struct {
	handler PaymentHandler
	filters []PaymentFilter
}

// PaymentWatcher is the ledger-watching contract. Watch blocks until the
// context is cancelled or Stop is called, reconnecting on stream failures.
type PaymentWatcher interface {
	OnPayment(handler PaymentHandler, filters ...PaymentFilter)
	Watch(ctx context.Context) error
	Stop() error
}

// ToAccount matches payments received by the given account.
func ToAccount(accountID string) PaymentFilter {
	return func(evt PaymentEvent) bool {
		return evt.To == accountID
	}
}

// FromAccount matches payments sent by the given account.
func FromAccount(accountID string) PaymentFilter {
	return func(evt PaymentEvent) bool {
		return evt.From == accountID
	}
}

// ForAsset matches payments in the given asset.
func ForAsset(asset anchorclient.Asset) PaymentFilter {
	want := FormatAsset(asset)
	return func(evt PaymentEvent) bool {
		return evt.Asset == want
	}
}

// WithMemo matches payments whose transaction carried the given memo.
// Anchors route deposits with the memo the transfer was initiated with.
func WithMemo(memo string) PaymentFilter {
	return func(evt PaymentEvent) bool {
		return evt.Memo == memo
	}
}

// AtLeast matches payments of at least the given amount. Unparseable amounts
// never match.
func AtLeast(minAmount string) PaymentFilter {
	floor, err := amount.ParseInt64(minAmount)
	return func(evt PaymentEvent) bool {
		if err != nil {
			return false
		}
		got, parseErr := amount.ParseInt64(evt.Amount)
		return parseErr == nil && got >= floor
	}
}

// FormatAsset renders an asset in the event format: "native" for the lumen,
// "CODE:ISSUER" otherwise.
func FormatAsset(asset anchorclient.Asset) string {
	if asset.IsNative() {
		return "native"
	}
	return asset.Code + ":" + asset.Issuer
}
