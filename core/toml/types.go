// Package toml provides functionality for fetching, parsing, and generating
// stellar.toml files as specified in SEP-1.
//
// The Resolver fetches and caches stellar.toml files from anchor domains,
// while the Publisher renders AnchorInfo back to stellar.toml text (used by
// test fixtures and mock anchors).
package toml

import (
	"strings"

	"github.com/stellar-connect/anchor-client-go/errors"
)

// Key names a top-level stellar.toml field. Each protocol variant requires a
// different subset of keys, so flows pass their own required-key set to
// AnchorInfo.Require instead of the resolver hard-coding one.
type Key string

const (
	KeyNetworkPassphrase   Key = "NETWORK_PASSPHRASE"
	KeySigningKey          Key = "SIGNING_KEY"
	KeyWebAuthEndpoint     Key = "WEB_AUTH_ENDPOINT"
	KeyKYCServer           Key = "KYC_SERVER"
	KeyTransferServer      Key = "TRANSFER_SERVER"
	KeyTransferServerSep24 Key = "TRANSFER_SERVER_SEP0024"
	KeyDirectPaymentServer Key = "DIRECT_PAYMENT_SERVER"
	KeyAnchorQuoteServer   Key = "ANCHOR_QUOTE_SERVER"
)

// AnchorInfo represents the parsed contents of a stellar.toml file.
// Endpoint values have trailing slashes stripped so downstream path
// concatenation is deterministic.
type AnchorInfo struct {
	// NETWORK_PASSPHRASE identifies the Stellar network (testnet/mainnet).
	NetworkPassphrase string

	// SIGNING_KEY is the anchor's public key used for SEP-10 authentication.
	SigningKey string

	// WEB_AUTH_ENDPOINT is the URL for SEP-10 Stellar Web Authentication.
	WebAuthEndpoint string

	// KYCServer is the URL for SEP-12 customer information exchange.
	KYCServer string

	// TransferServer is the URL for SEP-6 Non-Interactive Deposit/Withdrawal.
	TransferServer string

	// TransferServerSep24 is the URL for SEP-24 Interactive Deposit/Withdrawal.
	TransferServerSep24 string

	// DirectPaymentServer is the URL for SEP-31 cross-border payments.
	DirectPaymentServer string

	// AnchorQuoteServer is the URL for SEP-38 asset exchange quotes.
	AnchorQuoteServer string

	// Currencies lists assets supported by the anchor.
	Currencies []CurrencyInfo
}

// CurrencyInfo describes a Stellar asset supported by an anchor.
// Only fields required by SEP-1 are included.
type CurrencyInfo struct {
	// Code is the asset code (e.g., "USDC", "BTC").
	Code string

	// Issuer is the Stellar public key of the asset issuer.
	Issuer string

	// Status indicates if the asset is live, test, or disabled (optional).
	Status string

	// DisplayDecimals indicates the number of decimals to display (optional).
	DisplayDecimals int

	// AnchorAssetType indicates the asset type (e.g., "crypto", "fiat") (optional).
	AnchorAssetType string

	// Description provides a human-readable description of the asset (optional).
	Description string

	// Regulated marks an asset whose payments need issuer approval (SEP-8).
	Regulated bool

	// ApprovalServer is the URL payments for a regulated asset must be
	// submitted to for approval.
	ApprovalServer string

	// ApprovalCriteria is a human-readable description of the issuer's
	// approval conditions.
	ApprovalCriteria string
}

// Value returns the field identified by key, or the empty string when the
// document did not declare it.
func (i *AnchorInfo) Value(key Key) string {
	switch key {
	case KeyNetworkPassphrase:
		return i.NetworkPassphrase
	case KeySigningKey:
		return i.SigningKey
	case KeyWebAuthEndpoint:
		return i.WebAuthEndpoint
	case KeyKYCServer:
		return i.KYCServer
	case KeyTransferServer:
		return i.TransferServer
	case KeyTransferServerSep24:
		return i.TransferServerSep24
	case KeyDirectPaymentServer:
		return i.DirectPaymentServer
	case KeyAnchorQuoteServer:
		return i.AnchorQuoteServer
	default:
		return ""
	}
}

// Require validates that every listed key is present in the document.
// It returns a DISCOVERY_FAILED error naming all missing keys at once, so a
// caller sees the full gap rather than the first one.
func (i *AnchorInfo) Require(keys ...Key) error {
	var missing []string
	for _, key := range keys {
		if i.Value(key) == "" {
			missing = append(missing, string(key))
		}
	}
	if len(missing) > 0 {
		return errors.NewCoreError(
			errors.DISCOVERY_FAILED,
			"stellar.toml is missing required keys: "+strings.Join(missing, ", "),
			nil,
		)
	}
	return nil
}

// Currency returns the declared currency entry for code, if any.
func (i *AnchorInfo) Currency(code string) (CurrencyInfo, bool) {
	for _, c := range i.Currencies {
		if c.Code == code {
			return c, true
		}
	}
	return CurrencyInfo{}, false
}
