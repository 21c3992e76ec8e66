// Package sdk implements the anchor-interaction protocol engine: endpoint
// discovery, SEP-10 authentication, SEP-12 customer exchange, SEP-38 quotes,
// trustline management, payment submission, status polling, and the four
// transfer orchestrators (SEP-6, SEP-24, SEP-31, SEP-8).
package sdk

import (
	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/core/net"
	"github.com/stellar-connect/anchor-client-go/core/toml"
)

// Client is the entry point for driving flows against Stellar anchors.
// It bundles the collaborators every flow needs: an HTTP client, the
// stellar.toml resolver, a ledger client, and a telemetry sink. Keys and
// tokens are never held here; they are passed into each call that needs them.
type Client struct {
	networkPassphrase string
	httpClient        *net.Client
	tomlResolver      *toml.Resolver
	ledger            anchorclient.LedgerClient
	sink              anchorclient.EventSink
	baseFee           int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client for network requests.
func WithHTTPClient(client *net.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
		c.tomlResolver = toml.NewResolver(client)
	}
}

// WithLedger sets the ledger client used for trustlines, payments, and
// claimable balances. Flows that never touch the ledger work without one.
func WithLedger(ledger anchorclient.LedgerClient) ClientOption {
	return func(c *Client) {
		c.ledger = ledger
	}
}

// WithEventSink sets the telemetry sink. Defaults to a no-op sink.
func WithEventSink(sink anchorclient.EventSink) ClientOption {
	return func(c *Client) {
		c.sink = sink
	}
}

// WithBaseFee sets the base fee in stroops for ledger transactions built by
// the engine (default 100).
func WithBaseFee(fee int64) ClientOption {
	return func(c *Client) {
		c.baseFee = fee
	}
}

// NewClient creates a new anchor client.
// The networkPassphrase identifies the Stellar network (e.g., "Test SDF Network ; September 2015").
func NewClient(networkPassphrase string, opts ...ClientOption) *Client {
	httpClient := net.NewClient()

	client := &Client{
		networkPassphrase: networkPassphrase,
		httpClient:        httpClient,
		tomlResolver:      toml.NewResolver(httpClient),
		sink:              anchorclient.NopSink{},
		baseFee:           100,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// NetworkPassphrase returns the Stellar network this client targets.
func (c *Client) NetworkPassphrase() string {
	return c.networkPassphrase
}

// Resolver exposes the stellar.toml resolver for direct endpoint discovery.
func (c *Client) Resolver() *toml.Resolver {
	return c.tomlResolver
}

func (c *Client) logRequest(title string, body any) {
	c.sink.Emit(anchorclient.Event{Kind: anchorclient.EventRequest, Title: title, Body: body})
}

func (c *Client) logResponse(title string, body any) {
	c.sink.Emit(anchorclient.Event{Kind: anchorclient.EventResponse, Title: title, Body: body})
}

func (c *Client) logInstruction(title string, body any) {
	c.sink.Emit(anchorclient.Event{Kind: anchorclient.EventInstruction, Title: title, Body: body})
}

func (c *Client) logError(title string, body any) {
	c.sink.Emit(anchorclient.Event{Kind: anchorclient.EventError, Title: title, Body: body})
}
