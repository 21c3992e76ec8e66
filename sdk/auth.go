package sdk

import (
	"context"
	"fmt"
	"net/url"

	"github.com/stellar/go/txnbuild"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/core/toml"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// Session represents an authenticated connection to a Stellar anchor. It
// holds the bearer token for the anchor's services; the token is owned by the
// flow that obtained it and is never persisted past the flow's lifetime.
// Expiry is anchor-defined; Claims exposes the token's exp claim so
// long-running callers can re-authenticate before the first 401.
type Session struct {
	// HomeDomain is the anchor's domain (e.g., "testanchor.stellar.org")
	HomeDomain string

	// Account is the Stellar account address (G...) that was authenticated
	Account string

	// Token is the bearer token to use in Authorization headers
	Token string
}

// AuthParams carries everything one SEP-10 exchange needs. The keypair
// collaborators are supplied per call and not retained.
type AuthParams struct {
	// AuthEndpoint is the anchor's WEB_AUTH_ENDPOINT.
	AuthEndpoint string

	// HomeDomain scopes the challenge to the anchor's domain.
	HomeDomain string

	// Signer signs the challenge for the authenticating account.
	Signer anchorclient.Signer

	// ClientDomain, when set, requests client-domain attribution; the
	// challenge must then also be signed by ClientDomainSigner.
	ClientDomain string

	// ClientDomainSigner co-signs the challenge on behalf of ClientDomain
	// (typically a signers.FromRemote instance).
	ClientDomainSigner anchorclient.Signer
}

// Authenticate executes one SEP-10 challenge/response exchange:
//  1. Fetches a challenge transaction scoped to the account and home domain.
//  2. Verifies the challenge's sequence number is exactly zero; anchors must
//     issue unsubmittable challenges, and a nonzero sequence is rejected
//     before anything is signed.
//  3. Signs the challenge with the account signer and, if configured, the
//     client-domain signer.
//  4. Submits the signed envelope and returns the bearer token.
//
// Nothing is retried internally and no state outlives the call.
func (c *Client) Authenticate(ctx context.Context, params AuthParams) (*Session, error) {
	if params.Signer == nil {
		return nil, errors.NewAuthError(errors.VALIDATION_FAILED, "signer is required", nil)
	}
	if params.ClientDomain != "" && params.ClientDomainSigner == nil {
		return nil, errors.NewAuthError(errors.VALIDATION_FAILED, "client domain requires a client domain signer", nil)
	}

	account := params.Signer.PublicKey()
	c.logInstruction("Starting the SEP-10 flow to authenticate the Stellar account", account)

	query := url.Values{}
	query.Set("account", account)
	if params.HomeDomain != "" {
		query.Set("home_domain", params.HomeDomain)
	}
	if params.ClientDomain != "" {
		query.Set("client_domain", params.ClientDomain)
	}

	challengeURL := params.AuthEndpoint + "?" + query.Encode()
	c.logRequest("GET "+params.AuthEndpoint, query)

	resp, err := c.httpClient.Get(ctx, challengeURL, "")
	if err != nil {
		return nil, errors.NewAuthError(errors.CHALLENGE_FETCH_FAILED, "failed to fetch challenge", err)
	}

	if resp.StatusCode != 200 {
		body, _ := resp.Text()
		return nil, errors.NewAuthError(
			errors.CHALLENGE_FETCH_FAILED,
			fmt.Sprintf("challenge request returned status %d: %s", resp.StatusCode, body),
			nil,
		)
	}

	var challenge struct {
		Transaction       string `json:"transaction"`
		NetworkPassphrase string `json:"network_passphrase"`
		Error             string `json:"error"`
	}
	if err := resp.DecodeJSON(&challenge); err != nil {
		return nil, errors.NewAuthError(errors.PROTOCOL_VIOLATION, "failed to decode challenge response JSON", err)
	}
	c.logResponse("GET "+params.AuthEndpoint, challenge)

	if challenge.Transaction == "" {
		return nil, errors.NewAuthError(errors.PROTOCOL_VIOLATION, "the response didn't contain a transaction", nil)
	}
	if challenge.NetworkPassphrase != "" && challenge.NetworkPassphrase != c.networkPassphrase {
		return nil, errors.NewAuthError(
			errors.PROTOCOL_VIOLATION,
			fmt.Sprintf("network passphrase mismatch: expected %q, got %q", c.networkPassphrase, challenge.NetworkPassphrase),
			nil,
		)
	}

	// The sequence check happens before any signature is produced. A
	// submittable challenge could move funds; refusing to sign it is the
	// security boundary here.
	if err := verifyChallengeSequence(challenge.Transaction); err != nil {
		return nil, err
	}

	signedXDR, err := params.Signer.SignTransaction(ctx, challenge.Transaction, c.networkPassphrase)
	if err != nil {
		return nil, errors.NewAuthError(errors.SIGNER_ERROR, "failed to sign challenge transaction", err)
	}

	if params.ClientDomainSigner != nil {
		signedXDR, err = params.ClientDomainSigner.SignTransaction(ctx, signedXDR, c.networkPassphrase)
		if err != nil {
			return nil, errors.NewAuthError(errors.SIGNER_ERROR, "client domain signer failed to sign challenge", err)
		}
	}

	c.logInstruction("Sending the signed SEP-10 challenge back to the anchor to get a token", nil)
	c.logRequest("POST "+params.AuthEndpoint, map[string]string{"transaction": signedXDR})

	form := url.Values{}
	form.Set("transaction", signedXDR)

	submitResp, err := c.httpClient.PostForm(ctx, params.AuthEndpoint, "", form)
	if err != nil {
		return nil, errors.NewAuthError(errors.AUTH_REJECTED, "failed to submit signed challenge", err)
	}

	if submitResp.StatusCode != 200 {
		body, _ := submitResp.Text()
		return nil, errors.NewAuthError(
			errors.AUTH_REJECTED,
			fmt.Sprintf("auth submission returned status %d: %s", submitResp.StatusCode, body),
			nil,
		)
	}

	var tokenResp struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if err := submitResp.DecodeJSON(&tokenResp); err != nil {
		return nil, errors.NewAuthError(errors.AUTH_REJECTED, "failed to decode token response JSON", err)
	}
	c.logResponse("POST "+params.AuthEndpoint, tokenResp)

	if tokenResp.Token == "" {
		reason := tokenResp.Error
		if reason == "" {
			reason = "no token returned from auth endpoint"
		}
		return nil, errors.NewAuthError(errors.AUTH_REJECTED, reason, nil)
	}

	return &Session{
		HomeDomain: params.HomeDomain,
		Account:    account,
		Token:      tokenResp.Token,
	}, nil
}

// Login is a convenience wrapper that discovers the anchor's auth endpoint
// via stellar.toml and runs Authenticate against it.
func (c *Client) Login(ctx context.Context, homeDomain string, signer anchorclient.Signer) (*Session, error) {
	info, err := c.tomlResolver.Resolve(ctx, homeDomain)
	if err != nil {
		return nil, err
	}
	if err := info.Require(toml.KeyWebAuthEndpoint, toml.KeySigningKey); err != nil {
		return nil, err
	}

	return c.Authenticate(ctx, AuthParams{
		AuthEndpoint: info.WebAuthEndpoint,
		HomeDomain:   homeDomain,
		Signer:       signer,
	})
}

// verifyChallengeSequence parses the challenge envelope and rejects anything
// with a nonzero sequence number.
func verifyChallengeSequence(challengeXDR string) error {
	parsed, err := txnbuild.TransactionFromXDR(challengeXDR)
	if err != nil {
		return errors.NewAuthError(errors.PROTOCOL_VIOLATION, "failed to parse challenge transaction", err)
	}

	tx, ok := parsed.Transaction()
	if !ok {
		return errors.NewAuthError(errors.PROTOCOL_VIOLATION, "challenge transaction must not be a fee bump", nil)
	}

	if seq := tx.SourceAccount().Sequence; seq != 0 {
		return errors.NewAuthError(
			errors.PROTOCOL_VIOLATION,
			fmt.Sprintf("challenge transaction sequence must be zero, got %d", seq),
			nil,
		)
	}
	return nil
}
