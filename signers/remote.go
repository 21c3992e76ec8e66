package signers

import (
	"context"
	"fmt"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/core/net"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// remoteSigner delegates signing to an HTTP service implementing the
// client-domain signing contract: POST {transaction, network_passphrase}
// returns {transaction} with the service's signature appended.
type remoteSigner struct {
	publicKey string
	endpoint  string
	client    *net.Client
}

// FromRemote creates a Signer backed by a remote signing endpoint. Used for
// SEP-10 client-domain attribution, where the client domain's SIGNING_KEY
// must co-sign the challenge but its secret never leaves the domain's server.
func FromRemote(publicKey, endpoint string, client *net.Client) anchorclient.Signer {
	if client == nil {
		client = net.NewClient()
	}
	return &remoteSigner{
		publicKey: publicKey,
		endpoint:  endpoint,
		client:    client,
	}
}

// PublicKey returns the Stellar address (G...) the remote service signs with.
func (s *remoteSigner) PublicKey() string {
	return s.publicKey
}

// SignTransaction posts the envelope to the remote service and returns the
// co-signed envelope.
func (s *remoteSigner) SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error) {
	resp, err := s.client.PostJSON(ctx, s.endpoint, "", map[string]string{
		"transaction":        xdr,
		"network_passphrase": networkPassphrase,
	})
	if err != nil {
		return "", errors.NewAuthError(errors.SIGNER_ERROR, "remote signing request failed", err)
	}

	if resp.StatusCode != 200 {
		body, _ := resp.Text()
		return "", errors.NewAuthError(
			errors.SIGNER_ERROR,
			fmt.Sprintf("remote signer returned status %d: %s", resp.StatusCode, body),
			nil,
		)
	}

	var signed struct {
		Transaction string `json:"transaction"`
	}
	if err := resp.DecodeJSON(&signed); err != nil {
		return "", errors.NewAuthError(errors.SIGNER_ERROR, "failed to decode remote signer response", err)
	}
	if signed.Transaction == "" {
		return "", errors.NewAuthError(errors.SIGNER_ERROR, "remote signer response missing transaction", nil)
	}
	return signed.Transaction, nil
}
