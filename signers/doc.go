// Package signers provides convenience constructors for creating Signer implementations.
//
// It offers three patterns:
//   - FromSecret: Wraps a Stellar secret key (S...) using stellar/go keypair for signing.
//     Intended for test drivers and reference-client use.
//   - FromCallback: Wraps a custom signing function (e.g., HSM, custodial API, external service).
//     Allows you to delegate signing to any external infrastructure.
//   - FromRemote: Wraps an HTTP signing service with the fixed
//     {transaction, network_passphrase} -> {transaction} contract, used for
//     SEP-10 client-domain attribution.
//
// All return implementations of the anchorclient.Signer interface.
package signers
