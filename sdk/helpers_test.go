package sdk

import (
	"context"
	"fmt"
	"sync"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// testSigner signs with a local keypair and counts signatures so tests can
// assert that signing never happened.
type testSigner struct {
	kp        *keypair.Full
	signCalls int
}

func newTestSigner() *testSigner {
	return &testSigner{kp: keypair.MustRandom()}
}

func (s *testSigner) PublicKey() string {
	return s.kp.Address()
}

func (s *testSigner) SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error) {
	s.signCalls++
	parsed, err := txnbuild.TransactionFromXDR(xdr)
	if err != nil {
		return "", err
	}
	tx, ok := parsed.Transaction()
	if !ok {
		return "", fmt.Errorf("fee bump transactions are not supported")
	}
	signed, err := tx.Sign(networkPassphrase, s.kp)
	if err != nil {
		return "", err
	}
	return signed.Base64()
}

// fakeLedger is an in-memory LedgerClient. Submitted envelopes are retained
// for inspection.
type fakeLedger struct {
	mu        sync.Mutex
	accounts  map[string]*anchorclient.AccountDetail
	balances  []anchorclient.ClaimableBalance
	submitted []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{accounts: make(map[string]*anchorclient.AccountDetail)}
}

func (l *fakeLedger) addAccount(id string, balances ...anchorclient.Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[id] = &anchorclient.AccountDetail{ID: id, Sequence: 100, Balances: balances}
}

func (l *fakeLedger) LoadAccount(ctx context.Context, accountID string) (*anchorclient.AccountDetail, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	detail, ok := l.accounts[accountID]
	if !ok {
		return nil, errors.NewLedgerError(errors.ACCOUNT_NOT_FOUND, fmt.Sprintf("account %s not found", accountID), nil)
	}
	copied := *detail
	return &copied, nil
}

func (l *fakeLedger) SubmitTransaction(ctx context.Context, signedXDR string) (*anchorclient.SubmitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitted = append(l.submitted, signedXDR)
	return &anchorclient.SubmitResult{
		Hash:        fmt.Sprintf("hash-%d", len(l.submitted)),
		Ledger:      12345,
		Successful:  true,
		EnvelopeXDR: signedXDR,
	}, nil
}

func (l *fakeLedger) AssetExists(ctx context.Context, asset anchorclient.Asset) (bool, error) {
	return true, nil
}

func (l *fakeLedger) ClaimableBalances(ctx context.Context, claimant string, asset anchorclient.Asset) ([]anchorclient.ClaimableBalance, error) {
	return l.balances, nil
}

func (l *fakeLedger) submissions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.submitted...)
}

// decodeTx parses a submitted envelope back into a transaction.
func decodeTx(xdr string) (*txnbuild.Transaction, error) {
	parsed, err := txnbuild.TransactionFromXDR(xdr)
	if err != nil {
		return nil, err
	}
	tx, ok := parsed.Transaction()
	if !ok {
		return nil, fmt.Errorf("unexpected fee bump transaction")
	}
	return tx, nil
}
