package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/core/toml"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// fakeHost records opened URLs and reports a scripted closed state.
type fakeHost struct {
	mu     sync.Mutex
	opened []string
	closed bool
}

func (h *fakeHost) Open(url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, url)
	return nil
}

func (h *fakeHost) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHost) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// mockSep24Anchor serves stellar.toml, SEP-10 auth, interactive initiation,
// and a scripted transaction status sequence.
type mockSep24Anchor struct {
	t        *testing.T
	serverKP *keypair.Full
	server   *httptest.Server

	mu       sync.Mutex
	statuses []map[string]any
	cursor   int
}

func newMockSep24Anchor(t *testing.T, statuses []map[string]any) *mockSep24Anchor {
	t.Helper()
	anchor := &mockSep24Anchor{t: t, serverKP: keypair.MustRandom(), statuses: statuses}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/stellar.toml", func(w http.ResponseWriter, r *http.Request) {
		publisher := toml.NewPublisher(&toml.AnchorInfo{
			NetworkPassphrase:   testPassphrase,
			SigningKey:          anchor.serverKP.Address(),
			WebAuthEndpoint:     anchor.server.URL + "/auth",
			TransferServerSep24: anchor.server.URL + "/sep24",
		})
		publisher.Handler()(w, r)
	})
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]string{
				"transaction":        buildChallenge(t, anchor.serverKP, r.URL.Query().Get("account"), "anchor.example.com", 0),
				"network_passphrase": testPassphrase,
			})
		case http.MethodPost:
			json.NewEncoder(w).Encode(map[string]string{"token": "sep24-token"})
		}
	})
	mux.HandleFunc("/sep24/transactions/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sep24-token", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NotEmpty(t, r.FormValue("asset_code"))
		require.Equal(t, "true", r.FormValue("claimable_balance_supported"))
		json.NewEncoder(w).Encode(map[string]string{
			"type": "interactive_customer_info_needed",
			"url":  anchor.server.URL + "/popup",
			"id":   "tx-1",
		})
	})
	mux.HandleFunc("/sep24/transaction", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tx-1", r.URL.Query().Get("id"))
		anchor.mu.Lock()
		record := anchor.statuses[anchor.cursor]
		if anchor.cursor < len(anchor.statuses)-1 {
			anchor.cursor++
		}
		anchor.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"transaction": record})
	})

	anchor.server = httptest.NewServer(mux)
	t.Cleanup(anchor.server.Close)
	return anchor
}

func newSep24TestFlow(t *testing.T, anchor *mockSep24Anchor, ledger *fakeLedger, signer *testSigner, direction anchorclient.Direction, host *fakeHost) *Sep24Flow {
	t.Helper()
	client := NewClient(testPassphrase, WithLedger(ledger))
	flow := NewSep24Flow(client, anchorclient.TransferRequest{
		Asset:      anchorclient.Asset{Code: "SRT", Issuer: keypair.MustRandom().Address()},
		Direction:  direction,
		Amount:     "50",
		HomeDomain: anchor.server.URL,
	}, signer, host)
	flow.poller.Interval = time.Millisecond
	return flow
}

func TestSep24DepositEstablishesTrustExactlyOnce(t *testing.T) {
	anchor := newMockSep24Anchor(t, []map[string]any{
		{"id": "tx-1", "status": "incomplete"},
		{"id": "tx-1", "status": "pending_trust"},
		{"id": "tx-1", "status": "pending_trust"},
		{"id": "tx-1", "status": "pending_anchor"},
		{"id": "tx-1", "status": "completed"},
	})

	signer := newTestSigner()
	ledger := newFakeLedger()
	ledger.addAccount(signer.PublicKey(), anchorclient.Balance{Asset: anchorclient.Asset{}, Amount: "100"})

	host := &fakeHost{}
	flow := newSep24TestFlow(t, anchor, ledger, signer, anchorclient.DirectionDeposit, host)

	interactive, err := flow.Initiate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tx-1", interactive.ID)
	require.Len(t, host.opened, 1)
	assert.Equal(t, anchor.server.URL+"/popup", host.opened[0])

	status, err := flow.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, anchorclient.TxStatusCompleted, status)
	assert.Equal(t, anchorclient.StateSuccess, flow.State())

	require.Len(t, ledger.submissions(), 1, "repeated pending_trust must not repeat the trustline")
	tx, err := decodeTx(ledger.submissions()[0])
	require.NoError(t, err)
	_, ok := tx.Operations()[0].(*txnbuild.ChangeTrust)
	assert.True(t, ok)
}

func TestSep24DepositClaimsClaimableBalance(t *testing.T) {
	balanceID := "000000000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
	anchor := newMockSep24Anchor(t, []map[string]any{
		{"id": "tx-1", "status": "incomplete"},
		{"id": "tx-1", "status": "pending_anchor"},
		{"id": "tx-1", "status": "completed", "claimable_balance_id": balanceID},
	})

	signer := newTestSigner()
	ledger := newFakeLedger()
	ledger.addAccount(signer.PublicKey(), anchorclient.Balance{Asset: anchorclient.Asset{}, Amount: "100"})

	host := &fakeHost{}
	flow := newSep24TestFlow(t, anchor, ledger, signer, anchorclient.DirectionDeposit, host)

	_, err := flow.Initiate(context.Background())
	require.NoError(t, err)

	status, err := flow.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, anchorclient.TxStatusCompleted, status)

	require.Len(t, ledger.submissions(), 2, "expected a trustline then a claim")
	trustTx, err := decodeTx(ledger.submissions()[0])
	require.NoError(t, err)
	_, ok := trustTx.Operations()[0].(*txnbuild.ChangeTrust)
	assert.True(t, ok)

	claimTx, err := decodeTx(ledger.submissions()[1])
	require.NoError(t, err)
	claim, ok := claimTx.Operations()[0].(*txnbuild.ClaimClaimableBalance)
	require.True(t, ok)
	assert.Equal(t, balanceID, claim.BalanceID)
}

func TestSep24WithdrawSendsAnchorPayment(t *testing.T) {
	signer := newTestSigner()
	anchorAccount := keypair.MustRandom().Address()

	anchor := newMockSep24Anchor(t, []map[string]any{
		{"id": "tx-1", "status": "incomplete"},
		{
			"id":                      "tx-1",
			"status":                  "pending_user_transfer_start",
			"amount_in":               "50",
			"withdraw_anchor_account": anchorAccount,
			"withdraw_memo":           "wd-1",
			"withdraw_memo_type":      "text",
		},
		{"id": "tx-1", "status": "pending_stellar"},
		{"id": "tx-1", "status": "completed"},
	})

	ledger := newFakeLedger()
	asset := anchorclient.Asset{Code: "SRT", Issuer: keypair.MustRandom().Address()}
	ledger.addAccount(signer.PublicKey(), anchorclient.Balance{Asset: asset, Amount: "100"})
	ledger.addAccount(anchorAccount)

	host := &fakeHost{}
	client := NewClient(testPassphrase, WithLedger(ledger))
	flow := NewSep24Flow(client, anchorclient.TransferRequest{
		Asset:      asset,
		Direction:  anchorclient.DirectionWithdraw,
		Amount:     "50",
		HomeDomain: anchor.server.URL,
	}, signer, host)
	flow.poller.Interval = time.Millisecond

	_, err := flow.Initiate(context.Background())
	require.NoError(t, err)

	status, err := flow.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, anchorclient.TxStatusCompleted, status)

	require.Len(t, ledger.submissions(), 1)
	tx, err := decodeTx(ledger.submissions()[0])
	require.NoError(t, err)
	op, ok := tx.Operations()[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, anchorAccount, op.Destination)
	assert.Equal(t, txnbuild.MemoText("wd-1"), tx.Memo())
}

func TestSep24ClosedSessionStopsPolling(t *testing.T) {
	anchor := newMockSep24Anchor(t, []map[string]any{
		{"id": "tx-1", "status": "incomplete"},
	})

	signer := newTestSigner()
	ledger := newFakeLedger()
	ledger.addAccount(signer.PublicKey())

	host := &fakeHost{}
	flow := newSep24TestFlow(t, anchor, ledger, signer, anchorclient.DirectionDeposit, host)

	_, err := flow.Initiate(context.Background())
	require.NoError(t, err)

	host.close()
	_, err = flow.Await(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.POLL_INCOMPLETE, errors.CodeOf(err))
	assert.Equal(t, anchorclient.StateError, flow.State())
}
