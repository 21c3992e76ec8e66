package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
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

// mockSep31Anchor is a receiving anchor: stellar.toml, SEP-10 auth, a KYC
// server that records every GET's query, and a direct payment server.
type mockSep31Anchor struct {
	t        *testing.T
	serverKP *keypair.Full
	server   *httptest.Server

	receivingAccount string

	mu            sync.Mutex
	senderTypes   map[string]any
	receiverTypes map[string]any
	kycFetches    []url.Values
	createCalls   int
	statuses      []anchorclient.TxStatus
	cursor        int
}

func newMockSep31Anchor(t *testing.T) *mockSep31Anchor {
	t.Helper()
	anchor := &mockSep31Anchor{
		t:                t,
		serverKP:         keypair.MustRandom(),
		receivingAccount: keypair.MustRandom().Address(),
		senderTypes:      map[string]any{"sep31-sender": map[string]string{"description": "senders"}},
		receiverTypes:    map[string]any{"sep31-receiver": map[string]string{"description": "receivers"}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/stellar.toml", func(w http.ResponseWriter, r *http.Request) {
		publisher := toml.NewPublisher(&toml.AnchorInfo{
			NetworkPassphrase:   testPassphrase,
			SigningKey:          anchor.serverKP.Address(),
			WebAuthEndpoint:     anchor.server.URL + "/auth",
			KYCServer:           anchor.server.URL + "/kyc",
			DirectPaymentServer: anchor.server.URL + "/sep31",
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
			json.NewEncoder(w).Encode(map[string]string{"token": "sep31-token"})
		}
	})
	mux.HandleFunc("/kyc/customer", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			anchor.mu.Lock()
			anchor.kycFetches = append(anchor.kycFetches, r.URL.Query())
			anchor.mu.Unlock()
			field := "first_name"
			if r.URL.Query().Get("type") == "sep31-receiver" {
				field = "email_address"
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status": "NEEDS_INFO",
				"fields": map[string]any{
					field: map[string]any{"type": "string", "description": field},
				},
			})
		case http.MethodPut:
			require.NoError(t, r.ParseMultipartForm(1<<20))
			id := "sender-cust"
			if r.FormValue("type") == "sep31-receiver" {
				id = "receiver-cust"
			}
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"id": id})
		}
	})
	mux.HandleFunc("/sep31/info", func(w http.ResponseWriter, r *http.Request) {
		anchor.mu.Lock()
		defer anchor.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"receive": map[string]any{
				"SRT": map[string]any{
					"enabled":          true,
					"quotes_supported": true,
					"fields": map[string]any{
						"transaction": map[string]any{
							"routing_number": map[string]any{"type": "string", "description": "destination bank routing number"},
						},
					},
					"sep12": map[string]any{
						"sender":   map[string]any{"types": anchor.senderTypes},
						"receiver": map[string]any{"types": anchor.receiverTypes},
					},
				},
			},
		})
	})
	mux.HandleFunc("/sep31/transactions", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sep31-token", r.Header.Get("Authorization"))
		var body struct {
			SenderID   string `json:"sender_id"`
			ReceiverID string `json:"receiver_id"`
			AssetCode  string `json:"asset_code"`
			Amount     string `json:"amount"`
			Fields     struct {
				Transaction map[string]string `json:"transaction"`
			} `json:"fields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "sender-cust", body.SenderID)
		require.Equal(t, "receiver-cust", body.ReceiverID)
		require.Equal(t, "021000021", body.Fields.Transaction["routing_number"])
		anchor.mu.Lock()
		anchor.createCalls++
		anchor.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "tx-31", "status": "pending_sender"})
	})
	mux.HandleFunc("/sep31/transactions/tx-31", func(w http.ResponseWriter, r *http.Request) {
		anchor.mu.Lock()
		status := anchor.statuses[anchor.cursor]
		if anchor.cursor < len(anchor.statuses)-1 {
			anchor.cursor++
		}
		anchor.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"transaction": map[string]any{
				"id":                 "tx-31",
				"status":             status,
				"stellar_account_id": anchor.receivingAccount,
				"stellar_memo_type":  "text",
				"stellar_memo":       "31-memo",
			},
		})
	})

	anchor.server = httptest.NewServer(mux)
	t.Cleanup(anchor.server.Close)
	return anchor
}

func (a *mockSep31Anchor) setStatuses(statuses ...anchorclient.TxStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses = statuses
	a.cursor = 0
}

func (a *mockSep31Anchor) fetches() []url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]url.Values(nil), a.kycFetches...)
}

func newSep31TestFlow(t *testing.T, anchor *mockSep31Anchor, ledger *fakeLedger, signer *testSigner) *Sep31Flow {
	t.Helper()
	client := NewClient(testPassphrase, WithLedger(ledger))
	flow := NewSep31Flow(client, anchorclient.TransferRequest{
		Asset:      anchorclient.Asset{Code: "SRT", Issuer: keypair.MustRandom().Address()},
		Amount:     "75",
		HomeDomain: anchor.server.URL,
	}, signer)
	flow.poller.Interval = time.Millisecond
	return flow
}

// driveToCanProceed walks a flow through KYC for both parties.
func driveToCanProceed(t *testing.T, flow *Sep31Flow) {
	t.Helper()
	require.NoError(t, flow.Initiate(context.Background()))
	require.Equal(t, anchorclient.StateNeedsKYC, flow.State())

	sender, receiver, err := flow.FetchKYCFields(context.Background())
	require.NoError(t, err)
	require.Len(t, sender, 1)
	require.Len(t, receiver, 1)

	err = flow.SubmitKYC(context.Background(),
		[]FieldValue{{Name: "first_name", Value: "Ada"}},
		[]FieldValue{{Name: "email_address", Value: "receiver@example.com"}},
	)
	require.NoError(t, err)
	require.Equal(t, anchorclient.StateCanProceed, flow.State())
}

func TestSep31DirectPaymentEndToEnd(t *testing.T) {
	anchor := newMockSep31Anchor(t)
	signer := newTestSigner()

	asset := anchorclient.Asset{Code: "SRT", Issuer: keypair.MustRandom().Address()}
	ledger := newFakeLedger()
	ledger.addAccount(signer.PublicKey(), anchorclient.Balance{Asset: asset, Amount: "100"})
	ledger.addAccount(anchor.receivingAccount)

	client := NewClient(testPassphrase, WithLedger(ledger))
	flow := NewSep31Flow(client, anchorclient.TransferRequest{
		Asset:      asset,
		Amount:     "75",
		HomeDomain: anchor.server.URL,
	}, signer)
	flow.poller.Interval = time.Millisecond

	driveToCanProceed(t, flow)

	// Both parties share the ledger account; the anchor tells them apart by
	// type and hash memo.
	fetches := anchor.fetches()
	require.Len(t, fetches, 2)
	assert.Equal(t, "sep31-sender", fetches[0].Get("type"))
	assert.Equal(t, "sep31-receiver", fetches[1].Get("type"))
	assert.Equal(t, "hash", fetches[0].Get("memo_type"))
	assert.Equal(t, "hash", fetches[1].Get("memo_type"))
	assert.NotEqual(t, fetches[0].Get("memo"), fetches[1].Get("memo"))

	require.NoError(t, flow.SetTransactionFields(map[string]string{"routing_number": "021000021"}))

	anchor.setStatuses(anchorclient.TxStatusPendingSender)
	require.NoError(t, flow.CreateTransaction(context.Background()))
	account, memo, memoType := flow.ReceivingAccount()
	assert.Equal(t, anchor.receivingAccount, account)
	assert.Equal(t, "31-memo", memo)
	assert.Equal(t, "text", memoType)

	result, err := flow.SendPayment(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, anchorclient.StatePending, flow.State())

	require.Len(t, ledger.submissions(), 1)
	tx, err := decodeTx(ledger.submissions()[0])
	require.NoError(t, err)
	op, ok := tx.Operations()[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, anchor.receivingAccount, op.Destination)
	assert.Equal(t, txnbuild.MemoText("31-memo"), tx.Memo())

	anchor.setStatuses(anchorclient.TxStatusPendingReceiver, anchorclient.TxStatusPendingExternal)
	status, err := flow.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, anchorclient.TxStatusPendingExternal, status)
	assert.Equal(t, anchorclient.StateSuccess, flow.State())
}

func TestSep31MultipleTypesRequireSelectionBeforeFields(t *testing.T) {
	anchor := newMockSep31Anchor(t)
	anchor.mu.Lock()
	anchor.senderTypes["natural_person"] = map[string]string{"description": "individuals"}
	anchor.mu.Unlock()

	signer := newTestSigner()
	ledger := newFakeLedger()
	ledger.addAccount(signer.PublicKey())

	flow := newSep31TestFlow(t, anchor, ledger, signer)

	require.NoError(t, flow.Initiate(context.Background()))
	assert.Equal(t, anchorclient.StateNeedsInput, flow.State())

	_, _, err := flow.FetchKYCFields(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.VALIDATION_FAILED, errors.CodeOf(err))
	assert.Empty(t, anchor.fetches(), "no field fetch may happen before types are selected")

	err = flow.SelectTypes(context.Background(), "corporation", "sep31-receiver")
	require.Error(t, err)
	assert.Equal(t, errors.VALIDATION_FAILED, errors.CodeOf(err))

	require.NoError(t, flow.SelectTypes(context.Background(), "natural_person", "sep31-receiver"))
	assert.Equal(t, anchorclient.StateNeedsKYC, flow.State())

	_, _, err = flow.FetchKYCFields(context.Background())
	require.NoError(t, err)
	fetches := anchor.fetches()
	require.Len(t, fetches, 2)
	assert.Equal(t, "natural_person", fetches[0].Get("type"))
	assert.Equal(t, "sep31-receiver", fetches[1].Get("type"))
}

func TestSep31ExpiredQuoteNeverReachesTheAnchor(t *testing.T) {
	anchor := newMockSep31Anchor(t)
	signer := newTestSigner()

	asset := anchorclient.Asset{Code: "SRT", Issuer: keypair.MustRandom().Address()}
	ledger := newFakeLedger()
	ledger.addAccount(signer.PublicKey(), anchorclient.Balance{Asset: asset, Amount: "100"})

	flow := newSep31TestFlow(t, anchor, ledger, signer)
	driveToCanProceed(t, flow)
	require.NoError(t, flow.SetTransactionFields(map[string]string{"routing_number": "021000021"}))

	quote := &Quote{
		ID:        "quote-1",
		Price:     "1.05",
		SellAsset: "iso4217:USD",
		BuyAsset:  StellarAssetID(asset),
		ExpiresAt: time.Now().Add(30 * time.Millisecond),
	}
	require.NoError(t, flow.UseQuote(quote))

	time.Sleep(50 * time.Millisecond)
	err := flow.CreateTransaction(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.VALIDATION_FAILED, errors.CodeOf(err))

	anchor.mu.Lock()
	defer anchor.mu.Unlock()
	assert.Zero(t, anchor.createCalls, "an expired quote must be renegotiated, not submitted")
}
