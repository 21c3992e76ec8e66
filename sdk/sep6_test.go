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

// mockSep6Anchor serves stellar.toml, SEP-10 auth, a SEP-12 KYC server whose
// outstanding fields are satisfied by PUT submissions, and a SEP-6 transfer
// server with a scripted status sequence.
type mockSep6Anchor struct {
	t        *testing.T
	serverKP *keypair.Full
	server   *httptest.Server

	mu           sync.Mutex
	authRequired bool
	needed       []string
	accepted     []string
	initiate     func(w http.ResponseWriter, r *http.Request)
	statuses     []map[string]any
	cursor       int
}

func newMockSep6Anchor(t *testing.T) *mockSep6Anchor {
	t.Helper()
	anchor := &mockSep6Anchor{t: t, serverKP: keypair.MustRandom(), authRequired: true}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/stellar.toml", func(w http.ResponseWriter, r *http.Request) {
		publisher := toml.NewPublisher(&toml.AnchorInfo{
			NetworkPassphrase: testPassphrase,
			SigningKey:        anchor.serverKP.Address(),
			WebAuthEndpoint:   anchor.server.URL + "/auth",
			KYCServer:         anchor.server.URL + "/kyc",
			TransferServer:    anchor.server.URL + "/sep6",
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
			json.NewEncoder(w).Encode(map[string]string{"token": "sep6-token"})
		}
	})
	mux.HandleFunc("/kyc/customer", func(w http.ResponseWriter, r *http.Request) {
		anchor.mu.Lock()
		defer anchor.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			fields := map[string]any{}
			for _, name := range anchor.needed {
				fields[name] = map[string]any{"type": "string", "description": name}
			}
			provided := map[string]any{}
			for _, name := range anchor.accepted {
				provided[name] = map[string]any{"type": "string", "status": "ACCEPTED"}
			}
			status := "ACCEPTED"
			if len(anchor.needed) > 0 {
				status = "NEEDS_INFO"
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status":          status,
				"fields":          fields,
				"provided_fields": provided,
			})
		case http.MethodPut:
			require.NoError(t, r.ParseMultipartForm(1<<20))
			var remaining []string
			for _, name := range anchor.needed {
				if r.FormValue(name) != "" {
					anchor.accepted = append(anchor.accepted, name)
				} else {
					remaining = append(remaining, name)
				}
			}
			anchor.needed = remaining
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"id": "cust-1"})
		}
	})
	mux.HandleFunc("/sep6/info", func(w http.ResponseWriter, r *http.Request) {
		anchor.mu.Lock()
		entry := map[string]any{"enabled": true, "authentication_required": anchor.authRequired}
		anchor.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"deposit":  map[string]any{"SRT": entry},
			"withdraw": map[string]any{"SRT": entry},
		})
	})
	initiate := func(w http.ResponseWriter, r *http.Request) {
		anchor.mu.Lock()
		handler := anchor.initiate
		anchor.mu.Unlock()
		handler(w, r)
	}
	mux.HandleFunc("/sep6/deposit", initiate)
	mux.HandleFunc("/sep6/withdraw", initiate)
	mux.HandleFunc("/sep6/transaction", func(w http.ResponseWriter, r *http.Request) {
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

func (a *mockSep6Anchor) setNeeded(names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.needed = names
}

func (a *mockSep6Anchor) setStatuses(statuses []map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses = statuses
	a.cursor = 0
}

func (a *mockSep6Anchor) setInitiate(handler func(w http.ResponseWriter, r *http.Request)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initiate = handler
}

func newSep6TestFlow(t *testing.T, anchor *mockSep6Anchor, ledger *fakeLedger, signer *testSigner, request anchorclient.TransferRequest) *Sep6Flow {
	t.Helper()
	request.HomeDomain = anchor.server.URL
	client := NewClient(testPassphrase, WithLedger(ledger))
	flow := NewSep6Flow(client, request, signer)
	flow.poller.Interval = time.Millisecond
	return flow
}

func TestSep6WithdrawCollectsFieldsThenPays(t *testing.T) {
	anchor := newMockSep6Anchor(t)
	anchor.setNeeded("email_address", "bank_account_number")

	signer := newTestSigner()
	anchorAccount := keypair.MustRandom().Address()
	asset := anchorclient.Asset{Code: "SRT", Issuer: keypair.MustRandom().Address()}

	ledger := newFakeLedger()
	ledger.addAccount(signer.PublicKey(), anchorclient.Balance{Asset: asset, Amount: "100"})
	ledger.addAccount(anchorAccount)

	anchor.setInitiate(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sep6-token", r.Header.Get("Authorization"))
		require.Equal(t, "SRT", r.URL.Query().Get("asset_code"))
		require.Equal(t, "bank_account", r.URL.Query().Get("type"))
		json.NewEncoder(w).Encode(map[string]any{
			"id":         "tx-6",
			"account_id": anchorAccount,
			"memo_type":  "text",
			"memo":       "wd-6",
		})
	})
	anchor.setStatuses([]map[string]any{
		{"id": "tx-6", "status": "pending_user_transfer_start",
			"amount_in": "25", "withdraw_anchor_account": anchorAccount,
			"withdraw_memo": "wd-6", "withdraw_memo_type": "text"},
		{"id": "tx-6", "status": "pending_stellar"},
		{"id": "tx-6", "status": "completed"},
	})

	flow := newSep6TestFlow(t, anchor, ledger, signer, anchorclient.TransferRequest{
		Asset:     asset,
		Direction: anchorclient.DirectionWithdraw,
		Amount:    "25",
	})

	require.NoError(t, flow.Initiate(context.Background()))
	assert.Equal(t, anchorclient.StateNeedsInput, flow.State())
	require.Len(t, flow.RequiredFields(), 2)

	err := flow.SubmitFields(context.Background(), []FieldValue{
		{Name: "email_address", Value: "user@example.com"},
		{Name: "bank_account_number", Value: "12345678"},
	})
	require.NoError(t, err)
	assert.Equal(t, anchorclient.StateCanProceed, flow.State())

	response, err := flow.Proceed(context.Background(), url.Values{"type": {"bank_account"}})
	require.NoError(t, err)
	assert.Equal(t, anchorAccount, response.AccountID)
	assert.Equal(t, anchorclient.StatePending, flow.State())

	status, err := flow.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, anchorclient.TxStatusCompleted, status)
	assert.Equal(t, anchorclient.StateSuccess, flow.State())

	require.Len(t, ledger.submissions(), 1)
	tx, err := decodeTx(ledger.submissions()[0])
	require.NoError(t, err)
	op, ok := tx.Operations()[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, anchorAccount, op.Destination)
	assert.Equal(t, txnbuild.MemoText("wd-6"), tx.Memo())
}

func TestSep6DepositWithoutAuthSkipsKYC(t *testing.T) {
	anchor := newMockSep6Anchor(t)
	anchor.mu.Lock()
	anchor.authRequired = false
	anchor.mu.Unlock()

	signer := newTestSigner()
	ledger := newFakeLedger()
	ledger.addAccount(signer.PublicKey())

	flow := newSep6TestFlow(t, anchor, ledger, signer, anchorclient.TransferRequest{
		Asset:     anchorclient.Asset{Code: "SRT", Issuer: keypair.MustRandom().Address()},
		Direction: anchorclient.DirectionDeposit,
	})

	require.NoError(t, flow.Initiate(context.Background()))
	assert.Equal(t, anchorclient.StateCanProceed, flow.State())
	assert.Nil(t, flow.Session())
	assert.Zero(t, signer.signCalls)
}

func TestSep6ForbiddenInitiationPausesForKYC(t *testing.T) {
	anchor := newMockSep6Anchor(t)

	signer := newTestSigner()
	ledger := newFakeLedger()
	ledger.addAccount(signer.PublicKey())

	anchor.setInitiate(func(w http.ResponseWriter, r *http.Request) {
		anchor.setNeeded("tax_id")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"type":   "non_interactive_customer_info_needed",
			"fields": []string{"tax_id"},
		})
	})

	flow := newSep6TestFlow(t, anchor, ledger, signer, anchorclient.TransferRequest{
		Asset:     anchorclient.Asset{Code: "SRT", Issuer: keypair.MustRandom().Address()},
		Direction: anchorclient.DirectionDeposit,
	})

	require.NoError(t, flow.Initiate(context.Background()))
	assert.Equal(t, anchorclient.StateCanProceed, flow.State())

	_, err := flow.Proceed(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.VALIDATION_FAILED, errors.CodeOf(err))
	assert.Equal(t, anchorclient.StateNeedsKYC, flow.State())
	require.Len(t, flow.RequiredFields(), 1)
	assert.Equal(t, "tax_id", flow.RequiredFields()[0].Name)
}

func TestSep6MidTransferInfoUpdateLoopsThroughKYC(t *testing.T) {
	anchor := newMockSep6Anchor(t)

	signer := newTestSigner()
	ledger := newFakeLedger()
	ledger.addAccount(signer.PublicKey())

	anchor.setInitiate(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "tx-6", "how": "wire transfer"})
	})
	anchor.setStatuses([]map[string]any{
		{"id": "tx-6", "status": "pending_anchor"},
		{"id": "tx-6", "status": "pending_customer_info_update"},
	})

	flow := newSep6TestFlow(t, anchor, ledger, signer, anchorclient.TransferRequest{
		Asset:     anchorclient.Asset{Code: "SRT", Issuer: keypair.MustRandom().Address()},
		Direction: anchorclient.DirectionDeposit,
	})

	require.NoError(t, flow.Initiate(context.Background()))
	_, err := flow.Proceed(context.Background(), nil)
	require.NoError(t, err)

	anchor.setNeeded("proof_of_income")
	status, err := flow.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, anchorclient.TxStatusPendingCustomerInfoUpdate, status)
	assert.Equal(t, anchorclient.StateNeedsKYC, flow.State())

	anchor.setStatuses([]map[string]any{
		{"id": "tx-6", "status": "completed"},
	})
	err = flow.SubmitFields(context.Background(), []FieldValue{
		{Name: "proof_of_income", Value: "payslip"},
	})
	require.NoError(t, err)
	assert.Equal(t, anchorclient.StatePending, flow.State(), "an open anchor transaction resumes polling")

	status, err = flow.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, anchorclient.TxStatusCompleted, status)
	assert.Equal(t, anchorclient.StateSuccess, flow.State())
}
