package sdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar-connect/anchor-client-go/errors"
)

func TestFieldsParsesDeclaredAndProvided(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "GTEST", r.URL.Query().Get("account"))
		require.Equal(t, "sep6-deposit", r.URL.Query().Get("type"))
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"id":     "cust-1",
			"status": "NEEDS_INFO",
			"fields": map[string]any{
				"email_address": map[string]any{"type": "string", "description": "Email address"},
				"photo_id_front": map[string]any{
					"type":        "binary",
					"description": "Front of photo ID",
				},
				"sex": map[string]any{
					"type":    "string",
					"choices": []string{"male", "female", "other"},
				},
			},
			"provided_fields": map[string]any{
				"first_name": map[string]any{"type": "string", "status": "ACCEPTED"},
			},
		})
	}))
	defer server.Close()

	profile := NewCustomerProfile(NewClient(testPassphrase), server.URL)
	info, err := profile.Fields(context.Background(), FieldsParams{
		Token:   "token-1",
		Account: "GTEST",
		Type:    "sep6-deposit",
	})

	require.NoError(t, err)
	assert.Equal(t, "cust-1", info.ID)
	assert.Equal(t, CustomerNeedsInfo, info.Status)
	require.Len(t, info.Fields, 4)

	byName := map[string]CustomerField{}
	for _, f := range info.Fields {
		byName[f.Name] = f
	}
	assert.Equal(t, FieldString, byName["email_address"].Kind)
	assert.Equal(t, FieldBinary, byName["photo_id_front"].Kind)
	assert.Equal(t, FieldEnum, byName["sex"].Kind)
	assert.Equal(t, []string{"male", "female", "other"}, byName["sex"].Choices)
	assert.Equal(t, CustomerAccepted, byName["first_name"].Status)
}

func TestFieldsSendsHashMemo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bWVtby12YWx1ZQ==", r.URL.Query().Get("memo"))
		assert.Equal(t, "hash", r.URL.Query().Get("memo_type"))
		json.NewEncoder(w).Encode(map[string]any{"status": "NEEDS_INFO"})
	}))
	defer server.Close()

	profile := NewCustomerProfile(NewClient(testPassphrase), server.URL)
	_, err := profile.Fields(context.Background(), FieldsParams{
		Token:   "t",
		Account: "GTEST",
		Memo:    "bWVtby12YWx1ZQ==",
	})
	require.NoError(t, err)
}

func TestSubmitSendsBinaryFieldsAsFiles(t *testing.T) {
	photo := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, r.ParseMultipartForm(1 << 20))

		assert.Equal(t, "GTEST", r.FormValue("account"))
		assert.Equal(t, "jane@example.com", r.FormValue("email_address"))

		file, header, err := r.FormFile("photo_id_front")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "id-front.jpg", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, photo, content)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"id": "cust-1"})
	}))
	defer server.Close()

	profile := NewCustomerProfile(NewClient(testPassphrase), server.URL)
	receipt, err := profile.Submit(context.Background(), SubmitParams{
		Token:   "t",
		Account: "GTEST",
		Values: []FieldValue{
			{Name: "email_address", Value: "jane@example.com"},
			{Name: "photo_id_front", Binary: photo, Filename: "id-front.jpg"},
			{Name: "ignored_empty"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "cust-1", receipt.ID)
	assert.Equal(t, CustomerProcessing, receipt.Status)
}

func TestSubmitWithNoValuesFails(t *testing.T) {
	profile := NewCustomerProfile(NewClient(testPassphrase), "http://unused.example.com")
	_, err := profile.Submit(context.Background(), SubmitParams{
		Token:   "t",
		Account: "GTEST",
		Values:  []FieldValue{{Name: "empty"}},
	})
	require.Error(t, err)
	assert.Equal(t, errors.VALIDATION_FAILED, errors.CodeOf(err))
}

func TestDeleteCustomer(t *testing.T) {
	var deletedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		deletedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	profile := NewCustomerProfile(NewClient(testPassphrase), server.URL)
	require.NoError(t, profile.Delete(context.Background(), "t", "GTEST"))
	assert.Equal(t, "/customer/GTEST", deletedPath)
}

func TestValidateValuesCatchesSchemaViolations(t *testing.T) {
	declared := []CustomerField{
		{Name: "email_address", Kind: FieldString, Status: CustomerNeedsInfo},
		{Name: "sex", Kind: FieldEnum, Choices: []string{"male", "female", "other"}, Status: CustomerNeedsInfo},
		{Name: "nickname", Kind: FieldString, Optional: true, Status: CustomerNeedsInfo},
	}

	err := ValidateValues(declared, []FieldValue{
		{Name: "email_address", Value: "jane@example.com"},
		{Name: "sex", Value: "unlisted"},
	})
	require.Error(t, err)
	assert.Equal(t, errors.VALIDATION_FAILED, errors.CodeOf(err))

	err = ValidateValues(declared, []FieldValue{
		{Name: "sex", Value: "other"},
	})
	require.Error(t, err, "required email_address is missing")

	err = ValidateValues(declared, []FieldValue{
		{Name: "email_address", Value: "jane@example.com"},
		{Name: "sex", Value: "other"},
	})
	assert.NoError(t, err, "optional nickname may be absent")
}
