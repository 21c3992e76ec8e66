package sdk

import (
	"context"
	"fmt"
	"net/url"

	"github.com/stellar-connect/anchor-client-go/core/net"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// CustomerStatus is an anchor-reported SEP-12 customer (or field) status.
type CustomerStatus string

const (
	CustomerNeedsInfo  CustomerStatus = "NEEDS_INFO"
	CustomerAccepted   CustomerStatus = "ACCEPTED"
	CustomerProcessing CustomerStatus = "PROCESSING"
	CustomerRejected   CustomerStatus = "REJECTED"
)

// FieldKind is the declared type of a customer field. Anchors send
// loosely-typed schemas; modeling the kind explicitly lets the orchestrators
// validate values before submission.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldDate   FieldKind = "date"
	FieldBinary FieldKind = "binary"
	FieldEnum   FieldKind = "enum"
)

// CustomerField is one anchor-declared KYC field with its acceptance status.
type CustomerField struct {
	Name        string
	Kind        FieldKind
	Description string
	Optional    bool
	Choices     []string
	Status      CustomerStatus
}

// CustomerInfo is the result of a SEP-12 GET /customer call.
type CustomerInfo struct {
	ID     string
	Status CustomerStatus
	Fields []CustomerField
}

// FieldValue is one caller-supplied value for submission. Binary fields carry
// raw content plus a filename and are sent as file parts, not base64 text.
type FieldValue struct {
	Name     string
	Value    string
	Binary   []byte
	Filename string
}

// CustomerProfile exchanges KYC data with an anchor's SEP-12 server. It keeps
// no per-customer state; tokens and accounts are arguments on every call.
type CustomerProfile struct {
	client    *Client
	kycServer string
}

// NewCustomerProfile creates a CustomerProfile for one KYC server.
func NewCustomerProfile(client *Client, kycServer string) *CustomerProfile {
	return &CustomerProfile{client: client, kycServer: kycServer}
}

// FieldsParams configures a GET /customer request. Memo (with memo_type hash)
// disambiguates logical parties sharing one ledger account; Type selects an
// anchor-declared customer type when the anchor offers several.
type FieldsParams struct {
	Token   string
	Account string
	Memo    string
	Type    string
}

// Fields fetches the anchor's declared field list and per-field status for a
// customer. Anchors may add or remove required fields between calls, so flows
// re-fetch after certain status transitions rather than assuming stability.
func (p *CustomerProfile) Fields(ctx context.Context, params FieldsParams) (*CustomerInfo, error) {
	query := url.Values{}
	query.Set("account", params.Account)
	if params.Memo != "" {
		query.Set("memo", params.Memo)
		query.Set("memo_type", "hash")
	}
	if params.Type != "" {
		query.Set("type", params.Type)
	}

	p.client.logRequest("GET /customer", query)

	var body struct {
		ID             string                 `json:"id"`
		Status         string                 `json:"status"`
		Fields         map[string]fieldSchema `json:"fields"`
		ProvidedFields map[string]fieldSchema `json:"provided_fields"`
		Error          string                 `json:"error"`
	}
	resp, err := p.client.httpClient.GetJSON(ctx, p.kycServer+"/customer?"+query.Encode(), params.Token, &body)
	if err != nil {
		return nil, errors.NewKYCError(errors.CUSTOMER_FETCH_FAILED, "failed to fetch customer fields", err)
	}
	if resp.StatusCode != 200 {
		text, _ := resp.Text()
		return nil, errors.NewKYCError(
			errors.CUSTOMER_FETCH_FAILED,
			fmt.Sprintf("GET /customer returned status %d: %s", resp.StatusCode, text),
			nil,
		)
	}
	p.client.logResponse("GET /customer", body)

	info := &CustomerInfo{
		ID:     body.ID,
		Status: CustomerStatus(body.Status),
	}
	for name, schema := range body.Fields {
		info.Fields = append(info.Fields, schema.toField(name, CustomerNeedsInfo))
	}
	for name, schema := range body.ProvidedFields {
		status := CustomerStatus(schema.Status)
		if status == "" {
			status = CustomerAccepted
		}
		info.Fields = append(info.Fields, schema.toField(name, status))
	}
	return info, nil
}

// SubmitParams configures a PUT /customer request.
type SubmitParams struct {
	Token   string
	Account string
	Memo    string
	Type    string
	Values  []FieldValue
}

// SubmitReceipt is the anchor's acknowledgement of a customer submission.
type SubmitReceipt struct {
	ID     string
	Status CustomerStatus
}

// Submit sends field values to the anchor. Only fields that actually carry a
// value are included, and binary fields go as raw file parts since anchors
// reject base64-wrapped text for them.
func (p *CustomerProfile) Submit(ctx context.Context, params SubmitParams) (*SubmitReceipt, error) {
	fields := []net.MultipartField{
		{Name: "account", Value: params.Account},
	}
	if params.Memo != "" {
		fields = append(fields,
			net.MultipartField{Name: "memo", Value: params.Memo},
			net.MultipartField{Name: "memo_type", Value: "hash"},
		)
	}
	if params.Type != "" {
		fields = append(fields, net.MultipartField{Name: "type", Value: params.Type})
	}

	sent := 0
	for _, v := range params.Values {
		switch {
		case len(v.Binary) > 0:
			filename := v.Filename
			if filename == "" {
				filename = v.Name
			}
			fields = append(fields, net.MultipartField{Name: v.Name, Filename: filename, Content: v.Binary})
			sent++
		case v.Value != "":
			fields = append(fields, net.MultipartField{Name: v.Name, Value: v.Value})
			sent++
		}
	}
	if sent == 0 {
		return nil, errors.NewKYCError(errors.VALIDATION_FAILED, "no customer field values to submit", nil)
	}

	p.client.logRequest("PUT /customer", fmt.Sprintf("%d fields for %s", sent, params.Account))

	resp, err := p.client.httpClient.PutMultipart(ctx, p.kycServer+"/customer", params.Token, fields)
	if err != nil {
		return nil, errors.NewKYCError(errors.CUSTOMER_SUBMIT_FAILED, "failed to submit customer fields", err)
	}

	if resp.StatusCode != 200 && resp.StatusCode != 202 {
		text, _ := resp.Text()
		return nil, errors.NewKYCError(
			errors.CUSTOMER_SUBMIT_FAILED,
			fmt.Sprintf("PUT /customer returned status %d: %s", resp.StatusCode, text),
			nil,
		)
	}

	var body struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, errors.NewKYCError(errors.CUSTOMER_SUBMIT_FAILED, "failed to decode PUT /customer response", err)
	}
	p.client.logResponse("PUT /customer", body)

	status := CustomerStatus(body.Status)
	if status == "" {
		status = CustomerProcessing
	}
	return &SubmitReceipt{ID: body.ID, Status: status}, nil
}

// Delete removes a customer's records from the anchor. Anchors use this for
// test-data hygiene; it is also the SEP-12 right-to-erasure call.
func (p *CustomerProfile) Delete(ctx context.Context, token, account string) error {
	p.client.logRequest("DELETE /customer/"+account, nil)

	resp, err := p.client.httpClient.Delete(ctx, p.kycServer+"/customer/"+account, token)
	if err != nil {
		return errors.NewKYCError(errors.CUSTOMER_SUBMIT_FAILED, "failed to delete customer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 && resp.StatusCode != 204 {
		return errors.NewKYCError(
			errors.CUSTOMER_SUBMIT_FAILED,
			fmt.Sprintf("DELETE /customer returned status %d", resp.StatusCode),
			nil,
		)
	}
	p.client.logResponse("DELETE /customer/"+account, resp.StatusCode)
	return nil
}

type fieldSchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Optional    bool     `json:"optional"`
	Choices     []string `json:"choices"`
	Status      string   `json:"status"`
}

func (s fieldSchema) toField(name string, fallback CustomerStatus) CustomerField {
	kind := FieldKind(s.Type)
	if len(s.Choices) > 0 {
		kind = FieldEnum
	}
	switch kind {
	case FieldString, FieldNumber, FieldDate, FieldBinary, FieldEnum:
	default:
		kind = FieldString
	}

	status := CustomerStatus(s.Status)
	if status == "" {
		status = fallback
	}

	return CustomerField{
		Name:        name,
		Kind:        kind,
		Description: s.Description,
		Optional:    s.Optional,
		Choices:     s.Choices,
		Status:      status,
	}
}

func (anchorField CustomerField) validate(value FieldValue) error {
	if anchorField.Kind == FieldEnum && value.Value != "" {
		for _, choice := range anchorField.Choices {
			if choice == value.Value {
				return nil
			}
		}
		return errors.NewKYCError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("value %q is not a declared choice for field %q", value.Value, anchorField.Name),
			nil,
		)
	}
	if anchorField.Kind == FieldBinary && value.Value != "" && len(value.Binary) == 0 {
		return errors.NewKYCError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("field %q is binary and must be submitted as file content", anchorField.Name),
			nil,
		)
	}
	return nil
}

// ValidateValues checks caller-supplied values against the anchor's declared
// schema: required fields present, enum values among the declared choices,
// binary fields carrying file content.
func ValidateValues(declared []CustomerField, values []FieldValue) error {
	byName := make(map[string]CustomerField, len(declared))
	for _, f := range declared {
		byName[f.Name] = f
	}

	provided := make(map[string]bool, len(values))
	for _, v := range values {
		if v.Value != "" || len(v.Binary) > 0 {
			provided[v.Name] = true
		}
		if f, ok := byName[v.Name]; ok {
			if err := f.validate(v); err != nil {
				return err
			}
		}
	}

	var missing []string
	for _, f := range declared {
		if !f.Optional && f.Status == CustomerNeedsInfo && !provided[f.Name] {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return errors.NewKYCError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("missing required customer fields: %v", missing),
			nil,
		)
	}
	return nil
}
