package sdk

import (
	"context"
	"fmt"
	"net/url"
	"time"

	anchorclient "github.com/stellar-connect/anchor-client-go"
	"github.com/stellar-connect/anchor-client-go/core/net"
	"github.com/stellar-connect/anchor-client-go/errors"
)

// StellarAssetID renders a ledger asset in the SEP-38 asset identification
// format ("stellar:CODE:ISSUER", or "stellar:native").
func StellarAssetID(asset anchorclient.Asset) string {
	if asset.IsNative() {
		return "stellar:native"
	}
	return fmt.Sprintf("stellar:%s:%s", asset.Code, asset.Issuer)
}

// FiatAssetID renders an off-chain currency in the SEP-38 asset
// identification format ("iso4217:USD").
func FiatAssetID(code string) string {
	return "iso4217:" + code
}

// Quote is a SEP-38 quote. Firm quotes carry an ID and an expiry; indicative
// prices carry neither.
type Quote struct {
	ID         string
	Price      string
	TotalPrice string
	SellAsset  string
	SellAmount string
	BuyAsset   string
	BuyAmount  string
	Fee        *QuoteFee
	ExpiresAt  time.Time
}

// QuoteFee is the fee portion of a quote, denominated in one of its assets.
type QuoteFee struct {
	Total string `json:"total"`
	Asset string `json:"asset"`
}

// Validate reports whether the quote is still usable at the given instant.
// Expired quotes must not be referenced in transfers; anchors will reject
// them, so the check happens client-side first.
func (q *Quote) Validate(now time.Time) error {
	if q.ID == "" {
		return errors.NewQuoteError(errors.VALIDATION_FAILED, "quote has no id; only firm quotes can back a transfer", nil)
	}
	if !q.ExpiresAt.IsZero() && !now.Before(q.ExpiresAt) {
		return errors.NewQuoteError(
			errors.VALIDATION_FAILED,
			fmt.Sprintf("quote %s expired at %s", q.ID, q.ExpiresAt.Format(time.RFC3339)),
			nil,
		)
	}
	return nil
}

// BuyOption is one asset the anchor offers in exchange for a sell asset.
type BuyOption struct {
	Asset    string `json:"asset"`
	Price    string `json:"price"`
	Decimals int    `json:"decimals"`
}

// QuoteNegotiator talks to an anchor's SEP-38 quote server. Indicative
// endpoints describe current rates; firm quotes commit the anchor to a rate
// until the quote expires.
type QuoteNegotiator struct {
	client      *Client
	quoteServer string
}

// NewQuoteNegotiator creates a QuoteNegotiator for one quote server.
func NewQuoteNegotiator(client *Client, quoteServer string) *QuoteNegotiator {
	return &QuoteNegotiator{client: client, quoteServer: quoteServer}
}

// Prices lists the assets the anchor will buy in exchange for sellAsset,
// with indicative rates for the given amount.
func (n *QuoteNegotiator) Prices(ctx context.Context, token, sellAsset, sellAmount string) ([]BuyOption, error) {
	query := url.Values{}
	query.Set("sell_asset", sellAsset)
	query.Set("sell_amount", sellAmount)

	n.client.logRequest("GET /prices", query)

	var body struct {
		BuyAssets []BuyOption `json:"buy_assets"`
		Error     string      `json:"error"`
	}
	resp, err := n.client.httpClient.GetJSON(ctx, n.quoteServer+"/prices?"+query.Encode(), token, &body)
	if err != nil {
		return nil, errors.NewQuoteError(errors.QUOTE_FETCH_FAILED, "failed to fetch prices", err)
	}
	if resp.StatusCode != 200 {
		return nil, quoteRejection(resp.StatusCode, "GET /prices")
	}
	n.client.logResponse("GET /prices", body)
	return body.BuyAssets, nil
}

// PriceParams configures an indicative or firm price request. Exactly one of
// SellAmount and BuyAmount must be set; Context is the SEP the quote will be
// used with ("sep6" or "sep31").
type PriceParams struct {
	SellAsset  string
	BuyAsset   string
	SellAmount string
	BuyAmount  string
	Context    string
}

func (p PriceParams) validate() error {
	if p.SellAsset == "" || p.BuyAsset == "" {
		return errors.NewQuoteError(errors.VALIDATION_FAILED, "sell_asset and buy_asset are required", nil)
	}
	if (p.SellAmount == "") == (p.BuyAmount == "") {
		return errors.NewQuoteError(errors.VALIDATION_FAILED, "exactly one of sell_amount and buy_amount must be set", nil)
	}
	return nil
}

func (p PriceParams) values() url.Values {
	query := url.Values{}
	query.Set("sell_asset", p.SellAsset)
	query.Set("buy_asset", p.BuyAsset)
	if p.SellAmount != "" {
		query.Set("sell_amount", p.SellAmount)
	}
	if p.BuyAmount != "" {
		query.Set("buy_amount", p.BuyAmount)
	}
	if p.Context != "" {
		query.Set("context", p.Context)
	}
	return query
}

// IndicativePrice fetches the current rate for an asset pair without
// committing the anchor to it.
func (n *QuoteNegotiator) IndicativePrice(ctx context.Context, token string, params PriceParams) (*Quote, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	query := params.values()

	n.client.logRequest("GET /price", query)

	var body struct {
		Price      string    `json:"price"`
		TotalPrice string    `json:"total_price"`
		SellAmount string    `json:"sell_amount"`
		BuyAmount  string    `json:"buy_amount"`
		Fee        *QuoteFee `json:"fee"`
		Error      string    `json:"error"`
	}
	resp, err := n.client.httpClient.GetJSON(ctx, n.quoteServer+"/price?"+query.Encode(), token, &body)
	if err != nil {
		return nil, errors.NewQuoteError(errors.QUOTE_FETCH_FAILED, "failed to fetch price", err)
	}
	if resp.StatusCode != 200 {
		return nil, quoteRejection(resp.StatusCode, "GET /price")
	}
	n.client.logResponse("GET /price", body)

	return &Quote{
		Price:      body.Price,
		TotalPrice: body.TotalPrice,
		SellAsset:  params.SellAsset,
		SellAmount: body.SellAmount,
		BuyAsset:   params.BuyAsset,
		BuyAmount:  body.BuyAmount,
		Fee:        body.Fee,
	}, nil
}

// RequestFirmQuote asks the anchor to commit to a rate. The returned quote's
// ID can back a SEP-6 or SEP-31 transfer until ExpiresAt.
func (n *QuoteNegotiator) RequestFirmQuote(ctx context.Context, token string, params PriceParams) (*Quote, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	request := map[string]string{
		"sell_asset": params.SellAsset,
		"buy_asset":  params.BuyAsset,
	}
	if params.SellAmount != "" {
		request["sell_amount"] = params.SellAmount
	}
	if params.BuyAmount != "" {
		request["buy_amount"] = params.BuyAmount
	}
	if params.Context != "" {
		request["context"] = params.Context
	}

	n.client.logRequest("POST /quote", request)

	resp, err := n.client.httpClient.PostJSON(ctx, n.quoteServer+"/quote", token, request)
	if err != nil {
		return nil, errors.NewQuoteError(errors.QUOTE_FETCH_FAILED, "failed to request firm quote", err)
	}
	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		return nil, quoteRejection(resp.StatusCode, "POST /quote")
	}
	return n.decodeQuote(resp, "POST /quote")
}

// GetQuote re-fetches a previously requested firm quote by ID.
func (n *QuoteNegotiator) GetQuote(ctx context.Context, token, id string) (*Quote, error) {
	n.client.logRequest("GET /quote/"+id, nil)

	resp, err := n.client.httpClient.Get(ctx, n.quoteServer+"/quote/"+id, token)
	if err != nil {
		return nil, errors.NewQuoteError(errors.QUOTE_FETCH_FAILED, "failed to fetch quote", err)
	}
	if resp.StatusCode != 200 {
		return nil, quoteRejection(resp.StatusCode, "GET /quote/"+id)
	}
	return n.decodeQuote(resp, "GET /quote/"+id)
}

func (n *QuoteNegotiator) decodeQuote(resp *net.Response, title string) (*Quote, error) {
	var body struct {
		ID         string    `json:"id"`
		Price      string    `json:"price"`
		TotalPrice string    `json:"total_price"`
		ExpiresAt  string    `json:"expires_at"`
		SellAsset  string    `json:"sell_asset"`
		SellAmount string    `json:"sell_amount"`
		BuyAsset   string    `json:"buy_asset"`
		BuyAmount  string    `json:"buy_amount"`
		Fee        *QuoteFee `json:"fee"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, errors.NewQuoteError(errors.QUOTE_FETCH_FAILED, "failed to decode quote response", err)
	}
	n.client.logResponse(title, body)

	quote := &Quote{
		ID:         body.ID,
		Price:      body.Price,
		TotalPrice: body.TotalPrice,
		SellAsset:  body.SellAsset,
		SellAmount: body.SellAmount,
		BuyAsset:   body.BuyAsset,
		BuyAmount:  body.BuyAmount,
		Fee:        body.Fee,
	}
	if body.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, body.ExpiresAt)
		if err != nil {
			return nil, errors.NewQuoteError(
				errors.PROTOCOL_VIOLATION,
				fmt.Sprintf("quote expires_at %q is not RFC 3339", body.ExpiresAt),
				err,
			)
		}
		quote.ExpiresAt = expires
	}
	return quote, nil
}

func quoteRejection(status int, title string) error {
	return errors.NewQuoteError(
		errors.ANCHOR_REJECTED,
		fmt.Sprintf("%s returned status %d", title, status),
		nil,
	)
}
