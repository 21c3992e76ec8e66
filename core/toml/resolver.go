package toml

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stellar-connect/anchor-client-go/core/net"
	"github.com/stellar-connect/anchor-client-go/errors"
)

const (
	defaultCacheTTL   = 5 * time.Minute
	wellKnownPath     = "/.well-known/stellar.toml"
	maxCurrencyArrays = 100
	maxTomlSize       = 1024 * 1024
)

type cacheEntry struct {
	info      *AnchorInfo
	fetchedAt time.Time
}

// Resolver fetches and parses anchor service-descriptor documents. Resolution
// is idempotent and side-effect free; repeated calls with the same domain may
// be served from a short-lived cache.
type Resolver struct {
	client   *net.Client
	cache    map[string]*cacheEntry
	cacheTTL time.Duration
	mu       sync.RWMutex
}

// NewResolver creates a Resolver using the given HTTP client.
func NewResolver(client *net.Client) *Resolver {
	return &Resolver{
		client:   client,
		cache:    make(map[string]*cacheEntry),
		cacheTTL: defaultCacheTTL,
	}
}

// Resolve fetches and parses the stellar.toml for a home domain. The domain
// may be bare ("testanchor.stellar.org") or carry an explicit scheme; http://
// is honored for local anchors, everything else resolves over https.
func (r *Resolver) Resolve(ctx context.Context, domain string) (*AnchorInfo, error) {
	r.mu.RLock()
	entry, exists := r.cache[domain]
	r.mu.RUnlock()

	if exists && time.Since(entry.fetchedAt) < r.cacheTTL {
		return entry.info, nil
	}

	url := domain
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	url = strings.TrimSuffix(url, "/") + wellKnownPath

	resp, err := r.client.Get(ctx, url, "")
	if err != nil {
		return nil, errors.NewCoreError(errors.DISCOVERY_FAILED, fmt.Sprintf("failed to fetch stellar.toml from %s", domain), err)
	}

	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, errors.NewCoreError(errors.DISCOVERY_FAILED, fmt.Sprintf("stellar.toml fetch returned status %d", resp.StatusCode), nil)
	}

	body, err := resp.Text()
	if err != nil {
		return nil, errors.NewCoreError(errors.DISCOVERY_FAILED, "failed to read stellar.toml response", err)
	}
	if len(body) > maxTomlSize {
		return nil, errors.NewCoreError(errors.TOML_INVALID, "stellar.toml exceeds maximum size", nil)
	}

	info, err := r.parse(body)
	if err != nil {
		return nil, err
	}

	if info.SigningKey != "" && !strings.HasPrefix(info.SigningKey, "G") {
		return nil, errors.NewCoreError(errors.TOML_INVALID, fmt.Sprintf("invalid SIGNING_KEY format: %s", info.SigningKey), nil)
	}

	r.mu.Lock()
	r.cache[domain] = &cacheEntry{
		info:      info,
		fetchedAt: time.Now(),
	}
	r.mu.Unlock()

	return info, nil
}

func (r *Resolver) parse(content string) (*AnchorInfo, error) {
	info := &AnchorInfo{}
	lines := strings.Split(content, "\n")

	var inCurrencies bool
	var currentCurrency *CurrencyInfo

	for _, line := range lines {
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[[CURRENCIES]]") {
			if currentCurrency != nil && currentCurrency.Code != "" {
				info.Currencies = append(info.Currencies, *currentCurrency)
				if len(info.Currencies) >= maxCurrencyArrays {
					break
				}
			}
			inCurrencies = true
			currentCurrency = &CurrencyInfo{}
			continue
		}

		if strings.HasPrefix(line, "[[") || strings.HasPrefix(line, "[") {
			if currentCurrency != nil && currentCurrency.Code != "" {
				info.Currencies = append(info.Currencies, *currentCurrency)
			}
			inCurrencies = false
			currentCurrency = nil
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, "\"'")

		if inCurrencies && currentCurrency != nil {
			switch key {
			case "code":
				currentCurrency.Code = value
			case "issuer":
				currentCurrency.Issuer = value
			case "status":
				currentCurrency.Status = value
			case "display_decimals":
				fmt.Sscanf(value, "%d", &currentCurrency.DisplayDecimals)
			case "anchor_asset_type":
				currentCurrency.AnchorAssetType = value
			case "description":
				currentCurrency.Description = value
			case "regulated":
				currentCurrency.Regulated = value == "true"
			case "approval_server":
				currentCurrency.ApprovalServer = strings.TrimSuffix(value, "/")
			case "approval_criteria":
				currentCurrency.ApprovalCriteria = value
			}
		} else {
			// Anchors are inconsistent about trailing slashes on endpoint
			// URLs; strip them here so path concatenation downstream is
			// deterministic.
			switch key {
			case "NETWORK_PASSPHRASE":
				info.NetworkPassphrase = value
			case "SIGNING_KEY":
				info.SigningKey = value
			case "WEB_AUTH_ENDPOINT":
				info.WebAuthEndpoint = strings.TrimSuffix(value, "/")
			case "KYC_SERVER":
				info.KYCServer = strings.TrimSuffix(value, "/")
			case "TRANSFER_SERVER":
				info.TransferServer = strings.TrimSuffix(value, "/")
			case "TRANSFER_SERVER_SEP0024":
				info.TransferServerSep24 = strings.TrimSuffix(value, "/")
			case "DIRECT_PAYMENT_SERVER":
				info.DirectPaymentServer = strings.TrimSuffix(value, "/")
			case "ANCHOR_QUOTE_SERVER":
				info.AnchorQuoteServer = strings.TrimSuffix(value, "/")
			}
		}
	}

	if currentCurrency != nil && currentCurrency.Code != "" {
		info.Currencies = append(info.Currencies, *currentCurrency)
	}

	return info, nil
}
