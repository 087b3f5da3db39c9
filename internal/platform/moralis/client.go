// Package moralis is a REST client for the Moralis wallet history API, used
// as the fallback transfer data provider.
package moralis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const baseURL = "https://deep-index.moralis.io/api/v2.2"

// chainSlugs maps chain identifiers to Moralis chain query values.
var chainSlugs = map[string]string{
	"ethereum": "eth",
	"polygon":  "polygon",
	"arbitrum": "arbitrum",
	"optimism": "optimism",
	"base":     "base",
}

// Transfer is one token transfer as reported by the wallet history endpoint.
type Transfer struct {
	TxHash    string
	From      string
	To        string
	Asset     string
	Value     decimal.Decimal
	Timestamp time.Time
}

// Client is a REST client for the Moralis API.
type Client struct {
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Moralis REST client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// transfersPage is the response shape of the ERC20 transfers endpoint.
type transfersPage struct {
	Cursor string `json:"cursor"`
	Result []struct {
		TransactionHash string `json:"transaction_hash"`
		FromAddress     string `json:"from_address"`
		ToAddress       string `json:"to_address"`
		TokenSymbol     string `json:"token_symbol"`
		TokenDecimals   string `json:"token_decimals"`
		Value           string `json:"value"` // raw integer string
		BlockTimestamp  string `json:"block_timestamp"`
	} `json:"result"`
}

// GetWalletTransfers fetches ERC20 transfers touching the given address in
// [since, until], following cursors until exhausted.
func (c *Client) GetWalletTransfers(ctx context.Context, chain, address string, since, until time.Time) ([]Transfer, error) {
	slug, ok := chainSlugs[strings.ToLower(chain)]
	if !ok {
		return nil, fmt.Errorf("moralis: unsupported chain %q", chain)
	}

	var out []Transfer
	cursor := ""
	for {
		q := url.Values{}
		q.Set("chain", slug)
		q.Set("from_date", since.UTC().Format(time.RFC3339))
		q.Set("to_date", until.UTC().Format(time.RFC3339))
		q.Set("limit", "100")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		endpoint := fmt.Sprintf("%s/%s/erc20/transfers?%s", baseURL, url.PathEscape(address), q.Encode())

		var page transfersPage
		if err := c.get(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("moralis: get wallet transfers: %w", err)
		}

		for _, t := range page.Result {
			ts, err := time.Parse(time.RFC3339, t.BlockTimestamp)
			if err != nil {
				continue
			}
			out = append(out, Transfer{
				TxHash:    t.TransactionHash,
				From:      t.FromAddress,
				To:        t.ToAddress,
				Asset:     t.TokenSymbol,
				Value:     rawValue(t.Value, t.TokenDecimals),
				Timestamp: ts,
			})
		}

		if page.Cursor == "" {
			return out, nil
		}
		cursor = page.Cursor
	}
}

// rawValue converts a raw integer token amount plus decimals into an exact
// decimal quantity.
func rawValue(raw, decimals string) decimal.Decimal {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero
	}
	var dec int32
	fmt.Sscanf(decimals, "%d", &dec)
	return decimal.NewFromBigInt(n, -dec)
}

// get executes one GET request with the API key header and decodes the result.
func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("status 429: rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return json.Unmarshal(data, result)
}
