// Package alchemy is a client for the Alchemy transfer APIs: JSON-RPC REST
// for historical backfill and WebSocket subscriptions for live streaming.
package alchemy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// chainHosts maps chain identifiers to Alchemy API hosts.
var chainHosts = map[string]string{
	"ethereum": "eth-mainnet.g.alchemy.com",
	"polygon":  "polygon-mainnet.g.alchemy.com",
	"arbitrum": "arb-mainnet.g.alchemy.com",
	"optimism": "opt-mainnet.g.alchemy.com",
	"base":     "base-mainnet.g.alchemy.com",
}

// Transfer is one asset transfer as reported by alchemy_getAssetTransfers.
type Transfer struct {
	TxHash    string
	From      string
	To        string
	Asset     string
	Value     decimal.Decimal
	Timestamp time.Time
}

// Client is a REST client for the Alchemy JSON-RPC API.
type Client struct {
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Alchemy REST client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Host returns the Alchemy API host for a chain, or an error for chains the
// client does not know.
func Host(chain string) (string, error) {
	host, ok := chainHosts[strings.ToLower(chain)]
	if !ok {
		return "", fmt.Errorf("alchemy: unsupported chain %q", chain)
	}
	return host, nil
}

// rpcRequest is the JSON-RPC request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcResponse is the JSON-RPC response envelope.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// transfersParams is the parameter object for alchemy_getAssetTransfers.
type transfersParams struct {
	FromBlock    string   `json:"fromBlock"`
	ToBlock      string   `json:"toBlock"`
	ToAddress    string   `json:"toAddress,omitempty"`
	FromAddress  string   `json:"fromAddress,omitempty"`
	Category     []string `json:"category"`
	WithMetadata bool     `json:"withMetadata"`
	MaxCount     string   `json:"maxCount"`
	PageKey      string   `json:"pageKey,omitempty"`
}

// transfersResult is the result shape of alchemy_getAssetTransfers.
type transfersResult struct {
	Transfers []struct {
		Hash     string  `json:"hash"`
		From     string  `json:"from"`
		To       string  `json:"to"`
		Asset    string  `json:"asset"`
		Value    float64 `json:"value"`
		RawValue struct {
			Value string `json:"value"`
			Dec   int    `json:"decimals"`
		} `json:"rawContract"`
		Metadata struct {
			BlockTimestamp string `json:"blockTimestamp"`
		} `json:"metadata"`
	} `json:"transfers"`
	PageKey string `json:"pageKey"`
}

// GetAssetTransfers fetches transfers touching the given address in
// [since, until], following page keys until exhausted. direction must be
// "to" or "from"; callers query both directions to see each leg.
func (c *Client) GetAssetTransfers(ctx context.Context, chain, address, direction string, since, until time.Time) ([]Transfer, error) {
	host, err := Host(chain)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://%s/v2/%s", host, c.apiKey)

	params := transfersParams{
		FromBlock:    "0x0",
		ToBlock:      "latest",
		Category:     []string{"external", "erc20"},
		WithMetadata: true,
		MaxCount:     "0x3e8", // 1000 per page
	}
	switch direction {
	case "to":
		params.ToAddress = address
	case "from":
		params.FromAddress = address
	default:
		return nil, fmt.Errorf("alchemy: bad direction %q", direction)
	}

	var out []Transfer
	for {
		req := rpcRequest{
			JSONRPC: "2.0",
			ID:      1,
			Method:  "alchemy_getAssetTransfers",
			Params:  []any{params},
		}

		var result transfersResult
		if err := c.call(ctx, url, req, &result); err != nil {
			return nil, fmt.Errorf("alchemy: get asset transfers: %w", err)
		}

		for _, t := range result.Transfers {
			ts, err := time.Parse(time.RFC3339, t.Metadata.BlockTimestamp)
			if err != nil {
				continue
			}
			if ts.Before(since) || ts.After(until) {
				continue
			}
			out = append(out, Transfer{
				TxHash:    t.Hash,
				From:      t.From,
				To:        t.To,
				Asset:     t.Asset,
				Value:     transferValue(t.Value, t.RawValue.Value, t.RawValue.Dec),
				Timestamp: ts,
			})
		}

		if result.PageKey == "" {
			return out, nil
		}
		params.PageKey = result.PageKey
	}
}

// transferValue prefers the raw hex value with its decimals so no precision is
// lost; the float64 value is the fallback.
func transferValue(approx float64, rawHex string, decimals int) decimal.Decimal {
	if rawHex != "" {
		n := new(big.Int)
		if _, ok := n.SetString(strings.TrimPrefix(rawHex, "0x"), 16); ok {
			return decimal.NewFromBigInt(n, -int32(decimals))
		}
	}
	return decimal.NewFromFloat(approx)
}

// call executes one JSON-RPC request and decodes the result.
func (c *Client) call(ctx context.Context, url string, req rpcRequest, result any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return json.Unmarshal(envelope.Result, result)
}
