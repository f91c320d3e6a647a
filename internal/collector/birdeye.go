package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DelaneKay/memeradar/internal/httpx"
)

const birdeyeBase = "https://public-api.birdeye.so"

type beTrendingResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Tokens []struct {
			Address      string  `json:"address"`
			Symbol       string  `json:"symbol"`
			Name         string  `json:"name"`
			Price        float64 `json:"price"`
			Volume24hUSD float64 `json:"volume24hUSD"`
			Liquidity    float64 `json:"liquidity"`
		} `json:"tokens"`
	} `json:"data"`
}

// BirdeyeToken is a trending Solana token candidate.
type BirdeyeToken struct {
	Address      string
	Symbol       string
	Name         string
	Price        float64
	Volume24hUSD float64
	Liquidity    float64
}

// BirdeyeClient reads the Solana-specific trending endpoint. It is only
// consulted when an API key is configured; discovery works without it.
type BirdeyeClient struct {
	fetcher *httpx.Fetcher
	base    string
	apiKey  string
}

// NewBirdeyeClient builds the client; base overrides are for tests.
func NewBirdeyeClient(fetcher *httpx.Fetcher, base, apiKey string) *BirdeyeClient {
	if base == "" {
		base = birdeyeBase
	}
	return &BirdeyeClient{fetcher: fetcher, base: base, apiKey: apiKey}
}

// Enabled reports whether the client has a key to call with.
func (c *BirdeyeClient) Enabled() bool { return c.apiKey != "" }

// Trending returns the top Solana tokens by 24h volume.
func (c *BirdeyeClient) Trending(ctx context.Context, limit int) ([]BirdeyeToken, error) {
	if !c.Enabled() {
		return nil, nil
	}
	u := fmt.Sprintf("%s/defi/token_trending?sort_by=volume24hUSD&sort_type=desc&limit=%d", c.base, limit)
	body, err := c.fetcher.Fetch(ctx, "birdeye", u, httpx.Options{
		Timeout: 10 * time.Second,
		Headers: map[string]string{"X-API-KEY": c.apiKey, "x-chain": "solana"},
	})
	if err != nil {
		return nil, err
	}

	var resp beTrendingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("birdeye: decode: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("birdeye: unsuccessful response")
	}

	out := make([]BirdeyeToken, 0, len(resp.Data.Tokens))
	for _, t := range resp.Data.Tokens {
		out = append(out, BirdeyeToken{
			Address:      t.Address,
			Symbol:       t.Symbol,
			Name:         t.Name,
			Price:        t.Price,
			Volume24hUSD: t.Volume24hUSD,
			Liquidity:    t.Liquidity,
		})
	}
	return out, nil
}
