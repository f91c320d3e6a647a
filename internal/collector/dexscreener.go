package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/models"
)

const dexscreenerBase = "https://api.dexscreener.com/latest/dex"

var dexscreenerSlugs = map[models.ChainID]string{
	models.ChainSolana: "solana",
	models.ChainEth:    "ethereum",
	models.ChainBSC:    "bsc",
	models.ChainBase:   "base",
}

var dexscreenerChainIDs = map[string]models.ChainID{
	"solana":   models.ChainSolana,
	"ethereum": models.ChainEth,
	"bsc":      models.ChainBSC,
	"base":     models.ChainBase,
}

// dsPair mirrors the dexscreener pair payload. Unknown fields are ignored.
type dsPair struct {
	ChainID     string `json:"chainId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
		Name    string `json:"name"`
	} `json:"baseToken"`
	PriceUSD string `json:"priceUsd"`
	Txns     struct {
		M5 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"m5"`
	} `json:"txns"`
	Volume struct {
		M5  float64 `json:"m5"`
		M15 float64 `json:"m15"`
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		M5 float64 `json:"m5"`
	} `json:"priceChange"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	FDV           float64 `json:"fdv"`
	PairCreatedAt int64   `json:"pairCreatedAt"` // unix millis
	Boosts        struct {
		Active int `json:"active"`
	} `json:"boosts"`
}

type dsResponse struct {
	Pairs []dsPair `json:"pairs"`
}

// DexscreenerClient reads the pair search and snapshot endpoints.
type DexscreenerClient struct {
	fetcher *httpx.Fetcher
	base    string
}

// NewDexscreenerClient builds the client; base overrides are for tests.
func NewDexscreenerClient(fetcher *httpx.Fetcher, base string) *DexscreenerClient {
	if base == "" {
		base = dexscreenerBase
	}
	return &DexscreenerClient{fetcher: fetcher, base: base}
}

// Search queries the pair index for a keyword and returns normalized
// updates filtered to the requested chain.
func (c *DexscreenerClient) Search(ctx context.Context, chain models.ChainID, query string) ([]models.PairUpdate, error) {
	u := fmt.Sprintf("%s/search?q=%s", c.base, url.QueryEscape(query))
	body, err := c.fetcher.Fetch(ctx, "dexscreener", u, httpx.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	return c.decode(body, chain)
}

// Pairs fetches snapshots for up to 10 pair addresses on one chain.
func (c *DexscreenerClient) Pairs(ctx context.Context, chain models.ChainID, addresses []string) ([]models.PairUpdate, error) {
	slug, ok := dexscreenerSlugs[chain]
	if !ok {
		return nil, fmt.Errorf("dexscreener: unsupported chain %s", chain)
	}
	u := fmt.Sprintf("%s/pairs/%s/%s", c.base, slug, strings.Join(addresses, ","))
	body, err := c.fetcher.Fetch(ctx, "dexscreener", u, httpx.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	return c.decode(body, chain)
}

func (c *DexscreenerClient) decode(body []byte, chain models.ChainID) ([]models.PairUpdate, error) {
	var resp dsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dexscreener: decode: %w", err)
	}

	now := time.Now().UnixMilli()
	out := make([]models.PairUpdate, 0, len(resp.Pairs))
	for _, p := range resp.Pairs {
		pc, ok := dexscreenerChainIDs[strings.ToLower(p.ChainID)]
		if !ok || (chain != "" && pc != chain) {
			continue
		}
		price, _ := strconv.ParseFloat(p.PriceUSD, 64)

		vol15 := p.Volume.M15
		if vol15 == 0 {
			// m15 is not always present; synthesize from the 5m window.
			vol15 = p.Volume.M5 * 3
		}

		out = append(out, models.PairUpdate{
			ChainID:     pc,
			PairAddress: p.PairAddress,
			Token: models.TokenRef{
				ChainID: pc,
				Address: p.BaseToken.Address,
				Symbol:  p.BaseToken.Symbol,
				Name:    p.BaseToken.Name,
			},
			Stats: models.PairStats{
				Buys5:         p.Txns.M5.Buys,
				Sells5:        p.Txns.M5.Sells,
				Vol5USD:       p.Volume.M5,
				Vol15USD:      vol15,
				Vol24USD:      p.Volume.H24,
				PriceUSD:      price,
				PriceChange5m: p.PriceChange.M5,
				LiquidityUSD:  p.Liquidity.USD,
				FDVUSD:        p.FDV,
				PairCreatedAt: p.PairCreatedAt / 1000,
			},
			BoostsActive: p.Boosts.Active,
			TS:           now,
		})
	}
	return out, nil
}
