package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/models"
)

const geckoterminalBase = "https://api.geckoterminal.com/api/v2"

var geckoNetworks = map[models.ChainID]string{
	models.ChainSolana: "solana",
	models.ChainEth:    "eth",
	models.ChainBSC:    "bsc",
	models.ChainBase:   "base",
}

type gtPoolAttributes struct {
	Address        string `json:"address"`
	BaseTokenPrice string `json:"base_token_price_usd"`
	ReserveUSD     string `json:"reserve_in_usd"`
	CreatedAt      string `json:"pool_created_at"`
	VolumeUSD      struct {
		M5  string `json:"m5"`
		M15 string `json:"m15"`
		H24 string `json:"h24"`
	} `json:"volume_usd"`
	Transactions struct {
		M5 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"m5"`
	} `json:"transactions"`
	PriceChangePct struct {
		M5 string `json:"m5"`
	} `json:"price_change_percentage"`
	FDVUSD string `json:"fdv_usd"`
}

type gtPool struct {
	Attributes    gtPoolAttributes `json:"attributes"`
	Relationships struct {
		BaseToken struct {
			Data struct {
				ID string `json:"id"` // "<network>_<address>"
			} `json:"data"`
		} `json:"base_token"`
	} `json:"relationships"`
}

type gtResponse struct {
	Data []gtPool `json:"data"`
}

type gtOHLCVResponse struct {
	Data struct {
		Attributes struct {
			OHLCVList [][]float64 `json:"ohlcv_list"` // [ts, o, h, l, c, v]
		} `json:"attributes"`
	} `json:"data"`
}

// GeckoTerminalClient reads trending pools and minute OHLCV as a secondary
// discovery and volume source.
type GeckoTerminalClient struct {
	fetcher *httpx.Fetcher
	base    string
}

// NewGeckoTerminalClient builds the client; base overrides are for tests.
func NewGeckoTerminalClient(fetcher *httpx.Fetcher, base string) *GeckoTerminalClient {
	if base == "" {
		base = geckoterminalBase
	}
	return &GeckoTerminalClient{fetcher: fetcher, base: base}
}

// TrendingPools returns normalized updates for a chain's trending pools.
func (c *GeckoTerminalClient) TrendingPools(ctx context.Context, chain models.ChainID) ([]models.PairUpdate, error) {
	network, ok := geckoNetworks[chain]
	if !ok {
		return nil, fmt.Errorf("geckoterminal: unsupported chain %s", chain)
	}
	u := fmt.Sprintf("%s/networks/%s/trending_pools", c.base, network)
	body, err := c.fetcher.Fetch(ctx, "geckoterminal", u, httpx.Options{Timeout: 12 * time.Second})
	if err != nil {
		return nil, err
	}

	var resp gtResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("geckoterminal: decode: %w", err)
	}

	now := time.Now().UnixMilli()
	out := make([]models.PairUpdate, 0, len(resp.Data))
	for _, pool := range resp.Data {
		a := pool.Attributes
		price := parseF(a.BaseTokenPrice)
		vol5 := parseF(a.VolumeUSD.M5)
		vol15 := parseF(a.VolumeUSD.M15)
		if vol15 == 0 {
			vol15 = vol5 * 3
		}

		var createdAt int64
		if t, err := time.Parse(time.RFC3339, a.CreatedAt); err == nil {
			createdAt = t.Unix()
		}

		// Base token id is "<network>_<address>".
		tokenAddr := pool.Relationships.BaseToken.Data.ID
		if prefix := network + "_"; len(tokenAddr) > len(prefix) && tokenAddr[:len(prefix)] == prefix {
			tokenAddr = tokenAddr[len(prefix):]
		}

		out = append(out, models.PairUpdate{
			ChainID:     chain,
			PairAddress: a.Address,
			Token: models.TokenRef{
				ChainID: chain,
				Address: tokenAddr,
				Symbol:  tokenAddr, // symbol backfilled from dexscreener on poll
			},
			Stats: models.PairStats{
				Buys5:         a.Transactions.M5.Buys,
				Sells5:        a.Transactions.M5.Sells,
				Vol5USD:       vol5,
				Vol15USD:      vol15,
				Vol24USD:      parseF(a.VolumeUSD.H24),
				PriceUSD:      price,
				PriceChange5m: parseF(a.PriceChangePct.M5),
				LiquidityUSD:  parseF(a.ReserveUSD),
				FDVUSD:        parseF(a.FDVUSD),
				PairCreatedAt: createdAt,
			},
			TS: now,
		})
	}
	return out, nil
}

// MinuteOHLCV returns the recent minute candles for a pool, newest first,
// used as a fallback volume source.
func (c *GeckoTerminalClient) MinuteOHLCV(ctx context.Context, chain models.ChainID, poolAddress string, limit int) ([][]float64, error) {
	network, ok := geckoNetworks[chain]
	if !ok {
		return nil, fmt.Errorf("geckoterminal: unsupported chain %s", chain)
	}
	u := fmt.Sprintf("%s/networks/%s/pools/%s/ohlcv/minute?limit=%d", c.base, network, poolAddress, limit)
	body, err := c.fetcher.Fetch(ctx, "geckoterminal", u, httpx.Options{Timeout: 12 * time.Second})
	if err != nil {
		return nil, err
	}
	var resp gtOHLCVResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("geckoterminal: decode ohlcv: %w", err)
	}
	return resp.Data.Attributes.OHLCVList, nil
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
