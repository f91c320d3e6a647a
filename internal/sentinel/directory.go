package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/DelaneKay/memeradar/internal/cache"
	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/models"
)

const coingeckoBase = "https://api.coingecko.com/api/v3"

// Platform priority when a token exists on several chains.
var platformPriority = []struct {
	platform string
	chain    models.ChainID
}{
	{"ethereum", models.ChainEth},
	{"binance-smart-chain", models.ChainBSC},
	{"solana", models.ChainSolana},
}

// Directory resolves announced symbols to on-chain addresses through a
// generic symbol directory. Lookups are cached under the search TTL.
type Directory struct {
	fetcher *httpx.Fetcher
	cache   *cache.Cache
	base    string
}

// NewDirectory builds the resolver; base overrides are for tests.
func NewDirectory(fetcher *httpx.Fetcher, c *cache.Cache, base string) *Directory {
	if base == "" {
		base = coingeckoBase
	}
	return &Directory{fetcher: fetcher, cache: c, base: base}
}

type searchResponse struct {
	Coins []struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	} `json:"coins"`
}

type coinResponse struct {
	Platforms map[string]string `json:"platforms"`
}

// Resolve maps a symbol to (address, chain). ok=false means the directory
// has no usable platform mapping and the listing stays symbol-only.
func (d *Directory) Resolve(ctx context.Context, symbol string) (models.ListingToken, bool) {
	token := models.ListingToken{Symbol: symbol}

	key := "search:symbol:" + symbol
	if raw, hit := d.cache.Get(ctx, key); hit {
		var cached models.ListingToken
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, cached.Address != ""
		}
	}

	resolved := d.lookup(ctx, symbol, &token)

	if raw, err := json.Marshal(token); err == nil {
		d.cache.Set(ctx, key, raw, cache.TTLSearch)
	}
	return token, resolved
}

func (d *Directory) lookup(ctx context.Context, symbol string, token *models.ListingToken) bool {
	searchURL := fmt.Sprintf("%s/search?query=%s", d.base, url.QueryEscape(symbol))
	body, err := d.fetcher.Fetch(ctx, "coingecko", searchURL, httpx.Options{Timeout: 10 * time.Second})
	if err != nil {
		return false
	}
	var search searchResponse
	if err := json.Unmarshal(body, &search); err != nil {
		return false
	}

	var coinID string
	for _, coin := range search.Coins {
		if strings.EqualFold(coin.Symbol, symbol) {
			coinID = coin.ID
			break
		}
	}
	if coinID == "" {
		return false
	}

	coinURL := fmt.Sprintf("%s/coins/%s?localization=false&tickers=false&market_data=false&community_data=false&developer_data=false", d.base, coinID)
	body, err = d.fetcher.Fetch(ctx, "coingecko", coinURL, httpx.Options{Timeout: 10 * time.Second})
	if err != nil {
		return false
	}
	var coin coinResponse
	if err := json.Unmarshal(body, &coin); err != nil {
		return false
	}

	for _, p := range platformPriority {
		if addr := coin.Platforms[p.platform]; addr != "" {
			token.Address = addr
			token.ChainID = p.chain
			return true
		}
	}
	return false
}
