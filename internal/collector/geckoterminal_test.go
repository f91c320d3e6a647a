package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/models"
	"github.com/DelaneKay/memeradar/internal/ratelimit"
)

const gtPoolsJSON = `{"data":[{
	"attributes": {
		"address": "pool1",
		"base_token_price_usd": "0.0031",
		"reserve_in_usd": "42000.5",
		"pool_created_at": "2026-08-24T10:00:00Z",
		"volume_usd": {"m5": "5000", "h24": "300000"},
		"transactions": {"m5": {"buys": 80, "sells": 20}},
		"price_change_percentage": {"m5": "9.4"},
		"fdv_usd": "1500000"
	},
	"relationships": {"base_token": {"data": {"id": "solana_mintXYZ"}}}
}]}`

func gtFixtureClient(t *testing.T, payload string) *GeckoTerminalClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, payload)
	}))
	t.Cleanup(srv.Close)
	f := httpx.NewFetcher(ratelimit.NewLimiter(nil), nil)
	return NewGeckoTerminalClient(f, srv.URL)
}

func TestTrendingPoolsDecode(t *testing.T) {
	c := gtFixtureClient(t, gtPoolsJSON)

	updates, err := c.TrendingPools(context.Background(), models.ChainSolana)
	require.NoError(t, err)
	require.Len(t, updates, 1)

	u := updates[0]
	assert.Equal(t, "pool1", u.PairAddress)
	assert.Equal(t, "mintXYZ", u.Token.Address, "network prefix stripped from the token id")
	assert.InDelta(t, 0.0031, u.Stats.PriceUSD, 1e-9)
	assert.InDelta(t, 42000.5, u.Stats.LiquidityUSD, 1e-9)
	assert.Equal(t, 80, u.Stats.Buys5)
	assert.InDelta(t, 15000.0, u.Stats.Vol15USD, 1e-9, "missing m15 synthesized as 3x m5")
	assert.InDelta(t, 9.4, u.Stats.PriceChange5m, 1e-9)
	assert.NotZero(t, u.Stats.PairCreatedAt, "RFC3339 created_at parsed")
}

func TestTrendingPoolsUnsupportedChain(t *testing.T) {
	c := gtFixtureClient(t, gtPoolsJSON)
	_, err := c.TrendingPools(context.Background(), models.ChainID("ftm"))
	assert.Error(t, err)
}

func TestRefineVolumeFromMinuteCandles(t *testing.T) {
	col, _ := newTestCollector(t)
	ctx := context.Background()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"data":{"attributes":{"ohlcv_list":[
			[1700000900, 1, 1, 1, 1, 120],
			[1700000840, 1, 1, 1, 1, 80],
			[1700000780, 1, 1, 1, 1, 100]
		]}}}`)
	}))
	defer srv.Close()
	col.gecko = NewGeckoTerminalClient(httpx.NewFetcher(ratelimit.NewLimiter(nil), nil), srv.URL)

	u := validUpdate("pair1")
	u.Stats.Vol15USD = u.Stats.Vol5USD * 3 // the synthesized marker
	col.refineVolume(ctx, &u)
	assert.InDelta(t, 300.0, u.Stats.Vol15USD, 1e-9, "candle volumes summed")
	assert.Equal(t, 1, calls)

	// Second pair snapshot with the marker resolves from cache.
	again := validUpdate("pair1")
	again.Stats.Vol15USD = again.Stats.Vol5USD * 3
	col.refineVolume(ctx, &again)
	assert.InDelta(t, 300.0, again.Stats.Vol15USD, 1e-9)
	assert.Equal(t, 1, calls)
}

func TestRefineVolumeLeavesRealNumbersAlone(t *testing.T) {
	col, _ := newTestCollector(t)
	u := validUpdate("pair1") // Vol15USD 2500 is not the 3x marker
	col.refineVolume(context.Background(), &u)
	assert.InDelta(t, 2500.0, u.Stats.Vol15USD, 1e-9)
}
