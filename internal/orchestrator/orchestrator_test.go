package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DelaneKay/memeradar/internal/bus"
	"github.com/DelaneKay/memeradar/internal/cache"
	"github.com/DelaneKay/memeradar/internal/collector"
	"github.com/DelaneKay/memeradar/internal/config"
	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/models"
	"github.com/DelaneKay/memeradar/internal/ratelimit"
	"github.com/DelaneKay/memeradar/internal/security"
)

// capturingAlerter records dispatched alerts.
type capturingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *capturingAlerter) Dispatch(a Alert) {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
}

func (c *capturingAlerter) all() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

type testRig struct {
	orch      *Orchestrator
	store     *config.Store
	cache     *cache.Cache
	baselines *collector.BaselineStore
	pairs     *bus.PairQueue
	listings  *bus.ListingChannel
	alerter   *capturingAlerter
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	store := config.NewStore(config.Default())
	c := cache.New()
	fetcher := httpx.NewFetcher(ratelimit.NewLimiter(nil), nil)
	auditor := security.NewAuditor(fetcher, c, nil, security.Config{})
	baselines := collector.NewBaselineStore()
	pairs := bus.NewPairQueue(100)
	listings := bus.NewListingChannel(16)
	alerter := &capturingAlerter{}

	orch := New(store, auditor, baselines, c, pairs, listings,
		ratelimit.NewLimiter(nil), nil, alerter)
	return &testRig{
		orch: orch, store: store, cache: c, baselines: baselines,
		pairs: pairs, listings: listings, alerter: alerter,
	}
}

// seedSecurityOK plants a clean cached report so the pipeline never calls
// upstream auditors in tests.
func (r *testRig) seedSecurityOK(t *testing.T, chain models.ChainID, address string) {
	t.Helper()
	raw, err := json.Marshal(&models.SecurityReport{
		Address: address, SecurityOK: true, Sources: []string{"goplus"},
	})
	require.NoError(t, err)
	r.cache.Set(context.Background(), "security:"+string(chain)+":"+address, raw, cache.TTLSecurity)
}

func pumpUpdate(pair, mint string) models.PairUpdate {
	return models.PairUpdate{
		ChainID:     models.ChainSolana,
		PairAddress: pair,
		Token:       models.TokenRef{ChainID: models.ChainSolana, Address: mint, Symbol: "PUP"},
		Stats: models.PairStats{
			Buys5: 150, Sells5: 30,
			Vol5USD: 2000, Vol15USD: 15000,
			PriceUSD: 0.001, LiquidityUSD: 25000,
			PairCreatedAt: time.Now().Add(-90 * time.Minute).Unix(),
		},
		TS: time.Now().UnixMilli(),
	}
}

func TestProcessBatchBuildsHotlist(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	u := pumpUpdate("pair1", "mint1")
	r.seedSecurityOK(t, u.ChainID, u.Token.Address)

	// Two baseline observations so the scorer sees a seeded prior EWMA.
	now := time.Now()
	r.baselines.Update(u.ChainID, u.Token.Address, u.Stats.PriceUSD, 5000, now.Add(-time.Minute))
	r.baselines.Update(u.ChainID, u.Token.Address, u.Stats.PriceUSD, u.Stats.Vol15USD, now)

	r.orch.processBatch(ctx, []models.PairUpdate{u})

	hotlist := r.orch.Hotlist()
	require.Len(t, hotlist, 1)
	got := hotlist[0]
	assert.Equal(t, "mint1", got.Token.Address)
	assert.GreaterOrEqual(t, got.Score, 55.0)
	assert.InDelta(t, 3.0, got.Signals.Surge15, 1e-9, "surge against the prior EWMA")
	assert.True(t, got.Security.OK)
	assert.Contains(t, got.Links.Dexscreener, "dexscreener.com/solana/pair1")

	boards := r.orch.Leaderboards()
	assert.NotEmpty(t, boards[models.CategoryMomentum5m])
	assert.NotEmpty(t, boards[models.CategoryContinuation15])
}

func TestProcessBatchDropsFlaggedTokens(t *testing.T) {
	r := newRig(t)
	u := pumpUpdate("pair1", "mint1")

	raw, err := json.Marshal(&models.SecurityReport{
		Address: u.Token.Address, SecurityOK: false, Penalty: 100,
		Flags: []string{models.FlagHoneypot},
	})
	require.NoError(t, err)
	r.cache.Set(context.Background(), "security:sol:mint1", raw, cache.TTLSecurity)

	r.orch.processBatch(context.Background(), []models.PairUpdate{u})
	assert.Empty(t, r.orch.Hotlist())
	assert.Empty(t, r.alerter.all())
}

func TestProcessBatchMonotonicTimestamps(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	u := pumpUpdate("pair1", "mint1")
	r.seedSecurityOK(t, u.ChainID, u.Token.Address)
	r.baselines.Update(u.ChainID, u.Token.Address, u.Stats.PriceUSD, 5000, time.Now())

	r.orch.processBatch(ctx, []models.PairUpdate{u})
	require.Len(t, r.orch.Hotlist(), 1)
	first := r.orch.Hotlist()[0]

	// A replayed older update must not regress the summary.
	stale := u
	stale.TS = u.TS - 1000
	stale.Stats.PriceUSD = 9.99
	r.orch.processBatch(ctx, []models.PairUpdate{stale})

	assert.Equal(t, first.PriceUSD, r.orch.Hotlist()[0].PriceUSD)
}

func TestScoreAlertGate(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// Loosen the gates so the synthetic update trips them.
	r.store.Update(func(next *config.Config) {
		next.Thresholds.ScoreAlert = 50
		next.Thresholds.Surge15Min = 2.5
		next.Thresholds.Imbalance5Min = 0.4
		next.Thresholds.MinLiqAlert = 20000
	})

	u := pumpUpdate("pair1", "mint1")
	r.seedSecurityOK(t, u.ChainID, u.Token.Address)
	now := time.Now()
	r.baselines.Update(u.ChainID, u.Token.Address, u.Stats.PriceUSD, 5000, now.Add(-time.Minute))
	r.baselines.Update(u.ChainID, u.Token.Address, u.Stats.PriceUSD, u.Stats.Vol15USD, now)

	r.orch.processBatch(ctx, []models.PairUpdate{u})

	alerts := r.alerter.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, "score", alerts[0].Kind)
	assert.NotEmpty(t, alerts[0].ID)

	// The same snapshot again is deduped by the governor.
	again := u
	again.TS = u.TS + 1000
	r.orch.processBatch(ctx, []models.PairUpdate{again})
	assert.Len(t, r.alerter.all(), 1)
}

func TestScoreAlertRequiresSurgeGate(t *testing.T) {
	r := newRig(t)
	r.store.Update(func(next *config.Config) {
		next.Thresholds.ScoreAlert = 50
	})

	u := pumpUpdate("pair1", "mint1")
	u.Stats.Vol15USD = 2000 // vol15 / (2*vol5) = 0.5, below 2.5
	r.seedSecurityOK(t, u.ChainID, u.Token.Address)
	r.baselines.Update(u.ChainID, u.Token.Address, u.Stats.PriceUSD, 100, time.Now())

	r.orch.processBatch(context.Background(), []models.PairUpdate{u})
	assert.Empty(t, r.alerter.all())
}

func TestHandleListingPinsAndBoosts(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	u := pumpUpdate("pair1", "mint1")
	r.seedSecurityOK(t, u.ChainID, u.Token.Address)
	r.baselines.Update(u.ChainID, u.Token.Address, u.Stats.PriceUSD, 5000, time.Now())
	r.orch.processBatch(ctx, []models.PairUpdate{u})
	require.Len(t, r.orch.Hotlist(), 1)
	before := r.orch.Hotlist()[0].Score

	r.orch.HandleListing(models.CEXListingEvent{
		Source:   "cex_listing",
		Exchange: "kucoin",
		Token: models.ListingToken{
			Symbol: "PUP", Address: "mint1", ChainID: models.ChainSolana,
		},
		Confirmation: models.ConfirmationAddress,
		RadarScore:   75,
		TS:           time.Now().UnixMilli(),
	})

	hotlist := r.orch.Hotlist()
	require.NotEmpty(t, hotlist)
	got := hotlist[0]
	assert.InDelta(t, before+listingBoost, got.Score, 1e-9)
	assert.Contains(t, got.Reasons, "CEX listing: kucoin")

	alerts := r.alerter.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, "cex_listing", alerts[0].Kind)
	assert.Equal(t, "kucoin", alerts[0].Exchange)

	// Same (token, exchange) within 24h: pinned and visible, but no
	// second alert.
	r.orch.HandleListing(models.CEXListingEvent{
		Exchange: "kucoin",
		Token:    models.ListingToken{Symbol: "PUP", Address: "mint1", ChainID: models.ChainSolana},
	})
	assert.Len(t, r.alerter.all(), 1)
}

func TestHandleListingSynthesizesUnknownToken(t *testing.T) {
	r := newRig(t)

	r.orch.HandleListing(models.CEXListingEvent{
		Exchange: "bybit",
		Token: models.ListingToken{
			Symbol: "NEW", Address: "0xnew", ChainID: models.ChainEth,
		},
		RadarScore: 75,
	})

	// The token fails eligibility (zero liquidity) but the pin keeps it
	// visible at the top of the hotlist.
	hotlist := r.orch.Hotlist()
	require.Len(t, hotlist, 1)
	assert.Equal(t, "0xnew", hotlist[0].Token.Address)
	assert.InDelta(t, 85.0, hotlist[0].Score, 1e-9, "radar score plus listing boost")
	assert.Contains(t, hotlist[0].Reasons, "CEX listing: bybit")
}

func TestListingSubscribersNotified(t *testing.T) {
	r := newRig(t)
	var got []models.CEXListingEvent
	r.orch.SubscribeListings(func(ev models.CEXListingEvent) { got = append(got, ev) })

	r.orch.HandleListing(models.CEXListingEvent{
		Exchange: "gate",
		Token:    models.ListingToken{Symbol: "NEW"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "gate", got[0].Exchange)
}

func TestSymbolOnlyListingsDoNotCollide(t *testing.T) {
	r := newRig(t)

	r.orch.HandleListing(models.CEXListingEvent{
		Exchange: "kucoin", RadarScore: 75,
		Token: models.ListingToken{Symbol: "AAA"},
	})
	r.orch.HandleListing(models.CEXListingEvent{
		Exchange: "bybit", RadarScore: 75,
		Token: models.ListingToken{Symbol: "BBB"},
	})

	// Both unresolved listings keep their own pin; neither overwrites the
	// other.
	hotlist := r.orch.Hotlist()
	symbols := make([]string, 0, len(hotlist))
	for _, s := range hotlist {
		symbols = append(symbols, s.Token.Symbol)
	}
	assert.Contains(t, symbols, "AAA")
	assert.Contains(t, symbols, "BBB")

	alerts := r.alerter.all()
	require.Len(t, alerts, 2)
	assert.NotEqual(t, alerts[0].Exchange, alerts[1].Exchange)
}

func TestPinStoreLifecycle(t *testing.T) {
	p := newPinStore()
	now := time.Now()
	s := models.TokenSummary{Token: models.TokenRef{Address: "mint1"}, Score: 80}

	p.pin("mint1", s, "CEX listing: kucoin", now)
	assert.Equal(t, listingBoost, p.boostFor("mint1", now))
	assert.Equal(t, 0.0, p.boostFor("mint1", now.Add(31*time.Minute)))
	assert.Len(t, p.active(now), 1)

	// Re-pinning refreshes the deadline rather than duplicating.
	p.pin("mint1", s, "CEX listing: bybit", now.Add(20*time.Minute))
	assert.Len(t, p.active(now.Add(40*time.Minute)), 1)
	assert.Equal(t, listingBoost, p.boostFor("mint1", now.Add(40*time.Minute)))

	assert.Equal(t, 0, p.expire(now.Add(45*time.Minute)))
	assert.Equal(t, 1, p.expire(now.Add(51*time.Minute)))
	assert.Empty(t, p.active(now.Add(51*time.Minute)))
}

func TestHealthAggregation(t *testing.T) {
	r := newRig(t)

	// Not running, no providers: degraded via the self status.
	snap := r.orch.Health()
	assert.Equal(t, "degraded", snap.Status)

	r.orch.mu.Lock()
	r.orch.running = true
	r.orch.mu.Unlock()

	r.orch.RegisterHealth("collector", func() models.ServiceStatus {
		return models.ServiceStatus{Status: "up"}
	})
	snap = r.orch.Health()
	assert.Equal(t, "healthy", snap.Status)
	assert.Contains(t, snap.Services, "collector")
	assert.Contains(t, snap.Services, "orchestrator")
	assert.NotEmpty(t, snap.RateLimits)

	// One component down dominates everything.
	r.orch.RegisterHealth("sentinel", func() models.ServiceStatus {
		return models.ServiceStatus{Status: "down", Error: "feeds unreachable"}
	})
	assert.Equal(t, "unhealthy", r.orch.Health().Status)
}

func TestHealthTwoDegraded(t *testing.T) {
	r := newRig(t)
	r.orch.mu.Lock()
	r.orch.running = true
	r.orch.mu.Unlock()

	r.orch.RegisterHealth("collector", func() models.ServiceStatus {
		return models.ServiceStatus{Status: "degraded"}
	})
	assert.Equal(t, "healthy", r.orch.Health().Status, "one degraded component tolerated")

	r.orch.RegisterHealth("sentinel", func() models.ServiceStatus {
		return models.ServiceStatus{Status: "degraded"}
	})
	assert.Equal(t, "degraded", r.orch.Health().Status)
}

func TestLeaderboardUnknownCategory(t *testing.T) {
	r := newRig(t)
	_, ok := r.orch.Leaderboard(models.Category("mooning"))
	assert.False(t, ok)

	list, ok := r.orch.Leaderboard(models.CategoryNewMints)
	assert.True(t, ok)
	assert.Empty(t, list)
}
