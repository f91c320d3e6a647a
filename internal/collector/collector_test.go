package collector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DelaneKay/memeradar/internal/bus"
	"github.com/DelaneKay/memeradar/internal/cache"
	"github.com/DelaneKay/memeradar/internal/config"
	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/models"
	"github.com/DelaneKay/memeradar/internal/ratelimit"
)

func newTestCollector(t *testing.T) (*Collector, *bus.PairQueue) {
	t.Helper()
	store := config.NewStore(config.Default())
	fetcher := httpx.NewFetcher(ratelimit.NewLimiter(nil), nil)
	out := bus.NewPairQueue(100)
	return New(store, fetcher, cache.New(), out, nil, ""), out
}

func validUpdate(pair string) models.PairUpdate {
	return models.PairUpdate{
		ChainID:     models.ChainSolana,
		PairAddress: pair,
		Token:       models.TokenRef{ChainID: models.ChainSolana, Address: "mint-" + pair, Symbol: "PUP"},
		Stats: models.PairStats{
			Buys5: 10, Sells5: 5,
			Vol5USD: 1000, Vol15USD: 2500,
			PriceUSD: 0.002, LiquidityUSD: 30000,
			PairCreatedAt: time.Now().Add(-2 * time.Hour).Unix(),
		},
	}
}

func TestDiscoveryQueue(t *testing.T) {
	q := NewDiscoveryQueue()
	now := time.Now()

	q.Add("a")
	q.Add("b")
	q.Add("") // ignored
	assert.Equal(t, 2, q.Len())

	q.Cooldown("a", now.Add(time.Minute))
	assert.True(t, q.InCooldown("a", now))
	assert.False(t, q.InCooldown("a", now.Add(2*time.Minute)))

	snap := q.Snapshot(now)
	assert.Equal(t, []string{"b"}, snap, "cooled-down pairs skipped")

	// Both pollable again once the cooldown lapses.
	assert.Len(t, q.Snapshot(now.Add(2*time.Minute)), 2)
}

func TestDiscoveryQueuePrune(t *testing.T) {
	q := NewDiscoveryQueue()
	now := time.Now()
	q.Add("stale")
	q.Add("fresh")
	q.Add("never-seen")
	q.MarkSeen("stale", now.Add(-49*time.Hour))
	q.MarkSeen("fresh", now)

	removed := q.Prune(48*time.Hour, now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, q.Len(), "unseen pairs are kept until first sighting")
}

func TestAcceptEmitsAndDeduplicates(t *testing.T) {
	c, out := newTestCollector(t)
	ctx := context.Background()
	queue := NewDiscoveryQueue()
	u := validUpdate("pair1")

	// First sighting always emits.
	c.accept(ctx, models.ChainSolana, queue, u)
	require.Equal(t, 1, out.Len())
	batch := out.DrainBatch(ctx, 0)
	assert.Equal(t, "pair1", batch[0].PairAddress)
	assert.NotZero(t, batch[0].TS)

	// Unchanged snapshot inside the heartbeat window is suppressed.
	c.accept(ctx, models.ChainSolana, queue, u)
	assert.Equal(t, 0, out.Len())

	// A 6% price move re-emits.
	moved := u
	moved.Stats.PriceUSD = u.Stats.PriceUSD * 1.06
	c.accept(ctx, models.ChainSolana, queue, moved)
	assert.Equal(t, 1, out.Len())
}

func TestAcceptDropsInvalid(t *testing.T) {
	c, out := newTestCollector(t)
	queue := NewDiscoveryQueue()

	bad := validUpdate("pair1")
	bad.Stats.PriceUSD = 0
	c.accept(context.Background(), models.ChainSolana, queue, bad)
	assert.Equal(t, 0, out.Len())

	thin := validUpdate("pair2")
	thin.Stats.LiquidityUSD = 500 // below MinLiqList
	c.accept(context.Background(), models.ChainSolana, queue, thin)
	assert.Equal(t, 0, out.Len())

	counters := c.Counters()
	assert.Equal(t, int64(2), counters.DroppedPairs["validation"])
	assert.Equal(t, 0, counters.Baselines, "invalid updates never touch baselines")
}

func TestShouldEmitDeltas(t *testing.T) {
	c, _ := newTestCollector(t)
	ctx := context.Background()
	u := validUpdate("pair1")
	u.TS = time.Now().UnixMilli()
	c.storeLastEmit(ctx, u)

	assert.False(t, c.shouldEmit(ctx, u), "identical snapshot suppressed")

	vol := u
	vol.Stats.Vol5USD = u.Stats.Vol5USD * 1.07
	assert.True(t, c.shouldEmit(ctx, vol), "5m volume delta over 5%")

	liq := u
	liq.Stats.LiquidityUSD = u.Stats.LiquidityUSD * 0.93
	assert.True(t, c.shouldEmit(ctx, liq), "liquidity delta over 5%")

	small := u
	small.Stats.PriceUSD = u.Stats.PriceUSD * 1.04
	assert.False(t, c.shouldEmit(ctx, small), "4% move stays below the threshold")
}

func TestShouldEmitHeartbeat(t *testing.T) {
	c, _ := newTestCollector(t)
	ctx := context.Background()
	u := validUpdate("pair1")

	raw, err := json.Marshal(lastEmit{
		PriceUSD:     u.Stats.PriceUSD,
		Vol5USD:      u.Stats.Vol5USD,
		LiquidityUSD: u.Stats.LiquidityUSD,
		TS:           time.Now().Add(-6 * time.Minute).UnixMilli(),
	})
	require.NoError(t, err)
	c.cache.Set(ctx, "last_emit:"+u.Key(), raw, cache.TTLLastEmit)

	assert.True(t, c.shouldEmit(ctx, u), "silent for over 5 minutes")
}

func TestDiscoveryEvictsStaleBaselines(t *testing.T) {
	c, _ := newTestCollector(t)
	now := time.Now()
	c.baselines.Update(models.ChainSolana, "churned", 0.001, 1000, now.Add(-49*time.Hour))
	c.baselines.Update(models.ChainSolana, "fresh", 0.002, 2000, now)
	require.Equal(t, 2, c.baselines.Len())

	c.evictBaselines(now)

	assert.Equal(t, 1, c.baselines.Len())
	_, ok := c.baselines.ViewFor(models.ChainSolana, "churned")
	assert.False(t, ok, "stale baseline gone after the sweep")
	_, ok = c.baselines.ViewFor(models.ChainSolana, "fresh")
	assert.True(t, ok)
}

func TestChainTogglesTakeEffectAtRuntime(t *testing.T) {
	cfg := config.Default()
	cfg.Chains = []models.ChainID{models.ChainSolana}
	store := config.NewStore(cfg)
	fetcher := httpx.NewFetcher(ratelimit.NewLimiter(nil), nil)
	c := New(store, fetcher, cache.New(), bus.NewPairQueue(16), nil, "")

	// Queues exist for every supported chain regardless of the initial set.
	assert.Len(t, c.queues, len(models.AllChains))

	// A disabled chain's poll cycle is a no-op.
	c.pollChain(context.Background(), models.ChainEth, c.queues[models.ChainEth])
	assert.NotContains(t, c.Counters().LastTick, models.ChainEth)

	// Enabling it through the config store takes effect on the next cycle.
	store.Update(func(next *config.Config) {
		next.Chains = append(next.Chains, models.ChainEth)
	})
	c.pollChain(context.Background(), models.ChainEth, c.queues[models.ChainEth])
	assert.Contains(t, c.Counters().LastTick, models.ChainEth)

	// Disabling a chain again must not degrade health when its tick ages out.
	c.mu.Lock()
	c.lastTick[models.ChainEth] = time.Now().Add(-time.Hour)
	c.mu.Unlock()
	store.Update(func(next *config.Config) {
		next.Chains = []models.ChainID{models.ChainSolana}
	})
	c.tick(models.ChainSolana)
	assert.Equal(t, "up", c.Health().Status)
}

func TestCollectorHealthBeforeFirstTick(t *testing.T) {
	c, _ := newTestCollector(t)
	status := c.Health()
	assert.Equal(t, "degraded", status.Status)

	c.tick(models.ChainSolana)
	status = c.Health()
	assert.Equal(t, "up", status.Status)
}
