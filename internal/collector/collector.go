// Package collector discovers DEX pairs per chain, polls their snapshots
// under the shared rate budget, maintains rolling baselines, and emits
// change-detected PairUpdate events.
package collector

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/DelaneKay/memeradar/internal/bus"
	"github.com/DelaneKay/memeradar/internal/cache"
	"github.com/DelaneKay/memeradar/internal/config"
	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/models"
	"github.com/DelaneKay/memeradar/internal/telemetry"
)

const (
	discoveryInterval = 5 * time.Minute
	batchSize         = 10
	interBatchSleep   = 200 * time.Millisecond
	discoveryCap      = 20 // candidates per (chain, keyword)
	heartbeatInterval = 5 * time.Minute
	emitDeltaPct      = 0.05
)

// discovery search keywords per chain: "trending" plus quote symbols.
var quoteSymbols = map[models.ChainID][]string{
	models.ChainSolana: {"SOL", "USDC", "USDT"},
	models.ChainEth:    {"WETH", "USDC", "USDT"},
	models.ChainBSC:    {"WBNB", "USDT"},
	models.ChainBase:   {"WETH", "USDC"},
}

// lastEmit is the cached snapshot the emit decision compares against.
type lastEmit struct {
	PriceUSD     float64 `json:"price_usd"`
	Vol5USD      float64 `json:"vol_5_usd"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	TS           int64   `json:"ts"`
}

// Collector runs discovery and polling for every configured chain.
type Collector struct {
	cfg       *config.Store
	dex       *DexscreenerClient
	gecko     *GeckoTerminalClient
	birdeye   *BirdeyeClient
	cache     *cache.Cache
	baselines *BaselineStore
	queues    map[models.ChainID]*DiscoveryQueue
	out       *bus.PairQueue
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	rand      *rand.Rand

	mu           sync.Mutex
	droppedPairs map[string]int64
	lastTick     map[models.ChainID]time.Time
	callsThisMin map[string]int
	minuteStart  time.Time
}

// New wires the collector. birdeye may be disabled (no API key).
func New(cfg *config.Store, fetcher *httpx.Fetcher, c *cache.Cache, out *bus.PairQueue, metrics *telemetry.Metrics, birdeyeKey string) *Collector {
	col := &Collector{
		cfg:          cfg,
		dex:          NewDexscreenerClient(fetcher, ""),
		gecko:        NewGeckoTerminalClient(fetcher, ""),
		birdeye:      NewBirdeyeClient(fetcher, "", birdeyeKey),
		cache:        c,
		baselines:    NewBaselineStore(),
		queues:       make(map[models.ChainID]*DiscoveryQueue),
		out:          out,
		metrics:      metrics,
		logger:       log.With().Str("component", "collector").Logger(),
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
		droppedPairs: make(map[string]int64),
		lastTick:     make(map[models.ChainID]time.Time),
		callsThisMin: make(map[string]int),
		minuteStart:  time.Now(),
	}
	// Queues and poll loops exist for every supported chain; the enabled set
	// is re-read each cycle so admin chain changes take effect at runtime.
	for _, chain := range models.AllChains {
		col.queues[chain] = NewDiscoveryQueue()
	}
	return col
}

// chainEnabled reports whether the chain is in the current config snapshot.
func (c *Collector) chainEnabled(chain models.ChainID) bool {
	for _, ch := range c.cfg.Get().Chains {
		if ch == chain {
			return true
		}
	}
	return false
}

// Baselines exposes the baseline store (read-only use by the orchestrator).
func (c *Collector) Baselines() *BaselineStore { return c.baselines }

// Run starts the discovery loop and one poll loop per chain, returning when
// ctx is cancelled and all loops have stopped.
func (c *Collector) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.discoveryLoop(ctx)
	}()

	for chain, queue := range c.queues {
		wg.Add(1)
		go func(chain models.ChainID, queue *DiscoveryQueue) {
			defer wg.Done()
			c.pollLoop(ctx, chain, queue)
		}(chain, queue)
	}

	wg.Wait()
	c.logger.Info().Msg("collector stopped")
}

// --- discovery ---

func (c *Collector) discoveryLoop(ctx context.Context) {
	// First discovery runs immediately so polling has work.
	c.discoverAll(ctx)

	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.discoverAll(ctx)
		}
	}
}

// discoverAll walks chains serially with 1-3 s jitter between them, then
// drops baselines for tokens that stopped updating.
func (c *Collector) discoverAll(ctx context.Context) {
	for _, chain := range c.cfg.Get().Chains {
		queue, ok := c.queues[chain]
		if !ok {
			continue
		}
		c.discoverChain(ctx, chain, queue)

		jitter := time.Duration(1000+c.rand.Intn(2000)) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}
	}
	c.evictBaselines(time.Now())
}

// evictBaselines removes baselines with no update inside the max age window,
// keeping the store bounded by the set of pairs still being polled.
func (c *Collector) evictBaselines(now time.Time) {
	maxAge := time.Duration(c.cfg.Get().Thresholds.MaxAgeHours) * time.Hour
	if removed := c.baselines.Evict(maxAge, now); removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("evicted stale baselines")
	}
}

func (c *Collector) discoverChain(ctx context.Context, chain models.ChainID, queue *DiscoveryQueue) {
	cfg := c.cfg.Get()
	maxAge := time.Duration(cfg.Thresholds.MaxAgeHours) * time.Hour
	keywords := append([]string{"trending"}, quoteSymbols[chain]...)

	added := 0
	for _, keyword := range keywords {
		candidates, err := c.searchCandidates(ctx, chain, keyword)
		if err != nil {
			if httpx.KindOf(err) == httpx.KindRateLimited {
				// Remaining keywords wait for the next cycle.
				c.logger.Debug().Str("chain", string(chain)).Str("keyword", keyword).
					Msg("discovery rate limited, skipping rest of cycle")
				break
			}
			c.logger.Debug().Err(err).Str("chain", string(chain)).Str("keyword", keyword).
				Msg("discovery search failed")
			continue
		}

		accepted := 0
		now := time.Now()
		for _, cand := range candidates {
			if accepted >= discoveryCap {
				break
			}
			ageOK := cand.Stats.PairCreatedAt > 0 &&
				now.Sub(time.Unix(cand.Stats.PairCreatedAt, 0)) <= maxAge
			if cand.Stats.LiquidityUSD < cfg.Thresholds.MinLiqList || !ageOK {
				continue
			}
			queue.Add(cand.PairAddress)
			accepted++
			added++
		}
	}

	if chain == models.ChainSolana && c.birdeye.Enabled() {
		c.countCall("birdeye")
		if tokens, err := c.birdeye.Trending(ctx, discoveryCap); err == nil {
			for _, t := range tokens {
				if t.Liquidity >= cfg.Thresholds.MinLiqList && t.Address != "" {
					// Birdeye returns token addresses; resolve them to pairs
					// through the dexscreener search index lazily.
					if updates, serr := c.dex.Search(ctx, chain, t.Symbol); serr == nil {
						for _, u := range updates {
							if u.Token.Address == t.Address {
								queue.Add(u.PairAddress)
							}
						}
					}
				}
			}
		} else if httpx.KindOf(err) != httpx.KindRateLimited {
			c.logger.Debug().Err(err).Msg("birdeye trending failed")
		}
	}

	pruned := queue.Prune(time.Duration(cfg.Thresholds.MaxAgeHours)*time.Hour, time.Now())
	c.mu.Lock()
	if pruned > 0 {
		c.droppedPairs["aged_out"] += int64(pruned)
	}
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.QueueSize.WithLabelValues(string(chain)).Set(float64(queue.Len()))
		if pruned > 0 {
			c.metrics.DroppedPairs.WithLabelValues("aged_out").Add(float64(pruned))
		}
	}
	c.logger.Debug().Str("chain", string(chain)).Int("added", added).
		Int("pruned", pruned).Int("queue", queue.Len()).Msg("discovery cycle done")
}

// searchCandidates consults the discovery cache, then the search index and
// the geckoterminal trending pools for the "trending" keyword.
func (c *Collector) searchCandidates(ctx context.Context, chain models.ChainID, keyword string) ([]models.PairUpdate, error) {
	key := "discovery:" + string(chain) + ":" + keyword
	if raw, ok := c.cache.Get(ctx, key); ok {
		var cached []models.PairUpdate
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	var candidates []models.PairUpdate
	if keyword == "trending" {
		c.countCall("geckoterminal")
		pools, err := c.gecko.TrendingPools(ctx, chain)
		if err != nil {
			return nil, err
		}
		candidates = pools
	} else {
		c.countCall("dexscreener")
		found, err := c.dex.Search(ctx, chain, keyword)
		if err != nil {
			return nil, err
		}
		candidates = found
	}

	if raw, err := json.Marshal(candidates); err == nil {
		c.cache.Set(ctx, key, raw, cache.TTLDiscovery)
	}
	return candidates, nil
}

// --- polling ---

func (c *Collector) pollLoop(ctx context.Context, chain models.ChainID, queue *DiscoveryQueue) {
	for {
		interval := c.cfg.Get().RefreshInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			c.pollChain(ctx, chain, queue)
		}
	}
}

func (c *Collector) pollChain(ctx context.Context, chain models.ChainID, queue *DiscoveryQueue) {
	if !c.chainEnabled(chain) {
		return
	}
	addresses := queue.Snapshot(time.Now())
	c.tick(chain)

	for start := 0; start < len(addresses); start += batchSize {
		end := start + batchSize
		if end > len(addresses) {
			end = len(addresses)
		}
		if !c.pollBatch(ctx, chain, queue, addresses[start:end]) {
			return // rate limited: end this chain's cycle
		}

		if end < len(addresses) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interBatchSleep):
			}
		}
	}
}

// pollBatch refreshes one batch. Returns false when the chain's cycle
// should end (rate limit).
func (c *Collector) pollBatch(ctx context.Context, chain models.ChainID, queue *DiscoveryQueue, batch []string) bool {
	// Cache-first: only fetch addresses without a fresh snapshot.
	var misses []string
	for _, addr := range batch {
		if raw, ok := c.cache.Get(ctx, "pair:"+string(chain)+":"+addr); ok {
			var u models.PairUpdate
			if err := json.Unmarshal(raw, &u); err == nil {
				c.accept(ctx, chain, queue, u)
				continue
			}
		}
		misses = append(misses, addr)
	}
	if len(misses) == 0 {
		return true
	}

	c.countCall("dexscreener")
	updates, err := c.dex.Pairs(ctx, chain, misses)
	if err != nil {
		switch {
		case httpx.KindOf(err) == httpx.KindRateLimited:
			return false
		case httpx.IsNotFound(err):
			for _, addr := range misses {
				c.cooldown404(chain, queue, addr)
			}
			return true
		default:
			c.logger.Debug().Err(err).Str("chain", string(chain)).Msg("pair snapshot fetch failed")
			return true
		}
	}

	got := make(map[string]bool, len(updates))
	for _, u := range updates {
		got[u.PairAddress] = true
		if raw, merr := json.Marshal(u); merr == nil {
			c.cache.Set(ctx, "pair:"+string(chain)+":"+u.PairAddress, raw, cache.TTLPair)
		}
		c.accept(ctx, chain, queue, u)
	}
	// Addresses the index no longer knows behave like a 404.
	for _, addr := range misses {
		if !got[addr] {
			c.cooldown404(chain, queue, addr)
		}
	}
	return true
}

func (c *Collector) cooldown404(chain models.ChainID, queue *DiscoveryQueue, addr string) {
	window := time.Duration(120+c.rand.Intn(180)) * time.Second // 2-5 min
	queue.Cooldown(addr, time.Now().Add(window))
	c.mu.Lock()
	c.droppedPairs["404_cooldown"]++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.DroppedPairs.WithLabelValues("404_cooldown").Inc()
	}
}

// accept validates a snapshot, updates the baseline, and emits when the
// change detector fires.
func (c *Collector) accept(ctx context.Context, chain models.ChainID, queue *DiscoveryQueue, u models.PairUpdate) {
	cfg := c.cfg.Get()
	if err := u.Validate(cfg.Thresholds.MinLiqList); err != nil {
		c.mu.Lock()
		c.droppedPairs["validation"]++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.DroppedPairs.WithLabelValues("validation").Inc()
		}
		return
	}

	c.refineVolume(ctx, &u)

	now := time.Now()
	c.baselines.Update(chain, u.Token.Address, u.Stats.PriceUSD, u.Stats.Vol15USD, now)
	queue.MarkSeen(u.PairAddress, now)

	if c.shouldEmit(ctx, u) {
		u.TS = now.UnixMilli()
		c.out.Publish(u)
		c.storeLastEmit(ctx, u)
		if c.metrics != nil {
			c.metrics.PairUpdatesEmitted.WithLabelValues(string(chain)).Inc()
		}
	}
	if c.metrics != nil {
		c.metrics.CacheHitRatio.Set(c.cache.GetStats().HitRatio)
	}
}

// shouldEmit applies the dedup/heartbeat rule against the last emitted
// snapshot: >5% move in price, 5m volume, or liquidity, or 5 minutes of
// silence.
func (c *Collector) shouldEmit(ctx context.Context, u models.PairUpdate) bool {
	raw, ok := c.cache.Get(ctx, "last_emit:"+u.Key())
	if !ok {
		return true
	}
	var prev lastEmit
	if err := json.Unmarshal(raw, &prev); err != nil {
		return true
	}

	if prev.PriceUSD > 0 && math.Abs(u.Stats.PriceUSD-prev.PriceUSD)/prev.PriceUSD > emitDeltaPct {
		return true
	}
	if math.Abs(u.Stats.Vol5USD-prev.Vol5USD)/math.Max(prev.Vol5USD, 1) > emitDeltaPct {
		return true
	}
	if prev.LiquidityUSD > 0 && math.Abs(u.Stats.LiquidityUSD-prev.LiquidityUSD)/prev.LiquidityUSD > emitDeltaPct {
		return true
	}
	return time.Now().UnixMilli()-prev.TS > heartbeatInterval.Milliseconds()
}

// refineVolume replaces a synthesized 15m volume (exactly 3x the 5m window,
// the marker the index clients leave when m15 is absent) with a sum over
// real minute candles. The result is cached per pair.
func (c *Collector) refineVolume(ctx context.Context, u *models.PairUpdate) {
	if u.Stats.Vol5USD <= 0 || u.Stats.Vol15USD != u.Stats.Vol5USD*3 {
		return
	}
	key := "ohlcv15:" + u.Key()
	if raw, ok := c.cache.Get(ctx, key); ok {
		if v, err := strconv.ParseFloat(string(raw), 64); err == nil && v > 0 {
			u.Stats.Vol15USD = v
		}
		return
	}

	c.countCall("geckoterminal")
	candles, err := c.gecko.MinuteOHLCV(ctx, u.ChainID, u.PairAddress, 15)
	if err != nil {
		c.logger.Debug().Err(err).Str("pair", u.PairAddress).Msg("ohlcv volume fallback failed")
		return
	}
	var sum float64
	for i, row := range candles {
		if i >= 15 {
			break
		}
		if len(row) >= 6 {
			sum += row[5]
		}
	}
	if sum > 0 {
		u.Stats.Vol15USD = sum
		c.cache.Set(ctx, key, []byte(strconv.FormatFloat(sum, 'f', -1, 64)), cache.TTLPair)
	}
}

func (c *Collector) storeLastEmit(ctx context.Context, u models.PairUpdate) {
	raw, err := json.Marshal(lastEmit{
		PriceUSD:     u.Stats.PriceUSD,
		Vol5USD:      u.Stats.Vol5USD,
		LiquidityUSD: u.Stats.LiquidityUSD,
		TS:           u.TS,
	})
	if err == nil {
		c.cache.Set(ctx, "last_emit:"+u.Key(), raw, cache.TTLLastEmit)
	}
}

// --- health ---

func (c *Collector) tick(chain models.ChainID) {
	c.mu.Lock()
	c.lastTick[chain] = time.Now()
	c.mu.Unlock()
}

// countCall maintains the 1-minute tumbling per-source call counter.
func (c *Collector) countCall(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.minuteStart) >= time.Minute {
		c.callsThisMin = make(map[string]int)
		c.minuteStart = time.Now()
	}
	c.callsThisMin[source]++
}

// HealthCounters is the collector's health view.
type HealthCounters struct {
	QueueSizes    map[models.ChainID]int       `json:"queueSizes"`
	DroppedPairs  map[string]int64             `json:"droppedPairs"`
	LastTick      map[models.ChainID]time.Time `json:"lastTick"`
	CallsPerMin   map[string]int               `json:"callsPerMin"`
	Baselines     int                          `json:"baselines"`
	CacheHitRatio float64                      `json:"cacheHitRatio"`
}

// Counters snapshots the health counters.
func (c *Collector) Counters() HealthCounters {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := HealthCounters{
		QueueSizes:    make(map[models.ChainID]int, len(c.queues)),
		DroppedPairs:  make(map[string]int64, len(c.droppedPairs)),
		LastTick:      make(map[models.ChainID]time.Time, len(c.lastTick)),
		CallsPerMin:   make(map[string]int, len(c.callsThisMin)),
		Baselines:     c.baselines.Len(),
		CacheHitRatio: c.cache.GetStats().HitRatio,
	}
	for k, v := range c.queues {
		h.QueueSizes[k] = v.Len()
	}
	for k, v := range c.droppedPairs {
		h.DroppedPairs[k] = v
	}
	for k, v := range c.lastTick {
		h.LastTick[k] = v
	}
	for k, v := range c.callsThisMin {
		h.CallsPerMin[k] = v
	}
	return h
}

// Health reports the collector's status: degraded when any chain has not
// ticked within three refresh intervals.
func (c *Collector) Health() models.ServiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := models.ServiceStatus{Status: "up", LastCheck: time.Now()}
	stale := 3 * c.cfg.Get().RefreshInterval()
	for chain, last := range c.lastTick {
		if !c.chainEnabled(chain) {
			continue // disabled chains stop ticking on purpose
		}
		if time.Since(last) > stale {
			status.Status = "degraded"
			status.Error = "chain " + string(chain) + " not ticking"
			break
		}
	}
	if len(c.lastTick) == 0 {
		status.Status = "degraded"
		status.Error = "no poll cycles yet"
	}
	return status
}
