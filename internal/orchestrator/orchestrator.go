// Package orchestrator glues the pipeline together: it consumes PairUpdate
// batches and CEX listing events, resolves security, scores and filters,
// merges pins, maintains the hotlist and leaderboards, gates alerts, and
// fans updates out to subscribers.
package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/DelaneKay/memeradar/internal/bus"
	"github.com/DelaneKay/memeradar/internal/cache"
	"github.com/DelaneKay/memeradar/internal/collector"
	"github.com/DelaneKay/memeradar/internal/config"
	"github.com/DelaneKay/memeradar/internal/models"
	"github.com/DelaneKay/memeradar/internal/ratelimit"
	"github.com/DelaneKay/memeradar/internal/scoring"
	"github.com/DelaneKay/memeradar/internal/security"
	"github.com/DelaneKay/memeradar/internal/telemetry"
)

const (
	listingBoost     = 10.0
	batchMax         = 200
	pinSweepInterval = time.Minute
	healthInterval   = 5 * time.Minute
	broadcastEvery   = 30 * time.Second
	alertPurgeEvery  = time.Hour
)

// HealthProvider reports one component's status.
type HealthProvider func() models.ServiceStatus

// Orchestrator owns the pipeline state. Single writer for the pinned-token
// store and the hotlist/leaderboard snapshots.
type Orchestrator struct {
	cfg       *config.Store
	auditor   *security.Auditor
	baselines *collector.BaselineStore
	cache     *cache.Cache
	pairs     *bus.PairQueue
	listings  *bus.ListingChannel
	alerter   Alerter
	limiter   *ratelimit.Limiter
	metrics   *telemetry.Metrics
	pins      *pinStore
	governor  *alertGovernor
	logger    zerolog.Logger

	hotlistSubs *bus.Subscribers[[]models.TokenSummary]
	listingSubs *bus.Subscribers[models.CEXListingEvent]
	healthSubs  *bus.Subscribers[models.HealthSnapshot]

	mu        sync.RWMutex
	summaries map[string]models.TokenSummary // by token address
	lastTS    map[string]int64               // per (chain,pair), monotone guard
	hotlist   []models.TokenSummary
	boards    models.Leaderboards
	running   bool

	healthMu  sync.RWMutex
	providers map[string]HealthProvider
	lastAgg   models.HealthSnapshot
}

// New wires the orchestrator. alerter may be nil (alerts are then dropped).
func New(cfg *config.Store, auditor *security.Auditor, baselines *collector.BaselineStore,
	c *cache.Cache, pairs *bus.PairQueue, listings *bus.ListingChannel,
	limiter *ratelimit.Limiter, metrics *telemetry.Metrics, alerter Alerter) *Orchestrator {

	if alerter == nil {
		alerter = AlerterFunc(func(Alert) {})
	}
	return &Orchestrator{
		cfg:         cfg,
		auditor:     auditor,
		baselines:   baselines,
		cache:       c,
		pairs:       pairs,
		listings:    listings,
		alerter:     alerter,
		limiter:     limiter,
		metrics:     metrics,
		pins:        newPinStore(),
		governor:    newAlertGovernor(cfg.Get().AlertsPerHour),
		logger:      log.With().Str("component", "orchestrator").Logger(),
		hotlistSubs: bus.NewSubscribers[[]models.TokenSummary](),
		listingSubs: bus.NewSubscribers[models.CEXListingEvent](),
		healthSubs:  bus.NewSubscribers[models.HealthSnapshot](),
		summaries:   make(map[string]models.TokenSummary),
		lastTS:      make(map[string]int64),
		boards:      models.Leaderboards{},
		providers:   make(map[string]HealthProvider),
	}
}

// RegisterHealth adds a component to the health aggregation.
func (o *Orchestrator) RegisterHealth(name string, provider HealthProvider) {
	o.healthMu.Lock()
	o.providers[name] = provider
	o.healthMu.Unlock()
}

// Run starts the pipeline, listing, and maintenance loops and blocks until
// ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); o.pipelineLoop(ctx) }()
	go func() { defer wg.Done(); o.listingLoop(ctx) }()
	go func() { defer wg.Done(); o.maintenanceLoop(ctx) }()
	wg.Wait()

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	o.logger.Info().Msg("orchestrator stopped")
}

// --- pipeline consumer ---

func (o *Orchestrator) pipelineLoop(ctx context.Context) {
	for {
		batch := o.pairs.DrainBatch(ctx, batchMax)
		if batch == nil {
			return // ctx cancelled
		}
		o.processBatch(ctx, batch)
	}
}

// processBatch runs one pipeline pass over a batch of updates.
func (o *Orchestrator) processBatch(ctx context.Context, batch []models.PairUpdate) {
	start := time.Now()
	cfg := o.cfg.Get()

	// Dedup by (chain,pair), keeping the latest, and enforce producer-order
	// monotonicity per key.
	latest := make(map[string]models.PairUpdate, len(batch))
	for _, u := range batch {
		key := u.Key()
		o.mu.RLock()
		stale := u.TS <= o.lastTS[key]
		prev, seen := latest[key]
		o.mu.RUnlock()
		if stale || (seen && u.TS <= prev.TS) {
			continue
		}
		latest[key] = u
	}
	if len(latest) == 0 {
		return
	}

	tokens := make([]models.TokenRef, 0, len(latest))
	for _, u := range latest {
		tokens = append(tokens, u.Token)
	}
	reports := o.auditor.AnalyzeBatch(ctx, tokens)

	now := time.Now()
	var scored []models.TokenSummary
	for key, u := range latest {
		report, ok := reports[u.Token.Key()]
		if !ok || report == nil {
			continue
		}
		summary := o.buildSummary(u, report, now)
		scored = append(scored, summary)

		o.mu.Lock()
		o.lastTS[key] = u.TS
		o.summaries[u.Token.Address] = summary
		o.mu.Unlock()
		o.pins.refresh(summary)
	}

	o.rebuildState(ctx)

	for _, summary := range scored {
		o.maybeAlert(summary, cfg, now)
	}

	o.notifyHotlist()

	if o.metrics != nil {
		o.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
		o.metrics.PipelinePasses.Inc()
	}
}

// buildSummary scores one update against its baseline and security report.
func (o *Orchestrator) buildSummary(u models.PairUpdate, report *models.SecurityReport, now time.Time) models.TokenSummary {
	view, _ := o.baselines.ViewFor(u.ChainID, u.Token.Address)
	age := u.AgeMinutes(now)
	boost := o.pins.boostFor(u.Token.Address, now)

	signals := scoring.ExtractSignals(u, view, age, float64(report.Penalty), boost)
	score := scoring.Score(signals)
	reasons := scoring.Reasons(signals)

	return models.TokenSummary{
		ChainID:      u.ChainID,
		Token:        u.Token,
		PairAddress:  u.PairAddress,
		PriceUSD:     u.Stats.PriceUSD,
		Buys5:        u.Stats.Buys5,
		Sells5:       u.Stats.Sells5,
		Vol5USD:      u.Stats.Vol5USD,
		Vol15USD:     u.Stats.Vol15USD,
		LiquidityUSD: u.Stats.LiquidityUSD,
		FDVUSD:       u.Stats.FDVUSD,
		AgeMinutes:   age,
		Score:        score,
		Signals:      signals,
		Reasons:      reasons,
		Security:     models.SecuritySummary{OK: report.SecurityOK, Flags: report.Flags},
		Links: models.Links{
			Dexscreener: models.DexscreenerPairURL(u.ChainID, u.PairAddress),
			Chart:       models.DexscreenerPairURL(u.ChainID, u.PairAddress),
		},
		UpdatedAt: now.UnixMilli(),
	}
}

// rebuildState recomputes the hotlist and leaderboards from the current
// summaries, merges active pins, and refreshes the read caches. Swaps are
// atomic: readers see either the old or the new snapshot.
func (o *Orchestrator) rebuildState(ctx context.Context) {
	cfg := o.cfg.Get()
	now := time.Now()
	elig := scoring.EligibilityConfig{
		MinLiqList:  cfg.Thresholds.MinLiqList,
		MaxAgeHours: cfg.Thresholds.MaxAgeHours,
	}

	o.mu.RLock()
	all := make([]models.TokenSummary, 0, len(o.summaries))
	for _, s := range o.summaries {
		all = append(all, s)
	}
	o.mu.RUnlock()

	eligible := scoring.Filter(all, elig)
	scoring.SortByScore(eligible)

	// Pinned tokens stay visible: any active pin absent from the filtered
	// set is prepended.
	inList := make(map[string]bool, len(eligible))
	for _, s := range eligible {
		inList[s.Token.Address] = true
	}
	hotlist := eligible
	for _, pin := range o.pins.active(now) {
		if !inList[pin.Summary.Token.Address] {
			entry := pin.Summary
			entry.Reasons = appendUnique(entry.Reasons, pin.Reason)
			hotlist = append([]models.TokenSummary{entry}, hotlist...)
		}
	}

	boards := scoring.BuildLeaderboards(eligible)

	o.mu.Lock()
	o.hotlist = hotlist
	o.boards = boards
	o.mu.Unlock()

	// Cache-then-notify: caches are updated before subscribers hear of it.
	top := hotlist
	if len(top) > 50 {
		top = top[:50]
	}
	o.cacheJSON(ctx, "hotlist:all", hotlist, cache.TTLLeaderboard)
	o.cacheJSON(ctx, "hotlist:top", top, cache.TTLLeaderboard)
	for cat, list := range boards {
		o.cacheJSON(ctx, "leaderboard:"+string(cat), list, cache.TTLLeaderboard)
	}

	if o.metrics != nil {
		o.metrics.HotlistSize.Set(float64(len(hotlist)))
	}
}

func (o *Orchestrator) cacheJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	if raw, err := json.Marshal(v); err == nil {
		o.cache.Set(ctx, key, raw, ttl)
	}
}

// maybeAlert applies the score-alert gate and the governor.
func (o *Orchestrator) maybeAlert(s models.TokenSummary, cfg *config.Config, now time.Time) {
	if !s.Security.OK {
		return
	}
	surgeGate := s.Vol15USD / math.Max(1, 2*s.Vol5USD)
	if s.Score < cfg.Thresholds.ScoreAlert ||
		surgeGate < cfg.Thresholds.Surge15Min ||
		s.Signals.Imbalance5 < cfg.Thresholds.Imbalance5Min ||
		s.LiquidityUSD < cfg.Thresholds.MinLiqAlert {
		return
	}
	if !o.governor.allowScore(s.Token.Address, s.Score, now) {
		return
	}
	o.alerter.Dispatch(Alert{ID: newAlertID(), Kind: "score", Summary: s, TS: now.UnixMilli()})
	if o.metrics != nil {
		o.metrics.AlertsSent.WithLabelValues("score").Inc()
	}
}

func (o *Orchestrator) notifyHotlist() {
	o.mu.RLock()
	snapshot := append([]models.TokenSummary(nil), o.hotlist...)
	o.mu.RUnlock()
	o.hotlistSubs.Notify(snapshot)
}

// --- listing consumer ---

func (o *Orchestrator) listingLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.listings.Receive():
			o.handleListing(ev)
		}
	}
}

// HandleListing processes one CEX listing event: boost, pin, alert, notify,
// and an out-of-cycle pipeline pass. Exposed for the webhook bridge.
func (o *Orchestrator) HandleListing(ev models.CEXListingEvent) {
	o.handleListing(ev)
}

func (o *Orchestrator) handleListing(ev models.CEXListingEvent) {
	now := time.Now()
	reason := "CEX listing: " + ev.Exchange

	o.mu.Lock()
	summary, known := o.summaries[ev.Token.Address]
	o.mu.Unlock()

	if !known {
		summary = synthesizeSummary(ev, now)
	} else {
		ev.LiquidityUSD = summary.LiquidityUSD
	}
	summary.Score = math.Min(100, summary.Score+listingBoost)
	summary.Signals.ListingBoost = listingBoost
	summary.Reasons = appendUnique(summary.Reasons, reason)
	summary.UpdatedAt = now.UnixMilli()

	// Symbol-only listings pin (and dedupe) under an (exchange,symbol)
	// identity so concurrent unresolved listings never collide.
	pinKey := ev.Token.Address
	if pinKey == "" {
		pinKey = ev.Exchange + ":" + ev.Token.Symbol
	} else {
		o.mu.Lock()
		o.summaries[ev.Token.Address] = summary
		o.mu.Unlock()
	}
	o.pins.pin(pinKey, summary, reason, now)

	if o.governor.allowListing(pinKey, ev.Exchange, now) {
		o.alerter.Dispatch(Alert{
			ID: newAlertID(), Kind: "cex_listing",
			Summary: summary, Exchange: ev.Exchange, TS: now.UnixMilli(),
		})
		if o.metrics != nil {
			o.metrics.AlertsSent.WithLabelValues("cex_listing").Inc()
		}
	}

	o.listingSubs.Notify(ev)

	// Out-of-cycle pass so the pin is visible before the next batch.
	o.rebuildState(context.Background())
	o.notifyHotlist()

	o.logger.Info().Str("exchange", ev.Exchange).Str("symbol", ev.Token.Symbol).
		Str("confirmation", ev.Confirmation).Msg("listing processed")
}

// synthesizeSummary builds a minimal summary for a listed token the radar
// has not yet observed on-chain.
func synthesizeSummary(ev models.CEXListingEvent, now time.Time) models.TokenSummary {
	chain := ev.Token.ChainID
	return models.TokenSummary{
		ChainID: chain,
		Token: models.TokenRef{
			ChainID: chain,
			Address: ev.Token.Address,
			Symbol:  ev.Token.Symbol,
		},
		Score:        ev.RadarScore,
		LiquidityUSD: ev.LiquidityUSD,
		Security:     models.SecuritySummary{OK: true},
		UpdatedAt:    now.UnixMilli(),
	}
}

// --- maintenance ---

func (o *Orchestrator) maintenanceLoop(ctx context.Context) {
	pinTicker := time.NewTicker(pinSweepInterval)
	healthTicker := time.NewTicker(healthInterval)
	broadcastTicker := time.NewTicker(broadcastEvery)
	purgeTicker := time.NewTicker(alertPurgeEvery)
	defer pinTicker.Stop()
	defer healthTicker.Stop()
	defer broadcastTicker.Stop()
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pinTicker.C:
			if removed := o.pins.expire(time.Now()); removed > 0 {
				o.logger.Debug().Int("removed", removed).Msg("expired pins")
				o.rebuildState(ctx)
				o.notifyHotlist()
			}
			o.evictStaleSummaries()
		case <-healthTicker.C:
			o.consolidateHealth()
		case <-broadcastTicker.C:
			o.healthSubs.Notify(o.Health())
		case <-purgeTicker.C:
			o.governor.purge(time.Now())
			o.cache.Prune()
		}
	}
}

// evictStaleSummaries drops tokens not updated within the max age window.
func (o *Orchestrator) evictStaleSummaries() {
	maxAge := time.Duration(o.cfg.Get().Thresholds.MaxAgeHours) * time.Hour
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	o.mu.Lock()
	for addr, s := range o.summaries {
		if s.UpdatedAt < cutoff {
			delete(o.summaries, addr)
		}
	}
	o.mu.Unlock()
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
