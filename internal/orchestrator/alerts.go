package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DelaneKay/memeradar/internal/models"
)

// Alert is the payload handed to the external alerter.
type Alert struct {
	ID       string              `json:"id"`
	Kind     string              `json:"kind"` // "score" | "cex_listing"
	Summary  models.TokenSummary `json:"summary"`
	Exchange string              `json:"exchange,omitempty"`
	TS       int64               `json:"ts"`
}

// Alerter is the out-of-process alert delivery contract. Implementations
// format and route to chat platforms; the core only decides when to call.
type Alerter interface {
	Dispatch(alert Alert)
}

// AlerterFunc adapts a function to the Alerter contract.
type AlerterFunc func(Alert)

// Dispatch implements Alerter.
func (f AlerterFunc) Dispatch(a Alert) { f(a) }

const (
	scoreAlertCooldown = 30 * time.Minute
	scoreReissueDelta  = 10.0
	listingCooldown    = 24 * time.Hour
)

type alertRecord struct {
	at    time.Time
	score float64
}

// alertGovernor enforces dedup cooldowns and the hourly ceiling.
type alertGovernor struct {
	mu          sync.Mutex
	scoreAlerts map[string]alertRecord // token address
	cexAlerts   map[string]time.Time   // address|exchange
	hourWindow  []time.Time
	perHour     int
}

func newAlertGovernor(perHour int) *alertGovernor {
	if perHour <= 0 {
		perHour = 50
	}
	return &alertGovernor{
		scoreAlerts: make(map[string]alertRecord),
		cexAlerts:   make(map[string]time.Time),
		perHour:     perHour,
	}
}

// allowScore reports whether a score alert for the address may go out now.
// Within the cooldown a re-issue is permitted only when the score has risen
// by at least scoreReissueDelta.
func (g *alertGovernor) allowScore(address string, score float64, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.underCeiling(now) {
		return false
	}
	if rec, ok := g.scoreAlerts[address]; ok && now.Sub(rec.at) < scoreAlertCooldown {
		if score-rec.score < scoreReissueDelta {
			return false
		}
	}
	g.scoreAlerts[address] = alertRecord{at: now, score: score}
	g.hourWindow = append(g.hourWindow, now)
	return true
}

// allowListing reports whether a CEX listing alert for (address, exchange)
// may go out now.
func (g *alertGovernor) allowListing(address, exchange string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.underCeiling(now) {
		return false
	}
	key := address + "|" + exchange
	if at, ok := g.cexAlerts[key]; ok && now.Sub(at) < listingCooldown {
		return false
	}
	g.cexAlerts[key] = now
	g.hourWindow = append(g.hourWindow, now)
	return true
}

func (g *alertGovernor) underCeiling(now time.Time) bool {
	cutoff := now.Add(-time.Hour)
	kept := g.hourWindow[:0]
	for _, t := range g.hourWindow {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.hourWindow = kept
	return len(g.hourWindow) < g.perHour
}

// purge drops expired dedup entries; run hourly.
func (g *alertGovernor) purge(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for addr, rec := range g.scoreAlerts {
		if now.Sub(rec.at) > scoreAlertCooldown {
			delete(g.scoreAlerts, addr)
		}
	}
	for key, at := range g.cexAlerts {
		if now.Sub(at) > listingCooldown {
			delete(g.cexAlerts, key)
		}
	}
}

func newAlertID() string { return uuid.NewString() }
