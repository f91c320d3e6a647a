package orchestrator

import (
	"time"

	"github.com/DelaneKay/memeradar/internal/config"
	"github.com/DelaneKay/memeradar/internal/models"
)

// Hotlist returns the current hotlist snapshot (pinned tokens first).
func (o *Orchestrator) Hotlist() []models.TokenSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]models.TokenSummary(nil), o.hotlist...)
}

// Leaderboards returns all four category boards.
func (o *Orchestrator) Leaderboards() models.Leaderboards {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(models.Leaderboards, len(o.boards))
	for cat, list := range o.boards {
		out[cat] = append([]models.TokenSummary(nil), list...)
	}
	return out
}

// Leaderboard returns one category board; ok=false for unknown categories.
func (o *Orchestrator) Leaderboard(cat models.Category) ([]models.TokenSummary, bool) {
	if !cat.Valid() {
		return nil, false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]models.TokenSummary(nil), o.boards[cat]...), true
}

// ConfigSnapshot returns the active configuration.
func (o *Orchestrator) ConfigSnapshot() *config.Config { return o.cfg.Get() }

// UpdateConfig applies fn to a copy of the active configuration and swaps
// it in atomically. Running loops pick the new values up on their next tick.
func (o *Orchestrator) UpdateConfig(fn func(next *config.Config)) *config.Config {
	updated := o.cfg.Update(fn)
	o.logger.Info().Msg("configuration updated")
	return updated
}

// SubscribeHotlist registers fn for hotlist snapshots.
func (o *Orchestrator) SubscribeHotlist(fn func([]models.TokenSummary)) func() {
	return o.hotlistSubs.Subscribe(fn)
}

// SubscribeListings registers fn for CEX listing events.
func (o *Orchestrator) SubscribeListings(fn func(models.CEXListingEvent)) func() {
	return o.listingSubs.Subscribe(fn)
}

// SubscribeHealth registers fn for health snapshots.
func (o *Orchestrator) SubscribeHealth(fn func(models.HealthSnapshot)) func() {
	return o.healthSubs.Subscribe(fn)
}

// Health aggregates component statuses and rate-limit state. Any component
// down makes the radar unhealthy; two or more degraded components, or a
// stopped orchestrator, make it degraded.
func (o *Orchestrator) Health() models.HealthSnapshot {
	o.healthMu.RLock()
	providers := make(map[string]HealthProvider, len(o.providers))
	for name, p := range o.providers {
		providers[name] = p
	}
	o.healthMu.RUnlock()

	services := make(map[string]models.ServiceStatus, len(providers)+1)
	for name, p := range providers {
		services[name] = p()
	}

	o.mu.RLock()
	running := o.running
	o.mu.RUnlock()
	self := models.ServiceStatus{Status: "up", LastCheck: time.Now()}
	if !running {
		self.Status = "degraded"
		self.Error = "orchestrator not running"
	}
	services["orchestrator"] = self

	overall := "healthy"
	degraded := 0
	for _, s := range services {
		switch s.Status {
		case "down":
			overall = "unhealthy"
		case "degraded":
			degraded++
		}
	}
	if overall == "healthy" && (degraded >= 2 || !running) {
		overall = "degraded"
	}

	rates := make(map[string]models.RateStatus)
	if o.limiter != nil {
		for source, s := range o.limiter.Stats() {
			rates[source] = models.RateStatus{
				Tokens:       s.Tokens,
				Capacity:     s.Capacity,
				BackoffUntil: s.BackoffUntil,
				Attempts:     s.Attempts,
			}
		}
	}

	snapshot := models.HealthSnapshot{
		Status:     overall,
		Services:   services,
		RateLimits: rates,
		Timestamp:  time.Now(),
	}

	o.healthMu.Lock()
	o.lastAgg = snapshot
	o.healthMu.Unlock()
	return snapshot
}

// consolidateHealth recomputes the aggregate and logs transitions.
func (o *Orchestrator) consolidateHealth() {
	o.healthMu.RLock()
	prev := o.lastAgg.Status
	o.healthMu.RUnlock()

	snap := o.Health()
	if prev != "" && prev != snap.Status {
		o.logger.Warn().Str("from", prev).Str("to", snap.Status).Msg("health status changed")
	}
}
