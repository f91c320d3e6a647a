// Package sentinel watches centralized-exchange announcement feeds for new
// listings and emits CEXListingEvents toward the orchestrator.
package sentinel

import (
	"context"
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

const baseRadarScore = 75

// phase is the per-exchange task state.
type phase string

const (
	phaseIdle     phase = "idle"
	phaseFetching phase = "fetching"
	phaseParsing  phase = "parsing"
	phaseDedup    phase = "dedup"
	phaseEmitting phase = "emitting"
)

// exchangeState tracks one exchange task.
type exchangeState struct {
	mu           sync.Mutex
	phase        phase
	lastIdentity string
	firstRun     bool
	errors       int64
	lastSuccess  time.Time
}

// Sentinel runs one staggered recurring task per monitored exchange.
type Sentinel struct {
	cfg     *config.Store
	fetcher *httpx.Fetcher
	dir     *Directory
	sources []announcementSource
	out     *bus.ListingChannel
	metrics *telemetry.Metrics
	logger  zerolog.Logger

	states map[string]*exchangeState
}

// New wires the sentinel for the configured exchanges.
func New(cfg *config.Store, fetcher *httpx.Fetcher, c *cache.Cache, out *bus.ListingChannel, metrics *telemetry.Metrics) *Sentinel {
	s := &Sentinel{
		cfg:     cfg,
		fetcher: fetcher,
		dir:     NewDirectory(fetcher, c, ""),
		sources: newSources(cfg.Get().Exchanges, nil),
		out:     out,
		metrics: metrics,
		logger:  log.With().Str("component", "sentinel").Logger(),
		states:  make(map[string]*exchangeState),
	}
	for _, src := range s.sources {
		s.states[src.Exchange()] = &exchangeState{phase: phaseIdle, firstRun: true}
	}
	return s
}

// Run starts every exchange task with staggered offsets and blocks until
// ctx is cancelled.
func (s *Sentinel) Run(ctx context.Context) {
	interval := s.cfg.Get().SentinelInterval()
	n := len(s.sources)
	if n == 0 {
		<-ctx.Done()
		return
	}
	stagger := time.Duration(int(interval.Minutes())/n) * time.Minute

	var wg sync.WaitGroup
	for i, src := range s.sources {
		wg.Add(1)
		go func(offset time.Duration, src announcementSource) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case <-time.After(offset):
			}
			s.exchangeLoop(ctx, src)
		}(time.Duration(i)*stagger, src)
	}
	wg.Wait()
	s.logger.Info().Msg("sentinel stopped")
}

func (s *Sentinel) exchangeLoop(ctx context.Context, src announcementSource) {
	s.runOnce(ctx, src)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.Get().SentinelInterval()):
			s.runOnce(ctx, src)
		}
	}
}

// runOnce walks the exchange task state machine. Any phase failure returns
// the task to idle and bumps the error counter; the task itself never stops.
func (s *Sentinel) runOnce(ctx context.Context, src announcementSource) {
	state := s.states[src.Exchange()]
	fail := func(ph phase, err error) {
		state.mu.Lock()
		state.errors++
		state.phase = phaseIdle
		state.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SentinelErrors.WithLabelValues(src.Exchange(), string(ph)).Inc()
		}
		s.logger.Debug().Err(err).Str("exchange", src.Exchange()).
			Str("phase", string(ph)).Msg("sentinel cycle failed")
	}

	state.mu.Lock()
	state.phase = phaseFetching
	state.mu.Unlock()
	announcements, err := src.Fetch(ctx, s.fetcher)
	if err != nil {
		fail(phaseFetching, err)
		return
	}

	state.mu.Lock()
	state.phase = phaseParsing
	state.mu.Unlock()
	for i := range announcements {
		Parse(&announcements[i])
	}

	state.mu.Lock()
	state.phase = phaseDedup
	firstRun := state.firstRun
	lastIdentity := state.lastIdentity
	state.mu.Unlock()

	// Announcements arrive newest first. On the first run only the most
	// recent one is processed; afterwards everything newer than the last
	// processed identity.
	var fresh []Announcement
	if firstRun {
		if len(announcements) > 0 {
			fresh = announcements[:1]
		}
	} else {
		for _, a := range announcements {
			if a.Identity() == lastIdentity {
				break
			}
			fresh = append(fresh, a)
		}
	}

	state.mu.Lock()
	state.phase = phaseEmitting
	state.mu.Unlock()
	for i := len(fresh) - 1; i >= 0; i-- { // oldest first
		s.emit(ctx, fresh[i])
	}

	state.mu.Lock()
	if len(announcements) > 0 {
		state.lastIdentity = announcements[0].Identity()
	}
	state.firstRun = false
	state.phase = phaseIdle
	state.lastSuccess = time.Now()
	state.mu.Unlock()
}

// emit turns one listing announcement into CEXListingEvents, one per
// detected token, with address enrichment through the symbol directory.
func (s *Sentinel) emit(ctx context.Context, a Announcement) {
	if !IsListing(a.Title, a.Content) {
		return
	}
	for _, symbol := range a.Tokens {
		token, resolved := s.dir.Resolve(ctx, symbol)
		confirmation := models.ConfirmationSymbolOnly
		if resolved {
			confirmation = models.ConfirmationAddress
		}

		ts := a.PublishedAt
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}

		ev := models.CEXListingEvent{
			Source:       "cex_listing",
			Exchange:     a.Exchange,
			Title:        a.Title,
			Markets:      a.Markets,
			URLs:         urlsOf(a),
			Token:        token,
			Confirmation: confirmation,
			RadarScore:   baseRadarScore,
			LiquidityUSD: 0, // filled by the orchestrator when known
			TS:           ts,
		}
		s.out.Publish(ev)
		if s.metrics != nil {
			s.metrics.ListingsFound.WithLabelValues(a.Exchange).Inc()
		}
		s.logger.Info().Str("exchange", a.Exchange).Str("symbol", symbol).
			Str("confirmation", confirmation).Msg("cex listing detected")
	}
}

func urlsOf(a Announcement) []string {
	if a.URL == "" {
		return nil
	}
	return []string{a.URL}
}

// Health reports aggregate sentinel status: degraded when any exchange has
// not succeeded within three intervals.
func (s *Sentinel) Health() models.ServiceStatus {
	status := models.ServiceStatus{Status: "up", LastCheck: time.Now()}
	stale := 3 * s.cfg.Get().SentinelInterval()
	for name, st := range s.states {
		st.mu.Lock()
		last := st.lastSuccess
		st.mu.Unlock()
		if last.IsZero() || time.Since(last) > stale {
			status.Status = "degraded"
			status.Error = "exchange " + name + " stale"
			break
		}
	}
	return status
}

// ErrorCounts snapshots per-exchange error counters.
func (s *Sentinel) ErrorCounts() map[string]int64 {
	out := make(map[string]int64, len(s.states))
	for name, st := range s.states {
		st.mu.Lock()
		out[name] = st.errors
		st.mu.Unlock()
	}
	return out
}
