package collector

import (
	"sync"
	"time"

	"github.com/DelaneKay/memeradar/internal/models"
	"github.com/DelaneKay/memeradar/internal/scoring"
)

const (
	historyWindow = 30 * time.Minute
	ewmaAlpha     = 0.1
)

// BaselineStore keeps per-token rolling price/volume statistics. The
// collector is the single writer; reads are snapshot copies.
type BaselineStore struct {
	mu        sync.RWMutex
	baselines map[string]*models.Baseline
	views     map[string]scoring.BaselineView
}

// NewBaselineStore creates an empty store.
func NewBaselineStore() *BaselineStore {
	return &BaselineStore{
		baselines: make(map[string]*models.Baseline),
		views:     make(map[string]scoring.BaselineView),
	}
}

func baselineKey(chain models.ChainID, address string) string {
	return string(chain) + ":" + address
}

// Update appends the observation, prunes the 30-minute windows, recomputes
// slopes and the volume EWMA, and returns the scorer's view with the EWMA
// as it stood before this observation.
func (s *BaselineStore) Update(chain models.ChainID, address string, priceUSD, vol15USD float64, now time.Time) scoring.BaselineView {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := baselineKey(chain, address)
	b, ok := s.baselines[key]
	if !ok {
		b = &models.Baseline{}
		s.baselines[key] = b
	}

	view := scoring.BaselineView{
		Vol15EWMAPrior: b.Vol15EWMA,
		HistoryPoints:  len(b.VolumeHistory),
	}

	b.PriceHistory = appendPruned(b.PriceHistory, models.PricePoint{Value: priceUSD, TS: now}, now)
	b.VolumeHistory = appendPruned(b.VolumeHistory, models.PricePoint{Value: vol15USD, TS: now}, now)

	b.PriceSlope1m = olsSlope(b.PriceHistory, now.Add(-1*time.Minute))
	b.PriceSlope5m = olsSlope(b.PriceHistory, now.Add(-5*time.Minute))

	if b.Vol15EWMA == 0 && len(b.VolumeHistory) == 1 {
		b.Vol15EWMA = vol15USD
	} else {
		b.Vol15EWMA = (1-ewmaAlpha)*b.Vol15EWMA + ewmaAlpha*vol15USD
	}
	b.LastUpdated = now

	view.PriceSlope1m = b.PriceSlope1m
	view.PriceSlope5m = b.PriceSlope5m
	s.views[key] = view
	return view
}

// ViewFor returns the scorer's view captured at the last Update for the
// token. ok=false means the token has never been observed.
func (s *BaselineStore) ViewFor(chain models.ChainID, address string) (scoring.BaselineView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[baselineKey(chain, address)]
	return v, ok
}

// Get returns a copy of the baseline, or false when the token is unknown.
func (s *BaselineStore) Get(chain models.ChainID, address string) (models.Baseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[baselineKey(chain, address)]
	if !ok {
		return models.Baseline{}, false
	}
	cp := *b
	cp.PriceHistory = append([]models.PricePoint(nil), b.PriceHistory...)
	cp.VolumeHistory = append([]models.PricePoint(nil), b.VolumeHistory...)
	return cp, true
}

// Evict removes baselines not updated within maxAge and returns the count.
func (s *BaselineStore) Evict(maxAge time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, b := range s.baselines {
		if now.Sub(b.LastUpdated) > maxAge {
			delete(s.baselines, key)
			delete(s.views, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked tokens.
func (s *BaselineStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines)
}

// appendPruned appends p and drops points older than the 30-minute window.
// Histories stay monotone in TS because the collector is the only writer
// and observes a single clock.
func appendPruned(history []models.PricePoint, p models.PricePoint, now time.Time) []models.PricePoint {
	history = append(history, p)
	cutoff := now.Add(-historyWindow)
	first := 0
	for first < len(history) && history[first].TS.Before(cutoff) {
		first++
	}
	if first > 0 {
		history = append(history[:0], history[first:]...)
	}
	return history
}

// olsSlope fits an ordinary-least-squares line over the points at or after
// since, using the point index as x. Fewer than three points yield 0.
func olsSlope(history []models.PricePoint, since time.Time) float64 {
	var pts []float64
	for _, p := range history {
		if !p.TS.Before(since) {
			pts = append(pts, p.Value)
		}
	}
	n := len(pts)
	if n < 3 {
		return 0
	}

	var sumX, sumY float64
	for i, y := range pts {
		sumX += float64(i)
		sumY += y
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var num, den float64
	for i, y := range pts {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}
