package orchestrator

import (
	"sync"
	"time"

	"github.com/DelaneKay/memeradar/internal/models"
)

const pinDuration = 30 * time.Minute

// pinStore keeps CEX-listed tokens visible in the hotlist until their pin
// expires. Owned by the orchestrator; a key has at most one pin entry.
// Keys are token addresses, or an (exchange,symbol) identity when the
// announcement did not resolve to an address.
type pinStore struct {
	mu   sync.RWMutex
	pins map[string]models.PinnedToken
}

func newPinStore() *pinStore {
	return &pinStore{pins: make(map[string]models.PinnedToken)}
}

// pin records (or refreshes) a pin under the given key.
func (p *pinStore) pin(key string, summary models.TokenSummary, reason string, now time.Time) {
	p.mu.Lock()
	p.pins[key] = models.PinnedToken{
		Summary:     summary,
		PinnedUntil: now.Add(pinDuration).UnixMilli(),
		Reason:      reason,
	}
	p.mu.Unlock()
}

// boostFor returns the listing boost for an address while its pin is live.
func (p *pinStore) boostFor(address string, now time.Time) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pin, ok := p.pins[address]; ok && now.UnixMilli() < pin.PinnedUntil {
		return listingBoost
	}
	return 0
}

// active returns the live pins.
func (p *pinStore) active(now time.Time) []models.PinnedToken {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.PinnedToken, 0, len(p.pins))
	for _, pin := range p.pins {
		if now.UnixMilli() < pin.PinnedUntil {
			out = append(out, pin)
		}
	}
	return out
}

// refresh replaces the stored summary for a pinned address, keeping the
// existing expiry.
func (p *pinStore) refresh(summary models.TokenSummary) {
	p.mu.Lock()
	if pin, ok := p.pins[summary.Token.Address]; ok {
		pin.Summary = summary
		p.pins[summary.Token.Address] = pin
	}
	p.mu.Unlock()
}

// expire removes pins past their deadline and returns the count.
func (p *pinStore) expire(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for key, pin := range p.pins {
		if now.UnixMilli() >= pin.PinnedUntil {
			delete(p.pins, key)
			removed++
		}
	}
	return removed
}
