package collector

import (
	"sync"
	"time"
)

// DiscoveryQueue holds the pair addresses a chain is polling, with per-pair
// cooldowns (404 responses) and last-seen tracking for age-based pruning.
// Owned by the collector; the mutex only guards against health-endpoint
// reads racing the poll loop.
type DiscoveryQueue struct {
	mu            sync.RWMutex
	pairAddresses map[string]struct{}
	cooldownPairs map[string]time.Time
	seenPairs     map[string]time.Time
	lastRefresh   time.Time
}

// NewDiscoveryQueue creates an empty queue.
func NewDiscoveryQueue() *DiscoveryQueue {
	return &DiscoveryQueue{
		pairAddresses: make(map[string]struct{}),
		cooldownPairs: make(map[string]time.Time),
		seenPairs:     make(map[string]time.Time),
	}
}

// Add inserts a pair address.
func (q *DiscoveryQueue) Add(address string) {
	if address == "" {
		return
	}
	q.mu.Lock()
	q.pairAddresses[address] = struct{}{}
	q.mu.Unlock()
}

// MarkSeen records a successful snapshot for the pair.
func (q *DiscoveryQueue) MarkSeen(address string, now time.Time) {
	q.mu.Lock()
	q.seenPairs[address] = now
	q.mu.Unlock()
}

// Cooldown benches the pair until the given time.
func (q *DiscoveryQueue) Cooldown(address string, until time.Time) {
	q.mu.Lock()
	q.cooldownPairs[address] = until
	q.mu.Unlock()
}

// InCooldown reports whether the pair is currently benched.
func (q *DiscoveryQueue) InCooldown(address string, now time.Time) bool {
	q.mu.RLock()
	until, ok := q.cooldownPairs[address]
	q.mu.RUnlock()
	return ok && now.Before(until)
}

// Snapshot returns the pollable addresses: queued, not in cooldown.
func (q *DiscoveryQueue) Snapshot(now time.Time) []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]string, 0, len(q.pairAddresses))
	for addr := range q.pairAddresses {
		if until, ok := q.cooldownPairs[addr]; ok && now.Before(until) {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// Prune drops pairs whose last sighting is older than maxAge, and expired
// cooldown entries. Returns the number of pairs removed from the queue.
func (q *DiscoveryQueue) Prune(maxAge time.Duration, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for addr := range q.pairAddresses {
		if seen, ok := q.seenPairs[addr]; ok && now.Sub(seen) > maxAge {
			delete(q.pairAddresses, addr)
			delete(q.seenPairs, addr)
			removed++
		}
	}
	for addr, until := range q.cooldownPairs {
		if !now.Before(until) {
			delete(q.cooldownPairs, addr)
		}
	}
	for addr, seen := range q.seenPairs {
		if now.Sub(seen) > maxAge {
			delete(q.seenPairs, addr)
		}
	}
	q.lastRefresh = now
	return removed
}

// Len returns the queue size.
func (q *DiscoveryQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pairAddresses)
}
