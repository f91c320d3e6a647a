// Package bus provides the in-process eventing between the collector,
// sentinel, and orchestrator: a bounded coalescing queue for pair updates,
// a bounded channel for listing events, and copy-on-iterate subscriber sets.
package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/DelaneKay/memeradar/internal/models"
)

// PairQueue is a bounded queue of PairUpdates keyed by (chain,pair). When a
// consumer lags, a newer update for the same key replaces the queued one;
// when the queue is full, the oldest entry is dropped for the newest.
type PairQueue struct {
	mu       sync.Mutex
	capacity int
	order    []string
	items    map[string]models.PairUpdate
	notify   chan struct{}
	dropped  int64
}

// NewPairQueue creates a queue holding at most capacity distinct pairs.
func NewPairQueue(capacity int) *PairQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &PairQueue{
		capacity: capacity,
		items:    make(map[string]models.PairUpdate),
		notify:   make(chan struct{}, 1),
	}
}

// Publish enqueues an update, coalescing by key.
func (q *PairQueue) Publish(u models.PairUpdate) {
	key := u.Key()
	q.mu.Lock()
	if _, exists := q.items[key]; exists {
		q.items[key] = u // keep original position, newest payload
	} else {
		if len(q.order) >= q.capacity {
			oldest := q.order[0]
			q.order = q.order[1:]
			delete(q.items, oldest)
			q.dropped++
		}
		q.order = append(q.order, key)
		q.items[key] = u
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// DrainBatch blocks until at least one update is queued or ctx is done,
// then returns up to max updates in arrival order.
func (q *PairQueue) DrainBatch(ctx context.Context, max int) []models.PairUpdate {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			n := len(q.order)
			if max > 0 && n > max {
				n = max
			}
			batch := make([]models.PairUpdate, 0, n)
			for _, key := range q.order[:n] {
				batch = append(batch, q.items[key])
				delete(q.items, key)
			}
			q.order = append(q.order[:0], q.order[n:]...)
			q.mu.Unlock()
			return batch
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-q.notify:
		}
	}
}

// Len returns the number of queued updates.
func (q *PairQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Dropped returns how many updates were evicted unconsumed.
func (q *PairQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// ListingChannel carries CEXListingEvents from the sentinel (or the webhook
// bridge) to the orchestrator. Publishing never blocks; when the buffer is
// full the oldest event is dropped.
type ListingChannel struct {
	ch chan models.CEXListingEvent
}

// NewListingChannel creates a channel buffering up to capacity events.
func NewListingChannel(capacity int) *ListingChannel {
	if capacity <= 0 {
		capacity = 64
	}
	return &ListingChannel{ch: make(chan models.CEXListingEvent, capacity)}
}

// Publish enqueues an event, evicting the oldest on overflow.
func (l *ListingChannel) Publish(ev models.CEXListingEvent) {
	for {
		select {
		case l.ch <- ev:
			return
		default:
			select {
			case <-l.ch:
				log.Warn().Str("exchange", ev.Exchange).Msg("listing channel full, dropping oldest")
			default:
			}
		}
	}
}

// Receive returns the consumer side.
func (l *ListingChannel) Receive() <-chan models.CEXListingEvent { return l.ch }

// Subscribers is a copy-on-iterate callback set. Notification proceeds on a
// snapshot, so callbacks may add or remove subscribers concurrently, and a
// panicking callback never affects the others.
type Subscribers[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

// NewSubscribers creates an empty set.
func NewSubscribers[T any]() *Subscribers[T] {
	return &Subscribers[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn and returns an unsubscribe function.
func (s *Subscribers[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Len returns the subscriber count.
func (s *Subscribers[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Notify invokes every subscriber with v on a snapshot of the set.
func (s *Subscribers[T]) Notify(v T) {
	s.mu.Lock()
	snapshot := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		snapshot = append(snapshot, fn)
	}
	s.mu.Unlock()

	for _, fn := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("subscriber callback panicked")
				}
			}()
			fn(v)
		}()
	}
}
