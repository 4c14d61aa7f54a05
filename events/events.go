// Package events is the in-process signal between the scraper and the
// fanout: a coalescing edge trigger, not a queue. Receivers pull fresh state
// from the store, so collapsing back-to-back signals into one loses nothing.
package events

import "sync"

// Bus fans a change signal out to subscribers. Notify never blocks; a
// subscriber that has not drained its channel sees one pending signal, not a
// backlog.
type Bus struct {
	mu   sync.Mutex
	subs []chan struct{}
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener. The returned channel carries at most one
// pending signal.
func (b *Bus) Subscribe() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{}, 1)
	b.subs = append(b.subs, ch)
	return ch
}

// Notify signals every subscriber without blocking.
func (b *Bus) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
