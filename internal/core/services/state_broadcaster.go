package services

import (
	"sync"

	"micstream/internal/core/domain"
)

// StateBroadcaster fans connection states out to subscribers. A new
// subscriber first receives the current state, then every later change. A
// slow subscriber loses its oldest undelivered state rather than blocking
// the publisher.
type StateBroadcaster struct {
	mu      sync.Mutex
	current domain.ConnectionState
	subs    map[int]chan domain.ConnectionState
	nextID  int
	buffer  int
	closed  bool
}

func NewStateBroadcaster(initial domain.ConnectionState, buffer int) *StateBroadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &StateBroadcaster{
		current: initial,
		subs:    make(map[int]chan domain.ConnectionState),
		buffer:  buffer,
	}
}

// Current is the last published state.
func (b *StateBroadcaster) Current() domain.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Publish records state and delivers it to every subscriber.
func (b *StateBroadcaster) Publish(state domain.ConnectionState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = state
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		deliver(ch, state)
	}
}

// Subscribe returns the stream and a cancel func that closes it.
func (b *StateBroadcaster) Subscribe() (<-chan domain.ConnectionState, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.ConnectionState, b.buffer)
	ch <- b.current
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Close ends every subscription.
func (b *StateBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// deliver must be called with the broadcaster lock held; it is the only
// sender on ch.
func deliver(ch chan domain.ConnectionState, state domain.ConnectionState) {
	select {
	case ch <- state:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- state:
	default:
	}
}
