package discovery

import "sync"

// eventBroadcaster fans a single stream of Events out to any number of
// independent subscribers. Each Subscribe call returns its own channel
// so a slow subscriber cannot block another; Shutdown closes every
// outstanding subscriber channel and is safe to call more than once.
type eventBroadcaster struct {
	mu       sync.Mutex
	subs     map[int]chan Event
	nextID   int
	shutdown bool
}

func newEventBroadcaster() *eventBroadcaster {
	return &eventBroadcaster{subs: make(map[int]chan Event)}
}

// Subscribe returns a fresh buffered channel fed every subsequent
// emit. The returned cancel func removes and closes it.
func (b *eventBroadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, buffer)
	if b.shutdown {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Emit delivers ev to every current subscriber, non-blocking: a
// subscriber whose buffer is full drops the event rather than stall
// the emitter.
func (b *eventBroadcaster) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Shutdown closes every subscriber channel and rejects future
// Subscribe/Emit calls. Idempotent.
func (b *eventBroadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return
	}
	b.shutdown = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
