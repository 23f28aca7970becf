package discovery

import (
	"sync"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// MetadataKey names a typed slot in MetadataBook. V is carried only as
// a type parameter for caller-side type safety; storage itself is
// untyped (any), matching a per-peer-per-key map.
type MetadataKey[V any] struct {
	name string
}

// NewMetadataKey names a new metadata slot.
func NewMetadataKey[V any](name string) MetadataKey[V] { return MetadataKey[V]{name: name} }

func (k MetadataKey[V]) String() string { return k.name }

// MetadataEvent is emitted whenever a value is set or removed.
type MetadataEvent struct {
	Peer  p2ptypes.PeerID
	Key   string
	Value any
	Removed bool
}

// MetadataBook stores arbitrary typed values per peer per key.
type MetadataBook struct {
	mu     sync.RWMutex
	data   map[p2ptypes.PeerID]map[string]any
	events *eventHub[MetadataEvent]
}

// NewMetadataBook constructs an empty MetadataBook.
func NewMetadataBook() *MetadataBook {
	return &MetadataBook{
		data:   make(map[p2ptypes.PeerID]map[string]any),
		events: newEventHub[MetadataEvent](),
	}
}

// Events returns a fresh subscriber stream and its cancel function.
func (b *MetadataBook) Events() (<-chan MetadataEvent, func()) {
	return b.events.Subscribe(32)
}

// Set stores value under key for p.
func Set[V any](b *MetadataBook, p p2ptypes.PeerID, key MetadataKey[V], value V) {
	b.mu.Lock()
	m, ok := b.data[p]
	if !ok {
		m = make(map[string]any)
		b.data[p] = m
	}
	m[key.name] = value
	b.mu.Unlock()
	b.events.Emit(MetadataEvent{Peer: p, Key: key.name, Value: value})
}

// Get retrieves the value stored under key for p, if any and if it
// matches V's runtime type.
func Get[V any](b *MetadataBook, p p2ptypes.PeerID, key MetadataKey[V]) (V, bool) {
	var zero V
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.data[p]
	if !ok {
		return zero, false
	}
	raw, ok := m[key.name]
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// Remove deletes key's value for p, if present.
func (b *MetadataBook) Remove(p p2ptypes.PeerID, key string) {
	b.mu.Lock()
	m, ok := b.data[p]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, ok := m[key]; !ok {
		b.mu.Unlock()
		return
	}
	delete(m, key)
	b.mu.Unlock()
	b.events.Emit(MetadataEvent{Peer: p, Key: key, Removed: true})
}

// RemovePeer drops all metadata stored for p.
func (b *MetadataBook) RemovePeer(p p2ptypes.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, p)
}

// eventHub is a generic variant of eventBroadcaster, used by
// MetadataBook since its event payload differs from discovery.Event.
type eventHub[T any] struct {
	mu       sync.Mutex
	subs     map[int]chan T
	nextID   int
	shutdown bool
}

func newEventHub[T any]() *eventHub[T] {
	return &eventHub[T]{subs: make(map[int]chan T)}
}

func (h *eventHub[T]) Subscribe(buffer int) (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan T, buffer)
	if h.shutdown {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *eventHub[T]) Emit(ev T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub[T]) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return
	}
	h.shutdown = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
