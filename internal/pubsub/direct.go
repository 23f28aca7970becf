package pubsub

import (
	"sync"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// DirectPeers tracks operator-configured always-on peers, per topic.
// A peer pinned for one topic receives every message for that topic
// regardless of mesh membership, bypasses GRAFT backoff, and is never
// pruned by mesh maintenance on that topic — but has no such standing
// on a topic it isn't configured for.
type DirectPeers struct {
	mu      sync.RWMutex
	byTopic map[Topic]map[p2ptypes.PeerID]struct{}
}

// NewDirectPeers creates a DirectPeers set seeded with the given
// per-topic peers.
func NewDirectPeers(seed map[Topic][]p2ptypes.PeerID) *DirectPeers {
	d := &DirectPeers{byTopic: make(map[Topic]map[p2ptypes.PeerID]struct{})}
	for topic, peers := range seed {
		for _, p := range peers {
			d.add(topic, p)
		}
	}
	return d
}

func (d *DirectPeers) add(topic Topic, peer p2ptypes.PeerID) {
	set, ok := d.byTopic[topic]
	if !ok {
		set = make(map[p2ptypes.PeerID]struct{})
		d.byTopic[topic] = set
	}
	set[peer] = struct{}{}
}

// Add registers peer as a direct peer for topic.
func (d *DirectPeers) Add(topic Topic, peer p2ptypes.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.add(topic, peer)
}

// Remove revokes peer's direct-peer status on topic.
func (d *DirectPeers) Remove(topic Topic, peer p2ptypes.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.byTopic[topic]
	if !ok {
		return
	}
	delete(set, peer)
	if len(set) == 0 {
		delete(d.byTopic, topic)
	}
}

// IsDirect reports whether peer is configured as a direct peer for topic.
func (d *DirectPeers) IsDirect(topic Topic, peer p2ptypes.PeerID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byTopic[topic][peer]
	return ok
}

// IsDirectAny reports whether peer is a direct peer on any topic. Used
// for reputation protection, which spec.md scopes to the peer as a
// whole rather than to individual topics.
func (d *DirectPeers) IsDirectAny(peer p2ptypes.PeerID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, set := range d.byTopic {
		if _, ok := set[peer]; ok {
			return true
		}
	}
	return false
}

// ForTopic returns a snapshot of the direct peers configured for topic.
func (d *DirectPeers) ForTopic(topic Topic) []p2ptypes.PeerID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.byTopic[topic]
	out := make([]p2ptypes.PeerID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}
