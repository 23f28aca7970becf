package pubsub

import (
	"sync"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// PeerState tracks what the router knows about one connected peer:
// negotiated protocol version, connection direction, topic
// subscriptions, per-topic GRAFT backoff deadlines, and (at most one)
// live stream handle.
type PeerState struct {
	ID        p2ptypes.PeerID
	Direction Direction
	Protocol  p2ptypes.ProtocolID // negotiated pubsub protocol, e.g. /meshsub/1.1.0 or /floodsub/1.0.0
	Stream    p2ptypes.MuxedStream

	mu            sync.Mutex
	subscriptions map[Topic]struct{}
	backoffs      map[Topic]time.Time
}

// NewPeerState creates PeerState for a newly connected peer.
func NewPeerState(id p2ptypes.PeerID, dir Direction, proto p2ptypes.ProtocolID) *PeerState {
	return &PeerState{
		ID:            id,
		Direction:     dir,
		Protocol:      proto,
		subscriptions: make(map[Topic]struct{}),
		backoffs:      make(map[Topic]time.Time),
	}
}

// SetSubscribed records topic as subscribed (true) or unsubscribed
// (false) by this peer.
func (p *PeerState) SetSubscribed(topic Topic, subscribed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subscribed {
		p.subscriptions[topic] = struct{}{}
	} else {
		delete(p.subscriptions, topic)
	}
}

// IsSubscribed reports whether this peer has announced topic.
func (p *PeerState) IsSubscribed(topic Topic) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.subscriptions[topic]
	return ok
}

// Subscriptions returns a snapshot of all topics this peer announced.
func (p *PeerState) Subscriptions() []Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Topic, 0, len(p.subscriptions))
	for t := range p.subscriptions {
		out = append(out, t)
	}
	return out
}

// SetBackoff sets a GRAFT backoff deadline for topic.
func (p *PeerState) SetBackoff(topic Topic, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backoffs[topic] = until
}

// Backoff reports whether this peer currently has an active backoff for
// topic, along with the deadline.
func (p *PeerState) Backoff(topic Topic) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.backoffs[topic]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().After(until) {
		return time.Time{}, false
	}
	return until, true
}

// CleanupBackoffs removes every backoff entry whose deadline has
// elapsed. Returns the number removed.
func (p *PeerState) CleanupBackoffs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	removed := 0
	for topic, until := range p.backoffs {
		if now.After(until) {
			delete(p.backoffs, topic)
			removed++
		}
	}
	return removed
}

// PeerStateStore owns the PeerState for every connected peer.
type PeerStateStore struct {
	mu    sync.RWMutex
	peers map[p2ptypes.PeerID]*PeerState
}

// NewPeerStateStore creates an empty PeerStateStore.
func NewPeerStateStore() *PeerStateStore {
	return &PeerStateStore{peers: make(map[p2ptypes.PeerID]*PeerState)}
}

// Add registers a newly connected peer, replacing any prior state for
// the same ID (at most one live stream per peer).
func (s *PeerStateStore) Add(ps *PeerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[ps.ID] = ps
}

// Get returns the PeerState for id, if connected.
func (s *PeerStateStore) Get(id p2ptypes.PeerID) (*PeerState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.peers[id]
	return ps, ok
}

// Remove deletes PeerState for id (on disconnect).
func (s *PeerStateStore) Remove(id p2ptypes.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
}

// All returns a snapshot of every connected peer's state.
func (s *PeerStateStore) All() []*PeerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PeerState, 0, len(s.peers))
	for _, ps := range s.peers {
		out = append(out, ps)
	}
	return out
}

// SubscribedTo returns every connected peer that has announced topic.
func (s *PeerStateStore) SubscribedTo(topic Topic) []*PeerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PeerState
	for _, ps := range s.peers {
		if ps.IsSubscribed(topic) {
			out = append(out, ps)
		}
	}
	return out
}

// Len returns the number of connected peers.
func (s *PeerStateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}
