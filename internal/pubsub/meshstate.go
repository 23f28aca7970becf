package pubsub

import (
	"sync"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// MeshState holds the overlay topology: which topics the local node
// subscribes to, the per-topic mesh (flood target set for subscribed
// topics) and fanout (publish target set for topics not subscribed to).
//
// Invariant: for any topic T and peer P, P is never in both mesh(T) and
// fanout(T); if the local node subscribes to T, fanout(T) is empty.
type MeshState struct {
	mu     sync.RWMutex
	subscribed map[Topic]struct{}
	mesh       map[Topic]map[p2ptypes.PeerID]struct{}
	fanout     map[Topic]map[p2ptypes.PeerID]struct{}
	lastPublished map[Topic]time.Time
}

// NewMeshState creates an empty MeshState.
func NewMeshState() *MeshState {
	return &MeshState{
		subscribed:    make(map[Topic]struct{}),
		mesh:          make(map[Topic]map[p2ptypes.PeerID]struct{}),
		fanout:        make(map[Topic]map[p2ptypes.PeerID]struct{}),
		lastPublished: make(map[Topic]time.Time),
	}
}

// IsSubscribed reports whether the local node subscribes to topic.
func (m *MeshState) IsSubscribed(topic Topic) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.subscribed[topic]
	return ok
}

// Subscribe marks topic as subscribed. Returns the fanout peers that
// existed for the topic (to be drained into mesh by the caller) and
// clears fanout for the topic, preserving the subscribed-implies-no-
// fanout invariant.
func (m *MeshState) Subscribe(topic Topic) (drained []p2ptypes.PeerID, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, already := m.subscribed[topic]; already {
		return nil, false
	}
	m.subscribed[topic] = struct{}{}
	if fo, ok := m.fanout[topic]; ok {
		for p := range fo {
			drained = append(drained, p)
		}
		delete(m.fanout, topic)
	}
	if _, ok := m.mesh[topic]; !ok {
		m.mesh[topic] = make(map[p2ptypes.PeerID]struct{})
	}
	return drained, true
}

// Unsubscribe clears subscription, mesh and fanout for topic, returning
// the mesh peers that must be notified with PRUNE.
func (m *MeshState) Unsubscribe(topic Topic) []p2ptypes.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var peers []p2ptypes.PeerID
	for p := range m.mesh[topic] {
		peers = append(peers, p)
	}
	delete(m.subscribed, topic)
	delete(m.mesh, topic)
	delete(m.fanout, topic)
	delete(m.lastPublished, topic)
	return peers
}

// Topics returns all currently-subscribed topics.
func (m *MeshState) Topics() []Topic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Topic, 0, len(m.subscribed))
	for t := range m.subscribed {
		out = append(out, t)
	}
	return out
}

// Mesh returns a snapshot of mesh(topic).
func (m *MeshState) Mesh(topic Topic) []p2ptypes.PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]p2ptypes.PeerID, 0, len(m.mesh[topic]))
	for p := range m.mesh[topic] {
		out = append(out, p)
	}
	return out
}

// MeshSize returns |mesh(topic)|.
func (m *MeshState) MeshSize(topic Topic) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mesh[topic])
}

// InMesh reports whether peer is in mesh(topic).
func (m *MeshState) InMesh(topic Topic, peer p2ptypes.PeerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.mesh[topic][peer]
	return ok
}

// AddToMesh admits peer into mesh(topic), removing it from fanout(topic)
// if present there (maintaining the mesh/fanout disjointness invariant).
func (m *MeshState) AddToMesh(topic Topic, peer p2ptypes.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mesh[topic] == nil {
		m.mesh[topic] = make(map[p2ptypes.PeerID]struct{})
	}
	m.mesh[topic][peer] = struct{}{}
	delete(m.fanout[topic], peer)
}

// RemoveFromMesh removes peer from mesh(topic).
func (m *MeshState) RemoveFromMesh(topic Topic, peer p2ptypes.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mesh[topic], peer)
}

// RemovePeer removes peer from every mesh and fanout set (used on
// disconnect, or when a peer unsubscribes from everything).
func (m *MeshState) RemovePeer(peer p2ptypes.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t := range m.mesh {
		delete(m.mesh[t], peer)
	}
	for t := range m.fanout {
		delete(m.fanout[t], peer)
	}
}

// RemovePeerFromTopic removes peer from mesh(topic) and fanout(topic)
// (used when a peer announces unsubscription from one topic).
func (m *MeshState) RemovePeerFromTopic(topic Topic, peer p2ptypes.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mesh[topic], peer)
	delete(m.fanout[topic], peer)
}

// Fanout returns a snapshot of fanout(topic).
func (m *MeshState) Fanout(topic Topic) []p2ptypes.PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]p2ptypes.PeerID, 0, len(m.fanout[topic]))
	for p := range m.fanout[topic] {
		out = append(out, p)
	}
	return out
}

// AddToFanout adds peer to fanout(topic). A no-op if the local node is
// subscribed to topic, preserving invariant 2.
func (m *MeshState) AddToFanout(topic Topic, peer p2ptypes.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, subscribed := m.subscribed[topic]; subscribed {
		return
	}
	if m.fanout[topic] == nil {
		m.fanout[topic] = make(map[p2ptypes.PeerID]struct{})
	}
	m.fanout[topic][peer] = struct{}{}
}

// TouchFanout extends the fanout TTL for topic by recording the current
// publish time.
func (m *MeshState) TouchFanout(topic Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPublished[topic] = time.Now()
}

// ExpireFanout drops fanout state for any topic whose last publish is
// older than ttl. Returns the expired topics.
func (m *MeshState) ExpireFanout(ttl time.Duration) []Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var expired []Topic
	for topic, last := range m.lastPublished {
		if _, subscribed := m.subscribed[topic]; subscribed {
			continue
		}
		if now.Sub(last) > ttl {
			expired = append(expired, topic)
		}
	}
	for _, topic := range expired {
		delete(m.fanout, topic)
		delete(m.lastPublished, topic)
	}
	return expired
}

// Clear empties all mesh/fanout/subscription state. Used on shutdown.
func (m *MeshState) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = make(map[Topic]struct{})
	m.mesh = make(map[Topic]map[p2ptypes.PeerID]struct{})
	m.fanout = make(map[Topic]map[p2ptypes.PeerID]struct{})
	m.lastPublished = make(map[Topic]time.Time)
}
