package discovery

import (
	"sync"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// ProtoBook tracks which protocol IDs each peer supports, with a
// reverse index from protocol to supporting peers.
type ProtoBook struct {
	mu        sync.RWMutex
	protocols map[p2ptypes.PeerID]map[p2ptypes.ProtocolID]struct{}
	reverse   map[p2ptypes.ProtocolID]map[p2ptypes.PeerID]struct{}
}

// NewProtoBook constructs an empty ProtoBook.
func NewProtoBook() *ProtoBook {
	return &ProtoBook{
		protocols: make(map[p2ptypes.PeerID]map[p2ptypes.ProtocolID]struct{}),
		reverse:   make(map[p2ptypes.ProtocolID]map[p2ptypes.PeerID]struct{}),
	}
}

// AddProtocols is a set union of p's existing protocols and protos.
func (b *ProtoBook) AddProtocols(p p2ptypes.PeerID, protos ...p2ptypes.ProtocolID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.protocols[p]
	if !ok {
		set = make(map[p2ptypes.ProtocolID]struct{})
		b.protocols[p] = set
	}
	for _, pr := range protos {
		set[pr] = struct{}{}
		rev, ok := b.reverse[pr]
		if !ok {
			rev = make(map[p2ptypes.PeerID]struct{})
			b.reverse[pr] = rev
		}
		rev[p] = struct{}{}
	}
}

// RemoveProtocols subtracts protos from p's known set.
func (b *ProtoBook) RemoveProtocols(p p2ptypes.PeerID, protos ...p2ptypes.ProtocolID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.protocols[p]
	if !ok {
		return
	}
	for _, pr := range protos {
		delete(set, pr)
		if rev, ok := b.reverse[pr]; ok {
			delete(rev, p)
			if len(rev) == 0 {
				delete(b.reverse, pr)
			}
		}
	}
	if len(set) == 0 {
		delete(b.protocols, p)
	}
}

// Protocols returns the protocols known to be supported by p.
func (b *ProtoBook) Protocols(p p2ptypes.PeerID) []p2ptypes.ProtocolID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.protocols[p]
	if !ok {
		return nil
	}
	out := make([]p2ptypes.ProtocolID, 0, len(set))
	for pr := range set {
		out = append(out, pr)
	}
	return out
}

// PeersSupporting returns every peer known to support proto.
func (b *ProtoBook) PeersSupporting(proto p2ptypes.ProtocolID) []p2ptypes.PeerID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rev, ok := b.reverse[proto]
	if !ok {
		return nil
	}
	out := make([]p2ptypes.PeerID, 0, len(rev))
	for p := range rev {
		out = append(out, p)
	}
	return out
}

// RemovePeer drops every protocol association for p.
func (b *ProtoBook) RemovePeer(p p2ptypes.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.protocols[p]
	if !ok {
		return
	}
	for pr := range set {
		if rev, ok := b.reverse[pr]; ok {
			delete(rev, p)
			if len(rev) == 0 {
				delete(b.reverse, pr)
			}
		}
	}
	delete(b.protocols, p)
}
