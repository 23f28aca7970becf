package discovery

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// KeyBook stores each peer's public key, verifying on insert that the
// key actually derives to the PeerID it's being filed under.
type KeyBook struct {
	mu   sync.RWMutex
	keys map[p2ptypes.PeerID]p2ptypes.PublicKey
}

// NewKeyBook constructs an empty KeyBook.
func NewKeyBook() *KeyBook {
	return &KeyBook{keys: make(map[p2ptypes.PeerID]p2ptypes.PublicKey)}
}

// AddPublicKey records pk for p after checking pk derives to p.
// Returns ErrPeerIDMismatchDetail otherwise.
func (k *KeyBook) AddPublicKey(p p2ptypes.PeerID, pk p2ptypes.PublicKey) error {
	derived, err := peer.IDFromPublicKey(pk)
	if err != nil {
		return err
	}
	if derived != p {
		return &ErrPeerIDMismatchDetail{Expected: p.String(), Derived: derived.String()}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[p] = pk
	return nil
}

// PublicKey returns the key stored for p, if any.
func (k *KeyBook) PublicKey(p p2ptypes.PeerID) (p2ptypes.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pk, ok := k.keys[p]
	return pk, ok
}

// RemovePeer drops any stored key for p.
func (k *KeyBook) RemovePeer(p p2ptypes.PeerID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, p)
}
