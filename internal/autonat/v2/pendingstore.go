package v2

import (
	"sync"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// pendingStore tracks outstanding client-side probes keyed by server,
// and verifies a single DialBack against the matching PendingCheck at
// most once: once consumed (by match or by explicit removal) the
// nonce is gone.
type pendingStore struct {
	mu      sync.Mutex
	pending map[p2ptypes.PeerID]PendingCheck
	now     func() time.Time
}

func newPendingStore() *pendingStore {
	return &pendingStore{pending: make(map[p2ptypes.PeerID]PendingCheck), now: time.Now}
}

// Register records a new outstanding check, replacing any prior one
// for the same server.
func (s *pendingStore) Register(server p2ptypes.PeerID, check PendingCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[server] = check
}

// Verify consumes the pending check for server and reports whether the
// given nonce matches it. A missing entry or an expired entry is
// always a failure, and either way the entry is removed so a nonce is
// never usable twice.
func (s *pendingStore) Verify(server p2ptypes.PeerID, nonce Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	check, ok := s.pending[server]
	if !ok {
		return ErrNonceVerificationFailed
	}
	delete(s.pending, server)

	if s.now().After(check.ExpiresAt) {
		return ErrNonceExpired
	}
	if check.Nonce != nonce {
		return ErrNonceVerificationFailed
	}
	return nil
}

// Remove discards a pending check without verifying it, e.g. when a
// DialResponse already reported failure and no DialBack will follow.
func (s *pendingStore) Remove(server p2ptypes.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, server)
}
