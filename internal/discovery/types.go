// Package discovery implements the peer/address/key/protocol/metadata
// books used to remember how to reach other peers, plus composite
// aggregation across discovery mechanisms and the bootstrap loop that
// uses them to join a network.
package discovery

import (
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// AddrRecord is a single known address for a peer, with the bookkeeping
// AddressBook scores against and FilePeerStore persists.
type AddrRecord struct {
	Addr         p2ptypes.Multiaddr
	Expiry       time.Time // zero means permanent
	LastSeen     time.Time
	FailureCount int
}

func (r AddrRecord) permanent() bool { return r.Expiry.IsZero() }

func (r AddrRecord) expired(now time.Time) bool {
	return !r.permanent() && !r.Expiry.After(now)
}

// EventKind enumerates the events a PeerStore broadcasts.
type EventKind int

const (
	EventAddressAdded EventKind = iota
	EventAddressRemoved
	EventPeerRemoved
	EventAddressUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventAddressAdded:
		return "addressAdded"
	case EventAddressRemoved:
		return "addressRemoved"
	case EventPeerRemoved:
		return "peerRemoved"
	case EventAddressUpdated:
		return "addressUpdated"
	default:
		return "unknown"
	}
}

// Event is a single PeerStore (or discovery service) notification.
// Seq is populated by CompositeDiscovery when it re-numbers observations
// from its subordinates; it is zero for events emitted directly by a
// PeerStore.
type Event struct {
	Kind EventKind
	Peer p2ptypes.PeerID
	Addr p2ptypes.Multiaddr
	Seq  uint64
}

// PeerAddresses is a snapshot of one peer's known addresses, returned
// by MemoryPeerStore.Snapshot and persisted by FilePeerStore.
type PeerAddresses struct {
	Peer      p2ptypes.PeerID
	Addresses []AddrRecord
}

// ScoredAddress pairs an address with the AddressBook score computed
// for it.
type ScoredAddress struct {
	Addr  p2ptypes.Multiaddr
	Score float64
}
