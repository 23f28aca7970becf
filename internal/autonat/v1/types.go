// Package v1 implements the AutoNAT v1 reflection protocol: a client
// that asks peers to dial it back to learn its own reachability, and a
// server that performs that dial-back for others, rate-limited and
// filtered against amplification abuse.
package v1

import (
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// ProtocolID is the AutoNAT v1 stream protocol.
const ProtocolID p2ptypes.ProtocolID = "/libp2p/autonat/1.0.0"

// MessageType distinguishes the two message shapes carried over the
// protocol.
type MessageType int

const (
	TypeDial MessageType = iota
	TypeDialResponse
)

// Status is the dial-back outcome reported by a server.
type Status int

const (
	StatusUnknown Status = iota
	StatusOK
	StatusDialError
	StatusDialRefused
	StatusBadRequest
	StatusInternalError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDialError:
		return "dial-error"
	case StatusDialRefused:
		return "dial-refused"
	case StatusBadRequest:
		return "bad-request"
	case StatusInternalError:
		return "internal-error"
	default:
		return "unknown"
	}
}

// Reachability is the client-facing verdict: whether the local node
// appears to be publicly dialable.
type Reachability int

const (
	ReachabilityUnknown Reachability = iota
	ReachabilityPublic
	ReachabilityPrivate
)

// PeerInfo carries a dial target's identity and candidate addresses.
type PeerInfo struct {
	HasID     bool
	ID        p2ptypes.PeerID
	Addresses []p2ptypes.Multiaddr
}

// Dial is the client's request to be dialed back.
type Dial struct {
	Peer PeerInfo
}

// DialResponse is the server's reply to a Dial.
type DialResponse struct {
	Status     Status
	StatusText string
	HasAddr    bool
	Addr       p2ptypes.Multiaddr
}

// Message is the envelope for a single protocol exchange.
type Message struct {
	Type         MessageType
	Dial         *Dial
	DialResponse *DialResponse
}

// NATStatusTrackerConfig tunes the client-side reachability aggregator.
type NATStatusTrackerConfig struct {
	MinProbes     int
	MaxHistory    int
	MaxConfidence int
}

// DefaultNATStatusTrackerConfig returns conservative defaults.
func DefaultNATStatusTrackerConfig() NATStatusTrackerConfig {
	return NATStatusTrackerConfig{MinProbes: 3, MaxHistory: 10, MaxConfidence: 3}
}

// defaultDialTimeout bounds the server's dial-back attempt and the client's
// read of a DIAL_RESPONSE.
const defaultDialTimeout = 15 * time.Second
