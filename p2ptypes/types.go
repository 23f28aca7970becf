// Package p2ptypes defines the shared vocabulary used by the pubsub,
// autonat, discovery and natmap packages: peer identity, addressing and
// signing primitives borrowed directly from go-libp2p's core packages,
// plus the small capability interfaces each subsystem dials against
// instead of depending on a concrete libp2p host.
package p2ptypes

import (
	"context"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/record"
	ma "github.com/multiformats/go-multiaddr"
)

// Re-exported identity and addressing types. These are not reinvented —
// every subsystem speaks the same peer.ID/Multiaddr vocabulary libp2p
// hosts already use; a real host's methods still need a thin adapter
// to satisfy StreamOpener below (core/host.Host.NewStream returns the
// distinct network.Stream type, not MuxedStream).
type (
	PeerID     = peer.ID
	PublicKey  = crypto.PubKey
	PrivateKey = crypto.PrivKey
	Multiaddr  = ma.Multiaddr
	ProtocolID = protocol.ID
	Envelope   = record.Envelope
	PeerRecord = peer.PeerRecord
	AddrInfo   = peer.AddrInfo
)

// MuxedStream is the minimal stream surface a protocol handler needs:
// a deadline-aware, protocol-tagged, bidirectional byte pipe.
type MuxedStream interface {
	io.ReadWriteCloser
	SetDeadline(time.Time) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	Protocol() ProtocolID
	Conn() Conn
	Reset() error
}

// Conn is the minimal connection surface needed to recover remote
// identity and addressing for a stream.
type Conn interface {
	RemotePeer() PeerID
	RemoteMultiaddr() Multiaddr
	LocalMultiaddr() Multiaddr
}

// StreamOpener opens outbound streams and registers inbound stream
// handlers for a protocol ID, independent of any particular transport.
// A libp2p host satisfies it through the adapter in internal/node.
type StreamOpener interface {
	NewStream(ctx context.Context, p PeerID, pids ...ProtocolID) (MuxedStream, error)
	SetStreamHandler(pid ProtocolID, handler func(MuxedStream))
	RemoveStreamHandler(pid ProtocolID)
	Connect(ctx context.Context, pi AddrInfo) error
	Addrs() []Multiaddr
	ID() PeerID
}

// DiscoveryService is satisfied by any mechanism that can advertise this
// node under a namespace and return peers advertising under one:
// DHT rendezvous, mDNS, or a static bootstrap list.
type DiscoveryService interface {
	Advertise(ctx context.Context, ns string, opts ...DiscoveryOption) (time.Duration, error)
	FindPeers(ctx context.Context, ns string, opts ...DiscoveryOption) (<-chan AddrInfo, error)
}

// DiscoveryOption configures a single Advertise/FindPeers call. Concrete
// options (limit, TTL) live in package discovery; this alias lets
// p2ptypes describe the interface without importing it.
type DiscoveryOption func(*DiscoveryOptions)

// DiscoveryOptions is the option struct DiscoveryOption mutates.
type DiscoveryOptions struct {
	Limit int
	TTL   time.Duration
}

// Apply runs a set of options against a freshly zeroed DiscoveryOptions.
func Apply(opts []DiscoveryOption) DiscoveryOptions {
	var o DiscoveryOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// MessageValidator decides whether a pubsub message should be relayed
// further into the mesh. Implementations run synchronously on the
// router's message-handling path and must not block.
type MessageValidator func(ctx context.Context, from PeerID, msg *Message) ValidationResult

// ValidationResult is the outcome of a MessageValidator.
type ValidationResult int

const (
	// ValidationAccept forwards the message and scores it positively.
	ValidationAccept ValidationResult = iota
	// ValidationReject forwards nothing and penalizes the sender's score.
	ValidationReject
	// ValidationIgnore drops the message silently with no score effect.
	ValidationIgnore
)

// Message is the transport-agnostic pubsub message envelope, shared by
// router, validator and tracer.
type Message struct {
	From      PeerID
	Data      []byte
	Seqno     []byte
	Topic     string
	Signature []byte
	Key       []byte
	ReceivedFrom PeerID
}

// NATProtocolHandler is the capability surface a reachability prober
// (AutoNAT v1 or v2) needs from its host: opening dial-back streams and
// attempting direct dials to candidate addresses.
type NATProtocolHandler interface {
	StreamOpener
	DialAddr(ctx context.Context, addr Multiaddr, p PeerID) error
}
