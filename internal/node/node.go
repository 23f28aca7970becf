// Package node wires a real libp2p host to the mesh's own GossipSub
// router: it owns the host's lifecycle, bridges RPC frames over a
// dedicated stream protocol, and tracks the peer connect/disconnect
// events the rest of the daemon (bootstrap, AutoNAT probing) needs.
package node

import (
	"context"
	"sync"

	corehost "github.com/libp2p/go-libp2p/core/host"

	"github.com/meshnet-go/meshnet/internal/pubsub"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Node owns a libp2p host and bridges it to a GossipSub Router.
type Node struct {
	host    corehost.Host
	streams p2ptypes.StreamOpener
	router  *pubsub.Router

	mu       sync.RWMutex
	topics   map[pubsub.Topic]bool
	announce *pubsub.RPC
}

// Attach wires an already-constructed libp2p host (see NewHost) to
// router: it registers the gossip stream handler and connection
// notifiee and returns the running Node. The host and the router must
// agree on the local peer identity (NewRouter's self/privKey should
// come from h.ID() / h.Peerstore().PrivKey(h.ID())).
func Attach(h corehost.Host, router *pubsub.Router) *Node {
	n := &Node{
		host:    h,
		streams: hostAdapter{h: h},
		router:  router,
		topics:  make(map[pubsub.Topic]bool),
	}
	h.Network().Notify(&notifiee{n: n})
	n.streams.SetStreamHandler(pubsub.GossipSubProtocolID, n.handleStream)
	return n
}

// Host returns the underlying libp2p host for subsystems (DHT, mDNS)
// that need the concrete type rather than the StreamOpener capability.
func (n *Node) Host() corehost.Host { return n.host }

// StreamOpener returns the capability view AutoNAT, discovery and the
// rest of the subsystems built against p2ptypes dial against.
func (n *Node) StreamOpener() p2ptypes.StreamOpener { return n.streams }

// ID returns the node's own peer ID.
func (n *Node) ID() p2ptypes.PeerID { return n.host.ID() }

// Addrs returns the node's listen addresses.
func (n *Node) Addrs() []p2ptypes.Multiaddr { return n.host.Addrs() }

// ConnectedPeerCount satisfies discovery.ConnectedPeerCounter.
func (n *Node) ConnectedPeerCount() int { return len(n.host.Network().Peers()) }

// IsConnected satisfies discovery.ConnectedPeerCounter.
func (n *Node) IsConnected(p p2ptypes.PeerID) bool {
	return len(n.host.Network().ConnsToPeer(p)) > 0
}

// Connect satisfies discovery.Connector.
func (n *Node) Connect(ctx context.Context, pi p2ptypes.AddrInfo) error {
	return n.host.Connect(ctx, pi)
}

// Subscribe joins topic on the local router and broadcasts the
// resulting announcement to every connected peer.
func (n *Node) Subscribe(topic pubsub.Topic) error {
	forwards, announce, err := n.router.Subscribe(topic)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.topics[topic] = true
	n.announce = n.fullAnnounceLocked()
	n.mu.Unlock()
	n.broadcast(announce)
	for _, fwd := range forwards {
		go n.sendRPC(fwd.Peer, fwd.RPC)
	}
	return nil
}

// Unsubscribe leaves topic and broadcasts the withdrawal.
func (n *Node) Unsubscribe(topic pubsub.Topic) {
	forwards, announce := n.router.Unsubscribe(topic)
	n.mu.Lock()
	delete(n.topics, topic)
	n.announce = n.fullAnnounceLocked()
	n.mu.Unlock()
	n.broadcast(announce)
	for _, fwd := range forwards {
		go n.sendRPC(fwd.Peer, fwd.RPC)
	}
}

// Publish publishes data on topic and forwards it to every mesh peer
// the router selected.
func (n *Node) Publish(topic pubsub.Topic, data []byte) error {
	msg, peers, err := n.router.Publish(topic, data)
	if err != nil {
		return err
	}
	rpc := &pubsub.RPC{Messages: []*pubsub.Message{msg}}
	for _, p := range peers {
		go n.sendRPC(p, rpc)
	}
	return nil
}

func (n *Node) fullAnnounceLocked() *pubsub.RPC {
	subs := make([]pubsub.SubOpt, 0, len(n.topics))
	for t := range n.topics {
		subs = append(subs, pubsub.SubOpt{Topic: t, Subscribe: true})
	}
	return &pubsub.RPC{Subscriptions: subs}
}

// broadcast sends rpc to every currently connected peer.
func (n *Node) broadcast(rpc *pubsub.RPC) {
	if rpc == nil {
		return
	}
	for _, p := range n.host.Network().Peers() {
		go n.sendRPC(p, rpc)
	}
}

// Router returns the underlying GossipSub router.
func (n *Node) Router() *pubsub.Router { return n.router }

// Close shuts down the host.
func (n *Node) Close() error {
	return n.host.Close()
}
