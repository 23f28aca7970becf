package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	multiaddr "github.com/multiformats/go-multiaddr"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/internal/pubsub"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// streamTimeout bounds a single RPC frame's read/write, matching the
// autonat packages' single-shot stream framing.
const streamTimeout = 10 * time.Second

const maxFrameSize = 1 << 20

// writeFrame writes a single RPC as a 4-byte-length-prefixed protobuf
// payload, the same delimited framing autonat v1/v2 use.
func writeFrame(s p2ptypes.MuxedStream, rpc *pubsub.RPC) error {
	payload := pubsub.EncodeRPC(rpc)
	_ = s.SetWriteDeadline(time.Now().Add(streamTimeout))
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := s.Write(hdr[:]); err != nil {
		return fmt.Errorf("node: write length prefix: %w", err)
	}
	if _, err := s.Write(payload); err != nil {
		return fmt.Errorf("node: write rpc payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed RPC frame.
func readFrame(s p2ptypes.MuxedStream) (*pubsub.RPC, error) {
	_ = s.SetReadDeadline(time.Now().Add(streamTimeout))
	var hdr [4]byte
	if _, err := io.ReadFull(s, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("node: oversized rpc frame (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s, buf); err != nil {
		return nil, fmt.Errorf("node: read rpc payload: %w", err)
	}
	return pubsub.DecodeRPC(buf)
}

// handleStream is the GossipSubProtocolID stream handler: each inbound
// stream carries exactly one RPC frame, mirroring the one-shot
// request/response shape the AutoNAT packages already use rather than
// go-libp2p-pubsub's long-lived duplex stream per peer. A peer with
// more to say simply opens another stream.
func (n *Node) handleStream(s p2ptypes.MuxedStream) {
	defer s.Close()
	from := s.Conn().RemotePeer()
	rpc, err := readFrame(s)
	if err != nil {
		klog.PubSub.Debug().Err(err).Str("peer", from.String()).Msg("gossip stream read failed")
		return
	}
	resp, forwards, err := n.router.HandleRPC(from, rpc)
	if err != nil {
		klog.PubSub.Debug().Err(err).Str("peer", from.String()).Msg("gossip rpc rejected")
		return
	}
	if resp != nil {
		if err := writeFrame(s, resp); err != nil {
			klog.PubSub.Debug().Err(err).Str("peer", from.String()).Msg("gossip stream response write failed")
		}
	}
	for _, fwd := range forwards {
		fwd := fwd
		go n.sendRPC(fwd.Peer, fwd.RPC)
	}
}

// sendRPC opens a fresh outbound stream to p and writes one RPC frame.
// Failures are logged, not returned: forwarding is best-effort, the
// same way a dropped GRAFT or gossip IHAVE is simply never retried.
func (n *Node) sendRPC(p p2ptypes.PeerID, rpc *pubsub.RPC) {
	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()
	s, err := n.streams.NewStream(ctx, p, pubsub.GossipSubProtocolID)
	if err != nil {
		klog.PubSub.Debug().Err(err).Str("peer", p.String()).Msg("open gossip stream failed")
		return
	}
	defer s.Close()
	if err := writeFrame(s, rpc); err != nil {
		klog.PubSub.Debug().Err(err).Str("peer", p.String()).Msg("write gossip frame failed")
		return
	}
	// Best-effort read of a synchronous response (e.g. the peer's own
	// control reply); absence or timeout is not an error here.
	if resp, err := readFrame(s); err == nil && resp != nil {
		if _, more, err := n.router.HandleRPC(p, resp); err == nil {
			for _, fwd := range more {
				go n.sendRPC(fwd.Peer, fwd.RPC)
			}
		}
	}
}

// notifiee bridges libp2p connection lifecycle events into the router
// and the node's own connected-peer bookkeeping.
type notifiee struct {
	n *Node
}

func (no *notifiee) Connected(net network.Network, conn network.Conn) {
	remote := conn.RemotePeer()
	if remote == no.n.ID() {
		return
	}
	dir := pubsub.DirectionInbound
	if conn.Stat().Direction == network.DirOutbound {
		dir = pubsub.DirectionOutbound
	}
	remoteIP := ""
	if addr := conn.RemoteMultiaddr(); addr != nil {
		if ip, err := addr.ValueForProtocol(multiaddr.P_IP4); err == nil {
			remoteIP = ip
		} else if ip, err := addr.ValueForProtocol(multiaddr.P_IP6); err == nil {
			remoteIP = ip
		}
	}
	no.n.router.AddPeer(remote, dir, pubsub.GossipSubProtocolID, remoteIP)
	no.n.announceTo(remote)
}

func (no *notifiee) Disconnected(net network.Network, conn network.Conn) {
	remote := conn.RemotePeer()
	if len(net.ConnsToPeer(remote)) == 0 {
		no.n.router.RemovePeer(remote)
	}
}

func (no *notifiee) Listen(network.Network, p2ptypes.Multiaddr)      {}
func (no *notifiee) ListenClose(network.Network, p2ptypes.Multiaddr) {}

// announceTo replays the node's current subscription state to a newly
// connected peer so it learns what topics to graft into.
func (n *Node) announceTo(p p2ptypes.PeerID) {
	n.mu.RLock()
	rpc := n.announce
	n.mu.RUnlock()
	if rpc == nil {
		return
	}
	go n.sendRPC(p, rpc)
}
