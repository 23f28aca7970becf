package node

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	corehost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Config holds the settings needed to stand up the libp2p host.
type Config struct {
	ListenAddr string
	Port       int
	DataDir    string
}

// NewHost constructs a libp2p host listening on cfg.ListenAddr:cfg.Port,
// with a persistent identity loaded from (or saved to) cfg.DataDir. The
// host's identity key is recoverable via
// h.Peerstore().PrivKey(h.ID()) for anything (e.g. the GossipSub
// router) that needs to sign with it.
func NewHost(cfg Config) (corehost.Host, error) {
	priv, err := loadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("/ip4/%s/tcp/%d", cfg.ListenAddr, cfg.Port)
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(addr),
		libp2p.Identity(priv),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}
	return h, nil
}

// hostAdapter satisfies p2ptypes.StreamOpener over a real libp2p host.
// It exists because core/host.Host.NewStream returns network.Stream,
// whose Conn() returns network.Conn rather than p2ptypes.Conn, so a
// network.Stream is not itself a p2ptypes.MuxedStream; every stream is
// wrapped in muxedStream on its way out.
type hostAdapter struct {
	h corehost.Host
}

// muxedStream narrows a network.Stream's Conn() to p2ptypes.Conn.
type muxedStream struct {
	network.Stream
}

func (s muxedStream) Conn() p2ptypes.Conn { return s.Stream.Conn() }

func (a hostAdapter) NewStream(ctx context.Context, p p2ptypes.PeerID, pids ...p2ptypes.ProtocolID) (p2ptypes.MuxedStream, error) {
	s, err := a.h.NewStream(ctx, p, pids...)
	if err != nil {
		return nil, err
	}
	return muxedStream{s}, nil
}

func (a hostAdapter) SetStreamHandler(pid p2ptypes.ProtocolID, handler func(p2ptypes.MuxedStream)) {
	a.h.SetStreamHandler(pid, func(s network.Stream) { handler(muxedStream{s}) })
}

func (a hostAdapter) RemoveStreamHandler(pid p2ptypes.ProtocolID) {
	a.h.RemoveStreamHandler(pid)
}

func (a hostAdapter) Connect(ctx context.Context, pi p2ptypes.AddrInfo) error {
	return a.h.Connect(ctx, pi)
}

func (a hostAdapter) Addrs() []p2ptypes.Multiaddr { return a.h.Addrs() }
func (a hostAdapter) ID() p2ptypes.PeerID         { return a.h.ID() }
