package node

import (
	"context"
	"fmt"

	corehost "github.com/libp2p/go-libp2p/core/host"

	v1 "github.com/meshnet-go/meshnet/internal/autonat/v1"
	v2 "github.com/meshnet-go/meshnet/internal/autonat/v2"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// AutoNATv1Dialer builds the direct-dial callback an AutoNAT v1 server
// needs: dial the candidate addresses as a fresh connection attempt and
// report back whichever one succeeded.
func AutoNATv1Dialer(h corehost.Host) v1.Dialer {
	return func(ctx context.Context, p p2ptypes.PeerID, addrs []p2ptypes.Multiaddr) (p2ptypes.Multiaddr, error) {
		if err := h.Connect(ctx, p2ptypes.AddrInfo{ID: p, Addrs: addrs}); err != nil {
			return nil, err
		}
		conns := h.Network().ConnsToPeer(p)
		if len(conns) == 0 {
			return nil, fmt.Errorf("node: no connection to %s after dial-back", p)
		}
		return conns[0].RemoteMultiaddr(), nil
	}
}

// AutoNATv2Dialer builds the direct-dial callback an AutoNAT v2 server
// needs: dial exactly the one address the client asked to be proven.
func AutoNATv2Dialer(h corehost.Host) v2.Dialer {
	return func(ctx context.Context, p p2ptypes.PeerID, addr p2ptypes.Multiaddr) error {
		return h.Connect(ctx, p2ptypes.AddrInfo{ID: p, Addrs: []p2ptypes.Multiaddr{addr}})
	}
}
