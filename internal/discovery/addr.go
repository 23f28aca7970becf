package discovery

import (
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

func parsePeerID(s string) (p2ptypes.PeerID, error) {
	return peer.Decode(s)
}

func parseMultiaddrString(s string) (p2ptypes.Multiaddr, error) {
	return ma.NewMultiaddr(s)
}
