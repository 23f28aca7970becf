package v1

import (
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// parseMultiaddrBytes decodes a wire-encoded multiaddr, the adapter the
// hand-rolled wire codec needs since p2ptypes.Multiaddr is an
// interface, not a concrete decodable type.
func parseMultiaddrBytes(b []byte) (p2ptypes.Multiaddr, error) {
	return ma.NewMultiaddrBytes(b)
}

// extractIP pulls the dialable IP out of a multiaddr, if any.
func extractIP(addr p2ptypes.Multiaddr) (string, bool) {
	if addr == nil {
		return "", false
	}
	ip, err := manet.ToIP(addr)
	if err != nil || ip == nil {
		return "", false
	}
	return ip.String(), true
}
