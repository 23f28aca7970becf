package v2

import (
	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// parseMultiaddrBytes decodes a wire-encoded multiaddr.
func parseMultiaddrBytes(b []byte) (p2ptypes.Multiaddr, error) {
	return ma.NewMultiaddrBytes(b)
}
