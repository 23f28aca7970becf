package pubsub

import (
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// unmarshalPublicKey decodes a protobuf-encoded public key, as carried
// in a Message's key field.
func unmarshalPublicKey(raw []byte) (p2ptypes.PublicKey, error) {
	return libp2pcrypto.UnmarshalPublicKey(raw)
}

// derivePeerID computes the peer ID that a public key hashes to, used
// to check that a Message's key field actually matches its source.
func derivePeerID(pub p2ptypes.PublicKey) (p2ptypes.PeerID, error) {
	return peer.IDFromPublicKey(pub)
}
