package discovery

import (
	"crypto/rand"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func TestParsePeerID_RoundTripsEncodedID(t *testing.T) {
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("IDFromPublicKey: %v", err)
	}

	got, err := parsePeerID(id.String())
	if err != nil {
		t.Fatalf("parsePeerID: %v", err)
	}
	if got != id {
		t.Fatalf("parsePeerID = %s, want %s", got, id)
	}
}

func TestParsePeerID_RejectsGarbage(t *testing.T) {
	if _, err := parsePeerID("not-a-peer-id"); err == nil {
		t.Fatal("parsePeerID accepted a non-peer-id string")
	}
}

func TestParseMultiaddrString_ParsesWellFormedAddr(t *testing.T) {
	addr, err := parseMultiaddrString("/ip4/127.0.0.1/tcp/4001")
	if err != nil {
		t.Fatalf("parseMultiaddrString: %v", err)
	}
	if addr.String() != "/ip4/127.0.0.1/tcp/4001" {
		t.Fatalf("addr = %s, want /ip4/127.0.0.1/tcp/4001", addr.String())
	}
}

func TestParseMultiaddrString_RejectsMalformedAddr(t *testing.T) {
	if _, err := parseMultiaddrString("not-a-multiaddr"); err == nil {
		t.Fatal("parseMultiaddrString accepted a malformed address")
	}
}
