package v1

import (
	"testing"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

func TestEncodeDecodeMessage_DialRoundtrip(t *testing.T) {
	addr, err := ma.NewMultiaddr("/ip4/1.2.3.4/tcp/4001")
	if err != nil {
		t.Fatalf("NewMultiaddr: %v", err)
	}
	msg := &Message{
		Type: TypeDial,
		Dial: &Dial{Peer: PeerInfo{HasID: true, ID: p2ptypes.PeerID("peer-a"), Addresses: []p2ptypes.Multiaddr{addr}}},
	}

	encoded := EncodeMessage(msg)
	decoded, err := DecodeMessage(encoded, parseMultiaddrBytes)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.Type != TypeDial {
		t.Fatalf("Type = %v, want TypeDial", decoded.Type)
	}
	if decoded.Dial == nil || !decoded.Dial.Peer.HasID || decoded.Dial.Peer.ID != p2ptypes.PeerID("peer-a") {
		t.Fatalf("Dial.Peer mismatch: %+v", decoded.Dial)
	}
	if len(decoded.Dial.Peer.Addresses) != 1 || decoded.Dial.Peer.Addresses[0].String() != addr.String() {
		t.Fatalf("addresses mismatch: %+v", decoded.Dial.Peer.Addresses)
	}
}

func TestEncodeDecodeMessage_DialResponseRoundtrip(t *testing.T) {
	addr, err := ma.NewMultiaddr("/ip4/5.6.7.8/tcp/4001")
	if err != nil {
		t.Fatalf("NewMultiaddr: %v", err)
	}
	msg := &Message{
		Type: TypeDialResponse,
		DialResponse: &DialResponse{
			Status:     StatusOK,
			StatusText: "dialed back successfully",
			HasAddr:    true,
			Addr:       addr,
		},
	}

	encoded := EncodeMessage(msg)
	decoded, err := DecodeMessage(encoded, parseMultiaddrBytes)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.DialResponse == nil {
		t.Fatal("DialResponse is nil")
	}
	if decoded.DialResponse.Status != StatusOK {
		t.Fatalf("Status = %v, want StatusOK", decoded.DialResponse.Status)
	}
	if decoded.DialResponse.StatusText != msg.DialResponse.StatusText {
		t.Fatalf("StatusText = %q, want %q", decoded.DialResponse.StatusText, msg.DialResponse.StatusText)
	}
	if !decoded.DialResponse.HasAddr || decoded.DialResponse.Addr.String() != addr.String() {
		t.Fatalf("Addr mismatch: %+v", decoded.DialResponse)
	}
}

func TestDecodeMessage_SkipsUnknownFields(t *testing.T) {
	msg := &Message{Type: TypeDial, Dial: &Dial{Peer: PeerInfo{HasID: true, ID: p2ptypes.PeerID("x")}}}
	encoded := EncodeMessage(msg)

	// Append a bogus field with an unused tag number.
	encoded = append(encoded, 0x68, 0x01) // field 13, varint type, value 1

	decoded, err := DecodeMessage(encoded, parseMultiaddrBytes)
	if err != nil {
		t.Fatalf("DecodeMessage with trailing unknown field: %v", err)
	}
	if decoded.Dial == nil || decoded.Dial.Peer.ID != p2ptypes.PeerID("x") {
		t.Fatalf("decoded mismatch: %+v", decoded)
	}
}

func TestStatusWireMapping(t *testing.T) {
	cases := []struct {
		status Status
		wire   uint64
	}{
		{StatusOK, 0},
		{StatusDialError, 100},
		{StatusDialRefused, 101},
		{StatusBadRequest, 200},
		{StatusInternalError, 300},
	}
	for _, c := range cases {
		if got := statusToWire(c.status); got != c.wire {
			t.Errorf("statusToWire(%v) = %d, want %d", c.status, got, c.wire)
		}
		if got := statusFromWire(c.wire); got != c.status {
			t.Errorf("statusFromWire(%d) = %v, want %v", c.wire, got, c.status)
		}
	}
}
