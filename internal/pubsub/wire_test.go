package pubsub

import (
	"bytes"
	"testing"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

func TestEncodeDecodeRPC_Roundtrip(t *testing.T) {
	var id1, id2 MessageID
	id1[0] = 0xAA
	id2[0] = 0xBB

	rpc := &RPC{
		Subscriptions: []SubOpt{{Topic: "chat", Subscribe: true}},
		Messages: []*Message{
			{
				HasSource: true,
				Source:    p2ptypes.PeerID("peer-a"),
				Data:      []byte("hello"),
				Seqno:     [8]byte{0, 0, 0, 0, 0, 0, 0, 1},
				Topic:     "chat",
			},
		},
		Control: &ControlMessage{
			Graft: []ControlGraft{{Topic: "chat"}},
			Prune: []ControlPrune{{Topic: "chat", Backoff: time.Minute}},
			IHave: []ControlIHave{{Topic: "chat", IDs: []MessageID{id1, id2}}},
			IWant: []ControlIWant{{IDs: []MessageID{id1}}},
		},
	}

	encoded := EncodeRPC(rpc)
	decoded, err := DecodeRPC(encoded)
	if err != nil {
		t.Fatalf("DecodeRPC: %v", err)
	}

	if len(decoded.Subscriptions) != 1 || decoded.Subscriptions[0].Topic != "chat" || !decoded.Subscriptions[0].Subscribe {
		t.Fatalf("subscriptions = %+v", decoded.Subscriptions)
	}
	if len(decoded.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(decoded.Messages))
	}
	m := decoded.Messages[0]
	if !bytes.Equal(m.Data, []byte("hello")) || string(m.Source) != "peer-a" || m.Topic != "chat" {
		t.Fatalf("decoded message = %+v", m)
	}
	if decoded.Control == nil {
		t.Fatal("expected control message")
	}
	if len(decoded.Control.Graft) != 1 || decoded.Control.Graft[0].Topic != "chat" {
		t.Fatalf("graft = %+v", decoded.Control.Graft)
	}
	if len(decoded.Control.Prune) != 1 || decoded.Control.Prune[0].Backoff != time.Minute {
		t.Fatalf("prune = %+v", decoded.Control.Prune)
	}
	if len(decoded.Control.IHave) != 1 || len(decoded.Control.IHave[0].IDs) != 2 {
		t.Fatalf("ihave = %+v", decoded.Control.IHave)
	}
	if len(decoded.Control.IWant) != 1 || decoded.Control.IWant[0].IDs[0] != id1 {
		t.Fatalf("iwant = %+v", decoded.Control.IWant)
	}
}

func TestDecodeRPC_SkipsUnknownFields(t *testing.T) {
	rpc := &RPC{Subscriptions: []SubOpt{{Topic: "x", Subscribe: true}}}
	encoded := EncodeRPC(rpc)

	// Append an unknown top-level field (field 99, varint) before re-decoding.
	// Its tag 99<<3|0 = 792 is the two-byte varint 0x98 0x06; the value is 1.
	unknown := append([]byte(nil), encoded...)
	unknown = append(unknown, 0x98, 0x06, 1)

	decoded, err := DecodeRPC(unknown)
	if err != nil {
		t.Fatalf("DecodeRPC with unknown field: %v", err)
	}
	if len(decoded.Subscriptions) != 1 || decoded.Subscriptions[0].Topic != "x" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestEncodeMessageSigningBytes_ClearsSignatureAndKey(t *testing.T) {
	m := &Message{
		HasSource: true,
		Source:    p2ptypes.PeerID("p"),
		Data:      []byte("payload"),
		Topic:     "t",
		Signature: []byte("sig"),
		Key:       []byte("key"),
	}
	clean := &Message{HasSource: m.HasSource, Source: m.Source, Data: m.Data, Seqno: m.Seqno, Topic: m.Topic}
	if !bytes.Equal(encodeMessageSigningBytes(m), encodeMessage(clean)) {
		t.Fatal("signing bytes must match the encoding with signature/key cleared")
	}
}

func TestSecondsToDuration(t *testing.T) {
	if got := secondsToDuration(60); got != time.Minute {
		t.Fatalf("secondsToDuration(60) = %v, want 1m", got)
	}
}
