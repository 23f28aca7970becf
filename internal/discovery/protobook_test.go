package discovery

import (
	"sort"
	"testing"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

func TestProtoBook_AddAndQuery(t *testing.T) {
	b := NewProtoBook()
	b.AddProtocols("p1", "/mesh/gossip/1.0.0", "/mesh/autonat/1.0.0")
	b.AddProtocols("p2", "/mesh/gossip/1.0.0")

	got := b.Protocols("p1")
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	want := []p2ptypes.ProtocolID{"/mesh/autonat/1.0.0", "/mesh/gossip/1.0.0"}
	if len(got) != len(want) {
		t.Fatalf("Protocols(p1) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Protocols(p1) = %v, want %v", got, want)
		}
	}

	supporters := b.PeersSupporting("/mesh/gossip/1.0.0")
	if len(supporters) != 2 {
		t.Fatalf("PeersSupporting(gossip) = %v, want 2 peers", supporters)
	}

	soloSupporters := b.PeersSupporting("/mesh/autonat/1.0.0")
	if len(soloSupporters) != 1 || soloSupporters[0] != "p1" {
		t.Fatalf("PeersSupporting(autonat) = %v, want [p1]", soloSupporters)
	}
}

func TestProtoBook_RemoveProtocolsPrunesReverseIndex(t *testing.T) {
	b := NewProtoBook()
	b.AddProtocols("p1", "/mesh/gossip/1.0.0")
	b.RemoveProtocols("p1", "/mesh/gossip/1.0.0")

	if got := b.Protocols("p1"); len(got) != 0 {
		t.Fatalf("Protocols(p1) = %v, want empty", got)
	}
	if got := b.PeersSupporting("/mesh/gossip/1.0.0"); len(got) != 0 {
		t.Fatalf("PeersSupporting(gossip) = %v, want empty after removal", got)
	}
}

func TestProtoBook_RemovePeerDropsAllAssociations(t *testing.T) {
	b := NewProtoBook()
	b.AddProtocols("p1", "/mesh/gossip/1.0.0", "/mesh/autonat/1.0.0")
	b.RemovePeer("p1")

	if got := b.Protocols("p1"); got != nil {
		t.Fatalf("Protocols(p1) = %v, want nil", got)
	}
	if got := b.PeersSupporting("/mesh/gossip/1.0.0"); len(got) != 0 {
		t.Fatalf("PeersSupporting(gossip) = %v, want empty after RemovePeer", got)
	}
}
