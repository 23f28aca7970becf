package pubsub

import (
	"testing"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

func TestDirectPeers_IsDirectIsScopedPerTopic(t *testing.T) {
	d := NewDirectPeers(map[Topic][]p2ptypes.PeerID{"chat": {"a"}})
	if !d.IsDirect("chat", "a") {
		t.Fatal("a should be direct on chat")
	}
	if d.IsDirect("other", "a") {
		t.Fatal("a should not be direct on a topic it wasn't configured for")
	}
}

func TestDirectPeers_IsDirectAnyIgnoresTopic(t *testing.T) {
	d := NewDirectPeers(map[Topic][]p2ptypes.PeerID{"chat": {"a"}})
	if !d.IsDirectAny("a") {
		t.Fatal("IsDirectAny should report true regardless of which topic a is pinned on")
	}
	if d.IsDirectAny("b") {
		t.Fatal("b was never configured as direct on any topic")
	}
}

func TestDirectPeers_AddRemoveAreTopicScoped(t *testing.T) {
	d := NewDirectPeers(nil)
	d.Add("chat", "a")
	d.Add("alerts", "a")
	if !d.IsDirect("chat", "a") || !d.IsDirect("alerts", "a") {
		t.Fatal("a should be direct on both topics it was added to")
	}

	d.Remove("chat", "a")
	if d.IsDirect("chat", "a") {
		t.Fatal("a should no longer be direct on chat after Remove")
	}
	if !d.IsDirect("alerts", "a") {
		t.Fatal("removing a from chat should not affect its alerts standing")
	}
	if !d.IsDirectAny("a") {
		t.Fatal("a is still direct on alerts, so IsDirectAny should remain true")
	}
}

func TestDirectPeers_ForTopicReturnsOnlyThatTopicsPeers(t *testing.T) {
	d := NewDirectPeers(map[Topic][]p2ptypes.PeerID{
		"chat":   {"a", "b"},
		"alerts": {"c"},
	})
	chat := d.ForTopic("chat")
	if len(chat) != 2 {
		t.Fatalf("ForTopic(chat) = %v, want 2 peers", chat)
	}
	if len(d.ForTopic("unused")) != 0 {
		t.Fatal("ForTopic on an unconfigured topic should return no peers")
	}
}
