package pubsub

import (
	"testing"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

func TestMeshState_SubscribeDrainsFanout(t *testing.T) {
	m := NewMeshState()
	m.AddToFanout("t", p2ptypes.PeerID("a"))
	m.AddToFanout("t", p2ptypes.PeerID("b"))

	drained, ok := m.Subscribe("t")
	if !ok {
		t.Fatal("Subscribe should succeed the first time")
	}
	if len(drained) != 2 {
		t.Fatalf("drained = %d, want 2", len(drained))
	}
	if len(m.Fanout("t")) != 0 {
		t.Fatal("fanout must be empty once subscribed")
	}

	if _, ok := m.Subscribe("t"); ok {
		t.Fatal("second Subscribe on the same topic must fail")
	}
}

func TestMeshState_SubscribedTopicRejectsFanout(t *testing.T) {
	m := NewMeshState()
	m.Subscribe("t")
	m.AddToFanout("t", p2ptypes.PeerID("a"))
	if len(m.Fanout("t")) != 0 {
		t.Fatal("AddToFanout must no-op for a subscribed topic")
	}
}

func TestMeshState_AddToMeshRemovesFromFanout(t *testing.T) {
	m := NewMeshState()
	m.AddToFanout("t", p2ptypes.PeerID("a"))
	m.AddToMesh("t", p2ptypes.PeerID("a"))
	if !m.InMesh("t", p2ptypes.PeerID("a")) {
		t.Fatal("peer should be in mesh")
	}
	if len(m.Fanout("t")) != 0 {
		t.Fatal("peer must not remain in fanout once in mesh")
	}
}

func TestMeshState_ExpireFanout(t *testing.T) {
	m := NewMeshState()
	m.AddToFanout("t", p2ptypes.PeerID("a"))
	m.lastPublished["t"] = time.Now().Add(-time.Hour)

	expired := m.ExpireFanout(time.Minute)
	if len(expired) != 1 || expired[0] != "t" {
		t.Fatalf("expired = %+v", expired)
	}
	if len(m.Fanout("t")) != 0 {
		t.Fatal("fanout should be cleared after expiry")
	}
}

func TestMeshState_ExpireFanoutSkipsSubscribed(t *testing.T) {
	m := NewMeshState()
	m.Subscribe("t")
	m.lastPublished["t"] = time.Now().Add(-time.Hour)
	if expired := m.ExpireFanout(time.Minute); len(expired) != 0 {
		t.Fatalf("subscribed topics must never expire fanout: %+v", expired)
	}
}

func TestMeshState_RemovePeer(t *testing.T) {
	m := NewMeshState()
	m.Subscribe("t")
	m.AddToMesh("t", p2ptypes.PeerID("a"))
	m.AddToFanout("other", p2ptypes.PeerID("a"))
	m.RemovePeer(p2ptypes.PeerID("a"))

	if m.InMesh("t", p2ptypes.PeerID("a")) {
		t.Fatal("peer must be gone from mesh")
	}
	if len(m.Fanout("other")) != 0 {
		t.Fatal("peer must be gone from fanout")
	}
}
