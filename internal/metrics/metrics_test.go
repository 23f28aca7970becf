package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetrics_EveryMethodIsANoop(t *testing.T) {
	var m *Metrics
	// None of these should panic on a nil receiver.
	m.Graft("chat", true)
	m.Prune("chat", "backoff")
	m.PublishedMessage()
	m.DeliveredMessage()
	m.SetMeshPeers("chat", 3)
	m.MessageDropped("duplicate")
	m.SetPeerScore("peer-a", 1.5)
	m.SetNATReachability("v1", 1)
	m.NATProbe("v1", "success")
	m.DiscoveryFound("mdns", 2)
	m.ObserveHeartbeat(10 * time.Millisecond)
	m.SetNATMapLeases("tcp", 1)
	m.NATMapProbe("upnp", "success")
	m.Bootstrap(true)
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Register on a nil *Metrics should be a no-op, got: %v", err)
	}
}

func TestMetrics_GraftRecordsDirectionLabel(t *testing.T) {
	m := New()
	m.Graft("chat", true)
	m.Graft("chat", false)
	m.Graft("chat", true)

	if got := testutil.ToFloat64(m.GraftTotal.WithLabelValues("chat", "out")); got != 2 {
		t.Fatalf("outbound graft count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.GraftTotal.WithLabelValues("chat", "in")); got != 1 {
		t.Fatalf("inbound graft count = %v, want 1", got)
	}
}

func TestMetrics_RegisterThenDoubleRegisterFails(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Fatal("registering the same collectors twice against one registry should fail")
	}
}

func TestMetrics_MessageDroppedIncrementsByReason(t *testing.T) {
	m := New()
	m.MessageDropped("too-large")
	m.MessageDropped("too-large")
	m.MessageDropped("duplicate")

	if got := testutil.ToFloat64(m.MessagesDropped.WithLabelValues("too-large")); got != 2 {
		t.Fatalf("too-large drops = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.MessagesDropped.WithLabelValues("duplicate")); got != 1 {
		t.Fatalf("duplicate drops = %v, want 1", got)
	}
}
