// Package metrics exposes the daemon's Prometheus collectors. Every
// collector is created eagerly but registration is optional — components
// hold a *Metrics and call its methods unconditionally, whether or not
// anything ever scrapes /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters and gauges the pubsub, autonat, discovery
// and natmap packages update. A nil *Metrics is valid: every method has
// a nil receiver guard, so components can be constructed without a
// registry in tests.
type Metrics struct {
	MeshPeers        *prometheus.GaugeVec
	GraftTotal       *prometheus.CounterVec
	PruneTotal       *prometheus.CounterVec
	MessagesPublished prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	PeerScore        *prometheus.GaugeVec
	HeartbeatDuration prometheus.Histogram

	NATReachability  *prometheus.GaugeVec
	NATProbesTotal   *prometheus.CounterVec

	DiscoveryPeersFound *prometheus.CounterVec
	BootstrapAttempts   prometheus.Counter
	BootstrapSuccesses  prometheus.Counter

	NATMapLeases     *prometheus.GaugeVec
	NATMapProbesTotal *prometheus.CounterVec
}

// New constructs a Metrics bundle with all collectors initialized but
// not yet registered.
func New() *Metrics {
	return &Metrics{
		MeshPeers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshnet",
			Subsystem: "pubsub",
			Name:      "mesh_peers",
			Help:      "Number of peers currently in the mesh, by topic.",
		}, []string{"topic"}),
		GraftTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshnet",
			Subsystem: "pubsub",
			Name:      "graft_total",
			Help:      "Total GRAFT events, by topic and direction.",
		}, []string{"topic", "direction"}),
		PruneTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshnet",
			Subsystem: "pubsub",
			Name:      "prune_total",
			Help:      "Total PRUNE events, by topic and reason.",
		}, []string{"topic", "reason"}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshnet",
			Subsystem: "pubsub",
			Name:      "messages_published_total",
			Help:      "Total messages published locally.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshnet",
			Subsystem: "pubsub",
			Name:      "messages_delivered_total",
			Help:      "Total messages delivered to local subscribers.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshnet",
			Subsystem: "pubsub",
			Name:      "messages_dropped_total",
			Help:      "Total messages dropped, by reason.",
		}, []string{"reason"}),
		PeerScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshnet",
			Subsystem: "pubsub",
			Name:      "peer_score",
			Help:      "Current peer score.",
		}, []string{"peer"}),
		HeartbeatDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meshnet",
			Subsystem: "pubsub",
			Name:      "heartbeat_duration_seconds",
			Help:      "Time spent in a single mesh heartbeat tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		NATReachability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshnet",
			Subsystem: "autonat",
			Name:      "reachability",
			Help:      "Reachability status (0=unknown, 1=public, 2=private), by protocol version.",
		}, []string{"version"}),
		NATProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshnet",
			Subsystem: "autonat",
			Name:      "probes_total",
			Help:      "Total dial-back probes, by version and outcome.",
		}, []string{"version", "outcome"}),
		DiscoveryPeersFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshnet",
			Subsystem: "discovery",
			Name:      "peers_found_total",
			Help:      "Total peers found, by source.",
		}, []string{"source"}),
		BootstrapAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshnet",
			Subsystem: "discovery",
			Name:      "bootstrap_attempts_total",
			Help:      "Total bootstrap seed dial attempts.",
		}),
		BootstrapSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshnet",
			Subsystem: "discovery",
			Name:      "bootstrap_successes_total",
			Help:      "Total successful bootstrap seed connections.",
		}),
		NATMapLeases: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshnet",
			Subsystem: "natmap",
			Name:      "active_leases",
			Help:      "Active port-mapping leases, by protocol (upnp, natpmp, pcp).",
		}, []string{"protocol"}),
		NATMapProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshnet",
			Subsystem: "natmap",
			Name:      "probes_total",
			Help:      "Total gateway discovery/mapping attempts, by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
	}
}

// Register adds every collector to reg. Call once at startup.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	collectors := []prometheus.Collector{
		m.MeshPeers, m.GraftTotal, m.PruneTotal, m.MessagesPublished,
		m.MessagesDelivered, m.MessagesDropped, m.PeerScore, m.HeartbeatDuration,
		m.NATReachability, m.NATProbesTotal,
		m.DiscoveryPeersFound, m.BootstrapAttempts, m.BootstrapSuccesses,
		m.NATMapLeases, m.NATMapProbesTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) graft(topic, direction string) {
	if m == nil {
		return
	}
	m.GraftTotal.WithLabelValues(topic, direction).Inc()
}

// Graft records an outbound or inbound GRAFT.
func (m *Metrics) Graft(topic string, outbound bool) {
	if outbound {
		m.graft(topic, "out")
	} else {
		m.graft(topic, "in")
	}
}

// Prune records a PRUNE with its reason.
func (m *Metrics) Prune(topic, reason string) {
	if m == nil {
		return
	}
	m.PruneTotal.WithLabelValues(topic, reason).Inc()
}

// PublishedMessage records one locally-originated message.
func (m *Metrics) PublishedMessage() {
	if m == nil {
		return
	}
	m.MessagesPublished.Inc()
}

// DeliveredMessage records one message delivered to local subscribers.
func (m *Metrics) DeliveredMessage() {
	if m == nil {
		return
	}
	m.MessagesDelivered.Inc()
}

// SetMeshPeers records the current mesh size for a topic.
func (m *Metrics) SetMeshPeers(topic string, n int) {
	if m == nil {
		return
	}
	m.MeshPeers.WithLabelValues(topic).Set(float64(n))
}

// MessageDropped records a dropped message with its reason.
func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// SetPeerScore records a peer's current score.
func (m *Metrics) SetPeerScore(peer string, score float64) {
	if m == nil {
		return
	}
	m.PeerScore.WithLabelValues(peer).Set(score)
}

// SetNATReachability records the current reachability verdict for a version.
func (m *Metrics) SetNATReachability(version string, status int) {
	if m == nil {
		return
	}
	m.NATReachability.WithLabelValues(version).Set(float64(status))
}

// NATProbe records a dial-back probe outcome.
func (m *Metrics) NATProbe(version, outcome string) {
	if m == nil {
		return
	}
	m.NATProbesTotal.WithLabelValues(version, outcome).Inc()
}

// DiscoveryFound records peers surfaced by a discovery source.
func (m *Metrics) DiscoveryFound(source string, n int) {
	if m == nil {
		return
	}
	m.DiscoveryPeersFound.WithLabelValues(source).Add(float64(n))
}

// ObserveHeartbeat records the duration of one mesh heartbeat tick.
func (m *Metrics) ObserveHeartbeat(d time.Duration) {
	if m == nil {
		return
	}
	m.HeartbeatDuration.Observe(d.Seconds())
}

// SetNATMapLeases records the active lease count for a port-mapping protocol.
func (m *Metrics) SetNATMapLeases(protocol string, n int) {
	if m == nil {
		return
	}
	m.NATMapLeases.WithLabelValues(protocol).Set(float64(n))
}

// NATMapProbe records a gateway discovery or mapping attempt outcome.
func (m *Metrics) NATMapProbe(protocol, outcome string) {
	if m == nil {
		return
	}
	m.NATMapProbesTotal.WithLabelValues(protocol, outcome).Inc()
}

// Bootstrap records one bootstrap attempt and, if success is true, one
// successful seed connection.
func (m *Metrics) Bootstrap(success bool) {
	if m == nil {
		return
	}
	m.BootstrapAttempts.Inc()
	if success {
		m.BootstrapSuccesses.Inc()
	}
}
