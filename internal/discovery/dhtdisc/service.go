// Package dhtdisc adapts go-libp2p-kad-dht's rendezvous discovery to
// the p2ptypes.DiscoveryService capability the rest of this module's
// discovery substrate is written against.
package dhtdisc

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/discovery"
	routing "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dht "github.com/libp2p/go-libp2p-kad-dht"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Service wraps a running *dht.IpfsDHT as a rendezvous-based
// DiscoveryService: Advertise provides a namespace under the DHT,
// FindPeers looks one up.
type Service struct {
	rd *routing.RoutingDiscovery
}

// New wraps an already-bootstrapped DHT instance. Callers own the
// DHT's own lifecycle (it's typically shared with routed dialing
// elsewhere in the host).
func New(d *dht.IpfsDHT) *Service {
	return &Service{rd: routing.NewRoutingDiscovery(d)}
}

// Advertise publishes this node under ns via DHT provider records.
func (s *Service) Advertise(ctx context.Context, ns string, opts ...p2ptypes.DiscoveryOption) (time.Duration, error) {
	o := p2ptypes.Apply(opts)
	dopts := toDiscoveryOptions(o)
	ttl, err := s.rd.Advertise(ctx, ns, dopts...)
	if err != nil {
		klog.Discovery.Debug().Err(err).Str("namespace", ns).Msg("dht advertise failed")
	}
	return ttl, err
}

// FindPeers looks up peers advertising under ns via the DHT.
func (s *Service) FindPeers(ctx context.Context, ns string, opts ...p2ptypes.DiscoveryOption) (<-chan p2ptypes.AddrInfo, error) {
	o := p2ptypes.Apply(opts)
	dopts := toDiscoveryOptions(o)
	return s.rd.FindPeers(ctx, ns, dopts...)
}

func toDiscoveryOptions(o p2ptypes.DiscoveryOptions) []discovery.Option {
	var out []discovery.Option
	if o.Limit > 0 {
		out = append(out, discovery.Limit(o.Limit))
	}
	if o.TTL > 0 {
		out = append(out, discovery.TTL(o.TTL))
	}
	return out
}
