package natmap

import (
	"context"
	"time"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/internal/metrics"
)

// candidate pairs a discoverer with the mapper that speaks its
// protocol, tried in UPnP -> NAT-PMP -> PCP order (most to least
// commonly supported by home routers).
type candidate struct {
	name       string
	discoverer GatewayDiscoverer
	mapper     PortMapper
}

// Mapper tries each supported NAT gateway protocol in turn and caches
// whichever one first answers. It exposes DiscoverGateway,
// GetExternalAddress, RequestMapping and ReleaseMapping; it does not
// implement p2ptypes.NATProtocolHandler, which declares a stream opener
// plus DialAddr instead.
type Mapper struct {
	candidates []candidate
	metrics    *metrics.Metrics

	gateway *Gateway
	active  PortMapper
}

// NewMapper builds the default UPnP -> NAT-PMP -> PCP probing order.
func NewMapper(m *metrics.Metrics) *Mapper {
	return &Mapper{
		candidates: []candidate{
			{name: "upnp", discoverer: NewUPnPDiscoverer(), mapper: NewUPnPMapper()},
			{name: "natpmp", discoverer: NewNATPMPDiscoverer(), mapper: NewNATPMPMapper()},
			{name: "pcp", discoverer: NewPCPDiscoverer(), mapper: NewPCPMapper()},
		},
		metrics: m,
	}
}

// DiscoverGateway tries each candidate protocol until one responds,
// caching the result for subsequent calls.
func (m *Mapper) DiscoverGateway(ctx context.Context) error {
	for _, c := range m.candidates {
		gw, err := c.discoverer.Discover(ctx)
		if err != nil {
			klog.NATMap.Debug().Str("protocol", c.name).Err(err).Msg("gateway discovery failed")
			m.metrics.NATMapProbe(c.name, "failed")
			continue
		}
		m.gateway = &gw
		m.active = c.mapper
		m.metrics.NATMapProbe(c.name, "ok")
		klog.NATMap.Info().Str("protocol", c.name).Msg("nat gateway discovered")
		return nil
	}
	return ErrNoGatewayFound
}

// GetExternalAddress returns the cached gateway's external IP.
func (m *Mapper) GetExternalAddress(ctx context.Context) (string, error) {
	if m.gateway == nil {
		if err := m.DiscoverGateway(ctx); err != nil {
			return "", err
		}
	}
	ip, err := m.active.ExternalAddress(ctx, *m.gateway)
	if err != nil {
		return "", err
	}
	return ip.String(), nil
}

// RequestMapping opens a mapping on the cached gateway, discovering
// one first if necessary.
func (m *Mapper) RequestMapping(ctx context.Context, proto Protocol, internalPort, externalPort int, lease time.Duration) (Mapping, error) {
	if m.gateway == nil {
		if err := m.DiscoverGateway(ctx); err != nil {
			return Mapping{}, err
		}
	}
	mapping, err := m.active.AddMapping(ctx, *m.gateway, proto, internalPort, externalPort, lease)
	if err != nil {
		m.metrics.NATMapProbe(m.gateway.Kind.String(), "mapping-failed")
		return Mapping{}, err
	}
	m.metrics.NATMapProbe(m.gateway.Kind.String(), "mapping-ok")
	return mapping, nil
}

// ReleaseMapping releases a previously requested mapping.
func (m *Mapper) ReleaseMapping(ctx context.Context, proto Protocol, externalPort int) error {
	if m.gateway == nil {
		return ErrNoGatewayFound
	}
	return m.active.RemoveMapping(ctx, *m.gateway, proto, externalPort)
}
