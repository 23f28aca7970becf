package natmap

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/meshnet-go/meshnet/internal/metrics"
)

// fakeDiscoverer and fakeMapper let tests drive Mapper's try-in-order
// fallback without touching a real UPnP/NAT-PMP/PCP gateway.
type fakeDiscoverer struct {
	gw  Gateway
	err error
}

func (d *fakeDiscoverer) Discover(ctx context.Context) (Gateway, error) { return d.gw, d.err }

type fakeMapper struct {
	externalIP net.IP
	mapping    Mapping
	err        error
	removed    bool
}

func (m *fakeMapper) ExternalAddress(ctx context.Context, gw Gateway) (net.IP, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.externalIP, nil
}
func (m *fakeMapper) AddMapping(ctx context.Context, gw Gateway, proto Protocol, internalPort, externalPort int, lease time.Duration) (Mapping, error) {
	if m.err != nil {
		return Mapping{}, m.err
	}
	return m.mapping, nil
}
func (m *fakeMapper) RemoveMapping(ctx context.Context, gw Gateway, proto Protocol, externalPort int) error {
	m.removed = true
	return m.err
}

func TestMapper_DiscoverGatewayTriesInOrderUntilSuccess(t *testing.T) {
	upnpMapper := &fakeMapper{externalIP: net.ParseIP("203.0.113.1")}
	natpmpMapper := &fakeMapper{externalIP: net.ParseIP("203.0.113.2")}

	m := &Mapper{
		metrics: metrics.New(),
		candidates: []candidate{
			{name: "upnp", discoverer: &fakeDiscoverer{err: ErrNoGatewayFound}, mapper: upnpMapper},
			{name: "natpmp", discoverer: &fakeDiscoverer{gw: Gateway{Kind: GatewayNATPMP}}, mapper: natpmpMapper},
			{name: "pcp", discoverer: &fakeDiscoverer{gw: Gateway{Kind: GatewayPCP}}, mapper: &fakeMapper{}},
		},
	}

	if err := m.DiscoverGateway(context.Background()); err != nil {
		t.Fatalf("DiscoverGateway: %v", err)
	}
	if m.gateway == nil || m.gateway.Kind != GatewayNATPMP {
		t.Fatalf("gateway = %+v, want NAT-PMP (the first to succeed)", m.gateway)
	}

	ip, err := m.GetExternalAddress(context.Background())
	if err != nil || ip != "203.0.113.2" {
		t.Fatalf("GetExternalAddress = (%q, %v), want 203.0.113.2", ip, err)
	}
}

func TestMapper_DiscoverGatewayAllFailReturnsErrNoGatewayFound(t *testing.T) {
	m := &Mapper{
		metrics: metrics.New(),
		candidates: []candidate{
			{name: "upnp", discoverer: &fakeDiscoverer{err: ErrNoGatewayFound}, mapper: &fakeMapper{}},
			{name: "natpmp", discoverer: &fakeDiscoverer{err: ErrNoGatewayFound}, mapper: &fakeMapper{}},
			{name: "pcp", discoverer: &fakeDiscoverer{err: ErrNoGatewayFound}, mapper: &fakeMapper{}},
		},
	}
	if err := m.DiscoverGateway(context.Background()); err != ErrNoGatewayFound {
		t.Fatalf("err = %v, want ErrNoGatewayFound", err)
	}
}

func TestMapper_RequestMappingDiscoversLazily(t *testing.T) {
	want := Mapping{ExternalPort: 4001, ExternalIP: net.ParseIP("203.0.113.5"), Lease: time.Hour}
	m := &Mapper{
		metrics: metrics.New(),
		candidates: []candidate{
			{name: "upnp", discoverer: &fakeDiscoverer{gw: Gateway{Kind: GatewayUPnP}}, mapper: &fakeMapper{mapping: want}},
		},
	}

	got, err := m.RequestMapping(context.Background(), TCP, 4001, 4001, time.Hour)
	if err != nil {
		t.Fatalf("RequestMapping: %v", err)
	}
	if got.ExternalPort != want.ExternalPort || got.ExternalIP.String() != want.ExternalIP.String() {
		t.Fatalf("RequestMapping = %+v, want %+v", got, want)
	}
	if m.gateway == nil || m.gateway.Kind != GatewayUPnP {
		t.Fatal("RequestMapping did not cache the discovered gateway")
	}
}

func TestMapper_ReleaseMappingWithoutPriorDiscoveryFails(t *testing.T) {
	m := NewMapper(metrics.New())
	if err := m.ReleaseMapping(context.Background(), TCP, 4001); err != ErrNoGatewayFound {
		t.Fatalf("err = %v, want ErrNoGatewayFound", err)
	}
}

func TestMapper_ReleaseMappingUsesCachedGateway(t *testing.T) {
	fm := &fakeMapper{}
	m := &Mapper{
		metrics:    metrics.New(),
		gateway:    &Gateway{Kind: GatewayNATPMP},
		active:     fm,
		candidates: nil,
	}
	if err := m.ReleaseMapping(context.Background(), TCP, 4001); err != nil {
		t.Fatalf("ReleaseMapping: %v", err)
	}
	if !fm.removed {
		t.Fatal("ReleaseMapping did not call RemoveMapping on the active mapper")
	}
}
