package natmap

import (
	"context"
	"net"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
)

// NATPMPDiscoverer treats the default gateway (the first hop found via
// the local interface's default route) as a candidate NAT-PMP server;
// Discover simply probes it with a public-address request.
type NATPMPDiscoverer struct{}

// NewNATPMPDiscoverer constructs a discoverer.
func NewNATPMPDiscoverer() *NATPMPDiscoverer { return &NATPMPDiscoverer{} }

// Discover finds the default gateway IP and confirms it answers
// NAT-PMP's public-address-request (opcode 0).
func (d *NATPMPDiscoverer) Discover(ctx context.Context) (Gateway, error) {
	gwIP, err := defaultGatewayIP()
	if err != nil {
		return Gateway{}, ErrNoGatewayFound
	}
	client := natpmp.NewClient(gwIP)
	if _, err := client.GetExternalAddress(); err != nil {
		return Gateway{}, &ErrGatewayError{Kind: "natpmp", Err: err}
	}
	return Gateway{Kind: GatewayNATPMP, IP: gwIP}, nil
}

type natpmpMapper struct{}

// NewNATPMPMapper constructs a PortMapper speaking RFC 6886 NAT-PMP.
func NewNATPMPMapper() PortMapper { return natpmpMapper{} }

func (natpmpMapper) ExternalAddress(ctx context.Context, gw Gateway) (net.IP, error) {
	client := natpmp.NewClient(gw.IP)
	resp, err := client.GetExternalAddress()
	if err != nil {
		return nil, &ErrGatewayError{Kind: "natpmp", Err: err}
	}
	ip := net.IP(resp.ExternalIPAddress[:])
	return ip, nil
}

func (natpmpMapper) AddMapping(ctx context.Context, gw Gateway, proto Protocol, internalPort, externalPort int, lease time.Duration) (Mapping, error) {
	client := natpmp.NewClient(gw.IP)
	leaseSeconds := int(lease / time.Second)
	resp, err := client.AddPortMapping(protoName(proto), internalPort, externalPort, leaseSeconds)
	if err != nil {
		return Mapping{}, &ErrGatewayError{Kind: "natpmp", Err: err}
	}
	return Mapping{
		Gateway:      gw,
		Protocol:     proto,
		InternalPort: int(resp.InternalPort),
		ExternalPort: int(resp.MappedExternalPort),
		Lease:        time.Duration(resp.PortMappingLifetimeInSeconds) * time.Second,
	}, nil
}

func (natpmpMapper) RemoveMapping(ctx context.Context, gw Gateway, proto Protocol, externalPort int) error {
	client := natpmp.NewClient(gw.IP)
	// NAT-PMP releases a mapping by requesting lifetime 0.
	_, err := client.AddPortMapping(protoName(proto), externalPort, 0, 0)
	if err != nil {
		return &ErrGatewayError{Kind: "natpmp", Err: err}
	}
	return nil
}

func protoName(p Protocol) string {
	if p == UDP {
		return "udp"
	}
	return "tcp"
}

// defaultGatewayIP guesses the LAN gateway by dialing a UDP "connection"
// to a public address and inspecting which local interface it would
// route through, then assumes .1 on that /24 — the common home-router
// convention NAT-PMP clients rely on when no explicit gateway is
// configured.
func defaultGatewayIP() (net.IP, error) {
	conn, err := net.Dial("udp", "198.51.100.1:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	local := conn.LocalAddr().(*net.UDPAddr).IP.To4()
	if local == nil {
		return nil, ErrNoGatewayFound
	}
	gw := make(net.IP, 4)
	copy(gw, local)
	gw[3] = 1
	return gw, nil
}
