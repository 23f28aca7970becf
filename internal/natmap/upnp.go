package natmap

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway2"
	"github.com/koron/go-ssdp"

	klog "github.com/meshnet-go/meshnet/internal/log"
)

// upnpSearchTarget is the IGD service type SSDP searches for.
const upnpSearchTarget = "urn:schemas-upnp-org:service:WANIPConnection:1"

// UPnPDiscoverer finds an Internet Gateway Device by SSDP M-SEARCH and
// records its root description URL; the UPnP mapper resolves the
// WANIPConnection1 client from that URL on each call.
type UPnPDiscoverer struct {
	SearchTimeout time.Duration
}

// NewUPnPDiscoverer builds a discoverer with a 3s SSDP search window.
func NewUPnPDiscoverer() *UPnPDiscoverer {
	return &UPnPDiscoverer{SearchTimeout: 3 * time.Second}
}

// Discover performs an SSDP search and returns a Gateway holding the
// first responding device's root description URL.
func (d *UPnPDiscoverer) Discover(ctx context.Context) (Gateway, error) {
	timeout := int(d.SearchTimeout / time.Second)
	if timeout <= 0 {
		timeout = 3
	}
	services, err := ssdp.Search(upnpSearchTarget, timeout, "")
	if err != nil {
		return Gateway{}, &ErrGatewayError{Kind: "upnp", Err: err}
	}
	if len(services) == 0 {
		return Gateway{}, ErrNoGatewayFound
	}
	loc, err := url.Parse(services[0].Location)
	if err != nil {
		return Gateway{}, &ErrGatewayError{Kind: "upnp", Err: err}
	}
	return Gateway{Kind: GatewayUPnP, ControlURL: loc.String(), ServiceType: upnpSearchTarget}, nil
}

// upnpMapper issues WANIPConnection1 SOAP calls against a discovered
// Gateway's root device description URL.
type upnpMapper struct{}

// NewUPnPMapper constructs a PortMapper speaking UPnP IGD WANIPConnection1.
func NewUPnPMapper() PortMapper { return upnpMapper{} }

func (upnpMapper) client(gw Gateway) (*internetgateway2.WANIPConnection1, error) {
	loc, err := url.Parse(gw.ControlURL)
	if err != nil {
		return nil, &ErrGatewayError{Kind: "upnp", Err: err}
	}
	clients, err := internetgateway2.NewWANIPConnection1ClientsByURL(loc)
	if err != nil {
		return nil, &ErrGatewayError{Kind: "upnp", Err: err}
	}
	if len(clients) == 0 {
		return nil, ErrNoGatewayFound
	}
	return clients[0], nil
}

func (m upnpMapper) ExternalAddress(ctx context.Context, gw Gateway) (net.IP, error) {
	cl, err := m.client(gw)
	if err != nil {
		return nil, err
	}
	ipStr, err := cl.GetExternalIPAddress()
	if err != nil {
		return nil, &ErrGatewayError{Kind: "upnp", Err: err}
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, &ErrGatewayError{Kind: "upnp", Err: ErrMappingRefused}
	}
	return ip, nil
}

func (m upnpMapper) AddMapping(ctx context.Context, gw Gateway, proto Protocol, internalPort, externalPort int, lease time.Duration) (Mapping, error) {
	cl, err := m.client(gw)
	if err != nil {
		return Mapping{}, err
	}
	internalIP, err := localIPFor(gw)
	if err != nil {
		return Mapping{}, err
	}
	leaseSeconds := uint32(lease / time.Second)
	err = cl.AddPortMapping("", uint16(externalPort), proto.String(), uint16(internalPort), internalIP.String(), true, "meshnet", leaseSeconds)
	if err != nil {
		return Mapping{}, &ErrGatewayError{Kind: "upnp", Err: err}
	}
	extIP, err := m.ExternalAddress(ctx, gw)
	if err != nil {
		klog.NATMap.Debug().Err(err).Msg("upnp mapping succeeded but external IP lookup failed")
	}
	return Mapping{
		Gateway:      gw,
		Protocol:     proto,
		InternalPort: internalPort,
		ExternalPort: externalPort,
		ExternalIP:   extIP,
		Lease:        lease,
	}, nil
}

func (m upnpMapper) RemoveMapping(ctx context.Context, gw Gateway, proto Protocol, externalPort int) error {
	cl, err := m.client(gw)
	if err != nil {
		return err
	}
	if err := cl.DeletePortMapping("", uint16(externalPort), proto.String()); err != nil {
		return &ErrGatewayError{Kind: "upnp", Err: err}
	}
	return nil
}

// localIPFor picks the local interface address used to reach gw's
// control URL, which UPnP needs as the mapping's internal client IP.
func localIPFor(gw Gateway) (net.IP, error) {
	loc, err := url.Parse(gw.ControlURL)
	if err != nil {
		return nil, &ErrGatewayError{Kind: "upnp", Err: err}
	}
	conn, err := net.Dial("udp", loc.Hostname()+":80")
	if err != nil {
		return nil, &ErrGatewayError{Kind: "upnp", Err: err}
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
