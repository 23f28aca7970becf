// Package natmap implements NAT port mapping over UPnP IGD, NAT-PMP
// and PCP, trying each gateway protocol in turn and exposing a single
// Mapper (gateway discovery, external address, request/release mapping)
// to the rest of the mesh node.
package natmap

import (
	"context"
	"net"
	"time"
)

// Protocol selects a transport protocol for a requested mapping.
type Protocol int

const (
	TCP Protocol = iota
	UDP
)

func (p Protocol) String() string {
	if p == UDP {
		return "UDP"
	}
	return "TCP"
}

// GatewayKind tags which concrete NAT traversal protocol a discovered
// Gateway speaks.
type GatewayKind int

const (
	GatewayUPnP GatewayKind = iota
	GatewayNATPMP
	GatewayPCP
)

// Gateway is a tagged union over the three supported NAT gateway
// protocols, each carrying only the fields its dialing needs.
type Gateway struct {
	Kind GatewayKind

	// UPnP
	ControlURL  string
	ServiceType string

	// NAT-PMP / PCP
	IP net.IP
}

func (k GatewayKind) String() string {
	switch k {
	case GatewayUPnP:
		return "upnp"
	case GatewayNATPMP:
		return "natpmp"
	case GatewayPCP:
		return "pcp"
	default:
		return "unknown"
	}
}

// Mapping is an active external port mapping.
type Mapping struct {
	Gateway       Gateway
	Protocol      Protocol
	InternalPort  int
	ExternalPort  int
	ExternalIP    net.IP
	Lease         time.Duration
	obtainedAt    time.Time
}

// GatewayDiscoverer finds a NAT gateway speaking one protocol.
type GatewayDiscoverer interface {
	Discover(ctx context.Context) (Gateway, error)
}

// PortMapper requests/releases an external port mapping and reports
// the gateway's external IP, for one concrete gateway protocol.
type PortMapper interface {
	ExternalAddress(ctx context.Context, gw Gateway) (net.IP, error)
	AddMapping(ctx context.Context, gw Gateway, proto Protocol, internalPort, externalPort int, lease time.Duration) (Mapping, error)
	RemoveMapping(ctx context.Context, gw Gateway, proto Protocol, externalPort int) error
}
