package natmap

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"time"
)

// PCP implements just enough of RFC 6887 (Port Control Protocol,
// version 2) to request and release a MAP mapping; no library in this
// project's dependency set speaks PCP, so this is a direct
// from-the-RFC encoding over a plain UDP socket.
const (
	pcpVersion      = 2
	pcpOpcodeMap    = 1
	pcpResultSuccess = 0
	pcpServerPort   = 5351
	pcpRequestSize  = 60
)

// PCPDiscoverer reuses the NAT-PMP default-gateway guess (PCP and
// NAT-PMP servers run on the same router, port 5351) and confirms the
// gateway answers a PCP MAP request.
type PCPDiscoverer struct{}

// NewPCPDiscoverer constructs a discoverer.
func NewPCPDiscoverer() *PCPDiscoverer { return &PCPDiscoverer{} }

// Discover finds the default gateway and confirms it answers PCP.
func (d *PCPDiscoverer) Discover(ctx context.Context) (Gateway, error) {
	gwIP, err := defaultGatewayIP()
	if err != nil {
		return Gateway{}, ErrNoGatewayFound
	}
	m := pcpMapper{}
	if _, err := m.ExternalAddress(ctx, Gateway{Kind: GatewayPCP, IP: gwIP}); err != nil {
		return Gateway{}, &ErrGatewayError{Kind: "pcp", Err: err}
	}
	return Gateway{Kind: GatewayPCP, IP: gwIP}, nil
}

type pcpMapper struct{}

// NewPCPMapper constructs a PortMapper speaking RFC 6887 PCP directly.
func NewPCPMapper() PortMapper { return pcpMapper{} }

// ExternalAddress issues a zero-lifetime MAP request (a PCP "query",
// per RFC 6887 §11.1) purely to read back the assigned external
// address.
func (m pcpMapper) ExternalAddress(ctx context.Context, gw Gateway) (net.IP, error) {
	mapping, err := m.request(gw, TCP, 0, 0, 0, [12]byte{})
	if err != nil {
		return nil, err
	}
	return mapping.ExternalIP, nil
}

func (m pcpMapper) AddMapping(ctx context.Context, gw Gateway, proto Protocol, internalPort, externalPort int, lease time.Duration) (Mapping, error) {
	return m.request(gw, proto, internalPort, externalPort, lease, [12]byte{})
}

func (m pcpMapper) RemoveMapping(ctx context.Context, gw Gateway, proto Protocol, externalPort int) error {
	_, err := m.request(gw, proto, externalPort, externalPort, 0, [12]byte{})
	return err
}

// request builds and sends one PCP MAP request per RFC 6887 §11.1/19.1
// and decodes the MAP response per §11.1/19.2. lease==0 is used both
// for the external-address query and for releasing a mapping.
func (m pcpMapper) request(gw Gateway, proto Protocol, internalPort, externalPort int, lease time.Duration, nonce [12]byte) (Mapping, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(gw.IP.String(), strconv.Itoa(pcpServerPort)))
	if err != nil {
		return Mapping{}, &ErrGatewayError{Kind: "pcp", Err: err}
	}
	defer conn.Close()

	localIP, err := localInterfaceIP(conn)
	if err != nil {
		return Mapping{}, &ErrGatewayError{Kind: "pcp", Err: err}
	}

	req := make([]byte, pcpRequestSize)
	req[0] = pcpVersion
	req[1] = pcpOpcodeMap
	binary.BigEndian.PutUint32(req[4:8], uint32(lease/time.Second))
	copy(req[8:24], localIP.To16())
	copy(req[24:36], nonce[:])
	req[36] = protoNumber(proto)
	binary.BigEndian.PutUint16(req[40:42], uint16(internalPort))
	binary.BigEndian.PutUint16(req[42:44], uint16(externalPort))
	// req[44:60] external-address hint left as the unspecified address
	// (all zero), asking the server to assign one.

	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(req); err != nil {
		return Mapping{}, &ErrGatewayError{Kind: "pcp", Err: err}
	}

	resp := make([]byte, 1100)
	n, err := conn.Read(resp)
	if err != nil {
		return Mapping{}, &ErrGatewayError{Kind: "pcp", Err: err}
	}
	if n < 60 {
		return Mapping{}, &ErrGatewayError{Kind: "pcp", Err: ErrMappingRefused}
	}
	resultCode := resp[3]
	if resultCode != pcpResultSuccess {
		return Mapping{}, &ErrGatewayError{Kind: "pcp", Err: ErrMappingRefused}
	}
	lifetime := binary.BigEndian.Uint32(resp[4:8])
	assignedInternal := binary.BigEndian.Uint16(resp[40:42])
	assignedExternal := binary.BigEndian.Uint16(resp[42:44])
	externalIP := net.IP(resp[44:60])

	return Mapping{
		Gateway:      gw,
		Protocol:     proto,
		InternalPort: int(assignedInternal),
		ExternalPort: int(assignedExternal),
		ExternalIP:   externalIP,
		Lease:        time.Duration(lifetime) * time.Second,
	}, nil
}

func protoNumber(p Protocol) byte {
	if p == UDP {
		return 17
	}
	return 6
}

func localInterfaceIP(conn net.Conn) (net.IP, error) {
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		return nil, ErrUnsupportedGateway
	}
	addr, ok := udpConn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, ErrUnsupportedGateway
	}
	return addr.IP, nil
}

