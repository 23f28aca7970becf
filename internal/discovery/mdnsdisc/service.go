// Package mdnsdisc adapts libp2p/zeroconf/v2 mDNS advertise/browse to
// the p2ptypes.DiscoveryService capability used throughout the
// discovery substrate.
package mdnsdisc

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/libp2p/zeroconf/v2"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// ServiceType is the default mDNS service type this node advertises
// itself under.
const ServiceType = "_p2p._udp"

// Config names the identity fields embedded in this node's TXT record.
type Config struct {
	PeerID       p2ptypes.PeerID
	PublicKey    p2ptypes.PublicKey
	AgentVersion string
	Protocols    []p2ptypes.ProtocolID
	Port         int
}

// Service advertises this node over mDNS and resolves peers
// advertising the same service type on the local network.
type Service struct {
	cfg    Config
	server *zeroconf.Server
}

// New constructs a Service; call Advertise to start the mDNS
// responder.
func New(cfg Config) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) txtRecords(addrs []string) []string {
	var pkB64 string
	if s.cfg.PublicKey != nil {
		if raw, err := crypto.MarshalPublicKey(s.cfg.PublicKey); err == nil {
			pkB64 = base64.StdEncoding.EncodeToString(raw)
		}
	}
	protoNames := make([]string, len(s.cfg.Protocols))
	for i, p := range s.cfg.Protocols {
		protoNames[i] = string(p)
	}
	txt := []string{
		"pk=" + pkB64,
		"agent=" + s.cfg.AgentVersion,
		"protos=" + strings.Join(protoNames, ","),
	}
	for _, a := range addrs {
		txt = append(txt, "dnsaddr="+a+"/p2p/"+s.cfg.PeerID.String())
	}
	return txt
}

// Advertise starts (or restarts) the mDNS responder; ns is used as the
// instance name. opts.TTL is ignored — mDNS responders run until
// stopped, not until a TTL expires, so a fixed rebroadcast interval is
// reported instead.
func (s *Service) Advertise(ctx context.Context, ns string, opts ...p2ptypes.DiscoveryOption) (time.Duration, error) {
	o := p2ptypes.Apply(opts)
	_ = o
	if s.server != nil {
		s.server.Shutdown()
	}
	server, err := zeroconf.Register(ns, ServiceType, "local.", s.cfg.Port, s.txtRecords(nil), nil)
	if err != nil {
		return 0, err
	}
	s.server = server
	return time.Minute, nil
}

// FindPeers browses for ServiceType instances on the local network,
// decoding each entry's dnsaddr TXT records into an AddrInfo.
func (s *Service) FindPeers(ctx context.Context, ns string, opts ...p2ptypes.DiscoveryOption) (<-chan p2ptypes.AddrInfo, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	entries := make(chan *zeroconf.ServiceEntry, 16)
	out := make(chan p2ptypes.AddrInfo, 16)

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, err
	}
	go func() {
		defer close(out)
		for entry := range entries {
			info, ok := parseEntry(entry)
			if !ok {
				continue
			}
			select {
			case out <- info:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Stop shuts down the mDNS responder, if running.
func (s *Service) Stop() {
	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
	}
}

// parseEntry reconstructs an AddrInfo from an entry's dnsaddr= TXT
// records (which carry the full multiaddr including /p2p/<peerID>).
// An entry with no parseable dnsaddr record is skipped.
func parseEntry(entry *zeroconf.ServiceEntry) (p2ptypes.AddrInfo, bool) {
	var pid p2ptypes.PeerID
	var addrs []p2ptypes.Multiaddr
	havePeerID := false

	for _, txt := range entry.Text {
		if !strings.HasPrefix(txt, "dnsaddr=") {
			continue
		}
		full := strings.TrimPrefix(txt, "dnsaddr=")
		maddr, err := ma.NewMultiaddr(full)
		if err != nil {
			continue
		}
		transport, idStr := ma.SplitLast(maddr)
		if idStr == nil {
			addrs = append(addrs, maddr)
			continue
		}
		idBytes := idStr.RawValue()
		id, err := peer.IDFromBytes(idBytes)
		if err != nil {
			continue
		}
		pid = id
		havePeerID = true
		addrs = append(addrs, transport)
	}
	if !havePeerID {
		klog.Discovery.Debug().Str("instance", entry.Instance).Msg("mdns entry missing dnsaddr peer id")
		return p2ptypes.AddrInfo{}, false
	}
	return p2ptypes.AddrInfo{ID: pid, Addrs: addrs}, true
}
