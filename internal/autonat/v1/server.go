package v1

import (
	"context"
	"time"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Dialer attempts a direct dial to addr as if it were a fresh outbound
// connection to peer, returning the address that succeeded.
type Dialer func(ctx context.Context, peer p2ptypes.PeerID, addrs []p2ptypes.Multiaddr) (p2ptypes.Multiaddr, error)

// ServerConfig tunes dial-back behavior.
type ServerConfig struct {
	DialTimeout      time.Duration
	AllowSelfDial    bool
	RateLimiterConfig RateLimiterConfig
}

// DefaultServerConfig returns conservative defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{DialTimeout: defaultDialTimeout, RateLimiterConfig: DefaultRateLimiterConfig()}
}

// Server answers AutoNAT v1 dial requests from other peers, dialing
// them back and reporting what happened.
type Server struct {
	cfg     ServerConfig
	host    p2ptypes.StreamOpener
	dial    Dialer
	limiter *RateLimiter
	tracer  EventTracer
	metrics *metrics.Metrics
}

// NewServer builds a Server. A nil tracer defaults to NoopTracer.
func NewServer(cfg ServerConfig, host p2ptypes.StreamOpener, dial Dialer, m *metrics.Metrics, tracer EventTracer) *Server {
	if tracer == nil {
		tracer = NoopTracer{}
	}
	return &Server{
		cfg:     cfg,
		host:    host,
		dial:    dial,
		limiter: NewRateLimiter(cfg.RateLimiterConfig),
		tracer:  tracer,
		metrics: m,
	}
}

// Register installs the server's stream handler on host.
func (s *Server) Register() {
	s.host.SetStreamHandler(ProtocolID, s.handleStream)
}

// Unregister removes the server's stream handler.
func (s *Server) Unregister() {
	s.host.RemoveStreamHandler(ProtocolID)
}

func (s *Server) handleStream(stream p2ptypes.MuxedStream) {
	defer stream.Close()
	client := stream.Conn().RemotePeer()

	reqBytes, err := readDelimited(stream, s.cfg.DialTimeout)
	if err != nil {
		klog.AutoNAT.Debug().Str("client", client.String()).Err(err).Msg("autonat server read failed")
		return
	}
	req, err := DecodeMessage(reqBytes, parseMultiaddrBytes)
	if err != nil || req.Dial == nil {
		s.reply(stream, client, &DialResponse{Status: StatusBadRequest, StatusText: "malformed dial request"})
		return
	}

	resp := s.handleDial(stream.Conn(), client, req.Dial)
	s.reply(stream, client, resp)
}

func (s *Server) reply(stream p2ptypes.MuxedStream, client p2ptypes.PeerID, resp *DialResponse) {
	msg := &Message{Type: TypeDialResponse, DialResponse: resp}
	if err := writeDelimited(stream, EncodeMessage(msg), s.cfg.DialTimeout); err != nil {
		klog.AutoNAT.Debug().Str("client", client.String()).Err(err).Msg("autonat server write failed")
	}
}

// handleDial filters the client's claimed addresses down to those
// matching its observed connection IP (anti-amplification: spec.md's
// requirement that a server never dial an address that isn't
// plausibly the client's own), enforces rate limits, then attempts the
// dial-back.
func (s *Server) handleDial(conn p2ptypes.Conn, client p2ptypes.PeerID, dial *Dial) *DialResponse {
	if dial.Peer.HasID && dial.Peer.ID != client {
		return &DialResponse{Status: StatusBadRequest, StatusText: "peer id mismatch"}
	}

	candidates := filterByObservedIP(conn.RemoteMultiaddr(), dial.Peer.Addresses)
	if len(candidates) == 0 {
		s.tracer.DialBackCompleted(client, StatusDialRefused)
		return &DialResponse{Status: StatusDialRefused, StatusText: "no addresses match observed IP"}
	}

	ok, reason := s.limiter.Allow(client)
	if !ok {
		klog.AutoNAT.Debug().Str("client", client.String()).Str("reason", string(reason)).Msg("autonat dial-back rate limited")
		return &DialResponse{Status: StatusDialRefused, StatusText: "rate limited: " + string(reason)}
	}
	defer s.limiter.Release(client)

	for _, addr := range candidates {
		s.tracer.DialBackRequested(client, addr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	defer cancel()

	addr, err := s.dial(ctx, client, candidates)
	if err != nil {
		s.tracer.DialBackCompleted(client, StatusDialError)
		s.metrics.NATProbe("v1-server", "dial-error")
		return &DialResponse{Status: StatusDialError, StatusText: err.Error()}
	}

	s.tracer.DialBackCompleted(client, StatusOK)
	s.metrics.NATProbe("v1-server", "ok")
	return &DialResponse{Status: StatusOK, HasAddr: true, Addr: addr}
}

// filterByObservedIP keeps only addresses from candidates whose host
// component matches the IP the stream actually arrived from.
func filterByObservedIP(observed p2ptypes.Multiaddr, candidates []p2ptypes.Multiaddr) []p2ptypes.Multiaddr {
	observedIP, ok := extractIP(observed)
	if !ok {
		return nil
	}
	var out []p2ptypes.Multiaddr
	for _, c := range candidates {
		if ip, ok := extractIP(c); ok && ip == observedIP {
			out = append(out, c)
		}
	}
	return out
}
