package v2

import (
	"context"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Dialer attempts a direct dial to addr as if it were a fresh outbound
// connection to peer.
type Dialer func(ctx context.Context, peer p2ptypes.PeerID, addr p2ptypes.Multiaddr) error

// Server answers AutoNAT v2 dial requests: it replies synchronously on
// the dial-request stream, then (if it dialed successfully) opens a
// fresh dial-back stream proving it reached the client.
type Server struct {
	cfg      ServerConfig
	host     p2ptypes.StreamOpener
	dial     Dialer
	cooldown *cooldownLimiter
	tracer   EventTracer
	metrics  *metrics.Metrics
}

// NewServer builds a Server. A nil tracer defaults to NoopTracer.
func NewServer(cfg ServerConfig, host p2ptypes.StreamOpener, dial Dialer, m *metrics.Metrics, tracer EventTracer) *Server {
	if tracer == nil {
		tracer = NoopTracer{}
	}
	return &Server{
		cfg:      cfg,
		host:     host,
		dial:     dial,
		cooldown: newCooldownLimiter(cfg.CooldownDuration),
		tracer:   tracer,
		metrics:  m,
	}
}

// Register installs the server's dial-request stream handler on host.
func (s *Server) Register() {
	s.host.SetStreamHandler(DialRequestProtocol, s.handleDialRequest)
}

// Unregister removes the server's dial-request stream handler.
func (s *Server) Unregister() {
	s.host.RemoveStreamHandler(DialRequestProtocol)
}

func (s *Server) handleDialRequest(stream p2ptypes.MuxedStream) {
	defer stream.Close()
	client := stream.Conn().RemotePeer()

	reqBytes, err := readDelimited(stream, s.cfg.DialTimeout)
	if err != nil {
		klog.AutoNAT.Debug().Str("client", client.String()).Err(err).Msg("autonat2 server read failed")
		return
	}
	req, err := DecodeDialRequest(reqBytes, parseMultiaddrBytes)
	if err != nil || req.Address == nil {
		s.reply(stream, client, &DialResponse{Status: DialStatusBadRequest})
		return
	}

	if !s.cooldown.Allow(client) {
		klog.AutoNAT.Debug().Str("client", client.String()).Msg("autonat2 dial-back in cooldown")
		s.reply(stream, client, &DialResponse{Status: DialStatusDialBackError})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	defer cancel()

	if err := s.dial(ctx, client, req.Address); err != nil {
		s.metrics.NATProbe("v2-server", "dial-error")
		s.reply(stream, client, &DialResponse{Status: DialStatusDialError})
		return
	}

	s.reply(stream, client, &DialResponse{Status: DialStatusOK, HasAddr: true, Addr: req.Address})
	s.sendDialBack(ctx, client, req.Nonce)
}

func (s *Server) reply(stream p2ptypes.MuxedStream, client p2ptypes.PeerID, resp *DialResponse) {
	if err := writeDelimited(stream, EncodeDialResponse(resp), s.cfg.DialTimeout); err != nil {
		klog.AutoNAT.Debug().Str("client", client.String()).Err(err).Msg("autonat2 server write failed")
	}
}

func (s *Server) sendDialBack(ctx context.Context, client p2ptypes.PeerID, nonce Nonce) {
	stream, err := s.host.NewStream(ctx, client, DialBackProtocol)
	if err != nil {
		klog.AutoNAT.Debug().Str("client", client.String()).Err(err).Msg("autonat2 dial-back stream open failed")
		return
	}
	defer stream.Close()

	if err := writeDelimited(stream, EncodeDialBack(&DialBack{Nonce: nonce}), s.cfg.DialTimeout); err != nil {
		klog.AutoNAT.Debug().Str("client", client.String()).Err(err).Msg("autonat2 dial-back write failed")
		return
	}
	s.metrics.NATProbe("v2-server", "ok")
}
