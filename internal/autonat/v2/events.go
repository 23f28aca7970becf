package v2

import (
	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// EventTracer observes the client and server state machines.
type EventTracer interface {
	DialRequestSent(server p2ptypes.PeerID, addr p2ptypes.Multiaddr)
	DialResponseReceived(server p2ptypes.PeerID, status DialStatus)
	DialBackVerified(server p2ptypes.PeerID)
	DialBackRejected(server p2ptypes.PeerID, err error)
	DialAttempted(client p2ptypes.PeerID, addr p2ptypes.Multiaddr, status DialStatus)
}

// NoopTracer discards every event.
type NoopTracer struct{}

func (NoopTracer) DialRequestSent(p2ptypes.PeerID, p2ptypes.Multiaddr)      {}
func (NoopTracer) DialResponseReceived(p2ptypes.PeerID, DialStatus)        {}
func (NoopTracer) DialBackVerified(p2ptypes.PeerID)                        {}
func (NoopTracer) DialBackRejected(p2ptypes.PeerID, error)                 {}
func (NoopTracer) DialAttempted(p2ptypes.PeerID, p2ptypes.Multiaddr, DialStatus) {}

// LogTracer emits every event through internal/log.
type LogTracer struct{}

func (LogTracer) DialRequestSent(server p2ptypes.PeerID, addr p2ptypes.Multiaddr) {
	klog.AutoNAT.Debug().Str("server", server.String()).Str("addr", addr.String()).Msg("DIAL_REQUEST_SENT")
}

func (LogTracer) DialResponseReceived(server p2ptypes.PeerID, status DialStatus) {
	klog.AutoNAT.Debug().Str("server", server.String()).Str("status", status.String()).Msg("DIAL_RESPONSE_RECEIVED")
}

func (LogTracer) DialBackVerified(server p2ptypes.PeerID) {
	klog.AutoNAT.Info().Str("server", server.String()).Msg("DIAL_BACK_VERIFIED")
}

func (LogTracer) DialBackRejected(server p2ptypes.PeerID, err error) {
	klog.AutoNAT.Warn().Str("server", server.String()).Err(err).Msg("DIAL_BACK_REJECTED")
}

func (LogTracer) DialAttempted(client p2ptypes.PeerID, addr p2ptypes.Multiaddr, status DialStatus) {
	klog.AutoNAT.Debug().Str("client", client.String()).Str("addr", addr.String()).Str("status", status.String()).Msg("DIAL_ATTEMPTED")
}
