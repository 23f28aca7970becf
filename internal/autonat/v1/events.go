package v1

import (
	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// EventTracer observes the client and server state machines. All
// methods must return promptly; events are emitted inline.
type EventTracer interface {
	ProbeStarted(server p2ptypes.PeerID)
	ProbeCompleted(server p2ptypes.PeerID, status Status)
	StatusChanged(old, new Reachability)
	DialBackRequested(client p2ptypes.PeerID, addr p2ptypes.Multiaddr)
	DialBackCompleted(client p2ptypes.PeerID, status Status)
}

// NoopTracer discards every event.
type NoopTracer struct{}

func (NoopTracer) ProbeStarted(p2ptypes.PeerID)                          {}
func (NoopTracer) ProbeCompleted(p2ptypes.PeerID, Status)                {}
func (NoopTracer) StatusChanged(Reachability, Reachability)              {}
func (NoopTracer) DialBackRequested(p2ptypes.PeerID, p2ptypes.Multiaddr) {}
func (NoopTracer) DialBackCompleted(p2ptypes.PeerID, Status)             {}

// LogTracer emits every event through internal/log at debug/info level.
type LogTracer struct{}

func (LogTracer) ProbeStarted(server p2ptypes.PeerID) {
	klog.AutoNAT.Debug().Str("server", server.String()).Msg("PROBE_STARTED")
}

func (LogTracer) ProbeCompleted(server p2ptypes.PeerID, status Status) {
	klog.AutoNAT.Debug().Str("server", server.String()).Str("status", status.String()).Msg("PROBE_COMPLETED")
}

func (LogTracer) StatusChanged(old, new Reachability) {
	klog.AutoNAT.Info().Int("old", int(old)).Int("new", int(new)).Msg("STATUS_CHANGED")
}

func (LogTracer) DialBackRequested(client p2ptypes.PeerID, addr p2ptypes.Multiaddr) {
	klog.AutoNAT.Debug().Str("client", client.String()).Str("addr", addr.String()).Msg("DIAL_BACK_REQUESTED")
}

func (LogTracer) DialBackCompleted(client p2ptypes.PeerID, status Status) {
	klog.AutoNAT.Debug().Str("client", client.String()).Str("status", status.String()).Msg("DIAL_BACK_COMPLETED")
}
