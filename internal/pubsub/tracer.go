package pubsub

import (
	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// EventTracer observes router-internal events for debugging and
// external analysis. All methods must return promptly; tracers run
// inline on the router's processing path.
type EventTracer interface {
	RejectMessage(from p2ptypes.PeerID, msg *Message, reason string)
	DuplicateMessage(from p2ptypes.PeerID, msg *Message)
	DeliverMessage(msg *Message)
	Graft(peer p2ptypes.PeerID, topic Topic)
	Prune(peer p2ptypes.PeerID, topic Topic)
	Join(topic Topic)
	Leave(topic Topic)
}

// NoopTracer discards every event.
type NoopTracer struct{}

func (NoopTracer) RejectMessage(p2ptypes.PeerID, *Message, string) {}
func (NoopTracer) DuplicateMessage(p2ptypes.PeerID, *Message)      {}
func (NoopTracer) DeliverMessage(*Message)                        {}
func (NoopTracer) Graft(p2ptypes.PeerID, Topic)                   {}
func (NoopTracer) Prune(p2ptypes.PeerID, Topic)                   {}
func (NoopTracer) Join(Topic)                                     {}
func (NoopTracer) Leave(Topic)                                    {}

// LogTracer emits every event through internal/log at debug level.
type LogTracer struct{}

func (LogTracer) RejectMessage(from p2ptypes.PeerID, msg *Message, reason string) {
	klog.PubSub.Debug().Str("peer", from.String()).Str("topic", string(msg.Topic)).Str("reason", reason).Msg("REJECT_MESSAGE")
}

func (LogTracer) DuplicateMessage(from p2ptypes.PeerID, msg *Message) {
	klog.PubSub.Debug().Str("peer", from.String()).Str("topic", string(msg.Topic)).Msg("DUPLICATE_MESSAGE")
}

func (LogTracer) DeliverMessage(msg *Message) {
	klog.PubSub.Debug().Str("topic", string(msg.Topic)).Msg("DELIVER_MESSAGE")
}

func (LogTracer) Graft(peer p2ptypes.PeerID, topic Topic) {
	klog.PubSub.Debug().Str("peer", peer.String()).Str("topic", string(topic)).Msg("GRAFT")
}

func (LogTracer) Prune(peer p2ptypes.PeerID, topic Topic) {
	klog.PubSub.Debug().Str("peer", peer.String()).Str("topic", string(topic)).Msg("PRUNE")
}

func (LogTracer) Join(topic Topic) {
	klog.PubSub.Debug().Str("topic", string(topic)).Msg("JOIN")
}

func (LogTracer) Leave(topic Topic) {
	klog.PubSub.Debug().Str("topic", string(topic)).Msg("LEAVE")
}
