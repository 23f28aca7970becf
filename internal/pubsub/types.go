// Package pubsub implements a GossipSub v1.1 mesh router: topic
// subscriptions, a randomized overlay mesh per topic, message/seen
// caches, peer scoring, and the heartbeat that maintains mesh health.
package pubsub

import (
	"crypto/sha256"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Topic names a pubsub topic.
type Topic string

// MessageID is the first 20 bytes of SHA-256 over the message's
// identifying content. ComputeMessageID is deterministic: same input
// bytes always yield the same ID.
type MessageID [20]byte

// ComputeMessageID derives a MessageID from arbitrary identifying bytes
// (by default source‖seqno, see defaultMsgIDFn in router.go).
func ComputeMessageID(data []byte) MessageID {
	sum := sha256.Sum256(data)
	var id MessageID
	copy(id[:], sum[:20])
	return id
}

func (id MessageID) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(id)*2)
	for i, b := range id {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0xf]
	}
	return string(buf)
}

// Direction records whether a connection to a peer was dialed locally
// (outbound) or accepted (inbound).
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionInbound
	DirectionOutbound
)

// Message is the decoded form of a single GossipSub message.
type Message struct {
	Source    p2ptypes.PeerID // may be zero-value if anonymous
	HasSource bool
	Data      []byte
	Seqno     [8]byte
	Topic     Topic
	Signature []byte
	Key       []byte

	// ReceivedFrom is the peer the message arrived from; unset for
	// locally-published messages.
	ReceivedFrom p2ptypes.PeerID
}

// seqCounter is a process-wide monotonic counter backing the default
// 8-byte sequence number assignment for locally published messages.
var seqCounter uint64

// nextSeqno returns a monotonically increasing 8-byte big-endian
// sequence number. Safe for concurrent callers.
func nextSeqno() [8]byte {
	n := atomic.AddUint64(&seqCounter, 1)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b
}

// ValidationResult is the outcome of a topic validator.
type ValidationResult int

const (
	ValidationAccept ValidationResult = iota
	ValidationReject
	ValidationIgnore
)

// Validator inspects one message before it is cached and forwarded.
type Validator func(from p2ptypes.PeerID, msg *Message) ValidationResult

// RPC is one protocol exchange: a batch of subscription changes, a
// batch of messages, and an optional control batch.
type RPC struct {
	Subscriptions []SubOpt
	Messages      []*Message
	Control       *ControlMessage
}

// SubOpt records one subscribe/unsubscribe announcement.
type SubOpt struct {
	Topic     Topic
	Subscribe bool
}

// ControlMessage bundles the five GossipSub control message kinds.
type ControlMessage struct {
	Graft     []ControlGraft
	Prune     []ControlPrune
	IHave     []ControlIHave
	IWant     []ControlIWant
	IDontWant []ControlIDontWant
}

func (c *ControlMessage) empty() bool {
	return c == nil || (len(c.Graft) == 0 && len(c.Prune) == 0 &&
		len(c.IHave) == 0 && len(c.IWant) == 0 && len(c.IDontWant) == 0)
}

type ControlGraft struct {
	Topic Topic
}

type ControlPrune struct {
	Topic      Topic
	Backoff    time.Duration // 0 means "use default"
	PeerRecord []PeerExchangeHint
}

// PeerExchangeHint is a peer learned via a PRUNE's peer-exchange field.
type PeerExchangeHint struct {
	PeerID  p2ptypes.PeerID
	Signed  *p2ptypes.Envelope // optional signed peer record
}

type ControlIHave struct {
	Topic Topic
	IDs   []MessageID
}

type ControlIWant struct {
	IDs []MessageID
}

type ControlIDontWant struct {
	IDs []MessageID
}
