package pubsub

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Wire field numbers, matching the GossipSub RPC protobuf shape from
// spec §6 (subscriptions=1, publish=2, control=3; message
// from/data/seqno/topic/signature/key = 1..6; control
// ihave/iwant/graft/prune/idontwant = 1..5).
const (
	fieldRPCSubscriptions = 1
	fieldRPCPublish       = 2
	fieldRPCControl       = 3

	fieldSubSubscribe = 1
	fieldSubTopic     = 2

	fieldMsgFrom      = 1
	fieldMsgData      = 2
	fieldMsgSeqno     = 3
	fieldMsgTopic     = 4
	fieldMsgSignature = 5
	fieldMsgKey       = 6

	fieldCtrlIHave     = 1
	fieldCtrlIWant     = 2
	fieldCtrlGraft     = 3
	fieldCtrlPrune     = 4
	fieldCtrlIDontWant = 5

	fieldIHaveTopic = 1
	fieldIHaveIDs   = 2

	fieldIWantIDs = 1

	fieldGraftTopic = 1

	fieldPruneTopic   = 1
	fieldPrunePeers   = 2
	fieldPruneBackoff = 3

	fieldIDontWantIDs = 1
)

// EncodeRPC serializes an RPC to its protobuf wire form.
func EncodeRPC(rpc *RPC) []byte {
	var b []byte
	for _, s := range rpc.Subscriptions {
		var sb []byte
		sb = protowire.AppendTag(sb, fieldSubSubscribe, protowire.VarintType)
		sb = protowire.AppendVarint(sb, boolToVarint(s.Subscribe))
		sb = protowire.AppendTag(sb, fieldSubTopic, protowire.BytesType)
		sb = protowire.AppendBytes(sb, []byte(s.Topic))
		b = protowire.AppendTag(b, fieldRPCSubscriptions, protowire.BytesType)
		b = protowire.AppendBytes(b, sb)
	}
	for _, m := range rpc.Messages {
		mb := encodeMessage(m)
		b = protowire.AppendTag(b, fieldRPCPublish, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}
	if rpc.Control != nil && !rpc.Control.empty() {
		cb := encodeControl(rpc.Control)
		b = protowire.AppendTag(b, fieldRPCControl, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	return b
}

func boolToVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// encodeMessageSigningBytes returns the protobuf encoding of m with
// signature and key cleared, used as the data signed/verified per
// spec §6 ("signing data is libp2p-pubsub: ∥ protobuf(message without
// sig/key)").
func encodeMessageSigningBytes(m *Message) []byte {
	clean := *m
	clean.Signature = nil
	clean.Key = nil
	return encodeMessage(&clean)
}

func encodeMessage(m *Message) []byte {
	var b []byte
	if m.HasSource {
		b = protowire.AppendTag(b, fieldMsgFrom, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(m.Source))
	}
	b = protowire.AppendTag(b, fieldMsgData, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	b = protowire.AppendTag(b, fieldMsgSeqno, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Seqno[:])
	b = protowire.AppendTag(b, fieldMsgTopic, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(m.Topic))
	if len(m.Signature) > 0 {
		b = protowire.AppendTag(b, fieldMsgSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Signature)
	}
	if len(m.Key) > 0 {
		b = protowire.AppendTag(b, fieldMsgKey, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Key)
	}
	return b
}

func encodeControl(c *ControlMessage) []byte {
	var b []byte
	for _, ih := range c.IHave {
		var ib []byte
		ib = protowire.AppendTag(ib, fieldIHaveTopic, protowire.BytesType)
		ib = protowire.AppendBytes(ib, []byte(ih.Topic))
		for _, id := range ih.IDs {
			ib = protowire.AppendTag(ib, fieldIHaveIDs, protowire.BytesType)
			ib = protowire.AppendBytes(ib, id[:])
		}
		b = protowire.AppendTag(b, fieldCtrlIHave, protowire.BytesType)
		b = protowire.AppendBytes(b, ib)
	}
	for _, iw := range c.IWant {
		var ib []byte
		for _, id := range iw.IDs {
			ib = protowire.AppendTag(ib, fieldIWantIDs, protowire.BytesType)
			ib = protowire.AppendBytes(ib, id[:])
		}
		b = protowire.AppendTag(b, fieldCtrlIWant, protowire.BytesType)
		b = protowire.AppendBytes(b, ib)
	}
	for _, g := range c.Graft {
		var gb []byte
		gb = protowire.AppendTag(gb, fieldGraftTopic, protowire.BytesType)
		gb = protowire.AppendBytes(gb, []byte(g.Topic))
		b = protowire.AppendTag(b, fieldCtrlGraft, protowire.BytesType)
		b = protowire.AppendBytes(b, gb)
	}
	for _, p := range c.Prune {
		var pb []byte
		pb = protowire.AppendTag(pb, fieldPruneTopic, protowire.BytesType)
		pb = protowire.AppendBytes(pb, []byte(p.Topic))
		if p.Backoff > 0 {
			pb = protowire.AppendTag(pb, fieldPruneBackoff, protowire.VarintType)
			pb = protowire.AppendVarint(pb, uint64(p.Backoff.Seconds()))
		}
		for _, hint := range p.PeerRecord {
			var hb []byte
			hb = protowire.AppendTag(hb, 1, protowire.BytesType)
			hb = protowire.AppendBytes(hb, []byte(hint.PeerID))
			pb = protowire.AppendTag(pb, fieldPrunePeers, protowire.BytesType)
			pb = protowire.AppendBytes(pb, hb)
		}
		b = protowire.AppendTag(b, fieldCtrlPrune, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	for _, idw := range c.IDontWant {
		var ib []byte
		for _, id := range idw.IDs {
			ib = protowire.AppendTag(ib, fieldIDontWantIDs, protowire.BytesType)
			ib = protowire.AppendBytes(ib, id[:])
		}
		b = protowire.AppendTag(b, fieldCtrlIDontWant, protowire.BytesType)
		b = protowire.AppendBytes(b, ib)
	}
	return b
}

// DecodeRPC parses the protobuf wire form of an RPC. Unknown top-level
// and nested fields are skipped rather than rejected, per the
// unknown-field-skipping round-trip law.
func DecodeRPC(data []byte) (*RPC, error) {
	rpc := &RPC{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag", ErrRPCDecodeFailure)
		}
		data = data[n:]

		switch num {
		case fieldRPCSubscriptions:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: subscriptions", ErrRPCDecodeFailure)
			}
			data = data[m:]
			sub, err := decodeSubOpt(v)
			if err != nil {
				return nil, err
			}
			rpc.Subscriptions = append(rpc.Subscriptions, sub)
		case fieldRPCPublish:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: publish", ErrRPCDecodeFailure)
			}
			data = data[m:]
			msg, err := decodeMessage(v)
			if err != nil {
				return nil, err
			}
			rpc.Messages = append(rpc.Messages, msg)
		case fieldRPCControl:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: control", ErrRPCDecodeFailure)
			}
			data = data[m:]
			ctrl, err := decodeControl(v)
			if err != nil {
				return nil, err
			}
			rpc.Control = ctrl
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("%w: unknown field", ErrRPCDecodeFailure)
			}
			data = data[m:]
		}
	}
	return rpc, nil
}

func decodeSubOpt(data []byte) (SubOpt, error) {
	var s SubOpt
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, fmt.Errorf("%w: suboption tag", ErrRPCDecodeFailure)
		}
		data = data[n:]
		switch num {
		case fieldSubSubscribe:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return s, fmt.Errorf("%w: subscribe", ErrRPCDecodeFailure)
			}
			data = data[m:]
			s.Subscribe = v != 0
		case fieldSubTopic:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return s, fmt.Errorf("%w: topic", ErrRPCDecodeFailure)
			}
			data = data[m:]
			s.Topic = Topic(v)
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return s, fmt.Errorf("%w: suboption unknown field", ErrRPCDecodeFailure)
			}
			data = data[m:]
		}
	}
	return s, nil
}

func decodeMessage(data []byte) (*Message, error) {
	m := &Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: message tag", ErrRPCDecodeFailure)
		}
		data = data[n:]
		switch num {
		case fieldMsgFrom:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: from", ErrRPCDecodeFailure)
			}
			data = data[k:]
			m.Source = p2ptypes.PeerID(v)
			m.HasSource = true
		case fieldMsgData:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: data", ErrRPCDecodeFailure)
			}
			data = data[k:]
			m.Data = append([]byte(nil), v...)
		case fieldMsgSeqno:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: seqno", ErrRPCDecodeFailure)
			}
			data = data[k:]
			copy(m.Seqno[:], v)
		case fieldMsgTopic:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: topic", ErrRPCDecodeFailure)
			}
			data = data[k:]
			m.Topic = Topic(v)
		case fieldMsgSignature:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: signature", ErrRPCDecodeFailure)
			}
			data = data[k:]
			m.Signature = append([]byte(nil), v...)
		case fieldMsgKey:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: key", ErrRPCDecodeFailure)
			}
			data = data[k:]
			m.Key = append([]byte(nil), v...)
		default:
			k := protowire.ConsumeFieldValue(num, typ, data)
			if k < 0 {
				return nil, fmt.Errorf("%w: message unknown field", ErrRPCDecodeFailure)
			}
			data = data[k:]
		}
	}
	return m, nil
}

func decodeControl(data []byte) (*ControlMessage, error) {
	c := &ControlMessage{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: control tag", ErrRPCDecodeFailure)
		}
		data = data[n:]
		switch num {
		case fieldCtrlIHave:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: ihave", ErrRPCDecodeFailure)
			}
			data = data[m:]
			ih, err := decodeIHave(v)
			if err != nil {
				return nil, err
			}
			c.IHave = append(c.IHave, ih)
		case fieldCtrlIWant:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: iwant", ErrRPCDecodeFailure)
			}
			data = data[m:]
			iw, err := decodeIWant(v)
			if err != nil {
				return nil, err
			}
			c.IWant = append(c.IWant, iw)
		case fieldCtrlGraft:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: graft", ErrRPCDecodeFailure)
			}
			data = data[m:]
			g, err := decodeGraft(v)
			if err != nil {
				return nil, err
			}
			c.Graft = append(c.Graft, g)
		case fieldCtrlPrune:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: prune", ErrRPCDecodeFailure)
			}
			data = data[m:]
			p, err := decodePrune(v)
			if err != nil {
				return nil, err
			}
			c.Prune = append(c.Prune, p)
		case fieldCtrlIDontWant:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: idontwant", ErrRPCDecodeFailure)
			}
			data = data[m:]
			idw, err := decodeIDontWant(v)
			if err != nil {
				return nil, err
			}
			c.IDontWant = append(c.IDontWant, idw)
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("%w: control unknown field", ErrRPCDecodeFailure)
			}
			data = data[m:]
		}
	}
	return c, nil
}

func decodeMessageIDList(data []byte, fieldIDs protowire.Number) ([]MessageID, error) {
	var ids []MessageID
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: id list tag", ErrRPCDecodeFailure)
		}
		data = data[n:]
		if num == fieldIDs {
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: id", ErrRPCDecodeFailure)
			}
			data = data[m:]
			var id MessageID
			copy(id[:], v)
			ids = append(ids, id)
		} else {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("%w: id list unknown field", ErrRPCDecodeFailure)
			}
			data = data[m:]
		}
	}
	return ids, nil
}

func decodeIHave(data []byte) (ControlIHave, error) {
	var ih ControlIHave
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ih, fmt.Errorf("%w: ihave tag", ErrRPCDecodeFailure)
		}
		data = data[n:]
		switch num {
		case fieldIHaveTopic:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return ih, fmt.Errorf("%w: ihave topic", ErrRPCDecodeFailure)
			}
			data = data[m:]
			ih.Topic = Topic(v)
		case fieldIHaveIDs:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return ih, fmt.Errorf("%w: ihave id", ErrRPCDecodeFailure)
			}
			data = data[m:]
			var id MessageID
			copy(id[:], v)
			ih.IDs = append(ih.IDs, id)
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return ih, fmt.Errorf("%w: ihave unknown field", ErrRPCDecodeFailure)
			}
			data = data[m:]
		}
	}
	return ih, nil
}

func decodeIWant(data []byte) (ControlIWant, error) {
	ids, err := decodeMessageIDList(data, fieldIWantIDs)
	return ControlIWant{IDs: ids}, err
}

func decodeIDontWant(data []byte) (ControlIDontWant, error) {
	ids, err := decodeMessageIDList(data, fieldIDontWantIDs)
	return ControlIDontWant{IDs: ids}, err
}

func decodeGraft(data []byte) (ControlGraft, error) {
	var g ControlGraft
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return g, fmt.Errorf("%w: graft tag", ErrRPCDecodeFailure)
		}
		data = data[n:]
		if num == fieldGraftTopic {
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return g, fmt.Errorf("%w: graft topic", ErrRPCDecodeFailure)
			}
			data = data[m:]
			g.Topic = Topic(v)
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return g, fmt.Errorf("%w: graft unknown field", ErrRPCDecodeFailure)
		}
		data = data[m:]
	}
	return g, nil
}

func decodePrune(data []byte) (ControlPrune, error) {
	var p ControlPrune
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, fmt.Errorf("%w: prune tag", ErrRPCDecodeFailure)
		}
		data = data[n:]
		switch num {
		case fieldPruneTopic:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return p, fmt.Errorf("%w: prune topic", ErrRPCDecodeFailure)
			}
			data = data[m:]
			p.Topic = Topic(v)
		case fieldPruneBackoff:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return p, fmt.Errorf("%w: prune backoff", ErrRPCDecodeFailure)
			}
			data = data[m:]
			p.Backoff = secondsToDuration(v)
		case fieldPrunePeers:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return p, fmt.Errorf("%w: prune peers", ErrRPCDecodeFailure)
			}
			data = data[m:]
			hint, err := decodePeerHint(v)
			if err != nil {
				return p, err
			}
			p.PeerRecord = append(p.PeerRecord, hint)
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return p, fmt.Errorf("%w: prune unknown field", ErrRPCDecodeFailure)
			}
			data = data[m:]
		}
	}
	return p, nil
}

func decodePeerHint(data []byte) (PeerExchangeHint, error) {
	var h PeerExchangeHint
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return h, fmt.Errorf("%w: peer hint tag", ErrRPCDecodeFailure)
		}
		data = data[n:]
		if num == 1 {
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return h, fmt.Errorf("%w: peer hint id", ErrRPCDecodeFailure)
			}
			data = data[m:]
			h.PeerID = p2ptypes.PeerID(v)
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return h, fmt.Errorf("%w: peer hint unknown field", ErrRPCDecodeFailure)
		}
		data = data[m:]
	}
	return h, nil
}

func secondsToDuration(v uint64) time.Duration {
	return time.Duration(v) * time.Second
}
