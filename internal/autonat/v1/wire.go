package v1

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Wire field numbers, following spec §6's AutoNAT v1 protobuf shape:
// Message{type, dial?, dialResponse?}; Dial{peer}; PeerInfo{id?, addrs[]};
// DialResponse{status, statusText?, addr?}.
const (
	fieldMsgType         = 1
	fieldMsgDial         = 2
	fieldMsgDialResponse = 3

	fieldDialPeer = 1

	fieldPeerInfoID    = 1
	fieldPeerInfoAddrs = 2

	fieldRespStatus     = 1
	fieldRespStatusText = 2
	fieldRespAddr       = 3
)

// ErrDecodeFailure wraps any wire-level parse failure.
var ErrDecodeFailure = fmt.Errorf("autonat: decode-failure")

// EncodeMessage serializes a Message to its protobuf wire form.
func EncodeMessage(m *Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	if m.Dial != nil {
		db := encodeDial(m.Dial)
		b = protowire.AppendTag(b, fieldMsgDial, protowire.BytesType)
		b = protowire.AppendBytes(b, db)
	}
	if m.DialResponse != nil {
		rb := encodeDialResponse(m.DialResponse)
		b = protowire.AppendTag(b, fieldMsgDialResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, rb)
	}
	return b
}

func encodeDial(d *Dial) []byte {
	pb := encodePeerInfo(&d.Peer)
	var b []byte
	b = protowire.AppendTag(b, fieldDialPeer, protowire.BytesType)
	b = protowire.AppendBytes(b, pb)
	return b
}

func encodePeerInfo(p *PeerInfo) []byte {
	var b []byte
	if p.HasID {
		b = protowire.AppendTag(b, fieldPeerInfoID, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(p.ID))
	}
	for _, a := range p.Addresses {
		b = protowire.AppendTag(b, fieldPeerInfoAddrs, protowire.BytesType)
		b = protowire.AppendBytes(b, a.Bytes())
	}
	return b
}

func encodeDialResponse(r *DialResponse) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRespStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, statusToWire(r.Status))
	if r.StatusText != "" {
		b = protowire.AppendTag(b, fieldRespStatusText, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(r.StatusText))
	}
	if r.HasAddr {
		b = protowire.AppendTag(b, fieldRespAddr, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Addr.Bytes())
	}
	return b
}

// statusToWire maps Status to the wire values from spec §6:
// OK=0, DIAL_ERROR=100, DIAL_REFUSED=101, BAD_REQUEST=200, INTERNAL_ERROR=300.
func statusToWire(s Status) uint64 {
	switch s {
	case StatusOK:
		return 0
	case StatusDialError:
		return 100
	case StatusDialRefused:
		return 101
	case StatusBadRequest:
		return 200
	case StatusInternalError:
		return 300
	default:
		return 300
	}
}

func statusFromWire(v uint64) Status {
	switch v {
	case 0:
		return StatusOK
	case 100:
		return StatusDialError
	case 101:
		return StatusDialRefused
	case 200:
		return StatusBadRequest
	default:
		return StatusInternalError
	}
}

// DecodeMessage parses the protobuf wire form of a Message, a new-type
// aware multiaddr decoder is injected since p2ptypes.Multiaddr parsing
// is an external collaborator concern (spec §1).
func DecodeMessage(data []byte, parseAddr func([]byte) (p2ptypes.Multiaddr, error)) (*Message, error) {
	m := &Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag", ErrDecodeFailure)
		}
		data = data[n:]
		switch num {
		case fieldMsgType:
			v, k := protowire.ConsumeVarint(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: type", ErrDecodeFailure)
			}
			data = data[k:]
			m.Type = MessageType(v)
		case fieldMsgDial:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: dial", ErrDecodeFailure)
			}
			data = data[k:]
			d, err := decodeDial(v, parseAddr)
			if err != nil {
				return nil, err
			}
			m.Dial = d
		case fieldMsgDialResponse:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: dialResponse", ErrDecodeFailure)
			}
			data = data[k:]
			r, err := decodeDialResponse(v, parseAddr)
			if err != nil {
				return nil, err
			}
			m.DialResponse = r
		default:
			k := protowire.ConsumeFieldValue(num, typ, data)
			if k < 0 {
				return nil, fmt.Errorf("%w: unknown field", ErrDecodeFailure)
			}
			data = data[k:]
		}
	}
	return m, nil
}

func decodeDial(data []byte, parseAddr func([]byte) (p2ptypes.Multiaddr, error)) (*Dial, error) {
	d := &Dial{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: dial tag", ErrDecodeFailure)
		}
		data = data[n:]
		if num == fieldDialPeer {
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: dial peer", ErrDecodeFailure)
			}
			data = data[k:]
			pi, err := decodePeerInfo(v, parseAddr)
			if err != nil {
				return nil, err
			}
			d.Peer = *pi
			continue
		}
		k := protowire.ConsumeFieldValue(num, typ, data)
		if k < 0 {
			return nil, fmt.Errorf("%w: dial unknown field", ErrDecodeFailure)
		}
		data = data[k:]
	}
	return d, nil
}

func decodePeerInfo(data []byte, parseAddr func([]byte) (p2ptypes.Multiaddr, error)) (*PeerInfo, error) {
	p := &PeerInfo{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: peerinfo tag", ErrDecodeFailure)
		}
		data = data[n:]
		switch num {
		case fieldPeerInfoID:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: peerinfo id", ErrDecodeFailure)
			}
			data = data[k:]
			p.ID = p2ptypes.PeerID(v)
			p.HasID = true
		case fieldPeerInfoAddrs:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: peerinfo addr", ErrDecodeFailure)
			}
			data = data[k:]
			if parseAddr != nil {
				addr, err := parseAddr(v)
				if err == nil {
					p.Addresses = append(p.Addresses, addr)
				}
			}
		default:
			k := protowire.ConsumeFieldValue(num, typ, data)
			if k < 0 {
				return nil, fmt.Errorf("%w: peerinfo unknown field", ErrDecodeFailure)
			}
			data = data[k:]
		}
	}
	return p, nil
}

func decodeDialResponse(data []byte, parseAddr func([]byte) (p2ptypes.Multiaddr, error)) (*DialResponse, error) {
	r := &DialResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: response tag", ErrDecodeFailure)
		}
		data = data[n:]
		switch num {
		case fieldRespStatus:
			v, k := protowire.ConsumeVarint(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: response status", ErrDecodeFailure)
			}
			data = data[k:]
			r.Status = statusFromWire(v)
		case fieldRespStatusText:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: response statusText", ErrDecodeFailure)
			}
			data = data[k:]
			r.StatusText = string(v)
		case fieldRespAddr:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: response addr", ErrDecodeFailure)
			}
			data = data[k:]
			if parseAddr != nil {
				addr, err := parseAddr(v)
				if err == nil {
					r.Addr = addr
					r.HasAddr = true
				}
			}
		default:
			k := protowire.ConsumeFieldValue(num, typ, data)
			if k < 0 {
				return nil, fmt.Errorf("%w: response unknown field", ErrDecodeFailure)
			}
			data = data[k:]
		}
	}
	return r, nil
}
