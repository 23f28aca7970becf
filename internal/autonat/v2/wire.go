package v2

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Wire field numbers. DialRequest{address=1, nonce=2} gives nonce the
// tag byte 0x11 (2<<3|1); DialBack{nonce=1} gives it 0x09 (1<<3|1),
// matching spec.md §4.4 exactly.
const (
	fieldDialRequestAddress = 1
	fieldDialRequestNonce   = 2

	fieldDialResponseStatus  = 1
	fieldDialResponseAddress = 2

	fieldDialBackNonce = 1
)

// ErrDecodeFailure wraps any wire-level parse failure.
var ErrDecodeFailure = fmt.Errorf("autonat2: decode-failure")

type addrParser func([]byte) (p2ptypes.Multiaddr, error)

// EncodeDialRequest serializes a DialRequest to its protobuf wire form.
func EncodeDialRequest(r *DialRequest) []byte {
	var b []byte
	if r.Address != nil {
		b = protowire.AppendTag(b, fieldDialRequestAddress, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Address.Bytes())
	}
	b = protowire.AppendTag(b, fieldDialRequestNonce, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, uint64(r.Nonce))
	return b
}

// DecodeDialRequest parses the protobuf wire form of a DialRequest.
func DecodeDialRequest(data []byte, parseAddr addrParser) (*DialRequest, error) {
	r := &DialRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag", ErrDecodeFailure)
		}
		data = data[n:]
		switch num {
		case fieldDialRequestAddress:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: address", ErrDecodeFailure)
			}
			data = data[k:]
			if parseAddr != nil {
				addr, err := parseAddr(v)
				if err == nil {
					r.Address = addr
				}
			}
		case fieldDialRequestNonce:
			v, k := protowire.ConsumeFixed64(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: nonce", ErrDecodeFailure)
			}
			data = data[k:]
			r.Nonce = Nonce(v)
		default:
			k := protowire.ConsumeFieldValue(num, typ, data)
			if k < 0 {
				return nil, fmt.Errorf("%w: unknown field", ErrDecodeFailure)
			}
			data = data[k:]
		}
	}
	return r, nil
}

// EncodeDialResponse serializes a DialResponse to its protobuf wire form.
func EncodeDialResponse(r *DialResponse) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDialResponseStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Status))
	if r.HasAddr {
		b = protowire.AppendTag(b, fieldDialResponseAddress, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Addr.Bytes())
	}
	return b
}

// DecodeDialResponse parses the protobuf wire form of a DialResponse.
func DecodeDialResponse(data []byte, parseAddr addrParser) (*DialResponse, error) {
	r := &DialResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag", ErrDecodeFailure)
		}
		data = data[n:]
		switch num {
		case fieldDialResponseStatus:
			v, k := protowire.ConsumeVarint(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: status", ErrDecodeFailure)
			}
			data = data[k:]
			r.Status = dialStatusFromWire(v)
		case fieldDialResponseAddress:
			v, k := protowire.ConsumeBytes(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: address", ErrDecodeFailure)
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
				return nil, fmt.Errorf("%w: unknown field", ErrDecodeFailure)
			}
			data = data[k:]
		}
	}
	return r, nil
}

// EncodeDialBack serializes a DialBack to its protobuf wire form.
func EncodeDialBack(d *DialBack) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDialBackNonce, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, uint64(d.Nonce))
	return b
}

// DecodeDialBack parses the protobuf wire form of a DialBack.
func DecodeDialBack(data []byte) (*DialBack, error) {
	d := &DialBack{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag", ErrDecodeFailure)
		}
		data = data[n:]
		if num == fieldDialBackNonce {
			v, k := protowire.ConsumeFixed64(data)
			if k < 0 {
				return nil, fmt.Errorf("%w: nonce", ErrDecodeFailure)
			}
			data = data[k:]
			d.Nonce = Nonce(v)
			continue
		}
		k := protowire.ConsumeFieldValue(num, typ, data)
		if k < 0 {
			return nil, fmt.Errorf("%w: unknown field", ErrDecodeFailure)
		}
		data = data[k:]
	}
	return d, nil
}
