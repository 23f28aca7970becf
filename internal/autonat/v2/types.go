// Package v2 implements the split-stream AutoNAT v2 reflection
// protocol: a client sends a DialRequest carrying an address and a
// one-shot nonce on /libp2p/autonat/2/dial-request, and a server that
// dialed back successfully proves it by opening a fresh stream on
// /libp2p/autonat/2/dial-back and echoing the nonce.
package v2

import (
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Protocol IDs for the two halves of the exchange.
const (
	DialRequestProtocol p2ptypes.ProtocolID = "/libp2p/autonat/2/dial-request"
	DialBackProtocol    p2ptypes.ProtocolID = "/libp2p/autonat/2/dial-back"
)

// DialStatus is the wire-level outcome of a dial-request.
type DialStatus int

const (
	DialStatusOK            DialStatus = 0
	DialStatusDialError     DialStatus = 100
	DialStatusDialBackError DialStatus = 101
	DialStatusBadRequest    DialStatus = 200
	DialStatusInternalError DialStatus = 300
)

func (s DialStatus) String() string {
	switch s {
	case DialStatusOK:
		return "ok"
	case DialStatusDialError:
		return "dial-error"
	case DialStatusDialBackError:
		return "dial-back-error"
	case DialStatusBadRequest:
		return "bad-request"
	case DialStatusInternalError:
		return "internal-error"
	default:
		return "internal-error"
	}
}

// dialStatusFromWire maps a raw wire value to a DialStatus, folding
// any unrecognized value into internal-error per spec.md §4.4.
func dialStatusFromWire(v uint64) DialStatus {
	switch v {
	case 0:
		return DialStatusOK
	case 100:
		return DialStatusDialError
	case 101:
		return DialStatusDialBackError
	case 200:
		return DialStatusBadRequest
	default:
		return DialStatusInternalError
	}
}

// Nonce is a single-use 64-bit value proving dial-back authenticity.
type Nonce uint64

// DialRequest is the client's request to be dialed back at Address,
// tagged with Nonce so the eventual DialBack can be matched to it.
type DialRequest struct {
	Address p2ptypes.Multiaddr
	Nonce   Nonce
}

// DialResponse is the server's synchronous reply on the dial-request
// stream: whether it intends to attempt (or attempted) a dial, and
// which address it used.
type DialResponse struct {
	Status  DialStatus
	HasAddr bool
	Addr    p2ptypes.Multiaddr
}

// DialBack is sent by the server on a fresh stream after a successful
// direct dial, proving it reached the client at the requested address.
type DialBack struct {
	Nonce Nonce
}

// PendingCheck is a client-side record of an outstanding probe awaiting
// its DialBack.
type PendingCheck struct {
	Address   p2ptypes.Multiaddr
	Nonce     Nonce
	ExpiresAt time.Time
}

// ClientConfig tunes the client's nonce bookkeeping.
type ClientConfig struct {
	NonceTTL    time.Duration
	DialTimeout time.Duration
}

// DefaultClientConfig returns conservative defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{NonceTTL: 30 * time.Second, DialTimeout: 15 * time.Second}
}

// ServerConfig tunes the server's dial-back and rate-limiting behavior.
type ServerConfig struct {
	DialTimeout      time.Duration
	CooldownDuration time.Duration
}

// DefaultServerConfig returns conservative defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{DialTimeout: 15 * time.Second, CooldownDuration: time.Minute}
}
