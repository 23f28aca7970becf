package v1

import (
	"errors"
	"fmt"
)

// Sentinel errors matching spec.md §7's AutoNAT error taxonomy.
var (
	ErrNoServersAvailable = errors.New("autonat: no-servers-available")
	ErrNoLocalAddresses   = errors.New("autonat: no-local-addresses")
	ErrDialRefused        = errors.New("autonat: dial-refused")
	ErrTimeout            = errors.New("autonat: timeout")
	ErrInsufficientProbes = errors.New("autonat: insufficient-probes")
	ErrPeerIDMismatch     = errors.New("autonat: peer-id-mismatch")
)

// ErrDialFailed wraps a dial-back failure's detail text.
type ErrDialFailed struct{ Text string }

func (e *ErrDialFailed) Error() string { return fmt.Sprintf("autonat: dial-failed(%s)", e.Text) }

// ErrBadRequest wraps a malformed-request detail text.
type ErrBadRequest struct{ Text string }

func (e *ErrBadRequest) Error() string { return fmt.Sprintf("autonat: bad-request(%s)", e.Text) }

// ErrInternal wraps a server-side internal-error detail text.
type ErrInternal struct{ Text string }

func (e *ErrInternal) Error() string { return fmt.Sprintf("autonat: internal-error(%s)", e.Text) }

// ErrProtocolViolation wraps a detail about a malformed wire exchange.
type ErrProtocolViolation struct{ Text string }

func (e *ErrProtocolViolation) Error() string {
	return fmt.Sprintf("autonat: protocol-violation(%s)", e.Text)
}

// RateLimitReason names which limiter tripped.
type RateLimitReason string

const (
	RateLimitGlobalRate        RateLimitReason = "global-rate"
	RateLimitGlobalConcurrency RateLimitReason = "global-concurrency"
	RateLimitPeerRate          RateLimitReason = "peer-rate"
	RateLimitPeerConcurrency   RateLimitReason = "peer-concurrency"
	RateLimitBackoff           RateLimitReason = "backoff"
)

// ErrRateLimited carries which limiter rejected the request.
type ErrRateLimited struct{ Reason RateLimitReason }

func (e *ErrRateLimited) Error() string { return fmt.Sprintf("autonat: rate-limited(%s)", e.Reason) }

// ErrPortNotAllowed carries a disallowed port from a dial-back target.
type ErrPortNotAllowed struct{ Port int }

func (e *ErrPortNotAllowed) Error() string {
	return fmt.Sprintf("autonat: port-not-allowed(%d)", e.Port)
}
