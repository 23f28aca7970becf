package v2

import (
	"errors"
	"fmt"
)

// Sentinel errors matching spec.md §7's AutoNAT v2 error taxonomy.
var (
	ErrNonceVerificationFailed = errors.New("autonat2: nonce-verification-failed")
	ErrNonceExpired            = errors.New("autonat2: nonce-expired")
	ErrServiceShutdown         = errors.New("autonat2: service-shutdown")
	ErrNoAddress               = errors.New("autonat2: no-address")
	ErrCooldown                = errors.New("autonat2: rate-limited(cooldown)")
)

// ErrDialBackFailed wraps a dial-back failure's detail text.
type ErrDialBackFailed struct{ Text string }

func (e *ErrDialBackFailed) Error() string {
	return fmt.Sprintf("autonat2: dial-back-failed(%s)", e.Text)
}
