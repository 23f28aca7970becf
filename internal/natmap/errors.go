package natmap

import (
	"errors"
	"fmt"
)

var (
	ErrNoGatewayFound   = errors.New("natmap: no-gateway-found")
	ErrMappingRefused   = errors.New("natmap: mapping-refused")
	ErrUnsupportedGateway = errors.New("natmap: unsupported-gateway-kind")
)

// ErrGatewayError wraps a transport-level failure talking to a
// specific gateway kind.
type ErrGatewayError struct {
	Kind string
	Err  error
}

func (e *ErrGatewayError) Error() string {
	return fmt.Sprintf("natmap: gateway-error(%s): %v", e.Kind, e.Err)
}

func (e *ErrGatewayError) Unwrap() error { return e.Err }
