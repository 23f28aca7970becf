package v2

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// writeDelimited and readDelimited frame a single protobuf message with
// a 4-byte big-endian length prefix, the same single-shot
// request/response framing autonat v1 uses.
func writeDelimited(w io.Writer, payload []byte, timeout time.Duration) error {
	if ds, ok := w.(p2ptypes.MuxedStream); ok {
		_ = ds.SetWriteDeadline(time.Now().Add(timeout))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("autonat2: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("autonat2: write payload: %w", err)
	}
	return nil
}

func readDelimited(r io.Reader, timeout time.Duration) ([]byte, error) {
	if ds, ok := r.(p2ptypes.MuxedStream); ok {
		_ = ds.SetReadDeadline(time.Now().Add(timeout))
	}
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("autonat2: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > 64*1024 {
		return nil, fmt.Errorf("autonat2: oversized message (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("autonat2: read payload: %w", err)
	}
	return buf, nil
}
