package v1

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// ClientConfig tunes the reflection probe.
type ClientConfig struct {
	MaxAddresses int
	DialTimeout  time.Duration
	Tracker      NATStatusTrackerConfig
}

// DefaultClientConfig returns conservative defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{MaxAddresses: 16, DialTimeout: defaultDialTimeout, Tracker: DefaultNATStatusTrackerConfig()}
}

// Client probes AutoNAT v1 servers to learn this node's reachability.
type Client struct {
	cfg     ClientConfig
	host    p2ptypes.StreamOpener
	tracker *NATStatusTracker
	tracer  EventTracer
	metrics *metrics.Metrics
}

// NewClient builds a Client. A nil tracer defaults to NoopTracer.
func NewClient(cfg ClientConfig, host p2ptypes.StreamOpener, m *metrics.Metrics, tracer EventTracer) *Client {
	if tracer == nil {
		tracer = NoopTracer{}
	}
	return &Client{cfg: cfg, host: host, tracker: NewNATStatusTracker(cfg.Tracker, tracer), tracer: tracer, metrics: m}
}

// Tracker exposes the client's aggregated status view.
func (c *Client) Tracker() *NATStatusTracker { return c.tracker }

// Probe asks each server in turn to dial the local node back, folding
// every outcome into the tracker, and returns the most recently
// observed Status for the caller's immediate use.
func (c *Client) Probe(ctx context.Context, servers []p2ptypes.PeerID) (Status, error) {
	if len(servers) == 0 {
		return StatusUnknown, ErrNoServersAvailable
	}
	addrs := c.host.Addrs()
	if len(addrs) == 0 {
		return StatusUnknown, ErrNoLocalAddresses
	}
	if len(addrs) > c.cfg.MaxAddresses {
		addrs = addrs[:c.cfg.MaxAddresses]
	}

	var last Status
	var lastErr, transportErr error
	for _, server := range servers {
		status, err := c.probeOne(ctx, server, addrs)
		if err != nil {
			c.metrics.NATProbe("v1", "error")
		} else {
			c.metrics.NATProbe("v1", status.String())
		}
		if status == StatusUnknown {
			transportErr = err
			continue
		}
		last, lastErr = status, err
		c.tracker.RecordOutcome(statusToReachability(status))
	}
	if last == StatusUnknown {
		return StatusUnknown, transportErr
	}
	return last, lastErr
}

func statusToReachability(s Status) Reachability {
	switch s {
	case StatusOK:
		return ReachabilityPublic
	case StatusDialError:
		return ReachabilityPrivate
	default:
		return ReachabilityUnknown
	}
}

func (c *Client) probeOne(ctx context.Context, server p2ptypes.PeerID, addrs []p2ptypes.Multiaddr) (Status, error) {
	c.tracer.ProbeStarted(server)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	stream, err := c.host.NewStream(dialCtx, server, ProtocolID)
	if err != nil {
		return StatusUnknown, fmt.Errorf("autonat: open stream to %s: %w", server, err)
	}
	defer stream.Close()

	msg := &Message{
		Type: TypeDial,
		Dial: &Dial{Peer: PeerInfo{HasID: true, ID: c.host.ID(), Addresses: addrs}},
	}
	if err := writeDelimited(stream, EncodeMessage(msg), c.cfg.DialTimeout); err != nil {
		return StatusUnknown, err
	}

	respBytes, err := readDelimited(stream, c.cfg.DialTimeout)
	if err != nil {
		return StatusUnknown, err
	}
	resp, err := DecodeMessage(respBytes, parseMultiaddrBytes)
	if err != nil {
		return StatusUnknown, fmt.Errorf("%w: %v", &ErrProtocolViolation{Text: "malformed dial-response"}, err)
	}
	if resp.DialResponse == nil {
		return StatusUnknown, &ErrProtocolViolation{Text: "missing dial-response"}
	}

	status := resp.DialResponse.Status
	c.tracer.ProbeCompleted(server, status)
	klog.AutoNAT.Debug().Str("server", server.String()).Str("status", status.String()).Msg("autonat probe completed")

	switch status {
	case StatusDialRefused:
		return status, ErrDialRefused
	case StatusBadRequest:
		return status, &ErrBadRequest{Text: resp.DialResponse.StatusText}
	case StatusInternalError:
		return status, &ErrInternal{Text: resp.DialResponse.StatusText}
	case StatusDialError:
		return status, &ErrDialFailed{Text: resp.DialResponse.StatusText}
	}
	return status, nil
}

// writeDelimited/readDelimited use a simple 4-byte big-endian length
// prefix, the same uvarint-free framing the teacher's stream handshake
// used for single-shot request/response exchanges.
func writeDelimited(w io.Writer, payload []byte, timeout time.Duration) error {
	if ds, ok := w.(p2ptypes.MuxedStream); ok {
		_ = ds.SetWriteDeadline(time.Now().Add(timeout))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("autonat: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("autonat: write payload: %w", err)
	}
	return nil
}

func readDelimited(r io.Reader, timeout time.Duration) ([]byte, error) {
	if ds, ok := r.(p2ptypes.MuxedStream); ok {
		_ = ds.SetReadDeadline(time.Now().Add(timeout))
	}
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > 64*1024 {
		return nil, &ErrProtocolViolation{Text: "oversized message"}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return buf, nil
}
