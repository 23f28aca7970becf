package v2

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// Client probes AutoNAT v2 servers: it sends a DialRequest for one of
// its own addresses, then waits on its DialBack stream handler for the
// server to prove it actually reached that address. Each in-flight
// probe gets its own waiter channel keyed by server, so concurrent
// probes to distinct servers never race on each other's result.
type Client struct {
	cfg     ClientConfig
	host    p2ptypes.StreamOpener
	pending *pendingStore
	tracer  EventTracer
	metrics *metrics.Metrics

	mu      sync.Mutex
	waiters map[p2ptypes.PeerID]chan error
}

// NewClient builds a Client and registers its DialBack stream handler
// on host. A nil tracer defaults to NoopTracer.
func NewClient(cfg ClientConfig, host p2ptypes.StreamOpener, m *metrics.Metrics, tracer EventTracer) *Client {
	if tracer == nil {
		tracer = NoopTracer{}
	}
	c := &Client{
		cfg:     cfg,
		host:    host,
		pending: newPendingStore(),
		tracer:  tracer,
		metrics: m,
		waiters: make(map[p2ptypes.PeerID]chan error),
	}
	host.SetStreamHandler(DialBackProtocol, c.handleDialBack)
	return c
}

// Close removes the client's DialBack stream handler.
func (c *Client) Close() {
	c.host.RemoveStreamHandler(DialBackProtocol)
}

func randomNonce() (Nonce, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("autonat2: generate nonce: %w", err)
	}
	return Nonce(binary.LittleEndian.Uint64(buf[:])), nil
}

// Probe asks server to dial back addr, returning the server's
// DialResponse status and, if it promised to attempt the dial,
// blocking for its DialBack proof (or the probe's DialTimeout).
func (c *Client) Probe(ctx context.Context, server p2ptypes.PeerID, addr p2ptypes.Multiaddr) (DialStatus, error) {
	nonce, err := randomNonce()
	if err != nil {
		return DialStatusInternalError, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	stream, err := c.host.NewStream(ctx, server, DialRequestProtocol)
	if err != nil {
		return DialStatusInternalError, fmt.Errorf("autonat2: open dial-request stream to %s: %w", server, err)
	}
	defer stream.Close()

	c.pending.Register(server, PendingCheck{Address: addr, Nonce: nonce, ExpiresAt: time.Now().Add(c.cfg.NonceTTL)})
	waiter := make(chan error, 1)
	c.mu.Lock()
	c.waiters[server] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.waiters[server] == waiter {
			delete(c.waiters, server)
		}
		c.mu.Unlock()
	}()

	c.tracer.DialRequestSent(server, addr)

	req := &DialRequest{Address: addr, Nonce: nonce}
	if err := writeDelimited(stream, EncodeDialRequest(req), c.cfg.DialTimeout); err != nil {
		c.pending.Remove(server)
		return DialStatusInternalError, err
	}

	respBytes, err := readDelimited(stream, c.cfg.DialTimeout)
	if err != nil {
		c.pending.Remove(server)
		return DialStatusInternalError, err
	}
	resp, err := DecodeDialResponse(respBytes, parseMultiaddrBytes)
	if err != nil {
		c.pending.Remove(server)
		return DialStatusInternalError, fmt.Errorf("autonat2: decode dial-response: %w", err)
	}
	c.tracer.DialResponseReceived(server, resp.Status)
	c.metrics.NATProbe("v2", resp.Status.String())

	if resp.Status != DialStatusOK {
		c.pending.Remove(server)
		return resp.Status, dialResponseError(resp.Status)
	}

	select {
	case err := <-waiter:
		if err != nil {
			c.tracer.DialBackRejected(server, err)
			return resp.Status, err
		}
		c.tracer.DialBackVerified(server)
		return resp.Status, nil
	case <-ctx.Done():
		c.pending.Remove(server)
		return resp.Status, ErrNonceExpired
	}
}

func dialResponseError(s DialStatus) error {
	switch s {
	case DialStatusDialError:
		return fmt.Errorf("autonat2: server reported dial-error")
	case DialStatusDialBackError:
		return &ErrDialBackFailed{Text: "server reported dial-back-error"}
	case DialStatusBadRequest:
		return fmt.Errorf("autonat2: server reported bad-request")
	default:
		return fmt.Errorf("autonat2: server reported internal-error")
	}
}

// handleDialBack is the inbound stream handler for DialBackProtocol.
func (c *Client) handleDialBack(stream p2ptypes.MuxedStream) {
	defer stream.Close()
	server := stream.Conn().RemotePeer()

	c.mu.Lock()
	waiter := c.waiters[server]
	c.mu.Unlock()
	if waiter == nil {
		klog.AutoNAT.Debug().Str("server", server.String()).Msg("autonat2 unsolicited dial-back")
		return
	}

	payload, err := readDelimited(stream, c.cfg.DialTimeout)
	if err != nil {
		klog.AutoNAT.Debug().Str("server", server.String()).Err(err).Msg("autonat2 dial-back read failed")
		waiter <- err
		return
	}
	db, err := DecodeDialBack(payload)
	if err != nil {
		waiter <- err
		return
	}

	waiter <- c.pending.Verify(server, db.Nonce)
}
