package v2

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

type fakeConn struct {
	remotePeer p2ptypes.PeerID
	remoteAddr p2ptypes.Multiaddr
	localAddr  p2ptypes.Multiaddr
}

func (c *fakeConn) RemotePeer() p2ptypes.PeerID        { return c.remotePeer }
func (c *fakeConn) RemoteMultiaddr() p2ptypes.Multiaddr { return c.remoteAddr }
func (c *fakeConn) LocalMultiaddr() p2ptypes.Multiaddr  { return c.localAddr }

type fakeStream struct {
	pipe  net.Conn
	proto p2ptypes.ProtocolID
	conn  p2ptypes.Conn
}

func (s *fakeStream) Read(p []byte) (int, error)  { return s.pipe.Read(p) }
func (s *fakeStream) Write(p []byte) (int, error) { return s.pipe.Write(p) }
func (s *fakeStream) Close() error                { return s.pipe.Close() }

func (s *fakeStream) SetDeadline(t time.Time) error      { return s.pipe.SetDeadline(t) }
func (s *fakeStream) SetReadDeadline(t time.Time) error  { return s.pipe.SetReadDeadline(t) }
func (s *fakeStream) SetWriteDeadline(t time.Time) error { return s.pipe.SetWriteDeadline(t) }

func (s *fakeStream) Protocol() p2ptypes.ProtocolID { return s.proto }
func (s *fakeStream) Conn() p2ptypes.Conn           { return s.conn }
func (s *fakeStream) Reset() error                  { return s.pipe.Close() }

func mustAddr(a string) p2ptypes.Multiaddr {
	m, err := ma.NewMultiaddr(a)
	if err != nil {
		panic(err)
	}
	return m
}

type fakeHost struct {
	id    p2ptypes.PeerID
	addrs []p2ptypes.Multiaddr

	mu       sync.Mutex
	handlers map[p2ptypes.ProtocolID]func(p2ptypes.MuxedStream)
	peers    map[p2ptypes.PeerID]*fakeHost
}

func newFakeHost(id p2ptypes.PeerID, addrs ...p2ptypes.Multiaddr) *fakeHost {
	return &fakeHost{
		id:       id,
		addrs:    addrs,
		handlers: make(map[p2ptypes.ProtocolID]func(p2ptypes.MuxedStream)),
		peers:    make(map[p2ptypes.PeerID]*fakeHost),
	}
}

func (h *fakeHost) link(other *fakeHost) {
	h.mu.Lock()
	h.peers[other.id] = other
	h.mu.Unlock()
	other.mu.Lock()
	other.peers[h.id] = h
	other.mu.Unlock()
}

func (h *fakeHost) SetStreamHandler(pid p2ptypes.ProtocolID, handler func(p2ptypes.MuxedStream)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[pid] = handler
}

func (h *fakeHost) RemoveStreamHandler(pid p2ptypes.ProtocolID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, pid)
}

func (h *fakeHost) Connect(ctx context.Context, pi p2ptypes.AddrInfo) error { return nil }
func (h *fakeHost) Addrs() []p2ptypes.Multiaddr                            { return h.addrs }
func (h *fakeHost) ID() p2ptypes.PeerID                                    { return h.id }

func (h *fakeHost) NewStream(ctx context.Context, p p2ptypes.PeerID, pids ...p2ptypes.ProtocolID) (p2ptypes.MuxedStream, error) {
	h.mu.Lock()
	target := h.peers[p]
	h.mu.Unlock()
	if target == nil {
		return nil, io.ErrClosedPipe
	}
	target.mu.Lock()
	handler := target.handlers[pids[0]]
	target.mu.Unlock()
	if handler == nil {
		return nil, io.ErrClosedPipe
	}

	clientConn, serverConn := net.Pipe()
	clientAddr := h.addrs[0]
	serverAddr := target.addrs[0]

	clientStream := &fakeStream{pipe: clientConn, proto: pids[0], conn: &fakeConn{remotePeer: target.id, remoteAddr: serverAddr, localAddr: clientAddr}}
	serverStream := &fakeStream{pipe: serverConn, proto: pids[0], conn: &fakeConn{remotePeer: h.id, remoteAddr: clientAddr, localAddr: serverAddr}}

	go handler(serverStream)
	return clientStream, nil
}
