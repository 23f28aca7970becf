package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/internal/pubsub"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// pipeStream adapts one end of a net.Pipe to p2ptypes.MuxedStream, the
// minimal surface a real libp2p stream satisfies, without a real
// transport.
type pipeStream struct {
	net.Conn
	proto  p2ptypes.ProtocolID
	remote p2ptypes.PeerID
}

func (s *pipeStream) Protocol() p2ptypes.ProtocolID { return s.proto }
func (s *pipeStream) Conn() p2ptypes.Conn            { return pipeConn{remote: s.remote} }
func (s *pipeStream) Reset() error                   { return s.Close() }

type pipeConn struct{ remote p2ptypes.PeerID }

func (c pipeConn) RemotePeer() p2ptypes.PeerID         { return c.remote }
func (c pipeConn) RemoteMultiaddr() p2ptypes.Multiaddr { return nil }
func (c pipeConn) LocalMultiaddr() p2ptypes.Multiaddr  { return nil }

func newPipe(remoteA, remoteB p2ptypes.PeerID) (a, b *pipeStream) {
	ca, cb := net.Pipe()
	return &pipeStream{Conn: ca, proto: pubsub.GossipSubProtocolID, remote: remoteA},
		&pipeStream{Conn: cb, proto: pubsub.GossipSubProtocolID, remote: remoteB}
}

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	a, b := newPipe("peer-a", "peer-b")
	defer a.Close()
	defer b.Close()

	want := &pubsub.RPC{Subscriptions: []pubsub.SubOpt{{Topic: "chat", Subscribe: true}}}
	done := make(chan error, 1)
	go func() { done <- writeFrame(a, want) }()

	got, err := readFrame(b)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	if len(got.Subscriptions) != 1 || got.Subscriptions[0].Topic != "chat" || !got.Subscriptions[0].Subscribe {
		t.Fatalf("got = %+v, want one subscribe(chat)", got)
	}
}

func TestReadFrame_RejectsOversizedLengthPrefix(t *testing.T) {
	a, b := newPipe("peer-a", "peer-b")
	defer a.Close()
	defer b.Close()

	hdr := []byte{0x7f, 0xff, 0xff, 0xff} // far beyond maxFrameSize
	go func() { _, _ = a.Write(hdr) }()

	if _, err := readFrame(b); err == nil {
		t.Fatal("readFrame accepted an oversized length prefix")
	}
}

// fakeStreamOpener routes NewStream calls directly into a peer Node's
// own handleStream, simulating two connected nodes over an in-memory
// pipe instead of a real libp2p host.
type fakeStreamOpener struct {
	self   p2ptypes.PeerID
	remote p2ptypes.PeerID
	peer   *Node
}

func (f *fakeStreamOpener) NewStream(ctx context.Context, p p2ptypes.PeerID, pids ...p2ptypes.ProtocolID) (p2ptypes.MuxedStream, error) {
	client, server := newPipe(f.remote, f.self)
	go f.peer.handleStream(server)
	return client, nil
}
func (f *fakeStreamOpener) SetStreamHandler(p2ptypes.ProtocolID, func(p2ptypes.MuxedStream)) {}
func (f *fakeStreamOpener) RemoveStreamHandler(p2ptypes.ProtocolID)                          {}
func (f *fakeStreamOpener) Connect(context.Context, p2ptypes.AddrInfo) error                 { return nil }
func (f *fakeStreamOpener) Addrs() []p2ptypes.Multiaddr                                      { return nil }
func (f *fakeStreamOpener) ID() p2ptypes.PeerID                                              { return f.self }

func newTestRouter(self p2ptypes.PeerID) *pubsub.Router {
	cfg := pubsub.DefaultRouterConfig()
	cfg.SignMessages = false
	return pubsub.NewRouter(cfg, self, nil, nil, metrics.New(), pubsub.NoopTracer{})
}

// TestNode_PublishDeliversAcrossPipe puts "remote" into "local"'s mesh
// directly (skipping the heartbeat-driven GRAFT handshake) and checks
// that Node.Publish's outbound RPC reaches the remote router's cache
// over the framed stream protocol handleStream/sendRPC implement.
func TestNode_PublishDeliversAcrossPipe(t *testing.T) {
	remote := &Node{router: newTestRouter("remote"), topics: make(map[pubsub.Topic]bool)}
	if _, _, err := remote.router.Subscribe("chat"); err != nil {
		t.Fatalf("remote Subscribe: %v", err)
	}
	remote.router.AddPeer("local", pubsub.DirectionInbound, pubsub.GossipSubProtocolID, "")

	local := &Node{router: newTestRouter("local"), topics: make(map[pubsub.Topic]bool)}
	local.streams = &fakeStreamOpener{self: "local", remote: "remote", peer: remote}
	if _, _, err := local.router.Subscribe("chat"); err != nil {
		t.Fatalf("local Subscribe: %v", err)
	}
	local.router.AddPeer("remote", pubsub.DirectionOutbound, pubsub.GossipSubProtocolID, "")
	local.router.Mesh().AddToMesh("chat", "remote")

	if err := local.Publish("chat", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, id := range remote.router.Cache().GossipIDs("chat") {
			if msg, ok := remote.router.Cache().Get(id); ok && string(msg.Data) == "hello" {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("remote router never observed the published message")
}

// TestNode_AnnounceToReplaysSubscriptionState exercises announceTo and
// sendRPC: a newly connected peer should receive the node's current
// subscription announcement without a Publish ever happening.
func TestNode_AnnounceToReplaysSubscriptionState(t *testing.T) {
	remote := &Node{router: newTestRouter("remote"), topics: make(map[pubsub.Topic]bool)}
	remote.router.AddPeer("local", pubsub.DirectionInbound, pubsub.GossipSubProtocolID, "")

	local := &Node{router: newTestRouter("local"), topics: make(map[pubsub.Topic]bool)}
	local.streams = &fakeStreamOpener{self: "local", remote: "remote", peer: remote}
	if _, _, err := local.router.Subscribe("chat"); err != nil {
		t.Fatalf("local Subscribe: %v", err)
	}
	local.mu.Lock()
	local.topics["chat"] = true
	local.announce = local.fullAnnounceLocked()
	local.mu.Unlock()

	local.announceTo("remote")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ps, ok := remote.router.Peers().Get("local"); ok && ps.IsSubscribed("chat") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("remote router never observed local's subscription announcement")
}
