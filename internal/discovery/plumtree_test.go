package discovery

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// genPeerID returns a real base58-encoded peer ID string (parsePeerID
// round-trips through peer.Decode, which rejects arbitrary strings).
func genPeerID(t *testing.T) p2ptypes.PeerID {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("IDFromPublicKey: %v", err)
	}
	return id
}

// fakeStreamOpener is a minimal p2ptypes.StreamOpener that records every
// stream it opens, letting tests assert on what Announce actually wrote
// without a real libp2p transport.
type fakeStreamOpener struct {
	self    p2ptypes.PeerID
	handler func(p2ptypes.MuxedStream)
	written map[p2ptypes.PeerID][]byte
}

func newFakeStreamOpener(self p2ptypes.PeerID) *fakeStreamOpener {
	return &fakeStreamOpener{self: self, written: make(map[p2ptypes.PeerID][]byte)}
}

func (f *fakeStreamOpener) NewStream(ctx context.Context, p p2ptypes.PeerID, pids ...p2ptypes.ProtocolID) (p2ptypes.MuxedStream, error) {
	return &fakeStream{opener: f, peer: p}, nil
}
func (f *fakeStreamOpener) SetStreamHandler(pid p2ptypes.ProtocolID, h func(p2ptypes.MuxedStream)) {
	f.handler = h
}
func (f *fakeStreamOpener) RemoveStreamHandler(pid p2ptypes.ProtocolID) { f.handler = nil }
func (f *fakeStreamOpener) Connect(ctx context.Context, pi p2ptypes.AddrInfo) error { return nil }
func (f *fakeStreamOpener) Addrs() []p2ptypes.Multiaddr                            { return nil }
func (f *fakeStreamOpener) ID() p2ptypes.PeerID                                   { return f.self }

// fakeStream is the p2ptypes.MuxedStream side of fakeStreamOpener; Write
// appends to the opener's per-peer buffer instead of touching a wire.
type fakeStream struct {
	opener *fakeStreamOpener
	peer   p2ptypes.PeerID
}

func (s *fakeStream) Read(p []byte) (int, error)  { return 0, nil }
func (s *fakeStream) Write(p []byte) (int, error) {
	s.opener.written[s.peer] = append(s.opener.written[s.peer], p...)
	return len(p), nil
}
func (s *fakeStream) Close() error                          { return nil }
func (s *fakeStream) SetDeadline(time.Time) error            { return nil }
func (s *fakeStream) SetReadDeadline(time.Time) error        { return nil }
func (s *fakeStream) SetWriteDeadline(time.Time) error       { return nil }
func (s *fakeStream) Protocol() p2ptypes.ProtocolID          { return PlumtreeProtocol }
func (s *fakeStream) Conn() p2ptypes.Conn                    { return nil }
func (s *fakeStream) Reset() error                           { return nil }

func TestPlumtreeDiscovery_AnnounceWritesToEachPeer(t *testing.T) {
	opener := newFakeStreamOpener("self")
	store := NewMemoryPeerStore(DefaultPeerStoreConfig())
	defer store.Close()
	d := NewPlumtreeDiscovery(opener, store)
	defer d.Stop()

	addr, err := ma.NewMultiaddr("/ip4/1.2.3.4/tcp/4001")
	if err != nil {
		t.Fatalf("NewMultiaddr: %v", err)
	}
	d.Announce(context.Background(), []p2ptypes.PeerID{"peer-a", "peer-b"}, []p2ptypes.Multiaddr{addr})

	for _, p := range []p2ptypes.PeerID{"peer-a", "peer-b"} {
		if len(opener.written[p]) == 0 {
			t.Fatalf("no announcement written to %s", p)
		}
	}
}

func TestPlumtreeDiscovery_IngestDedupesBySequence(t *testing.T) {
	self := genPeerID(t)
	remote := genPeerID(t)
	opener := newFakeStreamOpener(self)
	store := NewMemoryPeerStore(DefaultPeerStoreConfig())
	defer store.Close()
	d := NewPlumtreeDiscovery(opener, store)
	defer d.Stop()

	sub, cancel := d.Observations()
	defer cancel()

	msg := announcement{PeerID: remote.String(), Addresses: []string{"/ip4/5.6.7.8/tcp/4001"}, SequenceNumber: 1}
	d.ingest(msg)
	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first ingest event")
	}

	d.ingest(msg) // same sequence number again
	select {
	case ev := <-sub:
		t.Fatalf("unexpected second event for duplicate sequence: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPlumtreeDiscovery_IngestIgnoresOwnAnnouncement(t *testing.T) {
	self := genPeerID(t)
	opener := newFakeStreamOpener(self)
	store := NewMemoryPeerStore(DefaultPeerStoreConfig())
	defer store.Close()
	d := NewPlumtreeDiscovery(opener, store)
	defer d.Stop()

	d.ingest(announcement{PeerID: self.String(), Addresses: []string{"/ip4/5.6.7.8/tcp/4001"}, SequenceNumber: 1})
	if got := store.Addresses(self); len(got) != 0 {
		t.Fatalf("own announcement should not populate the store: %+v", got)
	}
}

func TestPlumtreeDiscovery_IngestPopulatesStore(t *testing.T) {
	self := genPeerID(t)
	remote := genPeerID(t)
	opener := newFakeStreamOpener(self)
	store := NewMemoryPeerStore(DefaultPeerStoreConfig())
	defer store.Close()
	d := NewPlumtreeDiscovery(opener, store)
	defer d.Stop()

	d.ingest(announcement{PeerID: remote.String(), Addresses: []string{"/ip4/5.6.7.8/tcp/4001"}, SequenceNumber: 1})
	if got := store.Addresses(remote); len(got) != 1 {
		t.Fatalf("Addresses(remote) = %+v, want 1 entry", got)
	}
}
