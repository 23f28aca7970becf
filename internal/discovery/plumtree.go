package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// PlumtreeProtocol is the default protocol ID for the lightweight
// gossip-announcement discovery mechanism: peers flood a small JSON
// announcement of their own address set to their currently connected
// neighbors, which learn the sender's addresses without a DHT.
const PlumtreeProtocol p2ptypes.ProtocolID = "/libp2p/discovery/plumtree/1.0.0"

// announcement is the wire shape of a Plumtree discovery message.
type announcement struct {
	PeerID         string   `json:"peerID"`
	Addresses      []string `json:"addresses"`
	Timestamp      int64    `json:"timestamp"`
	SequenceNumber uint64   `json:"sequenceNumber"`
}

// PlumtreeDiscovery sends this node's address set to the peers named in
// Announce and feeds announcements it receives into the peer store,
// deduplicating by (peer, sequence). Received announcements are not
// relayed onward.
type PlumtreeDiscovery struct {
	host p2ptypes.StreamOpener
	self p2ptypes.PeerID

	mu       sync.Mutex
	seq      uint64
	lastSeen map[p2ptypes.PeerID]uint64
	store    *MemoryPeerStore
	events   *eventBroadcaster

	nowFn func() time.Time
}

// NewPlumtreeDiscovery wraps host, registering an inbound handler for
// PlumtreeProtocol. Discovered addresses are fed into store.
func NewPlumtreeDiscovery(host p2ptypes.StreamOpener, store *MemoryPeerStore) *PlumtreeDiscovery {
	d := &PlumtreeDiscovery{
		host:     host,
		self:     host.ID(),
		lastSeen: make(map[p2ptypes.PeerID]uint64),
		store:    store,
		events:   newEventBroadcaster(),
		nowFn:    time.Now,
	}
	host.SetStreamHandler(PlumtreeProtocol, d.handleStream)
	return d
}

// Observations returns a fresh subscriber stream, satisfying the
// Observable interface CompositeDiscovery uses to forward events.
func (d *PlumtreeDiscovery) Observations() (<-chan Event, func()) {
	return d.events.Subscribe(32)
}

// Stop removes the stream handler and shuts down the event stream.
func (d *PlumtreeDiscovery) Stop() {
	d.host.RemoveStreamHandler(PlumtreeProtocol)
	d.events.Shutdown()
}

// Announce sends this node's known addresses to every peer named in
// peers, each over its own fresh stream.
func (d *PlumtreeDiscovery) Announce(ctx context.Context, peers []p2ptypes.PeerID, addrs []p2ptypes.Multiaddr) {
	d.mu.Lock()
	d.seq++
	msg := announcement{
		PeerID:         d.self.String(),
		Timestamp:      d.nowFn().Unix(),
		SequenceNumber: d.seq,
	}
	d.mu.Unlock()
	for _, a := range addrs {
		msg.Addresses = append(msg.Addresses, a.String())
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, p := range peers {
		d.sendTo(ctx, p, payload)
	}
}

func (d *PlumtreeDiscovery) sendTo(ctx context.Context, p p2ptypes.PeerID, payload []byte) {
	stream, err := d.host.NewStream(ctx, p, PlumtreeProtocol)
	if err != nil {
		klog.Discovery.Debug().Err(err).Str("peer", p.String()).Msg("plumtree announce dial failed")
		return
	}
	defer stream.Close()
	if _, err := stream.Write(payload); err != nil {
		klog.Discovery.Debug().Err(err).Msg("plumtree announce write failed")
	}
}

func (d *PlumtreeDiscovery) handleStream(stream p2ptypes.MuxedStream) {
	defer stream.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
		if len(buf) > 64*1024 {
			return
		}
	}
	var msg announcement
	if err := json.Unmarshal(buf, &msg); err != nil {
		return
	}
	d.ingest(msg)
}

func (d *PlumtreeDiscovery) ingest(msg announcement) {
	peerID, err := parsePeerID(msg.PeerID)
	if err != nil || peerID == d.self {
		return
	}
	d.mu.Lock()
	if seen, ok := d.lastSeen[peerID]; ok && msg.SequenceNumber <= seen {
		d.mu.Unlock()
		return
	}
	d.lastSeen[peerID] = msg.SequenceNumber
	d.mu.Unlock()

	var addrs []p2ptypes.Multiaddr
	for _, s := range msg.Addresses {
		a, err := parseMultiaddrString(s)
		if err != nil {
			continue
		}
		addrs = append(addrs, a)
	}
	if d.store != nil && len(addrs) > 0 {
		d.store.AddAddresses(peerID, addrs, 0, false)
	}
	d.events.Emit(Event{Kind: EventAddressAdded, Peer: peerID})
}
