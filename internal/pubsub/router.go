package pubsub

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

const floodsubProtocol p2ptypes.ProtocolID = "/floodsub/1.0.0"
const gossipsubProtocol p2ptypes.ProtocolID = "/meshsub/1.1.0"

// FloodSubProtocolID and GossipSubProtocolID are the stream protocol
// IDs a transport registers to carry RPC frames to/from peers still on
// plain floodsub versus the full v1.1 mesh protocol.
const (
	FloodSubProtocolID  = floodsubProtocol
	GossipSubProtocolID = gossipsubProtocol
)

// RouterConfig collects every tunable named in spec §4.1/§4.2.
type RouterConfig struct {
	MaxSubscriptions int
	MaxMessageSize   int
	SignMessages     bool

	MeshDegree        int // D
	MeshDegreeLow     int // Dlo
	MeshDegreeHigh    int // Dhi
	MeshDegreeScore   int // Dscore
	MeshOutboundMin   int // Dout

	PruneBackoff time.Duration
	FanoutTTL    time.Duration

	GossipFactor     float64
	MaxIHaveLength   int
	MaxIHaveMessages int

	OpportunisticGraftThreshold float64
	OpportunisticGraftPeers     int
	OpportunisticGraftTicks     int

	HeartbeatInterval time.Duration
	HistoryLength     int
	GossipLength      int
	SeenTTL           time.Duration

	Score ScoreParams
}

// DefaultRouterConfig mirrors the spec's worked example constants
// (§8 scenario 3: low=3 high=12... generalized to D=6/Dlo=5/Dhi=12).
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxSubscriptions: 64,
		MaxMessageSize:   1 << 20,
		SignMessages:     true,

		MeshDegree:      6,
		MeshDegreeLow:   5,
		MeshDegreeHigh:  12,
		MeshDegreeScore: 4,
		MeshOutboundMin: 2,

		PruneBackoff: time.Minute,
		FanoutTTL:    60 * time.Second,

		GossipFactor:     0.25,
		MaxIHaveLength:   5000,
		MaxIHaveMessages: 10,

		OpportunisticGraftThreshold: 0,
		OpportunisticGraftPeers:     2,
		OpportunisticGraftTicks:     60,

		HeartbeatInterval: time.Second,
		HistoryLength:     5,
		GossipLength:      3,
		SeenTTL:           2 * time.Minute,

		Score: DefaultScoreParams(),
	}
}

// Forwarding is one outbound RPC the caller of HandleRPC/Publish should
// deliver to Peer.
type Forwarding struct {
	Peer p2ptypes.PeerID
	RPC  *RPC
}

// Router implements the GossipSub v1.1 state machine: subscription
// management, message validation/caching/forwarding, and the control
// message handlers (GRAFT/PRUNE/IHAVE/IWANT/IDONTWANT).
type Router struct {
	cfg   RouterConfig
	self  p2ptypes.PeerID
	privKey p2ptypes.PrivateKey

	mesh    *MeshState
	peers   *PeerStateStore
	seen    *SeenCache
	cache   *MessageCache
	scorer  *PeerScorer
	direct  *DirectPeers
	coloc   *ColocationTable
	metrics *metrics.Metrics
	tracer  EventTracer

	mu          sync.Mutex
	validators  map[Topic]Validator
	ihaveCount  map[p2ptypes.PeerID]int // IHAVE messages received from peer this heartbeat
	promises    map[p2ptypes.PeerID]map[MessageID]time.Time
	shutdown    bool
}

// NewRouter constructs a Router for local peer id self, optionally
// signing published messages with privKey.
func NewRouter(cfg RouterConfig, self p2ptypes.PeerID, privKey p2ptypes.PrivateKey, direct map[Topic][]p2ptypes.PeerID, m *metrics.Metrics, tracer EventTracer) *Router {
	if tracer == nil {
		tracer = NoopTracer{}
	}
	directPeers := NewDirectPeers(direct)
	coloc := NewColocationTable()
	return &Router{
		cfg:        cfg,
		self:       self,
		privKey:    privKey,
		mesh:       NewMeshState(),
		peers:      NewPeerStateStore(),
		seen:       NewSeenCache(cfg.SeenTTL),
		cache:      NewMessageCache(cfg.HistoryLength, cfg.GossipLength),
		scorer:     NewPeerScorer(cfg.Score, directPeers, coloc),
		direct:     directPeers,
		coloc:      coloc,
		metrics:    m,
		tracer:     tracer,
		validators: make(map[Topic]Validator),
		ihaveCount: make(map[p2ptypes.PeerID]int),
		promises:   make(map[p2ptypes.PeerID]map[MessageID]time.Time),
	}
}

// RegisterValidator installs a topic validator, replacing any previous
// one for the same topic.
func (r *Router) RegisterValidator(topic Topic, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[topic] = v
}

// AddPeer registers a newly connected peer.
func (r *Router) AddPeer(id p2ptypes.PeerID, dir Direction, proto p2ptypes.ProtocolID, remoteIP string) {
	r.peers.Add(NewPeerState(id, dir, proto))
	if remoteIP != "" {
		r.coloc.Register(id, remoteIP)
	}
}

// RemovePeer tears down all router state for a disconnected peer.
func (r *Router) RemovePeer(id p2ptypes.PeerID) {
	r.peers.Remove(id)
	r.mesh.RemovePeer(id)
	r.scorer.RemovePeer(id)
	r.coloc.Unregister(id)
	r.mu.Lock()
	delete(r.ihaveCount, id)
	delete(r.promises, id)
	r.mu.Unlock()
}

// Subscribe subscribes the local node to topic. Returns the GRAFT
// forwardings to issue (drained fanout peers, admitted as mesh
// candidates) and the announcement to broadcast to every connected peer.
func (r *Router) Subscribe(topic Topic) ([]Forwarding, *RPC, error) {
	if len(r.mesh.Topics()) >= r.cfg.MaxSubscriptions {
		if !r.mesh.IsSubscribed(topic) {
			return nil, nil, &ErrSubscriptionLimitReached{Limit: r.cfg.MaxSubscriptions}
		}
	}
	drained, ok := r.mesh.Subscribe(topic)
	if !ok {
		return nil, nil, ErrAlreadySubscribed
	}
	r.tracer.Join(topic)

	var forwards []Forwarding
	for _, p := range drained {
		if len(r.mesh.Mesh(topic)) >= r.cfg.MeshDegree {
			break
		}
		r.mesh.AddToMesh(topic, p)
		r.scorer.JoinMesh(p, topic)
		r.tracer.Graft(p, topic)
		r.metrics.Graft(string(topic), true)
		forwards = append(forwards, Forwarding{Peer: p, RPC: &RPC{Control: &ControlMessage{Graft: []ControlGraft{{Topic: topic}}}}})
	}

	announce := &RPC{Subscriptions: []SubOpt{{Topic: topic, Subscribe: true}}}
	return forwards, announce, nil
}

// Unsubscribe unsubscribes from topic, returning the PRUNE forwardings
// and the announcement to broadcast.
func (r *Router) Unsubscribe(topic Topic) ([]Forwarding, *RPC) {
	peers := r.mesh.Unsubscribe(topic)
	r.tracer.Leave(topic)
	var forwards []Forwarding
	for _, p := range peers {
		r.scorer.PruneMesh(p, topic)
		forwards = append(forwards, Forwarding{Peer: p, RPC: &RPC{Control: &ControlMessage{Prune: []ControlPrune{{Topic: topic, Backoff: r.cfg.PruneBackoff}}}}})
	}
	announce := &RPC{Subscriptions: []SubOpt{{Topic: topic, Subscribe: false}}}
	return forwards, announce
}

// defaultMsgIDFn computes a MessageID from source‖seqno (or data, if
// anonymous), per spec's default derivation.
func defaultMsgIDFn(m *Message) MessageID {
	var buf []byte
	if m.HasSource {
		buf = append(buf, m.Source...)
	}
	buf = append(buf, m.Seqno[:]...)
	if !m.HasSource {
		buf = append(buf, m.Data...)
	}
	return ComputeMessageID(buf)
}

// Publish builds and accepts a locally-originated message, returning it
// alongside the forwarding targets so a transport can wire it onto the
// network (the router itself has no notion of streams or dialing).
func (r *Router) Publish(topic Topic, data []byte) (*Message, []p2ptypes.PeerID, error) {
	if len(data) > r.cfg.MaxMessageSize {
		return nil, nil, &ErrMessageTooLarge{Size: len(data), Max: r.cfg.MaxMessageSize}
	}
	msg := &Message{
		Data:  data,
		Seqno: nextSeqno(),
		Topic: topic,
	}
	if r.self != "" {
		msg.Source = r.self
		msg.HasSource = true
	}
	if r.cfg.SignMessages {
		if r.privKey == nil {
			return nil, nil, ErrSigningKeyRequired
		}
		if !msg.HasSource {
			return nil, nil, ErrSigningRequiresSource
		}
		sig, err := r.privKey.Sign(append([]byte("libp2p-pubsub:"), encodeMessageSigningBytes(msg)...))
		if err != nil {
			return nil, nil, fmt.Errorf("sign message: %w", err)
		}
		msg.Signature = sig
		pub := r.privKey.GetPublic()
		if keyBytes, err := libp2pcrypto.MarshalPublicKey(pub); err == nil {
			msg.Key = keyBytes
		}
	}

	id := defaultMsgIDFn(msg)
	r.seen.Add(id)
	r.cache.Put(id, msg)
	r.metrics.PublishedMessage()

	return msg, r.peersForPublish(topic), nil
}

// peersForPublish implements spec §4.1's forwarding-target selection.
func (r *Router) peersForPublish(topic Topic) []p2ptypes.PeerID {
	set := make(map[p2ptypes.PeerID]struct{})

	if r.mesh.IsSubscribed(topic) {
		for _, p := range r.mesh.Mesh(topic) {
			set[p] = struct{}{}
		}
		for _, ps := range r.peers.SubscribedTo(topic) {
			if ps.Protocol == floodsubProtocol {
				set[ps.ID] = struct{}{}
			}
		}
	} else {
		fanout := r.mesh.Fanout(topic)
		if len(fanout) < r.cfg.MeshDegree {
			for _, ps := range r.peers.SubscribedTo(topic) {
				if len(r.mesh.Fanout(topic)) >= r.cfg.MeshDegree {
					break
				}
				r.mesh.AddToFanout(topic, ps.ID)
			}
			fanout = r.mesh.Fanout(topic)
		}
		for _, p := range fanout {
			set[p] = struct{}{}
		}
		r.mesh.TouchFanout(topic)
	}

	for _, p := range r.direct.ForTopic(topic) {
		set[p] = struct{}{}
	}

	out := make([]p2ptypes.PeerID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// HandleRPC processes one RPC received from peer from, in the order
// specified by §4.1.1: subscriptions, then messages, then control.
// It returns a response RPC addressed to from (IWANTs/PRUNEs/requested
// messages) and a list of forwardings for accepted messages.
func (r *Router) HandleRPC(from p2ptypes.PeerID, rpc *RPC) (*RPC, []Forwarding, error) {
	ps, ok := r.peers.Get(from)
	if !ok {
		return nil, nil, fmt.Errorf("pubsub: unknown peer %s", from)
	}

	// 1. Subscriptions.
	for _, sub := range rpc.Subscriptions {
		ps.SetSubscribed(sub.Topic, sub.Subscribe)
		if !sub.Subscribe {
			r.mesh.RemovePeerFromTopic(sub.Topic, from)
		}
	}

	resp := &RPC{Control: &ControlMessage{}}
	var forwards []Forwarding

	// 2. Messages.
	for _, msg := range rpc.Messages {
		msg.ReceivedFrom = from
		fwd, err := r.handleMessage(from, msg)
		if err != nil {
			klog.PubSub.Debug().Err(err).Str("peer", from.String()).Msg("message handling error")
			continue
		}
		forwards = append(forwards, fwd...)
	}

	// 3. Control messages — ignored wholesale from graylisted peers,
	// except PRUNE removal already reflected via subscription handling.
	if rpc.Control != nil && !r.scorer.IsGraylisted(from) {
		r.handleControl(from, rpc.Control, resp)
	}

	if resp.Control.empty() {
		resp.Control = nil
	}
	return resp, forwards, nil
}

func (r *Router) handleMessage(from p2ptypes.PeerID, msg *Message) ([]Forwarding, error) {
	id := defaultMsgIDFn(msg)

	// (a) size.
	if len(msg.Data) > r.cfg.MaxMessageSize {
		r.seen.Add(id)
		r.scorer.RecordInvalidMessage(from, msg.Topic)
		r.tracer.RejectMessage(from, msg, "message-too-large")
		r.metrics.MessageDropped("too-large")
		return nil, nil
	}

	// (b) signature.
	if r.cfg.SignMessages && len(msg.Signature) > 0 {
		if !r.verifySignature(msg) {
			r.seen.Add(id)
			r.scorer.RecordInvalidMessage(from, msg.Topic)
			r.tracer.RejectMessage(from, msg, "invalid-signature")
			r.metrics.MessageDropped("invalid-signature")
			return nil, nil
		}
	}

	// (c) topic validator.
	r.mu.Lock()
	validator := r.validators[msg.Topic]
	r.mu.Unlock()
	if validator != nil {
		switch validator(from, msg) {
		case ValidationReject:
			r.seen.Add(id)
			r.scorer.RecordInvalidMessage(from, msg.Topic)
			r.tracer.RejectMessage(from, msg, "validator-reject")
			r.metrics.MessageDropped("validator-reject")
			return nil, nil
		case ValidationIgnore:
			r.seen.Add(id)
			r.metrics.MessageDropped("validator-ignore")
			return nil, nil
		}
	}

	// Dedup.
	if !r.seen.Add(id) {
		r.scorer.AddPenalty(from, 0) // duplicates carry no direct penalty weight by default; tracked for visibility only
		r.tracer.DuplicateMessage(from, msg)
		r.metrics.MessageDropped("duplicate")
		return nil, nil
	}

	r.cache.Put(id, msg)
	r.scorer.RecordFirstMessageDelivery(from, msg.Topic)
	r.tracer.DeliverMessage(msg)
	r.metrics.DeliveredMessage()
	r.clearPromise(from, id)

	targets := make(map[p2ptypes.PeerID]struct{})
	for _, p := range r.mesh.Mesh(msg.Topic) {
		targets[p] = struct{}{}
	}
	for _, p := range r.direct.ForTopic(msg.Topic) {
		targets[p] = struct{}{}
	}
	delete(targets, from)
	if msg.HasSource {
		delete(targets, msg.Source)
	}

	if len(targets) == 0 {
		return nil, nil
	}
	fwdRPC := &RPC{Messages: []*Message{msg}}
	var forwards []Forwarding
	for p := range targets {
		if r.scorer.IsGraylisted(p) {
			continue
		}
		forwards = append(forwards, Forwarding{Peer: p, RPC: fwdRPC})
	}
	return forwards, nil
}

func (r *Router) verifySignature(msg *Message) bool {
	if len(msg.Key) == 0 || !msg.HasSource {
		return false
	}
	key, err := unmarshalPublicKey(msg.Key)
	if err != nil {
		return false
	}
	derived, err := derivePeerID(key)
	if err != nil || derived != msg.Source {
		return false
	}
	ok, err := key.Verify(append([]byte("libp2p-pubsub:"), encodeMessageSigningBytes(msg)...), msg.Signature)
	return err == nil && ok
}

func (r *Router) handleControl(from p2ptypes.PeerID, ctrl *ControlMessage, resp *RPC) {
	for _, g := range ctrl.Graft {
		r.handleGraft(from, g.Topic, resp)
	}
	for _, p := range ctrl.Prune {
		r.handlePrune(from, p)
	}
	for _, ih := range ctrl.IHave {
		r.handleIHave(from, ih, resp)
	}
	for _, iw := range ctrl.IWant {
		r.handleIWant(from, iw, resp)
	}
	for _, idw := range ctrl.IDontWant {
		_ = idw // best-effort optimization; no suppression state kept beyond this call
	}
}

func (r *Router) handleGraft(from p2ptypes.PeerID, topic Topic, resp *RPC) {
	ps, ok := r.peers.Get(from)
	if !ok {
		return
	}
	if !r.mesh.IsSubscribed(topic) {
		resp.Control.Prune = append(resp.Control.Prune, ControlPrune{Topic: topic, Backoff: r.cfg.PruneBackoff})
		return
	}
	if r.direct.IsDirect(topic, from) {
		r.mesh.AddToMesh(topic, from)
		r.scorer.JoinMesh(from, topic)
		r.tracer.Graft(from, topic)
		r.metrics.Graft(string(topic), false)
		return
	}
	if _, backed := ps.Backoff(topic); backed {
		r.scorer.AddPenalty(from, 1) // graftDuringBackoff
		resp.Control.Prune = append(resp.Control.Prune, ControlPrune{Topic: topic, Backoff: r.cfg.PruneBackoff})
		return
	}
	r.mesh.AddToMesh(topic, from)
	r.scorer.JoinMesh(from, topic)
	r.tracer.Graft(from, topic)
	r.metrics.Graft(string(topic), false)
	if r.mesh.MeshSize(topic) > r.cfg.MeshDegreeHigh {
		// Admitted; the next heartbeat's maintainMesh will prune back to band.
		klog.PubSub.Debug().Str("topic", string(topic)).Msg("mesh above high-water after GRAFT, deferring to heartbeat")
	}
}

func (r *Router) handlePrune(from p2ptypes.PeerID, p ControlPrune) {
	r.mesh.RemoveFromMesh(p.Topic, from)
	r.scorer.PruneMesh(from, p.Topic)
	if ps, ok := r.peers.Get(from); ok {
		backoff := p.Backoff
		if backoff == 0 {
			backoff = r.cfg.PruneBackoff
		}
		ps.SetBackoff(p.Topic, time.Now().Add(backoff))
	}
	r.tracer.Prune(from, p.Topic)
	r.metrics.Prune(string(p.Topic), "peer-prune")
	// peerExchange hints are recorded for discovery to pick up; the
	// router itself only remembers that they were offered.
	_ = p.PeerRecord
}

func (r *Router) handleIHave(from p2ptypes.PeerID, ih ControlIHave, resp *RPC) {
	if !r.mesh.IsSubscribed(ih.Topic) {
		return
	}
	r.mu.Lock()
	r.ihaveCount[from]++
	count := r.ihaveCount[from]
	r.mu.Unlock()
	if count > r.cfg.MaxIHaveMessages {
		r.scorer.AddPenalty(from, 1) // excessiveIWant via IHAVE flood
		return
	}

	var want []MessageID
	for i, id := range ih.IDs {
		if i >= r.cfg.MaxIHaveLength {
			break
		}
		if r.seen.Contains(id) || r.cache.Contains(id) {
			continue
		}
		want = append(want, id)
		r.recordPromise(from, id)
	}
	if len(want) > 0 {
		resp.Control.IWant = append(resp.Control.IWant, ControlIWant{IDs: want})
	}
}

func (r *Router) handleIWant(from p2ptypes.PeerID, iw ControlIWant, resp *RPC) {
	if len(iw.IDs) > r.cfg.MaxIHaveLength {
		r.scorer.AddPenalty(from, 1) // excessiveIWant
	}
	for _, id := range iw.IDs {
		if r.scorer.IsGraylisted(from) {
			return
		}
		if msg, ok := r.cache.Get(id); ok {
			resp.Messages = append(resp.Messages, msg)
		}
	}
}

func (r *Router) recordPromise(peer p2ptypes.PeerID, id MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.promises[peer] == nil {
		r.promises[peer] = make(map[MessageID]time.Time)
	}
	r.promises[peer][id] = time.Now().Add(3 * time.Second)
}

func (r *Router) clearPromise(peer p2ptypes.PeerID, id MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.promises[peer], id)
}

// CheckBrokenPromises penalizes peers whose IHAVE promise deadline
// elapsed without delivering the message; called from the heartbeat.
func (r *Router) CheckBrokenPromises() {
	r.mu.Lock()
	now := time.Now()
	var broken []p2ptypes.PeerID
	for peer, ids := range r.promises {
		for id, deadline := range ids {
			if now.After(deadline) {
				broken = append(broken, peer)
				delete(ids, id)
			}
		}
	}
	r.mu.Unlock()
	for _, p := range broken {
		r.scorer.AddPenalty(p, 1) // broken IHAVE promise
	}
}

// Scorer exposes the router's PeerScorer for the heartbeat and metrics.
func (r *Router) Scorer() *PeerScorer { return r.scorer }

// Mesh exposes the router's MeshState for the heartbeat.
func (r *Router) Mesh() *MeshState { return r.mesh }

// Peers exposes the router's PeerStateStore for the heartbeat.
func (r *Router) Peers() *PeerStateStore { return r.peers }

// Cache exposes the router's MessageCache for the heartbeat.
func (r *Router) Cache() *MessageCache { return r.cache }

// Seen exposes the router's SeenCache for the heartbeat.
func (r *Router) Seen() *SeenCache { return r.seen }

// Direct exposes the router's per-topic DirectPeers set.
func (r *Router) Direct() *DirectPeers { return r.direct }

// Config returns the router's configuration.
func (r *Router) Config() RouterConfig { return r.cfg }

// Metrics returns the router's metrics bundle, possibly nil.
func (r *Router) Metrics() *metrics.Metrics { return r.metrics }

// ResetIHaveAccounting clears per-heartbeat IHAVE accounting; called at
// the start of each heartbeat tick.
func (r *Router) ResetIHaveAccounting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ihaveCount = make(map[p2ptypes.PeerID]int)
}

// candidatesForGraft returns peers subscribed to topic, not already in
// mesh, above the publish score floor, and not currently backed off
// (unless direct).
func (r *Router) candidatesForGraft(topic Topic) []*PeerState {
	var out []*PeerState
	for _, ps := range r.peers.SubscribedTo(topic) {
		if r.mesh.InMesh(topic, ps.ID) {
			continue
		}
		if ps.Protocol == floodsubProtocol {
			continue
		}
		if r.scorer.BelowPublishThreshold(ps.ID) {
			continue
		}
		if !r.direct.IsDirect(topic, ps.ID) {
			if _, backed := ps.Backoff(topic); backed {
				continue
			}
		}
		out = append(out, ps)
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Direction == DirectionOutbound && out[j].Direction != DirectionOutbound
	})
	return out
}
