package pubsub

import (
	"math"
	"sync"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// ScoreParams configures every weighted component of the peer scoring
// function (spec §4.1.3, components P1-P7).
type ScoreParams struct {
	TopicWeight float64 // multiplies every per-topic component below

	TimeInMeshWeight float64
	TimeInMeshQuantum time.Duration
	TimeInMeshCap     float64

	FirstMessageDeliveriesWeight float64
	FirstMessageDeliveriesDecay  float64
	FirstMessageDeliveriesCap    float64

	MeshMessageDeliveriesWeight    float64
	MeshMessageDeliveriesDecay     float64
	MeshMessageDeliveriesThreshold float64
	MeshMessageDeliveriesCap       float64
	MeshMessageDeliveriesActivation time.Duration

	MeshFailurePenaltyWeight float64
	MeshFailurePenaltyDecay  float64

	InvalidMessageDeliveriesWeight float64
	InvalidMessageDeliveriesDecay  float64

	AppSpecificWeight float64

	IPColocationWeight    float64
	IPColocationThreshold int

	BehaviorPenaltyWeight float64
	BehaviorPenaltyDecay  float64

	GraylistThreshold  float64
	PublishThreshold   float64
	GossipThreshold    float64
	ScoreCap           float64
	DecayInterval      time.Duration
	DecayToZero        float64
}

// DefaultScoreParams mirrors the reference GossipSub v1.1 defaults in
// proportion, scaled to this implementation's own constants.
func DefaultScoreParams() ScoreParams {
	return ScoreParams{
		TopicWeight:       1,
		TimeInMeshWeight:  0.01,
		TimeInMeshQuantum: time.Second,
		TimeInMeshCap:     10,

		FirstMessageDeliveriesWeight: 1,
		FirstMessageDeliveriesDecay:  0.5,
		FirstMessageDeliveriesCap:    50,

		MeshMessageDeliveriesWeight:     -1,
		MeshMessageDeliveriesDecay:      0.5,
		MeshMessageDeliveriesThreshold:  20,
		MeshMessageDeliveriesCap:        100,
		MeshMessageDeliveriesActivation: 5 * time.Second,

		MeshFailurePenaltyWeight: -1,
		MeshFailurePenaltyDecay:  0.5,

		InvalidMessageDeliveriesWeight: -100,
		InvalidMessageDeliveriesDecay:  0.3,

		AppSpecificWeight: 1,

		IPColocationWeight:    -5,
		IPColocationThreshold: 1,

		BehaviorPenaltyWeight: -10,
		BehaviorPenaltyDecay:  0.3,

		GraylistThreshold: -80,
		PublishThreshold:  -40,
		GossipThreshold:   -10,
		ScoreCap:          100,
		DecayInterval:     time.Minute,
		DecayToZero:       0.01,
	}
}

// topicCounters holds the per-topic mutable state feeding P1-P4.
type topicCounters struct {
	meshJoinedAt time.Time
	inMesh       bool

	timeInMesh              float64
	firstMessageDeliveries  float64
	meshMessageDeliveries   float64
	meshFailures            float64
	invalidMessageDeliveries float64
}

// peerScoreState is one peer's full scoring record.
type peerScoreState struct {
	connectedAt  time.Time
	protected    bool
	disconnected bool
	topics       map[Topic]*topicCounters
	appSpecific  float64
	behavior     float64
}

// PeerScorer computes and maintains the numeric reputation of every
// connected peer, per spec §4.1.3.
type PeerScorer struct {
	params ScoreParams
	direct *DirectPeers
	coloc  *ColocationTable

	mu    sync.Mutex
	peers map[p2ptypes.PeerID]*peerScoreState
}

// NewPeerScorer creates a PeerScorer. direct peers are always protected
// (score fixed at 0, no penalties, never graylisted).
func NewPeerScorer(params ScoreParams, direct *DirectPeers, coloc *ColocationTable) *PeerScorer {
	return &PeerScorer{
		params: params,
		direct: direct,
		coloc:  coloc,
		peers:  make(map[p2ptypes.PeerID]*peerScoreState),
	}
}

func (s *PeerScorer) state(peer p2ptypes.PeerID) *peerScoreState {
	st, ok := s.peers[peer]
	if !ok {
		st = &peerScoreState{
			connectedAt: time.Now(),
			protected:   s.direct.IsDirectAny(peer),
			topics:      make(map[Topic]*topicCounters),
		}
		s.peers[peer] = st
	}
	st.disconnected = false
	return st
}

func (st *peerScoreState) topic(t Topic) *topicCounters {
	tc, ok := st.topics[t]
	if !ok {
		tc = &topicCounters{}
		st.topics[t] = tc
	}
	return tc
}

// AddPenalty is a catch-all entry point for the P7 behavior-penalty
// component (GRAFT during backoff, excessive IWANT, broken IHAVE
// promise, topic mismatch). It is a no-op for protected peers.
func (s *PeerScorer) AddPenalty(peer p2ptypes.PeerID, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(peer)
	if st.protected {
		return
	}
	st.behavior += amount
}

// RecordInvalidMessage applies the P4 invalid-message penalty for topic.
func (s *PeerScorer) RecordInvalidMessage(peer p2ptypes.PeerID, topic Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(peer)
	if st.protected {
		return
	}
	st.topic(topic).invalidMessageDeliveries++
}

// RecordFirstMessageDelivery applies the P2 component for topic.
func (s *PeerScorer) RecordFirstMessageDelivery(peer p2ptypes.PeerID, topic Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(peer)
	if st.protected {
		return
	}
	tc := st.topic(topic)
	tc.firstMessageDeliveries = math.Min(tc.firstMessageDeliveries+1, s.params.FirstMessageDeliveriesCap)
	if tc.inMesh {
		tc.meshMessageDeliveries = math.Min(tc.meshMessageDeliveries+1, s.params.MeshMessageDeliveriesCap)
	}
}

// RecordMeshFailure applies the P3b penalty: a peer pruned for
// performance rather than churn.
func (s *PeerScorer) RecordMeshFailure(peer p2ptypes.PeerID, topic Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(peer)
	if st.protected {
		return
	}
	st.topic(topic).meshFailures++
}

// SetAppSpecific sets the P5 application-specific score for peer.
func (s *PeerScorer) SetAppSpecific(peer p2ptypes.PeerID, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(peer)
	if st.protected {
		return
	}
	st.appSpecific = score
}

// JoinMesh marks peer as having joined mesh(topic) now, starting the P1
// time-in-mesh clock and the P3 grace window.
func (s *PeerScorer) JoinMesh(peer p2ptypes.PeerID, topic Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc := s.state(peer).topic(topic)
	tc.inMesh = true
	tc.meshJoinedAt = time.Now()
}

// PruneMesh marks peer as having left mesh(topic).
func (s *PeerScorer) PruneMesh(peer p2ptypes.PeerID, topic Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc := s.state(peer).topic(topic)
	tc.inMesh = false
}

// Score computes peer's current aggregate score. Protected peers always
// score exactly 0.
func (s *PeerScorer) Score(peer p2ptypes.PeerID) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoreLocked(peer)
}

func (s *PeerScorer) scoreLocked(peer p2ptypes.PeerID) float64 {
	st, ok := s.peers[peer]
	if !ok {
		return 0
	}
	if st.protected {
		return 0
	}

	var total float64
	now := time.Now()
	for _, tc := range st.topics {
		var topicScore float64

		if tc.inMesh {
			inMesh := now.Sub(tc.meshJoinedAt)
			quanta := float64(inMesh / s.params.TimeInMeshQuantum)
			topicScore += s.params.TimeInMeshWeight * math.Min(quanta, s.params.TimeInMeshCap)

			if inMesh >= s.params.MeshMessageDeliveriesActivation &&
				tc.meshMessageDeliveries < s.params.MeshMessageDeliveriesThreshold {
				deficit := s.params.MeshMessageDeliveriesThreshold - tc.meshMessageDeliveries
				topicScore += s.params.MeshMessageDeliveriesWeight * deficit * deficit
			}
		}

		topicScore += s.params.FirstMessageDeliveriesWeight * tc.firstMessageDeliveries
		topicScore += s.params.MeshFailurePenaltyWeight * tc.meshFailures * tc.meshFailures
		topicScore += s.params.InvalidMessageDeliveriesWeight * tc.invalidMessageDeliveries * tc.invalidMessageDeliveries

		total += s.params.TopicWeight * topicScore
	}

	total += s.params.AppSpecificWeight * st.appSpecific
	total += s.params.BehaviorPenaltyWeight * st.behavior * st.behavior

	colocated := s.coloc.Colocated(peer)
	if excess := colocated - s.params.IPColocationThreshold; excess > 0 {
		total += s.params.IPColocationWeight * float64(excess) * float64(excess)
	}

	if total > s.params.ScoreCap {
		total = s.params.ScoreCap
	}
	return total
}

// IsGraylisted reports whether peer's score is at or below
// graylistThreshold. Protected peers are never graylisted.
func (s *PeerScorer) IsGraylisted(peer p2ptypes.PeerID) bool {
	s.mu.Lock()
	st, ok := s.peers[peer]
	protected := ok && st.protected
	s.mu.Unlock()
	if protected {
		return false
	}
	return s.Score(peer) <= s.params.GraylistThreshold
}

// BelowPublishThreshold reports whether peer should be excluded as a
// forwarding target.
func (s *PeerScorer) BelowPublishThreshold(peer p2ptypes.PeerID) bool {
	return s.Score(peer) < s.params.PublishThreshold
}

// BelowGossipThreshold reports whether peer should be excluded as a
// gossip/mesh-eligible target.
func (s *PeerScorer) BelowGossipThreshold(peer p2ptypes.PeerID) bool {
	return s.Score(peer) < s.params.GossipThreshold
}

// RemovePeer marks peer as disconnected. Its scoring record is kept,
// not wiped: per spec the record is cleared on disconnect only after
// decay, so a peer can't erase accumulated penalties by dropping and
// reconnecting. Decay() ages the record out via DecayToZero once every
// counter has settled at zero.
func (s *PeerScorer) RemovePeer(peer p2ptypes.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.peers[peer]; ok {
		st.disconnected = true
	}
}

// Decay applies multiplicative decay to every counter of every peer,
// per spec's decayInterval policy. Values that fall under DecayToZero
// snap to zero. A disconnected peer whose counters have all settled at
// zero is dropped from the table entirely.
func (s *PeerScorer) Decay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.peers {
		st.behavior = decay(st.behavior, s.params.BehaviorPenaltyDecay, s.params.DecayToZero)
		zero := st.behavior == 0 && st.appSpecific == 0
		for _, tc := range st.topics {
			tc.firstMessageDeliveries = decay(tc.firstMessageDeliveries, s.params.FirstMessageDeliveriesDecay, s.params.DecayToZero)
			tc.meshMessageDeliveries = decay(tc.meshMessageDeliveries, s.params.MeshMessageDeliveriesDecay, s.params.DecayToZero)
			tc.meshFailures = decay(tc.meshFailures, s.params.MeshFailurePenaltyDecay, s.params.DecayToZero)
			tc.invalidMessageDeliveries = decay(tc.invalidMessageDeliveries, s.params.InvalidMessageDeliveriesDecay, s.params.DecayToZero)
			if tc.firstMessageDeliveries != 0 || tc.meshMessageDeliveries != 0 || tc.meshFailures != 0 || tc.invalidMessageDeliveries != 0 {
				zero = false
			}
		}
		if st.disconnected && zero {
			delete(s.peers, id)
		}
	}
}

func decay(v, factor, toZero float64) float64 {
	v *= factor
	if math.Abs(v) < toZero {
		return 0
	}
	return v
}

// Snapshot returns the current score of every peer in the scoring table,
// keyed by peer ID, for metrics export. This includes disconnected peers
// not yet decayed away, and protected peers (which score 0).
func (s *PeerScorer) Snapshot() map[p2ptypes.PeerID]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[p2ptypes.PeerID]float64, len(s.peers))
	for p := range s.peers {
		out[p] = s.scoreLocked(p)
	}
	return out
}
