package pubsub

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// SendFunc delivers an RPC to a single peer. The heartbeat and router
// never know the transport; callers inject this.
type SendFunc func(peer p2ptypes.PeerID, rpc *RPC)

// HeartbeatManager owns the single periodic task that keeps the mesh in
// its target band, shifts the message cache window, expires backoffs,
// opportunistically grafts underperforming topics, and emits gossip.
// Start/Shutdown are idempotent. heartbeatCount increases monotonically
// and is safe to read concurrently.
type HeartbeatManager struct {
	router *Router
	send   SendFunc
	ticks  safeCounter

	interval      time.Duration
	graftEvery    int
	graftPeers    int
	graftThresh   float64
	gossipFactor  float64
	fanoutTTL     time.Duration
	historyLength int

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	stopped  chan struct{}
}

type safeCounter struct {
	mu sync.Mutex
	n  uint64
}

func (c *safeCounter) inc() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

func (c *safeCounter) get() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// NewHeartbeatManager creates a HeartbeatManager bound to router, using
// cfg's heartbeat-related tunables.
func NewHeartbeatManager(router *Router, send SendFunc) *HeartbeatManager {
	cfg := router.Config()
	return &HeartbeatManager{
		router:        router,
		send:          send,
		interval:      cfg.HeartbeatInterval,
		graftEvery:    cfg.OpportunisticGraftTicks,
		graftPeers:    cfg.OpportunisticGraftPeers,
		graftThresh:   cfg.OpportunisticGraftThreshold,
		gossipFactor:  cfg.GossipFactor,
		fanoutTTL:     cfg.FanoutTTL,
		historyLength: cfg.HistoryLength,
	}
}

// Start launches the periodic task if it is not already running.
// Idempotent.
func (h *HeartbeatManager) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	taskCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running = true
	h.stopped = make(chan struct{})
	go h.loop(taskCtx, h.stopped)
}

// Shutdown cancels the periodic task and waits for it to exit.
// Idempotent.
func (h *HeartbeatManager) Shutdown() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	cancel := h.cancel
	stopped := h.stopped
	h.running = false
	h.mu.Unlock()

	cancel()
	<-stopped
}

// HeartbeatCount returns the number of completed heartbeat ticks.
func (h *HeartbeatManager) HeartbeatCount() uint64 {
	return h.ticks.get()
}

func (h *HeartbeatManager) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.PerformHeartbeat()
		}
	}
}

// PerformHeartbeat runs one heartbeat tick synchronously. Exposed
// directly so tests can drive deterministic ticks without a timer.
func (h *HeartbeatManager) PerformHeartbeat() {
	start := time.Now()
	count := h.ticks.inc()

	r := h.router
	r.ResetIHaveAccounting()

	for _, topic := range r.Mesh().Topics() {
		h.maintainMesh(topic)
	}
	r.Cache().Shift()
	r.Seen().Sweep()
	for _, ps := range r.Peers().All() {
		ps.CleanupBackoffs()
	}
	r.Scorer().Decay()
	r.CheckBrokenPromises()

	if h.graftEvery > 0 && int(count)%h.graftEvery == 0 {
		for _, topic := range r.Mesh().Topics() {
			h.opportunisticGraft(topic)
		}
	}

	for _, topic := range r.Mesh().Topics() {
		h.emitIHaveGossip(topic)
	}

	for _, topic := range r.Mesh().ExpireFanout(h.fanoutTTL) {
		klog.PubSub.Debug().Str("topic", string(topic)).Msg("fanout expired")
	}

	r.Metrics().ObserveHeartbeat(time.Since(start))
	for _, topic := range r.Mesh().Topics() {
		r.Metrics().SetMeshPeers(string(topic), r.Mesh().MeshSize(topic))
	}
}

func (h *HeartbeatManager) maintainMesh(topic Topic) {
	r := h.router
	cfg := r.Config()

	for _, p := range r.Mesh().Mesh(topic) {
		if _, connected := r.Peers().Get(p); !connected {
			r.Mesh().RemoveFromMesh(topic, p)
		}
	}

	for _, p := range r.Mesh().Mesh(topic) {
		if r.Scorer().BelowGossipThreshold(p) && !r.Direct().IsDirect(topic, p) {
			r.Mesh().RemoveFromMesh(topic, p)
			r.Scorer().PruneMesh(p, topic)
			r.Scorer().RecordMeshFailure(p, topic)
			h.prune(p, topic)
		}
	}

	size := r.Mesh().MeshSize(topic)
	switch {
	case size < cfg.MeshDegreeLow:
		need := cfg.MeshDegree - size
		if need <= 0 {
			break
		}
		for _, ps := range r.candidatesForGraft(topic) {
			if need <= 0 {
				break
			}
			r.Mesh().AddToMesh(topic, ps.ID)
			r.Scorer().JoinMesh(ps.ID, topic)
			h.graft(ps.ID, topic)
			need--
		}
	case size > cfg.MeshDegreeHigh:
		excess := size - cfg.MeshDegree
		if excess <= 0 {
			break
		}
		candidates := r.Mesh().Mesh(topic)
		rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
		sort.SliceStable(candidates, func(i, j int) bool {
			di := h.isOutbound(candidates[i])
			dj := h.isOutbound(candidates[j])
			return !di && dj // inbound first, so outbound survive longer
		})
		outboundKept := 0
		for _, p := range candidates {
			if excess <= 0 {
				break
			}
			if r.Direct().IsDirect(topic, p) {
				continue
			}
			if h.isOutbound(p) {
				if outboundKept < cfg.MeshOutboundMin {
					outboundKept++
					continue
				}
			}
			r.Mesh().RemoveFromMesh(topic, p)
			r.Scorer().PruneMesh(p, topic)
			if ps, ok := r.Peers().Get(p); ok {
				ps.SetBackoff(topic, time.Now().Add(cfg.PruneBackoff))
			}
			h.prune(p, topic)
			excess--
		}
	}
}

func (h *HeartbeatManager) isOutbound(p p2ptypes.PeerID) bool {
	ps, ok := h.router.Peers().Get(p)
	return ok && ps.Direction == DirectionOutbound
}

func (h *HeartbeatManager) graft(peer p2ptypes.PeerID, topic Topic) {
	h.router.metrics.Graft(string(topic), true)
	h.router.tracer.Graft(peer, topic)
	h.send(peer, &RPC{Control: &ControlMessage{Graft: []ControlGraft{{Topic: topic}}}})
}

func (h *HeartbeatManager) prune(peer p2ptypes.PeerID, topic Topic) {
	h.router.metrics.Prune(string(topic), "heartbeat")
	h.router.tracer.Prune(peer, topic)
	cfg := h.router.Config()
	h.send(peer, &RPC{Control: &ControlMessage{Prune: []ControlPrune{{Topic: topic, Backoff: cfg.PruneBackoff}}}})
}

// opportunisticGraft admits extra above-median-score peers when the
// mesh's median score falls below the configured threshold, per §4.1.2.
func (h *HeartbeatManager) opportunisticGraft(topic Topic) {
	r := h.router
	members := r.Mesh().Mesh(topic)
	if len(members) == 0 {
		return
	}
	scores := make([]float64, len(members))
	for i, p := range members {
		scores[i] = r.Scorer().Score(p)
	}
	median := medianOf(scores)
	if median >= h.graftThresh {
		return
	}

	var candidates []*PeerState
	for _, ps := range r.candidatesForGraft(topic) {
		if r.Scorer().Score(ps.ID) > median {
			candidates = append(candidates, ps)
		}
	}
	added := 0
	for _, ps := range candidates {
		if added >= h.graftPeers {
			break
		}
		r.Mesh().AddToMesh(topic, ps.ID)
		r.Scorer().JoinMesh(ps.ID, topic)
		h.graft(ps.ID, topic)
		added++
	}
}

func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// emitIHaveGossip sends IHAVE summaries to a random sample of
// gossipFactor·|subscribers| subscribed peers outside the mesh.
func (h *HeartbeatManager) emitIHaveGossip(topic Topic) {
	r := h.router
	ids := r.Cache().GossipIDs(topic)
	if len(ids) == 0 {
		return
	}
	var outside []p2ptypes.PeerID
	for _, ps := range r.Peers().SubscribedTo(topic) {
		if !r.Mesh().InMesh(topic, ps.ID) {
			outside = append(outside, ps.ID)
		}
	}
	if len(outside) == 0 {
		return
	}
	n := int(float64(len(outside)) * h.gossipFactor)
	if n < 1 {
		n = 1
	}
	if n > len(outside) {
		n = len(outside)
	}
	rand.Shuffle(len(outside), func(i, j int) { outside[i], outside[j] = outside[j], outside[i] })
	sample := outside[:n]
	for _, p := range sample {
		if r.Scorer().IsGraylisted(p) {
			continue
		}
		h.send(p, &RPC{Control: &ControlMessage{IHave: []ControlIHave{{Topic: topic, IDs: ids}}}})
	}
}
