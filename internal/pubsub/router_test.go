package pubsub

import (
	"testing"
	"time"

	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

func newTestRouter() *Router {
	cfg := DefaultRouterConfig()
	cfg.SignMessages = false
	return NewRouter(cfg, p2ptypes.PeerID("self"), nil, nil, metrics.New(), NoopTracer{})
}

func TestRouter_SubscribeUnsubscribe(t *testing.T) {
	r := newTestRouter()

	forwards, announce, err := r.Subscribe("chat")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(forwards) != 0 {
		t.Fatalf("forwards = %d, want 0 (no fanout peers yet)", len(forwards))
	}
	if len(announce.Subscriptions) != 1 || !announce.Subscriptions[0].Subscribe {
		t.Fatalf("announce = %+v", announce)
	}

	if _, _, err := r.Subscribe("chat"); err != ErrAlreadySubscribed {
		t.Fatalf("second Subscribe err = %v, want ErrAlreadySubscribed", err)
	}

	r.AddPeer("p1", DirectionOutbound, gossipsubProtocol, "")
	if ps, ok := r.Peers().Get("p1"); ok {
		ps.SetSubscribed("chat", true)
	}
	r.mesh.AddToMesh("chat", "p1")

	pruneForwards, unannounce := r.Unsubscribe("chat")
	if len(pruneForwards) != 1 || pruneForwards[0].Peer != "p1" {
		t.Fatalf("prune forwards = %+v", pruneForwards)
	}
	if unannounce.Subscriptions[0].Subscribe {
		t.Fatal("unsubscribe announcement must carry Subscribe=false")
	}
}

func TestRouter_SubscriptionLimitReached(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.MaxSubscriptions = 1
	r := NewRouter(cfg, p2ptypes.PeerID("self"), nil, nil, metrics.New(), NoopTracer{})

	if _, _, err := r.Subscribe("a"); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	_, _, err := r.Subscribe("b")
	if _, ok := err.(*ErrSubscriptionLimitReached); !ok {
		t.Fatalf("err = %v (%T), want *ErrSubscriptionLimitReached", err, err)
	}
}

func TestRouter_PublishRejectsOversizedMessage(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.SignMessages = false
	cfg.MaxMessageSize = 4
	r := NewRouter(cfg, p2ptypes.PeerID("self"), nil, nil, metrics.New(), NoopTracer{})

	_, _, err := r.Publish("t", []byte("too long"))
	if _, ok := err.(*ErrMessageTooLarge); !ok {
		t.Fatalf("err = %v (%T), want *ErrMessageTooLarge", err, err)
	}
}

func TestRouter_PublishForwardsToMeshPeers(t *testing.T) {
	r := newTestRouter()
	r.Subscribe("t")
	r.AddPeer("p1", DirectionOutbound, gossipsubProtocol, "")
	r.mesh.AddToMesh("t", "p1")

	_, targets, err := r.Publish("t", []byte("hi"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(targets) != 1 || targets[0] != "p1" {
		t.Fatalf("targets = %+v", targets)
	}
}

func TestRouter_HandleRPC_DeliversAndForwardsOnce(t *testing.T) {
	r := newTestRouter()
	r.Subscribe("t")
	r.AddPeer("from", DirectionInbound, gossipsubProtocol, "")
	r.AddPeer("mesh-peer", DirectionOutbound, gossipsubProtocol, "")
	r.mesh.AddToMesh("t", "mesh-peer")

	rpc := &RPC{Messages: []*Message{{Data: []byte("hi"), Topic: "t", Seqno: [8]byte{1}}}}

	resp, forwards, err := r.HandleRPC("from", rpc)
	if err != nil {
		t.Fatalf("HandleRPC: %v", err)
	}
	if resp != nil && resp.Control != nil {
		t.Fatalf("unexpected control response: %+v", resp.Control)
	}
	if len(forwards) != 1 || forwards[0].Peer != "mesh-peer" {
		t.Fatalf("forwards = %+v", forwards)
	}

	// Re-deliver the identical RPC: must now be treated as a duplicate.
	_, forwards2, err := r.HandleRPC("from", rpc)
	if err != nil {
		t.Fatalf("HandleRPC (dup): %v", err)
	}
	if len(forwards2) != 0 {
		t.Fatalf("duplicate message must not be forwarded again: %+v", forwards2)
	}
}

func TestRouter_HandleRPC_GraftForUnsubscribedTopicIsPruned(t *testing.T) {
	r := newTestRouter()
	r.AddPeer("p1", DirectionInbound, gossipsubProtocol, "")

	resp, _, err := r.HandleRPC("p1", &RPC{Control: &ControlMessage{Graft: []ControlGraft{{Topic: "unknown"}}}})
	if err != nil {
		t.Fatalf("HandleRPC: %v", err)
	}
	if resp == nil || resp.Control == nil || len(resp.Control.Prune) != 1 {
		t.Fatalf("expected a PRUNE response, got %+v", resp)
	}
	if resp.Control.Prune[0].Topic != "unknown" {
		t.Fatalf("prune topic = %q", resp.Control.Prune[0].Topic)
	}
}

func TestRouter_HandleRPC_GraftDuringBackoffIsPruned(t *testing.T) {
	r := newTestRouter()
	r.Subscribe("t")
	r.AddPeer("p1", DirectionInbound, gossipsubProtocol, "")
	ps, _ := r.Peers().Get("p1")
	ps.SetBackoff("t", time.Now().Add(time.Hour))

	resp, _, _ := r.HandleRPC("p1", &RPC{Control: &ControlMessage{Graft: []ControlGraft{{Topic: "t"}}}})
	if resp == nil || resp.Control == nil || len(resp.Control.Prune) != 1 {
		t.Fatalf("expected PRUNE for backed-off GRAFT, got %+v", resp)
	}
	if r.mesh.InMesh("t", "p1") {
		t.Fatal("peer must not be admitted to mesh while backed off")
	}
}

func TestRouter_HandleRPC_IHaveRequestsMissingIDs(t *testing.T) {
	r := newTestRouter()
	r.Subscribe("t")
	r.AddPeer("p1", DirectionInbound, gossipsubProtocol, "")

	var id MessageID
	id[0] = 0x42
	resp, _, err := r.HandleRPC("p1", &RPC{Control: &ControlMessage{IHave: []ControlIHave{{Topic: "t", IDs: []MessageID{id}}}}})
	if err != nil {
		t.Fatalf("HandleRPC: %v", err)
	}
	if resp == nil || resp.Control == nil || len(resp.Control.IWant) != 1 || len(resp.Control.IWant[0].IDs) != 1 {
		t.Fatalf("expected an IWANT for the unseen id, got %+v", resp)
	}
}

func TestRouter_HandleRPC_IWantReturnsCachedMessage(t *testing.T) {
	r := newTestRouter()
	r.Subscribe("t")
	r.AddPeer("p1", DirectionInbound, gossipsubProtocol, "")

	_, _, err := r.Publish("t", []byte("payload"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	ids := r.Cache().GossipIDs("t")
	if len(ids) != 1 {
		t.Fatalf("cached ids = %+v, want exactly 1", ids)
	}

	resp, _, err := r.HandleRPC("p1", &RPC{Control: &ControlMessage{IWant: []ControlIWant{{IDs: []MessageID{ids[0]}}}}})
	if err != nil {
		t.Fatalf("HandleRPC: %v", err)
	}
	if resp == nil || len(resp.Messages) != 1 {
		t.Fatalf("expected the cached message back, got %+v", resp)
	}
}
