package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

type fakeConnector struct {
	mu       sync.Mutex
	fail     map[p2ptypes.PeerID]bool
	attempts int
}

func (c *fakeConnector) Connect(ctx context.Context, pi p2ptypes.AddrInfo) error {
	c.mu.Lock()
	c.attempts++
	shouldFail := c.fail[pi.ID]
	c.mu.Unlock()
	if shouldFail {
		return errors.New("simulated dial failure")
	}
	return nil
}

type fakeCounter struct {
	connected map[p2ptypes.PeerID]bool
	count     int
}

func (c *fakeCounter) ConnectedPeerCount() int                 { return c.count }
func (c *fakeCounter) IsConnected(p p2ptypes.PeerID) bool      { return c.connected[p] }

func seedInfo(id p2ptypes.PeerID) p2ptypes.AddrInfo {
	return p2ptypes.AddrInfo{ID: id, Addrs: []p2ptypes.Multiaddr{mustMAPlain("/ip4/1.1.1.1/tcp/1")}}
}

func mustMAPlain(s string) p2ptypes.Multiaddr {
	a, err := ma.NewMultiaddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestBootstrap_ConnectsAllSeeds(t *testing.T) {
	conn := &fakeConnector{fail: map[p2ptypes.PeerID]bool{}}
	cfg := DefaultBootstrapConfig()
	cfg.Seeds = []p2ptypes.AddrInfo{seedInfo("a"), seedInfo("b")}
	store := NewMemoryPeerStore(PeerStoreConfig{})
	defer store.Close()

	b := NewBootstrap(cfg, conn, store, nil, metrics.New())
	result, err := b.Once(context.Background())
	if err != nil {
		t.Fatalf("Once: %v", err)
	}
	if len(result.Connected) != 2 || len(result.Failed) != 0 {
		t.Fatalf("result = %+v", result)
	}
	if got := store.Addresses("a"); len(got) != 1 {
		t.Fatalf("seed a not recorded in peer store: %+v", got)
	}
}

func TestBootstrap_PartialFailureReportedNotErrored(t *testing.T) {
	conn := &fakeConnector{fail: map[p2ptypes.PeerID]bool{"b": true}}
	cfg := DefaultBootstrapConfig()
	cfg.Seeds = []p2ptypes.AddrInfo{seedInfo("a"), seedInfo("b")}

	b := NewBootstrap(cfg, conn, nil, nil, metrics.New())
	result, err := b.Once(context.Background())
	if err != nil {
		t.Fatalf("Once: %v", err)
	}
	if len(result.Connected) != 1 || len(result.Failed) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if !result.IsSuccess() {
		t.Fatal("IsSuccess should be true with at least one connection")
	}
}

func TestBootstrap_NoSeedsConfigured(t *testing.T) {
	conn := &fakeConnector{fail: map[p2ptypes.PeerID]bool{}}
	b := NewBootstrap(DefaultBootstrapConfig(), conn, nil, nil, metrics.New())
	if _, err := b.Once(context.Background()); err != ErrNoSeeds {
		t.Fatalf("err = %v, want ErrNoSeeds", err)
	}
}

func TestBootstrap_AlreadyConnectedSeedsShortCircuit(t *testing.T) {
	conn := &fakeConnector{fail: map[p2ptypes.PeerID]bool{}}
	counter := &fakeCounter{connected: map[p2ptypes.PeerID]bool{"a": true}}
	cfg := DefaultBootstrapConfig()
	cfg.Seeds = []p2ptypes.AddrInfo{seedInfo("a"), seedInfo("b")}

	b := NewBootstrap(cfg, conn, nil, counter, metrics.New())
	result, err := b.Once(context.Background())
	if err != nil {
		t.Fatalf("Once: %v", err)
	}
	if len(result.Connected) != 2 {
		t.Fatalf("result = %+v", result)
	}
	conn.mu.Lock()
	attempts := conn.attempts
	conn.mu.Unlock()
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (seed a short-circuited)", attempts)
	}
}

func TestBootstrap_RejectsConcurrentOnce(t *testing.T) {
	release := make(chan struct{})
	conn := &blockingConnector{release: release}
	cfg := DefaultBootstrapConfig()
	cfg.Seeds = []p2ptypes.AddrInfo{seedInfo("a")}

	b := NewBootstrap(cfg, conn, nil, nil, metrics.New())
	go b.Once(context.Background())
	time.Sleep(20 * time.Millisecond)

	if _, err := b.Once(context.Background()); err != ErrAlreadyInProgress {
		t.Fatalf("err = %v, want ErrAlreadyInProgress", err)
	}
	close(release)
}

type blockingConnector struct {
	release chan struct{}
}

func (c *blockingConnector) Connect(ctx context.Context, pi p2ptypes.AddrInfo) error {
	<-c.release
	return nil
}
