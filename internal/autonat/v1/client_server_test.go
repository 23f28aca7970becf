package v1

import (
	"context"
	"testing"

	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

func TestClientServer_SuccessfulDialBackReportsOK(t *testing.T) {
	clientAddr := mustAddr("/ip4/9.9.9.9/tcp/4001")
	clientHost := newFakeHost(p2ptypes.PeerID("client"), clientAddr)
	serverHost := newFakeHost(p2ptypes.PeerID("server"), mustAddr("/ip4/1.1.1.1/tcp/4001"))
	clientHost.link(serverHost)

	dial := func(ctx context.Context, p p2ptypes.PeerID, addrs []p2ptypes.Multiaddr) (p2ptypes.Multiaddr, error) {
		return addrs[0], nil
	}
	srv := NewServer(DefaultServerConfig(), serverHost, dial, metrics.New(), NoopTracer{})
	srv.Register()

	cli := NewClient(DefaultClientConfig(), clientHost, metrics.New(), NoopTracer{})

	// The fake transport reports the client's remote addr on the server
	// side as clientHost's own first advertised address, so the
	// anti-amplification IP filter must accept it.
	status, err := cli.Probe(context.Background(), []p2ptypes.PeerID{"server"})
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %v, want StatusOK", status)
	}
	reach, _ := cli.Tracker().Status()
	_ = reach // single probe below MinProbes, no assertion on verdict
}

func TestClientServer_DialRefusedWhenAddressesDontMatchObservedIP(t *testing.T) {
	// The client claims an address that does not match where the
	// transport actually observes its connection coming from (e.g. it
	// is behind a NAT advertising a stale or spoofed address).
	claimedAddr := mustAddr("/ip4/9.9.9.9/tcp/4001")
	clientHost := newFakeHost(p2ptypes.PeerID("client"), claimedAddr)
	clientHost.transportAddr = mustAddr("/ip4/8.8.8.8/tcp/1")
	serverHost := newFakeHost(p2ptypes.PeerID("server"), mustAddr("/ip4/1.1.1.1/tcp/4001"))
	clientHost.link(serverHost)

	dial := func(ctx context.Context, p p2ptypes.PeerID, addrs []p2ptypes.Multiaddr) (p2ptypes.Multiaddr, error) {
		t.Fatal("dial should not be attempted when addresses don't match observed IP")
		return nil, nil
	}
	srv := NewServer(DefaultServerConfig(), serverHost, dial, metrics.New(), NoopTracer{})
	srv.Register()

	cli := NewClient(DefaultClientConfig(), clientHost, metrics.New(), NoopTracer{})
	status, err := cli.Probe(context.Background(), []p2ptypes.PeerID{"server"})
	if err == nil {
		t.Fatalf("expected an error, got status %v", status)
	}
	if status != StatusDialRefused {
		t.Fatalf("status = %v, want StatusDialRefused", status)
	}
}

func TestClientServer_DialBackFailureReportsDialError(t *testing.T) {
	clientAddr := mustAddr("/ip4/9.9.9.9/tcp/4001")
	clientHost := newFakeHost(p2ptypes.PeerID("client"), clientAddr)
	serverHost := newFakeHost(p2ptypes.PeerID("server"), mustAddr("/ip4/1.1.1.1/tcp/4001"))
	clientHost.link(serverHost)

	dial := func(ctx context.Context, p p2ptypes.PeerID, addrs []p2ptypes.Multiaddr) (p2ptypes.Multiaddr, error) {
		return nil, errDialFailedForTest
	}
	srv := NewServer(DefaultServerConfig(), serverHost, dial, metrics.New(), NoopTracer{})
	srv.Register()

	cli := NewClient(DefaultClientConfig(), clientHost, metrics.New(), NoopTracer{})
	status, err := cli.Probe(context.Background(), []p2ptypes.PeerID{"server"})
	if err == nil {
		t.Fatal("expected an error from failed dial-back")
	}
	if status != StatusDialError {
		t.Fatalf("status = %v, want StatusDialError", status)
	}
}

func TestClientServer_NoServersAvailable(t *testing.T) {
	clientHost := newFakeHost(p2ptypes.PeerID("client"), mustAddr("/ip4/9.9.9.9/tcp/4001"))
	cli := NewClient(DefaultClientConfig(), clientHost, metrics.New(), NoopTracer{})
	_, err := cli.Probe(context.Background(), nil)
	if err != ErrNoServersAvailable {
		t.Fatalf("err = %v, want ErrNoServersAvailable", err)
	}
}

func TestRateLimiter_ServerRejectsExcessiveRequests(t *testing.T) {
	clientAddr := mustAddr("/ip4/9.9.9.9/tcp/4001")
	clientHost := newFakeHost(p2ptypes.PeerID("client"), clientAddr)
	serverHost := newFakeHost(p2ptypes.PeerID("server"), mustAddr("/ip4/1.1.1.1/tcp/4001"))
	clientHost.link(serverHost)

	dial := func(ctx context.Context, p p2ptypes.PeerID, addrs []p2ptypes.Multiaddr) (p2ptypes.Multiaddr, error) {
		return addrs[0], nil
	}
	cfg := DefaultServerConfig()
	cfg.RateLimiterConfig.PeerRequestsPerInterval = 1
	srv := NewServer(cfg, serverHost, dial, metrics.New(), NoopTracer{})
	srv.Register()

	cli := NewClient(DefaultClientConfig(), clientHost, metrics.New(), NoopTracer{})
	if _, err := cli.Probe(context.Background(), []p2ptypes.PeerID{"server"}); err != nil {
		t.Fatalf("first probe failed: %v", err)
	}
	status, err := cli.Probe(context.Background(), []p2ptypes.PeerID{"server"})
	if err == nil {
		t.Fatalf("expected second probe to be refused, got status %v", status)
	}
	if status != StatusDialRefused {
		t.Fatalf("status = %v, want StatusDialRefused", status)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errDialFailedForTest = testError("simulated dial-back failure")
