package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// WeightedService is a subordinate discovery service plus a weight.
// CompositeDiscovery carries Weight along with the service but does not
// apply it: no score is computed for found peers.
type WeightedService struct {
	Service p2ptypes.DiscoveryService
	Weight  float64
	Name    string
}

// FindResult is one peer as seen (possibly by several subordinates at
// once) during a composite Find.
type FindResult struct {
	Peer  p2ptypes.AddrInfo
	Score float64
}

// CompositeDiscovery fans Find/Advertise out across N subordinate
// discovery services, tolerating partial failures and deduplicating by
// peer. It computes no score for found peers, so service weights are
// not applied. Its event stream
// forwards every subordinate's events re-numbered with one monotonic
// sequence.
type CompositeDiscovery struct {
	services []WeightedService

	mu       sync.Mutex
	stopped  bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	seq    uint64
	events *eventBroadcaster
}

// NewCompositeDiscovery takes ownership of services: Stop will stop
// any of them that satisfy an optional Stopper interface.
func NewCompositeDiscovery(services []WeightedService) *CompositeDiscovery {
	return &CompositeDiscovery{services: services, events: newEventBroadcaster()}
}

// Stopper is implemented by discovery services with an explicit
// shutdown (mDNS, DHT wrappers); services that don't implement it are
// simply dropped on Stop.
type Stopper interface {
	Stop()
}

// Observable is implemented by discovery services that expose their
// own event stream for CompositeDiscovery to forward.
type Observable interface {
	Observations() (<-chan Event, func())
}

// Events returns a fresh subscriber stream and its cancel function.
func (c *CompositeDiscovery) Events() (<-chan Event, func()) {
	return c.events.Subscribe(64)
}

// Start begins forwarding every Observable subordinate's events into
// this composite's own stream, re-numbering them with a monotonic
// sequence.
func (c *CompositeDiscovery) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFn = cancel
	c.mu.Unlock()

	for _, ws := range c.services {
		obs, ok := ws.Service.(Observable)
		if !ok {
			continue
		}
		sub, unsub := obs.Observations()
		c.wg.Add(1)
		go func(sub <-chan Event, unsub func()) {
			defer c.wg.Done()
			defer unsub()
			for {
				select {
				case ev, ok := <-sub:
					if !ok {
						return
					}
					ev.Seq = atomic.AddUint64(&c.seq, 1)
					c.events.Emit(ev)
				case <-ctx.Done():
					return
				}
			}
		}(sub, unsub)
	}
}

// Advertise fans out to every subordinate; succeeds if at least one
// does, returning the shortest reported TTL.
func (c *CompositeDiscovery) Advertise(ctx context.Context, ns string, opts ...p2ptypes.DiscoveryOption) (time.Duration, error) {
	type result struct {
		ttl time.Duration
		err error
	}
	results := make([]result, len(c.services))
	var wg sync.WaitGroup
	for i, ws := range c.services {
		wg.Add(1)
		go func(i int, svc p2ptypes.DiscoveryService) {
			defer wg.Done()
			ttl, err := svc.Advertise(ctx, ns, opts...)
			results[i] = result{ttl: ttl, err: err}
		}(i, ws.Service)
	}
	wg.Wait()

	var best time.Duration
	var anyOK bool
	for _, r := range results {
		if r.err != nil {
			continue
		}
		anyOK = true
		if !anyOK || r.ttl < best || best == 0 {
			best = r.ttl
		}
	}
	if !anyOK {
		return 0, ErrAllServicesFailed
	}
	return best, nil
}

// FindPeers fans Find out across every subordinate, tolerates partial
// failure (errors only if all fail), and deduplicates results by peer
// ID: each peer is delivered once, carrying the addresses of the first
// subordinate that reported it. Addresses that a later subordinate
// reports for the same peer are not delivered, and no score is computed.
func (c *CompositeDiscovery) FindPeers(ctx context.Context, ns string, opts ...p2ptypes.DiscoveryOption) (<-chan p2ptypes.AddrInfo, error) {
	ctx, cancel := context.WithCancel(ctx)

	type chanErr struct {
		ch  <-chan p2ptypes.AddrInfo
		err error
	}
	opened := make([]chanErr, len(c.services))
	var wg sync.WaitGroup
	for i, ws := range c.services {
		wg.Add(1)
		go func(i int, svc p2ptypes.DiscoveryService) {
			defer wg.Done()
			ch, err := svc.FindPeers(ctx, ns, opts...)
			opened[i] = chanErr{ch: ch, err: err}
		}(i, ws.Service)
	}
	wg.Wait()

	var anyOK bool
	for _, oc := range opened {
		if oc.err == nil {
			anyOK = true
		}
	}
	if !anyOK {
		cancel()
		return nil, ErrAllServicesFailed
	}

	out := make(chan p2ptypes.AddrInfo, 32)
	seen := make(map[p2ptypes.PeerID]*p2ptypes.AddrInfo)
	var mergeMu sync.Mutex
	var fanIn sync.WaitGroup
	for _, oc := range opened {
		if oc.ch == nil {
			continue
		}
		fanIn.Add(1)
		go func(ch <-chan p2ptypes.AddrInfo) {
			defer fanIn.Done()
			for info := range ch {
				mergeMu.Lock()
				if existing, ok := seen[info.ID]; ok {
					existing.Addrs = mergeAddrs(existing.Addrs, info.Addrs)
					mergeMu.Unlock()
					continue
				}
				cp := info
				seen[info.ID] = &cp
				mergeMu.Unlock()
				select {
				case out <- info:
				case <-ctx.Done():
				}
			}
		}(oc.ch)
	}
	go func() {
		fanIn.Wait()
		cancel()
		close(out)
	}()
	return out, nil
}

func mergeAddrs(existing, fresh []p2ptypes.Multiaddr) []p2ptypes.Multiaddr {
	seen := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		seen[a.String()] = struct{}{}
	}
	for _, a := range fresh {
		if _, ok := seen[a.String()]; !ok {
			existing = append(existing, a)
			seen[a.String()] = struct{}{}
		}
	}
	return existing
}

// Stop cancels event forwarding, stops every subordinate that
// implements Stopper, and shuts the event broadcaster down. Idempotent.
func (c *CompositeDiscovery) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancelFn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	for _, ws := range c.services {
		if s, ok := ws.Service.(Stopper); ok {
			s.Stop()
		}
	}
	c.events.Shutdown()
}

var errNoServices = errors.New("discovery: no subordinate services configured")
