package discovery

import (
	"context"
	"sync"
	"time"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// ConnectedPeerCounter is the capability Bootstrap needs from the host
// to decide whether a re-bootstrap is due, and whether a given seed is
// already connected (so it can be short-circuited).
type ConnectedPeerCounter interface {
	ConnectedPeerCount() int
	IsConnected(p p2ptypes.PeerID) bool
}

// Connector is the capability Bootstrap needs to dial a seed.
type Connector interface {
	Connect(ctx context.Context, pi p2ptypes.AddrInfo) error
}

// BootstrapConfig controls seed dialing concurrency and the automatic
// re-bootstrap loop.
type BootstrapConfig struct {
	Seeds              []p2ptypes.AddrInfo
	MaxConcurrentDials int
	DialTimeout        time.Duration
	MinPeers           int
	RecheckInterval    time.Duration
}

// DefaultBootstrapConfig is a reasonable starting point absent any
// seeds (callers must still set Seeds).
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		MaxConcurrentDials: 4,
		DialTimeout:        10 * time.Second,
		MinPeers:           4,
		RecheckInterval:    time.Minute,
	}
}

// BootstrapResult reports how many seeds connected vs failed.
type BootstrapResult struct {
	Connected []p2ptypes.PeerID
	Failed    map[p2ptypes.PeerID]error
}

// IsSuccess is true iff at least one seed connected.
func (r BootstrapResult) IsSuccess() bool { return len(r.Connected) > 0 }

// Bootstrap dials a fixed seed list with bounded concurrency, injects
// successful seeds into a peer store, and (via Run) periodically
// re-bootstraps when connectivity drops below MinPeers.
type Bootstrap struct {
	cfg     BootstrapConfig
	conn    Connector
	store   *MemoryPeerStore
	counter ConnectedPeerCounter
	metrics *metrics.Metrics
	events  *eventHub[BootstrapResult]

	mu      sync.Mutex
	running bool
}

// NewBootstrap constructs a Bootstrap. store may be nil if seed
// addresses shouldn't be remembered beyond the dial attempt; counter
// may be nil, in which case already-connected short-circuiting and the
// minPeers recheck are both disabled.
func NewBootstrap(cfg BootstrapConfig, conn Connector, store *MemoryPeerStore, counter ConnectedPeerCounter, m *metrics.Metrics) *Bootstrap {
	return &Bootstrap{cfg: cfg, conn: conn, store: store, counter: counter, metrics: m, events: newEventHub[BootstrapResult]()}
}

// Events returns a fresh subscriber stream of BootstrapResults and its
// cancel function.
func (b *Bootstrap) Events() (<-chan BootstrapResult, func()) {
	return b.events.Subscribe(8)
}

// Once dials every seed with bounded concurrency, short-circuiting any
// seed the counter already reports as connected. Returns
// ErrAlreadyInProgress if another Once call is in flight. When no seed
// connects, the result is returned together with an *ErrAllSeedsFailed.
func (b *Bootstrap) Once(ctx context.Context) (BootstrapResult, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return BootstrapResult{}, ErrAlreadyInProgress
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	if len(b.cfg.Seeds) == 0 {
		return BootstrapResult{}, ErrNoSeeds
	}

	sem := make(chan struct{}, maxInt(1, b.cfg.MaxConcurrentDials))
	var mu sync.Mutex
	result := BootstrapResult{Failed: make(map[p2ptypes.PeerID]error)}
	var wg sync.WaitGroup

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, seed := range b.cfg.Seeds {
		seed := seed
		if b.counter != nil && b.counter.IsConnected(seed.ID) {
			mu.Lock()
			result.Connected = append(result.Connected, seed.ID)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			perDial := dialCtx
			var dcancel context.CancelFunc
			if b.cfg.DialTimeout > 0 {
				perDial, dcancel = context.WithTimeout(dialCtx, b.cfg.DialTimeout)
				defer dcancel()
			}
			err := b.conn.Connect(perDial, seed)
			b.metrics.Bootstrap(err == nil)
			mu.Lock()
			if err != nil {
				result.Failed[seed.ID] = err
			} else {
				result.Connected = append(result.Connected, seed.ID)
				if b.store != nil {
					b.store.AddAddresses(seed.ID, seed.Addrs, 0, false)
				}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	b.events.Emit(result)
	if len(result.Connected) == 0 {
		errs := make(map[string]error, len(result.Failed))
		for id, err := range result.Failed {
			errs[id.String()] = err
		}
		return result, &ErrAllSeedsFailed{Errors: errs}
	}
	return result, nil
}

// Run starts the automatic loop: immediately bootstraps once, then
// every RecheckInterval re-bootstraps if connectedPeerCount < MinPeers.
// Stops when ctx is cancelled.
func (b *Bootstrap) Run(ctx context.Context) {
	b.maybeBootstrap(ctx)
	if b.cfg.RecheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(b.cfg.RecheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.maybeBootstrap(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bootstrap) maybeBootstrap(ctx context.Context) {
	if b.counter != nil && b.counter.ConnectedPeerCount() >= b.cfg.MinPeers {
		return
	}
	result, err := b.Once(ctx)
	if err != nil {
		if err != ErrAlreadyInProgress {
			klog.Bootstrap.Warn().Err(err).Msg("bootstrap attempt failed")
		}
		return
	}
	klog.Bootstrap.Info().
		Int("connected", len(result.Connected)).
		Int("failed", len(result.Failed)).
		Msg("bootstrap complete")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
