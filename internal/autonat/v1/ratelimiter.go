package v1

import (
	"sync"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// RateLimiterConfig tunes the server side's defenses against being used
// as a dial-back amplifier: a global request window, a per-peer
// request window, concurrency caps at both scopes, and a backoff
// applied to a peer after it gets rejected.
type RateLimiterConfig struct {
	GlobalRequestsPerInterval int
	Interval                  time.Duration
	PeerRequestsPerInterval   int
	MaxGlobalConcurrent       int
	MaxPeerConcurrent         int
	Backoff                   time.Duration
}

// DefaultRateLimiterConfig mirrors the conservative values used by
// established AutoNAT server implementations.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GlobalRequestsPerInterval: 30,
		Interval:                  time.Minute,
		PeerRequestsPerInterval:   3,
		MaxGlobalConcurrent:       5,
		MaxPeerConcurrent:         1,
		Backoff:                  time.Minute,
	}
}

type peerWindow struct {
	timestamps []time.Time
	concurrent int
	backoffUnt time.Time
}

// RateLimiter enforces RateLimiterConfig's dimensions. Safe for
// concurrent use.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu               sync.Mutex
	globalTimestamps []time.Time
	globalConcurrent int
	peers            map[p2ptypes.PeerID]*peerWindow

	now func() time.Time
}

// NewRateLimiter builds a limiter using real wall-clock time.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, peers: make(map[p2ptypes.PeerID]*peerWindow), now: time.Now}
}

// Allow reports whether a dial-back request from peer may proceed,
// reserving concurrency slots and recording the attempt if so. Call
// Release when the dial-back attempt completes.
func (l *RateLimiter) Allow(peer p2ptypes.PeerID) (bool, RateLimitReason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	pw := l.peers[peer]
	if pw == nil {
		pw = &peerWindow{}
		l.peers[peer] = pw
	}

	if now.Before(pw.backoffUnt) {
		return false, RateLimitBackoff
	}

	l.globalTimestamps = pruneWindow(l.globalTimestamps, now, l.cfg.Interval)
	if len(l.globalTimestamps) >= l.cfg.GlobalRequestsPerInterval {
		return false, RateLimitGlobalRate
	}

	pw.timestamps = pruneWindow(pw.timestamps, now, l.cfg.Interval)
	if len(pw.timestamps) >= l.cfg.PeerRequestsPerInterval {
		pw.backoffUnt = now.Add(l.cfg.Backoff)
		pw.timestamps = nil
		return false, RateLimitPeerRate
	}

	if l.globalConcurrent >= l.cfg.MaxGlobalConcurrent {
		return false, RateLimitGlobalConcurrency
	}
	if pw.concurrent >= l.cfg.MaxPeerConcurrent {
		return false, RateLimitPeerConcurrency
	}

	l.globalTimestamps = append(l.globalTimestamps, now)
	pw.timestamps = append(pw.timestamps, now)
	l.globalConcurrent++
	pw.concurrent++
	return true, ""
}

// Release frees the concurrency slots reserved by a successful Allow.
func (l *RateLimiter) Release(peer p2ptypes.PeerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.globalConcurrent > 0 {
		l.globalConcurrent--
	}
	if pw := l.peers[peer]; pw != nil && pw.concurrent > 0 {
		pw.concurrent--
	}
}

func pruneWindow(ts []time.Time, now time.Time, interval time.Duration) []time.Time {
	cut := 0
	for cut < len(ts) && now.Sub(ts[cut]) > interval {
		cut++
	}
	if cut == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[cut:]...)
}
