package v2

import (
	"sync"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// cooldownLimiter enforces a single per-peer cooldown window on the
// server side: a rejected or accepted probe stamps lastCheckedAt, and
// any request from that peer within CooldownDuration is refused.
type cooldownLimiter struct {
	cooldown time.Duration
	now      func() time.Time

	mu            sync.Mutex
	lastCheckedAt map[p2ptypes.PeerID]time.Time
}

func newCooldownLimiter(cooldown time.Duration) *cooldownLimiter {
	return &cooldownLimiter{cooldown: cooldown, now: time.Now, lastCheckedAt: make(map[p2ptypes.PeerID]time.Time)}
}

// Allow reports whether peer may be checked now, and if so stamps the
// current time immediately so concurrent requests from the same peer
// cannot both pass.
func (l *cooldownLimiter) Allow(peer p2ptypes.PeerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.lastCheckedAt[peer]; ok && now.Sub(last) < l.cooldown {
		return false
	}
	l.lastCheckedAt[peer] = now
	return true
}
