package pubsub

import (
	"sync"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// ColocationTable maps an IP (as its string form) to the set of peers
// observed connecting from it. The scorer's P6 component penalizes IPs
// that host more than ipColocationThreshold distinct peers, as a cheap
// defense against a single host running a Sybil swarm.
type ColocationTable struct {
	mu    sync.Mutex
	byIP  map[string]map[p2ptypes.PeerID]struct{}
	byPeer map[p2ptypes.PeerID]string
}

// NewColocationTable creates an empty ColocationTable.
func NewColocationTable() *ColocationTable {
	return &ColocationTable{
		byIP:   make(map[string]map[p2ptypes.PeerID]struct{}),
		byPeer: make(map[p2ptypes.PeerID]string),
	}
}

// Register records that peer connected from ip, replacing any prior
// registration for the same peer.
func (c *ColocationTable) Register(peer p2ptypes.PeerID, ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.byPeer[peer]; ok {
		delete(c.byIP[old], peer)
		if len(c.byIP[old]) == 0 {
			delete(c.byIP, old)
		}
	}
	if c.byIP[ip] == nil {
		c.byIP[ip] = make(map[p2ptypes.PeerID]struct{})
	}
	c.byIP[ip][peer] = struct{}{}
	c.byPeer[peer] = ip
}

// Unregister removes peer from the table (on disconnect).
func (c *ColocationTable) Unregister(peer p2ptypes.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ip, ok := c.byPeer[peer]
	if !ok {
		return
	}
	delete(c.byPeer, peer)
	delete(c.byIP[ip], peer)
	if len(c.byIP[ip]) == 0 {
		delete(c.byIP, ip)
	}
}

// Colocated returns the number of distinct peers sharing peer's IP,
// including peer itself.
func (c *ColocationTable) Colocated(peer p2ptypes.PeerID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ip, ok := c.byPeer[peer]
	if !ok {
		return 0
	}
	return len(c.byIP[ip])
}
