package discovery

import (
	"container/list"
	"sync"
	"time"

	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/p2ptypes"
	"github.com/rs/zerolog"
)

// PeerStoreConfig bounds MemoryPeerStore's memory footprint and default
// address lifetime.
type PeerStoreConfig struct {
	MaxPeers          int           // LRU-evicted once exceeded; 0 disables the cap
	MaxAddrsPerPeer   int           // oldest-by-lastSeen dropped once exceeded; 0 disables the cap
	DefaultTTL        time.Duration // used when addAddresses is called with ttl == nil; 0 means permanent
	GCInterval        time.Duration // 0 disables the background GC task
}

// DefaultPeerStoreConfig matches the values a small mesh node would
// run with: a few thousand peers, a handful of addresses each.
func DefaultPeerStoreConfig() PeerStoreConfig {
	return PeerStoreConfig{
		MaxPeers:        4096,
		MaxAddrsPerPeer: 16,
		DefaultTTL:      time.Hour,
		GCInterval:      time.Minute,
	}
}

type peerEntry struct {
	peer  p2ptypes.PeerID
	addrs map[string]*AddrRecord // keyed by Addr.String()
	elem  *list.Element          // LRU element, value is peer.ID
}

// MemoryPeerStore is the in-memory address book: LRU-evicted by peer,
// capped per-peer address count, optional default TTL, optional
// background GC, with an event stream for every mutation.
type MemoryPeerStore struct {
	cfg PeerStoreConfig

	mu      sync.Mutex
	peers   map[p2ptypes.PeerID]*peerEntry
	lru     *list.List // front = most recently touched
	events  *eventBroadcaster
	log     zerolog.Logger

	stopGC func()
}

// NewMemoryPeerStore constructs a store and, if cfg.GCInterval > 0,
// starts its background GC task.
func NewMemoryPeerStore(cfg PeerStoreConfig) *MemoryPeerStore {
	s := &MemoryPeerStore{
		cfg:    cfg,
		peers:  make(map[p2ptypes.PeerID]*peerEntry),
		lru:    list.New(),
		events: newEventBroadcaster(),
		log:    klog.Discovery,
	}
	if cfg.GCInterval > 0 {
		s.startGC(cfg.GCInterval)
	}
	return s
}

// Events returns a fresh subscriber stream and its cancel function.
func (s *MemoryPeerStore) Events() (<-chan Event, func()) {
	return s.events.Subscribe(32)
}

func (s *MemoryPeerStore) touch(p p2ptypes.PeerID) *peerEntry {
	e, ok := s.peers[p]
	if !ok {
		e = &peerEntry{peer: p, addrs: make(map[string]*AddrRecord)}
		e.elem = s.lru.PushFront(p)
		s.peers[p] = e
		s.evictIfNeeded()
		return e
	}
	s.lru.MoveToFront(e.elem)
	return e
}

// evictIfNeeded drops the least-recently-touched peer once MaxPeers is
// exceeded. Must be called with mu held. Emits addressRemoved for each
// of the evicted peer's addresses before peerRemoved, so subscribers
// never observe a peerRemoved for addresses they were never told left.
func (s *MemoryPeerStore) evictIfNeeded() {
	if s.cfg.MaxPeers <= 0 {
		return
	}
	for len(s.peers) > s.cfg.MaxPeers {
		back := s.lru.Back()
		if back == nil {
			return
		}
		victim := back.Value.(p2ptypes.PeerID)
		entry := s.peers[victim]
		s.lru.Remove(back)
		delete(s.peers, victim)
		for _, rec := range entry.addrs {
			s.events.Emit(Event{Kind: EventAddressRemoved, Peer: victim, Addr: rec.Addr})
		}
		s.events.Emit(Event{Kind: EventPeerRemoved, Peer: victim})
	}
}

// AddAddresses records addr for p, extending its expiry only if later
// than any existing record's (extend-only-if-later-expiry), and only
// if the peer+address pair is new does it emit addressAdded instead of
// addressUpdated. ttl == 0 upgrades the address to permanent.
func (s *MemoryPeerStore) AddAddresses(p p2ptypes.PeerID, addrs []p2ptypes.Multiaddr, ttl time.Duration, hasTTL bool) {
	if !hasTTL {
		ttl = s.cfg.DefaultTTL
		hasTTL = ttl > 0
	}
	now := time.Now()
	var expiry time.Time
	if hasTTL && ttl > 0 {
		expiry = now.Add(ttl)
	}

	s.mu.Lock()
	entry := s.touch(p)
	var toEmit []Event
	for _, a := range addrs {
		key := a.String()
		if existing, ok := entry.addrs[key]; ok {
			updated := false
			if expiry.IsZero() {
				if !existing.Expiry.IsZero() {
					existing.Expiry = time.Time{}
					updated = true
				}
			} else if existing.Expiry.IsZero() {
				// already permanent; permanent never downgrades to timed.
			} else if expiry.After(existing.Expiry) {
				existing.Expiry = expiry
				updated = true
			}
			existing.LastSeen = now
			if updated {
				toEmit = append(toEmit, Event{Kind: EventAddressUpdated, Peer: p, Addr: a})
			}
			continue
		}
		entry.addrs[key] = &AddrRecord{Addr: a, Expiry: expiry, LastSeen: now}
		toEmit = append(toEmit, Event{Kind: EventAddressAdded, Peer: p, Addr: a})
	}
	s.capAddresses(entry)
	s.mu.Unlock()

	for _, ev := range toEmit {
		s.events.Emit(ev)
	}
}

// capAddresses drops the oldest-by-lastSeen addresses once
// MaxAddrsPerPeer is exceeded. Must be called with mu held; does not
// emit (callers that care about eviction events can extend this).
func (s *MemoryPeerStore) capAddresses(e *peerEntry) {
	if s.cfg.MaxAddrsPerPeer <= 0 || len(e.addrs) <= s.cfg.MaxAddrsPerPeer {
		return
	}
	for len(e.addrs) > s.cfg.MaxAddrsPerPeer {
		var oldestKey string
		var oldest time.Time
		first := true
		for k, r := range e.addrs {
			if first || r.LastSeen.Before(oldest) {
				oldestKey, oldest, first = k, r.LastSeen, false
			}
		}
		if oldestKey == "" {
			return
		}
		delete(e.addrs, oldestKey)
	}
}

// RemoveAddress drops a single address for p, if present.
func (s *MemoryPeerStore) RemoveAddress(p p2ptypes.PeerID, addr p2ptypes.Multiaddr) {
	s.mu.Lock()
	entry, ok := s.peers[p]
	if !ok {
		s.mu.Unlock()
		return
	}
	key := addr.String()
	if _, ok := entry.addrs[key]; !ok {
		s.mu.Unlock()
		return
	}
	delete(entry.addrs, key)
	s.mu.Unlock()
	s.events.Emit(Event{Kind: EventAddressRemoved, Peer: p, Addr: addr})
}

// RemovePeer drops every address known for p.
func (s *MemoryPeerStore) RemovePeer(p p2ptypes.PeerID) {
	s.mu.Lock()
	entry, ok := s.peers[p]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.lru.Remove(entry.elem)
	delete(s.peers, p)
	s.mu.Unlock()
	s.events.Emit(Event{Kind: EventPeerRemoved, Peer: p})
}

// Addresses returns the non-expired addresses known for p.
func (s *MemoryPeerStore) Addresses(p p2ptypes.PeerID) []AddrRecord {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[p]
	if !ok {
		return nil
	}
	out := make([]AddrRecord, 0, len(entry.addrs))
	for _, r := range entry.addrs {
		if r.expired(now) {
			continue
		}
		out = append(out, *r)
	}
	return out
}

// Peers returns every peer currently known, LRU-most-recent first.
func (s *MemoryPeerStore) Peers() []p2ptypes.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]p2ptypes.PeerID, 0, s.lru.Len())
	for e := s.lru.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(p2ptypes.PeerID))
	}
	return out
}

// RecordFailure increments the failure counter for a specific address,
// used by AddressBook's successScore.
func (s *MemoryPeerStore) RecordFailure(p p2ptypes.PeerID, addr p2ptypes.Multiaddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[p]
	if !ok {
		return
	}
	if r, ok := entry.addrs[addr.String()]; ok {
		r.FailureCount++
	}
}

// RecordSuccess resets an address's failure counter and bumps LastSeen.
func (s *MemoryPeerStore) RecordSuccess(p p2ptypes.PeerID, addr p2ptypes.Multiaddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[p]
	if !ok {
		return
	}
	if r, ok := entry.addrs[addr.String()]; ok {
		r.FailureCount = 0
		r.LastSeen = time.Now()
	}
}

// gc removes expired addresses, emitting addressRemoved for each, and
// removes any peer left with zero addresses.
func (s *MemoryPeerStore) gc() {
	now := time.Now()
	var removedAddrs []Event
	var removedPeers []Event

	s.mu.Lock()
	for p, entry := range s.peers {
		for key, r := range entry.addrs {
			if r.expired(now) {
				delete(entry.addrs, key)
				removedAddrs = append(removedAddrs, Event{Kind: EventAddressRemoved, Peer: p, Addr: r.Addr})
			}
		}
		if len(entry.addrs) == 0 {
			s.lru.Remove(entry.elem)
			delete(s.peers, p)
			removedPeers = append(removedPeers, Event{Kind: EventPeerRemoved, Peer: p})
		}
	}
	s.mu.Unlock()

	for _, ev := range removedAddrs {
		s.events.Emit(ev)
	}
	for _, ev := range removedPeers {
		s.events.Emit(ev)
	}
}

func (s *MemoryPeerStore) startGC(interval time.Duration) {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.gc()
			case <-done:
				return
			}
		}
	}()
	s.stopGC = func() { close(done) }
}

// Close stops the background GC task, if any, and shuts down the
// event broadcaster. Idempotent.
func (s *MemoryPeerStore) Close() {
	if s.stopGC != nil {
		s.stopGC()
		s.stopGC = nil
	}
	s.events.Shutdown()
}

// Snapshot returns every peer's failure-count-bearing address records,
// for FilePeerStore to persist.
func (s *MemoryPeerStore) Snapshot() []PeerAddresses {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerAddresses, 0, len(s.peers))
	for p, entry := range s.peers {
		recs := make([]AddrRecord, 0, len(entry.addrs))
		for _, r := range entry.addrs {
			recs = append(recs, *r)
		}
		out = append(out, PeerAddresses{Peer: p, Addresses: recs})
	}
	return out
}

// restore loads addresses without emitting events (event-silent
// restoration), used by FilePeerStore on start.
func (s *MemoryPeerStore) restore(snapshot []PeerAddresses) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pa := range snapshot {
		entry := s.touch(pa.Peer)
		for _, r := range pa.Addresses {
			rec := r
			entry.addrs[rec.Addr.String()] = &rec
		}
	}
}
