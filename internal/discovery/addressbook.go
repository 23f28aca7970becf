package discovery

import (
	"sort"
	"strings"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

// AddressBookConfig controls the three score weights and the
// parameters the transport/success/recency components are computed
// against.
type AddressBookConfig struct {
	// TransportPriority orders transport names (matched against a
	// multiaddr's protocol stack, e.g. "quic-v1", "tcp", "ws") from
	// most to least preferred. A transport not listed scores 0.
	TransportPriority []string
	MaxFailures       int
	AddressTTL        time.Duration

	WeightTransport float64
	WeightSuccess   float64
	WeightRecency   float64
}

// DefaultAddressBookConfig favors QUIC over TCP over WebSocket, with
// equal weighting across the three score components.
func DefaultAddressBookConfig() AddressBookConfig {
	return AddressBookConfig{
		TransportPriority: []string{"quic-v1", "quic", "tcp", "ws", "wss"},
		MaxFailures:       8,
		AddressTTL:        time.Hour,
		WeightTransport:   1.0,
		WeightSuccess:     1.0,
		WeightRecency:     1.0,
	}
}

// AddressBook wraps a MemoryPeerStore with a weighted address score:
// w_t*transportScore + w_s*successScore + w_r*recencyScore.
type AddressBook struct {
	cfg   AddressBookConfig
	store *MemoryPeerStore
}

// NewAddressBook wraps an existing peer store; AddressBook does not
// own the store's lifecycle (callers Close the store separately).
func NewAddressBook(store *MemoryPeerStore, cfg AddressBookConfig) *AddressBook {
	return &AddressBook{cfg: cfg, store: store}
}

// Store exposes the underlying peer store for callers that need raw
// add/remove access.
func (b *AddressBook) Store() *MemoryPeerStore { return b.store }

func (b *AddressBook) transportScore(addr p2ptypes.Multiaddr) float64 {
	s := addr.String()
	n := len(b.cfg.TransportPriority)
	for i, name := range b.cfg.TransportPriority {
		if strings.Contains(s, "/"+name) {
			return float64(n-i) / float64(n)
		}
	}
	return 0
}

func (b *AddressBook) successScore(r AddrRecord) float64 {
	maxF := b.cfg.MaxFailures
	if maxF <= 0 {
		maxF = 1
	}
	if r.FailureCount >= maxF {
		return 0
	}
	if r.FailureCount == 0 {
		if r.LastSeen.IsZero() {
			return 0.5
		}
		return 1.0
	}
	penalty := float64(r.FailureCount) / float64(maxF)
	return 1.0 - penalty
}

func (b *AddressBook) recencyScore(r AddrRecord) float64 {
	ttl := b.cfg.AddressTTL
	if ttl <= 0 {
		return 1.0
	}
	if r.LastSeen.IsZero() {
		return 0
	}
	age := time.Since(r.LastSeen)
	if age <= 0 {
		return 1.0
	}
	if age >= ttl {
		return 0
	}
	return 1.0 - float64(age)/float64(ttl)
}

func (b *AddressBook) score(r AddrRecord) float64 {
	return b.cfg.WeightTransport*b.transportScore(r.Addr) +
		b.cfg.WeightSuccess*b.successScore(r) +
		b.cfg.WeightRecency*b.recencyScore(r)
}

// Scored returns p's known addresses sorted descending by score.
func (b *AddressBook) Scored(p p2ptypes.PeerID) []ScoredAddress {
	recs := b.store.Addresses(p)
	out := make([]ScoredAddress, len(recs))
	for i, r := range recs {
		out[i] = ScoredAddress{Addr: r.Addr, Score: b.score(r)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Best returns the single highest-scored address for p, if any.
func (b *AddressBook) Best(p p2ptypes.PeerID) (p2ptypes.Multiaddr, bool) {
	scored := b.Scored(p)
	if len(scored) == 0 {
		return nil, false
	}
	return scored[0].Addr, true
}
