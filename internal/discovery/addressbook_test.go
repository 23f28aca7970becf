package discovery

import (
	"testing"
	"time"

	"github.com/meshnet-go/meshnet/p2ptypes"
)

func TestAddressBook_PrefersHigherPriorityTransport(t *testing.T) {
	s := NewMemoryPeerStore(PeerStoreConfig{})
	defer s.Close()
	cfg := DefaultAddressBookConfig()
	book := NewAddressBook(s, cfg)

	quic := mustMA(t, "/ip4/1.1.1.1/udp/4001/quic-v1")
	tcp := mustMA(t, "/ip4/1.1.1.1/tcp/4001")
	s.AddAddresses("p", []p2ptypes.Multiaddr{quic, tcp}, 0, false)

	best, ok := book.Best("p")
	if !ok {
		t.Fatal("Best returned nothing")
	}
	if best.String() != quic.String() {
		t.Fatalf("Best = %v, want quic address preferred", best)
	}
}

func TestAddressBook_FailureReducesScore(t *testing.T) {
	s := NewMemoryPeerStore(PeerStoreConfig{})
	defer s.Close()
	cfg := DefaultAddressBookConfig()
	book := NewAddressBook(s, cfg)

	addr := mustMA(t, "/ip4/1.1.1.1/tcp/4001")
	s.AddAddresses("p", []p2ptypes.Multiaddr{addr}, 0, false)

	before := book.Scored("p")[0].Score
	for i := 0; i < cfg.MaxFailures; i++ {
		s.RecordFailure("p", addr)
	}
	after := book.Scored("p")[0].Score
	if after >= before {
		t.Fatalf("score did not drop after failures: before=%v after=%v", before, after)
	}
	if got := book.successScore(s.Addresses("p")[0]); got != 0 {
		// once failureCount >= maxFailures, successScore floors to 0.
		t.Fatalf("successScore = %v, want successScore component to floor at 0 contribution", got)
	}
}

func TestAddressBook_RecencyDecaysOverTTL(t *testing.T) {
	s := NewMemoryPeerStore(PeerStoreConfig{})
	defer s.Close()
	cfg := DefaultAddressBookConfig()
	cfg.AddressTTL = time.Minute
	book := NewAddressBook(s, cfg)

	addr := mustMA(t, "/ip4/1.1.1.1/tcp/4001")
	s.AddAddresses("p", []p2ptypes.Multiaddr{addr}, 0, false)

	rec := s.Addresses("p")[0]
	rec.LastSeen = time.Now().Add(-30 * time.Second)
	score := book.recencyScore(rec)
	if score <= 0 || score >= 1 {
		t.Fatalf("recencyScore at half-TTL = %v, want in (0,1)", score)
	}
}
