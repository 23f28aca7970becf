package discovery

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/record"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// CertifiedAddressBook stores the latest signed PeerRecord envelope
// received for each peer, accepting a new one only when its sequence
// number is strictly greater than what's stored.
type CertifiedAddressBook struct {
	mu      sync.Mutex
	records map[p2ptypes.PeerID]*signedRecord
}

type signedRecord struct {
	envelope *p2ptypes.Envelope
	rec      *p2ptypes.PeerRecord
}

// NewCertifiedAddressBook constructs an empty book.
func NewCertifiedAddressBook() *CertifiedAddressBook {
	return &CertifiedAddressBook{records: make(map[p2ptypes.PeerID]*signedRecord)}
}

// Consume verifies env's signature, checks its payload is a
// peer.PeerRecord whose PeerID is the signer, and — only if its Seq
// is strictly newer than any record already stored for that peer —
// replaces the stored record. Returns whether the record was accepted.
func (b *CertifiedAddressBook) Consume(envelopeBytes []byte) (bool, error) {
	env, untyped, err := record.ConsumeEnvelope(envelopeBytes, peer.PeerRecordEnvelopeDomain)
	if err != nil {
		return false, ErrRecordExtractionFailed
	}
	rec, ok := untyped.(*peer.PeerRecord)
	if !ok {
		return false, ErrPayloadTypeMismatch
	}
	signer, err := peer.IDFromPublicKey(env.PublicKey)
	if err != nil {
		return false, ErrRecordExtractionFailed
	}
	if signer != rec.PeerID {
		return false, ErrPeerIDMismatch
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	existing, ok := b.records[rec.PeerID]
	if ok && rec.Seq <= existing.rec.Seq {
		return false, &ErrStaleRecord{Existing: existing.rec.Seq, Incoming: rec.Seq}
	}
	b.records[rec.PeerID] = &signedRecord{envelope: env, rec: rec}
	return true, nil
}

// GetPeerRecord returns the latest accepted record for p, if any.
func (b *CertifiedAddressBook) GetPeerRecord(p p2ptypes.PeerID) (*p2ptypes.PeerRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sr, ok := b.records[p]
	if !ok {
		return nil, false
	}
	return sr.rec, true
}

// RemovePeer drops any stored record for p.
func (b *CertifiedAddressBook) RemovePeer(p p2ptypes.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, p)
}
