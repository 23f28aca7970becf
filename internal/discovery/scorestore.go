package discovery

import (
	"encoding/json"

	"github.com/meshnet-go/meshnet/internal/storage"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// scoreKeyPrefix namespaces this package's keys within a shared
// storage.DB instance.
var scoreKeyPrefix = []byte("discovery/score/")

type persistedScore struct {
	FailureCount int     `json:"failureCount"`
	Banned       bool    `json:"banned"`
	LastScore    float64 `json:"lastScore"`
}

// ScoreStore persists per-peer reputation (failure counts, ban state,
// last computed score) across restarts, on top of a caller-supplied
// storage.DB.
type ScoreStore struct {
	db storage.DB
}

// NewScoreStore wraps an existing storage.DB; ScoreStore does not own
// its lifecycle.
func NewScoreStore(db storage.DB) *ScoreStore {
	return &ScoreStore{db: db}
}

func scoreKey(p p2ptypes.PeerID) []byte {
	return append(append([]byte{}, scoreKeyPrefix...), []byte(p)...)
}

// Save writes p's reputation record.
func (s *ScoreStore) Save(p p2ptypes.PeerID, rec persistedScore) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Put(scoreKey(p), data)
}

// Load reads p's reputation record, if any.
func (s *ScoreStore) Load(p p2ptypes.PeerID) (persistedScore, bool, error) {
	data, err := s.db.Get(scoreKey(p))
	if err != nil {
		return persistedScore{}, false, nil
	}
	var rec persistedScore
	if err := json.Unmarshal(data, &rec); err != nil {
		return persistedScore{}, false, err
	}
	return rec, true, nil
}

// Delete removes p's reputation record.
func (s *ScoreStore) Delete(p p2ptypes.PeerID) error {
	return s.db.Delete(scoreKey(p))
}

// ForEach iterates every persisted reputation record.
func (s *ScoreStore) ForEach(fn func(p p2ptypes.PeerID, rec persistedScore) error) error {
	return s.db.ForEach(scoreKeyPrefix, func(key, value []byte) error {
		p := p2ptypes.PeerID(key[len(scoreKeyPrefix):])
		var rec persistedScore
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		return fn(p, rec)
	})
}
