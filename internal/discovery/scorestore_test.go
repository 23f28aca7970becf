package discovery

import (
	"testing"

	"github.com/meshnet-go/meshnet/internal/storage"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

func TestScoreStore_SaveAndLoad(t *testing.T) {
	s := NewScoreStore(storage.NewMemory())
	rec := persistedScore{FailureCount: 3, LastScore: 0.75}
	if err := s.Save("peer-a", rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load("peer-a")
	if err != nil || !ok {
		t.Fatalf("Load = (%+v, %v, %v), want (_, true, nil)", got, ok, err)
	}
	if got != rec {
		t.Fatalf("Load = %+v, want %+v", got, rec)
	}
}

func TestScoreStore_LoadMissingPeerReturnsZeroValue(t *testing.T) {
	s := NewScoreStore(storage.NewMemory())
	got, ok, err := s.Load("never-seen")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatalf("Load ok = true for a peer never saved: %+v", got)
	}
	if got != (persistedScore{}) {
		t.Fatalf("Load = %+v, want zero value", got)
	}
}

func TestScoreStore_Delete(t *testing.T) {
	s := NewScoreStore(storage.NewMemory())
	if err := s.Save("peer-a", persistedScore{FailureCount: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("peer-a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Load("peer-a"); ok {
		t.Fatal("record still present after Delete")
	}
}

func TestScoreStore_ForEachVisitsOnlyScoreKeys(t *testing.T) {
	db := storage.NewMemory()
	s := NewScoreStore(db)
	if err := s.Save("peer-a", persistedScore{FailureCount: 1}); err != nil {
		t.Fatalf("Save peer-a: %v", err)
	}
	if err := s.Save("peer-b", persistedScore{FailureCount: 2}); err != nil {
		t.Fatalf("Save peer-b: %v", err)
	}
	// A key under a different namespace must not leak into ForEach.
	if err := db.Put([]byte("other/namespace/key"), []byte("ignored")); err != nil {
		t.Fatalf("Put unrelated key: %v", err)
	}

	seen := make(map[string]int)
	err := s.ForEach(func(p p2ptypes.PeerID, rec persistedScore) error {
		seen[string(p)] = rec.FailureCount
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(seen) != 2 || seen["peer-a"] != 1 || seen["peer-b"] != 2 {
		t.Fatalf("ForEach visited = %+v, want {peer-a:1, peer-b:2}", seen)
	}
}
