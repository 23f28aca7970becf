package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	klog "github.com/meshnet-go/meshnet/internal/log"
)

// jsonAddrRecord is the on-disk shape of a single address: only
// failureCount survives a restart, matching "persistence preserves
// failureCount but no other counters".
type jsonAddrRecord struct {
	Address      string `json:"address"`
	FailureCount int    `json:"failureCount"`
}

type jsonPeerRecord struct {
	PeerID    string           `json:"peerID"`
	Addresses []jsonAddrRecord `json:"addresses"`
}

// FilePeerStoreConfig names the snapshot file and flush cadence.
type FilePeerStoreConfig struct {
	Directory     string
	FlushInterval time.Duration
}

// FilePeerStore wraps a MemoryPeerStore with periodic JSON snapshotting
// to "<directory>/peerstore.json". Start loads any existing file
// (event-silent) and begins a periodic flush-when-dirty task; Stop
// flushes once more and shuts the task down.
type FilePeerStore struct {
	cfg   FilePeerStoreConfig
	store *MemoryPeerStore

	mu    sync.Mutex
	dirty bool

	done   chan struct{}
	wg     sync.WaitGroup
}

// NewFilePeerStore wraps store; store's own events still fire normally,
// FilePeerStore merely watches them to mark itself dirty.
func NewFilePeerStore(cfg FilePeerStoreConfig, store *MemoryPeerStore) *FilePeerStore {
	return &FilePeerStore{cfg: cfg, store: store}
}

func (f *FilePeerStore) path() string {
	return filepath.Join(f.cfg.Directory, "peerstore.json")
}

// Start loads any existing snapshot into the store (without emitting
// events) and, if FlushInterval > 0, begins the periodic flush task.
func (f *FilePeerStore) Start() error {
	if err := f.load(); err != nil && !os.IsNotExist(err) {
		return err
	}
	if f.cfg.FlushInterval <= 0 {
		return nil
	}
	sub, cancel := f.store.Events()
	f.done = make(chan struct{})
	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		for range sub {
			f.mu.Lock()
			f.dirty = true
			f.mu.Unlock()
		}
	}()
	go func() {
		defer f.wg.Done()
		defer cancel()
		ticker := time.NewTicker(f.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.flushIfDirty()
			case <-f.done:
				return
			}
		}
	}()
	return nil
}

func (f *FilePeerStore) flushIfDirty() {
	f.mu.Lock()
	if !f.dirty {
		f.mu.Unlock()
		return
	}
	f.dirty = false
	f.mu.Unlock()
	if err := f.flush(); err != nil {
		klog.Discovery.Warn().Err(err).Msg("peerstore flush failed")
	}
}

// Stop flushes once more and stops the periodic task. Safe to call
// even if Start's periodic task was never started.
func (f *FilePeerStore) Stop() error {
	if f.done != nil {
		close(f.done)
		f.wg.Wait()
		f.done = nil
	}
	return f.flush()
}

func (f *FilePeerStore) flush() error {
	snapshot := f.store.Snapshot()
	records := make([]jsonPeerRecord, 0, len(snapshot))
	for _, pa := range snapshot {
		addrs := make([]jsonAddrRecord, 0, len(pa.Addresses))
		for _, a := range pa.Addresses {
			addrs = append(addrs, jsonAddrRecord{Address: a.Addr.String(), FailureCount: a.FailureCount})
		}
		sort.Slice(addrs, func(i, j int) bool { return addrs[i].Address < addrs[j].Address })
		records = append(records, jsonPeerRecord{PeerID: pa.Peer.String(), Addresses: addrs})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PeerID < records[j].PeerID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.cfg.Directory, 0o755); err != nil {
		return err
	}
	tmp := f.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path())
}

func (f *FilePeerStore) load() error {
	data, err := os.ReadFile(f.path())
	if err != nil {
		return err
	}
	var records []jsonPeerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	snapshot := make([]PeerAddresses, 0, len(records))
	for _, rec := range records {
		pid, err := peer.Decode(rec.PeerID)
		if err != nil {
			continue
		}
		addrs := make([]AddrRecord, 0, len(rec.Addresses))
		for _, a := range rec.Addresses {
			maddr, err := ma.NewMultiaddr(a.Address)
			if err != nil {
				continue
			}
			addrs = append(addrs, AddrRecord{Addr: maddr, FailureCount: a.FailureCount})
		}
		snapshot = append(snapshot, PeerAddresses{Peer: pid, Addresses: addrs})
	}
	f.store.restore(snapshot)
	return nil
}
