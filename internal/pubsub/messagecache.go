package pubsub

import "sync"

// cacheEntry wraps a cached message for the by-ID windows; the parallel
// byTopic windows index the same IDs by msg.Topic.
type cacheEntry struct {
	msg *Message
}

// MessageCache retains recently-seen messages in a sliding set of
// windows. Window 0 is the most recent; Shift() pushes a new empty
// window onto the front and drops anything beyond historyLength.
// IWANT lookups may reach every retained window; IHAVE gossip is
// restricted to the gossipLength most-recent windows.
type MessageCache struct {
	mu            sync.Mutex
	historyLength int
	gossipLength  int

	windows []map[MessageID]cacheEntry
	byTopic []map[Topic][]MessageID
}

// NewMessageCache creates a MessageCache retaining historyLength
// windows, of which gossipLength are eligible for IHAVE gossip.
func NewMessageCache(historyLength, gossipLength int) *MessageCache {
	if gossipLength > historyLength {
		gossipLength = historyLength
	}
	mc := &MessageCache{
		historyLength: historyLength,
		gossipLength:  gossipLength,
	}
	mc.windows = append(mc.windows, make(map[MessageID]cacheEntry))
	mc.byTopic = append(mc.byTopic, make(map[Topic][]MessageID))
	return mc
}

// Put stores msg under id in the current (window 0) window.
func (mc *MessageCache) Put(id MessageID, msg *Message) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.windows[0][id] = cacheEntry{msg: msg}
	mc.byTopic[0][msg.Topic] = append(mc.byTopic[0][msg.Topic], id)
}

// Get returns the cached message for id across all retained windows.
func (mc *MessageCache) Get(id MessageID) (*Message, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, w := range mc.windows {
		if e, ok := w[id]; ok {
			return e.msg, true
		}
	}
	return nil, false
}

// Contains reports whether id is cached in any retained window.
func (mc *MessageCache) Contains(id MessageID) bool {
	_, ok := mc.Get(id)
	return ok
}

// GossipIDs returns the message IDs for topic within the gossipLength
// most-recent windows, suitable for an IHAVE announcement.
func (mc *MessageCache) GossipIDs(topic Topic) []MessageID {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	var ids []MessageID
	limit := mc.gossipLength
	if limit > len(mc.byTopic) {
		limit = len(mc.byTopic)
	}
	for i := 0; i < limit; i++ {
		ids = append(ids, mc.byTopic[i][topic]...)
	}
	return ids
}

// Shift advances the window: a fresh window becomes window 0, and
// windows beyond historyLength are dropped entirely.
func (mc *MessageCache) Shift() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.windows = append([]map[MessageID]cacheEntry{make(map[MessageID]cacheEntry)}, mc.windows...)
	mc.byTopic = append([]map[Topic][]MessageID{make(map[Topic][]MessageID)}, mc.byTopic...)
	if len(mc.windows) > mc.historyLength {
		mc.windows = mc.windows[:mc.historyLength]
		mc.byTopic = mc.byTopic[:mc.historyLength]
	}
}

// WindowCount reports how many windows are currently retained.
func (mc *MessageCache) WindowCount() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.windows)
}
