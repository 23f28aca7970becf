package v1

import "sync"

// NATStatusTracker aggregates successive probe outcomes into a single
// reachability verdict. Status only flips when a majority of the
// tracked history disagrees with the current verdict; confidence
// increments on an outcome that agrees with the current verdict and
// decrements on one that doesn't, saturating at MaxConfidence. A
// StatusDialError is recorded as private. Other failures
// (StatusDialRefused, StatusBadRequest, StatusInternalError) never enter
// the history: they tell us the probe failed, not that the peer is
// unreachable.
type NATStatusTracker struct {
	cfg NATStatusTrackerConfig

	mu         sync.Mutex
	history    []Reachability
	current    Reachability
	confidence int
	tracer     EventTracer
}

// NewNATStatusTracker builds a tracker with the given config. A nil
// tracer is replaced with NoopTracer.
func NewNATStatusTracker(cfg NATStatusTrackerConfig, tracer EventTracer) *NATStatusTracker {
	if tracer == nil {
		tracer = NoopTracer{}
	}
	return &NATStatusTracker{cfg: cfg, tracer: tracer, current: ReachabilityUnknown}
}

// RecordOutcome folds a single probe's resolved reachability into the
// tracker. Pass ReachabilityUnknown for probe failures that carry no
// reachability signal; it is recorded nowhere and only resets nothing.
func (t *NATStatusTracker) RecordOutcome(r Reachability) {
	if r == ReachabilityUnknown {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, r)
	if len(t.history) > t.cfg.MaxHistory {
		t.history = t.history[len(t.history)-t.cfg.MaxHistory:]
	}

	if r == t.current {
		if t.confidence < t.cfg.MaxConfidence {
			t.confidence++
		}
		return
	}

	if t.current == ReachabilityUnknown {
		if len(t.history) < t.cfg.MinProbes {
			return
		}
		t.flip(t.majority())
		return
	}

	// Disagreement with the current verdict: lose confidence before
	// considering a flip.
	if t.confidence > 0 {
		t.confidence--
		return
	}
	if len(t.history) >= t.cfg.MinProbes {
		if maj := t.majority(); maj != t.current && maj != ReachabilityUnknown {
			t.flip(maj)
		}
	}
}

// majority returns the most common reachability in history, or
// ReachabilityUnknown if there is no reachability with more than half
// the votes.
func (t *NATStatusTracker) majority() Reachability {
	var public, private int
	for _, r := range t.history {
		switch r {
		case ReachabilityPublic:
			public++
		case ReachabilityPrivate:
			private++
		}
	}
	total := public + private
	if total == 0 {
		return ReachabilityUnknown
	}
	if public*2 > total {
		return ReachabilityPublic
	}
	if private*2 > total {
		return ReachabilityPrivate
	}
	return ReachabilityUnknown
}

func (t *NATStatusTracker) flip(to Reachability) {
	if to == ReachabilityUnknown || to == t.current {
		return
	}
	old := t.current
	t.current = to
	t.confidence = 1
	t.tracer.StatusChanged(old, to)
}

// Status returns the current verdict and confidence level (0..MaxConfidence).
func (t *NATStatusTracker) Status() (Reachability, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.confidence
}

// Reset clears all accumulated history and returns the tracker to
// ReachabilityUnknown.
func (t *NATStatusTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
	t.current = ReachabilityUnknown
	t.confidence = 0
}
