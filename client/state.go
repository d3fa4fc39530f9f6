package client

import (
	"sync"
)

// State is the connectivity state of a client.
type State int32

const (
	// Unknown is the state before construction completes.
	Unknown State = iota
	// Probing clients wait for the first health probe. Calls still try the
	// service first, and a failed call resolves the client to Offline.
	Probing
	// Connected clients use the service.
	Connected
	// Degraded clients saw a recent failure. They keep trying the service and
	// fall back to the local store for each failed call.
	Degraded
	// Offline clients use the local store only, until a probe succeeds.
	Offline
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Probing:
		return "probing"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Offline:
		return "offline"
	}
	return "invalid"
}

type transition struct {
	from, to State
}

func (t transition) changed() bool { return t.from != t.to }

type tracker struct {
	mu        sync.Mutex
	state     State
	failures  int
	threshold int
}

func newTracker(threshold int) *tracker {
	if threshold < 1 {
		threshold = 1
	}
	return &tracker{state: Probing, threshold: threshold}
}

func (t *tracker) get() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *tracker) set(to State) transition {
	tr := transition{from: t.state, to: to}
	t.state = to
	return tr
}

// success records a call or probe that reached the service.
func (t *tracker) success() transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = 0
	return t.set(Connected)
}

// failure records a call that could not reach the service. A client that
// has not reached the service yet resolves to Offline, as a failed probe
// would.
func (t *tracker) failure() transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
	if t.state == Probing || t.state == Offline || t.failures >= t.threshold {
		t.failures = max(t.failures, t.threshold)
		return t.set(Offline)
	}
	return t.set(Degraded)
}

// probeFailure records a failed health probe.
func (t *tracker) probeFailure() transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Probing || t.state == Offline {
		t.failures = t.threshold
		return t.set(Offline)
	}
	return transition{from: t.state, to: t.state}
}
