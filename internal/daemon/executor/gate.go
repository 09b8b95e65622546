package executor

import (
	"sync"
	"time"
)

// GateResult is the outcome of a plan confirmation gate.
type GateResult string

const (
	GateApproved  GateResult = "approved"
	GateCancelled GateResult = "cancelled"
	GateTimeout   GateResult = "timeout"
)

// Decision resolves a gate.
type Decision struct {
	Result GateResult
	Reason string
}

type gate struct {
	ch    chan Decision
	timer *time.Timer
}

// gates correlates task ids with the run waiting on their plan confirmation.
// Each registration resolves exactly once: by a caller, by its timer, or by
// being dropped when the run ends.
type gates struct {
	mu      sync.Mutex
	pending map[string]*gate
}

func newGates() *gates {
	return &gates{pending: make(map[string]*gate)}
}

// open registers a gate for id that resolves to GateTimeout after timeout.
func (g *gates) open(id string, timeout time.Duration) <-chan Decision {
	gt := &gate{ch: make(chan Decision, 1)}

	g.mu.Lock()
	if old, ok := g.pending[id]; ok {
		old.timer.Stop()
		old.ch <- Decision{Result: GateCancelled, Reason: "superseded"}
	}
	g.pending[id] = gt
	gt.timer = time.AfterFunc(timeout, func() {
		g.settle(id, gt, Decision{Result: GateTimeout})
	})
	g.mu.Unlock()

	return gt.ch
}

// resolve completes the pending gate for id. It returns false when none is registered.
func (g *gates) resolve(id string, d Decision) bool {
	g.mu.Lock()
	gt, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return false
	}
	return g.settle(id, gt, d)
}

// settle completes gt if it is still the registration for id.
func (g *gates) settle(id string, gt *gate, d Decision) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending[id] != gt {
		return false
	}
	delete(g.pending, id)
	gt.timer.Stop()
	gt.ch <- d // buffered, never blocks
	return true
}

// drop removes the registration for id without resolving it.
func (g *gates) drop(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gt, ok := g.pending[id]; ok {
		gt.timer.Stop()
		delete(g.pending, id)
	}
}

func (g *gates) has(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[id]
	return ok
}
