// Package resilience provides guards for external service calls.
package resilience

import "sync"

// Fuse is a one-way circuit breaker: once blown it stays blown for the
// lifetime of the run. It guards services that fail uniformly (for example
// a geocoding account whose every credential is over quota), where probing
// for recovery mid-run would only burn more of the failure budget.
type Fuse struct {
	mu     sync.Mutex
	blown  bool
	onBlow func()
}

// NewFuse creates a fuse in the intact state. onBlow, if non-nil, is
// called exactly once on the first Blow.
func NewFuse(onBlow func()) *Fuse {
	return &Fuse{onBlow: onBlow}
}

// Blown reports whether the fuse has tripped.
func (f *Fuse) Blown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blown
}

// Blow trips the fuse. Safe to call repeatedly; only the first call has
// any effect.
func (f *Fuse) Blow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blown {
		return
	}
	f.blown = true
	if f.onBlow != nil {
		f.onBlow()
	}
}
