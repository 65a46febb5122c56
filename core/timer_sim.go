package core

import "sync/atomic"

// SimTimer is an in-memory TickCounter for tests and host-side simulation.
// The counter only moves when Set or Advance is called.
type SimTimer struct {
	ticks   uint32
	mask    uint32
	started uint32
}

// NewSimTimer creates a simulated counter that wraps at mask+1
func NewSimTimer(mask uint32) *SimTimer {
	if mask == 0 {
		mask = DefaultTickMask
	}
	return &SimTimer{mask: mask}
}

// Start implements TickCounter
func (t *SimTimer) Start() {
	atomic.StoreUint32(&t.started, 1)
}

// Started reports whether Start was called
func (t *SimTimer) Started() bool {
	return atomic.LoadUint32(&t.started) != 0
}

// Now implements TickCounter
func (t *SimTimer) Now() uint32 {
	return atomic.LoadUint32(&t.ticks)
}

// Set sets the counter value
func (t *SimTimer) Set(ticks uint32) {
	atomic.StoreUint32(&t.ticks, ticks&t.mask)
}

// Advance moves the counter forward, wrapping at mask+1
func (t *SimTimer) Advance(ticks uint32) {
	t.Set(t.Now() + ticks)
}
