package core

// Default timer parameters
const (
	DefaultTicksPerUS = 1          // 1MHz timer (RP2040 TIMER peripheral)
	DefaultTickMask   = 0xFFFFFFFF // 32-bit counter, or the low word of a 64-bit one
)

// TickCounter is the free-running hardware tick counter.
// Now returns the raw counter value; only the bits in the engine's
// TickMask are significant.
type TickCounter interface {
	// Start starts the counter (no-op if it is always running)
	Start()

	// Now reads the current counter value
	Now() uint32
}

// TimerFromNS converts nanoseconds to timer ticks, truncating.
// The multiplication is done in 64 bits so long delays do not overflow.
func TimerFromNS(ns uint32, ticksPerUS uint32) uint32 {
	return uint32(uint64(ns) * uint64(ticksPerUS) / 1000)
}

// TimerToNS converts timer ticks back to nanoseconds
func TimerToNS(ticks uint32, ticksPerUS uint32) uint64 {
	if ticksPerUS == 0 {
		return 0
	}
	return uint64(ticks) * 1000 / uint64(ticksPerUS)
}

// TickElapsed returns the ticks elapsed from since to now on a counter
// that wraps at mask+1
func TickElapsed(now, since, mask uint32) uint32 {
	return (now - since) & mask
}

// TickDue reports whether wait ticks have passed since the reference tick.
// The distance is measured the wrapped way, so a deadline whose own
// computation overflowed the counter is still compared correctly.
func TickDue(now, since, wait, mask uint32) bool {
	return TickElapsed(now, since, mask) >= wait&mask
}
