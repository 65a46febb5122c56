package core

import "math"

// Channel is the runtime state of one pulse output lane.
// Channels live in the engine's fixed table and are addressed by index.
type Channel struct {
	// Pin binding
	Port     uint32
	Pin      uint32
	Inverted bool // Output level is the logical level inverted

	configured bool

	// Active task
	active       bool
	infinite     bool
	dir          bool   // true = reverse
	togglesTotal uint32 // math.MaxUint32 for infinite tasks
	togglesLeft  uint32
	toggled      uint32 // Toggles performed by the current task
	setupTicks   uint32
	holdTicks    uint32
	since        uint32 // Tick the current wait is measured from
	wait         uint32 // Ticks to wait after since
	abortOnSetup bool
	abortOnHold  bool

	// Accounting
	position  int32  // Net toggles, signed by direction
	tasksDone uint32 // Completed tasks, operator bookkeeping

	queue TaskQueue
}

// load makes t the active task, armed at now
func (ch *Channel) load(t Task, now uint32, cfg *Config) {
	ch.active = true
	ch.infinite = t.Toggles == 0
	if ch.infinite {
		ch.togglesTotal = math.MaxUint32
	} else {
		ch.togglesTotal = t.Toggles
	}
	ch.togglesLeft = ch.togglesTotal
	ch.toggled = 0
	ch.dir = t.Dir
	ch.setupTicks = cfg.ticks(t.SetupNs)
	ch.holdTicks = cfg.ticks(t.HoldNs)
	ch.since = now
	ch.wait = cfg.ticks(t.DelayNs)
	ch.abortOnSetup = false
	ch.abortOnHold = false
}

// stop drops the active task and every queued task
func (ch *Channel) stop() {
	ch.active = false
	ch.abortOnSetup = false
	ch.abortOnHold = false
	ch.queue.Clear()
}

// drive sets the logical output level
func (ch *Channel) drive(gpio GPIODriver, high bool) {
	if high != ch.Inverted {
		gpio.SetPin(ch.Port, ch.Pin)
	} else {
		gpio.ClearPin(ch.Port, ch.Pin)
	}
}

// edge performs one pin change and schedules the next one.
// Returns true if the channel must stop because the new phase is the one
// an abort was requested for.
func (ch *Channel) edge(gpio GPIODriver, mask uint32) bool {
	var next uint32
	var abort bool

	// Trust the pin, not our own bookkeeping
	if gpio.ReadPin(ch.Port, ch.Pin) != ch.Inverted {
		ch.drive(gpio, false)
		next = ch.setupTicks
		abort = ch.abortOnSetup
	} else {
		ch.drive(gpio, true)
		next = ch.holdTicks
		abort = ch.abortOnHold
	}

	ch.toggled++
	if !ch.infinite {
		ch.togglesLeft--
	}
	if ch.dir {
		ch.position--
	} else {
		ch.position++
	}

	if abort {
		return true
	}

	// Measure from the deadline just met, not from now, so late passes
	// do not accumulate drift
	ch.since = (ch.since + ch.wait) & mask
	ch.wait = next
	return false
}

// deadline returns the tick of the next scheduled change
func (ch *Channel) deadline(mask uint32) uint32 {
	return (ch.since + ch.wait) & mask
}
