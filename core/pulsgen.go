// Pulse generator engine
// Drives step/dir and PWM-like pulse trains on GPIO pins from a polled
// scheduler, timed by a free-running tick counter
package core

import "errors"

// ChannelCount is the number of pulse channels
const ChannelCount = 24

var (
	ErrInvalidChannel = errors.New("pulsgen channel out of range")
	ErrNotConfigured  = errors.New("pulsgen channel has no pin configured")
)

// AbortPhase selects where a running task stops
type AbortPhase uint8

const (
	AbortOnSetup AbortPhase = 0 // Stop when the pin next enters the setup (low) phase
	AbortOnHold  AbortPhase = 1 // Stop when the pin next enters the hold (high) phase
	AbortNow     AbortPhase = 2 // Stop immediately, leaving the pin where it is
)

// Config holds the engine timing parameters
type Config struct {
	TicksPerUS uint32 // Tick counter frequency in MHz
	TickMask   uint32 // Counter width: the counter wraps at TickMask+1
}

// DefaultConfig returns the configuration of a 1MHz 32-bit counter
func DefaultConfig() Config {
	return Config{
		TicksPerUS: DefaultTicksPerUS,
		TickMask:   DefaultTickMask,
	}
}

// ticks converts nanoseconds to ticks. Intervals longer than the counter
// can measure are clamped to its full range.
func (c *Config) ticks(ns uint32) uint32 {
	t := uint64(ns) * uint64(c.TicksPerUS) / 1000
	if t > uint64(c.TickMask) {
		return c.TickMask
	}
	return uint32(t)
}

// Engine owns the channel table, the task queues and the watchdog.
// Tick is meant to be polled from the main loop; every other method is a
// control operation and is applied atomically with respect to Tick.
type Engine struct {
	cfg      Config
	gpio     GPIODriver
	timer    TickCounter
	channels [ChannelCount]Channel
	top      int // Highest active channel, -1 when none
	watchdog Watchdog
}

// NewEngine creates an engine driving gpio, timed by timer
func NewEngine(gpio GPIODriver, timer TickCounter, cfg Config) *Engine {
	if cfg.TicksPerUS == 0 {
		cfg.TicksPerUS = DefaultTicksPerUS
	}
	if cfg.TickMask == 0 {
		cfg.TickMask = DefaultTickMask
	}
	return &Engine{
		cfg:   cfg,
		gpio:  gpio,
		timer: timer,
		top:   -1,
	}
}

// Start starts the tick counter. Call once before polling Tick.
func (e *Engine) Start() {
	e.timer.Start()
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// now reads the tick counter
func (e *Engine) now() uint32 {
	return e.timer.Now() & e.cfg.TickMask
}

// Tick runs one scheduler pass over the active channels.
// The counter is read once and the same value is used for every channel.
func (e *Engine) Tick() {
	mask := e.cfg.TickMask
	now := e.now()

	wasFired := e.watchdog.fired
	abort := e.watchdog.Expired(now, mask)
	if abort && !wasFired {
		RecordTiming(EvtWatchdog, 0, now, uint32(e.top+1), 0)
		DebugAsync("[PULSGEN] watchdog expired, aborting all channels")
	}

	for c := e.top; c >= 0; c-- {
		ch := &e.channels[c]
		if !ch.active {
			continue
		}

		if abort {
			e.release(c, now, EvtWatchdogAbort)
			continue
		}

		if !TickDue(now, ch.since, ch.wait, mask) {
			continue
		}

		// A task queued behind a finished one starts in the same pass
		if !ch.infinite && ch.togglesLeft == 0 {
			if !e.complete(c, now) || !TickDue(now, ch.since, ch.wait, mask) {
				continue
			}
		}

		if ch.edge(e.gpio, mask) {
			e.release(c, now, EvtAbort)
		}
	}
}

// complete finishes the active task of channel c and loads the next one.
// Returns false when the channel went idle.
func (e *Engine) complete(c int, now uint32) bool {
	ch := &e.channels[c]
	ch.tasksDone++
	RecordTiming(EvtTaskDone, uint8(c), now, ch.toggled, ch.tasksDone)

	next, ok := ch.queue.Next()
	if !ok {
		ch.active = false
		e.shrink(c)
		return false
	}
	ch.load(next, now, &e.cfg)
	RecordTiming(EvtTaskLoad, uint8(c), now, ch.togglesTotal, ch.wait)
	return true
}

// release stops channel c and clears its queue
func (e *Engine) release(c int, now uint32, evt uint8) {
	ch := &e.channels[c]
	ch.stop()
	RecordTiming(evt, uint8(c), now, ch.toggled, uint32(ch.position))
	e.shrink(c)
}

// shrink lowers the highest active index after channel c went idle
func (e *Engine) shrink(c int) {
	if c != e.top {
		return
	}
	for e.top >= 0 && !e.channels[e.top].active {
		e.top--
	}
}

// channel returns channel c or ErrInvalidChannel
func (e *Engine) channel(c uint32) (*Channel, error) {
	if c >= ChannelCount {
		return nil, ErrInvalidChannel
	}
	return &e.channels[c], nil
}

// ConfigurePin binds channel c to a GPIO pin and drives it to the idle
// (setup phase) level. A task running on the channel is aborted.
func (e *Engine) ConfigurePin(c, port, pin uint32, inverted bool) error {
	ch, err := e.channel(c)
	if err != nil {
		return err
	}
	if err := e.gpio.ConfigureOutput(port, pin); err != nil {
		return err
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	if ch.active {
		e.release(int(c), e.now(), EvtAbort)
	}
	ch.Port = port
	ch.Pin = pin
	ch.Inverted = inverted
	ch.configured = true
	ch.drive(e.gpio, false)

	return nil
}

// AddTask starts t on channel c if the channel is idle, otherwise queues it
// behind the active task. A task that does not fit in the queue is dropped
// without notice.
func (e *Engine) AddTask(c uint32, t Task) error {
	ch, err := e.channel(c)
	if err != nil {
		return err
	}
	if !ch.configured {
		return ErrNotConfigured
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	now := e.now()
	if !ch.active {
		ch.load(t, now, &e.cfg)
		ch.queue.MarkActive()
		if int(c) > e.top {
			e.top = int(c)
		}
		RecordTiming(EvtTaskLoad, uint8(c), now, ch.togglesTotal, ch.wait)
		return nil
	}

	if !ch.queue.Push(t) {
		RecordTiming(EvtTaskDropped, uint8(c), now, t.Toggles, 0)
		if IsDebugEnabled() {
			DebugPrintln("[PULSGEN] queue full, task dropped on channel " + utoa(c))
		}
		return nil
	}
	RecordTiming(EvtTaskQueued, uint8(c), now, t.Toggles, uint32(ch.queue.Pending()))
	return nil
}

// Abort stops channel c. Queued tasks are dropped at once; the active task
// runs until the pin next enters the requested phase, so a half-cycle in
// progress is never cut short. A task that has not made its first toggle
// yet, or an AbortNow request, stops immediately.
func (e *Engine) Abort(c uint32, phase AbortPhase) error {
	ch, err := e.channel(c)
	if err != nil {
		return err
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !ch.active {
		ch.queue.Clear()
		return nil
	}

	if phase == AbortNow || ch.toggled == 0 {
		e.release(int(c), e.now(), EvtAbort)
		return nil
	}

	ch.queue.Clear()
	ch.queue.MarkActive()
	switch phase {
	case AbortOnSetup:
		ch.abortOnSetup = true
	case AbortOnHold:
		ch.abortOnHold = true
	}
	return nil
}

// AbortAll immediately stops every channel
func (e *Engine) AbortAll() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	now := e.now()
	for c := e.top; c >= 0; c-- {
		if e.channels[c].active {
			e.release(c, now, EvtAbort)
		}
	}
}

// State reports whether channel c has an active task
func (e *Engine) State(c uint32) (bool, error) {
	ch, err := e.channel(c)
	if err != nil {
		return false, err
	}
	return ch.active, nil
}

// Toggles returns the number of pin changes made by the current (or last)
// task of channel c
func (e *Engine) Toggles(c uint32) (uint32, error) {
	ch, err := e.channel(c)
	if err != nil {
		return 0, err
	}
	return ch.toggled, nil
}

// Pending returns the number of tasks queued behind the active one
func (e *Engine) Pending(c uint32) (int, error) {
	ch, err := e.channel(c)
	if err != nil {
		return 0, err
	}
	return ch.queue.Pending(), nil
}

// Position returns the signed net toggle count of channel c
func (e *Engine) Position(c uint32) (int32, error) {
	ch, err := e.channel(c)
	if err != nil {
		return 0, err
	}
	return ch.position, nil
}

// SetPosition overwrites the position counter of channel c
func (e *Engine) SetPosition(c uint32, pos int32) error {
	ch, err := e.channel(c)
	if err != nil {
		return err
	}

	state := disableInterrupts()
	ch.position = pos
	restoreInterrupts(state)
	return nil
}

// TasksDone returns the completed task counter of channel c
func (e *Engine) TasksDone(c uint32) (uint32, error) {
	ch, err := e.channel(c)
	if err != nil {
		return 0, err
	}
	return ch.tasksDone, nil
}

// SetTasksDone overwrites the completed task counter of channel c
func (e *Engine) SetTasksDone(c uint32, done uint32) error {
	ch, err := e.channel(c)
	if err != nil {
		return err
	}

	state := disableInterrupts()
	ch.tasksDone = done
	restoreInterrupts(state)
	return nil
}

// SetWatchdog arms the watchdog with a timeout in nanoseconds, or disarms
// it when disabled or when timeoutNs is 0
func (e *Engine) SetWatchdog(enabled bool, timeoutNs uint32) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	var timeout uint32
	if enabled && timeoutNs != 0 {
		timeout = e.cfg.ticks(timeoutNs)
		if timeout == 0 {
			timeout = 1
		}
	}
	e.watchdog.Set(timeout, e.now())
}

// FeedWatchdog restarts the watchdog countdown
func (e *Engine) FeedWatchdog() {
	state := disableInterrupts()
	e.watchdog.Feed(e.now())
	restoreInterrupts(state)
}

// Watchdog returns a copy of the watchdog state
func (e *Engine) Watchdog() Watchdog {
	return e.watchdog
}

// ActiveTop returns the highest active channel index, or -1
func (e *Engine) ActiveTop() int {
	return e.top
}

// Deadline returns the tick of the next scheduled change on channel c
func (e *Engine) Deadline(c uint32) (uint32, error) {
	ch, err := e.channel(c)
	if err != nil {
		return 0, err
	}
	return ch.deadline(e.cfg.TickMask), nil
}
