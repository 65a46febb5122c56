package core

// DebugWriter receives one line of debug output
type DebugWriter func(string)

// TimingEvent is one entry of the timing ring
type TimingEvent struct {
	EventType uint8
	Channel   uint8
	Clock     uint32 // Tick counter at the event
	Value1    uint32
	Value2    uint32
}

// Timing event types. Value1/Value2 are listed per type.
const (
	EvtTaskLoad      = 1 // Task became active: toggles, start delay ticks
	EvtTaskQueued    = 2 // Task queued behind the active one: toggles, pending
	EvtTaskDropped   = 3 // Queue full, task dropped: toggles
	EvtTaskDone      = 4 // Task completed: toggles, tasks done
	EvtAbort         = 5 // Channel aborted: toggles, position
	EvtWatchdog      = 6 // Watchdog expired: active channel bound
	EvtWatchdogAbort = 7 // Channel aborted by the watchdog: toggles, position
)

var eventNames = [...]string{
	EvtTaskLoad:      "TASK_LOAD",
	EvtTaskQueued:    "TASK_QUEUED",
	EvtTaskDropped:   "TASK_DROPPED!",
	EvtTaskDone:      "TASK_DONE",
	EvtAbort:         "ABORT",
	EvtWatchdog:      "WATCHDOG!",
	EvtWatchdogAbort: "WD_ABORT",
}

// TimingRingSize is the number of events kept for post-mortem
const TimingRingSize = 32

var (
	debugPrintln DebugWriter = func(string) {}
	debugEnabled bool
	debugChan    chan string

	// The ring is written from Tick and never blocks or allocates
	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8
)

// SetDebugWriter sets the platform debug output (UART, host log)
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled turns DebugPrintln and DebugAsync output on or off
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the goroutine that drains DebugAsync messages.
// Call it after SetDebugWriter.
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go func() {
		for msg := range debugChan {
			debugPrintln(msg)
		}
	}()
}

// DebugPrintln writes msg synchronously
func DebugPrintln(msg string) {
	if debugEnabled {
		debugPrintln(msg)
	}
}

// DebugAsync queues msg for the async writer. It never blocks: without
// InitAsyncDebug, or with the queue full, the message is dropped.
func DebugAsync(msg string) {
	if !debugEnabled || debugChan == nil {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordTiming appends an event to the timing ring, overwriting the oldest
func RecordTiming(eventType, channel uint8, clock, value1, value2 uint32) {
	timingRing[timingRingHead] = TimingEvent{
		EventType: eventType,
		Channel:   channel,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	timingRingHead = (timingRingHead + 1) % TimingRingSize
}

// String formats the event as one dump line
func (e TimingEvent) String() string {
	name := "UNKNOWN"
	if int(e.EventType) < len(eventNames) && eventNames[e.EventType] != "" {
		name = eventNames[e.EventType]
	}
	return name +
		" ch=" + utoa(uint32(e.Channel)) +
		" clock=" + utoa(e.Clock) +
		" v1=" + utoa(e.Value1) +
		" v2=" + utoa(e.Value2)
}

// DumpTimingRing writes the ring to the debug writer, oldest first.
// It allocates, so call it outside the scheduler loop.
func DumpTimingRing() {
	debugPrintln("[TIMING] === Timing Ring Dump ===")
	for _, evt := range TimingEvents() {
		debugPrintln("[TIMING] " + evt.String())
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// TimingEvents returns the recorded events from oldest to newest
func TimingEvents() []TimingEvent {
	events := make([]TimingEvent, 0, TimingRingSize)
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(timingRingHead+i)%TimingRingSize]
		if evt.EventType != 0 {
			events = append(events, evt)
		}
	}
	return events
}

// ClearTimingRing empties the ring
func ClearTimingRing() {
	timingRing = [TimingRingSize]TimingEvent{}
	timingRingHead = 0
}
