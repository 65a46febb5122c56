package core

// Watchdog is the global host liveness timeout.
// Every accepted control message feeds it; once the timeout passes without
// a feed, the scheduler aborts every channel on each pass until the host
// speaks again.
type Watchdog struct {
	enabled bool
	timeout uint32 // Ticks
	since   uint32 // Tick of the last feed
	fired   bool   // Latched expiry, cleared by Feed
}

// Set arms the watchdog with a timeout in ticks, or disarms it when
// timeout is 0
func (w *Watchdog) Set(timeout, now uint32) {
	w.enabled = timeout != 0
	w.timeout = timeout
	w.since = now
	w.fired = false
}

// Feed restarts the countdown
func (w *Watchdog) Feed(now uint32) {
	w.since = now
	w.fired = false
}

// Enabled reports whether the watchdog is armed
func (w *Watchdog) Enabled() bool {
	return w.enabled
}

// Timeout returns the armed timeout in ticks
func (w *Watchdog) Timeout() uint32 {
	return w.timeout
}

// Expired reports whether the timeout elapsed since the last feed.
// Expiry is latched so a counter wrap during a long silence cannot
// re-enable the outputs.
func (w *Watchdog) Expired(now, mask uint32) bool {
	if !w.enabled {
		return false
	}
	if !w.fired && TickDue(now, w.since, w.timeout, mask) {
		w.fired = true
	}
	return w.fired
}
