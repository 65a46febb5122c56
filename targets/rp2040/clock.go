//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x28 // Raw timer low word, no latching
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// HardwareTimer is the 1MHz RP2040 timer. The engine only uses the low
// 32 bits, which wrap every ~71 minutes.
type HardwareTimer struct{}

// Start is a no-op: the timer runs from reset
func (HardwareTimer) Start() {}

// Now returns the low 32 bits of the microsecond counter
func (HardwareTimer) Now() uint32 {
	return timerRAWL.Get()
}
