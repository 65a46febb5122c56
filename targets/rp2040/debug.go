//go:build rp2040

package main

import (
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"pulsgen/core"
)

// debugUARTEnabled routes core debug output to UART1 (TX=GPIO4, RX=GPIO5).
// Those pins are then unavailable to pulse channels.
const debugUARTEnabled = false

var debugUART *uartx.UART

// InitDebugUART configures UART1 at 115200 baud and installs it as the core
// debug writer. Scheduler messages go through the async debug queue and
// never wait on the UART.
func InitDebugUART() {
	if !debugUARTEnabled {
		return
	}
	debugUART = uartx.UART1
	err := debugUART.Configure(uartx.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO4,
		RX:       machine.GPIO5,
	})
	if err != nil {
		debugUART = nil
		return
	}

	core.SetDebugWriter(func(s string) {
		debugUART.Write([]byte(s))
		debugUART.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
	core.DebugPrintln("=== pulsgen RP2040 debug UART ===")
}
