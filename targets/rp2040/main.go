//go:build rp2040

// Firmware for the RP2040: the pulse engine polled from the main loop,
// controlled over USB CDC.
package main

import (
	"machine"

	"pulsgen/core"
	"pulsgen/protocol"
)

func main() {
	// A watchdog left running by a previous image would reset us mid-task
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	in := protocol.NewFifoBuffer(256)
	out := protocol.NewScratchOutput()
	link := newUSBLink(in, out)
	InitDebugUART()

	engine := core.NewEngine(SIOGPIO{}, HardwareTimer{}, core.DefaultConfig())

	var transport *protocol.Transport
	controller := core.NewController(engine, func(kind protocol.MsgKind, value uint32) {
		transport.SendValue(kind, value)
	})
	transport = protocol.NewTransport(out, controller.HandleMessage)

	resync := func() {
		in.Reset()
		link.Discard()
		engine.AbortAll()
	}
	// Runs inside transport.Receive: the input FIFO already holds the
	// reconnected host's frames and must be left alone
	transport.SetResetCallback(func() {
		link.Discard()
		engine.AbortAll()
		if core.IsDebugEnabled() {
			core.DebugPrintln("[PULSGEN] host reset, all channels stopped")
			core.DumpTimingRing()
		}
	})
	// Replies and the ACK of a frame leave together, right after the frame
	transport.SetFlushCallback(link.Flush)
	link.OnReconnect = func() {
		resync()
		transport.Reset()
	}

	engine.Start()
	for {
		pass(link, transport, engine, resync)
	}
}

// pass runs one main loop iteration. A panic in a handler stops every
// channel and drops buffered traffic instead of crashing the firmware.
func pass(link *protocol.Link, transport *protocol.Transport, engine *core.Engine, resync func()) {
	defer func() {
		if r := recover(); r != nil {
			link.CountError()
			resync()
		}
	}()

	link.Poll()
	if link.Input().Available() > 0 {
		transport.Receive(link.Input())
	}
	if link.Pending() {
		link.Flush()
	}
	engine.Tick()
}
