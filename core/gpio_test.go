package core

import (
	"errors"
	"testing"

	"pulsgen/protocol"
)

func TestSimGPIOBasic(t *testing.T) {
	gpio := NewSimGPIO()

	if err := gpio.ConfigureOutput(1, 25); err != nil {
		t.Fatalf("ConfigureOutput failed: %v", err)
	}
	if !gpio.IsOutput(1, 25) {
		t.Error("Pin not configured as output")
	}

	gpio.SetPin(1, 25)
	if !gpio.ReadPin(1, 25) {
		t.Error("Expected pin to be high, got low")
	}

	gpio.ClearPin(1, 25)
	if gpio.ReadPin(1, 25) {
		t.Error("Expected pin to be low, got high")
	}

	if gpio.Writes[1] != 2 {
		t.Errorf("Expected 2 writes, got %d", gpio.Writes[1])
	}

	if err := gpio.ConfigureInput(1, 25); err != nil {
		t.Fatalf("ConfigureInput failed: %v", err)
	}
	if gpio.IsOutput(1, 25) {
		t.Error("Pin still an output")
	}

	if err := gpio.ConfigureOutput(0, GPIOPinsPerPort); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("Expected ErrInvalidPin, got %v", err)
	}
}

func TestGPIOMessages(t *testing.T) {
	r, ctl, replies := newTestController(t)

	send(t, ctl, protocol.MsgGPIOSetupOutput, 3, 4)
	if !r.gpio.IsOutput(3, 4) {
		t.Error("Setup output message did not configure the pin")
	}

	send(t, ctl, protocol.MsgGPIOPinSet, 3, 4)
	send(t, ctl, protocol.MsgGPIOPinGet, 3, 4)
	send(t, ctl, protocol.MsgGPIOPortSet, 3, 0x0F00)
	send(t, ctl, protocol.MsgGPIOPortGet, 3)
	send(t, ctl, protocol.MsgGPIOPortClear, 3, 0x0300)
	send(t, ctl, protocol.MsgGPIOPinClear, 3, 4)
	send(t, ctl, protocol.MsgGPIOPortGet, 3)
	send(t, ctl, protocol.MsgGPIOPinGet, 3, 4)

	want := []reply{
		{protocol.MsgGPIOPinGet, 1},
		{protocol.MsgGPIOPortGet, 0x0F10},
		{protocol.MsgGPIOPortGet, 0x0C00},
		{protocol.MsgGPIOPinGet, 0},
	}
	if len(*replies) != len(want) {
		t.Fatalf("Got %d replies, want %d: %v", len(*replies), len(want), *replies)
	}
	for i, w := range want {
		if (*replies)[i] != w {
			t.Errorf("Reply %d = %+v, want %+v", i, (*replies)[i], w)
		}
	}

	send(t, ctl, protocol.MsgGPIOSetupInput, 3, 4)
	if r.gpio.IsOutput(3, 4) {
		t.Error("Setup input message did not configure the pin")
	}
}

func TestGPIOMessagesRejectBadPins(t *testing.T) {
	_, ctl, replies := newTestController(t)

	bad := []protocol.Message{
		protocol.NewMessage(protocol.MsgGPIOSetupOutput, GPIOPortCount, 0),
		protocol.NewMessage(protocol.MsgGPIOPinSet, 0, GPIOPinsPerPort),
		protocol.NewMessage(protocol.MsgGPIOPinGet, 0, 40),
		protocol.NewMessage(protocol.MsgGPIOPortGet, GPIOPortCount),
		protocol.NewMessage(protocol.MsgGPIOPortSet, 100, 1),
	}
	for i := range bad {
		if err := ctl.HandleMessage(&bad[i]); !errors.Is(err, ErrInvalidPin) {
			t.Errorf("Message %v: expected ErrInvalidPin, got %v", bad[i].Kind, err)
		}
	}
	if len(*replies) != 0 {
		t.Errorf("Rejected queries were answered: %v", *replies)
	}
}

// A pin written through the GPIO messages while a channel drives it is
// picked up by the channel's next edge
func TestGPIOMessageInterference(t *testing.T) {
	r, ctl, _ := newTestController(t)

	send(t, ctl, protocol.MsgPinSetup, 0, testPort, testPin, 0)
	send(t, ctl, protocol.MsgTaskAdd, 0, 0, 0, 10000, 20000, 0)
	r.eng.Tick()

	send(t, ctl, protocol.MsgGPIOPinClear, testPort, testPin)
	r.runTo(20)
	if !r.level() {
		t.Error("Channel did not drive the cleared pin high")
	}
}
