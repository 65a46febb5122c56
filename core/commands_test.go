package core

import (
	"errors"
	"testing"

	"pulsgen/protocol"
)

type reply struct {
	kind  protocol.MsgKind
	value uint32
}

// newTestController wires a controller to a test rig and records replies
func newTestController(t *testing.T) (*testRig, *Controller, *[]reply) {
	t.Helper()
	r := newTestRig(t, DefaultTickMask)
	replies := &[]reply{}
	ctl := NewController(r.eng, func(kind protocol.MsgKind, value uint32) {
		*replies = append(*replies, reply{kind, value})
	})
	return r, ctl, replies
}

func send(t *testing.T, ctl *Controller, kind protocol.MsgKind, fields ...uint32) {
	t.Helper()
	msg := protocol.NewMessage(kind, fields...)
	if err := ctl.HandleMessage(&msg); err != nil {
		t.Fatalf("HandleMessage(%v) failed: %v", kind, err)
	}
}

func TestControllerTaskLifecycle(t *testing.T) {
	r, ctl, replies := newTestController(t)

	send(t, ctl, protocol.MsgPinSetup, 2, testPort, testPin, 0)
	send(t, ctl, protocol.MsgTaskAdd, 2, 0, 4, 25000, 25000, 0)
	send(t, ctl, protocol.MsgStateGet, 2)

	r.eng.Tick()
	r.runTo(60)
	send(t, ctl, protocol.MsgTogglesGet, 2)

	r.runTo(200)
	send(t, ctl, protocol.MsgStateGet, 2)
	send(t, ctl, protocol.MsgPosGet, 2)
	send(t, ctl, protocol.MsgTasksDoneGet, 2)

	want := []reply{
		{protocol.MsgStateGet, 1},
		{protocol.MsgTogglesGet, 3},
		{protocol.MsgStateGet, 0},
		{protocol.MsgPosGet, 4},
		{protocol.MsgTasksDoneGet, 1},
	}
	if len(*replies) != len(want) {
		t.Fatalf("Got %d replies, want %d: %v", len(*replies), len(want), *replies)
	}
	for i, w := range want {
		if (*replies)[i] != w {
			t.Errorf("Reply %d = %+v, want %+v", i, (*replies)[i], w)
		}
	}
}

func TestControllerCounters(t *testing.T) {
	_, ctl, replies := newTestController(t)

	send(t, ctl, protocol.MsgPosSet, 1, uint32(0xFFFFFFF6)) // -10
	send(t, ctl, protocol.MsgPosGet, 1)
	send(t, ctl, protocol.MsgTasksDoneSet, 1, 9)
	send(t, ctl, protocol.MsgTasksDoneGet, 1)

	if pos, _ := ctl.Engine().Position(1); pos != -10 {
		t.Errorf("Expected position -10, got %d", pos)
	}
	if (*replies)[0].value != 0xFFFFFFF6 {
		t.Errorf("Position reply %#x, want 0xfffffff6", (*replies)[0].value)
	}
	if (*replies)[1].value != 9 {
		t.Errorf("Tasks done reply %d, want 9", (*replies)[1].value)
	}
}

func TestControllerAbort(t *testing.T) {
	r, ctl, _ := newTestController(t)

	send(t, ctl, protocol.MsgPinSetup, 0, testPort, testPin, 0)
	send(t, ctl, protocol.MsgTaskAdd, 0, 0, 0, 10000, 10000, 0)
	r.eng.Tick()
	send(t, ctl, protocol.MsgTaskAbort, 0, uint32(AbortNow))

	if busy, _ := r.eng.State(0); busy {
		t.Error("Channel busy after abort")
	}

	msg := protocol.NewMessage(protocol.MsgTaskAbort, 0, 7)
	if err := ctl.HandleMessage(&msg); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("Expected ErrInvalidPhase, got %v", err)
	}
}

func TestControllerAbortAll(t *testing.T) {
	r, ctl, _ := newTestController(t)

	for c := uint32(0); c < 3; c++ {
		send(t, ctl, protocol.MsgPinSetup, c, 1, c, 0)
		send(t, ctl, protocol.MsgTaskAdd, c, 0, 0, 10000, 10000, 0)
	}
	r.eng.Tick()
	send(t, ctl, protocol.MsgAbortAll)

	if r.eng.ActiveTop() != -1 {
		t.Errorf("Expected no active channel, top = %d", r.eng.ActiveTop())
	}
}

func TestControllerFeedsWatchdog(t *testing.T) {
	r, ctl, _ := newTestController(t)

	send(t, ctl, protocol.MsgWatchdogSetup, 1, 100000)
	send(t, ctl, protocol.MsgPinSetup, 0, testPort, testPin, 0)
	send(t, ctl, protocol.MsgTaskAdd, 0, 0, 0, 10000, 10000, 0)

	r.eng.Tick()
	r.runTo(90)
	send(t, ctl, protocol.MsgPing)

	// Unknown kinds do not count as host activity
	r.runTo(150)
	msg := protocol.NewMessage(0x7F)
	if err := ctl.HandleMessage(&msg); !errors.Is(err, protocol.ErrUnknownMessage) {
		t.Errorf("Expected ErrUnknownMessage, got %v", err)
	}

	r.runTo(189)
	if busy, _ := r.eng.State(0); !busy {
		t.Fatal("Ping did not feed the watchdog")
	}
	r.runTo(190)
	if busy, _ := r.eng.State(0); busy {
		t.Error("Unknown message fed the watchdog")
	}

	accepted, rejected := ctl.Stats()
	if accepted != 4 || rejected != 1 {
		t.Errorf("Stats = %d/%d, want 4/1", accepted, rejected)
	}
}

func TestControllerRejectsInvalidChannel(t *testing.T) {
	_, ctl, replies := newTestController(t)

	msg := protocol.NewMessage(protocol.MsgStateGet, ChannelCount)
	if err := ctl.HandleMessage(&msg); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("Expected ErrInvalidChannel, got %v", err)
	}
	if len(*replies) != 0 {
		t.Errorf("Invalid query was answered: %v", *replies)
	}
}
