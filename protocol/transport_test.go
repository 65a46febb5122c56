package protocol

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// buildTestFrame frames msgs with the given sequence byte
func buildTestFrame(seq uint8, msgs ...Message) []byte {
	var payload []byte
	for i := range msgs {
		payload = append(payload, msgs[i].Bytes()...)
	}
	frame := []byte{uint8(MessageLengthMin + len(payload)), seq}
	frame = append(frame, payload...)
	crc := CRC16(frame)
	return append(frame, uint8(crc>>8), uint8(crc), MessageValueSync)
}

func ackFrame(seq uint8) []byte {
	return buildTestFrame(seq)
}

func TestTransportReceive(t *testing.T) {
	var got []Message
	out := NewScratchOutput()
	tr := NewTransport(out, func(msg *Message) error {
		got = append(got, *msg)
		return nil
	})

	a := NewMessage(MsgPinSetup, 1, 0, 5, 0)
	b := NewMessage(MsgTaskAdd, 1, 0, 4, 25000, 25000, 0)
	tr.Receive(NewSliceInputBuffer(buildTestFrame(MessageDest, a, b)))

	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("Handler got %+v", got)
	}
	if !bytes.Equal(out.Result(), ackFrame(MessageDest+1)) {
		t.Errorf("ACK %x, want %x", out.Result(), ackFrame(MessageDest+1))
	}
}

func TestTransportSequenceWrap(t *testing.T) {
	var count int
	out := NewScratchOutput()
	tr := NewTransport(out, func(msg *Message) error {
		count++
		return nil
	})

	for i := 0; i < 20; i++ {
		seq := uint8(MessageDest | (i & MessageSeqMask))
		out.Reset()
		tr.Receive(NewSliceInputBuffer(buildTestFrame(seq, NewMessage(MsgPing))))

		next := uint8(MessageDest | ((i + 1) & MessageSeqMask))
		if !bytes.Equal(out.Result(), ackFrame(next)) {
			t.Fatalf("Frame %d: ACK %x, want %x", i, out.Result(), ackFrame(next))
		}
	}
	if count != 20 {
		t.Errorf("Expected 20 messages, got %d", count)
	}
}

func TestTransportNak(t *testing.T) {
	var count int
	out := NewScratchOutput()
	tr := NewTransport(out, func(msg *Message) error {
		count++
		return nil
	})

	tr.Receive(NewSliceInputBuffer(buildTestFrame(MessageDest, NewMessage(MsgPing))))
	out.Reset()

	// Repeat of the same frame is not processed again
	tr.Receive(NewSliceInputBuffer(buildTestFrame(MessageDest+3, NewMessage(MsgPing))))
	if count != 1 {
		t.Errorf("Out of sequence frame was processed")
	}
	if !bytes.Equal(out.Result(), ackFrame(MessageDest+1)) {
		t.Errorf("NAK %x, want %x", out.Result(), ackFrame(MessageDest+1))
	}
}

func TestTransportBadCRC(t *testing.T) {
	var count int
	out := NewScratchOutput()
	tr := NewTransport(out, func(msg *Message) error {
		count++
		return nil
	})

	bad := buildTestFrame(MessageDest, NewMessage(MsgPing))
	bad[3] ^= 0xFF
	good := buildTestFrame(MessageDest, NewMessage(MsgPing))

	tr.Receive(NewSliceInputBuffer(append(bad, good...)))
	if count != 1 {
		t.Errorf("Expected only the good frame to be handled, got %d", count)
	}
}

func TestTransportPartialFrame(t *testing.T) {
	var count int
	tr := NewTransport(NewScratchOutput(), func(msg *Message) error {
		count++
		return nil
	})

	frame := buildTestFrame(MessageDest, NewMessage(MsgPing))
	in := NewFifoBuffer(256)
	in.Write(frame[:10])
	tr.Receive(in)
	if count != 0 || in.Available() != 10 {
		t.Fatalf("Partial frame consumed: count=%d available=%d", count, in.Available())
	}

	in.Write(frame[10:])
	tr.Receive(in)
	if count != 1 || in.Available() != 0 {
		t.Errorf("Completed frame not handled: count=%d available=%d", count, in.Available())
	}
}

func TestTransportHandlerErrors(t *testing.T) {
	var count int
	tr := NewTransport(NewScratchOutput(), func(msg *Message) error {
		count++
		if msg.Kind != MsgPing {
			return ErrUnknownMessage
		}
		return nil
	})

	tr.Receive(NewSliceInputBuffer(buildTestFrame(MessageDest, NewMessage(0x7F), NewMessage(MsgPing))))
	if count != 2 {
		t.Errorf("Handler error stopped the frame, %d messages handled", count)
	}
	if tr.HandlerErrors() != 1 {
		t.Errorf("Expected 1 handler error, got %d", tr.HandlerErrors())
	}
}

func TestTransportHostReset(t *testing.T) {
	var resets int
	tr := NewTransport(NewScratchOutput(), nil)
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(buildTestFrame(MessageDest, NewMessage(MsgPing))))
	tr.Receive(NewSliceInputBuffer(buildTestFrame(MessageDest+1, NewMessage(MsgPing))))
	tr.Receive(NewSliceInputBuffer(buildTestFrame(MessageDest, NewMessage(MsgPing))))

	if resets != 1 {
		t.Errorf("Expected 1 reset, got %d", resets)
	}
}

// device runs a Transport on one end of a pipe, the way the firmware main
// loop does
type device struct {
	mu       sync.Mutex
	received []Message
}

func startDevice(conn net.Conn) *device {
	d := &device{}
	out := NewScratchOutput()
	in := NewFifoBuffer(512)

	var tr *Transport
	tr = NewTransport(out, func(msg *Message) error {
		d.mu.Lock()
		d.received = append(d.received, *msg)
		d.mu.Unlock()
		if msg.Kind.IsQuery() {
			tr.SendValue(msg.Kind, msg.Fields[0]*10)
		}
		return nil
	})

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			in.Write(buf[:n])
			tr.Receive(in)
			if res := out.Result(); len(res) > 0 {
				data := append([]byte(nil), res...)
				out.Reset()
				if _, err := conn.Write(data); err != nil {
					return
				}
			}
		}
	}()
	return d
}

func (d *device) messages() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.received...)
}

func TestHostDeviceRoundTrip(t *testing.T) {
	hostConn, devConn := net.Pipe()
	defer devConn.Close()

	d := startDevice(devConn)
	host := NewHostTransport(hostConn)
	defer host.Close()

	for i := 0; i < 20; i++ {
		if err := host.SendMessage(NewMessage(MsgPing)); err != nil {
			t.Fatalf("Ping %d failed: %v", i, err)
		}
	}

	if err := host.SendMessage(NewMessage(MsgPosGet, 4)); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	resp, err := host.ReceiveResponse(time.Second)
	if err != nil {
		t.Fatalf("ReceiveResponse failed: %v", err)
	}
	if resp.Kind != MsgPosGet || resp.Fields[0] != 40 {
		t.Errorf("Response %+v, want kind %v value 40", resp, MsgPosGet)
	}

	batch := []Message{NewMessage(MsgPosSet, 1, 2), NewMessage(MsgPosSet, 3, 4)}
	if err := host.SendMessagesWithTimeout(batch, time.Second); err != nil {
		t.Fatalf("Batch failed: %v", err)
	}

	if n := len(d.messages()); n != 23 {
		t.Errorf("Device received %d messages, want 23", n)
	}
}

func TestEncodeHostFrame(t *testing.T) {
	msgs := []Message{NewMessage(MsgPing), NewMessage(MsgStateGet, 3)}
	frame, err := EncodeHostFrame(MessageDest+5, msgs)
	if err != nil {
		t.Fatalf("EncodeHostFrame failed: %v", err)
	}
	if want := buildTestFrame(MessageDest+5, msgs...); !bytes.Equal(frame, want) {
		t.Errorf("Frame %x, want %x", frame, want)
	}
	if scanFrame(frame) != len(frame) {
		t.Error("Encoded frame does not scan")
	}
}

func TestHostFrameTooLong(t *testing.T) {
	hostConn, devConn := net.Pipe()
	defer devConn.Close()

	host := NewHostTransport(hostConn)
	defer host.Close()

	msgs := make([]Message, MessagesPerFrame+1)
	if err := host.SendMessagesWithTimeout(msgs, 10*time.Millisecond); !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("Expected ErrFrameTooLong, got %v", err)
	}
}

// answerWith runs a device that replies to every frame with reply(n),
// n counting frames from 0
func answerWith(conn net.Conn, reply func(n int) []byte) {
	go func() {
		buf := make([]byte, 256)
		for n := 0; ; n++ {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			if data := reply(n); data != nil {
				if _, err := conn.Write(data); err != nil {
					return
				}
			}
		}
	}()
}

func TestHostAckTimeout(t *testing.T) {
	hostConn, devConn := net.Pipe()
	defer devConn.Close()
	answerWith(devConn, func(int) []byte { return nil })

	host := NewHostTransport(hostConn)
	defer host.Close()

	err := host.SendMessagesWithTimeout([]Message{NewMessage(MsgPing)}, 20*time.Millisecond)
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("Expected ErrAckTimeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Unexpected error text: %v", err)
	}
}

func TestHostNak(t *testing.T) {
	hostConn, devConn := net.Pipe()
	defer devConn.Close()

	// First frame is NAKed asking for 0x15, the retry is accepted
	answerWith(devConn, func(n int) []byte {
		if n == 0 {
			return ackFrame(MessageDest + 5)
		}
		return ackFrame(MessageDest + 6)
	})

	host := NewHostTransport(hostConn)
	defer host.Close()

	err := host.SendMessagesWithTimeout([]Message{NewMessage(MsgPing)}, time.Second)
	if !errors.Is(err, ErrNak) {
		t.Fatalf("Expected ErrNak, got %v", err)
	}
	if err := host.SendMessagesWithTimeout([]Message{NewMessage(MsgPing)}, time.Second); err != nil {
		t.Errorf("Retry at the requested sequence failed: %v", err)
	}
}

func TestHostResponseTimeout(t *testing.T) {
	hostConn, devConn := net.Pipe()
	defer devConn.Close()

	host := NewHostTransport(hostConn)
	defer host.Close()

	if _, err := host.ReceiveResponse(10 * time.Millisecond); !errors.Is(err, ErrResponseTimeout) {
		t.Errorf("Expected ErrResponseTimeout, got %v", err)
	}
}

func TestHostClose(t *testing.T) {
	hostConn, devConn := net.Pipe()
	defer devConn.Close()

	host := NewHostTransport(hostConn)
	if err := host.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := host.ReceiveResponse(time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
