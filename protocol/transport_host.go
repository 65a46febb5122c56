package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultAckTimeout is how long SendMessages waits for the device ACK
const DefaultAckTimeout = 2 * time.Second

var (
	ErrFrameTooLong    = errors.New("frame too long")
	ErrAckTimeout      = errors.New("ack timeout")
	ErrNak             = errors.New("frame rejected")
	ErrResponseTimeout = errors.New("response timeout")
	ErrClosed          = errors.New("transport closed")
)

// HostTransport is the host side of the framed link. One frame is in flight
// at a time; replies arrive on a queue read by ReceiveResponse.
type HostTransport struct {
	port io.ReadWriteCloser

	sendMu sync.Mutex // Serializes frames, guards seq
	seq    uint8      // Sequence byte of the next frame

	acks      chan uint8 // Sequence carried by each empty device frame
	responses chan Message

	in     *FifoBuffer // Owned by readLoop
	synced bool        // Owned by readLoop

	stop chan struct{}
	done chan struct{}
}

// NewHostTransport starts reading frames from port
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		seq:       MessageDest,
		acks:      make(chan uint8, 1),
		responses: make(chan Message, 16),
		in:        NewFifoBuffer(512),
		synced:    true,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// EncodeHostFrame frames msgs with sequence byte seq
func EncodeHostFrame(seq uint8, msgs []Message) ([]byte, error) {
	n := MessageLengthMin + len(msgs)*MessageSize
	if n > MessageLengthMax {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLong, n, MessageLengthMax)
	}
	frame := make([]byte, 0, n)
	frame = append(frame, uint8(n), seq)
	for i := range msgs {
		frame = append(frame, msgs[i].Bytes()...)
	}
	crc := CRC16(frame)
	return append(frame, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// SendMessage sends one control message to the device and waits for ACK
func (t *HostTransport) SendMessage(msg Message) error {
	return t.SendMessagesWithTimeout([]Message{msg}, DefaultAckTimeout)
}

// SendMessagesWithTimeout sends msgs in a single frame and waits for the
// device to acknowledge it. After a NAK the next frame uses the sequence
// the device asked for.
func (t *HostTransport) SendMessagesWithTimeout(msgs []Message, timeout time.Duration) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	frame, err := EncodeHostFrame(t.seq, msgs)
	if err != nil {
		return err
	}

	// An ACK that arrived after an earlier timeout is stale
	select {
	case <-t.acks:
	default:
	}

	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	want := ((t.seq + 1) & MessageSeqMask) | MessageDest
	select {
	case got := <-t.acks:
		t.seq = got
		if got != want {
			return fmt.Errorf("%w: device expects seq 0x%02x, want 0x%02x", ErrNak, got, want)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w after %v", ErrAckTimeout, timeout)
	case <-t.stop:
		return ErrClosed
	}
}

// ReceiveResponse returns the next reply message from the device
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	select {
	case msg := <-t.responses:
		return &msg, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v", ErrResponseTimeout, timeout)
	case <-t.stop:
		return nil, ErrClosed
	}
}

// DrainResponses discards responses nobody waited for
func (t *HostTransport) DrainResponses() {
	for {
		select {
		case <-t.responses:
		default:
			return
		}
	}
}

// readLoop feeds the port into the frame parser until Close. Read errors
// are retried: only Close stops the loop.
func (t *HostTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.in.Write(buf[:n])
			t.parse()
		}
		if err == nil {
			continue
		}
		select {
		case <-t.stop:
			return
		default:
		}
		// A serial port with a read timeout reports an idle line as io.EOF
		time.Sleep(time.Millisecond)
	}
}

// parse handles every complete device frame in the input buffer
func (t *HostTransport) parse() {
	data := t.in.Data()
	for len(data) > 0 {
		if !t.synced {
			i := bytes.IndexByte(data, MessageValueSync)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			t.synced = true
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		n := scanFrame(data)
		if n == 0 {
			break
		}
		if n < 0 {
			t.synced = false
			continue
		}
		t.dispatch(data[MessagePositionSeq], data[MessageHeaderSize:n-MessageTrailerSize])
		data = data[n:]
	}
	t.in.Pop(t.in.Available() - len(data))
}

// dispatch routes an empty frame to the ACK waiter and the messages of any
// other frame to the response queue, dropping the oldest reply when full
func (t *HostTransport) dispatch(seq uint8, payload []byte) {
	if len(payload) == 0 {
		select {
		case t.acks <- seq:
		default:
		}
		return
	}

	for len(payload) > 0 {
		msg, err := DecodeMessage(&payload)
		if err != nil {
			return
		}
		for {
			select {
			case t.responses <- msg:
			default:
				select {
				case <-t.responses:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close stops the transport and closes the port
func (t *HostTransport) Close() error {
	close(t.stop)
	// Closing the port unblocks the pending Read
	err := t.port.Close()
	<-t.done
	return err
}
