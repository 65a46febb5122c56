package protocol

// BytePort is a non-blocking serial endpoint such as the RP2040 USB CDC port
type BytePort interface {
	Buffered() int
	ReadByte() (byte, error)
	Write(data []byte) (int, error)
}

// MaxWriteFailures is how many failed writes in a row mark the host gone
const MaxWriteFailures = 10

// Link moves bytes between a BytePort and the transport buffers from the
// firmware main loop. No method waits on the port.
type Link struct {
	port BytePort
	in   *FifoBuffer
	out  *ScratchOutput

	sent     int // Bytes of out already written
	failures uint32
	lost     bool // Host stopped reading, resync on its next byte
	errors   uint32

	// OnReconnect runs from Poll when a lost host sends again, before its
	// bytes are buffered
	OnReconnect func()
}

func NewLink(port BytePort, in *FifoBuffer, out *ScratchOutput) *Link {
	return &Link{port: port, in: in, out: out}
}

// Poll copies pending port bytes into the input FIFO
func (l *Link) Poll() {
	var chunk [32]byte
	for l.port.Buffered() > 0 && l.in.Free() > 0 {
		n := 0
		for n < len(chunk) && n < l.in.Free() && l.port.Buffered() > 0 {
			b, err := l.port.ReadByte()
			if err != nil {
				l.errors++
				break
			}
			chunk[n] = b
			n++
		}
		if n == 0 {
			return
		}
		if l.lost {
			l.lost = false
			l.failures = 0
			if l.OnReconnect != nil {
				l.OnReconnect()
			}
		}
		l.in.Write(chunk[:n])
	}
}

// Flush writes pending output. What the port does not take is retried on
// the next call; after MaxWriteFailures the output is dropped and the host
// treated as gone. The input FIFO is never touched, since Flush also runs
// inside Transport.Receive.
func (l *Link) Flush() {
	data := l.out.Result()
	data = data[min(l.sent, len(data)):]
	for len(data) > 0 {
		n, err := l.port.Write(data)
		if err != nil || n == 0 {
			l.failures++
			if l.failures > MaxWriteFailures {
				l.lost = true
				l.failures = 0
				l.Discard()
			}
			return
		}
		l.sent += n
		data = data[n:]
	}
	l.failures = 0
	if l.out.Dropped() > 0 {
		l.errors++
	}
	l.Discard()
}

// Discard drops all pending output. Reset the output buffer through here
// so the partial write offset stays in step.
func (l *Link) Discard() {
	l.sent = 0
	l.out.Reset()
}

// Pending reports whether output is waiting to be written
func (l *Link) Pending() bool {
	return len(l.out.Result()) > l.sent
}

// Lost reports whether the host stopped reading
func (l *Link) Lost() bool {
	return l.lost
}

// Errors returns the count of read errors and truncated output passes
func (l *Link) Errors() uint32 {
	return l.errors
}

// CountError records an error seen by the main loop
func (l *Link) CountError() {
	l.errors++
}

// Input returns the receive FIFO
func (l *Link) Input() *FifoBuffer {
	return l.in
}
