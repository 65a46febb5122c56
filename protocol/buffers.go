package protocol

// InputBuffer is a window of received bytes that the transport parses and
// consumes from the front
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer collects encoded frames. The transport reserves the length
// byte, writes the payload, then patches the header and appends the trailer.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer is an InputBuffer over a byte slice that is already
// complete, such as a captured frame
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[max(0, min(n, len(s.data))):]
}

// ScratchOutput is an OutputBuffer of MessageMax bytes, emptied by the main
// loop after every pass. Bytes past the end are dropped and counted.
type ScratchOutput struct {
	buf     [MessageMax]byte
	n       int
	dropped int
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	copied := copy(s.buf[s.n:], data)
	s.n += copied
	s.dropped += len(data) - copied
}

func (s *ScratchOutput) CurPosition() int {
	return s.n
}

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < s.n {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.n {
		return nil
	}
	return s.buf[pos:s.n]
}

// Result returns the frames written since the last Reset
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.n]
}

// Dropped returns the number of bytes lost to overflow since the last Reset
func (s *ScratchOutput) Dropped() int {
	return s.dropped
}

func (s *ScratchOutput) Reset() {
	s.n = 0
	s.dropped = 0
}

// FifoBuffer is the receive buffer between the serial link and the
// transport. Unconsumed bytes are moved to the front only when a write
// would not fit, so Data is always contiguous and the buffer never
// allocates after NewFifoBuffer.
type FifoBuffer struct {
	buf        []byte
	head, tail int // Unconsumed bytes are buf[head:tail]
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count
func (f *FifoBuffer) Write(data []byte) int {
	if f.head > 0 && len(data) > len(f.buf)-f.tail {
		f.tail = copy(f.buf, f.buf[f.head:f.tail])
		f.head = 0
	}
	n := copy(f.buf[f.tail:], data)
	f.tail += n
	return n
}

func (f *FifoBuffer) Data() []byte {
	return f.buf[f.head:f.tail]
}

func (f *FifoBuffer) Available() int {
	return f.tail - f.head
}

// Free returns how many bytes the next Write can take
func (f *FifoBuffer) Free() int {
	return len(f.buf) - f.Available()
}

// Pop drops up to n bytes from the front
func (f *FifoBuffer) Pop(n int) {
	f.head += max(0, min(n, f.Available()))
	if f.head == f.tail {
		f.head, f.tail = 0, 0
	}
}

func (f *FifoBuffer) Reset() {
	f.head, f.tail = 0, 0
}
