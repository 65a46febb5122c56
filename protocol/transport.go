package protocol

import "bytes"

// Frame layout
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
)

// MessageHandler is a function type for handling decoded control messages
type MessageHandler func(msg *Message) error

// Transport is the device side of the framed link. It is driven from the
// firmware main loop and is not safe for concurrent use.
type Transport struct {
	synced        bool
	nextSeq       uint8 // Sequence byte expected in the next host frame
	output        OutputBuffer
	handler       MessageHandler
	handlerErrors uint32
	resetCallback func()
	flushCallback func()
}

// NewTransport creates a transport writing frames to output and passing
// every received control message to handler
func NewTransport(output OutputBuffer, handler MessageHandler) *Transport {
	return &Transport{
		synced:  true,
		nextSeq: MessageDest,
		output:  output,
		handler: handler,
	}
}

// scanFrame checks the frame at the front of data. It returns the frame
// length, 0 when more bytes are needed, or -1 when data does not start
// with a valid frame.
func scanFrame(data []byte) int {
	if len(data) < MessageLengthMin {
		return 0
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return -1
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return -1
	}
	if len(data) < n {
		return 0
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return -1
	}
	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return -1
	}
	return n
}

// Receive parses every complete frame in input and pops what it consumed.
// A trailing partial frame is left for the next call. After a corrupt frame
// the input is skipped up to the next sync byte. A callback that resets
// input while frames are handled only drops what is still buffered.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	total := len(data)

	for len(data) > 0 {
		if !t.synced {
			i := bytes.IndexByte(data, MessageValueSync)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			t.synced = true
			t.encodeAckNak()
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
		t.handleFrame(data[:n])
		data = data[n:]
	}

	input.Pop(total - len(data))
}

// handleFrame runs a validated frame. Only the expected sequence is
// dispatched; every frame is answered with the next expected sequence,
// which doubles as a NAK for a repeated or skipped one.
func (t *Transport) handleFrame(frame []byte) {
	seq := frame[MessagePositionSeq]

	// A host that restarts numbering at MessageDest has reconnected
	if seq == MessageDest && t.nextSeq != MessageDest {
		t.nextSeq = MessageDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	if seq == t.nextSeq {
		t.nextSeq = ((seq + 1) & MessageSeqMask) | MessageDest
		t.dispatch(frame[MessageHeaderSize : len(frame)-MessageTrailerSize])
	}
	t.encodeAckNak()
}

// dispatch decodes the messages of a frame payload. A failing handler does
// not stop the frame; a truncated message or a panicking handler drops the
// rest of it and resyncs.
func (t *Transport) dispatch(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.synced = false
		}
	}()

	for len(payload) > 0 {
		msg, err := DecodeMessage(&payload)
		if err != nil {
			t.synced = false
			return
		}
		if t.handler != nil && t.handler(&msg) != nil {
			t.handlerErrors++
		}
	}
}

// encodeAckNak writes an empty frame carrying the next expected sequence
func (t *Transport) encodeAckNak() {
	t.EncodeFrame(func(OutputBuffer) {})
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes a frame whose payload is produced by frameData.
// Device frames carry the next expected host sequence.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, t.nextSeq})
	frameData(t.output)

	t.output.Update(start, uint8(len(t.output.DataSince(start))+MessageTrailerSize))
	crc := CRC16(t.output.DataSince(start))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SendMessage sends a single control message in its own frame
func (t *Transport) SendMessage(msg *Message) {
	t.EncodeFrame(msg.Encode)
}

// SendValue answers a query with a single 32-bit value
func (t *Transport) SendValue(kind MsgKind, value uint32) {
	msg := NewMessage(kind, value)
	t.SendMessage(&msg)
}

// Reset returns to the power-on state, as after a host reconnect
func (t *Transport) Reset() {
	t.synced = true
	t.nextSeq = MessageDest
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets a callback to be called when host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback run after every ACK/NAK so the link
// can send it without waiting for the end of the main loop pass
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// HandlerErrors returns the number of messages whose handler failed
func (t *Transport) HandlerErrors() uint32 {
	return t.handlerErrors
}
