package session

import "io"

// StreamBuffer is the byte-stream abstraction the Session reads messages
// from. Incoming bytes are appended on the loop goroutine by the connection's
// reader; the Session peeks and consumes whole messages. It owns no
// debugging semantics.
type StreamBuffer struct {
	buf  []byte
	sink io.Writer

	// dataAvailable is invoked (on the loop) after new bytes are appended.
	dataAvailable func()
}

// NewStreamBuffer returns a StreamBuffer writing outgoing bytes to sink.
func NewStreamBuffer(sink io.Writer) *StreamBuffer {
	return &StreamBuffer{sink: sink}
}

// SetDataAvailableCallback installs the callback run after AddReadData.
func (sb *StreamBuffer) SetDataAvailableCallback(cb func()) {
	sb.dataAvailable = cb
}

// AddReadData appends bytes received from the transport and signals the
// reader callback. Must be called on the loop goroutine.
func (sb *StreamBuffer) AddReadData(data []byte) {
	sb.buf = append(sb.buf, data...)
	if sb.dataAvailable != nil {
		sb.dataAvailable()
	}
}

// Avail returns the number of buffered unconsumed bytes.
func (sb *StreamBuffer) Avail() int {
	return len(sb.buf)
}

// Peek returns the first n buffered bytes without consuming them. Returns
// false if fewer than n bytes are buffered.
func (sb *StreamBuffer) Peek(n int) ([]byte, bool) {
	if len(sb.buf) < n {
		return nil, false
	}
	return sb.buf[:n], true
}

// Consume discards the first n buffered bytes. Panics if fewer are buffered;
// callers must Peek first.
func (sb *StreamBuffer) Consume(n int) []byte {
	if len(sb.buf) < n {
		panic("StreamBuffer.Consume past end of buffer")
	}
	out := sb.buf[:n:n]
	sb.buf = sb.buf[n:]
	return out
}

// Write sends bytes to the transport.
func (sb *StreamBuffer) Write(data []byte) error {
	if sb.sink == nil {
		return ErrNotConnected
	}
	_, err := sb.sink.Write(data)
	return err
}
