package mux

import (
	"net"
	"sync/atomic"
	"time"
)

// OutputSink is the byte destination the pacer writes muxed MPEG-TS
// data to. Writes must never block the pacing loop, per spec.md
// section 5's "socket writes never block" suspension-point invariant.
type OutputSink interface {
	// Write attempts a best-effort, non-blocking write. It returns the
	// number of bytes actually written; a short write is not retried.
	Write(p []byte) (n int, err error)
	// Closed reports whether the sink has been closed by its peer;
	// once true, all subsequent writes are no-ops.
	Closed() bool
}

// nonBlockingWriteDeadline is the near-zero deadline set before each
// write, the idiomatic Go equivalent of MSG_DONTWAIT: SetWriteDeadline
// forces the write to fail with a timeout rather than block, matching
// internal/rtmp/handshake/server.go's SetWriteDeadline(time.Now().Add(d))
// pattern in the teacher's sibling repo, rather than calling into
// golang.org/x/sys for a raw non-blocking socket flag.
const nonBlockingWriteDeadline = time.Millisecond

// ConnSink adapts a net.Conn (e.g. a TCP or unix-socket connection to a
// downstream HLS packager or RTP bridge) into an OutputSink using a
// near-zero SetWriteDeadline on every write.
type ConnSink struct {
	conn   net.Conn
	closed atomic.Bool

	bytesDropped atomic.Uint64
}

// NewConnSink wraps conn as an OutputSink.
func NewConnSink(conn net.Conn) *ConnSink {
	return &ConnSink{conn: conn}
}

// Write sets a near-zero deadline then attempts the write; on a
// deadline timeout or partial write, the remainder is dropped and
// BytesDropped is incremented rather than retried, per spec.md's
// "partial writes are not retried" invariant.
func (s *ConnSink) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(nonBlockingWriteDeadline)); err != nil {
		s.closed.Store(true)
		return 0, err
	}

	n, err := s.conn.Write(p)
	if n < len(p) {
		s.bytesDropped.Add(uint64(len(p) - n))
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		s.closed.Store(true)
		return n, err
	}
	return n, nil
}

// Closed reports whether the underlying connection has failed.
func (s *ConnSink) Closed() bool { return s.closed.Load() }

// BytesDropped returns the cumulative count of bytes silently dropped
// due to deadline timeouts or partial writes.
func (s *ConnSink) BytesDropped() uint64 { return s.bytesDropped.Load() }

// Close closes the underlying connection.
func (s *ConnSink) Close() error {
	s.closed.Store(true)
	return s.conn.Close()
}
