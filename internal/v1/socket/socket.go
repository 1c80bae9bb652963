// Package socket wraps a TCP connection in the framing the fresh protocol
// needs: poll-style reads and writes with a bounded wait, against internal
// receive and send buffers, with messages delimited purely by JSON value
// boundaries.
package socket

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/freshchat/fresh/internal/v1/proto"
)

// DefaultReadSize is how many bytes each ReadIntoBuffer call attempts to
// pull off the wire.
const DefaultReadSize = 1024

// blockingTick is the poll interval used by the Blocking* helpers.
const blockingTick = 100 * time.Millisecond

// pollWait bounds each non-blocking read or write. The runtime checks a
// connection's deadline before attempting any I/O, so an already-expired
// deadline would fail without ever touching the socket; a deadline a
// moment in the future lets ready data through and caps the wait when
// none is.
const pollWait = time.Millisecond

// Socket is a framed, non-blocking view of a stream connection. It is not
// safe for concurrent use; each connection is owned by exactly one
// goroutine at a time.
type Socket struct {
	conn    net.Conn
	scratch []byte
	recvBuf []byte
	sendBuf []byte
}

// New wraps conn. TCP connections get TCP_NODELAY set; small protocol
// messages should not sit in Nagle's buffer behind a ping.
func New(conn net.Conn) (*Socket, error) {
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			return nil, fmt.Errorf("set nodelay on socket: %w", err)
		}
	}
	return &Socket{
		conn:    conn,
		scratch: make([]byte, DefaultReadSize),
	}, nil
}

// SetReadSize resizes the per-read scratch buffer.
func (s *Socket) SetReadSize(n int) {
	if n > 0 {
		s.scratch = make([]byte, n)
	}
}

// ReadIntoBuffer attempts one short read, appending whatever arrives to
// the receive buffer. It returns the number of bytes read; 0 means no
// data arrived within the poll window. A closed peer or any other I/O
// failure is an error.
func (s *Socket) ReadIntoBuffer() (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
		return 0, fmt.Errorf("set read deadline on socket: %w", err)
	}

	n, err := s.conn.Read(s.scratch)
	if n > 0 {
		s.recvBuf = append(s.recvBuf, s.scratch[:n]...)
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, nil
		}
		return n, fmt.Errorf("reading from socket: %w", err)
	}
	return n, nil
}

// TryDecode returns the next complete message in the receive buffer, or
// (nil, nil) when the buffer holds only a partial message. The consumed
// bytes are removed from the buffer; on framing recovery the undecodable
// remainder is retained for the next call.
func (s *Socket) TryDecode() (proto.Msg, error) {
	if len(s.recvBuf) == 0 {
		return nil, nil
	}

	msg, consumed, err := proto.DecodeFirst(s.recvBuf)
	if errors.Is(err, proto.ErrIncomplete) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("syntax error in data from socket: %w", err)
	}

	s.recvBuf = append(s.recvBuf[:0:0], s.recvBuf[consumed:]...)
	return msg, nil
}

// Enqueue appends already-encoded bytes to the send buffer.
func (s *Socket) Enqueue(data []byte) {
	s.sendBuf = append(s.sendBuf, data...)
}

// FlushSome attempts one short write of the send buffer and returns how
// many bytes remain queued, so 0 always means "drained". A partial write
// trims the consumed prefix.
func (s *Socket) FlushSome() (int, error) {
	if len(s.sendBuf) == 0 {
		return 0, nil
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(pollWait)); err != nil {
		return len(s.sendBuf), fmt.Errorf("set write deadline on socket: %w", err)
	}

	n, err := s.conn.Write(s.sendBuf)
	if n > 0 {
		s.sendBuf = append(s.sendBuf[:0:0], s.sendBuf[n:]...)
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return len(s.sendBuf), nil
		}
		return len(s.sendBuf), fmt.Errorf("writing to socket: %w", err)
	}
	return len(s.sendBuf), nil
}

// BlockingSend enqueues data and flushes every tick until the send buffer
// drains, the deadline passes, or a write fails.
func (s *Socket) BlockingSend(data []byte, limit time.Duration) error {
	s.Enqueue(data)
	deadline := time.Now().Add(limit)
	for {
		remaining, err := s.FlushSome()
		if err != nil {
			return err
		}
		if remaining == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timed out on blocking send")
		}
		time.Sleep(blockingTick)
	}
}

// BlockingGet reads and decodes until a complete message arrives, the
// deadline passes, or the connection fails.
func (s *Socket) BlockingGet(limit time.Duration) (proto.Msg, error) {
	if msg, err := s.TryDecode(); err != nil || msg != nil {
		return msg, err
	}

	deadline := time.Now().Add(limit)
	for {
		n, err := s.ReadIntoBuffer()
		if n > 0 {
			// A read can return data and a failure together; surface the
			// message first.
			if msg, derr := s.TryDecode(); derr != nil || msg != nil {
				return msg, derr
			}
		}
		if err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, errors.New("timed out on blocking get")
		}
		time.Sleep(blockingTick)
	}
}

// SendBufLen returns how many bytes are queued for sending.
func (s *Socket) SendBufLen() int { return len(s.sendBuf) }

// RecvBufLen returns how many bytes sit undecoded in the receive buffer.
func (s *Socket) RecvBufLen() int { return len(s.recvBuf) }

// PeerAddr returns the remote endpoint's address.
func (s *Socket) PeerAddr() (string, error) {
	addr := s.conn.RemoteAddr()
	if addr == nil {
		return "", errors.New("retrieving the remote address: connection has no peer")
	}
	return addr.String(), nil
}

// Shutdown closes the underlying connection.
func (s *Socket) Shutdown() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("shutting down socket: %w", err)
	}
	return nil
}
