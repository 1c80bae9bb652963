package socket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshchat/fresh/internal/v1/proto"
)

// tcpPair returns both ends of a real loopback TCP connection. Pipes are
// avoided on purpose; the socket layer depends on deadline semantics that
// only the netpoller provides.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server, err = ln.Accept()
	}()

	client, dialErr := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, dialErr)
	<-done
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// drainInto polls ReadIntoBuffer until the receive buffer holds at least
// want bytes or the deadline passes.
func drainInto(t *testing.T, s *Socket, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.RecvBufLen() < want {
		_, err := s.ReadIntoBuffer()
		require.NoError(t, err)
		if time.Now().After(deadline) {
			t.Fatalf("receive buffer stuck at %d bytes, want %d", s.RecvBufLen(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReadIntoBufferNoData(t *testing.T) {
	client, _ := tcpPair(t)
	s, err := New(client)
	require.NoError(t, err)

	n, err := s.ReadIntoBuffer()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, s.RecvBufLen())
}

func TestReadIntoBufferReturnsWaitingData(t *testing.T) {
	client, server := tcpPair(t)
	s, err := New(client)
	require.NoError(t, err)

	wire := proto.Encode(proto.Ping{})
	_, err = server.Write(wire)
	require.NoError(t, err)

	// Once the bytes have crossed the loopback, a single read must return
	// them; the poll deadline only bounds the wait for an empty socket.
	time.Sleep(50 * time.Millisecond)
	n, err := s.ReadIntoBuffer()
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, len(wire), s.RecvBufLen())
}

func TestReadThenTryDecode(t *testing.T) {
	client, server := tcpPair(t)
	s, err := New(client)
	require.NoError(t, err)

	wire := proto.Encode(proto.Name("alice"))
	_, err = server.Write(wire)
	require.NoError(t, err)

	drainInto(t, s, len(wire))

	msg, err := s.TryDecode()
	require.NoError(t, err)
	assert.Equal(t, proto.Name("alice"), msg)
	assert.Zero(t, s.RecvBufLen())
}

func TestTryDecodePartialMessage(t *testing.T) {
	client, server := tcpPair(t)
	s, err := New(client)
	require.NoError(t, err)

	wire := proto.Encode(proto.Join("Garden"))
	half := len(wire) / 2

	_, err = server.Write(wire[:half])
	require.NoError(t, err)
	drainInto(t, s, half)

	msg, err := s.TryDecode()
	require.NoError(t, err)
	assert.Nil(t, msg, "half a message should not decode")
	assert.Equal(t, half, s.RecvBufLen(), "partial bytes must be retained")

	_, err = server.Write(wire[half:])
	require.NoError(t, err)
	drainInto(t, s, len(wire))

	msg, err = s.TryDecode()
	require.NoError(t, err)
	assert.Equal(t, proto.Join("Garden"), msg)
}

func TestTryDecodeConcatenatedMessages(t *testing.T) {
	client, server := tcpPair(t)
	s, err := New(client)
	require.NoError(t, err)

	wire := append(proto.Encode(proto.Ping{}), proto.Encode(proto.Logout("bye"))...)
	_, err = server.Write(wire)
	require.NoError(t, err)
	drainInto(t, s, len(wire))

	first, err := s.TryDecode()
	require.NoError(t, err)
	assert.Equal(t, proto.Ping{}, first)

	second, err := s.TryDecode()
	require.NoError(t, err)
	assert.Equal(t, proto.Logout("bye"), second)

	third, err := s.TryDecode()
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestTryDecodeGarbageIsAnError(t *testing.T) {
	client, server := tcpPair(t)
	s, err := New(client)
	require.NoError(t, err)

	_, err = server.Write([]byte("%%%"))
	require.NoError(t, err)
	drainInto(t, s, 3)

	_, err = s.TryDecode()
	assert.Error(t, err)
}

func TestFlushSomeDrainsQueue(t *testing.T) {
	client, server := tcpPair(t)
	s, err := New(client)
	require.NoError(t, err)

	wire := proto.Encode(proto.Info("welcome"))
	s.Enqueue(wire)
	assert.Equal(t, len(wire), s.SendBufLen())

	remaining, err := s.FlushSome()
	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.Zero(t, s.SendBufLen())

	got := make([]byte, len(wire))
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = server.Read(got)
	require.NoError(t, err)

	msg, err := proto.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, proto.Info("welcome"), msg)
}

func TestBlockingSendAndGet(t *testing.T) {
	client, server := tcpPair(t)
	cs, err := New(client)
	require.NoError(t, err)
	ss, err := New(server)
	require.NoError(t, err)

	want := proto.Text{Who: "alice", Lines: []string{"hi"}}
	require.NoError(t, cs.BlockingSend(proto.Encode(want), 2*time.Second))

	got, err := ss.BlockingGet(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadAfterPeerCloseIsAnError(t *testing.T) {
	client, server := tcpPair(t)
	s, err := New(client)
	require.NoError(t, err)

	require.NoError(t, server.Close())

	// The close may take a moment to surface through the loopback.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err = s.ReadIntoBuffer()
		if err != nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Error(t, err, "reading a closed peer must fail, not block")
}

func TestPeerAddr(t *testing.T) {
	client, server := tcpPair(t)
	s, err := New(client)
	require.NoError(t, err)

	addr, err := s.PeerAddr()
	require.NoError(t, err)
	assert.Equal(t, server.LocalAddr().String(), addr)
}

func TestShutdown(t *testing.T) {
	client, _ := tcpPair(t)
	s, err := New(client)
	require.NoError(t, err)

	require.NoError(t, s.Shutdown())
	_, err = s.ReadIntoBuffer()
	assert.Error(t, err)
}
