package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshchat/fresh/internal/v1/proto"
	"github.com/freshchat/fresh/internal/v1/session"
	"github.com/freshchat/fresh/internal/v1/socket"
)

func TestScenarioRoomCreateCloseAndInviteBypass(t *testing.T) {
	d, accepts := newTestDispatcher(t, testConfig())
	alice := connect(t, d, accepts, 100, "alice")
	bob := connect(t, d, accepts, 101, "bob")

	alice.send(proto.Join("Garden"))
	alice.awaitInfo(d, `You create room "Garden".`)

	// The lobby sees alice leave.
	left := bob.awaitMisc(d, "leave")
	assert.Equal(t, []string{"alice", "[ moved to another room ]"}, left.Data)
	assert.Equal(t, "alice moved to another room.", left.Alt)

	alice.send(proto.Op{Verb: proto.OpClose})
	alice.awaitInfo(d, "alice has closed Garden.")

	bob.send(proto.Join("Garden"))
	bob.awaitInfo(d, `"Garden" is closed.`)

	// An invitation bypasses the closed door.
	alice.send(proto.Op{Verb: proto.OpInvite, Name: "bob"})
	bob.awaitInfo(d, "You have been invited to join Garden.")

	bob.send(proto.Join("Garden"))
	joined := bob.awaitMisc(d, "join")
	assert.Equal(t, []string{"bob", "Garden"}, joined.Data)
	aliceSees := alice.awaitMisc(d, "join")
	assert.Equal(t, []string{"bob", "Garden"}, aliceSees.Data)
}

func TestScenarioKickMovesTargetToLobby(t *testing.T) {
	d, accepts := newTestDispatcher(t, testConfig())
	alice := connect(t, d, accepts, 100, "alice")
	bob := connect(t, d, accepts, 101, "bob")
	carol := connect(t, d, accepts, 102, "carol")

	alice.send(proto.Join("Garden"))
	alice.awaitInfo(d, `You create room "Garden".`)
	bob.send(proto.Join("Garden"))
	bob.awaitMisc(d, "join")

	alice.send(proto.Op{Verb: proto.OpKick, Name: "bob"})

	kicked := bob.awaitMisc(d, "kick_you")
	assert.Equal(t, []string{"Garden"}, kicked.Data)
	assert.Equal(t, "You have been kicked from Garden.", kicked.Alt)

	kickSeen := alice.awaitMisc(d, "kick_other")
	assert.Equal(t, []string{"bob", "Garden"}, kickSeen.Data)

	// The lobby watches bob land. Carol's own lobby-join announcement may
	// still be queued ahead of it, so match on the payload.
	landing := carol.await(d, func(m proto.Msg) bool {
		misc, ok := m.(proto.Misc)
		return ok && misc.What == "join" && len(misc.Data) == 2 && misc.Data[0] == "bob"
	}).(proto.Misc)
	assert.Equal(t, []string{"bob", "Lobby"}, landing.Data)
	assert.Equal(t, "bob joined Lobby.", landing.Alt)

	assert.True(t, d.rooms[0].Contains(101))
	assert.False(t, d.rooms[1].Contains(101))
	assert.True(t, d.rooms[1].IsBanned(101))

	// bob chats in the lobby now.
	bob.send(proto.Text{Lines: []string{"well then"}})
	carol.await(d, isText("bob", "well then"))
}

func TestIdlePing(t *testing.T) {
	cfg := testConfig()
	d, accepts := newTestDispatcher(t, cfg)
	alice := connect(t, d, accepts, 100, "alice")

	d.Tick(time.Now().Add(cfg.TimeToPing + time.Second))

	alice.await(d, func(m proto.Msg) bool { return m == proto.Ping{} })
	_, still := d.users[100]
	assert.True(t, still, "a pinged user is not logged out")
}

func TestIdleKick(t *testing.T) {
	cfg := testConfig()
	d, accepts := newTestDispatcher(t, cfg)
	alice := connect(t, d, accepts, 100, "alice")

	d.Tick(time.Now().Add(cfg.TimeToKick + time.Second))

	alice.await(d, func(m proto.Msg) bool {
		return m == proto.Logout("Too long since server received data from the client.")
	})
	assert.Empty(t, d.users)
	assert.False(t, d.rooms[0].Contains(100))
}

func TestQuotaWarningThenSilentDrop(t *testing.T) {
	cfg := testConfig()
	cfg.ByteLimit = 10
	cfg.ByteTick = 0
	d, accepts := newTestDispatcher(t, cfg)
	alice := connect(t, d, accepts, 100, "alice")

	// The warning is pushed before the tick's envelopes are delivered,
	// so it precedes the echoed text.
	alice.send(proto.Text{Lines: []string{"one"}})
	alice.awaitErr(d, "You have exceeded your data quota and your messages will be ignored for a short time.")
	alice.await(d, isText("alice", "one"))

	// With no drain configured the user stays over quota and later
	// messages vanish without acknowledgement.
	alice.send(proto.Text{Lines: []string{"two"}})
	alice.expectSilence(d, 200*time.Millisecond, isText("alice", "two"))
}

func TestQuotaRecoveryNotice(t *testing.T) {
	cfg := testConfig()
	cfg.ByteLimit = 10
	cfg.ByteTick = 100_000
	d, accepts := newTestDispatcher(t, cfg)
	alice := connect(t, d, accepts, 100, "alice")

	alice.send(proto.Text{Lines: []string{"one"}})
	alice.awaitErr(d, "You have exceeded your data quota and your messages will be ignored for a short time.")
	alice.awaitErr(d, "You may send messages again.")

	alice.send(proto.Text{Lines: []string{"two"}})
	alice.await(d, isText("alice", "two"))
}

func TestQuotaExactLimitStillAccepted(t *testing.T) {
	msg := proto.Text{Lines: []string{"hi"}}
	wire := proto.Encode(msg)

	cfg := testConfig()
	cfg.ByteLimit = uint64(len(wire))
	cfg.ByteTick = 0
	d, accepts := newTestDispatcher(t, cfg)
	alice := connect(t, d, accepts, 100, "alice")

	warned := func(m proto.Msg) bool {
		return m == proto.Err("You have exceeded your data quota and your messages will be ignored for a short time.")
	}

	// Landing exactly on the limit is fine.
	alice.send(msg)
	alice.await(d, isText("alice", "hi"))
	alice.expectSilence(d, 150*time.Millisecond, warned)

	// The next counted message pushes past the limit and draws the
	// warning, but is itself still processed.
	alice.send(msg)
	alice.await(d, warned)
	alice.await(d, isText("alice", "hi"))
}

// runClient connects through the accept channel while Run owns the tick
// loop, so the test must not call Tick itself.
func runClient(t *testing.T, accepts chan *session.User, id uint64, name string) *socket.Socket {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var serverConn net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		serverConn, err = ln.Accept()
	}()

	clientConn, dialErr := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, dialErr)
	<-done
	require.NoError(t, err)

	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	serverSock, err := socket.New(serverConn)
	require.NoError(t, err)
	u := session.New(serverSock, id)
	u.SetName(name)
	accepts <- u

	clientSock, err := socket.New(clientConn)
	require.NoError(t, err)
	return clientSock
}

func TestRunDisconnectsEveryoneOnShutdown(t *testing.T) {
	cfg := testConfig()
	d, accepts := newTestDispatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		d.Run(ctx)
	}()

	alice := runClient(t, accepts, 100, "alice")
	got, err := alice.BlockingGet(3 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, proto.Info(cfg.Welcome), got)

	assert.WithinDuration(t, time.Now(), d.LastTick(), 3*time.Second)

	cancel()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("dispatcher did not stop on cancellation")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err = alice.BlockingGet(time.Until(deadline))
		require.NoError(t, err)
		if got == proto.Logout("You have been disconnected from the server.") {
			break
		}
		require.True(t, time.Now().Before(deadline))
	}
}
