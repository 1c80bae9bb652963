// Package listener accepts TCP connections, performs the initial name
// handshake, and hands ready sessions to the dispatcher over a channel.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/freshchat/fresh/internal/v1/logging"
	"github.com/freshchat/fresh/internal/v1/proto"
	"github.com/freshchat/fresh/internal/v1/session"
	"github.com/freshchat/fresh/internal/v1/socket"
)

// DefaultHandshakeTimeout bounds how long a new connection gets to send
// its Name message.
const DefaultHandshakeTimeout = 5 * time.Second

// firstUserID starts the monotonic id sequence. Ids below 100 are never
// handed to users.
const firstUserID uint64 = 100

// Listener owns the accept socket. Sessions that complete the handshake
// are published on the out channel; the receiver takes ownership.
type Listener struct {
	ln  net.Listener
	out chan<- *session.User

	// Timeout is the handshake deadline. Tests shrink it.
	Timeout time.Duration
}

// New binds addr and returns a listener ready to Run.
func New(addr string, out chan<- *session.User) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding listener to %q: %w", addr, err)
	}
	return &Listener{ln: ln, out: out, Timeout: DefaultHandshakeTimeout}, nil
}

// Addr returns the bound address, useful when binding port 0.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Run accepts connections until ctx is cancelled. Handshakes happen
// inline; a client that stalls the handshake stalls the accept loop, the
// same way a slow tick stalls the dispatcher.
func (l *Listener) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	nextID := firstUserID
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logging.Info(ctx, "listener stopped")
				return
			}
			logging.Debug(ctx, "error accepting connection", zap.Error(err))
			continue
		}
		logging.Debug(ctx, "accepted connection",
			zap.String("peer", conn.RemoteAddr().String()))

		sock, err := socket.New(conn)
		if err != nil {
			logging.Debug(ctx, "error setting up new socket", zap.Error(err))
			conn.Close()
			continue
		}

		u := session.New(sock, nextID)
		if err := l.negotiate(u); err != nil {
			logging.Debug(ctx, "error negotiating initial protocol", zap.Error(err))
			continue
		}

		select {
		case l.out <- u:
			logging.Debug(ctx, "published new client",
				zap.Uint64("user_id", u.ID()), zap.String("name", u.Name()))
			nextID++
		case <-ctx.Done():
			u.Logout("You have been disconnected from the server.")
			return
		}
	}
}

// negotiate waits for the connection's first message, which must be a
// Name. Anything else, a decode failure, or a timeout ends the session.
func (l *Listener) negotiate(u *session.User) error {
	msg, err := u.BlockingGet(l.Timeout)
	if err != nil {
		reason := fmt.Sprintf("Error reading initial \"Name\" message: %v", err)
		u.Logout(reason)
		return errors.New(reason)
	}
	name, ok := msg.(proto.Name)
	if !ok {
		u.Logout("Protocol error: Initial message should be of type \"Name\".")
		return fmt.Errorf("bad initial message of kind %q", msg.Tag())
	}
	u.SetName(string(name))
	return nil
}
