// Package session models a connected user: a socket plus the identity,
// flood-control, and block-list state the dispatcher tracks per connection.
package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/freshchat/fresh/internal/v1/names"
	"github.com/freshchat/fresh/internal/v1/proto"
	"github.com/freshchat/fresh/internal/v1/socket"
)

// User owns one client connection. Like the socket it wraps, a User is
// confined to a single goroutine; the dispatcher is the only writer after
// the listener hands a connection over.
type User struct {
	sock *socket.Socket

	id   uint64
	name string
	key  string

	quota    uint64
	lastData time.Time

	// blocks holds the ids of users whose messages this user refuses,
	// kept sorted for binary search.
	blocks []uint64

	errs []error
}

// New wraps sock as a user with the given id and the provisional name
// "user<id>".
func New(sock *socket.Socket, id uint64) *User {
	name := fmt.Sprintf("user%d", id)
	return &User{
		sock:     sock,
		id:       id,
		name:     name,
		key:      names.Collapse(name),
		lastData: time.Now(),
	}
}

// ID returns the user's immutable numeric id.
func (u *User) ID() uint64 { return u.id }

// Name returns the current display name.
func (u *User) Name() string { return u.name }

// Key returns the collapsed identity key of the current name.
func (u *User) Key() string { return u.key }

// SetName changes the display name and recomputes the identity key. The
// caller is responsible for uniqueness among connected users.
func (u *User) SetName(name string) {
	u.name = name
	u.key = names.Collapse(name)
}

// Addr returns the remote address of the underlying connection.
func (u *User) Addr() (string, error) { return u.sock.PeerAddr() }

// SetReadSize adjusts how many bytes each socket read attempts.
func (u *User) SetReadSize(n int) { u.sock.SetReadSize(n) }

// ByteQuota returns the current flood-control counter.
func (u *User) ByteQuota() uint64 { return u.quota }

// DrainQuota lowers the flood-control counter by n, stopping at zero.
func (u *User) DrainQuota(n uint64) {
	if n >= u.quota {
		u.quota = 0
		return
	}
	u.quota -= n
}

// LastData reports when bytes last arrived from this client.
func (u *User) LastData() time.Time { return u.lastData }

// HasErrors reports whether any socket operation has failed. A user with
// errors is beyond recovery and gets logged out on the next pass.
func (u *User) HasErrors() bool { return len(u.errs) > 0 }

// Errors returns the accumulated socket failures joined into one error.
func (u *User) Errors() error { return errors.Join(u.errs...) }

// Block adds the given user id to the block list. It reports whether the
// id was newly added.
func (u *User) Block(id uint64) bool {
	i, found := slices.BinarySearch(u.blocks, id)
	if found {
		return false
	}
	u.blocks = slices.Insert(u.blocks, i, id)
	return true
}

// Unblock removes the given user id from the block list. It reports
// whether the id was present.
func (u *User) Unblock(id uint64) bool {
	i, found := slices.BinarySearch(u.blocks, id)
	if !found {
		return false
	}
	u.blocks = slices.Delete(u.blocks, i, i+1)
	return true
}

// Blocked reports whether messages from the given user id are refused.
func (u *User) Blocked(id uint64) bool {
	_, found := slices.BinarySearch(u.blocks, id)
	return found
}

// Deliver queues an envelope's payload for this user, silently dropping it
// when the source is a blocked user. Server and room sources are never
// filtered. Delivery only enqueues; queued bytes go out on the next
// PushPending, one flush per user per tick.
func (u *User) Deliver(env proto.Env) {
	if env.Source.Kind == proto.EndUser && u.Blocked(env.Source.ID) {
		return
	}
	u.sock.Enqueue(env.Bytes())
}

// DeliverMsg encodes and queues a server-originated message directly,
// bypassing block filtering. Like Deliver, it does not flush.
func (u *User) DeliverMsg(m proto.Msg) {
	u.sock.Enqueue(proto.Encode(m))
}

// PushPending attempts one non-blocking flush of queued outbound bytes.
func (u *User) PushPending() {
	if _, err := u.sock.FlushSome(); err != nil {
		u.errs = append(u.errs, err)
	}
}

// TryGet performs one non-blocking read and returns the next complete
// message, or nil when none is ready. Arriving bytes refresh the idle
// timestamp; bytes consumed by quota-counted messages raise the
// flood-control counter. Failures are recorded rather than returned.
func (u *User) TryGet() proto.Msg {
	n, err := u.sock.ReadIntoBuffer()
	if err != nil {
		u.errs = append(u.errs, err)
		return nil
	}
	if n > 0 {
		u.lastData = time.Now()
	}

	before := u.sock.RecvBufLen()
	msg, err := u.sock.TryDecode()
	if err != nil {
		u.errs = append(u.errs, err)
		return nil
	}
	if msg == nil {
		return nil
	}
	if proto.Counts(msg) {
		u.quota += uint64(before - u.sock.RecvBufLen())
	}
	return msg
}

// BlockingSend encodes m and flushes until it is fully written or limit
// passes.
func (u *User) BlockingSend(m proto.Msg, limit time.Duration) error {
	return u.sock.BlockingSend(proto.Encode(m), limit)
}

// BlockingGet waits up to limit for the next complete message.
func (u *User) BlockingGet(limit time.Duration) (proto.Msg, error) {
	return u.sock.BlockingGet(limit)
}

// Logout makes a best-effort attempt to tell the client why it is being
// disconnected, then closes the connection. The farewell gets exactly one
// flush; a peer too slow to take it loses it.
func (u *User) Logout(reason string) {
	u.sock.Enqueue(proto.Encode(proto.Logout(reason)))
	_, _ = u.sock.FlushSome()
	_ = u.sock.Shutdown()
}
