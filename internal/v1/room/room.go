// Package room models a chat room: its membership in join order, its
// operator, its ban and invite lists, and the outbox of envelopes waiting
// to be delivered to members.
package room

import (
	"slices"

	"github.com/freshchat/fresh/internal/v1/names"
	"github.com/freshchat/fresh/internal/v1/proto"
	"github.com/freshchat/fresh/internal/v1/session"
)

// Room is a named collection of users. Membership is kept in join order so
// operator succession can promote the longest-standing member. Ban and
// invite lists are sorted and mutually exclusive.
type Room struct {
	id   uint64
	name string
	key  string

	op      uint64
	users   []uint64
	bans    []uint64
	invites []uint64

	// Closed rooms admit only invited users.
	Closed bool

	outbox []proto.Env
}

// New creates a room with the given id and display name. The creator
// becomes the operator but is not yet a member; callers add members via
// Join.
func New(id uint64, name string, creator uint64) *Room {
	return &Room{
		id:   id,
		name: name,
		key:  names.Collapse(name),
		op:   creator,
	}
}

// ID returns the room's immutable numeric id.
func (r *Room) ID() uint64 { return r.id }

// Name returns the display name.
func (r *Room) Name() string { return r.name }

// Key returns the collapsed identity key of the name.
func (r *Room) Key() string { return r.key }

// Op returns the operator's user id.
func (r *Room) Op() uint64 { return r.op }

// SetOp changes the operator.
func (r *Room) SetOp(id uint64) { r.op = id }

// Users returns the member ids in join order. The slice is a copy.
func (r *Room) Users() []uint64 { return slices.Clone(r.users) }

// Len returns the member count.
func (r *Room) Len() int { return len(r.users) }

// Contains reports whether the given user id is a member.
func (r *Room) Contains(id uint64) bool { return slices.Contains(r.users, id) }

// Join adds a user to the membership. Joining twice is a no-op.
func (r *Room) Join(id uint64) {
	if !slices.Contains(r.users, id) {
		r.users = append(r.users, id)
	}
}

// Leave removes a user from the membership and reports whether the user
// was a member.
func (r *Room) Leave(id uint64) bool {
	i := slices.Index(r.users, id)
	if i < 0 {
		return false
	}
	r.users = slices.Delete(r.users, i, i+1)
	return true
}

// Ban adds the user to the ban list and revokes any standing invitation.
func (r *Room) Ban(id uint64) {
	if i, found := slices.BinarySearch(r.bans, id); !found {
		r.bans = slices.Insert(r.bans, i, id)
	}
	if i, found := slices.BinarySearch(r.invites, id); found {
		r.invites = slices.Delete(r.invites, i, i+1)
	}
}

// Invite adds the user to the invite list and lifts any standing ban.
func (r *Room) Invite(id uint64) {
	if i, found := slices.BinarySearch(r.invites, id); !found {
		r.invites = slices.Insert(r.invites, i, id)
	}
	if i, found := slices.BinarySearch(r.bans, id); found {
		r.bans = slices.Delete(r.bans, i, i+1)
	}
}

// IsBanned reports whether the user is on the ban list.
func (r *Room) IsBanned(id uint64) bool {
	_, found := slices.BinarySearch(r.bans, id)
	return found
}

// IsInvited reports whether the user is on the invite list.
func (r *Room) IsInvited(id uint64) bool {
	_, found := slices.BinarySearch(r.invites, id)
	return found
}

// Enqueue appends an envelope to the outbox for the next flush.
func (r *Room) Enqueue(env proto.Env) {
	r.outbox = append(r.outbox, env)
}

// Deliver routes one envelope. A user-addressed envelope goes only to that
// user; everything else goes to every current member. Block filtering
// happens per recipient.
func (r *Room) Deliver(env proto.Env, users map[uint64]*session.User) {
	if env.Dest.Kind == proto.EndUser {
		if u, ok := users[env.Dest.ID]; ok {
			u.Deliver(env)
		}
		return
	}
	for _, id := range r.users {
		if u, ok := users[id]; ok {
			u.Deliver(env)
		}
	}
}

// FlushOutbox delivers queued envelopes in arrival order and empties the
// outbox.
func (r *Room) FlushOutbox(users map[uint64]*session.User) {
	for _, env := range r.outbox {
		r.Deliver(env, users)
	}
	r.outbox = r.outbox[:0]
}
