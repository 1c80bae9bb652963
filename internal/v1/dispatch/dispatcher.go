// Package dispatch owns all server state: every connected user, every
// room, and the name indexes over both. A single goroutine runs the tick
// loop; nothing else touches the maps.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/freshchat/fresh/internal/v1/config"
	"github.com/freshchat/fresh/internal/v1/logging"
	"github.com/freshchat/fresh/internal/v1/metrics"
	"github.com/freshchat/fresh/internal/v1/proto"
	"github.com/freshchat/fresh/internal/v1/room"
	"github.com/freshchat/fresh/internal/v1/session"
)

const lobbyID uint64 = 0

// Dispatcher runs the cooperative tick loop. It receives ready sessions
// from the listener over the accepts channel and owns them from then on.
type Dispatcher struct {
	cfg     config.Server
	accepts <-chan *session.User

	users     map[uint64]*session.User
	userNames map[string]uint64
	rooms     map[uint64]*room.Room
	roomNames map[string]uint64

	// lastTick is a unix-nano heartbeat read by the readiness probe.
	lastTick atomic.Int64
}

// New creates a dispatcher with an empty lobby.
func New(cfg config.Server, accepts <-chan *session.User) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		accepts:   accepts,
		users:     make(map[uint64]*session.User),
		userNames: make(map[string]uint64),
		rooms:     make(map[uint64]*room.Room),
		roomNames: make(map[string]uint64),
	}
	lobby := room.New(lobbyID, cfg.LobbyName, 0)
	d.rooms[lobbyID] = lobby
	d.roomNames[lobby.Key()] = lobbyID
	metrics.ActiveRooms.Inc()
	return d
}

// LastTick reports when the loop last completed a pass. Health probes use
// it to detect a wedged dispatcher.
func (d *Dispatcher) LastTick() time.Time {
	return time.Unix(0, d.lastTick.Load())
}

// Run executes the tick loop until ctx is cancelled. On cancellation every
// connected user is told the server is going away and disconnected.
func (d *Dispatcher) Run(ctx context.Context) {
	logging.Info(ctx, "dispatcher running",
		zap.String("lobby", d.cfg.LobbyName),
		zap.Duration("tick", d.cfg.MinTick))

	for {
		start := time.Now()
		d.Tick(start)
		d.lastTick.Store(time.Now().UnixNano())
		metrics.TickDuration.Observe(time.Since(start).Seconds())

		remaining := d.cfg.MinTick - time.Since(start)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-ctx.Done():
			d.shutdown(ctx)
			return
		case <-time.After(remaining):
		}
	}
}

// Tick runs one full pass: every room is processed, empty rooms are
// reaped, and at most one newly accepted session joins the lobby.
func (d *Dispatcher) Tick(now time.Time) {
	rids := make([]uint64, 0, len(d.rooms))
	for rid := range d.rooms {
		rids = append(rids, rid)
	}
	for _, rid := range rids {
		if _, ok := d.rooms[rid]; !ok {
			continue
		}
		d.processRoom(rid, now)
		d.reapRoom(rid)
	}

	select {
	case u, ok := <-d.accepts:
		if ok {
			d.joinLobby(u)
		}
	default:
	}
}

// reapRoom destroys the room if it has emptied out. The lobby is permanent.
func (d *Dispatcher) reapRoom(rid uint64) {
	if rid == lobbyID {
		return
	}
	r, ok := d.rooms[rid]
	if !ok || r.Len() > 0 {
		return
	}
	delete(d.roomNames, r.Key())
	delete(d.rooms, rid)
	metrics.ActiveRooms.Dec()
	logging.Debug(context.Background(), "room reaped",
		zap.Uint64("room_id", rid), zap.String("name", r.Name()))
}

func (d *Dispatcher) shutdown(ctx context.Context) {
	logging.Info(ctx, "dispatcher shutting down", zap.Int("users", len(d.users)))
	for _, u := range d.users {
		u.Logout("You have been disconnected from the server.")
		metrics.DecUser()
	}
	d.users = make(map[uint64]*session.User)
	d.userNames = make(map[string]uint64)
}

// processRoom handles one room for one tick: quota accounting, message
// intake, handler dispatch, forced logouts, operator succession, and
// delivery.
func (d *Dispatcher) processRoom(rid uint64, now time.Time) {
	r, ok := d.rooms[rid]
	if !ok {
		logging.Warn(context.Background(), "processing a room that does not exist",
			zap.Uint64("room_id", rid))
		return
	}

	members := r.Users()
	var envs []proto.Env

	type forced struct {
		uid    uint64
		reason string
	}
	var logouts []forced

	for _, uid := range members {
		u, ok := d.users[uid]
		if !ok {
			logging.Debug(context.Background(), "room member has no session",
				zap.Uint64("room_id", rid), zap.Uint64("user_id", uid))
			continue
		}

		over := u.ByteQuota() > d.cfg.ByteLimit
		u.DrainQuota(d.cfg.ByteTick)
		if over && u.ByteQuota() <= d.cfg.ByteLimit {
			u.DeliverMsg(proto.Err("You may send messages again."))
		}

		msg := u.TryGet()
		if u.HasErrors() {
			logging.Warn(context.Background(), "user logged out for socket errors",
				zap.Uint64("user_id", uid), zap.Error(u.Errors()))
			logouts = append(logouts, forced{uid, "Communication error."})
			continue
		}
		if msg == nil {
			idle := now.Sub(u.LastData())
			if idle > d.cfg.TimeToKick {
				logouts = append(logouts, forced{uid, "Too long since server received data from the client."})
			} else if idle > d.cfg.TimeToPing {
				u.DeliverMsg(proto.Ping{})
			}
			continue
		}
		if over {
			// Over-quota traffic disappears without acknowledgement.
			continue
		}
		if u.ByteQuota() > d.cfg.ByteLimit {
			u.DeliverMsg(proto.Err("You have exceeded your data quota and your messages will be ignored for a short time."))
		}

		metrics.MessagesProcessed.WithLabelValues(msg.Tag()).Inc()
		out, err := d.handle(uid, rid, msg)
		if err != nil {
			logging.Error(context.Background(), "handler failed",
				zap.Uint64("user_id", uid), zap.Uint64("room_id", rid),
				zap.String("kind", msg.Tag()), zap.Error(err))
			continue
		}
		envs = append(envs, out...)
	}

	for _, f := range logouts {
		u, ok := d.users[f.uid]
		if !ok {
			logging.Warn(context.Background(), "forced logout of a user that does not exist",
				zap.Uint64("user_id", f.uid))
			continue
		}
		name := u.Name()
		delete(d.userNames, u.Key())
		delete(d.users, f.uid)
		r.Leave(f.uid)
		metrics.DecUser()
		metrics.ForcedLogouts.WithLabelValues(f.reason).Inc()
		u.Logout(f.reason)

		envs = append(envs, proto.NewEnv(proto.FromServer(), proto.ToRoom(rid), proto.Misc{
			What: "leave",
			Data: []string{name, "[ disconnected by server ]"},
			Alt:  fmt.Sprintf("%s has been disconnected from the server.", name),
		}))
	}

	// Operator succession. The lobby has no operator and is exempt.
	if rid != lobbyID && !r.Contains(r.Op()) {
		if remaining := r.Users(); len(remaining) > 0 {
			heir := remaining[0]
			if u, ok := d.users[heir]; ok {
				r.SetOp(heir)
				envs = append(envs, proto.NewEnv(proto.FromServer(), proto.ToRoom(rid),
					proto.Info(fmt.Sprintf("%s is now the Room operator.", u.Name()))))
			}
		}
	}

	r.FlushOutbox(d.users)
	for _, env := range envs {
		r.Deliver(env, d.users)
		metrics.EnvelopesDelivered.Inc()
	}
	for _, uid := range r.Users() {
		if u, ok := d.users[uid]; ok {
			u.PushPending()
		}
	}
}

// joinLobby installs a freshly accepted session: welcome, name validation
// with fallback, lobby membership, and both indexes.
func (d *Dispatcher) joinLobby(u *session.User) {
	logging.Debug(context.Background(), "accepting user",
		zap.Uint64("user_id", u.ID()), zap.String("name", u.Name()))

	u.DeliverMsg(proto.Info(d.cfg.Welcome))

	var rejection string
	switch {
	case u.Key() == "":
		rejection = "Your name does not have enough whitespace characters."
	case len(u.Name()) > d.cfg.MaxUserNameLength:
		rejection = fmt.Sprintf("Your name cannot be longer than %d characters.", d.cfg.MaxUserNameLength)
	default:
		if other, taken := d.userNames[u.Key()]; taken {
			existing := u.Name()
			if ou, ok := d.users[other]; ok {
				existing = ou.Name()
			}
			rejection = fmt.Sprintf("Name %q exists.", existing)
		}
	}

	if rejection != "" {
		newName := d.genName(u.ID())
		u.DeliverMsg(proto.Err(rejection))
		oldName := u.Name()
		u.SetName(newName)
		u.DeliverMsg(proto.Misc{
			What: "name",
			Data: []string{oldName, newName},
			Alt:  fmt.Sprintf("You are now known as %q.", newName),
		})
	}

	lobby := d.rooms[lobbyID]
	lobby.Join(u.ID())
	lobby.Enqueue(proto.NewEnv(proto.FromServer(), proto.ToRoom(lobbyID), proto.Misc{
		What: "join",
		Data: []string{u.Name(), d.cfg.LobbyName},
		Alt:  fmt.Sprintf("%s joins %s.", u.Name(), d.cfg.LobbyName),
	}))
	d.userNames[u.Key()] = u.ID()
	d.users[u.ID()] = u
	metrics.IncUser()

	// Admission happens after this tick's flush pass, so the welcome gets
	// its own push rather than waiting a full tick.
	u.PushPending()
}

// genName returns the first free fallback name of the form user<n>,
// counting up from the given id.
func (d *Dispatcher) genName(from uint64) string {
	for n := from; ; n++ {
		candidate := fmt.Sprintf("user%d", n)
		if _, taken := d.userNames[candidate]; !taken {
			return candidate
		}
	}
}

// firstFreeRoomID returns the smallest id not currently in use.
func (d *Dispatcher) firstFreeRoomID() uint64 {
	for n := uint64(0); ; n++ {
		if _, taken := d.rooms[n]; !taken {
			return n
		}
	}
}
