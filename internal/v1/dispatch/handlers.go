package dispatch

import (
	"fmt"
	"slices"
	"strings"

	"github.com/freshchat/fresh/internal/v1/metrics"
	"github.com/freshchat/fresh/internal/v1/names"
	"github.com/freshchat/fresh/internal/v1/proto"
	"github.com/freshchat/fresh/internal/v1/room"
	"github.com/freshchat/fresh/internal/v1/session"
)

// handle dispatches one accepted message to its handler. Handlers return
// the envelopes to deliver at the end of the room's tick; replies that
// need no routing are pushed straight to the user. An error here means an
// index lookup failed mid-handler, which is a server bug, not a client
// one.
func (d *Dispatcher) handle(uid, rid uint64, msg proto.Msg) ([]proto.Env, error) {
	switch m := msg.(type) {
	case proto.Text:
		return d.doText(uid, rid, m)
	case proto.Priv:
		return d.doPriv(uid, rid, m)
	case proto.Name:
		return d.doName(uid, rid, string(m))
	case proto.Join:
		return d.doJoin(uid, rid, string(m))
	case proto.Block:
		return d.doBlock(uid, rid, string(m))
	case proto.Unblock:
		return d.doUnblock(uid, rid, string(m))
	case proto.Logout:
		return d.doLogout(uid, rid, string(m))
	case proto.Query:
		return d.doQuery(uid, rid, m)
	case proto.Op:
		return d.doOp(uid, rid, m)
	default:
		// Ping and the server-to-client kinds need no action; arriving
		// bytes already refreshed the idle clock.
		return nil, nil
	}
}

func (d *Dispatcher) user(uid uint64) (*session.User, error) {
	u, ok := d.users[uid]
	if !ok {
		return nil, fmt.Errorf("no user with id %d", uid)
	}
	return u, nil
}

func (d *Dispatcher) roomByID(rid uint64) (*room.Room, error) {
	r, ok := d.rooms[rid]
	if !ok {
		return nil, fmt.Errorf("no room with id %d", rid)
	}
	return r, nil
}

// errTo wraps an Err reply to one user as a single-envelope result.
func errTo(uid uint64, text string) []proto.Env {
	return []proto.Env{proto.NewEnv(proto.FromServer(), proto.ToUser(uid), proto.Err(text))}
}

// infoTo wraps an Info reply to one user as a single-envelope result.
func infoTo(uid uint64, text string) []proto.Env {
	return []proto.Env{proto.NewEnv(proto.FromServer(), proto.ToUser(uid), proto.Info(text))}
}

func (d *Dispatcher) doText(uid, rid uint64, m proto.Text) ([]proto.Env, error) {
	u, err := d.user(uid)
	if err != nil {
		return nil, err
	}
	env := proto.NewEnv(proto.ToUser(uid), proto.ToRoom(rid), proto.Text{
		Who:   u.Name(),
		Lines: m.Lines,
	})
	return []proto.Env{env}, nil
}

func (d *Dispatcher) doPriv(uid, _ uint64, m proto.Priv) ([]proto.Env, error) {
	u, err := d.user(uid)
	if err != nil {
		return nil, err
	}

	recipient := names.Collapse(m.Who)
	if recipient == "" {
		return errTo(uid, "The recipient name must have at least one non-whitespace character."), nil
	}

	targetID, ok := d.userNames[recipient]
	if !ok {
		return errTo(uid, fmt.Sprintf("There is no user whose name matches %q.", recipient)), nil
	}
	target, err := d.user(targetID)
	if err != nil {
		return nil, err
	}

	echo := proto.NewEnv(proto.FromServer(), proto.ToUser(uid), proto.Misc{
		What: "priv_echo",
		Data: []string{target.Name(), m.Text},
		Alt:  fmt.Sprintf("$ You @ %s: %s", target.Name(), m.Text),
	})
	deliver := proto.NewEnv(proto.ToUser(uid), proto.ToUser(targetID), proto.Priv{
		Who:  u.Name(),
		Text: m.Text,
	})
	return []proto.Env{echo, deliver}, nil
}

func (d *Dispatcher) doName(uid, rid uint64, candidate string) ([]proto.Env, error) {
	newKey := names.Collapse(candidate)
	if newKey == "" {
		return errTo(uid, "Your name must have more whitespace characters."), nil
	}
	if len(candidate) > d.cfg.MaxUserNameLength {
		return errTo(uid, fmt.Sprintf("Your name cannot be longer than %d characters.", d.cfg.MaxUserNameLength)), nil
	}

	if otherID, taken := d.userNames[newKey]; taken && otherID != uid {
		other, err := d.user(otherID)
		if err != nil {
			return nil, err
		}
		return errTo(uid, fmt.Sprintf("There is already a user named %q.", other.Name())), nil
	}

	u, err := d.user(uid)
	if err != nil {
		return nil, err
	}
	oldName := u.Name()
	oldKey := u.Key()
	u.SetName(candidate)
	delete(d.userNames, oldKey)
	d.userNames[newKey] = uid

	env := proto.NewEnv(proto.FromServer(), proto.ToRoom(rid), proto.Misc{
		What: "name",
		Data: []string{oldName, candidate},
		Alt:  fmt.Sprintf("%s is now known as %s.", oldName, candidate),
	})
	return []proto.Env{env}, nil
}

func (d *Dispatcher) doJoin(uid, rid uint64, roomName string) ([]proto.Env, error) {
	key := names.Collapse(roomName)
	if key == "" {
		return errTo(uid, "A room name must have more non-whitespace characters."), nil
	}
	if len(roomName) > d.cfg.MaxRoomNameLength {
		return errTo(uid, fmt.Sprintf("Room names cannot be longer than %d characters.", d.cfg.MaxRoomNameLength)), nil
	}

	u, err := d.user(uid)
	if err != nil {
		return nil, err
	}

	targetID, exists := d.roomNames[key]
	if !exists {
		targetID = d.firstFreeRoomID()
		newRoom := room.New(targetID, roomName, uid)
		d.roomNames[key] = targetID
		d.rooms[targetID] = newRoom
		metrics.ActiveRooms.Inc()
		u.DeliverMsg(proto.Info(fmt.Sprintf("You create room %q.", roomName)))
	}

	target, err := d.roomByID(targetID)
	if err != nil {
		return nil, err
	}

	switch {
	case targetID == rid:
		return infoTo(uid, fmt.Sprintf("You are already in %q.", target.Name())), nil
	case target.IsBanned(uid):
		return infoTo(uid, fmt.Sprintf("You are banned from %q.", target.Name())), nil
	case target.Closed && !target.IsInvited(uid):
		return infoTo(uid, fmt.Sprintf("%q is closed.", target.Name())), nil
	}

	target.Join(uid)
	target.Enqueue(proto.NewEnv(proto.FromServer(), proto.ToRoom(targetID), proto.Misc{
		What: "join",
		Data: []string{u.Name(), target.Name()},
		Alt:  fmt.Sprintf("%s joins %s.", u.Name(), target.Name()),
	}))

	current, err := d.roomByID(rid)
	if err != nil {
		return nil, err
	}
	current.Leave(uid)

	leave := proto.NewEnv(proto.FromServer(), proto.ToRoom(rid), proto.Misc{
		What: "leave",
		Data: []string{u.Name(), "[ moved to another room ]"},
		Alt:  fmt.Sprintf("%s moved to another room.", u.Name()),
	})
	return []proto.Env{leave}, nil
}

func (d *Dispatcher) doBlock(uid, _ uint64, username string) ([]proto.Env, error) {
	key := names.Collapse(username)
	if key == "" {
		return errTo(uid, "A user name must have more non-whitespace characters."), nil
	}

	otherID, ok := d.userNames[key]
	if !ok {
		return infoTo(uid, fmt.Sprintf("No users matching the pattern %q.", key)), nil
	}
	if otherID == uid {
		return errTo(uid, "You shouldn't block yourself."), nil
	}

	other, err := d.user(otherID)
	if err != nil {
		return nil, err
	}
	u, err := d.user(uid)
	if err != nil {
		return nil, err
	}

	if u.Block(otherID) {
		u.DeliverMsg(proto.Info(fmt.Sprintf("You are now blocking %s.", other.Name())))
	} else {
		u.DeliverMsg(proto.Err(fmt.Sprintf("You are already blocking %s.", other.Name())))
	}
	return nil, nil
}

func (d *Dispatcher) doUnblock(uid, _ uint64, username string) ([]proto.Env, error) {
	key := names.Collapse(username)
	if key == "" {
		return errTo(uid, "That cannot be anyone's user name."), nil
	}

	otherID, ok := d.userNames[key]
	if !ok {
		return infoTo(uid, fmt.Sprintf("No users matching the pattern %q.", key)), nil
	}
	if otherID == uid {
		return errTo(uid, "You couldn't block yourself; you can't unblock yourself."), nil
	}

	other, err := d.user(otherID)
	if err != nil {
		return nil, err
	}
	u, err := d.user(uid)
	if err != nil {
		return nil, err
	}

	if u.Unblock(otherID) {
		u.DeliverMsg(proto.Info(fmt.Sprintf("You are no longer blocking %s.", other.Name())))
	} else {
		u.DeliverMsg(proto.Err(fmt.Sprintf("You are not blocking %s.", other.Name())))
	}
	return nil, nil
}

func (d *Dispatcher) doLogout(uid, rid uint64, salutation string) ([]proto.Env, error) {
	current, err := d.roomByID(rid)
	if err != nil {
		return nil, err
	}
	u, err := d.user(uid)
	if err != nil {
		return nil, err
	}

	current.Leave(uid)
	delete(d.userNames, u.Key())
	delete(d.users, uid)
	metrics.DecUser()
	u.Logout("You have logged out.")

	current.Enqueue(proto.NewEnv(proto.FromServer(), proto.ToRoom(rid), proto.Misc{
		What: "leave",
		Data: []string{u.Name(), salutation},
		Alt:  fmt.Sprintf("%s left: %s", u.Name(), salutation),
	}))
	return nil, nil
}

func (d *Dispatcher) doQuery(uid, rid uint64, q proto.Query) ([]proto.Env, error) {
	switch q.What {
	case "addr":
		u, err := d.user(uid)
		if err != nil {
			return nil, err
		}
		addr, alt := "???", "Your public address cannot be determined."
		if a, err := u.Addr(); err == nil {
			addr = a
			alt = fmt.Sprintf("Your public address is %s.", a)
		}
		u.DeliverMsg(proto.Misc{What: "addr", Data: []string{addr}, Alt: alt})
		return nil, nil

	case "roster":
		current, err := d.roomByID(rid)
		if err != nil {
			return nil, err
		}
		opID := current.Op()

		var others []string
		for _, memberID := range current.Users() {
			if memberID == opID {
				continue
			}
			if member, ok := d.users[memberID]; ok {
				others = append(others, member.Name())
			}
		}

		var data []string
		var alt string
		if opID == 0 {
			data = others
			alt = fmt.Sprintf("%s roster: %s", current.Name(), strings.Join(others, ", "))
		} else {
			opName := "[ ??? ]"
			if op, ok := d.users[opID]; ok {
				opName = op.Name()
			}
			data = append([]string{opName}, others...)
			alt = fmt.Sprintf("%s roster: %s (operator) %s",
				current.Name(), opName, strings.Join(others, ", "))
		}

		env := proto.NewEnv(proto.FromServer(), proto.ToUser(uid),
			proto.Misc{What: "roster", Data: data, Alt: alt})
		return []proto.Env{env}, nil

	case "who":
		pattern := names.Collapse(q.Arg)
		matches := matchKeys(pattern, d.userNames)
		if len(matches) == 0 {
			return infoTo(uid, fmt.Sprintf("No users matching the pattern %q.", pattern)), nil
		}
		env := proto.NewEnv(proto.FromServer(), proto.ToUser(uid), proto.Misc{
			What: "who",
			Data: matches,
			Alt:  "Matching names: " + strings.Join(matches, ", "),
		})
		return []proto.Env{env}, nil

	case "rooms":
		pattern := names.Collapse(q.Arg)
		matches := matchKeys(pattern, d.roomNames)
		if len(matches) == 0 {
			return infoTo(uid, fmt.Sprintf("No Rooms matching the pattern %q.", pattern)), nil
		}
		env := proto.NewEnv(proto.FromServer(), proto.ToUser(uid), proto.Misc{
			What: "rooms",
			Data: matches,
			Alt:  "Matching Rooms: " + strings.Join(matches, ", "),
		})
		return []proto.Env{env}, nil

	default:
		return errTo(uid, fmt.Sprintf("Unknown \"Query\" type: %q.", q.What)), nil
	}
}

func (d *Dispatcher) doOp(uid, rid uint64, op proto.Op) ([]proto.Env, error) {
	current, err := d.roomByID(rid)
	if err != nil {
		return nil, err
	}
	if current.Op() != uid {
		return errTo(uid, "You are not the operator of this Room."), nil
	}
	u, err := d.user(uid)
	if err != nil {
		return nil, err
	}

	switch op.Verb {
	case proto.OpOpen:
		if !current.Closed {
			return infoTo(uid, fmt.Sprintf("%s is already open.", current.Name())), nil
		}
		current.Closed = false
		env := proto.NewEnv(proto.FromServer(), proto.ToRoom(rid),
			proto.Info(fmt.Sprintf("%s has opened %s.", u.Name(), current.Name())))
		return []proto.Env{env}, nil

	case proto.OpClose:
		if current.Closed {
			return infoTo(uid, fmt.Sprintf("%s is already closed.", current.Name())), nil
		}
		current.Closed = true
		env := proto.NewEnv(proto.FromServer(), proto.ToRoom(rid),
			proto.Info(fmt.Sprintf("%s has closed %s.", u.Name(), current.Name())))
		return []proto.Env{env}, nil

	case proto.OpGive:
		return d.doOpGive(uid, current, op.Name)
	case proto.OpInvite:
		return d.doOpInvite(uid, current, op.Name)
	case proto.OpKick:
		return d.doOpKick(uid, rid, current, op.Name)
	default:
		return nil, fmt.Errorf("unhandled op verb %q", op.Verb)
	}
}

func (d *Dispatcher) doOpGive(uid uint64, current *room.Room, username string) ([]proto.Env, error) {
	key := names.Collapse(username)
	if key == "" {
		return errTo(uid, "That cannot be anyone's user name."), nil
	}
	otherID, ok := d.userNames[key]
	if !ok {
		return infoTo(uid, fmt.Sprintf("No users matching the pattern %q.", key)), nil
	}
	if otherID == uid {
		return infoTo(uid, "You are already the operator of this room."), nil
	}
	other, err := d.user(otherID)
	if err != nil {
		return nil, err
	}
	if !current.Contains(otherID) {
		return infoTo(uid, fmt.Sprintf("%s must be in the room to transfer ownership.", other.Name())), nil
	}

	current.SetOp(otherID)
	env := proto.NewEnv(proto.FromServer(), proto.ToRoom(current.ID()), proto.Misc{
		What: "new_op",
		Data: []string{other.Name(), current.Name()},
		Alt:  fmt.Sprintf("%s is now the operator of %s.", other.Name(), current.Name()),
	})
	return []proto.Env{env}, nil
}

func (d *Dispatcher) doOpInvite(uid uint64, current *room.Room, username string) ([]proto.Env, error) {
	key := names.Collapse(username)
	if key == "" {
		return infoTo(uid, "That cannot be anyone's user name."), nil
	}
	otherID, ok := d.userNames[key]
	if !ok {
		return infoTo(uid, fmt.Sprintf("No users matching the pattern %q.", key)), nil
	}
	if otherID == uid {
		return infoTo(uid, fmt.Sprintf("You are already allowed in %s.", current.Name())), nil
	}
	other, err := d.user(otherID)
	if err != nil {
		return nil, err
	}
	if current.IsInvited(otherID) {
		return infoTo(uid, fmt.Sprintf("%s has already been invited to %s.", other.Name(), current.Name())), nil
	}

	current.Invite(otherID)

	if current.Contains(otherID) {
		other.DeliverMsg(proto.Info(fmt.Sprintf(
			"You have been invited to return to %s even if it closes.", current.Name())))
		return infoTo(uid, fmt.Sprintf(
			"%s may now return to %s even when closed.", other.Name(), current.Name())), nil
	}
	other.DeliverMsg(proto.Info(fmt.Sprintf("You have been invited to join %s.", current.Name())))
	return infoTo(uid, fmt.Sprintf("You invite %s to join %s.", other.Name(), current.Name())), nil
}

func (d *Dispatcher) doOpKick(uid, rid uint64, current *room.Room, username string) ([]proto.Env, error) {
	key := names.Collapse(username)
	if key == "" {
		return infoTo(uid, "That cannot be anyone's user name."), nil
	}
	otherID, ok := d.userNames[key]
	if !ok {
		return infoTo(uid, fmt.Sprintf("No users matching the pattern %q.", key)), nil
	}
	if otherID == uid {
		return infoTo(uid, "You cannot kick yourself."), nil
	}
	target, err := d.user(otherID)
	if err != nil {
		return nil, err
	}
	if current.IsBanned(otherID) {
		return infoTo(uid, fmt.Sprintf("%s is already banned from %s.", target.Name(), current.Name())), nil
	}

	current.Ban(otherID)
	if !current.Contains(otherID) {
		return infoTo(uid, fmt.Sprintf("You have banned %s from %s.", target.Name(), current.Name())), nil
	}

	target.DeliverMsg(proto.Misc{
		What: "kick_you",
		Data: []string{current.Name()},
		Alt:  fmt.Sprintf("You have been kicked from %s.", current.Name()),
	})
	current.Leave(otherID)

	lobby, err := d.roomByID(lobbyID)
	if err != nil {
		return nil, err
	}
	lobby.Join(otherID)
	lobby.Enqueue(proto.NewEnv(proto.FromServer(), proto.ToRoom(lobbyID), proto.Misc{
		What: "join",
		Data: []string{target.Name(), lobby.Name()},
		Alt:  fmt.Sprintf("%s joined %s.", target.Name(), lobby.Name()),
	}))

	env := proto.NewEnv(proto.FromServer(), proto.ToRoom(rid), proto.Misc{
		What: "kick_other",
		Data: []string{target.Name(), current.Name()},
		Alt:  fmt.Sprintf("%s has been kicked from %s.", target.Name(), current.Name()),
	})
	return []proto.Env{env}, nil
}

// matchKeys returns the sorted index keys with the given prefix.
func matchKeys(prefix string, index map[string]uint64) []string {
	var matches []string
	for k := range index {
		if strings.HasPrefix(k, prefix) {
			matches = append(matches, k)
		}
	}
	slices.Sort(matches)
	return matches
}
