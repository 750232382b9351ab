package engine

import (
	"fmt"
	"slices"
	"strings"
)

// authorize lets the owner through. A room without an owner accepts any of
// its members.
func authorize(r *Room, cmd Command) error {
	if cmd.System {
		return nil
	}
	if r.RoomOwnerID == "" {
		if cmd.ActorID != "" && r.HasUser(cmd.ActorID) {
			return nil
		}
		return fmt.Errorf("%w: %q is not a member of room %s", ErrForbidden, cmd.ActorID, r.ID)
	}
	if cmd.ActorID != r.RoomOwnerID {
		return fmt.Errorf("%w: only the room owner may do this", ErrForbidden)
	}
	return nil
}

func join(r *Room, cmd Command) ([]Event, error) {
	if cmd.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidArgument)
	}
	// Banned users are rejected before the roster is touched.
	if r.IsBanned(cmd.UserID) {
		return nil, fmt.Errorf("%w: user %s", ErrBanned, cmd.UserID)
	}
	username := strings.TrimSpace(cmd.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: missing username", ErrInvalidArgument)
	}

	var events []Event
	wasEmpty := len(r.Users) == 0

	if i := r.userIndex(cmd.UserID); i >= 0 {
		if r.Users[i].Username != username {
			r.Users[i].Username = username
			events = append(events, Event{Type: EvtUserRenamed, UserID: cmd.UserID})
		}
	} else {
		r.Users = append(r.Users, User{ID: cmd.UserID, Username: username})
		events = append(events, Event{Type: EvtUserJoined, UserID: cmd.UserID})
	}

	if name := strings.TrimSpace(cmd.RoomName); name != "" && r.Name == "" {
		r.Name = name
		events = append(events, Event{Type: EvtRoomRenamed})
	}

	if r.RoomOwnerID == "" {
		owner := ""
		switch {
		case cmd.OwnerID != "" && r.HasUser(cmd.OwnerID):
			owner = cmd.OwnerID
		case wasEmpty:
			owner = cmd.UserID
		}
		if owner != "" {
			r.RoomOwnerID = owner
			events = append(events, Event{Type: EvtOwnerChanged, UserID: owner})
		}
	}
	return events, nil
}

func leave(r *Room, cmd Command) ([]Event, error) {
	if !r.HasUser(cmd.UserID) {
		return nil, nil
	}
	return removeUser(r, cmd.UserID, Event{Type: EvtUserLeft, UserID: cmd.UserID}), nil
}

func kick(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	if cmd.UserID == cmd.ActorID {
		return nil, fmt.Errorf("%w: cannot kick yourself", ErrForbidden)
	}
	if !r.HasUser(cmd.UserID) {
		return nil, fmt.Errorf("%w: user %s is not in room %s", ErrNotFound, cmd.UserID, r.ID)
	}
	return removeUser(r, cmd.UserID, Event{Type: EvtUserKicked, UserID: cmd.UserID}), nil
}

func ban(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	if cmd.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidArgument)
	}
	if cmd.UserID == cmd.ActorID {
		return nil, fmt.Errorf("%w: cannot ban yourself", ErrForbidden)
	}
	if r.IsBanned(cmd.UserID) && !r.HasUser(cmd.UserID) {
		return nil, nil
	}
	if !r.IsBanned(cmd.UserID) {
		r.BannedUsers = append(r.BannedUsers, cmd.UserID)
	}
	banned := Event{Type: EvtUserBanned, UserID: cmd.UserID}
	if !r.HasUser(cmd.UserID) {
		return []Event{banned}, nil
	}
	return removeUser(r, cmd.UserID, banned), nil
}

func unban(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	i := slices.Index(r.BannedUsers, cmd.UserID)
	if i < 0 {
		return nil, nil
	}
	r.BannedUsers = slices.Delete(r.BannedUsers, i, i+1)
	return []Event{{Type: EvtUserUnbanned, UserID: cmd.UserID}}, nil
}

func setOwner(r *Room, cmd Command) ([]Event, error) {
	target := cmd.OwnerID
	if !cmd.System {
		switch {
		case r.RoomOwnerID != "" && cmd.ActorID == r.RoomOwnerID:
		case r.RoomOwnerID == "" && r.HasUser(cmd.ActorID) && (target == "" || target == cmd.ActorID):
		default:
			return nil, fmt.Errorf("%w: only the room owner may transfer ownership", ErrForbidden)
		}
	}
	if target != "" && !r.HasUser(target) {
		return nil, fmt.Errorf("%w: user %s is not in room %s", ErrNotFound, target, r.ID)
	}
	if target == r.RoomOwnerID {
		return nil, nil
	}
	r.RoomOwnerID = target
	return []Event{{Type: EvtOwnerChanged, UserID: target}}, nil
}

func renameUser(r *Room, cmd Command) ([]Event, error) {
	username := strings.TrimSpace(cmd.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: missing username", ErrInvalidArgument)
	}
	i := r.userIndex(cmd.UserID)
	if i < 0 || r.Users[i].Username == username {
		return nil, nil
	}
	r.Users[i].Username = username
	return []Event{{Type: EvtUserRenamed, UserID: cmd.UserID}}, nil
}

// removeUser drops id from the roster and the table. Ownership held by id
// passes to the longest-present remaining member, or is cleared.
func removeUser(r *Room, id string, cause Event) []Event {
	i := r.userIndex(id)
	r.Users = slices.Delete(r.Users, i, i+1)
	delete(r.Game.Table, id)

	events := []Event{cause}
	if r.RoomOwnerID == id {
		r.RoomOwnerID = ""
		if len(r.Users) > 0 {
			r.RoomOwnerID = r.Users[0].ID
		}
		events = append(events, Event{Type: EvtOwnerChanged, UserID: r.RoomOwnerID})
	}
	return events
}
