package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
	"github.com/DoyleJ11/planning-poker-backend/internal/eventbus"
)

// CreateRoom registers a new room. An empty roomID gets a fresh uuid.
func (c *Coordinator) CreateRoom(ctx context.Context, roomID, name string, cards []string) (engine.Room, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		roomID = c.newID()
	} else if _, err := c.repo.LoadRoom(ctx, roomID, 1); err == nil {
		return engine.Room{}, fmt.Errorf("%w: room %s", engine.ErrAlreadyExists, roomID)
	} else if !errors.Is(err, engine.ErrNotFound) {
		return engine.Room{}, err
	}

	room := engine.NewRoom(roomID, name, cards, c.now())
	room.CountdownFrom = c.countdownFrom
	room.ChatRetention = c.retention

	if _, err := c.hub.Create(ctx, room); err != nil {
		return engine.Room{}, err
	}
	if err := c.repo.SaveRoom(ctx, room); err != nil {
		c.log.Error("failed to save new room", zap.String("room_id", roomID), zap.Error(err))
	}
	c.log.Info("room created", zap.String("room_id", roomID), zap.Int("cards", len(room.Deck.Cards)))
	return room, nil
}

// RoomByID returns nil when the room does not exist.
func (c *Coordinator) RoomByID(ctx context.Context, roomID string) (*engine.Room, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	lb, err := c.lobbyFor(ctx, roomID)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := lb.View(ctx)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v.State, nil
}

type JoinUser struct {
	ID       string
	Username string
	RoomName string
}

// JoinRoom adds user to the room, or refreshes their username when they are
// already in it.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID string, user JoinUser, roomOwnerID string) (engine.Room, error) {
	room, err := c.mutateRoom(ctx, roomID, engine.Command{
		Type:     engine.CmdJoin,
		ActorID:  user.ID,
		UserID:   user.ID,
		Username: user.Username,
		RoomName: user.RoomName,
		OwnerID:  roomOwnerID,
	})
	if err != nil {
		return engine.Room{}, err
	}
	if u, ok := room.User(user.ID); ok {
		c.remember(u.ID, u.Username)
	}
	return room, nil
}

func (c *Coordinator) UpdateDeck(ctx context.Context, roomID, actorID string, cards []string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdUpdateDeck, ActorID: actorID, Cards: cards})
}

func (c *Coordinator) RenameRoom(ctx context.Context, roomID, actorID, name string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdRenameRoom, ActorID: actorID, Name: name})
}

func (c *Coordinator) ToggleCountdownOption(ctx context.Context, roomID, actorID string, enabled bool) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdToggleCountdown, ActorID: actorID, Enabled: enabled})
}

func (c *Coordinator) ToggleConfirmNewGame(ctx context.Context, roomID, actorID string, enabled bool) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdToggleConfirmNewGame, ActorID: actorID, Enabled: enabled})
}

func (c *Coordinator) StartRevealCountdown(ctx context.Context, roomID, actorID string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdStartCountdown, ActorID: actorID})
}

func (c *Coordinator) CancelRevealCountdown(ctx context.Context, roomID, actorID string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdCancelCountdown, ActorID: actorID})
}

// SetRoomOwner hands the room to ownerID, or vacates it when ownerID is empty.
func (c *Coordinator) SetRoomOwner(ctx context.Context, roomID, actorID, ownerID string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdSetOwner, ActorID: actorID, OwnerID: ownerID})
}

func (c *Coordinator) PickCard(ctx context.Context, userID, roomID, card string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdPickCard, ActorID: userID, UserID: userID, Card: card})
}

func (c *Coordinator) ShowCards(ctx context.Context, roomID, actorID string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdShowCards, ActorID: actorID})
}

func (c *Coordinator) ResetGame(ctx context.Context, roomID, actorID string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdResetGame, ActorID: actorID})
}

func (c *Coordinator) KickUser(ctx context.Context, roomID, actorID, targetUserID string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdKick, ActorID: actorID, UserID: targetUserID})
}

func (c *Coordinator) BanUser(ctx context.Context, roomID, actorID, targetUserID string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdBan, ActorID: actorID, UserID: targetUserID})
}

func (c *Coordinator) UnbanUser(ctx context.Context, roomID, actorID, targetUserID string) (engine.Room, error) {
	return c.mutateRoom(ctx, roomID, engine.Command{Type: engine.CmdUnban, ActorID: actorID, UserID: targetUserID})
}

// Subscribe attaches to one channel of roomID. Room subscribers receive the
// current snapshot first.
func (c *Coordinator) Subscribe(ctx context.Context, roomID string, channel eventbus.Channel) (*eventbus.Subscription, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	lb, err := c.lobbyFor(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return lb.Subscribe(ctx, channel)
}

func (c *Coordinator) SubscribeRoom(ctx context.Context, roomID string) (*eventbus.Subscription, error) {
	return c.Subscribe(ctx, roomID, eventbus.ChannelRoom)
}

func (c *Coordinator) SubscribeChat(ctx context.Context, roomID string) (*eventbus.Subscription, error) {
	return c.Subscribe(ctx, roomID, eventbus.ChannelChat)
}

func (c *Coordinator) SubscribeEvents(ctx context.Context, roomID string) (*eventbus.Subscription, error) {
	return c.Subscribe(ctx, roomID, eventbus.ChannelEvents)
}
