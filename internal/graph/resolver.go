package graph

import (
	"context"

	graphql "github.com/graph-gophers/graphql-go"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker-backend/internal/coordinator"
	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
)

// Resolver is the root resolver for queries, mutations and subscriptions.
type Resolver struct {
	svc *coordinator.Coordinator
	log *zap.Logger
}

func (r *Resolver) roomResult(op string, room engine.Room, err error) (*RoomResolver, error) {
	if err != nil {
		return nil, r.fail(op, err)
	}
	return &RoomResolver{r: room}, nil
}

// Queries

func (r *Resolver) RoomByID(ctx context.Context, args struct{ RoomID graphql.ID }) (*RoomResolver, error) {
	room, err := r.svc.RoomByID(ctx, string(args.RoomID))
	if err != nil {
		return nil, r.fail("roomById", err)
	}
	if room == nil {
		return nil, nil
	}
	return &RoomResolver{r: *room}, nil
}

// Mutations

func (r *Resolver) CreateRoom(ctx context.Context, args struct {
	RoomID *graphql.ID
	Name   *string
	Cards  []string
}) (*RoomResolver, error) {
	var id, name string
	if args.RoomID != nil {
		id = string(*args.RoomID)
	}
	if args.Name != nil {
		name = *args.Name
	}
	room, err := r.svc.CreateRoom(ctx, id, name, args.Cards)
	return r.roomResult("createRoom", room, err)
}

func (r *Resolver) CreateUser(ctx context.Context, args struct{ Username string }) (*UserResolver, error) {
	u, err := r.svc.CreateUser(ctx, args.Username)
	if err != nil {
		return nil, r.fail("createUser", err)
	}
	return &UserResolver{u: u}, nil
}

type UserInput struct {
	ID       graphql.ID
	Username string
	RoomName *string
}

func (r *Resolver) JoinRoom(ctx context.Context, args struct {
	RoomID      graphql.ID
	User        UserInput
	RoomOwnerID *graphql.ID
}) (*RoomResolver, error) {
	user := coordinator.JoinUser{ID: string(args.User.ID), Username: args.User.Username}
	if args.User.RoomName != nil {
		user.RoomName = *args.User.RoomName
	}
	var owner string
	if args.RoomOwnerID != nil {
		owner = string(*args.RoomOwnerID)
	}
	room, err := r.svc.JoinRoom(ctx, string(args.RoomID), user, owner)
	return r.roomResult("joinRoom", room, err)
}

type UpdateDeckInput struct {
	RoomID graphql.ID
	Cards  []string
}

func (r *Resolver) UpdateDeck(ctx context.Context, args struct{ Input UpdateDeckInput }) (*RoomResolver, error) {
	room, err := r.svc.UpdateDeck(ctx, string(args.Input.RoomID), ViewerFrom(ctx), args.Input.Cards)
	return r.roomResult("updateDeck", room, err)
}

func (r *Resolver) RenameRoom(ctx context.Context, args struct {
	RoomID graphql.ID
	Name   *string
}) (*RoomResolver, error) {
	var name string
	if args.Name != nil {
		name = *args.Name
	}
	room, err := r.svc.RenameRoom(ctx, string(args.RoomID), ViewerFrom(ctx), name)
	return r.roomResult("renameRoom", room, err)
}

type toggleArgs struct {
	RoomID  graphql.ID
	Enabled bool
}

func (r *Resolver) ToggleCountdownOption(ctx context.Context, args toggleArgs) (*RoomResolver, error) {
	room, err := r.svc.ToggleCountdownOption(ctx, string(args.RoomID), ViewerFrom(ctx), args.Enabled)
	return r.roomResult("toggleCountdownOption", room, err)
}

func (r *Resolver) ToggleConfirmNewGame(ctx context.Context, args toggleArgs) (*RoomResolver, error) {
	room, err := r.svc.ToggleConfirmNewGame(ctx, string(args.RoomID), ViewerFrom(ctx), args.Enabled)
	return r.roomResult("toggleConfirmNewGame", room, err)
}

type roomUserArgs struct {
	RoomID graphql.ID
	UserID *graphql.ID
}

func (r *Resolver) StartRevealCountdown(ctx context.Context, args roomUserArgs) (*RoomResolver, error) {
	room, err := r.svc.StartRevealCountdown(ctx, string(args.RoomID), actor(ctx, args.UserID))
	return r.roomResult("startRevealCountdown", room, err)
}

func (r *Resolver) CancelRevealCountdown(ctx context.Context, args roomUserArgs) (*RoomResolver, error) {
	room, err := r.svc.CancelRevealCountdown(ctx, string(args.RoomID), actor(ctx, args.UserID))
	return r.roomResult("cancelRevealCountdown", room, err)
}

// SetRoomOwner: userId names the new owner, the viewer is the caller.
func (r *Resolver) SetRoomOwner(ctx context.Context, args roomUserArgs) (*RoomResolver, error) {
	var owner string
	if args.UserID != nil {
		owner = string(*args.UserID)
	}
	room, err := r.svc.SetRoomOwner(ctx, string(args.RoomID), ViewerFrom(ctx), owner)
	return r.roomResult("setRoomOwner", room, err)
}

func (r *Resolver) EditUser(ctx context.Context, args struct {
	UserID   graphql.ID
	Username string
}) (*UserResolver, error) {
	u, err := r.svc.EditUser(ctx, string(args.UserID), args.Username)
	if err != nil {
		return nil, r.fail("editUser", err)
	}
	return &UserResolver{u: u}, nil
}

func (r *Resolver) Logout(ctx context.Context, args struct{ UserID graphql.ID }) (bool, error) {
	ok, err := r.svc.Logout(ctx, string(args.UserID))
	if err != nil {
		return false, r.fail("logout", err)
	}
	return ok, nil
}

func (r *Resolver) PickCard(ctx context.Context, args struct {
	UserID graphql.ID
	RoomID graphql.ID
	Card   string
}) (*RoomResolver, error) {
	room, err := r.svc.PickCard(ctx, string(args.UserID), string(args.RoomID), args.Card)
	return r.roomResult("pickCard", room, err)
}

type roomArgs struct{ RoomID graphql.ID }

func (r *Resolver) ShowCards(ctx context.Context, args roomArgs) (*RoomResolver, error) {
	room, err := r.svc.ShowCards(ctx, string(args.RoomID), ViewerFrom(ctx))
	return r.roomResult("showCards", room, err)
}

func (r *Resolver) ResetGame(ctx context.Context, args roomArgs) (*RoomResolver, error) {
	room, err := r.svc.ResetGame(ctx, string(args.RoomID), ViewerFrom(ctx))
	return r.roomResult("resetGame", room, err)
}

type targetArgs struct {
	RoomID       graphql.ID
	TargetUserID graphql.ID
}

func (r *Resolver) KickUser(ctx context.Context, args targetArgs) (*RoomResolver, error) {
	room, err := r.svc.KickUser(ctx, string(args.RoomID), ViewerFrom(ctx), string(args.TargetUserID))
	return r.roomResult("kickUser", room, err)
}

func (r *Resolver) BanUser(ctx context.Context, args targetArgs) (*RoomResolver, error) {
	room, err := r.svc.BanUser(ctx, string(args.RoomID), ViewerFrom(ctx), string(args.TargetUserID))
	return r.roomResult("banUser", room, err)
}

func (r *Resolver) UnbanUser(ctx context.Context, args targetArgs) (*RoomResolver, error) {
	room, err := r.svc.UnbanUser(ctx, string(args.RoomID), ViewerFrom(ctx), string(args.TargetUserID))
	return r.roomResult("unbanUser", room, err)
}

type PositionInput struct {
	X float64
	Y float64
}

type ChatMessageInput struct {
	RoomID           graphql.ID
	UserID           graphql.ID
	Username         string
	Content          string
	FormattedContent *string
	ContentType      string
	Position         *PositionInput
}

func (r *Resolver) SendChatMessage(ctx context.Context, args struct{ Input ChatMessageInput }) (*ChatMessageResolver, error) {
	in := coordinator.ChatInput{
		RoomID:           string(args.Input.RoomID),
		UserID:           string(args.Input.UserID),
		Username:         args.Input.Username,
		Content:          args.Input.Content,
		FormattedContent: args.Input.FormattedContent,
		ContentType:      args.Input.ContentType,
	}
	if p := args.Input.Position; p != nil {
		in.Position = &engine.Position{X: p.X, Y: p.Y}
	}
	msg, err := r.svc.SendChatMessage(ctx, in)
	if err != nil {
		return nil, r.fail("sendChatMessage", err)
	}
	return &ChatMessageResolver{m: msg}, nil
}
