package graph

import (
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timestampLayout) }

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optID(s string) *graphql.ID {
	if s == "" {
		return nil
	}
	id := graphql.ID(s)
	return &id
}

type RoomResolver struct{ r engine.Room }

func (r *RoomResolver) ID() graphql.ID           { return graphql.ID(r.r.ID) }
func (r *RoomResolver) Name() *string            { return optString(r.r.Name) }
func (r *RoomResolver) RoomOwnerID() *graphql.ID { return optID(r.r.RoomOwnerID) }
func (r *RoomResolver) CountdownEnabled() bool   { return r.r.CountdownEnabled }
func (r *RoomResolver) RevealStage() string      { return string(r.r.RevealStage) }
func (r *RoomResolver) ConfirmNewGame() bool     { return r.r.ConfirmNewGame }
func (r *RoomResolver) IsGameOver() bool         { return r.r.IsGameOver() }
func (r *RoomResolver) CreatedAt() string        { return formatTime(r.r.CreatedAt) }
func (r *RoomResolver) UpdatedAt() string        { return formatTime(r.r.UpdatedAt) }

func (r *RoomResolver) Users() []*UserResolver {
	out := make([]*UserResolver, len(r.r.Users))
	for i, u := range r.r.Users {
		out[i] = &UserResolver{u: u}
	}
	return out
}

func (r *RoomResolver) BannedUsers() []graphql.ID {
	out := make([]graphql.ID, len(r.r.BannedUsers))
	for i, id := range r.r.BannedUsers {
		out[i] = graphql.ID(id)
	}
	return out
}

func (r *RoomResolver) Deck() *DeckResolver { return &DeckResolver{d: r.r.Deck} }

func (r *RoomResolver) Game() *GameResolver { return &GameResolver{r: r.r} }

// CountdownValue is only set while a countdown runs.
func (r *RoomResolver) CountdownValue() *int32 {
	if r.r.RevealStage != engine.RevealCountdown {
		return nil
	}
	v := int32(r.r.CountdownValue)
	return &v
}

func (r *RoomResolver) ChatHistory() []*ChatMessageResolver {
	out := make([]*ChatMessageResolver, len(r.r.ChatHistory))
	for i, m := range r.r.ChatHistory {
		out[i] = &ChatMessageResolver{m: m}
	}
	return out
}

func (r *RoomResolver) VoteAverage() *float64 {
	avg, ok := r.r.VoteAverage()
	if !ok {
		return nil
	}
	return &avg
}

type UserResolver struct{ u engine.User }

func (r *UserResolver) ID() graphql.ID          { return graphql.ID(r.u.ID) }
func (r *UserResolver) Username() string        { return r.u.Username }
func (r *UserResolver) LastCardPicked() *string { return r.u.LastCardPicked }
func (r *UserResolver) LastCardValue() *float64 { return r.u.LastCardValue }

type DeckResolver struct{ d engine.Deck }

func (r *DeckResolver) ID() graphql.ID  { return graphql.ID(r.d.ID) }
func (r *DeckResolver) Cards() []string { return r.d.Cards }

type GameResolver struct{ r engine.Room }

func (r *GameResolver) ID() graphql.ID { return graphql.ID(r.r.Game.ID) }

// Table lists the users that have picked, in roster order.
func (r *GameResolver) Table() []*UserCardResolver {
	cards := r.r.Table()
	out := make([]*UserCardResolver, len(cards))
	for i, c := range cards {
		out[i] = &UserCardResolver{c: c}
	}
	return out
}

type UserCardResolver struct{ c engine.UserCard }

func (r *UserCardResolver) UserID() graphql.ID { return graphql.ID(r.c.UserID) }
func (r *UserCardResolver) Card() *string      { return r.c.Card }

type PositionResolver struct{ p engine.Position }

func (r *PositionResolver) X() float64 { return r.p.X }
func (r *PositionResolver) Y() float64 { return r.p.Y }

type ChatMessageResolver struct{ m engine.ChatMessage }

func (r *ChatMessageResolver) ID() graphql.ID            { return graphql.ID(r.m.ID) }
func (r *ChatMessageResolver) RoomID() graphql.ID        { return graphql.ID(r.m.RoomID) }
func (r *ChatMessageResolver) UserID() graphql.ID        { return graphql.ID(r.m.UserID) }
func (r *ChatMessageResolver) Username() string          { return r.m.Username }
func (r *ChatMessageResolver) Content() string           { return r.m.Content }
func (r *ChatMessageResolver) FormattedContent() *string { return r.m.FormattedContent }
func (r *ChatMessageResolver) ContentType() string       { return r.m.ContentType }
func (r *ChatMessageResolver) Timestamp() string         { return formatTime(r.m.Timestamp) }

func (r *ChatMessageResolver) Position() *PositionResolver {
	if r.m.Position == nil {
		return nil
	}
	return &PositionResolver{p: *r.m.Position}
}

type RoomEventResolver struct{ e engine.RoomEvent }

func (r *RoomEventResolver) RoomID() graphql.ID        { return graphql.ID(r.e.RoomID) }
func (r *RoomEventResolver) EventType() string         { return string(r.e.EventType) }
func (r *RoomEventResolver) TargetUserID() *graphql.ID { return optID(r.e.TargetUserID) }
