package graph

import (
	"context"
	"fmt"

	graphql "github.com/graph-gophers/graphql-go"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
	"github.com/DoyleJ11/planning-poker-backend/internal/eventbus"
)

// Room streams the current room first and then every committed change.
func (r *Resolver) Room(ctx context.Context, args struct{ RoomID graphql.ID }) (<-chan *RoomResolver, error) {
	sub, err := r.svc.SubscribeRoom(ctx, string(args.RoomID))
	if err != nil {
		return nil, r.fail("room", err)
	}
	out := make(chan *RoomResolver)
	go forward(ctx, r.log, sub, out, func(msg any) (*RoomResolver, bool) {
		room, ok := msg.(engine.Room)
		return &RoomResolver{r: room}, ok
	})
	return out, nil
}

func (r *Resolver) RoomChat(ctx context.Context, args struct{ RoomID graphql.ID }) (<-chan *ChatMessageResolver, error) {
	sub, err := r.svc.SubscribeChat(ctx, string(args.RoomID))
	if err != nil {
		return nil, r.fail("roomChat", err)
	}
	out := make(chan *ChatMessageResolver)
	go forward(ctx, r.log, sub, out, func(msg any) (*ChatMessageResolver, bool) {
		m, ok := msg.(engine.ChatMessage)
		return &ChatMessageResolver{m: m}, ok
	})
	return out, nil
}

func (r *Resolver) RoomEvents(ctx context.Context, args struct{ RoomID graphql.ID }) (<-chan *RoomEventResolver, error) {
	sub, err := r.svc.SubscribeEvents(ctx, string(args.RoomID))
	if err != nil {
		return nil, r.fail("roomEvents", err)
	}
	out := make(chan *RoomEventResolver)
	go forward(ctx, r.log, sub, out, func(msg any) (*RoomEventResolver, bool) {
		e, ok := msg.(engine.RoomEvent)
		return &RoomEventResolver{e: e}, ok
	})
	return out, nil
}

// forward copies sub into out until either side goes away. Payloads of the
// wrong type are logged and skipped; they never end the stream.
func forward[T any](ctx context.Context, log *zap.Logger, sub *eventbus.Subscription, out chan<- T, convert func(any) (T, bool)) {
	defer close(out)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			v, ok := convert(msg)
			if !ok {
				log.Warn("dropping unexpected payload",
					zap.String("room_id", sub.RoomID()),
					zap.String("channel", string(sub.Channel())),
					zap.String("type", fmt.Sprintf("%T", msg)))
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}
