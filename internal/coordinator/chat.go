package coordinator

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
)

type ChatInput struct {
	RoomID           string
	UserID           string
	Username         string
	Content          string
	FormattedContent *string
	ContentType      string
	Position         *engine.Position
}

// SendChatMessage appends a message to the room's chat and returns it as
// published, position included.
func (c *Coordinator) SendChatMessage(ctx context.Context, in ChatInput) (engine.ChatMessage, error) {
	if !c.limiter(in.RoomID, in.UserID).Allow() {
		return engine.ChatMessage{}, fmt.Errorf("%w: slow down", engine.ErrRateLimited)
	}

	res, err := c.mutate(ctx, in.RoomID, engine.Command{
		Type:    engine.CmdSendChat,
		ActorID: in.UserID,
		Message: engine.ChatMessage{
			ID:               c.newID(),
			RoomID:           in.RoomID,
			UserID:           in.UserID,
			Username:         in.Username,
			Content:          in.Content,
			FormattedContent: in.FormattedContent,
			ContentType:      in.ContentType,
			Position:         in.Position,
		},
	})
	if err != nil {
		return engine.ChatMessage{}, err
	}
	for _, e := range res.Events {
		if e.Type == engine.EvtChatMessageSent && e.Message != nil {
			return *e.Message, nil
		}
	}
	return engine.ChatMessage{}, fmt.Errorf("chat message in room %s was not recorded", in.RoomID)
}

func (c *Coordinator) limiter(roomID, userID string) *rate.Limiter {
	key := limiterKey{roomID: roomID, userID: userID}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(c.chatEvery, c.chatBurst)
		c.limiters[key] = l
	}
	return l
}
