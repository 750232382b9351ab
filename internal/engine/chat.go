package engine

import (
	"fmt"
	"strings"
)

const DefaultContentType = "text"

// sendChat appends to the room's chat log, keeping at most ChatRetention
// messages. The published message keeps its position; the stored copy does not.
func sendChat(r *Room, cmd Command) ([]Event, error) {
	msg := cmd.Message.Clone()
	sender, ok := r.User(msg.UserID)
	if !ok {
		return nil, fmt.Errorf("%w: user %s is not in room %s", ErrNotFound, msg.UserID, r.ID)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidArgument)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("%w: missing message id", ErrInvalidArgument)
	}

	msg.RoomID = r.ID
	if strings.TrimSpace(msg.Username) == "" {
		msg.Username = sender.Username
	}
	if msg.ContentType == "" {
		msg.ContentType = DefaultContentType
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = cmd.At
	}

	stored := msg.Clone()
	stored.Position = nil
	r.ChatHistory = append(r.ChatHistory, stored)
	if limit := r.ChatRetention; limit > 0 && len(r.ChatHistory) > limit {
		r.ChatHistory = append([]ChatMessage(nil), r.ChatHistory[len(r.ChatHistory)-limit:]...)
	}
	return []Event{{Type: EvtChatMessageSent, UserID: msg.UserID, Message: &msg}}, nil
}
